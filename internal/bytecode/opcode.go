/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
type Opcode uint8

const (
	OpInvalid Opcode = iota

	OpText          // Show text: A = speaker string index (0 = none), B = text index
	OpJump          // Continue at instruction A
	OpChoice        // Offer choice-set B, store the pick into string A
	OpTrigger       // Invoke host trigger named by string A
	OpEnd           // Stop; idempotent
	OpEvalCondition // Evaluate Cond into the condition flag
	OpIf            // Flag true: next instruction. Flag false: skip A instructions after this one.
)

var opcodeNames = [...]string{
	OpInvalid:       "INVALID",
	OpText:          "TEXT",
	OpJump:          "JUMP",
	OpChoice:        "CHOICE",
	OpTrigger:       "TRIGGER",
	OpEnd:           "END",
	OpEvalCondition: "EVAL",
	OpIf:            "IF",
}

func (op Opcode) String() string {
	if int(op) < len(opcodeNames) {
		return opcodeNames[op]
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(op))
}

// Valid reports whether op is a defined, non-zero opcode.
func (op Opcode) Valid() bool { return op > OpInvalid && op <= OpIf }

// OperandKind tags a condition operand.
type OperandKind uint8

const (
	OperandGlobal OperandKind = iota // Index names a variable in the strings table
	OperandBool
	OperandString // Index holds the literal in the strings table
	OperandInt
)

// Operand is one side of a compiled condition.
type Operand struct {
	Kind  OperandKind
	Index uint32
	Bool  bool
	Int   int32
}

// Compare selects how a Condition combines its operands.
type Compare uint8

const (
	CompareNone Compare = iota // truthiness of Left
	CompareEq
	CompareNotEq
)

// Condition is the payload of OpEvalCondition.
type Condition struct {
	Left  Operand
	Cmp   Compare
	Right Operand
}

// Instruction is one fixed-shape bytecode instruction. Only OpEvalCondition
// uses Cond.
type Instruction struct {
	Op   Opcode
	A    uint32
	B    uint32
	Cond Condition
}
