/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"testing"
	"time"
)

func TestSourceSnapshots(t *testing.T) {
	wh := newWorkspace(t, nil)
	ctx := context.Background()
	if _, ok, err := LatestSourceSnapshot(ctx, wh, "a.drs"); ok || err != nil {
		t.Fatalf("empty history: ok=%v err=%v", ok, err)
	}
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, txt := range []string{"v1", "v2", "v3"} {
		if err := SaveSourceSnapshot(ctx, wh, "a.drs", txt, base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("SaveSourceSnapshot: %v", err)
		}
	}
	if err := SaveSourceSnapshot(ctx, wh, "b.drs", "other", base.Add(time.Hour)); err != nil {
		t.Fatalf("SaveSourceSnapshot: %v", err)
	}
	snap, ok, err := LatestSourceSnapshot(ctx, wh, "a.drs")
	if err != nil || !ok || snap.Text != "v3" || !snap.TS.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("latest = %+v, %v, %v", snap, ok, err)
	}
	list, err := ListSourceSnapshots(ctx, wh, "a.drs", 2)
	if err != nil || len(list) != 2 || list[0].Text != "v3" || list[1].Text != "v2" {
		t.Fatalf("list = %+v, %v", list, err)
	}
	n, err := PruneSourceSnapshots(ctx, wh, "a.drs", 1)
	if err != nil || n != 2 {
		t.Fatalf("prune removed %d, %v; want 2", n, err)
	}
	if list, _ := ListSourceSnapshots(ctx, wh, "b.drs", 0); len(list) != 1 {
		t.Fatalf("prune touched another path: %+v", list)
	}
}
