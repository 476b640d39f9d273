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
	"database/sql"
	"errors"
	"time"
)

// language=SQL
// dialect=SQLite
const insertSourceSnapshotSQL = `INSERT INTO source_snapshots(path, ts, text) VALUES (?, ?, ?)`

// language=SQL
// dialect=SQLite
const selectLatestSourceSnapshotSQL = `SELECT ts, text FROM source_snapshots WHERE path=? ORDER BY ts DESC, id DESC LIMIT 1`

// language=SQL
// dialect=SQLite
const listSourceSnapshotsSQL = `SELECT ts, text FROM source_snapshots WHERE path=? ORDER BY ts DESC, id DESC LIMIT ?`

// language=SQL
// dialect=SQLite
const pruneOldSourceSnapshotsSQL = `DELETE FROM source_snapshots WHERE path=? AND id NOT IN (
	SELECT id FROM source_snapshots WHERE path=? ORDER BY ts DESC, id DESC LIMIT ?
)`

// SourceSnapshot is one saved revision of a script's source.
type SourceSnapshot struct {
	TS   time.Time
	Text string
}

// SaveSourceSnapshot records the text of the script at path (manifest-relative).
// The index database is derived; this history lets `drs build` report what
// changed since the last build, it is not canonical storage.
func SaveSourceSnapshot(ctx context.Context, wh *WorkspaceHandle, path, text string, ts time.Time) error {
	if wh == nil {
		return errors.New("nil WorkspaceHandle")
	}
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	_, err = db.ExecContext(ctx, insertSourceSnapshotSQL, path, ts.UTC().Format(stampLayout), text)
	return err
}

// LatestSourceSnapshot returns the newest snapshot of path; ok is false when there is none.
func LatestSourceSnapshot(ctx context.Context, wh *WorkspaceHandle, path string) (snap SourceSnapshot, ok bool, err error) {
	if wh == nil {
		return SourceSnapshot{}, false, errors.New("nil WorkspaceHandle")
	}
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return SourceSnapshot{}, false, err
	}
	defer func() { _ = db.Close() }()
	var tsStr string
	err = db.QueryRowContext(ctx, selectLatestSourceSnapshotSQL, path).Scan(&tsStr, &snap.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return SourceSnapshot{}, false, nil
	}
	if err != nil {
		return SourceSnapshot{}, false, err
	}
	snap.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
	return snap, true, nil
}

// ListSourceSnapshots returns up to limit most recent snapshots of path.
func ListSourceSnapshots(ctx context.Context, wh *WorkspaceHandle, path string, limit int) ([]SourceSnapshot, error) {
	if wh == nil {
		return nil, errors.New("nil WorkspaceHandle")
	}
	if limit <= 0 {
		limit = 50
	}
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()
	rows, err := db.QueryContext(ctx, listSourceSnapshotsSQL, path, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []SourceSnapshot
	for rows.Next() {
		var tsStr string
		var s SourceSnapshot
		if err := rows.Scan(&tsStr, &s.Text); err != nil {
			return nil, err
		}
		s.TS, _ = time.Parse(time.RFC3339Nano, tsStr)
		out = append(out, s)
	}
	return out, rows.Err()
}

// PruneSourceSnapshots keeps at most keepLast snapshots of path and deletes older ones.
func PruneSourceSnapshots(ctx context.Context, wh *WorkspaceHandle, path string, keepLast int) (int64, error) {
	if wh == nil {
		return 0, errors.New("nil WorkspaceHandle")
	}
	if keepLast <= 0 {
		return 0, nil
	}
	db, err := InitOrOpenIndex(wh.Root)
	if err != nil {
		return 0, err
	}
	defer func() { _ = db.Close() }()
	res, err := db.ExecContext(ctx, pruneOldSourceSnapshotsSQL, path, path, keepLast)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
