// Package store keeps the call log in SQLite. It is write-mostly: the
// signaling core records call starts and ends, only the admin API reads it.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/Callbridge/internal/core"
	"github.com/dkeye/Callbridge/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type CallLog struct {
	db *sql.DB
	mu sync.Mutex
}

var (
	_ core.CallRecorder = (*CallLog)(nil)
	_ core.CallHistory  = (*CallLog)(nil)
)

// Open opens (or creates) the call log database at path.
func Open(path string) (*CallLog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open call log: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("call log %q: %w", pragma, err)
		}
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS calls (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT NOT NULL,
		caller      TEXT NOT NULL,
		answerer    TEXT NOT NULL,
		started_at  INTEGER NOT NULL,
		ended_at    INTEGER,
		end_reason  TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls table: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS calls_session ON calls (session_id, ended_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create calls index: %w", err)
	}

	log.Info().Str("module", "store").Str("path", path).Msg("call log opened")
	return &CallLog{db: db}, nil
}

func (s *CallLog) Close() error {
	return s.db.Close()
}

// CallStarted inserts an open row for the session.
func (s *CallLog) CallStarted(ctx context.Context, rec core.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (session_id, caller, answerer, started_at) VALUES (?, ?, ?, ?)`,
		string(rec.SessionID), string(rec.Caller), string(rec.Answerer), rec.StartedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert call %s: %w", rec.SessionID, err)
	}
	return nil
}

// CallEnded closes the latest open row of the session. A session without an
// open row is not an error: the server may have restarted in between.
func (s *CallLog) CallEnded(ctx context.Context, id domain.SessionID, endedAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE calls SET ended_at = ?, end_reason = ?
		WHERE id = (SELECT MAX(id) FROM calls WHERE session_id = ? AND ended_at IS NULL)`,
		endedAt.UnixMilli(), reason, string(id))
	if err != nil {
		return fmt.Errorf("close call %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		log.Debug().Str("module", "store").Str("session", string(id)).Msg("no open call row")
	}
	return nil
}

// Recent returns up to limit calls, newest first.
func (s *CallLog) Recent(ctx context.Context, limit int) ([]core.CallRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, caller, answerer, started_at, ended_at, end_reason
		FROM calls ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query calls: %w", err)
	}
	defer rows.Close()

	result := make([]core.CallRecord, 0)
	for rows.Next() {
		var (
			r         core.CallRecord
			sid, a, b string
			started   int64
			ended     sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &sid, &a, &b, &started, &ended, &r.EndReason); err != nil {
			return nil, fmt.Errorf("scan call: %w", err)
		}
		r.SessionID = domain.SessionID(sid)
		r.Caller = domain.UserID(a)
		r.Answerer = domain.UserID(b)
		r.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			t := time.UnixMilli(ended.Int64)
			r.EndedAt = &t
		}
		result = append(result, r)
	}
	return result, rows.Err()
}
