// Package store persists call lifecycle records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var ErrNotFound = core.ErrCallNotFound

const schema = `
CREATE TABLE IF NOT EXISTS calls (
	id         TEXT PRIMARY KEY,
	initiator  TEXT NOT NULL,
	kind       TEXT NOT NULL DEFAULT '',
	status     TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	ended_at   INTEGER
);
CREATE TABLE IF NOT EXISTS call_participants (
	call_id     TEXT NOT NULL REFERENCES calls(id) ON DELETE CASCADE,
	participant TEXT NOT NULL,
	status      TEXT NOT NULL,
	updated_at  INTEGER NOT NULL,
	PRIMARY KEY (call_id, participant)
);`

// SQLiteStore implements core.CallStore.
type SQLiteStore struct {
	db      *sql.DB
	builder squirrel.StatementBuilderType
}

// Open opens (or creates) the database at path. ":memory:" keeps it in process.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init schema: %w", err)
		}
	}
	log.Info().Str("module", "store").Str("path", path).Msg("call store ready")
	return &SQLiteStore{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateCall inserts the call with its participants, replacing an earlier record with the same id.
func (s *SQLiteStore) CreateCall(ctx context.Context, call domain.CallRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := s.builder.Insert("calls").
		Columns("id", "initiator", "kind", "status", "started_at", "ended_at").
		Values(call.ID, call.Initiator, call.Kind, call.Status, millis(call.StartedAt), nullMillis(call.EndedAt)).
		Suffix(`ON CONFLICT(id) DO UPDATE SET
			initiator = excluded.initiator,
			kind = excluded.kind,
			status = excluded.status,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at`).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert call %s: %w", call.ID, err)
	}

	for _, p := range call.Participants {
		if err := s.upsertParticipant(ctx, tx, call.ID, p.ID, p.Status, p.UpdatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpdateCallStatus sets the call status; CallEnded also stamps ended_at.
func (s *SQLiteStore) UpdateCallStatus(ctx context.Context, id domain.CallID, status domain.CallStatus, at time.Time) error {
	upd := s.builder.Update("calls").
		Set("status", status).
		Where(squirrel.Eq{"id": id})
	if status == domain.CallEnded {
		upd = upd.Set("ended_at", millis(at))
	}
	query, args, err := upd.ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update call %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) SetParticipantStatus(ctx context.Context, id domain.CallID, participant domain.ParticipantID, status domain.ParticipantStatus, at time.Time) error {
	var exists int
	query, args, err := s.builder.Select("COUNT(*)").From("calls").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s.upsertParticipant(ctx, s.db, id, participant, status, at)
}

func (s *SQLiteStore) GetCall(ctx context.Context, id domain.CallID) (*domain.CallRecord, error) {
	query, args, err := s.builder.
		Select("id", "initiator", "kind", "status", "started_at", "ended_at").
		From("calls").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}

	var (
		rec     domain.CallRecord
		started int64
		ended   sql.NullInt64
	)
	err = s.db.QueryRowContext(ctx, query, args...).
		Scan(&rec.ID, &rec.Initiator, &rec.Kind, &rec.Status, &started, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	rec.StartedAt = time.UnixMilli(started).UTC()
	if ended.Valid {
		t := time.UnixMilli(ended.Int64).UTC()
		rec.EndedAt = &t
	}

	query, args, err = s.builder.
		Select("participant", "status", "updated_at").
		From("call_participants").
		Where(squirrel.Eq{"call_id": id}).
		OrderBy("rowid").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p  domain.ParticipantRecord
			at int64
		)
		if err := rows.Scan(&p.ID, &p.Status, &at); err != nil {
			return nil, err
		}
		p.UpdatedAt = time.UnixMilli(at).UTC()
		rec.Participants = append(rec.Participants, p)
	}
	return &rec, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) upsertParticipant(ctx context.Context, db execer, id domain.CallID, participant domain.ParticipantID, status domain.ParticipantStatus, at time.Time) error {
	query, args, err := s.builder.Insert("call_participants").
		Columns("call_id", "participant", "status", "updated_at").
		Values(id, participant, status, millis(at)).
		Suffix("ON CONFLICT(call_id, participant) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("set %s status in %s: %w", participant, id, err)
	}
	return nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
