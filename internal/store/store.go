// Package store persists simulation records to SQLite so finished simulations
// survive restarts and can be browsed as history.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"simtracker/internal/apperrors"
	"simtracker/internal/simulation"
	"strings"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

// Store reads and writes simulation records. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Filter narrows List results. Nil fields are ignored.
type Filter struct {
	Key          string
	Done         *bool
	Cancelled    *bool
	Failed       *bool
	StartedAfter time.Time
	EndedBefore  time.Time
	Limit        int
}

// New opens (or creates) the database at path and applies the schema.
func New(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS simulations (
		sim_id        TEXT PRIMARY KEY,
		name          TEXT NOT NULL DEFAULT '',
		sim_key       TEXT NOT NULL DEFAULT '',
		created       TEXT NOT NULL,
		started       TEXT,
		ended         TEXT,
		is_done       INTEGER NOT NULL DEFAULT 0,
		cancelled     INTEGER NOT NULL DEFAULT 0,
		failed        INTEGER NOT NULL DEFAULT 0,
		force_stopped INTEGER NOT NULL DEFAULT 0,
		error_details TEXT NOT NULL DEFAULT '[]',
		config        TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_simulations_created ON simulations(created);
	CREATE INDEX IF NOT EXISTS idx_simulations_key ON simulations(sim_key);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts or updates the row for info.ID.
func (s *Store) Record(ctx context.Context, info simulation.Info) error {
	cfg, err := json.Marshal(info.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	details := info.ErrorDetails
	if details == nil {
		details = []string{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("marshal error details: %w", err)
	}

	return retryOnContention(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO simulations
			 (sim_id, name, sim_key, created, started, ended, is_done, cancelled, failed, force_stopped, error_details, config)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(sim_id) DO UPDATE SET
			   name = excluded.name,
			   sim_key = excluded.sim_key,
			   started = excluded.started,
			   ended = excluded.ended,
			   is_done = excluded.is_done,
			   cancelled = excluded.cancelled,
			   failed = excluded.failed,
			   force_stopped = excluded.force_stopped,
			   error_details = excluded.error_details,
			   config = excluded.config`,
			info.ID.String(), info.Name, info.Key,
			formatTime(info.Created), nullTime(info.Started), nullTime(info.Ended),
			info.IsDone, info.Cancelled, info.Failed, info.ForceStopped,
			string(detailsJSON), string(cfg),
		)
		return err
	})
}

const selectColumns = `SELECT sim_id, name, sim_key, created, started, ended, is_done, cancelled, failed, force_stopped, error_details, config FROM simulations`

// Get returns the record for id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (simulation.Info, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE sim_id = ?`, id.String())
	info, err := scanInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return simulation.Info{}, apperrors.NotFound("simulation", id.String())
	}
	return info, err
}

// List returns matching records ordered by creation time.
func (s *Store) List(ctx context.Context, f Filter) ([]simulation.Info, error) {
	var (
		where []string
		args  []any
	)
	if f.Key != "" {
		where = append(where, "sim_key = ?")
		args = append(args, f.Key)
	}
	for col, v := range map[string]*bool{"is_done": f.Done, "cancelled": f.Cancelled, "failed": f.Failed} {
		if v != nil {
			where = append(where, col+" = ?")
			args = append(args, *v)
		}
	}
	if !f.StartedAfter.IsZero() {
		where = append(where, "started >= ?")
		args = append(args, formatTime(f.StartedAfter))
	}
	if !f.EndedBefore.IsZero() {
		where = append(where, "ended IS NOT NULL AND ended <= ?")
		args = append(args, formatTime(f.EndedBefore))
	}

	query := selectColumns
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []simulation.Info
	for rows.Next() {
		info, err := scanInfo(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Delete removes the records for ids and returns how many were removed.
func (s *Store) Delete(ctx context.Context, ids ...uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	var n int64
	err := retryOnContention(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM simulations WHERE sim_id IN (`+strings.Join(placeholders, ",")+`)`, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// DeleteAll removes every record.
func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	var n int64
	err := retryOnContention(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM simulations`)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInfo(row scanner) (simulation.Info, error) {
	var (
		info                 simulation.Info
		id, created          string
		started, ended       sql.NullString
		detailsJSON, cfgJSON string
	)
	err := row.Scan(&id, &info.Name, &info.Key, &created, &started, &ended,
		&info.IsDone, &info.Cancelled, &info.Failed, &info.ForceStopped, &detailsJSON, &cfgJSON)
	if err != nil {
		return simulation.Info{}, err
	}
	if info.ID, err = uuid.Parse(id); err != nil {
		return simulation.Info{}, fmt.Errorf("parse sim_id %q: %w", id, err)
	}
	info.Created = parseTime(created)
	if started.Valid {
		info.Started = parseTime(started.String)
	}
	if ended.Valid {
		info.Ended = parseTime(ended.String)
	}
	if err := json.Unmarshal([]byte(detailsJSON), &info.ErrorDetails); err != nil {
		return simulation.Info{}, fmt.Errorf("parse error_details: %w", err)
	}
	if len(info.ErrorDetails) == 0 {
		info.ErrorDetails = nil
	}
	if err := json.Unmarshal([]byte(cfgJSON), &info.Config); err != nil {
		return simulation.Info{}, fmt.Errorf("parse config: %w", err)
	}
	if info.IsDone {
		info.State = simulation.Done.String()
	} else {
		info.State = simulation.Running.String()
	}
	return info, nil
}

// timeLayout is fixed width so stored timestamps order lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
