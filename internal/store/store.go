// Package store journals automation runs in PostgreSQL: one row per run and
// one row per controller transition.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store manages the PostgreSQL connection.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize journal schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			account TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			final_state TEXT,
			outcome TEXT,
			reason TEXT
		);
		CREATE TABLE IF NOT EXISTS transitions (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			at TIMESTAMPTZ NOT NULL,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			symbol TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS transitions_run_id_idx ON transitions (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// StartRun registers a run and returns a journal bound to it. Starting an id
// twice resets its row and drops the earlier transitions.
func (s *Store) StartRun(ctx context.Context, id uuid.UUID, account string, at time.Time) (*Run, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM transitions WHERE run_id = $1::uuid", id.String()); err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO runs (id, account, started_at)
		VALUES ($1::uuid, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			account = EXCLUDED.account, started_at = EXCLUDED.started_at,
			finished_at = NULL, final_state = NULL, outcome = NULL, reason = NULL
	`, id.String(), account, at)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Run{store: s, id: id}, nil
}

// Run journals one controller run.
type Run struct {
	store *Store
	id    uuid.UUID
}

// ID returns the run id.
func (r *Run) ID() uuid.UUID { return r.id }

// RecordTransition appends a state change.
func (r *Run) RecordTransition(ctx context.Context, from, to, symbol string, at time.Time) error {
	_, err := r.store.conn.Exec(ctx, `
		INSERT INTO transitions (run_id, at, from_state, to_state, symbol)
		VALUES ($1::uuid, $2, $3, $4, $5)
	`, r.id.String(), at, from, to, symbol)
	return err
}

// FinishRun stores the terminal state and outcome.
func (r *Run) FinishRun(ctx context.Context, finalState, outcome, reason string, at time.Time) error {
	tag, err := r.store.conn.Exec(ctx, `
		UPDATE runs SET finished_at = $2, final_state = $3, outcome = $4, reason = NULLIF($5, '')
		WHERE id = $1::uuid
	`, r.id.String(), at, finalState, outcome, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", r.id)
	}
	return nil
}

// RunSummary is one row of the run history.
type RunSummary struct {
	ID          uuid.UUID
	Account     string
	StartedAt   time.Time
	FinishedAt  *time.Time
	FinalState  string
	Outcome     string
	Reason      string
	Transitions int
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.conn.Query(ctx, `
		SELECT r.id::text, r.account, r.started_at, r.finished_at,
			COALESCE(r.final_state, ''), COALESCE(r.outcome, ''), COALESCE(r.reason, ''),
			(SELECT COUNT(*) FROM transitions t WHERE t.run_id = r.id)
		FROM runs r
		ORDER BY r.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs RunSummary
			id string
		)
		if err := rows.Scan(&id, &rs.Account, &rs.StartedAt, &rs.FinishedAt,
			&rs.FinalState, &rs.Outcome, &rs.Reason, &rs.Transitions); err != nil {
			return nil, err
		}
		if rs.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// Transition is one journaled state change.
type Transition struct {
	At     time.Time
	From   string
	To     string
	Symbol string
}

// Transitions returns a run's state changes in order.
func (s *Store) Transitions(ctx context.Context, runID uuid.UUID) ([]Transition, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT at, from_state, to_state, symbol FROM transitions
		WHERE run_id = $1::uuid ORDER BY id
	`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		if err := rows.Scan(&t.At, &t.From, &t.To, &t.Symbol); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ErrRunNotFound is returned by FindRun for an unknown id prefix.
var ErrRunNotFound = errors.New("run not found")

// FindRun resolves a full or prefix run id, as printed by history.
func (s *Store) FindRun(ctx context.Context, prefix string) (uuid.UUID, error) {
	var id string
	err := s.conn.QueryRow(ctx, `
		SELECT id::text FROM runs WHERE id::text LIKE $1 || '%'
		ORDER BY started_at DESC LIMIT 1
	`, prefix).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrRunNotFound, prefix)
	}
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(id)
}

// Reset drops the journal tables. The next New recreates them.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS transitions CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
	`)
	return err
}
