package attempt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/offbookhq/offbook/internal/assess"
)

// Schema is the SQL DDL for the attempts table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
//
// The bigserial id gives a total insertion order per (user, passage) pair,
// which is what eviction and chronological reads key on.
const Schema = `
CREATE TABLE IF NOT EXISTS attempts (
    id          BIGSERIAL PRIMARY KEY,
    user_id     TEXT NOT NULL,
    passage_ref TEXT NOT NULL,
    result      JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_attempts_user_passage ON attempts(user_id, passage_ref, id);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database. Results are
// stored as JSONB payloads; the bounded-log invariant is enforced inside the
// append transaction.
type PostgresStore struct {
	db DB
}

// Compile-time interface checks.
var (
	_ Store              = (*PostgresStore)(nil)
	_ assess.AttemptSink = (*PostgresStore)(nil)
)

// NewPostgresStore creates a new [PostgresStore] using the given connection
// or pool. The caller is responsible for calling [PostgresStore.Migrate] to
// ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("attempt: migrate: %w", err)
	}
	return nil
}

// Append inserts res and evicts everything but the newest [Capacity] rows for
// the pair. Both statements run in one transaction; an advisory transaction
// lock serialises concurrent appends for the same pair.
func (s *PostgresStore) Append(ctx context.Context, userID, passageRef string, res *assess.Result) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("attempt: marshal result: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("attempt: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	// Per-pair serialisation without locking unrelated pairs.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1 || '/' || $2))`,
		userID, passageRef,
	); err != nil {
		return fmt.Errorf("attempt: lock pair: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO attempts (user_id, passage_ref, result) VALUES ($1, $2, $3)`,
		userID, passageRef, payload,
	); err != nil {
		return fmt.Errorf("attempt: insert: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM attempts
		WHERE user_id = $1 AND passage_ref = $2
		  AND id NOT IN (
		    SELECT id FROM attempts
		    WHERE user_id = $1 AND passage_ref = $2
		    ORDER BY id DESC
		    LIMIT $3
		  )`,
		userID, passageRef, Capacity,
	); err != nil {
		return fmt.Errorf("attempt: evict: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("attempt: commit: %w", err)
	}
	return nil
}

// Log returns the retained attempts oldest first.
func (s *PostgresStore) Log(ctx context.Context, userID, passageRef string) ([]*assess.Result, error) {
	rows, err := s.db.Query(ctx, `
		SELECT result FROM attempts
		WHERE user_id = $1 AND passage_ref = $2
		ORDER BY id ASC`,
		userID, passageRef,
	)
	if err != nil {
		return nil, fmt.Errorf("attempt: log: %w", err)
	}
	defer rows.Close()

	var out []*assess.Result
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("attempt: log scan: %w", err)
		}
		var res assess.Result
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("attempt: unmarshal result: %w", err)
		}
		out = append(out, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("attempt: log: %w", err)
	}
	return out, nil
}
