package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stepflow/stepflow/engine"

	_ "modernc.org/sqlite"
)

// SQLiteAdapter is a SQLite-backed engine.Adapter. It is the primary
// adapter for development, testing, and single-process deployments,
// grounded on the teacher's SQLiteStore (WAL mode, single-writer pool,
// busy_timeout pragma).
//
// Schema:
//   - steps: workflow step definitions
//   - edges: NEXT edges between steps
//   - sessions: one row per session, state stored as a JSON text column
//     (spec §6.5)
type SQLiteAdapter struct {
	db *sql.DB
}

// NewSQLiteAdapter opens (creating if absent) a SQLite database at path and
// migrates its schema. path may be ":memory:" for a throwaway database.
func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
	}

	// SQLite supports one writer at a time; keep the pool to a single
	// connection so WAL checkpointing and busy_timeout behave predictably
	// under concurrent sessions (spec §5: distinct sessions may run on
	// separate workers, but this process serializes at the connection).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	a := &SQLiteAdapter{db: db}
	if err := a.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *SQLiteAdapter) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS steps (
			id TEXT PRIMARY KEY,
			function TEXT NOT NULL DEFAULT '',
			utility TEXT NOT NULL DEFAULT '',
			input TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			from_id TEXT NOT NULL,
			to_id TEXT NOT NULL,
			condition_json TEXT NOT NULL DEFAULT '',
			operator TEXT NOT NULL DEFAULT '',
			priority INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (a *SQLiteAdapter) Close() error { return a.db.Close() }

// GetStep implements engine.GraphAdapter.
func (a *SQLiteAdapter) GetStep(ctx context.Context, id string) (engine.StepRow, bool, error) {
	return getStep(ctx, a.db, id)
}

// GetOutgoing implements engine.GraphAdapter.
func (a *SQLiteAdapter) GetOutgoing(ctx context.Context, id string) ([]engine.EdgeRow, error) {
	return getOutgoing(ctx, a.db, id)
}

// CreateSessionNode implements engine.SessionAdapter.
func (a *SQLiteAdapter) CreateSessionNode(ctx context.Context, id string, state json.RawMessage, createdAt time.Time) error {
	return createSessionNode(ctx, a.db, id, state, createdAt)
}

// ReadSessionState implements engine.SessionAdapter.
func (a *SQLiteAdapter) ReadSessionState(ctx context.Context, id string) (json.RawMessage, bool, error) {
	return readSessionState(ctx, a.db, id)
}

// WriteSessionState implements engine.SessionAdapter.
func (a *SQLiteAdapter) WriteSessionState(ctx context.Context, id string, state json.RawMessage) error {
	return writeSessionState(ctx, a.db, id, state)
}

// RunTransaction implements engine.Adapter. The transaction's first write
// to the sessions row acquires SQLite's single writer lock for the
// duration of the transaction, giving the engine's read-modify-write
// session update the atomicity spec §4.B requires.
func (a *SQLiteAdapter) RunTransaction(ctx context.Context, body func(tx engine.GraphTx) error) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	if err := body(sqlTx{tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// LoadSeed implements Loader.
func (a *SQLiteAdapter) LoadSeed(seed Seed) error {
	return loadSeed(context.Background(), a.db, seed)
}

// querier is satisfied by both *sql.DB and *sql.Tx, letting the row-level
// helpers below be shared between the non-transactional and transactional
// code paths.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func getStep(ctx context.Context, q querier, id string) (engine.StepRow, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT id, function, utility, input, description, tags FROM steps WHERE id = ?`, id)
	var r engine.StepRow
	var input, tags string
	if err := row.Scan(&r.ID, &r.Function, &r.Utility, &input, &r.Description, &tags); err != nil {
		if err == sql.ErrNoRows {
			return engine.StepRow{}, false, nil
		}
		return engine.StepRow{}, false, fmt.Errorf("store: get step %q: %w", id, err)
	}
	if input != "" {
		r.InputTemplate = json.RawMessage(input)
	}
	r.Tags = unmarshalTags(tags)
	return r, true, nil
}

func getOutgoing(ctx context.Context, q querier, id string) ([]engine.EdgeRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, from_id, to_id, condition_json, operator, priority FROM edges WHERE from_id = ? ORDER BY priority ASC, id ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get outgoing %q: %w", id, err)
	}
	defer func() { _ = rows.Close() }()

	var out []engine.EdgeRow
	for rows.Next() {
		var e engine.EdgeRow
		var cond string
		if err := rows.Scan(&e.Seq, &e.From, &e.To, &cond, &e.Operator, &e.Priority); err != nil {
			return nil, fmt.Errorf("store: scan edge: %w", err)
		}
		if cond != "" {
			e.Condition = json.RawMessage(cond)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func createSessionNode(ctx context.Context, q querier, id string, state json.RawMessage, createdAt time.Time) error {
	_, err := q.ExecContext(ctx, `INSERT INTO sessions (id, state, created_at) VALUES (?, ?, ?)`, id, string(state), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("store: create session %q: %w", id, err)
	}
	return nil
}

func readSessionState(ctx context.Context, q querier, id string) (json.RawMessage, bool, error) {
	row := q.QueryRowContext(ctx, `SELECT state FROM sessions WHERE id = ?`, id)
	var state string
	if err := row.Scan(&state); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: read session %q: %w", id, err)
	}
	return json.RawMessage(state), true, nil
}

func writeSessionState(ctx context.Context, q querier, id string, state json.RawMessage) error {
	res, err := q.ExecContext(ctx, `UPDATE sessions SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return fmt.Errorf("store: write session %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: write session %q: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("store: write session %q: %w", id, engine.ErrNotFound)
	}
	return nil
}

func loadSeed(ctx context.Context, q querier, seed Seed) error {
	for _, s := range seed.Steps {
		var input string
		if s.InputTemplate != nil {
			b, err := json.Marshal(s.InputTemplate)
			if err != nil {
				return fmt.Errorf("store: marshal step %q input: %w", s.ID, err)
			}
			input = string(b)
		}
		tags, err := marshalTags(s.Tags)
		if err != nil {
			return fmt.Errorf("store: marshal step %q tags: %w", s.ID, err)
		}
		_, err = q.ExecContext(ctx,
			`INSERT INTO steps (id, function, input, description, tags) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET function=excluded.function, input=excluded.input,
			   description=excluded.description, tags=excluded.tags`,
			s.ID, s.Function, input, s.Description, tags)
		if err != nil {
			return fmt.Errorf("store: load step %q: %w", s.ID, err)
		}
	}

	for _, e := range seed.Edges {
		var cond string
		if e.Condition != nil {
			b, err := json.Marshal(e.Condition)
			if err != nil {
				return fmt.Errorf("store: marshal edge %s->%s condition: %w", e.From, e.To, err)
			}
			cond = string(b)
		}
		_, err := q.ExecContext(ctx,
			`INSERT INTO edges (from_id, to_id, condition_json, operator, priority) VALUES (?, ?, ?, ?, ?)`,
			e.From, e.To, cond, e.Operator, e.Priority)
		if err != nil {
			return fmt.Errorf("store: load edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return nil
}

// sqlTx adapts a *sql.Tx to engine.GraphTx.
type sqlTx struct{ tx *sql.Tx }

func (t sqlTx) GetStep(ctx context.Context, id string) (engine.StepRow, bool, error) {
	return getStep(ctx, t.tx, id)
}

func (t sqlTx) GetOutgoing(ctx context.Context, id string) ([]engine.EdgeRow, error) {
	return getOutgoing(ctx, t.tx, id)
}

func (t sqlTx) CreateSessionNode(ctx context.Context, id string, state json.RawMessage, createdAt time.Time) error {
	return createSessionNode(ctx, t.tx, id, state, createdAt)
}

func (t sqlTx) ReadSessionState(ctx context.Context, id string) (json.RawMessage, bool, error) {
	return readSessionState(ctx, t.tx, id)
}

func (t sqlTx) WriteSessionState(ctx context.Context, id string, state json.RawMessage) error {
	return writeSessionState(ctx, t.tx, id, state)
}
