package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stepflow/stepflow/engine"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLAdapter is a MySQL/MariaDB-backed engine.Adapter, grounded on the
// teacher's MySQLStore (connection pooling, context-scoped transactions).
// Used for multi-process deployments where distinct sessions advance on
// separate workers against a shared server-side store (spec §5).
type MySQLAdapter struct {
	db *sql.DB
}

// NewMySQLAdapter opens a connection pool against dsn and migrates the
// schema. dsn follows github.com/go-sql-driver/mysql's DSN format, e.g.
// "user:pass@tcp(host:3306)/stepflow?parseTime=true".
func NewMySQLAdapter(dsn string) (*MySQLAdapter, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open mysql: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping mysql: %w", err)
	}

	a := &MySQLAdapter{db: db}
	if err := a.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *MySQLAdapter) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS steps (
			id VARCHAR(255) PRIMARY KEY,
			function VARCHAR(255) NOT NULL DEFAULT '',
			utility VARCHAR(255) NOT NULL DEFAULT '',
			input TEXT,
			description TEXT,
			tags TEXT
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS edges (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			from_id VARCHAR(255) NOT NULL,
			to_id VARCHAR(255) NOT NULL,
			condition_json TEXT,
			operator VARCHAR(16) NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 0,
			INDEX idx_edges_from (from_id)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id VARCHAR(255) PRIMARY KEY,
			state LONGTEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying connection pool.
func (a *MySQLAdapter) Close() error { return a.db.Close() }

// GetStep implements engine.GraphAdapter.
func (a *MySQLAdapter) GetStep(ctx context.Context, id string) (engine.StepRow, bool, error) {
	return getStep(ctx, a.db, id)
}

// GetOutgoing implements engine.GraphAdapter.
func (a *MySQLAdapter) GetOutgoing(ctx context.Context, id string) ([]engine.EdgeRow, error) {
	return getOutgoing(ctx, a.db, id)
}

// CreateSessionNode implements engine.SessionAdapter.
func (a *MySQLAdapter) CreateSessionNode(ctx context.Context, id string, state json.RawMessage, createdAt time.Time) error {
	return createSessionNode(ctx, a.db, id, state, createdAt)
}

// ReadSessionState implements engine.SessionAdapter.
func (a *MySQLAdapter) ReadSessionState(ctx context.Context, id string) (json.RawMessage, bool, error) {
	return readSessionState(ctx, a.db, id)
}

// WriteSessionState implements engine.SessionAdapter.
func (a *MySQLAdapter) WriteSessionState(ctx context.Context, id string, state json.RawMessage) error {
	return writeSessionState(ctx, a.db, id, state)
}

// RunTransaction implements engine.Adapter. MySQL's default
// REPEATABLE-READ isolation combined with the row lock taken by the
// transaction's UPDATE on sessions gives the same read-modify-write
// atomicity the SQLite adapter gets from its single-writer connection
// (spec §4.B).
func (a *MySQLAdapter) RunTransaction(ctx context.Context, body func(tx engine.GraphTx) error) error {
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
func (a *MySQLAdapter) LoadSeed(seed Seed) error {
	ctx := context.Background()
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
		_, err = a.db.ExecContext(ctx,
			`INSERT INTO steps (id, function, input, description, tags) VALUES (?, ?, ?, ?, ?)
			 ON DUPLICATE KEY UPDATE function=VALUES(function), input=VALUES(input),
			   description=VALUES(description), tags=VALUES(tags)`,
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
		_, err := a.db.ExecContext(ctx,
			`INSERT INTO edges (from_id, to_id, condition_json, operator, priority) VALUES (?, ?, ?, ?, ?)`,
			e.From, e.To, cond, e.Operator, e.Priority)
		if err != nil {
			return fmt.Errorf("store: load edge %s->%s: %w", e.From, e.To, err)
		}
	}
	return nil
}
