package functions

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLQuery runs a parameterized SELECT against a configured database and
// returns the result rows. Input keys: query (required), args (optional
// positional parameters).
type MySQLQuery struct {
	db *sql.DB
}

// NewMySQLQuery returns a MySQLQuery function bound to db. The caller owns
// db's lifecycle (open/close); this function only issues queries against
// it.
func NewMySQLQuery(db *sql.DB) *MySQLQuery {
	return &MySQLQuery{db: db}
}

// Name returns the dotted function name.
func (*MySQLQuery) Name() string { return "db.mysql.query" }

// Call executes the query and returns its rows.
func (m *MySQLQuery) Call(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("functions: mysql query requires a string query")
	}

	var params []interface{}
	if raw, ok := args["args"].([]interface{}); ok {
		params = raw
	}

	rows, err := m.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("functions: mysql query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("functions: mysql columns: %w", err)
	}

	var out []interface{}
	for rows.Next() {
		scanTargets := make([]interface{}, len(cols))
		values := make([]interface{}, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, fmt.Errorf("functions: mysql scan: %w", err)
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			row[col] = normalizeSQLValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("functions: mysql rows: %w", err)
	}

	return map[string]interface{}{"rows": out}, nil
}

func normalizeSQLValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
