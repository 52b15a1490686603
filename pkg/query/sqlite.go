package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/vanderheijden86/vizexplore/pkg/debug"
)

// DefaultRowLimit caps result sets when neither the request nor the
// executor sets a limit.
const DefaultRowLimit = 10000

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrUnknownDatasource is returned when a datasource id is not registered.
var ErrUnknownDatasource = errors.New("unknown datasource")

// SQLiteExecutor aggregates rows of a registered table.
//
// Datasources are registered in a datasources(id, table_name) table. A
// request groups by the "groupby" columns of its form data and counts rows
// per group, limited by "row_limit".
type SQLiteExecutor struct {
	db       *sql.DB
	rowLimit int
}

// OpenSQLite opens the database at path ("" or ":memory:" for an in-memory
// database) and ensures the datasource registry exists.
func OpenSQLite(path string, rowLimit int) (*SQLiteExecutor, error) {
	if path == "" {
		path = ":memory:"
	}
	dsn := path
	if path != ":memory:" {
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS datasources (
		id INTEGER PRIMARY KEY,
		table_name TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating datasource registry: %w", err)
	}
	return NewSQLiteExecutor(db, rowLimit), nil
}

// NewSQLiteExecutor wraps an open database.
func NewSQLiteExecutor(db *sql.DB, rowLimit int) *SQLiteExecutor {
	if rowLimit <= 0 {
		rowLimit = DefaultRowLimit
	}
	return &SQLiteExecutor{db: db, rowLimit: rowLimit}
}

// DB returns the underlying database.
func (e *SQLiteExecutor) DB() *sql.DB {
	return e.db
}

// Close closes the database.
func (e *SQLiteExecutor) Close() error {
	if e.db != nil {
		return e.db.Close()
	}
	return nil
}

// RegisterDatasource maps id to table.
func (e *SQLiteExecutor) RegisterDatasource(ctx context.Context, id int64, table string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("invalid table name %q", table)
	}
	_, err := e.db.ExecContext(ctx,
		`INSERT INTO datasources (id, table_name) VALUES (?, ?)
		 ON CONFLICT(id) DO UPDATE SET table_name = excluded.table_name`, id, table)
	if err != nil {
		return fmt.Errorf("registering datasource %d: %w", id, err)
	}
	return nil
}

// Execute implements Executor.
func (e *SQLiteExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	if req.Datasource.IsZero() {
		return Result{}, fmt.Errorf("%w: none selected", ErrUnknownDatasource)
	}

	var table string
	err := e.db.QueryRowContext(ctx, `SELECT table_name FROM datasources WHERE id = ?`, req.Datasource.ID).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownDatasource, req.Datasource)
	}
	if err != nil {
		return Result{}, fmt.Errorf("resolving datasource: %w", err)
	}

	q, err := e.build(table, req.FormData)
	if err != nil {
		return Result{}, err
	}
	debug.Log("query: %s", q)

	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return Result{}, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}
	res := Result{Columns: cols, Query: q}
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Result{}, fmt.Errorf("scanning row: %w", err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("reading rows: %w", err)
	}
	return res, nil
}

func (e *SQLiteExecutor) build(table string, formData map[string]any) (string, error) {
	if !identRe.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	groupby, err := columns(formData["groupby"])
	if err != nil {
		return "", err
	}

	limit := e.rowLimit
	if n, ok := asInt(formData["row_limit"]); ok && n > 0 && n < limit {
		limit = n
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	for _, c := range groupby {
		sb.WriteString(c)
		sb.WriteString(", ")
	}
	sb.WriteString("COUNT(*) AS count FROM ")
	sb.WriteString(table)
	if len(groupby) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(groupby, ", "))
		sb.WriteString(" ORDER BY count DESC")
	}
	fmt.Fprintf(&sb, " LIMIT %d", limit)
	return sb.String(), nil
}

func columns(v any) ([]string, error) {
	var raw []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t != "" {
			raw = []string{t}
		}
	case []string:
		raw = t
	case []any:
		for _, x := range t {
			s, ok := x.(string)
			if !ok {
				return nil, fmt.Errorf("invalid groupby column %v", x)
			}
			raw = append(raw, s)
		}
	default:
		return nil, fmt.Errorf("invalid groupby %T", v)
	}
	for _, c := range raw {
		if !identRe.MatchString(c) {
			return nil, fmt.Errorf("invalid column name %q", c)
		}
	}
	return raw, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
