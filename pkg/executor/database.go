package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/adjutant-ops/adjutant/pkg/errors"
	"github.com/adjutant-ops/adjutant/pkg/safety"
)

// queryClass is the gate classification of a SQL statement.
type queryClass int

const (
	queryRead queryClass = iota
	queryWrite
	queryForbidden
)

var (
	readPrefixes  = []string{"SELECT", "EXPLAIN", "WITH", "SHOW"}
	writePrefixes = []string{"INSERT", "UPDATE", "DELETE"}
)

// classifyQuery gates ad-hoc SQL: reads always pass, row writes pass in
// write mode, everything else (DDL, grants, vacuum) never runs here.
func classifyQuery(query string) queryClass {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, p := range readPrefixes {
		if strings.HasPrefix(q, p) {
			return queryRead
		}
	}
	for _, p := range writePrefixes {
		if strings.HasPrefix(q, p) {
			return queryWrite
		}
	}
	return queryForbidden
}

// DatabaseExecutor serves the postgres-ops skill over a pgx pool.
type DatabaseExecutor struct {
	pool      *pgxpool.Pool
	sanitizer *safety.Sanitizer
}

// NewDatabaseExecutor connects a pool for the given DSN.
func NewDatabaseExecutor(ctx context.Context, dsn string, sanitizer *safety.Sanitizer) (*DatabaseExecutor, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.New(errors.CodeUpstreamUnavailable, "connect postgres", err)
	}
	if sanitizer == nil {
		sanitizer = safety.NewSanitizer(0)
	}
	return &DatabaseExecutor{pool: pool, sanitizer: sanitizer}, nil
}

// Bindings returns this executor's registry entries.
func (e *DatabaseExecutor) Bindings() map[string]Executor {
	return map[string]Executor{
		"postgres-ops__list_databases": Func(e.ListDatabases),
		"postgres-ops__list_tables":    Func(e.ListTables),
		"postgres-ops__query":          Func(e.Query),
		"postgres-ops__stats":          Func(e.Stats),
	}
}

// Close releases the pool.
func (e *DatabaseExecutor) Close() {
	e.pool.Close()
}

// ListDatabases lists non-template databases with size.
func (e *DatabaseExecutor) ListDatabases(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		rows, err := e.pool.Query(ctx, `
			SELECT datname, pg_size_pretty(pg_database_size(datname))
			FROM pg_database
			WHERE NOT datistemplate
			ORDER BY pg_database_size(datname) DESC`)
		if err != nil {
			return "", pgError("list databases", err)
		}
		return e.renderRows(rows)
	})
}

// ListTables lists tables in the connected database's public schema.
func (e *DatabaseExecutor) ListTables(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		schema := stringArg(args, "schema", "public")
		rows, err := e.pool.Query(ctx, `
			SELECT schemaname, relname, n_live_tup,
			       pg_size_pretty(pg_total_relation_size(relid))
			FROM pg_stat_user_tables
			WHERE schemaname = $1
			ORDER BY pg_total_relation_size(relid) DESC`, schema)
		if err != nil {
			return "", pgError("list tables", err)
		}
		return e.renderRows(rows)
	})
}

// Query runs an ad-hoc statement through the gate. Row writes need the
// session's write mode, injected by the router as WriteModeArg.
func (e *DatabaseExecutor) Query(ctx context.Context, args map[string]any) (Result, error) {
	query, err := requireString(args, "query")
	if err != nil {
		return Result{}, err
	}
	writeEnabled := boolArg(args, WriteModeArg, false)

	switch classifyQuery(query) {
	case queryRead:
	case queryWrite:
		if !writeEnabled {
			return Result{}, errors.Newf(errors.CodeWriteModeRequired,
				"INSERT/UPDATE/DELETE need a write-mode session")
		}
	default:
		return Result{}, errors.Newf(errors.CodeSafetyBlocked,
			"only SELECT/EXPLAIN/WITH/SHOW (and row writes in write mode) are allowed; DDL never runs here")
	}

	return timed(ctx, func() (string, error) {
		rows, err := e.pool.Query(ctx, query)
		if err != nil {
			return "", pgError("query", err)
		}
		return e.renderRows(rows)
	})
}

// Stats summarizes per-database activity.
func (e *DatabaseExecutor) Stats(ctx context.Context, args map[string]any) (Result, error) {
	return timed(ctx, func() (string, error) {
		rows, err := e.pool.Query(ctx, `
			SELECT datname, pg_size_pretty(pg_database_size(datname)) AS size,
			       numbackends, xact_commit, xact_rollback
			FROM pg_stat_database
			WHERE datname NOT LIKE 'template%' AND datname IS NOT NULL
			ORDER BY pg_database_size(datname) DESC`)
		if err != nil {
			return "", pgError("database stats", err)
		}
		return e.renderRows(rows)
	})
}

const maxRenderedRows = 200

// renderRows formats a result set as an aligned text table, bounded to
// keep tool output inside the model's context.
func (e *DatabaseExecutor) renderRows(rows pgx.Rows) (string, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = string(f.Name)
	}

	var records [][]string
	truncated := false
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return "", pgError("read row", err)
		}
		record := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				record[i] = "NULL"
			} else {
				record[i] = fmt.Sprintf("%v", v)
			}
		}
		records = append(records, record)
		if len(records) >= maxRenderedRows {
			truncated = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return "", pgError("read rows", err)
	}

	if len(records) == 0 {
		if tag := rows.CommandTag(); tag.String() != "" {
			return tag.String(), nil
		}
		return "(no rows)", nil
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range records {
		for i, v := range r {
			if len(v) > widths[i] {
				widths[i] = len(v)
			}
		}
	}

	var b strings.Builder
	writeRow := func(cols []string) {
		for i, v := range cols {
			fmt.Fprintf(&b, "%-*s  ", widths[i], v)
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	total := 0
	for _, w := range widths {
		total += w + 2
	}
	b.WriteString(strings.Repeat("-", total) + "\n")
	for _, r := range records {
		writeRow(r)
	}
	out := strings.TrimRight(b.String(), "\n")
	if truncated {
		out += fmt.Sprintf("\n... (truncated at %d rows)", maxRenderedRows)
	}
	return e.sanitizer.Sanitize(out), nil
}

func pgError(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "connection refused") || strings.Contains(msg, "failed to connect") {
		return errors.New(errors.CodeUpstreamUnavailable, "postgres unreachable", err)
	}
	return errors.New(errors.CodeExecutorError, op+" failed", err)
}
