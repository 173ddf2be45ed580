package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShirePyDev/runtime-agent-guard/internal/guard"
)

const defaultMaxRows = 50

// SQLRunner executes read-only SELECT statements against PostgreSQL with a
// connection using a read-only role. A LIMIT is forced when the caller
// forgot one so a single call cannot stream an entire table.
type SQLRunner struct {
	Pool    *pgxpool.Pool
	MaxRows int
}

// Name implements Tool.
func (s *SQLRunner) Name() string { return "run_sql" }

// Invoke implements Tool.
func (s *SQLRunner) Invoke(ctx context.Context, args map[string]any) Result {
	prov := guard.Provenance{Source: "db", Tainted: false}

	query := strings.TrimSpace(stringArg(args, "query"))
	if query == "" {
		return errResult("query is empty", prov)
	}
	if !strings.HasPrefix(strings.ToLower(query), "select") {
		return errResult("only SELECT queries are allowed", prov)
	}
	if s.Pool == nil {
		return errResult("no database configured", prov)
	}

	maxRows := s.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	q := strings.TrimSuffix(query, ";")
	if !strings.Contains(strings.ToLower(q), "limit") {
		q = fmt.Sprintf("%s LIMIT %d", q, maxRows)
	}

	rows, err := s.Pool.Query(ctx, q)
	if err != nil {
		return errResult(err.Error(), prov)
	}
	defer rows.Close()

	cols := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		cols = append(cols, string(fd.Name))
	}

	out := []map[string]any{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return errResult(err.Error(), prov)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		out = append(out, row)
		if len(out) >= maxRows {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return errResult(err.Error(), prov)
	}

	prov.Extra = map[string]any{"rows": len(out)}
	return okResult(out, prov)
}
