package db

import (
	"context"
	"fmt"
	"time"
)

// Result is the JSON shape of a passthrough query.
type Result struct {
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"rowCount"`
	Fields   []string         `json:"fields"`
}

// Query runs sql with params and collects every row as a column map.
func (d *DB) Query(ctx context.Context, sql string, params ...any) (Result, error) {
	rows, err := d.pool.Query(ctx, sql, params...)
	if err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		fields = append(fields, fd.Name)
	}

	res := Result{Rows: []map[string]any{}, Fields: fields}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return Result{}, fmt.Errorf("read row: %w", err)
		}
		res.Rows = append(res.Rows, rowMap(fields, values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("query: %w", err)
	}
	res.RowCount = rows.CommandTag().RowsAffected()
	return res, nil
}

const insertAgentSQL = `
INSERT INTO agents (email, bg, name, created_at)
VALUES ($1, $2, $3, $4)
RETURNING *`

// InsertAgent stores one interview summary and returns the inserted row.
func (d *DB) InsertAgent(ctx context.Context, email, name, bg string, createdAt time.Time) (map[string]any, error) {
	res, err := d.Query(ctx, insertAgentSQL, email, bg, name, createdAt)
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, fmt.Errorf("insert agent: no row returned")
	}
	return res.Rows[0], nil
}

func rowMap(fields []string, values []any) map[string]any {
	m := make(map[string]any, len(fields))
	for i, f := range fields {
		if i < len(values) {
			m[f] = values[i]
		}
	}
	return m
}
