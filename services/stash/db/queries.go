package db

import (
	"context"
	"database/sql"
	"strings"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type KV struct {
	Key   string
	Value string
}

const getValue = `SELECT value FROM kv WHERE key = ?`

func (q *Queries) GetValue(ctx context.Context, key string) (string, error) {
	row := q.db.QueryRowContext(ctx, getValue, key)
	var value string
	err := row.Scan(&value)
	return value, err
}

func (q *Queries) GetValues(ctx context.Context, keys []string) ([]KV, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query := `SELECT key, value FROM kv WHERE key IN (?` +
		strings.Repeat(",?", len(keys)-1) + `)`
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		args[i] = k
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

const listValues = `SELECT key, value FROM kv WHERE key LIKE ? ORDER BY key`

func (q *Queries) ListValues(ctx context.Context, prefix string) ([]KV, error) {
	rows, err := q.db.QueryContext(ctx, listValues, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, err
		}
		out = append(out, kv)
	}
	return out, rows.Err()
}

const setValue = `INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value`

func (q *Queries) SetValue(ctx context.Context, arg KV) error {
	_, err := q.db.ExecContext(ctx, setValue, arg.Key, arg.Value)
	return err
}

const deleteValue = `DELETE FROM kv WHERE key = ?`

func (q *Queries) DeleteValue(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, deleteValue, key)
	return err
}
