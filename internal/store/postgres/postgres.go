// Package postgres persists records as jsonb rows in a single table.
package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/GriffinCanCode/emotalk/backend/platform/internal/errors"
	"github.com/GriffinCanCode/emotalk/backend/platform/internal/store"
)

const (
	createTable = `CREATE TABLE IF NOT EXISTS emotalk_records (
	id          BIGSERIAL PRIMARY KEY,
	collection  TEXT        NOT NULL,
	session_id  TEXT,
	recorded_at TIMESTAMPTZ NOT NULL,
	doc         JSONB       NOT NULL
)`
	insertRecord = `INSERT INTO emotalk_records (collection, session_id, recorded_at, doc) VALUES ($1, $2, $3, $4)`

	pingTimeout = 5 * time.Second
)

// Writer inserts record batches through a connection pool.
type Writer struct {
	pool *pgxpool.Pool
}

// Open creates the pool, checks connectivity and ensures the table exists.
func Open(ctx context.Context, dsn string) (*Writer, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "parse postgres dsn")
	}
	cfg.MaxConns = 4
	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "create postgres pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "ping postgres")
	}
	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return nil, apperrors.Wrap(err, apperrors.CodePersistence, "create records table")
	}
	return &Writer{pool: pool}, nil
}

// Write inserts all records in one round trip.
func (w *Writer) Write(ctx context.Context, records []store.Record) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		row, err := Row(r)
		if err != nil {
			return err
		}
		batch.Queue(insertRecord, row...)
	}
	if err := w.pool.SendBatch(ctx, batch).Close(); err != nil {
		return apperrors.Wrap(err, apperrors.CodePersistence, "insert records")
	}
	return nil
}

// Close releases the pool.
func (w *Writer) Close(context.Context) error {
	w.pool.Close()
	return nil
}

// Row converts a record to insert arguments.
func Row(r store.Record) ([]any, error) {
	doc, err := json.Marshal(r.Fields)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePersistence, "encode record")
	}
	at, ok := r.Fields[store.TimestampField].(time.Time)
	if !ok {
		at = time.Now().UTC()
	}
	var session *string
	if id := r.SessionID(); id != "" {
		session = &id
	}
	return []any{r.Collection, session, at, doc}, nil
}
