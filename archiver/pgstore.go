package archiver

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/c360/visionstream/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS feature_records (
	id             BIGSERIAL PRIMARY KEY,
	filename       TEXT        NOT NULL,
	image          BYTEA       NOT NULL,
	features       BYTEA       NOT NULL,
	keypoint_count INTEGER     NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS feature_records_filename_idx ON feature_records (filename);
CREATE INDEX IF NOT EXISTS feature_records_received_at_idx ON feature_records (received_at);
`

// PostgresStore persists records in a feature_records table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to Postgres and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.WrapInvalid(err, "PostgresStore", "NewPostgresStore", "parse DSN")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.WrapTransient(err, "PostgresStore", "NewPostgresStore", "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.WrapTransient(err, "PostgresStore", "NewPostgresStore", "ping database")
	}

	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return errors.WrapTransient(err, "PostgresStore", "ensureSchema", "create feature_records table")
	}
	return nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO feature_records (filename, image, features, keypoint_count, received_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Filename, rec.Image, rec.Features, rec.KeypointCount, rec.ReceivedAt)
	if err != nil {
		return errors.WrapTransient(err, "PostgresStore", "Save",
			fmt.Sprintf("insert record for %s", rec.Filename))
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}

// Count returns the number of archived records; used by health checks and
// tests.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM feature_records`).Scan(&n)
	if err != nil {
		return 0, errors.WrapTransient(err, "PostgresStore", "Count", "count records")
	}
	return n, nil
}
