// Package postgres keeps the dump manifest in Postgres.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

const defaultTable = "biodumpy_dumps"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// ManifestStoreConfig controls the Postgres connection pool used for
// manifest rows.
type ManifestStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ManifestStore writes one row per dump. It implements
// biodumpy.DumpRecorder.
type ManifestStore struct {
	pool  execCloser
	table string
	ids   biodumpy.IDGenerator
}

// NewManifestStore creates a Postgres-backed ManifestStore using the
// provided config.
func NewManifestStore(ctx context.Context, cfg ManifestStoreConfig, ids biodumpy.IDGenerator) (*ManifestStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("manifest.dsn is required")
	}
	table, err := checkTable(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewManifestStoreWithPool(pool, table, ids)
}

// NewManifestStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewManifestStoreWithPool(pool execCloser, table string, ids biodumpy.IDGenerator) (*ManifestStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	table, err := checkTable(table)
	if err != nil {
		return nil, err
	}
	return &ManifestStore{pool: pool, table: table, ids: ids}, nil
}

func checkTable(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *ManifestStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the manifest table when it does not exist.
func (s *ManifestStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id          TEXT PRIMARY KEY,
	job_id      TEXT,
	module      TEXT NOT NULL,
	name        TEXT NOT NULL,
	path        TEXT NOT NULL,
	uri         TEXT NOT NULL,
	format      TEXT NOT NULL,
	records     INTEGER NOT NULL,
	bytes       INTEGER NOT NULL,
	hash        TEXT NOT NULL,
	bulk        BOOLEAN NOT NULL,
	written_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create manifest table: %w", err)
	}
	return nil
}

// RecordDump inserts a manifest row for the dump.
func (s *ManifestStore) RecordDump(ctx context.Context, dump biodumpy.Dump) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("manifest store is not configured")
	}
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("manifest row id: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	job_id,
	module,
	name,
	path,
	uri,
	format,
	records,
	bytes,
	hash,
	bulk,
	written_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)`, s.table)

	var jobID *string
	if dump.JobID != "" {
		jobID = &dump.JobID
	}
	args := []any{
		id,
		jobID,
		dump.Module,
		dump.Name,
		dump.Path,
		dump.URI,
		string(dump.Format),
		dump.Records,
		dump.Bytes,
		dump.Hash,
		dump.Bulk,
		dump.WrittenAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert manifest row: %w", err)
	}
	return nil
}
