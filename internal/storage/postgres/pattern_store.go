// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/equipment-manuals/internal/resolver"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultPatternTable = "manual_patterns"

// PatternStoreConfig controls the Postgres connection pool used for learned patterns.
type PatternStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PatternStore persists resolver.PatternRule rows keyed by manufacturer.
type PatternStore struct {
	pool  pool
	table string
}

// NewPatternStore connects to Postgres using the provided config.
func NewPatternStore(ctx context.Context, cfg PatternStoreConfig) (*PatternStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("patterns.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPatternStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewPatternStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPatternStoreWithPool(p pool, table string) (*PatternStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultPatternTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PatternStore{pool: p, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PatternStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the pattern table when it does not exist.
func (s *PatternStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	manufacturer TEXT PRIMARY KEY,
	prefix TEXT NOT NULL,
	transforms JSONB NOT NULL,
	suffixes JSONB NOT NULL,
	series JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create pattern table: %w", err)
	}
	return nil
}

// Load fetches the rule for manufacturer.
func (s *PatternStore) Load(ctx context.Context, manufacturer string) (resolver.PatternRule, bool, error) {
	key := strings.ToLower(manufacturer)
	query := fmt.Sprintf(`SELECT prefix, transforms, suffixes, series, updated_at FROM %s WHERE manufacturer = $1`, s.table)

	var (
		rule                         = resolver.PatternRule{Manufacturer: key}
		transforms, suffixes, series []byte
	)
	err := s.pool.QueryRow(ctx, query, key).Scan(&rule.Prefix, &transforms, &suffixes, &series, &rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return resolver.PatternRule{}, false, nil
	}
	if err != nil {
		return resolver.PatternRule{}, false, fmt.Errorf("load pattern %s: %w", key, err)
	}
	if err := json.Unmarshal(transforms, &rule.Transforms); err != nil {
		return resolver.PatternRule{}, false, fmt.Errorf("decode transforms: %w", err)
	}
	if err := json.Unmarshal(suffixes, &rule.Suffixes); err != nil {
		return resolver.PatternRule{}, false, fmt.Errorf("decode suffixes: %w", err)
	}
	if err := json.Unmarshal(series, &rule.Series); err != nil {
		return resolver.PatternRule{}, false, fmt.Errorf("decode series: %w", err)
	}
	valid := rule.Transforms[:0]
	for _, t := range rule.Transforms {
		if t.Valid() {
			valid = append(valid, t)
		}
	}
	rule.Transforms = valid
	return rule, true, nil
}

// Save upserts rule.
func (s *PatternStore) Save(ctx context.Context, rule resolver.PatternRule) error {
	if rule.Manufacturer == "" {
		return fmt.Errorf("manufacturer is required")
	}
	transforms, err := marshalList(rule.Transforms)
	if err != nil {
		return fmt.Errorf("marshal transforms: %w", err)
	}
	suffixes, err := marshalList(rule.Suffixes)
	if err != nil {
		return fmt.Errorf("marshal suffixes: %w", err)
	}
	series, err := marshalList(rule.Series)
	if err != nil {
		return fmt.Errorf("marshal series: %w", err)
	}
	updated := rule.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (manufacturer, prefix, transforms, suffixes, series, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (manufacturer) DO UPDATE SET
	prefix = EXCLUDED.prefix,
	transforms = EXCLUDED.transforms,
	suffixes = EXCLUDED.suffixes,
	series = EXCLUDED.series,
	updated_at = EXCLUDED.updated_at`, s.table)

	args := []any{strings.ToLower(rule.Manufacturer), rule.Prefix, transforms, suffixes, series, updated}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

func marshalList[T any](items []T) ([]byte, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal list: %w", err)
	}
	return b, nil
}
