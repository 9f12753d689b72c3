// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// SimpleSearchLimit caps rows returned for an exact package lookup
	SimpleSearchLimit = 10
	// DefaultTop is the number of packages returned when callers pass a non-positive top
	DefaultTop = 5
)

// ErrPackageNotFound is returned by GetByURL when no row matches
var ErrPackageNotFound = errors.New("package not found")

// DB is the subset of pgxpool.Pool the catalog needs
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// QueryEmbedder turns query text into a vector
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs package lookups against the package table
type Searcher struct {
	db       DB
	embedder QueryEmbedder
	opts     QueryOptions
	logger   *zap.Logger
}

// NewSearcher creates a searcher; embedder may be nil when vector search is never enabled
func NewSearcher(db DB, embedder QueryEmbedder, opts QueryOptions, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Table == "" {
		opts.Table = "packages_all"
	}
	if opts.Language == "" {
		opts.Language = "thai"
	}
	return &Searcher{db: db, embedder: embedder, opts: opts, logger: logger}
}

// NewPool opens a pgx connection pool for the package catalog
func NewPool(ctx context.Context, databaseURL string, maxConns int32) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// Ping checks database connectivity
func (s *Searcher) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// HybridSearch ranks packages by vector distance, full-text relevance, or both fused with
// reciprocal-rank fusion, and returns at most top packages in rank order
func (s *Searcher) HybridSearch(ctx context.Context, text string, vector []float32, top int, filters []Filter) ([]Package, error) {
	if top <= 0 {
		top = DefaultTop
	}

	query, err := BuildHybridQuery(s.opts, text, vector, filters)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.db.Query(ctx, query.SQL, query.Args...)
	if err != nil {
		return nil, fmt.Errorf("hybrid search failed: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		var err error
		if query.Mode == ModeHybrid {
			var score float64
			err = rows.Scan(&url, &score)
		} else {
			var rank int64
			err = rows.Scan(&url, &rank)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan ranked row: %w", err)
		}
		urls = append(urls, url)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("hybrid search rows: %w", err)
	}

	if len(urls) > top {
		urls = urls[:top]
	}

	s.logger.Debug("Hybrid search ranked candidates",
		zap.String("mode", string(query.Mode)),
		zap.Int("candidates", len(urls)),
		zap.Duration("duration", time.Since(start)))

	return s.GetByURLs(ctx, urls)
}

// SearchAndEmbed searches by query text, embedding it first when vector search is enabled
func (s *Searcher) SearchAndEmbed(ctx context.Context, text string, top int, enableVector, enableText bool, filters []Filter) ([]Package, error) {
	var vector []float32
	if enableVector {
		if s.embedder == nil {
			return nil, fmt.Errorf("vector search requested without an embedder")
		}
		v, err := s.embedder.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed search text: %w", err)
		}
		vector = v
	}
	if !enableText {
		text = ""
	}

	return s.HybridSearch(ctx, text, vector, top, filters)
}

// SimpleSQLSearch looks packages up by OR-combined filters, returning at most ten rows.
// No filters means nothing to look up.
func (s *Searcher) SimpleSQLSearch(ctx context.Context, filters []Filter) ([]Package, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	clause, err := BuildFilterClause(filters, true, 1)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s %s LIMIT %d", selectList(), s.opts.Table, clause.Where, SimpleSearchLimit)
	rows, err := s.db.Query(ctx, sql, clause.Args...)
	if err != nil {
		return nil, fmt.Errorf("simple search failed: %w", err)
	}
	defer rows.Close()

	packages, err := scanPackages(rows)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Simple SQL search completed",
		zap.Int("filters", len(filters)),
		zap.Int("results", len(packages)))

	return packages, nil
}

// GetByURL loads one package by its exact URL
func (s *Searcher) GetByURL(ctx context.Context, url string) (*Package, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE url = $1", selectList(), s.opts.Table)

	var p Package
	if err := s.db.QueryRow(ctx, sql, url).Scan(p.scanTargets()...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrPackageNotFound, url)
		}
		return nil, fmt.Errorf("failed to load package: %w", err)
	}
	return &p, nil
}

// GetByURLs loads packages for the given URLs, preserving the order of urls and
// dropping URLs that are not in the catalog
func (s *Searcher) GetByURLs(ctx context.Context, urls []string) ([]Package, error) {
	if len(urls) == 0 {
		return []Package{}, nil
	}

	sql := fmt.Sprintf("SELECT %s FROM %s WHERE url = ANY($1)", selectList(), s.opts.Table)
	rows, err := s.db.Query(ctx, sql, urls)
	if err != nil {
		return nil, fmt.Errorf("failed to load packages: %w", err)
	}
	defer rows.Close()

	found, err := scanPackages(rows)
	if err != nil {
		return nil, err
	}

	byURL := make(map[string]Package, len(found))
	for _, p := range found {
		byURL[p.URL] = p
	}

	ordered := make([]Package, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, url := range urls {
		if p, ok := byURL[url]; ok && !seen[url] {
			ordered = append(ordered, p)
			seen[url] = true
		}
	}
	return ordered, nil
}

func scanPackages(rows pgx.Rows) ([]Package, error) {
	var packages []Package
	for rows.Next() {
		var p Package
		if err := rows.Scan(p.scanTargets()...); err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("package rows: %w", err)
	}
	return packages, nil
}
