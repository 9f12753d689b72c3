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
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// EmbeddingFields are the text columns that carry a companion embedding_<field> vector column
var EmbeddingFields = []string{"package_name", "locations"}

// ValidEmbeddingField reports whether field has an embedding column
func ValidEmbeddingField(field string) bool {
	for _, f := range EmbeddingFields {
		if f == field {
			return true
		}
	}
	return false
}

func embeddingColumn(field string) string {
	return "embedding_" + field
}

// PendingPackage is a package together with the requested fields that still lack an embedding
type PendingPackage struct {
	Package
	Missing []string
}

// PendingPackages returns up to limit packages after afterURL (in URL order) that are missing
// an embedding for any of fields
func (s *Searcher) PendingPackages(ctx context.Context, fields []string, afterURL string, limit int) ([]PendingPackage, error) {
	if len(fields) == 0 {
		return nil, nil
	}

	nulls := make([]string, 0, len(fields))
	for _, field := range fields {
		if !ValidEmbeddingField(field) {
			return nil, fmt.Errorf("unsupported embedding field %q", field)
		}
		nulls = append(nulls, embeddingColumn(field)+" IS NULL")
	}

	sql := fmt.Sprintf("SELECT %s, %s FROM %s WHERE (%s) AND url > $1 ORDER BY url LIMIT $2",
		selectList(), strings.Join(nulls, ", "), s.opts.Table, strings.Join(nulls, " OR "))

	rows, err := s.db.Query(ctx, sql, afterURL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages without embeddings: %w", err)
	}
	defer rows.Close()

	var pending []PendingPackage
	for rows.Next() {
		var p PendingPackage
		flags := make([]bool, len(fields))
		targets := p.scanTargets()
		for i := range flags {
			targets = append(targets, &flags[i])
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("failed to scan pending package: %w", err)
		}
		for i, isNull := range flags {
			if isNull {
				p.Missing = append(p.Missing, fields[i])
			}
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending package rows: %w", err)
	}
	return pending, nil
}

// SaveEmbedding stores the vector for one field of one package
func (s *Searcher) SaveEmbedding(ctx context.Context, url, field string, vector []float32) error {
	if !ValidEmbeddingField(field) {
		return fmt.Errorf("unsupported embedding field %q", field)
	}

	sql := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE url = $2", s.opts.Table, embeddingColumn(field))
	if _, err := s.db.Exec(ctx, sql, pgvector.NewVector(vector), url); err != nil {
		return fmt.Errorf("failed to save %s embedding for %s: %w", field, url, err)
	}
	return nil
}

// EmbeddingStore is where the updater reads pending packages and writes vectors
type EmbeddingStore interface {
	PendingPackages(ctx context.Context, fields []string, afterURL string, limit int) ([]PendingPackage, error)
	SaveEmbedding(ctx context.Context, url, field string, vector []float32) error
}

// UpdaterConfig controls batch size, parallelism and which fields are embedded
type UpdaterConfig struct {
	Fields      []string
	BatchSize   int
	Concurrency int
}

// UpdateStats summarises an embedding run
type UpdateStats struct {
	Packages int
	Updated  int
	Failed   int
	Skipped  int
	Duration time.Duration
}

// EmbeddingUpdater fills missing package embeddings
type EmbeddingUpdater struct {
	store    EmbeddingStore
	embedder QueryEmbedder
	config   UpdaterConfig
	logger   *zap.Logger
}

// NewEmbeddingUpdater validates the field list and fills batch defaults
func NewEmbeddingUpdater(store EmbeddingStore, embedder QueryEmbedder, config UpdaterConfig, logger *zap.Logger) (*EmbeddingUpdater, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(config.Fields) == 0 {
		config.Fields = EmbeddingFields
	}
	for _, field := range config.Fields {
		if !ValidEmbeddingField(field) {
			return nil, fmt.Errorf("unsupported embedding field %q", field)
		}
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}

	return &EmbeddingUpdater{store: store, embedder: embedder, config: config, logger: logger}, nil
}

// Run pages through every package missing an embedding and fills only the missing fields.
// A failed embedding is logged and counted but does not stop the run; a failed store read does.
func (u *EmbeddingUpdater) Run(ctx context.Context) (UpdateStats, error) {
	start := time.Now()
	var stats UpdateStats
	var updated, failed, skipped atomic.Int64

	afterURL := ""
	for {
		batch, err := u.store.PendingPackages(ctx, u.config.Fields, afterURL, u.config.BatchSize)
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			break
		}
		stats.Packages += len(batch)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(u.config.Concurrency)
		for _, pkg := range batch {
			for _, field := range pkg.Missing {
				text := fieldText(pkg.Package, field)
				if strings.TrimSpace(text) == "" {
					skipped.Add(1)
					continue
				}
				url := pkg.URL
				field := field
				g.Go(func() error {
					if err := u.embedField(gctx, url, field, text); err != nil {
						if gctx.Err() != nil {
							return gctx.Err()
						}
						failed.Add(1)
						u.logger.Error("Failed to update embedding",
							zap.String("url", url),
							zap.String("field", field),
							zap.Error(err))
						return nil
					}
					updated.Add(1)
					return nil
				})
			}
		}
		if err := g.Wait(); err != nil {
			return u.finish(stats, start, &updated, &failed, &skipped), err
		}

		afterURL = batch[len(batch)-1].URL
		u.logger.Info("Embedding batch completed",
			zap.Int("batch_size", len(batch)),
			zap.String("last_url", afterURL))

		if len(batch) < u.config.BatchSize {
			break
		}
	}

	stats = u.finish(stats, start, &updated, &failed, &skipped)
	u.logger.Info("Embedding update finished",
		zap.Int("packages", stats.Packages),
		zap.Int("updated", stats.Updated),
		zap.Int("failed", stats.Failed),
		zap.Int("skipped", stats.Skipped),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (u *EmbeddingUpdater) embedField(ctx context.Context, url, field, text string) error {
	vector, err := u.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return err
	}
	return u.store.SaveEmbedding(ctx, url, field, vector)
}

func (u *EmbeddingUpdater) finish(stats UpdateStats, start time.Time, updated, failed, skipped *atomic.Int64) UpdateStats {
	stats.Updated = int(updated.Load())
	stats.Failed = int(failed.Load())
	stats.Skipped = int(skipped.Load())
	stats.Duration = time.Since(start)
	return stats
}

func fieldText(p Package, field string) string {
	switch field {
	case "package_name":
		return p.PackageName
	case "locations":
		return p.Locations
	default:
		return ""
	}
}
