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

// Package main provides the embedding backfill job. It pages through packages
// missing name or location embeddings and fills them in.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/config"
	"github.com/your-org/package-chat/internal/openai"
	"github.com/your-org/package-chat/internal/resilience"
)

type options struct {
	configPath  string
	envFile     string
	batchSize   int
	concurrency int
	fields      []string
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "embed",
		Short:         "Fill missing package embeddings",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.OutOrStdout())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config")
	flags.IntVar(&opts.batchSize, "batch-size", 100, "packages fetched per page")
	flags.IntVar(&opts.concurrency, "concurrency", 4, "embedding requests in flight")
	flags.StringSliceVar(&opts.fields, "fields", catalog.EmbeddingFields, "fields to embed")
	return cmd
}

func run(ctx context.Context, opts *options, out io.Writer) error {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       opts.configPath,
		EnvFile:          opts.envFile,
		ValidateRequired: true,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := initializeLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	embedRetry := resilience.FeedBackoffConfig()
	embedRetry.Name = "embedding"
	embedRetry.MaxAttempts = cfg.Retry.EmbedAttempts
	embedder, err := openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		EmbedModel:      cfg.OpenAI.EmbedModel,
		EmbedDimensions: cfg.OpenAI.EmbedDimensions,
		EmbedRetry:      embedRetry,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}

	pool, err := catalog.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("failed to connect to the package catalog: %w", err)
	}
	defer pool.Close()

	store := catalog.NewSearcher(pool, embedder, catalog.QueryOptions{
		Table:    cfg.Database.PackageTable,
		Language: cfg.Database.TextSearchLanguage,
	}, logger)

	return update(ctx, store, embedder, opts, out, logger)
}

// update runs one backfill pass and prints a summary line
func update(ctx context.Context, store catalog.EmbeddingStore, embedder catalog.QueryEmbedder, opts *options, out io.Writer, logger *zap.Logger) error {
	updater, err := catalog.NewEmbeddingUpdater(store, embedder, catalog.UpdaterConfig{
		Fields:      opts.fields,
		BatchSize:   opts.batchSize,
		Concurrency: opts.concurrency,
	}, logger)
	if err != nil {
		return err
	}

	stats, err := updater.Run(ctx)
	if err != nil {
		return fmt.Errorf("embedding update failed: %w", err)
	}

	_, err = fmt.Fprintf(out, "packages=%d updated=%d failed=%d skipped=%d duration=%s\n",
		stats.Packages, stats.Updated, stats.Failed, stats.Skipped, stats.Duration.Round(time.Millisecond))
	return err
}

// initializeLogger creates a logger based on configuration settings
func initializeLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewDevelopmentConfig()
	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	if cfg.Logging.Output == "file" {
		zapConfig.OutputPaths = []string{"embed.log"}
		zapConfig.ErrorOutputPaths = []string{"embed.log"}
	}
	return zapConfig.Build()
}
