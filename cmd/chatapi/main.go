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

// Package main provides the package chat API. It routes each chat turn to an
// intent, grounds answers in the package catalog and serves them over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/config"
	"github.com/your-org/package-chat/internal/conversation"
)

const serviceName = "chatapi"

type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Chat assistant for the health package marketplace",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file loaded before the config")

	root.AddCommand(newServeCommand(opts), newAskCommand(opts), newSearchCommand(opts))
	return root
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

func newAskCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask [question]",
		Short: "Answer a single question and print the response as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd.Context(), opts, strings.Join(args, " "), cmd.OutOrStdout())
		},
	}
}

func newSearchCommand(opts *rootOptions) *cobra.Command {
	var top int
	var mode string
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the package catalog and print the matches as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), opts, strings.Join(args, " "), top, mode, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&top, "top", catalog.DefaultTop, "maximum number of packages to return")
	cmd.Flags().StringVar(&mode, "mode", searchModeHybrid, "hybrid, vector or text")
	return cmd
}

func loadConfig(opts *rootOptions) (*config.Config, *zap.Logger, zap.AtomicLevel, error) {
	cfg, err := config.LoadWithOptions(config.LoadOptions{
		ConfigPath:       opts.configPath,
		EnvFile:          opts.envFile,
		ValidateRequired: true,
	})
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, level, err := initializeLogger(cfg)
	if err != nil {
		return nil, nil, zap.AtomicLevel{}, fmt.Errorf("failed to initialize logger: %w", err)
	}

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("service", serviceName),
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.String("database_url", masked.Database.URL),
		zap.String("package_table", masked.Database.PackageTable),
		zap.String("openai_base_url", masked.OpenAI.BaseURL),
		zap.String("openai_api_key", masked.OpenAI.APIKey),
		zap.String("chat_model", masked.OpenAI.ChatModel),
		zap.String("feed_url", masked.Feed.URL),
		zap.Bool("redis_enabled", masked.Redis.Enabled),
		zap.Bool("web_search_enabled", masked.Search.APIKey != "" && masked.Search.EngineID != ""),
	)
	return cfg, logger, level, nil
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, logger, level, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := initializeDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize dependencies", zap.Error(err))
		return err
	}
	defer deps.Close()

	if opts.configPath != "" {
		// Connections are built once; only the log level follows the file.
		err := config.WatchConfig(opts.configPath, reloadLogLevel(level, logger), func(err error) {
			logger.Warn("Configuration reload failed", zap.Error(err))
		})
		if err != nil {
			logger.Warn("Configuration watch disabled", zap.Error(err))
		}
	}

	srv := newServer(deps, cfg, logger)
	return srv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.Port))
}

func runAsk(ctx context.Context, opts *rootOptions, question string, out io.Writer) error {
	cfg, logger, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := initializeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return ask(ctx, deps.Chat, question, out)
}

// ask runs a single user question and writes the indented response
func ask(ctx context.Context, chat chatRunner, question string, out io.Writer) error {
	conv := conversation.New([]conversation.Message{{
		Role:    conversation.RoleUser,
		Content: []conversation.Part{conversation.TextPart(question)},
	}})

	resp, err := chat.Run(ctx, conv)
	if err != nil {
		return fmt.Errorf("chat failed: %w", err)
	}

	return writeJSON(out, resp)
}

func runSearch(ctx context.Context, opts *rootOptions, query string, top int, mode string, out io.Writer) error {
	cfg, logger, _, err := loadConfig(opts)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	deps, err := initializeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return search(ctx, deps.Catalog, query, top, mode, out)
}

// search runs one catalog search and writes the matches
func search(ctx context.Context, searcher packageSearcher, query string, top int, mode string, out io.Writer) error {
	if top <= 0 || top > maxSearchTop {
		return fmt.Errorf("top must be between 1 and %d", maxSearchTop)
	}
	vector, text, err := searchMode(mode)
	if err != nil {
		return err
	}

	packages, err := searcher.SearchAndEmbed(ctx, query, top, vector, text, nil)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if packages == nil {
		packages = []catalog.Package{}
	}
	return writeJSON(out, SearchResponse{Packages: packages, Count: len(packages)})
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reloadLogLevel applies the logging level of a reloaded config to the running logger
func reloadLogLevel(level zap.AtomicLevel, logger *zap.Logger) func(*config.Config) {
	return func(updated *config.Config) {
		next := parseLevel(updated.Logging.Level)
		if next == level.Level() {
			return
		}
		level.SetLevel(next)
		logger.Info("Log level changed", zap.String("level", next.String()))
	}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initializeLogger creates a logger based on configuration settings. The returned level
// stays attached to the logger and can be changed while it runs.
func initializeLogger(cfg *config.Config) (*zap.Logger, zap.AtomicLevel, error) {
	var zapConfig zap.Config

	if cfg.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(parseLevel(cfg.Logging.Level))

	if cfg.Logging.Output == "file" {
		zapConfig.OutputPaths = []string{serviceName + ".log"}
		zapConfig.ErrorOutputPaths = []string{serviceName + ".log"}
	} else {
		zapConfig.OutputPaths = []string{"stdout"}
		zapConfig.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, zap.AtomicLevel{}, err
	}
	return logger, zapConfig.Level, nil
}
