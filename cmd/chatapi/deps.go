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

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/your-org/package-chat/internal/audit"
	"github.com/your-org/package-chat/internal/cache"
	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/config"
	"github.com/your-org/package-chat/internal/feed"
	"github.com/your-org/package-chat/internal/health"
	"github.com/your-org/package-chat/internal/metrics"
	"github.com/your-org/package-chat/internal/openai"
	"github.com/your-org/package-chat/internal/prompts"
	"github.com/your-org/package-chat/internal/rag"
	"github.com/your-org/package-chat/internal/resilience"
	"github.com/your-org/package-chat/internal/utm"
	"github.com/your-org/package-chat/internal/websearch"
)

const (
	// HealthCheckTimeout bounds a full /health evaluation
	HealthCheckTimeout = 5 * time.Second
	// memoryCacheEntries sizes the in-process feed cache used without Redis
	memoryCacheEntries = 1024
)

// ServiceDependencies holds initialized service dependencies
type ServiceDependencies struct {
	Pool    *pgxpool.Pool
	Catalog *catalog.Searcher
	OpenAI  *openai.Client
	Cache   cache.Cache
	Redis   *cache.Redis
	Feed    *feed.Client
	Metrics *metrics.Metrics
	Audit   *audit.Log
	Chat    *rag.AdvancedChat
	Logger  *zap.Logger
	Config  *config.Config
}

// Close releases every connection held by the dependencies
func (d *ServiceDependencies) Close() {
	if d.Audit != nil {
		if err := d.Audit.Close(); err != nil {
			d.Logger.Warn("Failed to close audit log", zap.Error(err))
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			d.Logger.Warn("Failed to close cache", zap.Error(err))
		}
	}
	if d.Pool != nil {
		d.Pool.Close()
	}
}

// initializeDependencies initializes all service dependencies
func initializeDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ServiceDependencies, error) {
	logger.Info("Initializing service dependencies")
	deps := &ServiceDependencies{Logger: logger, Config: cfg, Metrics: metrics.New()}

	llm, err := openai.NewClient(openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		ChatModel:       cfg.OpenAI.ChatModel,
		EmbedModel:      cfg.OpenAI.EmbedModel,
		EmbedDimensions: cfg.OpenAI.EmbedDimensions,
		ChatRetry:       retryPolicy("chat_completion", cfg.Retry.ChatAttempts, cfg.Retry.BaseDelay, cfg.Retry.ChatMaxDelay),
		EmbedRetry:      retryPolicy("embedding", cfg.Retry.EmbedAttempts, cfg.Retry.BaseDelay, cfg.Retry.FeedMaxDelay),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	deps.OpenAI = llm

	pool, err := catalog.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize package catalog: %w", err)
	}
	deps.Pool = pool
	deps.Catalog = catalog.NewSearcher(pool, llm, catalog.QueryOptions{
		Table:    cfg.Database.PackageTable,
		Language: cfg.Database.TextSearchLanguage,
	}, logger)

	deps.Cache, deps.Redis = initializeCache(ctx, cfg, logger)
	deps.Feed = feed.NewClient(feed.Config{
		URL:      cfg.Feed.URL,
		Timeout:  cfg.Feed.Timeout,
		CacheTTL: cfg.Feed.CacheTTL,
		Retry:    retryPolicy("feed", cfg.Retry.FeedAttempts, cfg.Retry.BaseDelay, cfg.Retry.FeedMaxDelay),
	}, deps.Cache, deps.Metrics, logger)

	set, err := loadPrompts(cfg.Chat.PromptsDir)
	if err != nil {
		deps.Close()
		return nil, err
	}

	tagger, err := utm.NewTagger(cfg.Chat.URLPattern, cfg.Chat.UTMSource)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("invalid chat.url_pattern: %w", err)
	}

	chatDeps := rag.Deps{
		LLM:      llm,
		Packages: deps.Catalog,
		Feed:     deps.Feed,
		Prompts:  set,
		Tagger:   tagger,
		Metrics:  deps.Metrics,
	}
	if cfg.Search.APIKey != "" && cfg.Search.EngineID != "" {
		links, err := websearch.NewClient(ctx, websearch.Config{
			APIKey:   cfg.Search.APIKey,
			EngineID: cfg.Search.EngineID,
		}, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to initialize web search: %w", err)
		}
		chatDeps.Web = websearch.NewResolver(links, deps.Catalog, logger)
	} else {
		logger.Warn("Web search disabled, unmatched questions will suggest the site homepage")
	}

	deps.Chat, err = rag.NewAdvancedChat(chatDeps, rag.Options{
		Model:         llm.ChatModel(),
		Temperature:   float32(cfg.Chat.Temperature),
		SearchURLBase: cfg.Search.SearchURLBase,
		SiteURL:       cfg.Search.SiteURL,
		WebSearchTop:  cfg.Search.Top,
	}, logger)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to initialize chat: %w", err)
	}

	if cfg.Audit.Enabled {
		deps.Audit, err = audit.NewLog(audit.Config{
			StorageType: cfg.Audit.StorageType,
			FilePath:    cfg.Audit.FilePath,
			DBPath:      cfg.Audit.DBPath,
		}, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to initialize audit log: %w", err)
		}
	}

	logger.Info("Service dependencies initialized")
	return deps, nil
}

// initializeCache prefers Redis and falls back to an in-process cache when it
// is disabled or unreachable at startup
func initializeCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (cache.Cache, *cache.Redis) {
	if cfg.Redis.Enabled {
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger)
		if err == nil {
			return r, r
		}
		logger.Warn("Redis unavailable, using in-memory feed cache", zap.Error(err))
	}
	return cache.NewMemory(memoryCacheEntries), nil
}

func loadPrompts(dir string) (*prompts.Set, error) {
	if dir == "" {
		set, err := prompts.Default()
		if err != nil {
			return nil, fmt.Errorf("failed to load built-in prompts: %w", err)
		}
		return set, nil
	}
	set, err := prompts.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to load prompts from %s: %w", dir, err)
	}
	return set, nil
}

func retryPolicy(name string, attempts int, base, maxDelay time.Duration) resilience.BackoffConfig {
	return resilience.BackoffConfig{
		Name:        name,
		BaseDelay:   base,
		MaxAttempts: attempts,
		MaxDelay:    maxDelay,
		Multiplier:  resilience.DefaultMultiplier,
		Jitter:      true,
		RetryOnFunc: resilience.DefaultRetryOnFunc,
	}
}

// setupHealthChecks registers dependency checks; Redis is optional since the
// feed cache degrades to memory
func setupHealthChecks(manager *health.Manager, deps *ServiceDependencies) {
	manager.SetTimeout(HealthCheckTimeout)

	manager.AddChecker("postgres", health.PingChecker("postgres", deps.Config.Database.PackageTable, deps.Catalog.Ping))
	manager.AddChecker("openai", health.ExternalServiceHealthChecker("openai", deps.OpenAI.Ping))
	if deps.Redis != nil {
		manager.AddOptionalChecker("redis", health.PingChecker("redis", deps.Config.Redis.Addr, deps.Redis.Ping))
	}
}
