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

// Package feed reads marketing data (payment promotions, highlight campaigns, payment
// methods and cash discounts) from the spreadsheet-backed feed endpoint.
package feed

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/package-chat/internal/cache"
	"github.com/your-org/package-chat/internal/resilience"
)

// Info selects which sheet the feed answers from
type Info string

const (
	InfoCreditCard    Info = "credit_card"
	InfoHighlight     Info = "highlight"
	InfoHighlightTags Info = "highlight_tags"
	InfoPaymentMethod Info = "payment_method"
	InfoDiscount      Info = "discount"
)

// Outcomes reported to the Recorder
const (
	OutcomeHit     = "cache_hit"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder receives one outcome per feed lookup
type Recorder interface {
	FeedRequest(info, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) FeedRequest(string, string) {}

// Config configures the feed client
type Config struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
	Retry    resilience.BackoffConfig
}

// Client posts lookups to the feed endpoint. Lookups never fail the chat flow: after
// retries are exhausted they log a warning and return an empty value.
type Client struct {
	url        string
	httpClient *http.Client
	cache      cache.Cache
	cacheTTL   time.Duration
	retry      resilience.BackoffConfig
	recorder   Recorder
	logger     *zap.Logger
}

// NewClient creates a feed client; store may be nil to disable caching
func NewClient(cfg Config, store cache.Cache, recorder Recorder, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = cache.Nop{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.FeedBackoffConfig()
	}
	cfg.Retry.RetryOnFunc = resilience.DefaultRetryOnFunc

	return &Client{
		url:        cfg.URL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      store,
		cacheTTL:   cfg.CacheTTL,
		retry:      cfg.Retry,
		recorder:   recorder,
		logger:     logger,
	}
}

// request is the body every feed lookup posts
type request struct {
	Info          Info   `json:"info"`
	HighlightName string `json:"highlight_name"`
	HighlightURL  string `json:"highlight_url"`
	PackageURL    string `json:"package_url"`
}

func (r request) cacheKey() string {
	sum := sha256.Sum256([]byte(r.HighlightName + "\x00" + r.HighlightURL + "\x00" + r.PackageURL))
	return "feed:" + string(r.Info) + ":" + hex.EncodeToString(sum[:8])
}

// StatusError is a non-2xx answer from the feed
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed returned status %d: %s", e.StatusCode, e.Body)
}

// fetch returns the raw JSON answer for req, from cache when possible
func (c *Client) fetch(ctx context.Context, req request) (json.RawMessage, error) {
	key := req.cacheKey()
	if c.cacheTTL > 0 {
		if cached, err := c.cache.Get(ctx, key); err == nil {
			c.recorder.FeedRequest(string(req.Info), OutcomeHit)
			return cached, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			c.logger.Warn("Feed cache read failed", zap.String("info", string(req.Info)), zap.Error(err))
		}
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal feed request: %w", err)
	}

	var body []byte
	retry := c.retry
	retry.Name = "feed_" + string(req.Info)
	err = resilience.WithExponentialBackoff(ctx, c.logger, retry, func(ctx context.Context) error {
		var callErr error
		body, callErr = c.post(ctx, payload)
		return callErr
	})
	if err != nil {
		c.recorder.FeedRequest(string(req.Info), OutcomeFailure)
		return nil, err
	}
	c.recorder.FeedRequest(string(req.Info), OutcomeSuccess)

	if c.cacheTTL > 0 {
		if err := c.cache.Set(ctx, key, body, c.cacheTTL); err != nil {
			c.logger.Warn("Feed cache write failed", zap.String("info", string(req.Info)), zap.Error(err))
		}
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.Permanent(fmt.Errorf("failed to create feed request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, resilience.Permanent(statusErr)
	}

	if !json.Valid(body) {
		return nil, resilience.Permanent(fmt.Errorf("feed returned invalid JSON: %s", truncate(string(body), 200)))
	}
	return body, nil
}

// lookup fetches and decodes into out, logging and reporting false on any failure
func (c *Client) lookup(ctx context.Context, req request, out any) bool {
	body, err := c.fetch(ctx, req)
	if err != nil {
		c.logger.Warn("Feed lookup failed",
			zap.String("info", string(req.Info)),
			zap.Error(err))
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Warn("Feed response has unexpected shape",
			zap.String("info", string(req.Info)),
			zap.Error(err))
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
