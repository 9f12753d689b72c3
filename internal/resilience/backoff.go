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

// Package resilience provides retry with randomized exponential backoff and
// the service error type shared by the chat API.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig holds configuration for exponential backoff retry logic
type BackoffConfig struct {
	Name        string
	BaseDelay   time.Duration
	MaxAttempts int
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool
	RetryOnFunc func(error) bool
}

const (
	// ChatMaxAttempts bounds calls to the chat completion model
	ChatMaxAttempts = 6
	// ChatMaxDelaySeconds caps the wait between chat completion attempts
	ChatMaxDelaySeconds = 60
	// FeedMaxAttempts bounds calls to the promo/info feed
	FeedMaxAttempts = 3
	// FeedMaxDelaySeconds caps the wait between feed attempts
	FeedMaxDelaySeconds = 10
	// DefaultMultiplier is the default exponential backoff multiplier
	DefaultMultiplier = 2.0
)

// ChatBackoffConfig returns the retry policy for chat completions:
// randomized exponential waits between 1s and 60s, six attempts in total
func ChatBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Name:        "chat_completion",
		BaseDelay:   1 * time.Second,
		MaxAttempts: ChatMaxAttempts,
		MaxDelay:    ChatMaxDelaySeconds * time.Second,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
		RetryOnFunc: DefaultRetryOnFunc,
	}
}

// FeedBackoffConfig returns the retry policy for the promo/info feed:
// randomized exponential waits between 1s and 10s, three attempts in total
func FeedBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Name:        "feed",
		BaseDelay:   1 * time.Second,
		MaxAttempts: FeedMaxAttempts,
		MaxDelay:    FeedMaxDelaySeconds * time.Second,
		Multiplier:  DefaultMultiplier,
		Jitter:      true,
		RetryOnFunc: DefaultRetryOnFunc,
	}
}

// DefaultRetryOnFunc determines if an error should trigger a retry
func DefaultRetryOnFunc(err error) bool {
	if err == nil {
		return false
	}

	// Don't retry on context cancellation or deadline exceeded
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var permanent *PermanentError
	return !errors.As(err, &permanent)
}

// PermanentError marks a failure that retrying cannot fix
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so that WithExponentialBackoff stops immediately
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// RetryFunc is a function that can be retried with exponential backoff
type RetryFunc func(ctx context.Context) error

// Delay returns the wait before the retry following the given zero-based attempt.
// With jitter the wait is drawn uniformly between BaseDelay and the exponential ceiling.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	ceiling := time.Duration(float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt)))
	if c.MaxDelay > 0 && ceiling > c.MaxDelay {
		ceiling = c.MaxDelay
	}
	if !c.Jitter || ceiling <= c.BaseDelay {
		return ceiling
	}
	return c.BaseDelay + time.Duration(rand.Int64N(int64(ceiling-c.BaseDelay)+1))
}

// WithExponentialBackoff executes a function with exponential backoff retry logic
func WithExponentialBackoff(ctx context.Context, logger *zap.Logger, config BackoffConfig, fn RetryFunc) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.RetryOnFunc == nil {
		config.RetryOnFunc = DefaultRetryOnFunc
	}

	var lastErr error

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				logger.Info("Operation succeeded after retry",
					zap.String("operation", config.Name),
					zap.Int("attempt", attempt+1),
					zap.Int("max_attempts", config.MaxAttempts))
			}
			return nil
		}

		lastErr = err

		if !config.RetryOnFunc(err) {
			logger.Debug("Error is not retryable, stopping attempts",
				zap.String("operation", config.Name),
				zap.Error(err),
				zap.Int("attempt", attempt+1))
			return err
		}

		// Don't sleep on the last attempt
		if attempt == config.MaxAttempts-1 {
			break
		}

		delay := config.Delay(attempt)

		logger.Warn("Retrying after delay",
			zap.String("operation", config.Name),
			zap.Error(err),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Int("max_attempts", config.MaxAttempts))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	logger.Error("All retry attempts exhausted",
		zap.String("operation", config.Name),
		zap.Error(lastErr),
		zap.Int("total_attempts", config.MaxAttempts))

	return fmt.Errorf("operation failed after %d attempts: %w", config.MaxAttempts, lastErr)
}
