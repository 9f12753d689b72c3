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

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

func staticChecker(status, errMsg string) Checker {
	return CheckerFunc(func(_ context.Context) CheckResult {
		return CheckResult{Status: status, Error: errMsg}
	})
}

func TestManager_Check(t *testing.T) {
	manager := NewManager("chat-api", "1.0.0", zap.NewNop())
	manager.AddChecker("postgres", staticChecker(StatusHealthy, ""))
	manager.AddChecker("openai", staticChecker(StatusUnhealthy, "service is down"))

	result := manager.Check(context.Background())

	if result.Status != StatusUnhealthy {
		t.Errorf("Expected status to be unhealthy, got %s", result.Status)
	}

	if result.Service != "chat-api" || result.Version != "1.0.0" {
		t.Errorf("Unexpected service identity %s %s", result.Service, result.Version)
	}

	if len(result.Dependencies) != 2 {
		t.Errorf("Expected 2 dependencies, got %d", len(result.Dependencies))
	}

	if result.Dependencies["openai"].Error != "service is down" {
		t.Errorf("Expected error message, got %s", result.Dependencies["openai"].Error)
	}

	if result.Dependencies["postgres"].Timestamp.IsZero() {
		t.Errorf("Expected timestamp to be stamped by the manager")
	}
}

func TestManager_Check_OptionalDependencyDegrades(t *testing.T) {
	manager := NewManager("chat-api", "1.0.0", nil)
	manager.AddChecker("postgres", staticChecker(StatusHealthy, ""))
	manager.AddOptionalChecker("redis", staticChecker(StatusUnhealthy, "redis ping failed"))

	result := manager.Check(context.Background())

	if result.Status != StatusDegraded {
		t.Errorf("Expected degraded status, got %s", result.Status)
	}
	if result.Dependencies["redis"].Status != StatusDegraded {
		t.Errorf("Expected optional dependency to be degraded, got %s", result.Dependencies["redis"].Status)
	}
}

func TestManager_Check_Timeout(t *testing.T) {
	manager := NewManager("chat-api", "1.0.0", zap.NewNop())
	manager.SetTimeout(20 * time.Millisecond)
	manager.AddChecker("slow", CheckerFunc(func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	}))

	start := time.Now()
	result := manager.Check(context.Background())

	if time.Since(start) > time.Second {
		t.Errorf("Expected check to honour timeout")
	}
	if result.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy after timeout, got %s", result.Status)
	}
}

func TestPingChecker(t *testing.T) {
	healthy := PingChecker("database", "packages", func(_ context.Context) error { return nil }).Check(context.Background())
	if healthy.Status != StatusHealthy || healthy.Metadata["database"] != "packages" {
		t.Errorf("Unexpected healthy result: %+v", healthy)
	}

	unhealthy := PingChecker("cache", "redis", func(_ context.Context) error {
		return errors.New("dial tcp: connection refused")
	}).Check(context.Background())
	if unhealthy.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", unhealthy.Status)
	}
}

func TestExternalServiceHealthChecker(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"healthy", nil, StatusHealthy},
		{"timeout degrades", errors.New("request timeout"), StatusDegraded},
		{"rate limited degrades", errors.New("retryable error (status 429): slow down"), StatusDegraded},
		{"auth failure is unhealthy", errors.New("invalid API key"), StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExternalServiceHealthChecker("openai", func(_ context.Context) error {
				return tt.err
			}).Check(context.Background())
			if result.Status != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result.Status)
			}
		})
	}
}

func TestManager_HTTPHandler(t *testing.T) {
	manager := NewManager("chat-api", "1.0.0", zap.NewNop())
	manager.AddChecker("postgres", staticChecker(StatusHealthy, ""))

	recorder := httptest.NewRecorder()
	manager.HTTPHandler()(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", recorder.Code)
	}

	var body HealthResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body.Status != StatusHealthy {
		t.Errorf("Expected healthy body, got %s", body.Status)
	}
}

func TestManager_HTTPHandler_ServiceUnavailable(t *testing.T) {
	manager := NewManager("chat-api", "1.0.0", zap.NewNop())
	manager.AddChecker("postgres", staticChecker(StatusUnhealthy, "down"))

	recorder := httptest.NewRecorder()
	manager.HTTPHandler()(recorder, httptest.NewRequest(http.MethodGet, "/health", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", recorder.Code)
	}
}

func TestManager_HTTPHandler_MethodNotAllowed(t *testing.T) {
	manager := NewManager("chat-api", "1.0.0", zap.NewNop())

	recorder := httptest.NewRecorder()
	manager.HTTPHandler()(recorder, httptest.NewRequest(http.MethodPost, "/health", nil))

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", recorder.Code)
	}
}
