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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/config"
)

func TestAsk(t *testing.T) {
	chat := &fakeChat{resp: answer("See https://hdmall.co.th/lasik?utm_source=ai-chat&x=1")}
	var out bytes.Buffer

	require.NoError(t, ask(context.Background(), chat, "lasik price", &out))

	require.Len(t, chat.calls, 1)
	assert.Equal(t, "lasik price", chat.calls[0].LastUserText())

	var resp struct {
		ID      string `json:"id"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, "chatcmpl-1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "See https://hdmall.co.th/lasik?utm_source=ai-chat&x=1", resp.Choices[0].Message.Content)
}

func TestAskPropagatesErrors(t *testing.T) {
	err := ask(context.Background(), &fakeChat{err: errors.New("boom")}, "q", &bytes.Buffer{})
	assert.ErrorContains(t, err, "boom")
}

func TestInitializeLogger(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{level: "debug", want: zapcore.DebugLevel},
		{level: "info", want: zapcore.InfoLevel},
		{level: "warn", want: zapcore.WarnLevel},
		{level: "error", want: zapcore.ErrorLevel},
		{level: "verbose", want: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &config.Config{Logging: config.LoggingConfig{Level: tt.level, Format: "json", Output: "stdout"}}
			logger, level, err := initializeLogger(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, level.Level())
			assert.True(t, logger.Core().Enabled(tt.want))
			if tt.want > zapcore.DebugLevel {
				assert.False(t, logger.Core().Enabled(tt.want-1))
			}
		})
	}
}

func TestReloadLogLevel(t *testing.T) {
	cfg := &config.Config{Logging: config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}}
	logger, level, err := initializeLogger(cfg)
	require.NoError(t, err)
	reload := reloadLogLevel(level, logger)

	reload(&config.Config{Logging: config.LoggingConfig{Level: "debug"}})
	assert.Equal(t, zapcore.DebugLevel, level.Level())
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	reload(&config.Config{Logging: config.LoggingConfig{Level: "error"}})
	assert.Equal(t, zapcore.ErrorLevel, level.Level())
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))

	reload(&config.Config{Logging: config.LoggingConfig{Level: "verbose"}})
	assert.Equal(t, zapcore.InfoLevel, level.Level())
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearch{packages: []catalog.Package{{URL: "https://hdmall.co.th/a&b", PackageName: "LASIK"}}}
	var out bytes.Buffer

	require.NoError(t, search(context.Background(), searcher, "lasik", 3, "text", &out))

	require.Len(t, searcher.calls, 1)
	assert.Equal(t, searchCall{query: "lasik", top: 3, vector: false, fullText: true}, searcher.calls[0])
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "https://hdmall.co.th/a&b", resp.Packages[0].URL)
}

func TestSearchRejectsBadArguments(t *testing.T) {
	searcher := &fakeSearch{}

	assert.Error(t, search(context.Background(), searcher, "lasik", 0, "hybrid", &bytes.Buffer{}))
	assert.Error(t, search(context.Background(), searcher, "lasik", 5, "semantic", &bytes.Buffer{}))
	assert.Empty(t, searcher.calls)

	searcher.err = errors.New("connection refused")
	assert.ErrorContains(t, search(context.Background(), searcher, "lasik", 5, "hybrid", &bytes.Buffer{}), "connection refused")
}

func TestRootCommand(t *testing.T) {
	root := newRootCommand()

	names := []string{}
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "ask", "search"}, names)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("env-file"))

	root.SetArgs([]string{"ask"})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	assert.Error(t, root.Execute(), "ask requires a question")
}

func TestRetryPolicy(t *testing.T) {
	policy := retryPolicy("feed", 3, time.Second, 10*time.Second)

	assert.Equal(t, "feed", policy.Name)
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 10*time.Second, policy.MaxDelay)
	assert.True(t, policy.Jitter)
	assert.NotNil(t, policy.RetryOnFunc)
}

func TestLoadPrompts(t *testing.T) {
	set, err := loadPrompts("")
	require.NoError(t, err)
	assert.NotNil(t, set)

	_, err = loadPrompts(t.TempDir())
	assert.Error(t, err)
}
