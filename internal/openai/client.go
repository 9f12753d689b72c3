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

package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/package-chat/internal/resilience"
)

const (
	// DefaultEmbeddingModel is used when no embedding model is configured
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// DefaultEmbeddingDimensions is the vector width stored in the package catalog
	DefaultEmbeddingDimensions = 1536
	// DefaultChatModel is used when no chat model is configured
	DefaultChatModel = "gpt-4o-mini"
)

// Config carries everything needed to build a Client
type Config struct {
	APIKey          string
	BaseURL         string
	ChatModel       string
	EmbedModel      string
	EmbedDimensions int
	ChatRetry       resilience.BackoffConfig
	EmbedRetry      resilience.BackoffConfig
}

// Client wraps the go-openai client with retry and logging
type Client struct {
	client          *openai.Client
	logger          *zap.Logger
	chatModel       string
	embedModel      string
	embedDimensions int
	chatRetry       resilience.BackoffConfig
	embedRetry      resilience.BackoffConfig
}

// EmbeddingUsage tracks embedding API usage
type EmbeddingUsage struct {
	TokensUsed     int
	ProcessingTime time.Duration
}

// EmbeddingResponse represents the response from embedding operations
type EmbeddingResponse struct {
	Embeddings [][]float32
	Usage      EmbeddingUsage
}

// RetryableError represents an error that can be retried
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, e.Message)
}

// NewClient creates a new OpenAI-compatible client
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = DefaultEmbeddingModel
	}
	if cfg.EmbedDimensions <= 0 {
		cfg.EmbedDimensions = DefaultEmbeddingDimensions
	}
	if cfg.ChatRetry.MaxAttempts == 0 {
		cfg.ChatRetry = resilience.ChatBackoffConfig()
	}
	if cfg.EmbedRetry.MaxAttempts == 0 {
		cfg.EmbedRetry = resilience.FeedBackoffConfig()
		cfg.EmbedRetry.Name = "embedding"
	}

	c := &Client{
		client:          openai.NewClientWithConfig(clientConfig),
		logger:          logger,
		chatModel:       cfg.ChatModel,
		embedModel:      cfg.EmbedModel,
		embedDimensions: cfg.EmbedDimensions,
		chatRetry:       cfg.ChatRetry,
		embedRetry:      cfg.EmbedRetry,
	}
	c.chatRetry.RetryOnFunc = isRetryable
	c.embedRetry.RetryOnFunc = isRetryable

	logger.Info("OpenAI client initialized",
		zap.String("chat_model", c.chatModel),
		zap.String("embed_model", c.embedModel),
		zap.Int("embed_dimensions", c.embedDimensions),
		zap.Int("chat_max_attempts", c.chatRetry.MaxAttempts),
	)

	return c, nil
}

// ChatModel returns the default chat model name
func (c *Client) ChatModel() string {
	return c.chatModel
}

// ChatCompletionRequest represents a chat completion request, optionally carrying tools
type ChatCompletionRequest struct {
	Messages    []openai.ChatCompletionMessage
	Tools       []openai.Tool
	ToolChoice  any
	MaxTokens   int
	Temperature float32
	Model       string
}

// ChatCompletionResponse represents the first choice of a chat completion
type ChatCompletionResponse struct {
	ID           string
	Created      int64
	Model        string
	Message      openai.ChatCompletionMessage
	FinishReason string
	Usage        openai.Usage
}

// CreateChatCompletion creates a chat completion with randomized exponential retry
func (c *Client) CreateChatCompletion(ctx context.Context, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.chatModel
	}

	// a zero temperature is dropped by omitempty and the API falls back to 1
	temperature := req.Temperature
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	openaiReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	}
	if len(req.Tools) > 0 {
		openaiReq.Tools = req.Tools
		openaiReq.ToolChoice = req.ToolChoice
	}

	c.logger.Debug("Creating chat completion",
		zap.String("model", req.Model),
		zap.Int("max_tokens", req.MaxTokens),
		zap.Float64("temperature", float64(req.Temperature)),
		zap.Int("message_count", len(req.Messages)),
		zap.Int("tool_count", len(req.Tools)),
	)

	var resp openai.ChatCompletionResponse
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.chatRetry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateChatCompletion(ctx, openaiReq)
		if callErr != nil {
			return c.handleAPIError(callErr)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	c.logger.Debug("Chat completion successful",
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Int("tool_calls", len(resp.Choices[0].Message.ToolCalls)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)

	return &ChatCompletionResponse{
		ID:           resp.ID,
		Created:      resp.Created,
		Model:        resp.Model,
		Message:      resp.Choices[0].Message,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage:        resp.Usage,
	}, nil
}

// EmbedTexts generates embeddings for multiple texts in one request
func (c *Client) EmbedTexts(ctx context.Context, texts []string) (*EmbeddingResponse, error) {
	if len(texts) == 0 {
		return &EmbeddingResponse{Embeddings: [][]float32{}}, nil
	}

	start := time.Now()
	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(c.embedModel),
		Dimensions: c.embedDimensions,
	}

	var resp openai.EmbeddingResponse
	err := resilience.WithExponentialBackoff(ctx, c.logger, c.embedRetry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.client.CreateEmbeddings(ctx, req)
		if callErr != nil {
			return c.handleAPIError(callErr)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("Failed to create embeddings",
			zap.Error(err),
			zap.Int("text_count", len(texts)),
		)
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("unexpected response: got %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		if len(item.Embedding) != c.embedDimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", item.Index, len(item.Embedding), c.embedDimensions)
		}
		embeddings[item.Index] = item.Embedding
	}

	processingTime := time.Since(start)
	c.logger.Debug("Embedding generation completed",
		zap.Int("text_count", len(texts)),
		zap.Int("tokens_used", resp.Usage.PromptTokens),
		zap.Duration("processing_time", processingTime),
	)

	return &EmbeddingResponse{
		Embeddings: embeddings,
		Usage: EmbeddingUsage{
			TokensUsed:     resp.Usage.PromptTokens,
			ProcessingTime: processingTime,
		},
	}, nil
}

// EmbedQuery generates an embedding for a single query text
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if query == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}

	response, err := c.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return response.Embeddings[0], nil
}

// Ping checks that the API answers an authenticated request
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return c.handleAPIError(err)
	}
	return nil
}

// handleAPIError handles OpenAI API errors and determines if they are retryable
func (c *Client) handleAPIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return &RetryableError{
				StatusCode: apiErr.HTTPStatusCode,
				Message:    apiErr.Message,
			}
		case http.StatusUnauthorized:
			return resilience.Permanent(fmt.Errorf("invalid API key or unauthorized access: %w", err))
		default:
			return resilience.Permanent(fmt.Errorf("OpenAI API error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message))
		}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= http.StatusInternalServerError {
		return &RetryableError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}

	return fmt.Errorf("OpenAI client error: %w", err)
}

// isRetryable retries rate limits, server errors and transport failures
func isRetryable(err error) bool {
	var retryErr *RetryableError
	if errors.As(err, &retryErr) {
		return true
	}
	return resilience.DefaultRetryOnFunc(err)
}
