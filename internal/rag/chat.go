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

// Package rag routes a marketplace chat turn to an intent, gathers the
// catalog, web and feed context that intent needs, and composes the answer.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/conversation"
	"github.com/your-org/package-chat/internal/intent"
	llm "github.com/your-org/package-chat/internal/openai"
	"github.com/your-org/package-chat/internal/prompts"
	"github.com/your-org/package-chat/internal/utm"
)

// Completion budgets per call
const (
	routingTokenLimit     = 300
	shortAnswerTokenLimit = 300
	installmentTokenLimit = 400
	gatherTokenLimit      = 300
	queryTokenLimit       = 500
	answerTokenLimit      = 4096
)

// ErrEmptyConversation is returned when there is nothing to answer
var ErrEmptyConversation = errors.New("conversation has no messages")

// ChatCompleter issues chat completion requests
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req llm.ChatCompletionRequest) (*llm.ChatCompletionResponse, error)
}

// PackageSearcher runs structured catalog lookups
type PackageSearcher interface {
	SimpleSQLSearch(ctx context.Context, filters []catalog.Filter) ([]catalog.Package, error)
}

// WebSearcher finds catalog packages through web search
type WebSearcher interface {
	Search(ctx context.Context, query, exactTerm string, top int) ([]catalog.Package, bool, error)
}

// FeedSource answers marketing lookups; failures come back as ""
type FeedSource interface {
	PaymentPromos(ctx context.Context) string
	HighlightInfo(ctx context.Context, name, url string) string
	HighlightTags(ctx context.Context) string
	PaymentMethod(ctx context.Context, packageURL string) string
	CashDiscount(ctx context.Context, packageURL string) string
}

// Recorder receives routing metrics
type Recorder interface {
	RecordRoute(route string)
	RecordFallback(reason string)
	ObserveChat(route, status string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordRoute(string)                       {}
func (nopRecorder) RecordFallback(string)                    {}
func (nopRecorder) ObserveChat(string, string, time.Duration) {}

// Options tunes the chat flow
type Options struct {
	Model       string
	Temperature float32
	// SearchURLBase is the marketplace search page suggested to users
	SearchURLBase string
	// SiteURL is suggested when no package matched
	SiteURL      string
	WebSearchTop int
}

// Deps are the collaborators of AdvancedChat. Web, Tagger and Metrics are optional.
type Deps struct {
	LLM      ChatCompleter
	Packages PackageSearcher
	Web      WebSearcher
	Feed     FeedSource
	Prompts  *prompts.Set
	Tagger   *utm.Tagger
	Metrics  Recorder
}

// AdvancedChat answers one chat turn at a time; it holds no per-request state
type AdvancedChat struct {
	llm      ChatCompleter
	packages PackageSearcher
	web      WebSearcher
	feed     FeedSource
	prompts  *prompts.Set
	tagger   *utm.Tagger
	metrics  Recorder
	opts     Options
	logger   *zap.Logger
}

// NewAdvancedChat creates the orchestrator
func NewAdvancedChat(deps Deps, opts Options, logger *zap.Logger) (*AdvancedChat, error) {
	switch {
	case deps.LLM == nil:
		return nil, errors.New("chat completer is required")
	case deps.Packages == nil:
		return nil, errors.New("package searcher is required")
	case deps.Feed == nil:
		return nil, errors.New("feed source is required")
	case deps.Prompts == nil:
		return nil, errors.New("prompt set is required")
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if opts.Model == "" {
		opts.Model = llm.DefaultChatModel
	}
	if opts.SiteURL == "" {
		opts.SiteURL = "https://hdmall.co.th"
	}
	if opts.SearchURLBase == "" {
		opts.SearchURLBase = opts.SiteURL + "/search"
	}
	if opts.WebSearchTop <= 0 {
		opts.WebSearchTop = 3
	}

	return &AdvancedChat{
		llm:      deps.LLM,
		packages: deps.Packages,
		web:      deps.Web,
		feed:     deps.Feed,
		prompts:  deps.Prompts,
		tagger:   deps.Tagger,
		metrics:  deps.Metrics,
		opts:     opts,
		logger:   logger,
	}, nil
}

// Run classifies the latest turn and answers it. Links to the marketplace in
// the answer carry the UTM source when a tagger is configured.
func (a *AdvancedChat) Run(ctx context.Context, conv conversation.Conversation) (*ChatResponse, error) {
	if conv.Len() == 0 {
		return nil, ErrEmptyConversation
	}

	start := time.Now()
	resp, route, err := a.run(ctx, conv)
	elapsed := time.Since(start)
	if err != nil {
		a.metrics.ObserveChat(route.String(), "error", elapsed)
		return nil, err
	}
	a.metrics.ObserveChat(route.String(), "ok", elapsed)
	a.metrics.RecordRoute(route.String())

	if a.tagger != nil {
		resp.SetContent(a.tagger.Apply(resp.Content()))
	}
	resp.Route = route.String()

	a.logger.Info("Chat turn answered",
		zap.String("route", resp.Route),
		zap.Duration("elapsed", elapsed),
		zap.Int("thoughts", len(resp.Thoughts())))
	return resp, nil
}

func (a *AdvancedChat) run(ctx context.Context, conv conversation.Conversation) (*ChatResponse, intent.Intent, error) {
	routingConv := conv.WithSystem(a.prompts.Get(prompts.SpecifyPackage))
	routing, err := a.complete(ctx, routingConv, routingTokenLimit, intent.RoutingTools(), nil)
	if err != nil {
		return nil, intent.None, fmt.Errorf("routing call failed: %w", err)
	}

	route := intent.Route(routing.Message)
	a.logger.Info("Route selected", zap.String("route", route.String()))

	var resp *ChatResponse
	switch route {
	case intent.Welcome, intent.GenericQuery:
		resp, err = a.answerWithPrompt(ctx, conv, prompts.Answer, shortAnswerTokenLimit, true)
	case intent.Pharmacy:
		resp, err = a.answerWithPrompt(ctx, conv, prompts.Pharmacy, shortAnswerTokenLimit, true)
	case intent.PaymentQuery:
		method := a.feed.PaymentMethod(ctx, intent.ExtractURL(routing.Message))
		resp, err = a.answerWithPrompt(ctx, conv.WithAppendedText("\n\nPayment Method:\n"+method),
			prompts.Payment, shortAnswerTokenLimit, true)
	case intent.PaymentPromo:
		promos := a.feed.PaymentPromos(ctx)
		resp, err = a.answerWithPrompt(ctx, conv.WithAppendedText("\n\nPayment Promotion Sources:\n"+promos),
			prompts.Promo, answerTokenLimit, false)
	case intent.Installments:
		resp, err = a.answerWithPrompt(ctx, conv, prompts.Installment, installmentTokenLimit, false)
	case intent.Coupon:
		resp, err = a.answerWithPrompt(ctx, conv, prompts.Coupon, shortAnswerTokenLimit, true)
	case intent.AppLink:
		resp, err = a.answerWithPrompt(ctx, conv, prompts.AppLink, shortAnswerTokenLimit, true)
	case intent.ClearHistory:
		resp = sentinel(routing, SentinelClearHistory)
	case intent.HandoverToCX:
		resp, err = a.handoverToCX(ctx, conv, routing)
	case intent.HandoverToBK:
		resp = sentinel(routing, SentinelHandoverBK)
	case intent.ImmediateHandover:
		resp = sentinel(routing, SentinelImmediateHandover+intent.ExtractPackageName(routing.Message))
	default:
		resp, err = a.searchAndAnswer(ctx, conv, routingConv, routing)
	}
	if err != nil {
		return nil, route, err
	}
	return resp, route, nil
}

func (a *AdvancedChat) complete(
	ctx context.Context,
	conv conversation.Conversation,
	maxTokens int,
	tools []openai.Tool,
	toolChoice any,
) (*llm.ChatCompletionResponse, error) {
	return a.llm.CreateChatCompletion(ctx, llm.ChatCompletionRequest{
		Messages:    conv.ToOpenAI(),
		Tools:       tools,
		ToolChoice:  toolChoice,
		MaxTokens:   maxTokens,
		Temperature: a.opts.Temperature,
		Model:       a.opts.Model,
	})
}

// answerWithPrompt answers from a single template with no retrieval
func (a *AdvancedChat) answerWithPrompt(
	ctx context.Context,
	conv conversation.Conversation,
	name prompts.Name,
	maxTokens int,
	withThought bool,
) (*ChatResponse, error) {
	res, err := a.complete(ctx, conv.WithSystem(a.prompts.Get(name)), maxTokens, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%s answer failed: %w", name, err)
	}

	thoughts := []ThoughtStep{}
	if withThought {
		thoughts = append(thoughts, a.answerThought(conv))
	}
	return newResponse(res, res.Message, "", thoughts), nil
}

// handoverToCX either hands off with the collected details or asks the user
// for whatever is still missing.
func (a *AdvancedChat) handoverToCX(
	ctx context.Context,
	conv conversation.Conversation,
	routing *llm.ChatCompletionResponse,
) (*ChatResponse, error) {
	a.logger.Info("Checking whether hand-off details were gathered")

	gatherConv := conv.WithSystem(a.prompts.Get(prompts.Gather))
	check, err := a.complete(ctx, gatherConv, gatherTokenLimit,
		[]openai.Tool{intent.Tool(intent.CheckInfoGathered)}, nil)
	if err != nil {
		return nil, fmt.Errorf("gather check failed: %w", err)
	}

	if info, ok := intent.ExtractInfoGathered(check.Message); ok {
		note := fmt.Sprintf("Package: %s \nLocation: %s \nBudget: %s", info.PackageName, info.Location, info.Budget)
		return sentinel(routing, SentinelHandoverCX+note), nil
	}

	question := check.Message.Content
	a.logger.Info("Asking user for hand-off details", zap.String("question", question))

	final := conv.WithAppendedText("Ask the following question to user: " + question).
		WithSystem(a.prompts.Get(prompts.Gather))
	res, err := a.complete(ctx, final, answerTokenLimit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("gather answer failed: %w", err)
	}

	thoughts := []ThoughtStep{
		step("Prompt to gather info", gatherConv.Describe()),
		step("Information gathered", question),
		a.answerThought(final),
	}
	return newResponse(res, res.Message, map[string]any{"text": question}, thoughts), nil
}

func (a *AdvancedChat) answerThought(conv conversation.Conversation) ThoughtStep {
	return ThoughtStep{
		Title:       "Prompt to generate answer",
		Description: conv.Describe(),
		Props:       map[string]any{"model": a.opts.Model},
	}
}

func newResponse(res *llm.ChatCompletionResponse, msg openai.ChatCompletionMessage, dataPoints any, thoughts []ThoughtStep) *ChatResponse {
	return &ChatResponse{
		ID:      res.ID,
		Object:  "chat.completion",
		Created: res.Created,
		Model:   res.Model,
		Choices: []Choice{{
			Message:      msg,
			FinishReason: res.FinishReason,
			Context:      ResponseContext{DataPoints: dataPoints, Thoughts: thoughts},
		}},
		Usage: res.Usage,
	}
}

// sentinel turns the routing response into a control marker with the tool calls removed
func sentinel(routing *llm.ChatCompletionResponse, marker string) *ChatResponse {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: marker}
	resp := newResponse(routing, msg, "", []ThoughtStep{})
	resp.Choices[0].FinishReason = string(openai.FinishReasonStop)
	return resp
}
