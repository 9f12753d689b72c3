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

package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/your-org/package-chat/internal/catalog"
	"github.com/your-org/package-chat/internal/conversation"
	"github.com/your-org/package-chat/internal/intent"
	"github.com/your-org/package-chat/internal/metrics"
	llm "github.com/your-org/package-chat/internal/openai"
	"github.com/your-org/package-chat/internal/prompts"
)

const cashDiscountNote = "\n\nThe current package the user has inquired about has a cash discount!\n" +
	"Include the following in your response as well :\n" +
	"หากคุณซื้อแพ็กเกจนี้ด้วยการจ่ายเต็มจำนวนผ่าน PromptPay คุณจะได้รับส่วนลดเพิ่ม %s บาท"

const filterURLNote = "\n\nAdd this url at the end of your response (if url is related to the query):"

// retrieval is the context gathered for the final answer
type retrieval struct {
	sources        []string
	filterURL      string
	cashDiscount   string
	highlightQuery string
	thoughts       []ThoughtStep
}

// searchAndAnswer looks up the packages the user named, falls back to web
// search when none match, and composes the answer from what was found.
func (a *AdvancedChat) searchAndAnswer(
	ctx context.Context,
	conv conversation.Conversation,
	routingConv conversation.Conversation,
	routing *llm.ChatCompletionResponse,
) (*ChatResponse, error) {
	filters := intent.SpecifyPackageFilters(routing.Message)
	highlightURL := intent.ExtractURL(routing.Message)

	var found retrieval
	var results []catalog.Package
	if len(filters) > 0 {
		var err error
		results, err = a.packages.SimpleSQLSearch(ctx, filters)
		if err != nil {
			return nil, fmt.Errorf("package search failed: %w", err)
		}
		if len(results) == 0 {
			a.logger.Info("No package matched the filters, falling back to web search")
			a.metrics.RecordFallback(metrics.FallbackNoResults)
		}
	} else {
		a.logger.Info("No package filters, using web search")
		a.metrics.RecordFallback(metrics.FallbackNoFilters)
	}

	if len(results) > 0 {
		found = a.catalogRetrieval(ctx, routingConv, filters, results)
	} else {
		var err error
		found, err = a.webRetrieval(ctx, conv)
		if err != nil {
			return nil, err
		}
	}

	highlight := ""
	if found.highlightQuery != "" || highlightURL != "" {
		highlight = a.feed.HighlightInfo(ctx, found.highlightQuery, highlightURL)
	}

	final := conv.WithSystem(a.prompts.Get(prompts.Answer)).
		WithAppendedText("\n\nHighlight Campaign Sources:\n" + highlight).
		WithAppendedText("\n\nSources:\n" + strings.Join(found.sources, "\n"))
	if found.cashDiscount != "" {
		final = final.WithAppendedText(fmt.Sprintf(cashDiscountNote, found.cashDiscount))
	}
	if found.filterURL != "" {
		final = final.WithAppendedText(filterURLNote + found.filterURL)
	}

	res, err := a.complete(ctx, final, answerTokenLimit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("answer failed: %w", err)
	}

	thoughts := append(found.thoughts, a.answerThought(final))
	return newResponse(res, res.Message, map[string]any{"text": found.sources}, thoughts), nil
}

func (a *AdvancedChat) catalogRetrieval(
	ctx context.Context,
	routingConv conversation.Conversation,
	filters []catalog.Filter,
	results []catalog.Package,
) retrieval {
	sources := make([]string, len(results))
	for i, p := range results {
		sources[i] = catalog.SourceEntry(p, true)
	}
	filterURL := a.searchURLs(results)

	return retrieval{
		sources:      sources,
		filterURL:    filterURL,
		cashDiscount: a.feed.CashDiscount(ctx, results[0].URL),
		thoughts: []ThoughtStep{
			{
				Title:       "Prompt to specify package",
				Description: routingConv.Describe(),
				Props:       map[string]any{"model": a.opts.Model},
			},
			step("Specified package filters", filters),
			step("SQL search results", results),
			step("Url to suggest for the filter search", filterURL),
		},
	}
}

// searchURLs returns the distinct category search pages of results, space separated
func (a *AdvancedChat) searchURLs(results []catalog.Package) string {
	seen := make(map[string]bool, len(results))
	urls := make([]string, 0, len(results))
	for _, p := range results {
		u := p.SearchURL(a.opts.SearchURLBase)
		if !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return strings.Join(urls, " ")
}

// webRetrieval asks the model for search keywords, then resolves web results
// against the catalog. With no hit the site homepage is suggested.
func (a *AdvancedChat) webRetrieval(ctx context.Context, conv conversation.Conversation) (retrieval, error) {
	tags := a.feed.HighlightTags(ctx)
	queryConv := conv.WithSystem(a.prompts.Get(prompts.Query)).WithAppendedText("\n\nTAGS:\n" + tags)

	res, err := a.complete(ctx, queryConv, queryTokenLimit,
		[]openai.Tool{intent.Tool(intent.SearchGoogle)}, intent.ForcedChoice(intent.SearchGoogle))
	if err != nil {
		return retrieval{}, fmt.Errorf("search query generation failed: %w", err)
	}

	args := intent.ExtractSearchArguments(res.Message)
	queryText, exactTerm := args.Query, ""
	if len(args.Locations) > 0 {
		quoted := make([]string, len(args.Locations))
		for i, location := range args.Locations {
			quoted[i] = `"` + location + `"`
		}
		// locations widen the results, so the keywords must still appear verbatim
		queryText = args.Query + " " + strings.Join(quoted, " OR ")
		exactTerm = args.Query
	}

	packages := []catalog.Package{}
	isFound := false
	if a.web != nil {
		hits, ok, err := a.web.Search(ctx, queryText, exactTerm, a.opts.WebSearchTop)
		if err != nil {
			a.logger.Warn("Web search failed", zap.String("query", queryText), zap.Error(err))
		} else if ok {
			packages, isFound = hits, true
		}
	}

	found := retrieval{highlightQuery: args.Query}
	if isFound {
		found.sources = make([]string, len(packages))
		for i, p := range packages {
			found.sources[i] = catalog.SourceEntry(p, false)
		}
		found.filterURL = packages[0].SearchURL(a.opts.SearchURLBase)
	} else {
		found.sources = []string{}
		found.filterURL = a.opts.SiteURL
		a.metrics.RecordFallback(metrics.FallbackWebMissing)
	}

	found.thoughts = []ThoughtStep{
		step("Prompt to generate search arguments", queryConv.Describe()),
		step("Google Search query", queryText),
		step("Google Search results", packages),
		step("Url to suggest for the filter search", found.filterURL),
	}
	return found, nil
}
