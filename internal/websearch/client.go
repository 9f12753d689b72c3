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

// Package websearch queries a Google Programmable Search engine scoped to the
// marketplace and resolves the returned links to catalog packages.
package websearch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/your-org/package-chat/internal/catalog"
)

// DefaultTop is the number of packages kept from a web search
const DefaultTop = 3

// Config holds the Programmable Search credentials
type Config struct {
	APIKey   string
	EngineID string
	// Endpoint overrides the API base URL, used by tests
	Endpoint string
}

// Client returns result links for a query
type Client struct {
	service  *customsearch.Service
	engineID string
	logger   *zap.Logger
}

// NewClient creates a Programmable Search client
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" || cfg.EngineID == "" {
		return nil, errors.New("web search requires an API key and engine ID")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := customsearch.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create custom search service: %w", err)
	}

	return &Client{service: service, engineID: cfg.EngineID, logger: logger}, nil
}

// Links returns the result links for query. When exactTerm yields nothing the
// search is repeated once without it.
func (c *Client) Links(ctx context.Context, query, exactTerm string) ([]string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	links, err := c.list(ctx, query, exactTerm)
	if err != nil {
		return nil, err
	}
	if len(links) == 0 && exactTerm != "" {
		c.logger.Debug("No results with exact term, retrying without it",
			zap.String("query", query),
			zap.String("exact_term", exactTerm))
		return c.list(ctx, query, "")
	}
	return links, nil
}

func (c *Client) list(ctx context.Context, query, exactTerm string) ([]string, error) {
	call := c.service.Cse.List().Cx(c.engineID).Q(query).Context(ctx)
	if exactTerm != "" {
		call = call.ExactTerms(exactTerm)
	}

	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("custom search failed: %w", err)
	}

	links := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		if item.Link != "" {
			links = append(links, item.Link)
		}
	}

	c.logger.Debug("Custom search completed",
		zap.String("query", query),
		zap.Int("links", len(links)))
	return links, nil
}

// LinkSource returns result links for a query
type LinkSource interface {
	Links(ctx context.Context, query, exactTerm string) ([]string, error)
}

// PackageLookup resolves package URLs to catalog rows
type PackageLookup interface {
	GetByURLs(ctx context.Context, urls []string) ([]catalog.Package, error)
}

// Resolver maps web search hits onto catalog packages
type Resolver struct {
	links   LinkSource
	catalog PackageLookup
	logger  *zap.Logger
}

// NewResolver creates a Resolver
func NewResolver(links LinkSource, lookup PackageLookup, logger *zap.Logger) *Resolver {
	return &Resolver{links: links, catalog: lookup, logger: logger}
}

// Search runs the web search and returns up to top catalog packages in result
// order. found reports whether any link matched a package.
func (r *Resolver) Search(ctx context.Context, query, exactTerm string, top int) ([]catalog.Package, bool, error) {
	if top <= 0 {
		top = DefaultTop
	}

	links, err := r.links.Links(ctx, query, exactTerm)
	if err != nil {
		return nil, false, err
	}

	urls := NormalizeLinks(links)
	if len(urls) == 0 {
		return nil, false, nil
	}

	packages, err := r.catalog.GetByURLs(ctx, urls)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve search links: %w", err)
	}
	if len(packages) > top {
		packages = packages[:top]
	}

	r.logger.Info("Web search resolved",
		zap.String("query", query),
		zap.Int("links", len(links)),
		zap.Int("packages", len(packages)))
	return packages, len(packages) > 0, nil
}

// NormalizeLinks strips query strings and fragments, dropping duplicates and
// unparsable links while keeping order.
func NormalizeLinks(links []string) []string {
	seen := make(map[string]bool, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		u, err := url.Parse(strings.TrimSpace(link))
		if err != nil || u.Host == "" {
			continue
		}
		u.RawQuery = ""
		u.Fragment = ""
		normalized := u.String()
		if seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}
