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

package intent

import (
	"encoding/json"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/your-org/package-chat/internal/catalog"
)

// InfoGathered is what the hand-off follow-up call collected about the customer
type InfoGathered struct {
	PackageName string
	Location    string
	Budget      string
}

// SearchArguments are the web search terms generated for the user's question
type SearchArguments struct {
	Query     string
	Locations []string
}

// arguments decodes the JSON arguments of each call to the intent's tool, in call order.
// Calls with malformed arguments are skipped.
func arguments(msg openai.ChatCompletionMessage, i Intent) []map[string]any {
	var out []map[string]any
	for _, call := range msg.ToolCalls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}
		if i != None && call.Function.Name != i.String() {
			continue
		}
		args := map[string]any{}
		if strings.TrimSpace(call.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				continue
			}
		}
		out = append(out, args)
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	if s, ok := args[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// SpecifyPackageFilters turns a specify_package call into substring filters on url and
// package_name. No call, or a call without usable arguments, yields no filters.
func SpecifyPackageFilters(msg openai.ChatCompletionMessage) []catalog.Filter {
	var filters []catalog.Filter
	for _, args := range arguments(msg, SpecifyPackage) {
		if url := stringArg(args, "url"); url != "" {
			filters = append(filters, catalog.Filter{Column: "url", Operator: "ILIKE", Value: "%" + url + "%"})
		}
		if name := stringArg(args, "package_name"); name != "" {
			filters = append(filters, catalog.Filter{Column: "package_name", Operator: "ILIKE", Value: "%" + name + "%"})
		}
	}
	return filters
}

// ExtractURL returns the first url argument passed to any tool
func ExtractURL(msg openai.ChatCompletionMessage) string {
	for _, args := range arguments(msg, None) {
		if url := stringArg(args, "url"); url != "" {
			return url
		}
	}
	return ""
}

// ExtractPackageName returns the first package_name argument passed to any tool
func ExtractPackageName(msg openai.ChatCompletionMessage) string {
	for _, args := range arguments(msg, None) {
		if name := stringArg(args, "package_name"); name != "" {
			return name
		}
	}
	return ""
}

// ExtractInfoGathered reads a check_info_gathered call; ok is false when the tool was not called
func ExtractInfoGathered(msg openai.ChatCompletionMessage) (InfoGathered, bool) {
	calls := arguments(msg, CheckInfoGathered)
	if len(calls) == 0 {
		return InfoGathered{}, Selected(msg, CheckInfoGathered)
	}
	args := calls[len(calls)-1]
	return InfoGathered{
		PackageName: stringArg(args, "package_name"),
		Location:    stringArg(args, "location"),
		Budget:      stringArg(args, "budget"),
	}, true
}

// ExtractSearchArguments reads a search_google call
func ExtractSearchArguments(msg openai.ChatCompletionMessage) SearchArguments {
	calls := arguments(msg, SearchGoogle)
	if len(calls) == 0 {
		return SearchArguments{}
	}
	args := calls[len(calls)-1]

	result := SearchArguments{Query: stringArg(args, "search_query")}
	if raw, ok := args["locations"].([]any); ok {
		for _, item := range raw {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				result.Locations = append(result.Locations, strings.TrimSpace(s))
			}
		}
	}
	return result
}
