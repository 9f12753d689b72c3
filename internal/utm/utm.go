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

// Package utm tags marketplace links in generated answers with a utm_source parameter.
package utm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultSource is the utm_source value used when none is configured
const DefaultSource = "ai-chat"

// AddParam appends utm_source to url unless it already carries one. Trailing periods are
// treated as sentence punctuation and dropped.
func AddParam(url, source string) string {
	url = strings.TrimRight(url, ".")
	if strings.Contains(url, "utm_source=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&utm_source=" + source
	}
	return url + "?utm_source=" + source
}

// Tagger rewrites every whitespace-delimited link matching its pattern
type Tagger struct {
	pattern *regexp.Regexp
	source  string
}

// NewTagger compiles pattern and returns a tagger for source
func NewTagger(pattern, source string) (*Tagger, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid url pattern: %w", err)
	}
	if source == "" {
		source = DefaultSource
	}
	return &Tagger{pattern: re, source: source}, nil
}

// Apply returns content with matching links tagged
func (t *Tagger) Apply(content string) string {
	return UpdateURLs(content, t.pattern, t.source)
}

// UpdateURLs tags each match of pattern that stands alone between whitespace or the text
// edges. Links embedded in other tokens, such as markdown link targets, are left untouched.
func UpdateURLs(content string, pattern *regexp.Regexp, source string) string {
	matches := pattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return content
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if !spaceBefore(content, start) || !spaceAfter(content, end) {
			continue
		}
		b.WriteString(content[last:start])
		b.WriteString(AddParam(content[start:end], source))
		last = end
	}
	b.WriteString(content[last:])
	return b.String()
}

func spaceBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsSpace(r)
}

func spaceAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsSpace(r)
}
