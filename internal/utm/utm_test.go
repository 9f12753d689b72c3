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

package utm

import (
	"testing"
)

const testPattern = `https://hdmall\.co\.th/[\p{L}\p{M}\p{N}_.,@?^=%&:/~+#-]+`

func TestAddParam(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://x/y?a=1", "https://x/y?a=1&utm_source=ai-chat"},
		{"https://x/y", "https://x/y?utm_source=ai-chat"},
		{"https://x/y?utm_source=line", "https://x/y?utm_source=line"},
		{"https://x/y.", "https://x/y?utm_source=ai-chat"},
		{"https://x/y?a=1&utm_source=ai-chat", "https://x/y?a=1&utm_source=ai-chat"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := AddParam(tt.in, DefaultSource); got != tt.want {
				t.Errorf("AddParam(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddParamIsIdempotent(t *testing.T) {
	once := AddParam("https://hdmall.co.th/a", DefaultSource)
	if twice := AddParam(once, DefaultSource); twice != once {
		t.Errorf("second call changed url: %q -> %q", once, twice)
	}
}

func TestTaggerApply(t *testing.T) {
	tagger, err := NewTagger(testPattern, "")
	if err != nil {
		t.Fatalf("NewTagger() error = %v", err)
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "standalone link",
			in:   "ดูแพ็กเกจได้ที่ https://hdmall.co.th/checkup ค่ะ",
			want: "ดูแพ็กเกจได้ที่ https://hdmall.co.th/checkup?utm_source=ai-chat ค่ะ",
		},
		{
			name: "trailing period at end",
			in:   "See https://hdmall.co.th/dental.",
			want: "See https://hdmall.co.th/dental?utm_source=ai-chat",
		},
		{
			name: "thai path and existing query",
			in:   "https://hdmall.co.th/search?q=ตรวจสุขภาพ\nmore",
			want: "https://hdmall.co.th/search?q=ตรวจสุขภาพ&utm_source=ai-chat\nmore",
		},
		{
			name: "markdown link target untouched",
			in:   "[link](https://hdmall.co.th/a)",
			want: "[link](https://hdmall.co.th/a)",
		},
		{
			name: "other hosts untouched",
			in:   "https://example.com/a",
			want: "https://example.com/a",
		},
		{
			name: "multiple links",
			in:   "https://hdmall.co.th/a and https://hdmall.co.th/b",
			want: "https://hdmall.co.th/a?utm_source=ai-chat and https://hdmall.co.th/b?utm_source=ai-chat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tagger.Apply(tt.in); got != tt.want {
				t.Errorf("Apply() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaggerApplyIsIdempotent(t *testing.T) {
	tagger, err := NewTagger(testPattern, "ai-chat")
	if err != nil {
		t.Fatalf("NewTagger() error = %v", err)
	}

	once := tagger.Apply("go to https://hdmall.co.th/a now")
	if twice := tagger.Apply(once); twice != once {
		t.Errorf("Apply not idempotent: %q -> %q", once, twice)
	}
}

func TestNewTaggerRejectsBadPattern(t *testing.T) {
	if _, err := NewTagger("(", "x"); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
