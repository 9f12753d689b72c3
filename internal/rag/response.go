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
	"github.com/sashabaranov/go-openai"
)

// Control markers returned in place of an answer for the messaging layer
const (
	SentinelClearHistory      = "QISCUS_CLEAR_HISTORY"
	SentinelHandoverCX        = "QISCUS_INTEGRATION_TO_CX: "
	SentinelHandoverBK        = "QISCUS_INTEGRATION_TO_BK"
	SentinelImmediateHandover = "QISCUS_INTEGRATION_TO_IMMEDIATE_CX: "
)

// ThoughtStep is one audit entry describing a pipeline stage
type ThoughtStep struct {
	Title       string         `json:"title"`
	Description any            `json:"description"`
	Props       map[string]any `json:"props"`
}

// ResponseContext carries the sources and audit trail of an answer
type ResponseContext struct {
	// DataPoints is either "" or {"text": ...}
	DataPoints any           `json:"data_points"`
	Thoughts   []ThoughtStep `json:"thoughts"`
}

// Choice mirrors a chat completion choice with an added context
type Choice struct {
	Index        int                          `json:"index"`
	Message      openai.ChatCompletionMessage `json:"message"`
	FinishReason string                       `json:"finish_reason"`
	Context      ResponseContext              `json:"context"`
}

// ChatResponse is shaped like an OpenAI chat completion
type ChatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []Choice     `json:"choices"`
	Usage   openai.Usage `json:"usage"`

	// Route is the intent that handled the request
	Route string `json:"-"`
}

// Content returns the answer text
func (r *ChatResponse) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// SetContent replaces the answer text
func (r *ChatResponse) SetContent(content string) {
	if len(r.Choices) == 0 {
		return
	}
	r.Choices[0].Message.Content = content
}

// Thoughts returns the audit trail of the first choice
func (r *ChatResponse) Thoughts() []ThoughtStep {
	if len(r.Choices) == 0 {
		return nil
	}
	return r.Choices[0].Context.Thoughts
}

func step(title string, description any) ThoughtStep {
	return ThoughtStep{Title: title, Description: description, Props: map[string]any{}}
}
