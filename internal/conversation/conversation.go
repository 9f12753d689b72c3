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

// Package conversation holds the chat turns supplied by the caller for one request.
// A Conversation is a value: every With* method returns a modified copy and leaves
// the receiver untouched, so each orchestration branch works on its own messages.
package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// Roles accepted from callers
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartType identifies the kind of a content part
type PartType string

const (
	// PartText is a plain text part
	PartText PartType = "text"
	// PartImageURL is an image reference part
	PartImageURL PartType = "image_url"
)

// ImageURL references an image attached to a message
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Part is one piece of message content
type Part struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// TextPart builds a text content part
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// Message is a single chat turn with normalised content parts
type Message struct {
	Role    string `json:"role"`
	Content []Part `json:"content"`
}

// UnmarshalJSON accepts content either as a plain string or as an array of parts
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = raw.Role
	if m.Role == "" {
		m.Role = RoleUser
	}

	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
		m.Content = nil
	case content[0] == '"':
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return fmt.Errorf("invalid message content: %w", err)
		}
		m.Content = []Part{TextPart(text)}
	default:
		var parts []Part
		if err := json.Unmarshal(content, &parts); err != nil {
			return fmt.Errorf("invalid message content: %w", err)
		}
		for i := range parts {
			if parts[i].Type == PartImageURL && parts[i].ImageURL != nil && parts[i].ImageURL.Detail == "" {
				parts[i].ImageURL.Detail = "auto"
			}
		}
		m.Content = parts
	}

	return nil
}

// Text joins the text parts of the message
func (m Message) Text() string {
	texts := make([]string, 0, len(m.Content))
	for _, part := range m.Content {
		if part.Type == PartText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

func (m Message) clone() Message {
	parts := make([]Part, len(m.Content))
	for i, part := range m.Content {
		parts[i] = part
		if part.ImageURL != nil {
			image := *part.ImageURL
			parts[i].ImageURL = &image
		}
	}
	return Message{Role: m.Role, Content: parts}
}

// Conversation is an immutable ordered list of messages
type Conversation struct {
	messages []Message
}

// New builds a conversation from caller-supplied messages
func New(messages []Message) Conversation {
	return Conversation{messages: cloneAll(messages)}
}

func cloneAll(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, message := range messages {
		out[i] = message.clone()
	}
	return out
}

// Len returns the number of messages
func (c Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a deep copy of the messages
func (c Conversation) Messages() []Message {
	return cloneAll(c.messages)
}

// WithSystem returns a copy with a system prompt placed before every other message
func (c Conversation) WithSystem(prompt string) Conversation {
	messages := make([]Message, 0, len(c.messages)+1)
	messages = append(messages, Message{Role: RoleSystem, Content: []Part{TextPart(prompt)}})
	messages = append(messages, cloneAll(c.messages)...)
	return Conversation{messages: messages}
}

// WithAppendedText returns a copy whose last message carries an extra text part.
// An empty conversation gains a new user message instead.
func (c Conversation) WithAppendedText(text string) Conversation {
	messages := cloneAll(c.messages)
	if len(messages) == 0 {
		return Conversation{messages: []Message{{Role: RoleUser, Content: []Part{TextPart(text)}}}}
	}
	last := &messages[len(messages)-1]
	last.Content = append(last.Content, TextPart(text))
	return Conversation{messages: messages}
}

// LastUserText returns the text of the most recent user message
func (c Conversation) LastUserText() string {
	for i := len(c.messages) - 1; i >= 0; i-- {
		if c.messages[i].Role == RoleUser {
			return c.messages[i].Text()
		}
	}
	return ""
}

// ToOpenAI converts the conversation into chat completion messages.
// User turns keep their parts; other roles are flattened to a string.
func (c Conversation) ToOpenAI() []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(c.messages))
	for _, message := range c.messages {
		if message.Role != RoleUser {
			out = append(out, openai.ChatCompletionMessage{Role: message.Role, Content: message.Text()})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(message.Content))
		for _, part := range message.Content {
			switch part.Type {
			case PartText:
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: part.Text})
			case PartImageURL:
				if part.ImageURL == nil {
					continue
				}
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    part.ImageURL.URL,
						Detail: openai.ImageURLDetail(part.ImageURL.Detail),
					},
				})
			}
		}
		out = append(out, openai.ChatCompletionMessage{Role: message.Role, MultiContent: parts})
	}
	return out
}

// Describe renders each message as a single line for audit thoughts
func (c Conversation) Describe() []string {
	out := make([]string, len(c.messages))
	for i, message := range c.messages {
		out[i] = fmt.Sprintf("{role: %s, content: %s}", message.Role, message.Text())
	}
	return out
}
