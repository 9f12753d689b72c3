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

// Package intent declares the function-calling tools the routing model chooses between
// and decodes the model's choice.
package intent

import (
	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
)

// Intent identifies one callable tool
type Intent int

const (
	// None means the model answered without calling a tool
	None Intent = iota
	Welcome
	GenericQuery
	Pharmacy
	PaymentQuery
	PaymentPromo
	Installments
	Coupon
	AppLink
	ClearHistory
	HandoverToCX
	HandoverToBK
	ImmediateHandover
	SpecifyPackage

	// CheckInfoGathered is offered only in the hand-off follow-up call
	CheckInfoGathered
	// SearchGoogle is forced in the web search query-generation call
	SearchGoogle
)

var names = map[Intent]string{
	None:              "none",
	Welcome:           "welcome",
	GenericQuery:      "generic_query",
	Pharmacy:          "pharmacy",
	PaymentQuery:      "payment_query",
	PaymentPromo:      "payment_promo",
	Installments:      "installments",
	Coupon:            "coupon",
	AppLink:           "app_link",
	ClearHistory:      "clear_history",
	HandoverToCX:      "handover_to_cx",
	HandoverToBK:      "handover_to_bk",
	ImmediateHandover: "immediate_handover",
	SpecifyPackage:    "specify_package",
	CheckInfoGathered: "check_info_gathered",
	SearchGoogle:      "search_google",
}

// String returns the tool name the model sees
func (i Intent) String() string {
	if name, ok := names[i]; ok {
		return name
	}
	return "unknown"
}

// Parse maps a tool name back to its intent
func Parse(name string) (Intent, bool) {
	for i, n := range names {
		if n == name && i != None {
			return i, true
		}
	}
	return None, false
}

// Priority is the order in which routing selections are checked; the first selected intent wins
var Priority = []Intent{
	Welcome,
	GenericQuery,
	Pharmacy,
	PaymentQuery,
	PaymentPromo,
	Installments,
	Coupon,
	AppLink,
	ClearHistory,
	HandoverToCX,
	HandoverToBK,
	ImmediateHandover,
	SpecifyPackage,
}

// routingOrder is the order tools are attached to the routing request
var routingOrder = []Intent{
	HandoverToCX,
	HandoverToBK,
	SpecifyPackage,
	ClearHistory,
	Pharmacy,
	Coupon,
	PaymentPromo,
	Welcome,
	PaymentQuery,
	ImmediateHandover,
	Installments,
	GenericQuery,
	AppLink,
}

// Tool builds the function-calling descriptor for an intent
func Tool(i Intent) openai.Tool {
	def := definitions[i]
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        i.String(),
			Description: def.description,
			Parameters:  def.parameters,
		},
	}
}

// RoutingTools returns every tool offered to the routing call
func RoutingTools() []openai.Tool {
	tools := make([]openai.Tool, 0, len(routingOrder))
	for _, i := range routingOrder {
		tools = append(tools, Tool(i))
	}
	return tools
}

// ForcedChoice makes the model call the given tool
func ForcedChoice(i Intent) openai.ToolChoice {
	return openai.ToolChoice{
		Type:     openai.ToolTypeFunction,
		Function: openai.ToolFunction{Name: i.String()},
	}
}

// Selected reports whether the message calls the intent's tool
func Selected(msg openai.ChatCompletionMessage, i Intent) bool {
	name := i.String()
	for _, call := range msg.ToolCalls {
		if call.Type == openai.ToolTypeFunction && call.Function.Name == name {
			return true
		}
	}
	return false
}

// Route returns the highest-priority routing intent the message selected, or None
func Route(msg openai.ChatCompletionMessage) Intent {
	for _, i := range Priority {
		if Selected(msg, i) {
			return i
		}
	}
	return None
}

type definition struct {
	description string
	parameters  jsonschema.Definition
}

func noParameters() jsonschema.Definition {
	return jsonschema.Definition{Type: jsonschema.Object, Properties: map[string]jsonschema.Definition{}}
}

var definitions = map[Intent]definition{
	Welcome: {
		description: "Called when the user only greets the assistant or opens the conversation " +
			"without asking for anything yet.",
		parameters: noParameters(),
	},
	GenericQuery: {
		description: "Called for general health or service questions that do not need a package search, " +
			"such as how the marketplace works or what a procedure involves.",
		parameters: noParameters(),
	},
	Pharmacy: {
		description: "Called when the user clearly asks about pharmacy services or medicines.",
		parameters:  noParameters(),
	},
	PaymentQuery: {
		description: "Called when the user asks which payment methods can be used, " +
			"optionally for a package mentioned earlier in the conversation.",
		parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"url": {
					Type: jsonschema.String,
					Description: "The exact URL of the package the user is asking about, taken from past messages. " +
						"Remove any UTM parameters.",
				},
			},
		},
	},
	PaymentPromo: {
		description: "Called when the user asks about promotions or deals tied to payment methods such as credit cards.",
		parameters:  noParameters(),
	},
	Installments: {
		description: "Called when the user asks about paying in installments or monthly payment plans.",
		parameters:  noParameters(),
	},
	Coupon: {
		description: "Called only for coupon questions, for example how to claim a coupon or where to find one.",
		parameters:  noParameters(),
	},
	AppLink: {
		description: "Called when the user asks where to download the mobile app or for a link to it.",
		parameters:  noParameters(),
	},
	ClearHistory: {
		description: "Called whenever the user asks to clear, reset or forget the chat history.",
		parameters:  noParameters(),
	},
	HandoverToCX: {
		description: "Transfers the conversation to a human customer support agent when the user wants to " +
			"talk to a salesperson, asks for something the assistant cannot provide, or is ready to buy. " +
			"Do not call it when the user only says they are looking for a checkup or treatment in general; " +
			"keep gathering information instead.",
		parameters: noParameters(),
	},
	HandoverToBK: {
		description: "Transfers the conversation to the booking team when the user clearly mentions a " +
			"reservation or asks about a package after paying for it.",
		parameters: noParameters(),
	},
	ImmediateHandover: {
		description: "Transfers the conversation to a human agent right away when the user explicitly asks " +
			"for a person, passing along the package being discussed.",
		parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"package_name": {
					Type:        jsonschema.String,
					Description: "The package name discussed most recently, including the hospital name, if any.",
				},
			},
		},
	},
	SpecifyPackage: {
		description: "Names the exact URL or package from past messages when the latest user message refers to it. " +
			"Use it only to find a specific package already mentioned, never for general or price-based requests.",
		parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"url": {
					Type: jsonschema.String,
					Description: "The exact package URL from past messages, e.g. " +
						"'https://hdmall.co.th/dental-clinics/xray-for-orthodontics-1-csdc'. Remove any UTM parameters.",
				},
				"package_name": {
					Type: jsonschema.String,
					Description: "The exact package name from past messages, always including the hospital name, " +
						"e.g. 'เอกซเรย์สำหรับการจัดฟัน ที่ CSDC'.",
				},
			},
			Required: []string{},
		},
	},
	CheckInfoGathered: {
		description: "Called once at least two of these are known: the package category the user wants, " +
			"their preferred location, and their budget.",
		parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"package_name": {
					Type:        jsonschema.String,
					Description: "The package or ailment the customer is looking for.",
				},
				"location": {
					Type:        jsonschema.String,
					Description: "The location the customer prefers.",
				},
				"budget": {
					Type:        jsonschema.String,
					Description: "The price range the customer mentioned, if any.",
				},
			},
			Required: []string{"package_name", "location"},
		},
	},
	SearchGoogle: {
		description: "Search for relevant products based on the user query.",
		parameters: jsonschema.Definition{
			Type: jsonschema.Object,
			Properties: map[string]jsonschema.Definition{
				"search_query": {
					Type:        jsonschema.String,
					Description: "Query string to use for the search (can be empty).",
				},
				"locations": {
					Type:  jsonschema.Array,
					Items: &jsonschema.Definition{Type: jsonschema.String},
					Description: "Translate every location to Thai. The district (Amphoe) the user named first, " +
						"followed by the districts around it; for `รังสิต` return " +
						"[`รังสิต`, `ธัญบุรี`, `เมืองปทุมธานี`, `คลองหลวง`, `ลำลูกกา`]. " +
						"Only fill this when the user names an area rather than a specific place.",
				},
			},
		},
	},
}
