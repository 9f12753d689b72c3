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

package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Promo is one payment promotion row
type Promo struct {
	PromoName  string `json:"promoName"`
	Type       string `json:"type"`
	KeyBenefit string `json:"keyBenefit"`
	URL        string `json:"url"`
}

func (p Promo) String() string {
	return fmt.Sprintf("promoName: %s\ntype: %s\nkeyBenefit: %s\nurl: %s\n", p.PromoName, p.Type, p.KeyBenefit, p.URL)
}

// PaymentPromos returns the current payment promotions formatted for a prompt
func (c *Client) PaymentPromos(ctx context.Context) string {
	var promos []Promo
	if !c.lookup(ctx, request{Info: InfoCreditCard}, &promos) {
		return ""
	}

	blocks := make([]string, 0, len(promos))
	for _, p := range promos {
		blocks = append(blocks, p.String())
	}
	return strings.Join(blocks, "\n")
}

// HighlightInfo returns the campaign matching the search name or package URL as compact JSON,
// or an empty string when there is none
func (c *Client) HighlightInfo(ctx context.Context, name, url string) string {
	var raw json.RawMessage
	if !c.lookup(ctx, request{Info: InfoHighlight, HighlightName: name, HighlightURL: url}, &raw) {
		return ""
	}
	if isEmptyJSON(raw) {
		return ""
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return ""
	}
	return buf.String()
}

// HighlightTags returns the active campaign tags, one per line
func (c *Client) HighlightTags(ctx context.Context) string {
	var resp struct {
		HighlightTags []string `json:"highlightTags"`
	}
	if !c.lookup(ctx, request{Info: InfoHighlightTags}, &resp) {
		return ""
	}
	return strings.Join(resp.HighlightTags, "\n")
}

// PaymentMethod returns the accepted payment methods for a package
func (c *Client) PaymentMethod(ctx context.Context, packageURL string) string {
	var resp struct {
		PaymentMethod string `json:"paymentMethod"`
	}
	if !c.lookup(ctx, request{Info: InfoPaymentMethod, PackageURL: packageURL}, &resp) {
		return ""
	}
	return resp.PaymentMethod
}

// CashDiscount returns the PromptPay cash discount for a package, or an empty string when
// it has none
func (c *Client) CashDiscount(ctx context.Context, packageURL string) string {
	var raw json.RawMessage
	if !c.lookup(ctx, request{Info: InfoDiscount, PackageURL: packageURL}, &raw) {
		return ""
	}
	return formatDiscount(raw)
}

// formatDiscount renders a scalar discount; zero, false, null and empty values mean none
func formatDiscount(raw json.RawMessage) string {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}

	switch v := value.(type) {
	case float64:
		if v == 0 {
			return ""
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return strings.TrimSpace(v)
	case bool:
		if v {
			return "true"
		}
		return ""
	case nil:
		return ""
	default:
		if isEmptyJSON(raw) {
			return ""
		}
		return string(bytes.TrimSpace(raw))
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch string(bytes.TrimSpace(raw)) {
	case "", "null", `""`, "[]", "{}", "false", "0":
		return true
	}
	return false
}
