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

package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidFilter is returned when a filter names a column or operator outside the allow-list
var ErrInvalidFilter = errors.New("invalid filter")

// Filter is one {column, operator, value} predicate derived from tool-call arguments
type Filter struct {
	Column   string `json:"column"`
	Operator string `json:"comparison_operator"`
	Value    any    `json:"value"`
}

// filterColumns are the package columns predicates may reference
var filterColumns = map[string]bool{
	"url":                       true,
	"package_name":              true,
	"brand":                     true,
	"category":                  true,
	"locations":                 true,
	"shop_name":                 true,
	"price":                     true,
	"price_after_cash_discount": true,
}

var filterOperators = map[string]bool{
	"=":     true,
	"<>":    true,
	"!=":    true,
	"<":     true,
	">":     true,
	"<=":    true,
	">=":    true,
	"LIKE":  true,
	"ILIKE": true,
}

// FilterClause holds the rendered predicate in both spliceable forms plus its bound values
type FilterClause struct {
	Where string
	And   string
	Args  []any
}

// BuildFilterClause renders filters as positional-parameter predicates joined by AND, or by OR
// when useOr is set. Placeholders are numbered from startArg. An empty list yields empty clauses.
func BuildFilterClause(filters []Filter, useOr bool, startArg int) (FilterClause, error) {
	if len(filters) == 0 {
		return FilterClause{}, nil
	}
	if startArg < 1 {
		startArg = 1
	}

	fragments := make([]string, 0, len(filters))
	args := make([]any, 0, len(filters))
	for i, f := range filters {
		column := strings.ToLower(strings.TrimSpace(f.Column))
		operator := strings.ToUpper(strings.TrimSpace(f.Operator))

		if !filterColumns[column] {
			return FilterClause{}, fmt.Errorf("%w: column %q", ErrInvalidFilter, f.Column)
		}
		if !filterOperators[operator] {
			return FilterClause{}, fmt.Errorf("%w: operator %q", ErrInvalidFilter, f.Operator)
		}
		if f.Value == nil {
			return FilterClause{}, fmt.Errorf("%w: nil value for column %q", ErrInvalidFilter, f.Column)
		}

		fragments = append(fragments, fmt.Sprintf("%s %s $%d", column, operator, startArg+i))
		args = append(args, f.Value)
	}

	combinator := " AND "
	if useOr {
		combinator = " OR "
	}
	joined := strings.Join(fragments, combinator)

	return FilterClause{
		Where: "WHERE " + joined,
		And:   "AND (" + joined + ")",
		Args:  args,
	}, nil
}
