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

	"github.com/pgvector/pgvector-go"
)

// ErrEmptyQuery is returned when a hybrid search has neither text nor vector
var ErrEmptyQuery = errors.New("both query text and query vector are empty")

const (
	// RRFK is the reciprocal-rank fusion constant
	RRFK = 60
	// CandidateLimit caps each ranked list and the fused list before trimming to top
	CandidateLimit = 20
)

// SearchMode says which ranking signals a query uses
type SearchMode string

const (
	ModeHybrid SearchMode = "hybrid"
	ModeVector SearchMode = "vector"
	ModeText   SearchMode = "text"
)

// QueryOptions names the table and text search configuration; both must be validated identifiers
type QueryOptions struct {
	Table    string
	Language string
}

// HybridQuery is a ready-to-run ranking statement. Every mode returns (url, score-or-rank) rows.
type HybridQuery struct {
	SQL  string
	Args []any
	Mode SearchMode
}

// BuildHybridQuery chooses between fused, vector-only and text-only ranking depending on which
// inputs are present. Vector ranks use the closer of the package-name and location embeddings;
// text ranks use ts_rank_cd over package name and locations.
func BuildHybridQuery(opts QueryOptions, text string, vector []float32, filters []Filter) (HybridQuery, error) {
	hasText := text != ""
	hasVector := len(vector) > 0
	if !hasText && !hasVector {
		return HybridQuery{}, ErrEmptyQuery
	}

	var args []any
	vectorArg, textArg := 0, 0
	if hasVector {
		args = append(args, pgvector.NewVector(vector))
		vectorArg = len(args)
	}
	if hasText {
		args = append(args, text)
		textArg = len(args)
	}

	clause, err := BuildFilterClause(filters, false, len(args)+1)
	if err != nil {
		return HybridQuery{}, err
	}
	args = append(args, clause.Args...)

	var vectorSQL, textSQL string
	if hasVector {
		vectorSQL = fmt.Sprintf(`
			WITH closest_embedding AS (
				SELECT
					url,
					LEAST(
						embedding_package_name <=> $%[1]d,
						COALESCE(embedding_locations <=> $%[1]d, 1)
					) AS min_distance
				FROM %[2]s
				%[3]s
			)
			SELECT url, RANK() OVER (ORDER BY min_distance) AS rank
			FROM closest_embedding
			ORDER BY min_distance
			LIMIT %[4]d`, vectorArg, opts.Table, clause.Where, CandidateLimit)
	}
	if hasText {
		document := fmt.Sprintf(
			"to_tsvector('%[1]s', COALESCE(package_name, '')) || to_tsvector('%[1]s', COALESCE(locations, ''))",
			opts.Language)
		textSQL = fmt.Sprintf(`
			SELECT url, RANK() OVER (ORDER BY ts_rank_cd(%[1]s, query) DESC) AS rank
			FROM %[2]s, plainto_tsquery('%[3]s', $%[4]d) query
			WHERE (%[1]s) @@ query %[5]s
			ORDER BY ts_rank_cd(%[1]s, query) DESC
			LIMIT %[6]d`, document, opts.Table, opts.Language, textArg, clause.And, CandidateLimit)
	}

	switch {
	case hasVector && hasText:
		sql := fmt.Sprintf(`
		WITH vector_search AS (%s
		),
		fulltext_search AS (%s
		)
		SELECT
			COALESCE(vector_search.url, fulltext_search.url) AS url,
			(COALESCE(1.0 / (%[3]d + vector_search.rank), 0.0) +
			COALESCE(1.0 / (%[3]d + fulltext_search.rank), 0.0))::float8 AS score
		FROM vector_search
		FULL OUTER JOIN fulltext_search ON vector_search.url = fulltext_search.url
		ORDER BY score DESC
		LIMIT %[4]d`, vectorSQL, textSQL, RRFK, CandidateLimit)
		return HybridQuery{SQL: sql, Args: args, Mode: ModeHybrid}, nil
	case hasVector:
		return HybridQuery{SQL: vectorSQL, Args: args, Mode: ModeVector}, nil
	default:
		return HybridQuery{SQL: textSQL, Args: args, Mode: ModeText}, nil
	}
}
