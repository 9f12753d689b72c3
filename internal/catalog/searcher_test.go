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
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeRows serves fixed rows to pgx-style scanning
type fakeRows struct {
	rows [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) {
	return r.rows[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(r.rows[r.pos-1], dest)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.values, dest)
}

func scanInto(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, v := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		value := reflect.ValueOf(v)
		if !value.Type().AssignableTo(target.Type()) {
			return fmt.Errorf("scan: cannot assign %T to %s", v, target.Type())
		}
		target.Set(value)
	}
	return nil
}

type recordedCall struct {
	sql  string
	args []any
}

// fakeDB answers queries in order from a queue of row sets
type fakeDB struct {
	mu       sync.Mutex
	results  [][][]any
	queryErr error
	row      fakeRow
	calls    []recordedCall
	execs    []recordedCall
	execErr  error
}

func (db *fakeDB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, recordedCall{sql: sql, args: args})
	if db.queryErr != nil {
		return nil, db.queryErr
	}
	if len(db.results) == 0 {
		return &fakeRows{}, nil
	}
	rows := db.results[0]
	db.results = db.results[1:]
	return &fakeRows{rows: rows}, nil
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.calls = append(db.calls, recordedCall{sql: sql, args: args})
	return db.row
}

func (db *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.execs = append(db.execs, recordedCall{sql: sql, args: args})
	return pgconn.CommandTag{}, db.execErr
}

func (db *fakeDB) Ping(context.Context) error { return nil }

func packageRow(p Package) []any {
	targets := p.scanTargets()
	values := make([]any, len(targets))
	for i, target := range targets {
		values[i] = reflect.ValueOf(target).Elem().Interface()
	}
	return values
}

type fakeEmbedder struct {
	vector []float32
	err    error
	texts  []string
	mu     sync.Mutex
}

func (e *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.texts = append(e.texts, text)
	if e.err != nil {
		return nil, e.err
	}
	return e.vector, nil
}

func TestHybridSearchReturnsPackagesInRankOrder(t *testing.T) {
	a := Package{PackageName: "A", URL: "https://hdmall.co.th/a"}
	b := Package{PackageName: "B", URL: "https://hdmall.co.th/b"}
	c := Package{PackageName: "C", URL: "https://hdmall.co.th/c"}

	db := &fakeDB{results: [][][]any{
		{{b.URL, 0.032}, {a.URL, 0.016}, {c.URL, 0.015}},
		// catalog lookup returns rows in arbitrary order
		{packageRow(a), packageRow(b)},
	}}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	results, err := searcher.HybridSearch(context.Background(), "checkup", []float32{0.1}, 2, nil)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "B", results[0].PackageName)
	assert.Equal(t, "A", results[1].PackageName)

	require.Len(t, db.calls, 2)
	assert.Contains(t, db.calls[0].sql, "FULL OUTER JOIN")
	assert.Contains(t, db.calls[1].sql, "url = ANY($1)")
	assert.Equal(t, []string{b.URL, a.URL}, db.calls[1].args[0])
}

func TestHybridSearchTextOnlyScansRank(t *testing.T) {
	a := Package{PackageName: "A", URL: "https://hdmall.co.th/a"}
	db := &fakeDB{results: [][][]any{
		{{a.URL, int64(1)}},
		{packageRow(a)},
	}}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	results, err := searcher.HybridSearch(context.Background(), "checkup", nil, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.URL, results[0].URL)
}

func TestHybridSearchEmptyInputs(t *testing.T) {
	db := &fakeDB{}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	_, err := searcher.HybridSearch(context.Background(), "", nil, 3, nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Empty(t, db.calls)
}

func TestHybridSearchNoCandidates(t *testing.T) {
	db := &fakeDB{results: [][][]any{{}}}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	results, err := searcher.HybridSearch(context.Background(), "nothing", nil, 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Len(t, db.calls, 1)
}

func TestSearchAndEmbed(t *testing.T) {
	embedder := &fakeEmbedder{vector: []float32{0.3, 0.4}}
	db := &fakeDB{results: [][][]any{{}}}
	searcher := NewSearcher(db, embedder, testOptions, zaptest.NewLogger(t))

	_, err := searcher.SearchAndEmbed(context.Background(), "knee surgery", 3, true, false, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"knee surgery"}, embedder.texts)
	require.Len(t, db.calls, 1)
	assert.NotContains(t, db.calls[0].sql, "ts_rank_cd")
	assert.Contains(t, db.calls[0].sql, "<=> $1")
}

func TestSearchAndEmbedEmbeddingFailure(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("quota exceeded")}
	searcher := NewSearcher(&fakeDB{}, embedder, testOptions, zaptest.NewLogger(t))

	_, err := searcher.SearchAndEmbed(context.Background(), "q", 3, true, true, nil)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestSearchAndEmbedWithoutEmbedder(t *testing.T) {
	searcher := NewSearcher(&fakeDB{}, nil, testOptions, zaptest.NewLogger(t))

	_, err := searcher.SearchAndEmbed(context.Background(), "q", 3, true, true, nil)
	assert.Error(t, err)
}

func TestSimpleSQLSearch(t *testing.T) {
	a := Package{PackageName: "A", URL: "https://hdmall.co.th/a", Price: 1990}
	db := &fakeDB{results: [][][]any{{packageRow(a)}}}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	results, err := searcher.SimpleSQLSearch(context.Background(), []Filter{
		{Column: "url", Operator: "ILIKE", Value: "%/a%"},
		{Column: "package_name", Operator: "ILIKE", Value: "%A%"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1990.0, results[0].Price)

	require.Len(t, db.calls, 1)
	assert.True(t, strings.HasSuffix(db.calls[0].sql, "WHERE url ILIKE $1 OR package_name ILIKE $2 LIMIT 10"))
	assert.Equal(t, []any{"%/a%", "%A%"}, db.calls[0].args)
}

func TestSimpleSQLSearchWithoutFilters(t *testing.T) {
	db := &fakeDB{}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	results, err := searcher.SimpleSQLSearch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, db.calls)
}

func TestSimpleSQLSearchQueryError(t *testing.T) {
	db := &fakeDB{queryErr: errors.New("connection reset")}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	_, err := searcher.SimpleSQLSearch(context.Background(), []Filter{{Column: "url", Operator: "=", Value: "x"}})
	assert.ErrorContains(t, err, "connection reset")
}

func TestGetByURL(t *testing.T) {
	a := Package{PackageName: "A", URL: "https://hdmall.co.th/a"}
	searcher := NewSearcher(&fakeDB{row: fakeRow{values: packageRow(a)}}, nil, testOptions, zaptest.NewLogger(t))

	p, err := searcher.GetByURL(context.Background(), a.URL)
	require.NoError(t, err)
	assert.Equal(t, a, *p)

	missing := NewSearcher(&fakeDB{row: fakeRow{err: pgx.ErrNoRows}}, nil, testOptions, zaptest.NewLogger(t))
	_, err = missing.GetByURL(context.Background(), "https://hdmall.co.th/none")
	assert.ErrorIs(t, err, ErrPackageNotFound)
}

func TestGetByURLsDropsUnknownAndDuplicates(t *testing.T) {
	a := Package{PackageName: "A", URL: "https://hdmall.co.th/a"}
	db := &fakeDB{results: [][][]any{{packageRow(a)}}}
	searcher := NewSearcher(db, nil, testOptions, zaptest.NewLogger(t))

	results, err := searcher.GetByURLs(context.Background(), []string{"https://hdmall.co.th/x", a.URL, a.URL})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.URL, results[0].URL)
}
