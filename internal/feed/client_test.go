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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/your-org/package-chat/internal/cache"
	"github.com/your-org/package-chat/internal/resilience"
)

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *countingRecorder) FeedRequest(info, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = map[string]int{}
	}
	r.counts[info+"/"+outcome]++
}

func (r *countingRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}

func fastRetry() resilience.BackoffConfig {
	cfg := resilience.FeedBackoffConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 2 * time.Millisecond
	return cfg
}

// feedServer answers each info type from responses and records request bodies
func feedServer(t *testing.T, responses map[Info]string) (*httptest.Server, *[]request) {
	t.Helper()
	var mu sync.Mutex
	var received []request

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, req)
		mu.Unlock()

		body, ok := responses[req.Info]
		if !ok {
			http.Error(w, "unknown info", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func newTestClient(t *testing.T, url string, store cache.Cache, ttl time.Duration, rec Recorder) *Client {
	return NewClient(Config{URL: url, CacheTTL: ttl, Retry: fastRetry()}, store, rec, zaptest.NewLogger(t))
}

func TestPaymentPromos(t *testing.T) {
	server, received := feedServer(t, map[Info]string{
		InfoCreditCard: `[
			{"promoName": "KTC 10%", "type": "credit card", "keyBenefit": "10% off", "url": "https://hdmall.co.th/ktc"},
			{"promoName": "SCB", "keyBenefit": "0% 10 months"}
		]`,
	})
	client := newTestClient(t, server.URL, nil, 0, nil)

	got := client.PaymentPromos(context.Background())

	assert.Equal(t,
		"promoName: KTC 10%\ntype: credit card\nkeyBenefit: 10% off\nurl: https://hdmall.co.th/ktc\n"+
			"\npromoName: SCB\ntype: \nkeyBenefit: 0% 10 months\nurl: \n",
		got)
	require.Len(t, *received, 1)
	assert.Equal(t, request{Info: InfoCreditCard}, (*received)[0])
}

func TestHighlightInfo(t *testing.T) {
	server, received := feedServer(t, map[Info]string{
		InfoHighlight: `{"campaign": "ตรวจสุขภาพ 11.11", "discount": 20}`,
	})
	client := newTestClient(t, server.URL, nil, 0, nil)

	got := client.HighlightInfo(context.Background(), "ตรวจสุขภาพ", "https://hdmall.co.th/a")

	assert.Equal(t, `{"campaign":"ตรวจสุขภาพ 11.11","discount":20}`, got)
	require.Len(t, *received, 1)
	assert.Equal(t, "ตรวจสุขภาพ", (*received)[0].HighlightName)
	assert.Equal(t, "https://hdmall.co.th/a", (*received)[0].HighlightURL)
}

func TestHighlightInfoEmptyAnswers(t *testing.T) {
	for _, body := range []string{`""`, `[]`, `{}`, `null`} {
		t.Run(body, func(t *testing.T) {
			server, _ := feedServer(t, map[Info]string{InfoHighlight: body})
			client := newTestClient(t, server.URL, nil, 0, nil)
			assert.Empty(t, client.HighlightInfo(context.Background(), "x", ""))
		})
	}
}

func TestHighlightTagsAndPaymentMethod(t *testing.T) {
	server, received := feedServer(t, map[Info]string{
		InfoHighlightTags: `{"highlightTags": ["ตรวจสุขภาพ", "ทำฟัน"]}`,
		InfoPaymentMethod: `{"paymentMethod": "Credit card, PromptPay"}`,
	})
	client := newTestClient(t, server.URL, nil, 0, nil)
	ctx := context.Background()

	assert.Equal(t, "ตรวจสุขภาพ\nทำฟัน", client.HighlightTags(ctx))
	assert.Equal(t, "Credit card, PromptPay", client.PaymentMethod(ctx, "https://hdmall.co.th/a"))
	assert.Equal(t, "https://hdmall.co.th/a", (*received)[1].PackageURL)
}

func TestCashDiscount(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`500`, "500"},
		{`250.5`, "250.5"},
		{`"1,000"`, "1,000"},
		{`0`, ""},
		{`""`, ""},
		{`null`, ""},
		{`false`, ""},
		{`{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			server, _ := feedServer(t, map[Info]string{InfoDiscount: tt.body})
			client := newTestClient(t, server.URL, nil, 0, nil)
			assert.Equal(t, tt.want, client.CashDiscount(context.Background(), "https://hdmall.co.th/a"))
		})
	}
}

func TestRetriesServerErrorsThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"paymentMethod": "QR"}`))
	}))
	defer server.Close()

	rec := &countingRecorder{}
	client := newTestClient(t, server.URL, nil, 0, rec)

	assert.Equal(t, "QR", client.PaymentMethod(context.Background(), "u"))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, rec.get("payment_method/success"))
}

func TestDegradesToEmptyAfterRetriesExhausted(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rec := &countingRecorder{}
	client := newTestClient(t, server.URL, nil, 0, rec)

	assert.Empty(t, client.PaymentPromos(context.Background()))
	assert.Equal(t, int32(resilience.FeedMaxAttempts), atomic.LoadInt32(&calls))
	assert.Equal(t, 1, rec.get("credit_card/failure"))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil, 0, nil)

	assert.Empty(t, client.HighlightTags(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestInvalidJSONDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>Sign in</html>`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, nil, 0, nil)
	assert.Empty(t, client.HighlightTags(context.Background()))
}

func TestCachesAnswers(t *testing.T) {
	server, received := feedServer(t, map[Info]string{
		InfoHighlightTags: `{"highlightTags": ["a"]}`,
		InfoPaymentMethod: `{"paymentMethod": "card"}`,
	})
	rec := &countingRecorder{}
	client := newTestClient(t, server.URL, cache.NewMemory(10), time.Minute, rec)
	ctx := context.Background()

	assert.Equal(t, "a", client.HighlightTags(ctx))
	assert.Equal(t, "a", client.HighlightTags(ctx))
	assert.Equal(t, "card", client.PaymentMethod(ctx, "https://hdmall.co.th/a"))
	assert.Equal(t, "card", client.PaymentMethod(ctx, "https://hdmall.co.th/b"))

	assert.Len(t, *received, 3)
	assert.Equal(t, 1, rec.get("highlight_tags/cache_hit"))
	assert.Equal(t, 0, rec.get("payment_method/cache_hit"))
}
