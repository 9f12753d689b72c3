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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.RecordRoute("coupon")
	m.RecordRoute("coupon")
	m.RecordFallback(FallbackNoResults)
	m.FeedRequest("highlight", "cache_hit")
	m.RecordHTTP("/chat", "200")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.routes.WithLabelValues("coupon")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbacks.WithLabelValues(FallbackNoResults)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedRequests.WithLabelValues("highlight", "cache_hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/chat", "200")))
}

func TestInstancesDoNotShareRegistry(t *testing.T) {
	a, b := New(), New()
	a.RecordRoute("welcome")

	assert.Equal(t, 0.0, testutil.ToFloat64(b.routes.WithLabelValues("welcome")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveChat("specify_package", "ok", 1500*time.Millisecond)

	server := httptest.NewServer(m.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `package_chat_chat_duration_seconds_count{route="specify_package",status="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
