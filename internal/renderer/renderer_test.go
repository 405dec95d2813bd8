package renderer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SabrinaJewson/ghmd/internal/logging"
)

// newTestRenderer wires a Renderer to a fake render API and a fake icon
// service that has no icons.
func newTestRenderer(t *testing.T, api http.HandlerFunc) *Renderer {
	t.Helper()

	apiServer := httptest.NewServer(api)
	t.Cleanup(apiServer.Close)

	iconServer := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(iconServer.Close)

	return New(logging.Discard(), Options{
		APIURL:  apiServer.URL,
		IconURL: iconServer.URL,
		Token:   "test-token",
	})
}

// echoAPI returns a handler that renders any request into fixed markup and
// counts calls.
func echoAPI(calls *atomic.Int64, markup string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, markup)
	}
}

func TestRenderSendsDocumentWithAuth(t *testing.T) {
	var gotBody struct {
		Text string `json:"text"`
	}
	var gotAuth string

	rend := newTestRenderer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, "<h1>Hello</h1>")
	})

	rendered, err := rend.Render(context.Background(), "# Hello")
	require.NoError(t, err)

	assert.Equal(t, "<h1>Hello</h1>", rendered)
	assert.Equal(t, "# Hello", gotBody.Text)
	assert.Equal(t, "Bearer test-token", gotAuth)
}

func TestRenderCacheHitSkipsExternalCall(t *testing.T) {
	var calls atomic.Int64
	rend := newTestRenderer(t, echoAPI(&calls, "<h1>Hello</h1>"))

	first, err := rend.Render(context.Background(), "# Hello")
	require.NoError(t, err)
	second, err := rend.Render(context.Background(), "# Hello")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestRenderDistinctContentCallsAgain(t *testing.T) {
	var calls atomic.Int64
	rend := newTestRenderer(t, echoAPI(&calls, "<p>out</p>"))

	_, err := rend.Render(context.Background(), "one")
	require.NoError(t, err)
	_, err = rend.Render(context.Background(), "two")
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestConcurrentRendersShareOneCall(t *testing.T) {
	var calls atomic.Int64
	rend := newTestRenderer(t, echoAPI(&calls, "<p>shared</p>"))

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rendered, err := rend.Render(context.Background(), "same document")
			assert.NoError(t, err)
			assert.Equal(t, "<p>shared</p>", rendered)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestRenderRateLimited(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	var calls atomic.Int64
	rend := newTestRenderer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("X-RateLimit-Limit", "60")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := rend.Render(context.Background(), "# doc")

	var rateLimited *RateLimitError
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, 60, rateLimited.Limit)
	assert.Equal(t, reset, rateLimited.Reset.Unix())

	// Rate limiting is never cached: the next call re-checks the limit.
	_, err = rend.Render(context.Background(), "# doc")
	require.ErrorAs(t, err, &rateLimited)
	assert.Equal(t, int64(2), calls.Load())
	assert.Empty(t, rend.cache)
}

func TestRenderRateLimitedMissingHeaders(t *testing.T) {
	rend := newTestRenderer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := rend.Render(context.Background(), "# doc")
	require.Error(t, err)

	var rateLimited *RateLimitError
	assert.False(t, errors.As(err, &rateLimited))
}

func TestRenderClientError(t *testing.T) {
	rend := newTestRenderer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "Body should be a JSON object"})
	})

	_, err := rend.Render(context.Background(), "# doc")

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Body should be a JSON object", apiErr.Message)
	assert.Empty(t, rend.cache)
}

func TestRenderServerError(t *testing.T) {
	rend := newTestRenderer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := rend.Render(context.Background(), "# doc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestCacheClearsOnOverflow(t *testing.T) {
	var calls atomic.Int64
	rend := newTestRenderer(t, echoAPI(&calls, "<p>x</p>"))

	for i := 0; i < maxCacheEntries; i++ {
		_, err := rend.Render(context.Background(), fmt.Sprintf("document %d", i))
		require.NoError(t, err)
	}
	assert.Equal(t, maxCacheEntries, len(rend.cache))

	// The next distinct document clears the whole cache before inserting.
	_, err := rend.Render(context.Background(), "one more")
	require.NoError(t, err)
	assert.Equal(t, 1, len(rend.cache))

	// A previously cached document is no longer a hit.
	before := calls.Load()
	_, err = rend.Render(context.Background(), fmt.Sprintf("document %d", maxCacheEntries-1))
	require.NoError(t, err)
	assert.Equal(t, before+1, calls.Load())
}
