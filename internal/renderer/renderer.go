// Package renderer turns raw markdown into finished HTML through an external
// render service, with a content-addressed cache in front of the call.
//
// Rendered artifacts are keyed by a SHA-512 digest of the document content.
// The cache mutex is held across the external call on a miss, so at most one
// render is in flight at a time; concurrent requests for the same content
// resolve to a single external call. When the entry count reaches
// maxCacheEntries the whole cache is cleared before the next insert; there is
// no eviction order, only the full reset.
package renderer

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SabrinaJewson/ghmd/internal/logging"
)

// maxCacheEntries is the cache size at which the next insert clears
// everything first.
const maxCacheEntries = 100

const userAgent = "ghmd markdown previewer"

// RateLimitError reports that the render service refused the call because
// the request quota is exhausted. It is an expected outcome rather than a
// failure: the caller surfaces the quota and reset time to the user, and the
// result is never cached.
type RateLimitError struct {
	Limit int       // request quota that was exhausted
	Reset time.Time // when the quota replenishes
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by the render API: quota %d, resets at %s", e.Limit, e.Reset.Format(time.RFC3339))
}

// APIError is the render service's structured error body for client errors.
type APIError struct {
	Message string `json:"message"`
}

func (e *APIError) Error() string { return e.Message }

// Options configures a Renderer. Zero values select the production service
// endpoints and a 30 second timeout.
type Options struct {
	APIURL  string
	IconURL string
	Token   string
	Timeout time.Duration
	// Rate limits outbound render calls, in requests per second.
	// Zero disables client-side limiting.
	Rate  float64
	Burst int
}

// Renderer calls the external render service and caches the results.
type Renderer struct {
	client   *http.Client
	apiURL   string
	token    string
	limiter  *rate.Limiter
	logger   logging.Logger
	octicons *Octicons

	mu    sync.Mutex
	cache map[[sha512.Size]byte]string
}

// New creates a Renderer. The icon cache shares the renderer's HTTP client.
func New(logger logging.Logger, opts Options) *Renderer {
	if opts.APIURL == "" {
		opts.APIURL = "https://api.github.com/markdown"
	}
	if opts.IconURL == "" {
		opts.IconURL = "https://cdn.jsdelivr.net/gh/primer/octicons@14.2.2/icons"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	limit := rate.Inf
	if opts.Rate > 0 {
		limit = rate.Limit(opts.Rate)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}

	client := &http.Client{Timeout: opts.Timeout}
	logger = logger.WithComponent("renderer")

	return &Renderer{
		client:   client,
		apiURL:   opts.APIURL,
		token:    opts.Token,
		limiter:  rate.NewLimiter(limit, burst),
		logger:   logger,
		octicons: NewOcticons(client, opts.IconURL, logger),
		cache:    make(map[[sha512.Size]byte]string),
	}
}

type renderRequest struct {
	Text string `json:"text"`
}

// Render returns the finished markup for the given document content, either
// from the cache or by calling the external service. A *RateLimitError is
// returned when the service reports quota exhaustion and an *APIError when
// it rejects the request with a structured message; neither outcome is
// cached, so re-invoking after the condition clears issues a fresh call.
func (r *Renderer) Render(ctx context.Context, markdown string) (string, error) {
	key := sha512.Sum512([]byte(markdown))

	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, ok := r.cache[key]; ok {
		return cached, nil
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for render quota: %w", err)
	}

	raw, err := r.callAPI(ctx, markdown)
	if err != nil {
		return "", err
	}

	rendered := r.octicons.Populate(ctx, raw)

	if len(r.cache) >= maxCacheEntries {
		r.logger.Debug(ctx, "render cache full, clearing", "entries", len(r.cache))
		r.cache = make(map[[sha512.Size]byte]string)
	}
	r.cache[key] = rendered

	return rendered, nil
}

func (r *Renderer) callAPI(ctx context.Context, markdown string) (string, error) {
	body, err := json.Marshal(renderRequest{Text: markdown})
	if err != nil {
		return "", fmt.Errorf("encoding render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building render request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+r.token)

	res, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling render API: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusForbidden:
		limit, err := intHeader(res.Header, "X-RateLimit-Limit")
		if err != nil {
			return "", fmt.Errorf("render API returned 403: %w", err)
		}
		reset, err := intHeader(res.Header, "X-RateLimit-Reset")
		if err != nil {
			return "", fmt.Errorf("render API returned 403: %w", err)
		}
		return "", &RateLimitError{Limit: limit, Reset: time.Unix(int64(reset), 0)}

	case res.StatusCode >= 400 && res.StatusCode < 500:
		var apiErr APIError
		if err := json.NewDecoder(res.Body).Decode(&apiErr); err != nil {
			return "", fmt.Errorf("decoding render API error (%s): %w", res.Status, err)
		}
		return "", &apiErr

	case res.StatusCode < 200 || res.StatusCode >= 300:
		return "", fmt.Errorf("render API request failed with %s", res.Status)
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("reading render API response: %w", err)
	}
	return string(raw), nil
}

func intHeader(h http.Header, name string) (int, error) {
	value := h.Get(name)
	if value == "" {
		return 0, fmt.Errorf("missing %s header", name)
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s header %q: %w", name, value, err)
	}
	return n, nil
}
