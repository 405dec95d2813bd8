package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hako/durafmt"

	"github.com/SabrinaJewson/ghmd/internal/renderer"
	"github.com/SabrinaJewson/ghmd/internal/watcher"
)

// handlePage serves the one-shot rendered page for the current state of the
// watched file. Rendering happens lazily per request: concurrent requests
// for the same content share the render cache.
func (s *PreviewServer) handlePage(w http.ResponseWriter, r *http.Request) {
	state := s.feed.Latest()
	if state.Err != nil {
		s.errorPage(w, state.Err)
		return
	}

	rendered, err := s.renderer.Render(r.Context(), state.Content)
	if err != nil {
		var rateLimited *renderer.RateLimitError
		if errors.As(err, &rateLimited) {
			s.rateLimitedPage(w, rateLimited)
			return
		}
		s.errorPage(w, err)
		return
	}

	page, err := s.templater.Page(rendered)
	if err != nil {
		s.errorPage(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, page)
}

func (s *PreviewServer) errorPage(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	fmt.Fprintf(w, "Internal Server Error\n=====================\n\n%v\n", err)
}

func (s *PreviewServer) rateLimitedPage(w http.ResponseWriter, rateLimited *renderer.RateLimitError) {
	remaining := time.Until(rateLimited.Reset)
	if remaining < 0 {
		remaining = 0
	}
	wait := durafmt.Parse(remaining.Round(time.Second)).LimitFirstN(2).String()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	fmt.Fprintf(w,
		"Rate Limited\n============\n\nYou have used your quota of %d requests and are now rate limited by the render API.\n\nYou may continue to send requests in %s.\n",
		rateLimited.Limit, wait)
}

// ratePayload is the JSON body of a rate_limited stream event.
type ratePayload struct {
	Limit int   `json:"limit"`
	Reset int64 `json:"reset"`
}

// handleStream serves a persistent event stream. Each observed file change
// produces exactly one event; render failures become render_error events
// rather than closing the stream. The current state is emitted immediately
// on connect so late subscribers start from the latest value.
func (s *PreviewServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The stream ends when the client disconnects or the server shuts
	// down, whichever comes first.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.streamCtx, cancel)
	defer stop()

	sub := s.feed.Subscribe()

	s.emitState(ctx, w, s.feed.Latest())
	flusher.Flush()

	for sub.Changed(ctx) {
		s.emitState(ctx, w, s.feed.Latest())
		flusher.Flush()
	}
}

// emitState renders one state and writes the corresponding event: update for
// markup, rate_limited with the quota payload, render_error for everything
// else.
func (s *PreviewServer) emitState(ctx context.Context, w http.ResponseWriter, state watcher.State) {
	if state.Err != nil {
		writeEvent(w, "render_error", state.Err.Error())
		return
	}

	rendered, err := s.renderer.Render(ctx, state.Content)
	if err != nil {
		var rateLimited *renderer.RateLimitError
		if errors.As(err, &rateLimited) {
			payload, err := json.Marshal(ratePayload{
				Limit: rateLimited.Limit,
				Reset: rateLimited.Reset.Unix(),
			})
			if err != nil {
				writeEvent(w, "render_error", err.Error())
				return
			}
			writeEvent(w, "rate_limited", string(payload))
			return
		}
		writeEvent(w, "render_error", err.Error())
		return
	}

	writeEvent(w, "update", rendered)
}
