// Package server delivers rendered previews over HTTP.
//
// A plain GET on / returns a one-shot page rendered from the current state
// of the watched file. A GET advertising Accept: text/event-stream instead
// receives a persistent stream of update, rate_limited, and render_error
// events, one per observed file change. /ws mirrors the same updates over a
// websocket for clients that prefer it. Shutdown stops accepting new
// connections, signals every open stream to finish its in-flight tick, and
// waits for them to close.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/SabrinaJewson/ghmd/internal/config"
	"github.com/SabrinaJewson/ghmd/internal/logging"
	"github.com/SabrinaJewson/ghmd/internal/renderer"
	"github.com/SabrinaJewson/ghmd/internal/templater"
	"github.com/SabrinaJewson/ghmd/internal/watcher"
)

// PreviewServer serves the watched file's rendered preview with live updates.
type PreviewServer struct {
	cfg       *config.Config
	logger    logging.Logger
	source    string // path of the watched file, for health reporting
	feed      *watcher.Feed
	renderer  *renderer.Renderer
	templater *templater.Templater

	httpServer *http.Server
	serverMu   sync.RWMutex

	// streamCtx is cancelled on shutdown; every streaming connection races
	// its next tick against it.
	streamCtx    context.Context
	stopStreams  context.CancelFunc
	shutdownOnce sync.Once

	clients    map[*websocket.Conn]*client
	clientsMu  sync.RWMutex
	register   chan *client
	unregister chan *websocket.Conn
	broadcast  chan []byte
}

// New creates a preview server reading states from feed and rendering them
// on demand. source is the watched file's path, used for health output.
func New(cfg *config.Config, logger logging.Logger, source string, feed *watcher.Feed, rend *renderer.Renderer, tmpl *templater.Templater) *PreviewServer {
	streamCtx, stopStreams := context.WithCancel(context.Background())
	return &PreviewServer{
		cfg:         cfg,
		logger:      logger.WithComponent("server"),
		source:      source,
		feed:        feed,
		renderer:    rend,
		templater:   tmpl,
		streamCtx:   streamCtx,
		stopStreams: stopStreams,
		clients:     make(map[*websocket.Conn]*client),
		register:    make(chan *client),
		unregister:  make(chan *websocket.Conn),
		broadcast:   make(chan []byte),
	}
}

// Start runs the HTTP server until it is shut down or fails. It blocks.
func (s *PreviewServer) Start(ctx context.Context) error {
	go s.runHub(s.streamCtx)

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.serverMu.Lock()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.handler(),
		// A single failed accept is logged and the loop continues; route
		// those records through the structured logger.
		ErrorLog: log.New(&logWriter{ctx: ctx, logger: s.logger}, "", 0),
	}
	srv := s.httpServer
	s.serverMu.Unlock()

	s.logger.Info(ctx, "listening", "addr", addr, "file", s.source)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server: no new connections are accepted,
// open streams are signalled to close, and the call returns once in-flight
// connections resolve or ctx expires.
func (s *PreviewServer) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down")

		// Wake every SSE loop and the websocket hub; their handlers
		// return, which lets http.Server.Shutdown below complete.
		s.stopStreams()

		s.serverMu.RLock()
		srv := s.httpServer
		s.serverMu.RUnlock()

		if srv != nil {
			shutdownErr = srv.Shutdown(ctx)
		}
	})

	return shutdownErr
}

func (s *PreviewServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return s.withRequestLogging(mux)
}

func (s *PreviewServer) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *PreviewServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if acceptsEventStream(r) {
		s.handleStream(w, r)
		return
	}
	s.handlePage(w, r)
}

func acceptsEventStream(r *http.Request) bool {
	for _, accept := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(accept), ";")
		if mediaType == "text/event-stream" {
			return true
		}
	}
	return false
}

func (s *PreviewServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := s.feed.Latest()
	watchStatus := "healthy"
	if state.Err != nil {
		watchStatus = "error"
	}

	health := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"file":      s.source,
		"checks": map[string]any{
			"watcher": watchStatus,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		s.logger.Warn(r.Context(), err, "failed to encode health response")
	}
}

// logWriter adapts http.Server's ErrorLog to the structured logger.
type logWriter struct {
	ctx    context.Context
	logger logging.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Warn(w.ctx, nil, strings.TrimSpace(string(p)))
	return len(p), nil
}
