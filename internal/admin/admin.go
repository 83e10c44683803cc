// Package admin exposes the proxy's observability surface: a JSON stats
// snapshot and a websocket stream of the same snapshot pushed once a
// second. This is purely additive — no cache or worker pool invariant
// depends on it — wiring in the two HTTP-adjacent dependencies (gorilla
// mux and websocket) for the observability surface.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/maxermolaev/cache-proxy-go/internal/cache"
	"github.com/maxermolaev/cache-proxy-go/internal/logging"
	"github.com/maxermolaev/cache-proxy-go/internal/workerpool"
)

// Snapshot is the JSON shape served by /stats and pushed over
// /stats/stream: pool queue depth and submitted/completed/failed counts
// alongside the cache's bucket/entry count and hit/miss counters.
type Snapshot struct {
	Pool  workerpool.Stats `json:"pool"`
	Cache cache.Stats      `json:"cache"`
}

// PoolStatsSource supplies the worker pool half of a Snapshot.
type PoolStatsSource interface {
	Stats() workerpool.Stats
}

// CacheStatsSource supplies the cache half of a Snapshot.
type CacheStatsSource interface {
	Stats() cache.Stats
}

// Server is the admin HTTP server.
type Server struct {
	pool   PoolStatsSource
	cache  CacheStatsSource
	router *mux.Router
	srv    *http.Server
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds an admin server reading stats from pool and c.
func New(pool PoolStatsSource, c CacheStatsSource) *Server {
	s := &Server{pool: pool, cache: c, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/stats/stream", s.handleStatsStream).Methods(http.MethodGet)

	return s
}

// ListenAndServe binds addr and serves the admin HTTP API until the server
// is closed.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.router}
	return s.srv.ListenAndServe()
}

// Close shuts the admin server down.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Close()
}

func (s *Server) snapshot() Snapshot {
	return Snapshot{Pool: s.pool.Stats(), Cache: s.cache.Stats()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.snapshot())
}

func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log("Admin websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.snapshot()); err != nil {
			return
		}
	}
}
