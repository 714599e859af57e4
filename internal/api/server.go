// Package api implements C11: the read endpoints and the operator-
// facing control endpoints (cron trigger, manual ingest, delete
// snapshot, Discord auth) described in spec.md §6. Routing follows the
// github.com/go-chi/chi/v5 idiom the reference pack's erigon build
// uses for its own control-plane HTTP surface, with CORS handled by
// github.com/go-chi/cors.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/majeggstics/snapshotd/internal/auth"
	"github.com/majeggstics/snapshotd/internal/config"
	"github.com/majeggstics/snapshotd/internal/controller"
	"github.com/majeggstics/snapshotd/internal/respcache"
	"github.com/majeggstics/snapshotd/internal/storage"
)

// Server holds every collaborator the HTTP surface needs.
type Server struct {
	router chi.Router

	controller *controller.Controller
	cache      *storage.CacheRepo
	snapshots  *storage.SnapshotRepo
	exclusions *storage.ExclusionRepo
	auditLog   *storage.EmailLogRepo
	exchanger  *auth.Exchanger
	verifier   *auth.Verifier
	respCache  *respcache.Cache

	// upstream and cacheFreshFor back the read-path self-heal spec.md
	// §4.11 requires: a stale freshness marker triggers one upstream
	// fetch and cache replace before the read is served.
	upstream      controller.Fetcher
	cacheFreshFor time.Duration
	batchSize     int

	secretToken string
}

// New builds a Server and wires its routes.
func New(
	cfg config.Server,
	ctrl *controller.Controller,
	cache *storage.CacheRepo,
	snapshots *storage.SnapshotRepo,
	exclusions *storage.ExclusionRepo,
	auditLog *storage.EmailLogRepo,
	exchanger *auth.Exchanger,
	verifier *auth.Verifier,
	respCache *respcache.Cache,
	upstream controller.Fetcher,
	cacheFreshFor time.Duration,
	batchSize int,
	secretToken string,
) *Server {
	s := &Server{
		controller:    ctrl,
		cache:         cache,
		snapshots:     snapshots,
		exclusions:    exclusions,
		auditLog:      auditLog,
		exchanger:     exchanger,
		verifier:      verifier,
		respCache:     respCache,
		upstream:      upstream,
		cacheFreshFor: cacheFreshFor,
		batchSize:     batchSize,
		secretToken:   secretToken,
	}

	r := chi.NewRouter()
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-secret-token", "x-internal-call"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/functions/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(requireBearer(verifier))
			r.Post("/refresh-leaderboard-cron", s.handleRefreshLeaderboardCron)
			r.Get("/get-leaderboard", s.handleGetLeaderboard)
			r.Get("/get-player-current-stats", s.handleGetPlayerCurrentStats)
		})
		r.Post("/update-player-data", s.handleUpdatePlayerData)
		r.Post("/delete-snapshot", s.handleDeleteSnapshot)
		r.Post("/discord-auth", s.handleDiscordAuth)
	})

	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// NewHTTPServer wraps Server in an *http.Server configured from cfg.
func NewHTTPServer(addr string, handler http.Handler, cfg config.Server) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSec) * time.Second,
	}
}
