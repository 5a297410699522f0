package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/recall/internal/backfill"
	"github.com/MikeSquared-Agency/recall/internal/matcher"
	"github.com/MikeSquared-Agency/recall/internal/store"
)

// Stats reports row counts of the recall tables.
type Stats interface {
	Counts(ctx context.Context) (store.Counts, error)
}

// Bus reports the state of the message bus connection.
type Bus interface {
	Connected() bool
}

// Previewer computes link proposals without applying them.
type Previewer interface {
	Preview(ctx context.Context, minConfidence int) (backfill.Report, error)
}

// Deps are the optional collaborators of the server. Nil members disable
// the parts of the API that need them.
type Deps struct {
	Stats         Stats
	Bus           Bus
	Previewer     Previewer
	MinConfidence int
}

type Server struct {
	router *chi.Mux
	port   int
	deps   Deps
	logger *slog.Logger
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	if deps.MinConfidence <= 0 {
		deps.MinConfidence = matcher.DefaultMinConfidence
	}

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		deps:   deps,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/recall/status", s.status)
		r.Get("/backfill/proposals", s.proposals)
	})

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Agent    string        `json:"agent"`
	Database string        `json:"database"`
	NATS     string        `json:"nats"`
	Counts   *store.Counts `json:"counts,omitempty"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Agent: "recall", Database: "disabled", NATS: "disabled"}

	if s.deps.Bus != nil {
		resp.NATS = "disconnected"
		if s.deps.Bus.Connected() {
			resp.NATS = "connected"
		}
	}

	code := http.StatusOK
	if s.deps.Stats != nil {
		counts, err := s.deps.Stats.Counts(r.Context())
		if err != nil {
			s.logger.Error("status counts failed", "error", err)
			resp.Database = "error"
			code = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
			resp.Counts = &counts
		}
	}

	writeJSON(w, code, resp)
}

type proposalsResponse struct {
	MinConfidence int                `json:"min_confidence"`
	Orphans       int                `json:"orphans"`
	Candidates    int                `json:"candidates"`
	Count         int                `json:"count"`
	Proposals     []matcher.Proposal `json:"proposals"`
}

func (s *Server) proposals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Previewer == nil {
		writeError(w, http.StatusNotImplemented, "backfill preview not configured")
		return
	}

	minConfidence := s.deps.MinConfidence
	if v := r.URL.Query().Get("min_confidence"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "min_confidence must be an integer between 0 and 100")
			return
		}
		minConfidence = n
	}

	rep, err := s.deps.Previewer.Preview(r.Context(), minConfidence)
	if err != nil && !errors.Is(err, backfill.ErrNoCandidates) {
		s.logger.Error("backfill preview failed", "error", err)
		writeError(w, http.StatusInternalServerError, "preview failed: "+err.Error())
		return
	}

	proposals := rep.Proposals
	if proposals == nil {
		proposals = []matcher.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposalsResponse{
		MinConfidence: minConfidence,
		Orphans:       rep.Orphans,
		Candidates:    rep.Candidates,
		Count:         len(proposals),
		Proposals:     proposals,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
