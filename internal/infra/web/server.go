package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain/ports/broadcast"
	"invoice-extraction-pipeline/internal/infra/logging"
	"invoice-extraction-pipeline/internal/usecase"
)

type Server struct {
	intake usecase.IntakeUseCase
	review usecase.ReviewUseCase
	bus    broadcast.Broadcaster
	auth   *AuthManager
	apiKey string
	log    *zerolog.Logger
}

func NewServer(
	intake usecase.IntakeUseCase,
	review usecase.ReviewUseCase,
	bus broadcast.Broadcaster,
	auth *AuthManager,
	apiKey string,
	logger *zerolog.Logger,
) *Server {
	l := logger.With().Str("component", "Server").Logger()
	return &Server{
		intake: intake,
		review: review,
		bus:    bus,
		auth:   auth,
		apiKey: apiKey,
		log:    &l,
	}
}

// Router builds the API surface. Job routes sit behind the bearer API key;
// review routes additionally require a reviewer session.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.traceMiddleware)
	r.Use(s.requestLogMiddleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)
			r.Post("/jobs", s.handleEnqueue)
			r.Get("/jobs/unviewed", s.handleListUnviewed)
			r.Get("/jobs/{jobID}", s.handleStatus)
			r.Get("/jobs/{jobID}/events", s.handleSubscribe)
			r.Post("/jobs/{jobID}/viewed", s.handleMarkViewed)
			r.Post("/reviewer/session", s.handleMintSession)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.reviewerMiddleware)
			r.Post("/reviews/{jobID}/approve", s.handleApprove)
			r.Post("/reviews/{jobID}/reject", s.handleReject)
		})
	})

	return r
}

// traceMiddleware tags each request context with a trace id; downstream log
// lines pick it up through logging.With.
func (s *Server) traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tid := r.Header.Get("X-Request-ID")
		if tid == "" {
			tid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", tid)
		next.ServeHTTP(w, r.WithContext(logging.WithTraceID(r.Context(), tid)))
	})
}

func (s *Server) requestLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := logging.With(r.Context(), s.log)
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		l.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("http_request")
	})
}

// apiKeyMiddleware provides simple Bearer token authentication.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("server.api_key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || !strings.EqualFold(tokenParts[0], "bearer") {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) reviewerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := s.auth.ParseFromRequest(r)
		if err != nil || claims.Role != "reviewer" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
