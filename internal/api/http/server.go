package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	appNegotiation "github.com/homemarket/negotiation-engine/internal/application/negotiation"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/identity"
	"github.com/homemarket/negotiation-engine/internal/infrastructure/sse"
	"github.com/homemarket/negotiation-engine/internal/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 64 << 10
)

// Cluster is the membership surface of the replicated store.
type Cluster interface {
	AddVoter(ctx context.Context, nodeID, raftAddr string) error
	RemoveServer(ctx context.Context, nodeID string) error
	Stats() map[string]string
	IsLeader() bool
	LeaderAddr() string
}

// Options configures the HTTP server.
type Options struct {
	Negotiations *appNegotiation.Service
	Verifier     identity.Verifier
	Hub          *sse.Hub
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
	// TrustHeader names the gateway header carrying the caller id. Empty
	// disables it.
	TrustHeader    string
	RateLimit      RateLimit
	RequestTimeout time.Duration
	// Cluster is set when the replicated store backend is in use.
	Cluster Cluster
	// Ready reports whether backing stores are reachable.
	Ready func(ctx context.Context) error
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	negotiationSvc *appNegotiation.Service
	verifier       identity.Verifier
	sseHub         *sse.Hub
	metrics        *metrics.Metrics
	logger         zerolog.Logger
	trustHeader    string
	limiter        *RateLimiter
	requestTimeout time.Duration
	cluster        Cluster
	ready          func(ctx context.Context) error
}

func NewServer(opts Options) *Server {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Server{
		negotiationSvc: opts.Negotiations,
		verifier:       opts.Verifier,
		sseHub:         opts.Hub,
		metrics:        opts.Metrics,
		logger:         opts.Logger.With().Str("component", "http").Logger(),
		trustHeader:    opts.TrustHeader,
		limiter:        NewRateLimiter(opts.RateLimit),
		requestTimeout: timeout,
		cluster:        opts.Cluster,
		ready:          opts.Ready,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(hlog.NewHandler(s.logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(hlog.RequestIDHandler("req_id", "X-Request-Id"))
	r.Use(s.metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)

		// The event stream is long-lived and must not inherit the request timeout.
		r.Get("/events/stream", s.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))

			r.Route("/negotiations", func(r chi.Router) {
				r.Get("/", s.listNegotiations)
				r.Get("/{negotiationId}", s.getNegotiation)

				r.Group(func(r chi.Router) {
					r.Use(s.limiter.Middleware)
					r.Post("/", s.submitOffer)
					r.Put("/{negotiationId}", s.applyAction)
					r.Post("/{negotiationId}/counter", s.counterOffer)
					r.Post("/{negotiationId}/accept", s.accept)
					r.Post("/{negotiationId}/reject", s.reject)
					r.Post("/{negotiationId}/cancel", s.cancel)
				})
			})

			if s.cluster != nil {
				r.Route("/cluster", func(r chi.Router) {
					r.Get("/", s.clusterStats)
					r.Post("/voters", s.addVoter)
					r.Delete("/voters/{nodeId}", s.removeVoter)
				})
			}
		})
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{
		Error:     code,
		Message:   message,
		Retryable: retryableCode(code),
	})
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func parseLimitOffset(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil {
			limit = l
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if o, err := strconv.Atoi(v); err == nil {
			offset = o
		}
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
