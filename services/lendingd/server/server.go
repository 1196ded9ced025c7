package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"tierlend/native/creditscore"
	"tierlend/native/lending"
	"tierlend/native/permissions"
	"tierlend/native/pricing"
	"tierlend/observability"
	"tierlend/state"
)

const maxRequestBody = 1 << 20

const headerRequestID = "X-Request-Id"

// Config carries the HTTP-facing settings for the service.
type Config struct {
	APITokens         []string
	RequestsPerMinute float64
	Burst             int
}

// Server exposes the lending protocol over HTTP. Every mutating call runs in a
// single ledger transaction so a failed operation leaves no partial writes.
type Server struct {
	log      *slog.Logger
	manager  *state.Manager
	lending  *lending.Engine
	scores   *creditscore.Engine
	registry *permissions.Registry
	oracle   *pricing.Aggregator

	tokens map[string]struct{}

	limitCfg rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New constructs a Server over the protocol engines and the shared ledger.
func New(log *slog.Logger, manager *state.Manager, lend *lending.Engine, scores *creditscore.Engine, registry *permissions.Registry, oracle *pricing.Aggregator, cfg Config) *Server {
	if log == nil {
		log = slog.Default()
	}
	tokens := make(map[string]struct{}, len(cfg.APITokens))
	for _, token := range cfg.APITokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			tokens[trimmed] = struct{}{}
		}
	}
	perMinute := cfg.RequestsPerMinute
	if perMinute <= 0 {
		perMinute = 600
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &Server{
		log:      log,
		manager:  manager,
		lending:  lend,
		scores:   scores,
		registry: registry,
		oracle:   oracle,
		tokens:   tokens,
		limitCfg: rate.Limit(perMinute / 60.0),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Router assembles the HTTP routes with auth, rate limiting and tracing.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.throttle)

		r.Route("/collateral", func(r chi.Router) {
			r.Post("/deposit", s.handleCollateralDeposit)
			r.Post("/withdraw", s.handleCollateralWithdraw)
			r.Get("/{address}/value", s.handleCollateralValue)
		})
		r.Route("/loans", func(r chi.Router) {
			r.Post("/borrow", s.handleBorrow)
			r.Post("/installment", s.handleRepayInstallment)
			r.Post("/repay", s.handleRepay)
			r.Get("/{address}", s.handleLoan)
			r.Get("/{address}/terms", s.handleTerms)
		})
		r.Route("/liquidations", func(r chi.Router) {
			r.Post("/start", s.handleLiquidationStart)
			r.Post("/execute", s.handleLiquidationExecute)
			r.Post("/partial", s.handleLiquidationPartial)
			r.Post("/recover", s.handleLiquidationRecover)
			r.Get("/{address}", s.handleLiquidationState)
		})
		r.Route("/lenders", func(r chi.Router) {
			r.Post("/deposit", s.handleLenderDeposit)
			r.Post("/withdrawals/request", s.handleWithdrawalRequest)
			r.Post("/withdrawals/complete", s.handleWithdrawalComplete)
			r.Post("/claim-interest", s.handleClaimInterest)
			r.Get("/{address}", s.handleLenderView)
		})
		r.Route("/prices", func(r chi.Router) {
			r.Post("/", s.handlePriceSet)
			r.Get("/{token}", s.handlePriceView)
		})
		r.Get("/pool", s.handlePool)
		r.Get("/fees", s.handleFees)
		r.Post("/fees/withdraw", s.handleReserveWithdraw)
		r.Get("/events", s.handleEvents)
		r.Route("/roles", func(r chi.Router) {
			r.Post("/grant", s.handleRoleGrant)
			r.Post("/revoke", s.handleRoleRevoke)
		})
		r.Route("/creditscore", func(r chi.Router) {
			r.Post("/admin", s.handleAdminScore)
			r.Post("/attestations", s.handleAttestation)
			r.Post("/proofs", s.handleProof)
			r.Get("/{address}", s.handleProfile)
		})
	})

	return otelhttp.NewHandler(r, "lendingd")
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.tokens) == 0 {
			s.writeError(w, r, http.StatusUnauthorized, "no api tokens configured")
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token == "" || header == token {
			s.writeError(w, r, http.StatusUnauthorized, "missing bearer token")
			return
		}
		if _, ok := s.tokens[token]; !ok {
			s.writeError(w, r, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiterFor(clientID(r)).Allow() {
			observability.ModuleMetrics().RecordThrottle("lendingd", "rate_limit")
			s.writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(id string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[id]
	if !ok {
		limiter = rate.NewLimiter(s.limitCfg, s.burst)
		s.limiters[id] = limiter
	}
	return limiter
}

func clientID(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	if host == "" {
		host = "unknown"
	}
	return host
}

// observe records the request outcome under the shared module metrics.
func (s *Server) observe(operation string, status int, started time.Time) {
	observability.ModuleMetrics().Observe("lendingd", operation, status, time.Since(started))
}

func (s *Server) writeJSON(w http.ResponseWriter, _ *http.Request, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", r.URL.Path, "status", status, "error", message)
	}
	s.writeJSON(w, r, status, map[string]string{"error": message})
}
