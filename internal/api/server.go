// Package api exposes the reservation, availability and admin HTTP
// surface.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"kennelbook/internal/cache"
	"kennelbook/internal/ledger"
	"kennelbook/internal/payment"
	"kennelbook/internal/pricing"
	"kennelbook/internal/store"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// HTTPServer wires the HTTP API to the core services.
type HTTPServer struct {
	db         *store.DB
	ledger     *ledger.Ledger
	pricer     *pricing.Engine
	cache      *cache.Cache
	provider   payment.Provider
	reconciler *payment.Reconciler
	logger     *zerolog.Logger

	adminKey string
	currency string
	loc      *time.Location

	limiterMu sync.Mutex
	limiters  map[string]*clientLimiter
	rateLimit rate.Limit
	rateBurst int

	server *http.Server
}

// Options collects the server dependencies and tunables.
type Options struct {
	Port       int
	AdminKey   string
	Currency   string
	Location   *time.Location
	DB         *store.DB
	Ledger     *ledger.Ledger
	Pricer     *pricing.Engine
	Cache      *cache.Cache
	Provider   payment.Provider
	Reconciler *payment.Reconciler
	Logger     *zerolog.Logger

	// RatePerMinute limits reserve attempts per client email. 0 disables.
	RatePerMinute int
	RateBurst     int
}

func NewHTTPServer(opts Options) *HTTPServer {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	currency := opts.Currency
	if currency == "" {
		currency = "eur"
	}
	burst := opts.RateBurst
	if burst <= 0 {
		burst = 3
	}

	s := &HTTPServer{
		db:         opts.DB,
		ledger:     opts.Ledger,
		pricer:     opts.Pricer,
		cache:      opts.Cache,
		provider:   opts.Provider,
		reconciler: opts.Reconciler,
		logger:     opts.Logger,
		adminKey:   opts.AdminKey,
		currency:   currency,
		loc:        loc,
		limiters:   make(map[string]*clientLimiter),
		rateLimit:  rate.Limit(float64(opts.RatePerMinute) / 60.0),
		rateBurst:  burst,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/reserve", s.handleReserve)
	mux.HandleFunc("/api/release", s.handleRelease)
	mux.HandleFunc("/api/availability", s.handleAvailability)
	mux.HandleFunc("/api/capacity-overview", s.handleCapacityOverview)
	mux.HandleFunc("/api/quote", s.handleQuote)
	mux.HandleFunc("/api/bookings", s.handleCreateBooking)
	mux.HandleFunc("/api/payments/webhook", s.handlePaymentWebhook)
	mux.HandleFunc("/api/admin/capacity-defaults", s.requireAdmin(s.handleCapacityDefaults))
	mux.HandleFunc("/api/admin/capacity-overrides", s.requireAdmin(s.handleOverrides))
	mux.HandleFunc("/api/admin/capacity-overrides/reset", s.requireAdmin(s.handleOverridesReset))
	mux.HandleFunc("/api/admin/occupancy-report", s.requireAdmin(s.handleOccupancyReport))

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler exposes the routed handler for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// requireAdmin guards admin routes with the X-Api-Key header.
func (s *HTTPServer) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey == "" {
			writeError(w, http.StatusForbidden, "admin API disabled")
			return
		}
		key := r.Header.Get("X-Api-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.adminKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next(w, r)
	}
}

// clientLimiter pairs a token bucket with its last use so idle entries
// can be evicted.
type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

const (
	// limiterIdleAfter must be long enough that an evicted bucket
	// would have refilled to full burst anyway, so eviction never
	// hands a throttled client fresh tokens early.
	limiterIdleAfter = 10 * time.Minute
	limiterPruneAt   = 1024
)

// allowReserve applies the per-email token bucket.
func (s *HTTPServer) allowReserve(email string) bool {
	if s.rateLimit <= 0 {
		return true
	}

	now := time.Now()

	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()

	cl, ok := s.limiters[email]
	if !ok {
		if len(s.limiters) >= limiterPruneAt {
			s.pruneLimitersLocked(now)
		}
		cl = &clientLimiter{lim: rate.NewLimiter(s.rateLimit, s.rateBurst)}
		s.limiters[email] = cl
	}
	cl.lastSeen = now
	return cl.lim.Allow()
}

func (s *HTTPServer) pruneLimitersLocked(now time.Time) {
	for email, cl := range s.limiters {
		if now.Sub(cl.lastSeen) > limiterIdleAfter {
			delete(s.limiters, email)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
