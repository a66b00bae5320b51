// Package api exposes the valuation service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/yourorg/vehicle-valuation/internal/circuitbreaker"
	"github.com/yourorg/vehicle-valuation/internal/metrics"
	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/refine"
	"github.com/yourorg/vehicle-valuation/internal/service"
)

// Version is reported by /health and /status
const Version = "1.0.0"

const maxBodyBytes = 1 << 20

// Refiner is the refinement surface the admin routes drive
type Refiner interface {
	RefineOne(ctx context.Context, id string) (refine.Outcome, error)
	RefineAll(ctx context.Context) (model.BatchSummary, error)
	ScheduledRun(ctx context.Context) (model.BatchSummary, error)
}

// Guard is the admin view of the market signal guard
type Guard interface {
	Status() circuitbreaker.Status
	Reset()
}

// StatusReporter describes a background component on /status
type StatusReporter interface {
	Status() map[string]interface{}
}

// Scheduler reports the next refinement activation
type Scheduler interface {
	NextRun() time.Time
}

// Options configures the HTTP surface
type Options struct {
	// RequestTimeout bounds the work done for one request
	RequestTimeout time.Duration

	// RateLimitRPS and RateLimitBurst shape the /v1 routes; zero RPS disables limiting
	RateLimitRPS   float64
	RateLimitBurst int
}

// Server routes HTTP requests to the valuation service and the refiner
type Server struct {
	svc       *service.Service
	refiner   Refiner
	guard     Guard
	exporter  StatusReporter
	scheduler Scheduler
	limiter   *rate.Limiter
	opts      Options
	startTime time.Time
}

// Option adds an optional component to the server
type Option func(*Server)

// WithGuard exposes the signal guard on the admin routes
func WithGuard(g Guard) Option {
	return func(s *Server) { s.guard = g }
}

// WithExporter reports the event exporter on /status
func WithExporter(e StatusReporter) Option {
	return func(s *Server) { s.exporter = e }
}

// WithScheduler reports the refinement schedule on /status
func WithScheduler(sc Scheduler) Option {
	return func(s *Server) { s.scheduler = sc }
}

// New creates the HTTP server
func New(svc *service.Service, refiner Refiner, opts Options, extras ...Option) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	s := &Server{
		svc:       svc,
		refiner:   refiner,
		opts:      opts,
		startTime: time.Now(),
	}
	if opts.RateLimitRPS > 0 {
		burst := opts.RateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimitRPS), burst)
		logrus.Infof("Rate limiting initialized: %v req/s, burst: %d", opts.RateLimitRPS, burst)
	}
	for _, opt := range extras {
		opt(s)
	}
	return s
}

// Handler returns the routed, instrumented handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /v1/valuations", s.handlePurchase)
	s.route(mux, "GET /v1/valuations/{id}", s.handleGetValuation)
	s.route(mux, "GET /v1/valuations/{id}/certificate", s.handleCertificate)
	s.route(mux, "POST /v1/certificates/verify", s.handleVerifyCertificate)
	s.route(mux, "POST /v1/quotes", s.handleQuote)

	s.route(mux, "POST /v1/admin/refine/{id}", s.handleRefineOne)
	s.route(mux, "POST /v1/admin/refine-all", s.handleRefineAll)
	s.route(mux, "POST /v1/admin/refine-stale", s.handleRefineStale)
	s.route(mux, "GET /v1/admin/guard", s.handleGuardStatus)
	s.route(mux, "POST /v1/admin/guard/reset", s.handleGuardReset)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// route registers an API handler behind rate limiting, the request timeout and metrics
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(pattern, s.limit(s.withTimeout(h))))
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		metrics.ObserveRequest(route, rec.status, time.Since(start))
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			errorResponse(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withTimeout(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
		defer cancel()
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// handleHealth is a simple health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"version":   Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports uptime and the state of the background components
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]interface{}{
		"status":  "operational",
		"uptime":  time.Since(s.startTime).String(),
		"version": Version,
	}
	if s.guard != nil {
		status["signal_guard"] = s.guard.Status()
	}
	if s.exporter != nil {
		status["exporter"] = s.exporter.Status()
	}
	if s.scheduler != nil {
		if next := s.scheduler.NextRun(); !next.IsZero() {
			status["next_refinement"] = next.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.WithError(err).Warn("Failed to encode response")
	}
}

// ErrorResponse is the body of every failed API call
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Status     string `json:"status"`
	Error      string `json:"error"`
}

func errorResponse(w http.ResponseWriter, statusCode int, errorMsg string) {
	entry := logrus.WithField("status_code", statusCode)
	if statusCode >= http.StatusInternalServerError {
		entry.Warn(errorMsg)
	} else {
		entry.Debug(errorMsg)
	}
	writeJSON(w, statusCode, ErrorResponse{
		StatusCode: statusCode,
		Status:     "error",
		Error:      errorMsg,
	})
}
