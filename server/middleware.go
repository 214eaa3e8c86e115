package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	verrors "github.com/adalundhe/vaultd/core/errors"
)

// =============================================================================
// Identity
// =============================================================================

// Identity is resolved by an upstream auth proxy and carried in trusted
// headers; the daemon never authenticates credentials itself.

type contextKey int

const (
	userKey contextKey = iota
	adminKey
)

// UserFrom returns the authenticated user attached by the identity
// middleware.
func UserFrom(ctx context.Context) string {
	user, _ := ctx.Value(userKey).(string)
	return user
}

// IsAdminFrom reports whether the request carries admin rights.
func IsAdminFrom(ctx context.Context) bool {
	admin, _ := ctx.Value(adminKey).(bool)
	return admin
}

// identity extracts the user from the trusted header and rejects anonymous
// requests. Admin status comes from the admin header or the config list.
func (s *Server) identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get(s.config.UserHeader)
		if user == "" {
			writeError(w, s.logger, verrors.E("http.auth", "", verrors.KindAuth,
				fmt.Errorf("missing %s header", s.config.UserHeader)))
			return
		}

		admin := s.config.IsAdmin(user)
		switch r.Header.Get(s.config.AdminHeader) {
		case "true", "1", "yes":
			admin = true
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		ctx = context.WithValue(ctx, adminKey, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireAdmin gates the admin subtree.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !IsAdminFrom(r.Context()) {
			writeError(w, s.logger, verrors.E("http.admin", "", verrors.KindNotHolder,
				fmt.Errorf("admin rights required")))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Logging
// =============================================================================

// requestLogger logs one line per request with status and duration.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"user", UserFrom(r.Context()),
		)
	})
}

// =============================================================================
// Metrics
// =============================================================================

// httpMetrics holds the HTTP-level collectors.
type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultd_http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultd_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(m.requests, m.duration)
	return m
}

// instrument records request counts and latency, labeled by the chi route
// pattern rather than the raw path so cardinality stays bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}

		s.metrics.requests.WithLabelValues(r.Method, route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.duration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
