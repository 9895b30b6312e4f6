package webapi

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rafaeljc/norns/internal/logger"
	"github.com/rafaeljc/norns/internal/observability"
)

// APIKeyHeader carries the admin API key.
const APIKeyHeader = "X-API-Key"

// requestLogger stores a request-scoped logger in the context and logs every completed
// request: Info for success, Warn for 4xx, Error for 5xx.
func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := middleware.GetReqID(r.Context())

		ctx := logger.WithAttrs(logger.WithContext(r.Context(), a.logger), slog.String("request_id", reqID))
		log := logger.FromContext(ctx)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		level := slog.LevelInfo
		status := ww.Status()
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		log.Log(ctx, level, "HTTP request completed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote_ip", r.RemoteAddr),
		)
	})
}

// Metrics records request count and latency labelled by route pattern.
// Unmatched paths collapse to "not_found" to bound label cardinality.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "not_found"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		observability.HTTPReqDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		observability.HTTPReqTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}

// authenticateAPIKey compares the SHA-256 of the presented key with the configured hash
// in constant time. The key is read from X-API-Key or an "Authorization: Bearer" header.
func (a *API) authenticateAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.skipAuth {
			next.ServeHTTP(w, r)
			return
		}

		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}

		sum := sha256.Sum256([]byte(key))
		presented := hex.EncodeToString(sum[:])

		if key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(strings.ToLower(a.apiKeyHash))) != 1 {
			logger.FromContext(r.Context()).Warn("admin request rejected", slog.String("path", r.URL.Path))
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, ErrorResponse{
				Code:    "ERR_UNAUTHORIZED",
				Message: "A valid API key is required",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
