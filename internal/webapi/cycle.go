package webapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/render"

	"github.com/rafaeljc/norns/internal/logger"
	"github.com/rafaeljc/norns/internal/observability"
	"github.com/rafaeljc/norns/internal/session"
)

// withCycle runs the request inside a session.Cycle bound to the identity cookie and the
// principal header. Identity is resolved lazily by the handlers. Pending decisions are
// flushed right before the response header is written, and the identity cookie is set
// on the same response.
func (a *API) withCycle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var token string
		if c, err := r.Cookie(a.cfg.CookieName); err == nil {
			// A token that cannot name an instance is treated as absent so the visitor
			// gets a fresh identity instead of failing on every request.
			if validToken(c.Value) {
				token = c.Value
				ctx = logger.WithAttrs(ctx, slog.String("token", token))
			} else {
				logger.FromContext(ctx).Warn("ignoring malformed identity cookie", slog.Int("length", len(c.Value)))
			}
		}

		cycle := session.NewCycle(token, clientAddress(r), r.Header.Get(a.cfg.PrincipalHeader))
		r = r.WithContext(session.WithCycle(ctx, cycle))

		fw := &flushWriter{ResponseWriter: w, api: a, cycle: cycle, r: r}
		next.ServeHTTP(fw, r)

		// Handlers that never wrote still get their decisions persisted.
		if !fw.wroteHeader {
			fw.WriteHeader(http.StatusOK)
		}
	})
}

// commit flushes the cycle and records the outcome in metrics and logs.
func (a *API) commit(ctx context.Context, cycle *session.Cycle) (session.FlushResult, error) {
	res, err := cycle.Flush(ctx, a.repo)
	observability.EventsFlushedTotal.Add(float64(res.Written))
	observability.EventConflictsTotal.Add(float64(res.Conflicts))
	if err != nil {
		observability.FlushFailuresTotal.Inc()
		logger.FromContext(ctx).Error("failed to flush cycle",
			slog.String("error", err.Error()),
			slog.Int("pending", len(cycle.Decisions())),
		)
		return res, err
	}
	if res.Conflicts > 0 {
		logger.FromContext(ctx).Info("concurrent decision adopted from storage",
			slog.Int("conflicts", res.Conflicts),
		)
	}
	return res, nil
}

// flushWriter commits the cycle on the first WriteHeader.
// A failed flush replaces the handler's response with ERR_PERSISTENCE.
type flushWriter struct {
	http.ResponseWriter
	api   *API
	cycle *session.Cycle
	r     *http.Request

	wroteHeader bool
	failed      bool
}

func (w *flushWriter) WriteHeader(code int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	if _, err := w.api.commit(w.r.Context(), w.cycle); err != nil {
		w.failed = true
		w.Header().Del("Content-Length")
		w.setCookie()
		render.Status(w.r, http.StatusServiceUnavailable)
		render.JSON(w.ResponseWriter, w.r, ErrorResponse{
			Code:    "ERR_PERSISTENCE",
			Message: "Failed to persist experiment decisions",
		})
		return
	}

	w.setCookie()
	w.ResponseWriter.WriteHeader(code)
}

func (w *flushWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.failed {
		// The error body has already been sent; drop the handler's output.
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *flushWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// setCookie issues the identity cookie once the cycle holds an identity.
func (w *flushWriter) setCookie() {
	token := w.cycle.Token()
	if token == "" {
		return
	}
	cfg := w.api.cfg
	http.SetCookie(w.ResponseWriter, &http.Cookie{
		Name:     cfg.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(cfg.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// clientAddress returns the remote host without port. RealIP has already applied
// X-Forwarded-For and X-Real-IP.
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
