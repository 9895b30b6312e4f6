package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/render"
)

// probeResponse is the readiness body. Only the status code matters to orchestrators.
type probeResponse struct {
	Service string            `json:"service"`
	Version string            `json:"version"`
	Status  map[string]string `json:"status"`
}

// liveness responds 200 while the process can serve HTTP.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker in parallel under the configured timeout.
// It returns 200 only if all of them pass.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	status := make(map[string]string, len(s.checkers))
	healthy := true

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, checker := range s.checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// WARN: the orchestrator retries, this is not yet an outage.
				s.logger.Warn("health probe failed",
					slog.String("component", c.Name()),
					slog.String("error", err.Error()),
				)
				status[c.Name()] = fmt.Sprintf("down: %v", err)
				healthy = false
				return
			}
			status[c.Name()] = "up"
		}(checker)
	}

	wg.Wait()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}

	render.Status(r, code)
	render.JSON(w, r, probeResponse{
		Service: s.service,
		Version: s.version,
		Status:  status,
	})
}
