package app

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/auth/session"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/connectivity"
	"github.com/tarnapit/LASSMUO-FN-sub002/cmd/internal/progress"
)

// StatusReport is the /status body.
type StatusReport struct {
	Session       session.Status      `json:"session"`
	Connectivity  connectivity.Status `json:"connectivity"`
	Progress      progress.Summary    `json:"progress"`
	BridgeClients int                 `json:"bridgeClients"`
}

// Status returns the agent-wide snapshot.
func (a *Agent) Status() StatusReport {
	return StatusReport{
		Session:       a.session.Status(),
		Connectivity:  a.monitor.Status(),
		Progress:      a.board.Summary(),
		BridgeClients: a.gateway.Clients(),
	}
}

// Router builds the local status server: probes, status, metrics and the bridge.
func (a *Agent) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.monitor.Online() {
			http.Error(w, "backend unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.Status())
	})

	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	r.Method(http.MethodGet, "/bridge", a.gateway)

	return WithRequestLogging(r, a.log)
}
