package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// registerOps installs the operational endpoints. They bypass the session
// middleware so health checks never create sessions.
func (a *App) registerOps(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !a.Listening() {
			http.Error(w, "socket listeners not attached", http.StatusServiceUnavailable)
			return
		}
		if a.cfg.ReadinessRequireDB && a.storeKind() != StorePostgres {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if err := a.backend.ready(r.Context()); err != nil {
			http.Error(w, "session store not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.store.not_ready", "store", a.storeKind(), "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if a.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	}
}
