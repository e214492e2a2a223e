package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/config"
	"github.com/matheus3301/wpphub/internal/registry"
)

// MetricsServer serves /metrics and /healthz over HTTP. It does nothing when
// metrics are disabled.
type MetricsServer struct {
	enabled bool
	addr    string
	server  *http.Server
	logger  *zap.Logger
}

// NewMetricsServer builds the HTTP server; Start binds it.
func NewMetricsServer(cfg *config.Config, promReg *prometheus.Registry, reg *registry.Registry, logger *zap.Logger) *MetricsServer {
	return &MetricsServer{
		enabled: cfg.Metrics.Enabled,
		addr:    cfg.Metrics.Listen,
		server: &http.Server{
			Handler:           newRouter(promReg, reg.CountByState),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func newRouter(gatherer prometheus.Gatherer, counts func() map[string]int) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"sessions": counts(),
		})
	}).Methods(http.MethodGet)
	return r
}

// Start listens on the configured address and serves in the background.
func (m *MetricsServer) Start() error {
	if !m.enabled {
		return nil
	}
	lis, err := net.Listen("tcp", m.addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	m.logger.Info("metrics server starting", zap.String("addr", lis.Addr().String()))
	go func() {
		if err := m.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

func (m *MetricsServer) Stop(ctx context.Context) {
	if !m.enabled {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
}
