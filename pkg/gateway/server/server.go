// Package server wires the relay, override, and monitoring surfaces
// into one HTTP handler.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/callrelay/callrelay/pkg/gateway/command"
	"github.com/callrelay/callrelay/pkg/gateway/config"
	"github.com/callrelay/callrelay/pkg/gateway/events"
	"github.com/callrelay/callrelay/pkg/gateway/metrics"
	"github.com/callrelay/callrelay/pkg/gateway/monitor"
	"github.com/callrelay/callrelay/pkg/gateway/mw"
	"github.com/callrelay/callrelay/pkg/gateway/override"
	"github.com/callrelay/callrelay/pkg/gateway/registry"
	"github.com/callrelay/callrelay/pkg/gateway/relay"
	"github.com/callrelay/callrelay/pkg/gateway/telephony"
	"github.com/callrelay/callrelay/pkg/gateway/tenant"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	registry *registry.Registry
	bus      *events.Bus
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	control  telephony.Controller
	executor *command.Executor
	tenants  *tenant.Manager
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(promReg)

	var control telephony.Controller
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		control = telephony.NewTwilio(cfg.TwilioAccountSID, cfg.TwilioAuthToken, logger)
	} else {
		logger.Warn("twilio credentials not configured; call control disabled")
		control = telephony.Disabled{Logger: logger}
	}

	bus := events.NewBus()
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		mux:      http.NewServeMux(),
		registry: registry.New(),
		bus:      bus,
		metrics:  m,
		promReg:  promReg,
		control:  control,
		executor: command.NewExecutor(control, bus, logger, command.ExecutorOptions{
			Workers:         cfg.CommandWorkers,
			QueueSize:       cfg.CommandQueueSize,
			Timeout:         cfg.CommandTimeout,
			DefaultTransfer: cfg.TransferDefault,
			Metrics:         m,
		}),
		tenants: tenant.NewManager(cfg.TenantMaxConcurrent, logger),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{}))

	// Telephony media socket. Authenticated upstream by the provider's
	// webhook validation, so it sits outside the API key gate.
	s.mux.Handle("/relay/ws", relay.Handler{
		Config:   s.cfg,
		Logger:   s.logger,
		Registry: s.registry,
		Bus:      s.bus,
		Runner:   s.executor,
		Metrics:  s.metrics,
		Tenants:  s.tenants,
	})

	// Supervisor surfaces sit behind the API key gate.
	supervised := http.NewServeMux()
	(&override.Handler{
		Registry: s.registry,
		Bus:      s.bus,
		Executor: s.executor,
		Metrics:  s.metrics,
		Logger:   s.logger,
	}).Register(supervised)
	supervised.Handle("GET /events/ws", monitor.Handler{
		Bus:          s.bus,
		Logger:       s.logger,
		WriteTimeout: s.cfg.RelayWriteTimeout,
	})
	supervised.HandleFunc("GET /calls", s.handleListCalls)
	supervised.HandleFunc("GET /calls/{callSid}", s.handleGetCall)
	supervised.HandleFunc("GET /tenants/stats", s.handleTenantStats)
	supervised.Handle("GET /tenants/{tenantID}/ws", tenant.Handler{
		Manager: s.tenants,
		Logger:  s.logger,
	})
	s.mux.Handle("/", mw.Auth(s.cfg, supervised))
}

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	sids := s.registry.Sids()
	infos := make([]registry.Info, 0, len(sids))
	for _, sid := range sids {
		if e, ok := s.registry.Lookup(sid); ok {
			infos = append(infos, e.Call.Snapshot())
		}
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	e, ok := s.registry.Lookup(r.PathValue("callSid"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "call not found"})
		return
	}
	writeJSON(w, http.StatusOK, e.Call.Snapshot())
}

func (s *Server) handleTenantStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tenants.Stats())
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Close drains background workers. Call after the HTTP server stops.
func (s *Server) Close() {
	s.executor.Close()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
