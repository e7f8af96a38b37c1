package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Sampling metrics
	TicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskledger_ticks_total",
			Help: "Total sampler ticks processed",
		},
	)

	CreditedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskledger_credited_seconds_total",
			Help: "Seconds credited to the active or idle bucket",
		},
		[]string{"state"},
	)

	DiscardedSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskledger_discarded_seconds_total",
			Help: "Seconds credited to no bucket",
		},
		[]string{"reason"},
	)

	QueryErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskledger_os_query_errors_total",
			Help: "Failed foreground and idle queries",
		},
		[]string{"query"},
	)

	// Ledger metrics
	LedgerSaves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskledger_ledger_saves_total",
			Help: "Ledger persistence attempts",
		},
		[]string{"result"},
	)

	MergedMinutes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskledger_merged_minutes_total",
			Help: "Minutes merged into the day ledger",
		},
		[]string{"kind"},
	)

	Rollovers = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "deskledger_rollovers_total",
			Help: "Day rollovers performed",
		},
	)

	SaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deskledger_ledger_save_duration_seconds",
			Help:    "Time spent persisting the day ledger",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// Report metrics
	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deskledger_reports_total",
			Help: "End-of-period reports by outcome",
		},
		[]string{"period", "result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		CreditedSeconds,
		DiscardedSeconds,
		QueryErrors,
		LedgerSaves,
		MergedMinutes,
		Rollovers,
		SaveDuration,
		ReportsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
