package server

import (
	"net/http"
	"sync"

	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"

	"github.com/gradflow/gradflow/lib/engine"
	"github.com/gradflow/gradflow/lib/reducer"
	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/rpc/transport"
)

var slog = logger.GetLogger("server")

// --------------------------------------------------------------------------
// Server
// --------------------------------------------------------------------------

// Server is the aggregation server: it owns the per-key state, drives the
// sharded engine and consumes the transport's request callbacks.
type Server struct {
	config *common.ServerConfig
	trans  transport.IPSServerTransport
	red    *reducer.CpuReducer
	eng    *engine.Engine
	state  *stateStore

	// handleMu serializes one transport callback at a time
	handleMu sync.Mutex

	// memoized response shells
	pushRespMu sync.Mutex
	pushResp   map[uint64]*common.KVPairs
	pullRespMu sync.Mutex
	pullResp   map[uint64]*common.KVPairs

	shutdownOnce sync.Once

	pushesTotal *metrics.Counter
	pullsTotal  *metrics.Counter
}

// New creates a server for the given configuration and transport. The
// transport's handler is registered here; call Run to start serving.
func New(config *common.ServerConfig, trans transport.IPSServerTransport) *Server {
	common.InitLoggers(*config)

	s := &Server{
		config:      config,
		trans:       trans,
		red:         reducer.New(),
		state:       newStateStore(),
		pushResp:    make(map[uint64]*common.KVPairs),
		pullResp:    make(map[uint64]*common.KVPairs),
		pushesTotal: metrics.GetOrCreateCounter(`gradflow_server_pushes_total`),
		pullsTotal:  metrics.GetOrCreateCounter(`gradflow_server_pulls_total`),
	}

	s.eng = engine.New(engine.Options{
		Shards:         config.EngineThreads,
		EnableSchedule: config.EnableSchedule,
		NumWorkers:     config.NumWorkers,
		LoadBalance:    config.LoadBalanceFactor,
		Debug:          config.Debug,
		DebugKey:       config.DebugKey,
	}, s, s, s.red)

	trans.RegisterHandler(s.handle)

	slog.Infof("created aggregation server")
	slog.Infof(config.String())
	if config.EngineBlocking {
		slog.Infof("enable blocking mode of the server engine")
	}
	if !config.SyncMode {
		slog.Infof("server is enabled asynchronous training")
	}
	if config.EnableSchedule {
		slog.Infof("enable engine scheduling")
	}

	return s
}

// Run drives the full server lifecycle: it starts the engine strands (sync
// mode only), serves the transport until it closes, then shuts the engine
// down and releases the per-key buffers. It returns only after cleanup.
func (s *Server) Run() error {
	if s.config.SyncMode && !s.config.EngineBlocking {
		s.eng.Start()
	}

	if s.config.MetricsEndpoint != "" {
		go s.serveMetrics()
	}

	err := s.trans.Listen(*s.config)

	s.Shutdown()
	return err
}

// Shutdown terminates the engine strands via sentinels, drains remaining
// work and drops the per-key state. Safe to call more than once.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		if s.config.SyncMode && !s.config.EngineBlocking {
			s.eng.Shutdown()
		}

		// drop the per-key buffers; the stored tensors die with the maps
		s.state = newStateStore()

		slog.Infof("server has been shut down")
	})
}

// serveMetrics exposes the process metrics in Prometheus text format.
func (s *Server) serveMetrics() {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	slog.Infof("metrics listening on %s", s.config.MetricsEndpoint)
	if err := http.ListenAndServe(s.config.MetricsEndpoint, mux); err != nil {
		slog.Errorf("metrics endpoint failed: %v", err)
	}
}
