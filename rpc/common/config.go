package common

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// --------------------------------------------------------------------------
// Socket configuration (shared by the tcp and unix transports)
// --------------------------------------------------------------------------

// SocketConf tunes the byte-oriented transports.
type SocketConf struct {
	WriteBufferSize int
	ReadBufferSize  int
	TCPNoDelay      bool
	TCPKeepAliveSec int
	TCPLingerSec    int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters of the aggregation server.
type ServerConfig struct {
	// NumWorkers is the number of workers contributing to every key (N)
	NumWorkers int

	// Engine parameters
	EngineThreads     int     // number of engine shards/strands
	EngineBlocking    bool    // run the reducer inline from the handler
	EnableSchedule    bool    // priority queue instead of FIFO
	LoadBalanceFactor float64 // shard-assignment weight for compressed keys
	SyncMode          bool    // false when asynchronous training is enabled

	// Tracing
	KeyLog   bool   // per-key request logging
	Debug    bool   // trace one key's buffer values
	DebugKey uint64 // the traced key

	// Transport settings
	Endpoint      string
	TimeoutSecond int64
	Transport     SocketConf

	// Metrics endpoint ("" disables the listener)
	MetricsEndpoint string

	// Logging configuration
	LogLevel string
}

// envBindings maps viper keys to the environment variables of the wire
// protocol contract. The names are fixed; renaming them breaks deployments.
var envBindings = map[string]string{
	"num-workers":         "DMLC_NUM_WORKER",
	"key-log":             "PS_KEY_LOG",
	"engine-blocking":     "BYTEPS_SERVER_ENGINE_BLOCKING",
	"enable-async":        "BYTEPS_ENABLE_ASYNC",
	"debug":               "BYTEPS_SERVER_DEBUG",
	"debug-key":           "BYTEPS_SERVER_DEBUG_KEY",
	"engine-thread":       "BYTEPS_SERVER_ENGINE_THREAD",
	"enable-schedule":     "BYTEPS_SERVER_ENABLE_SCHEDULE",
	"load-balance-factor": "BYTEPS_SERVER_LOAD_BALANCE_FACTOR",
}

// InitEnv loads .env files and binds the protocol environment variables.
func InitEnv() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	for key, env := range envBindings {
		_ = viper.BindEnv(key, env)
	}

	viper.SetDefault("num-workers", 1)
	viper.SetDefault("engine-thread", 4)
	viper.SetDefault("load-balance-factor", 1.0)
}

// LoadServerConfig reads the configuration from viper (flags plus the bound
// environment variables) and validates it.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{
		NumWorkers:        viper.GetInt("num-workers"),
		EngineThreads:     viper.GetInt("engine-thread"),
		EngineBlocking:    viper.GetBool("engine-blocking"),
		EnableSchedule:    viper.GetBool("enable-schedule"),
		LoadBalanceFactor: viper.GetFloat64("load-balance-factor"),
		SyncMode:          !viper.GetBool("enable-async"),
		KeyLog:            viper.GetBool("key-log"),
		Debug:             viper.GetBool("debug"),
		DebugKey:          viper.GetUint64("debug-key"),
		Endpoint:          viper.GetString("endpoint"),
		TimeoutSecond:     viper.GetInt64("timeout"),
		MetricsEndpoint:   viper.GetString("metrics-endpoint"),
		LogLevel:          viper.GetString("log-level"),
		Transport: SocketConf{
			WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
			ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
			TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
		},
	}

	if cfg.NumWorkers < 1 {
		return nil, fmt.Errorf("invalid worker count %d", cfg.NumWorkers)
	}
	if cfg.EngineThreads < 1 {
		return nil, fmt.Errorf("invalid engine thread count %d", cfg.EngineThreads)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of a worker-side transport.
type ClientConfig struct {
	Endpoint      string
	TimeoutSecond int
	Transport     SocketConf
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Aggregation Server")
	addField("Workers (N)", strconv.Itoa(c.NumWorkers))
	addField("Sync Mode", fmt.Sprintf("%t", c.SyncMode))
	addField("Endpoint", c.Endpoint)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))

	addSection("Engine")
	addField("Shards", strconv.Itoa(c.EngineThreads))
	addField("Blocking", fmt.Sprintf("%t", c.EngineBlocking))
	addField("Scheduling", fmt.Sprintf("%t", c.EnableSchedule))
	addField("Load Balance Factor", fmt.Sprintf("%g", c.LoadBalanceFactor))

	addSection("Tracing")
	addField("Key Log", fmt.Sprintf("%t", c.KeyLog))
	addField("Debug", fmt.Sprintf("%t", c.Debug))
	if c.Debug {
		addField("Debug Key", strconv.FormatUint(c.DebugKey, 10))
	}

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	if c.MetricsEndpoint != "" {
		addSection("Metrics")
		addField("Endpoint", c.MetricsEndpoint)
	}

	return sb.String()
}
