package serve

import (
	"github.com/spf13/cobra"

	cmdUtil "github.com/gradflow/gradflow/cmd/util"
	"github.com/gradflow/gradflow/rpc/common"
	"github.com/gradflow/gradflow/server"
)

var (
	serveCmdConfig *common.ServerConfig
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start the gradflow aggregation server",
		Long:    `Start the aggregation server with the specified configuration. Flags can also be set via environment variables; the engine knobs use the fixed protocol names (BYTEPS_SERVER_ENGINE_THREAD, BYTEPS_ENABLE_ASYNC, ...), everything else the GRADFLOW_<flag> scheme.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	// add flags
	key := "num-workers"
	ServeCmd.PersistentFlags().Int(key, 1, cmdUtil.WrapString("Number of workers contributing to every key (N). Also read from DMLC_NUM_WORKER"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:9000", cmdUtil.WrapString("The address the push/pull transport listens on (host:port for tcp, a path for unix)"))

	key = "timeout"
	ServeCmd.PersistentFlags().Int64(key, 0, cmdUtil.WrapString("Write timeout in seconds for responses (0 disables)"))

	key = "metrics-endpoint"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Address for the Prometheus metrics listener (empty disables)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	key = "transport-write-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	ServeCmd.PersistentFlags().Int(key, 512, cmdUtil.WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, cmdUtil.WrapString("Whether to enable TCP_NODELAY"))

	key = "transport-tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The keepalive interval (in seconds, 0 disables)"))

	key = "transport-tcp-linger"
	ServeCmd.PersistentFlags().Int(key, 0, cmdUtil.WrapString("The linger time (in seconds, 0 disables)"))
}

// processConfig reads the configuration from the command line flags and
// environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := cmdUtil.BindCommandFlags(cmd); err != nil {
		return err
	}

	cfg, err := common.LoadServerConfig()
	if err != nil {
		return err
	}
	serveCmdConfig = cfg
	return nil
}

// run starts the aggregation server and drives it to completion
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport(s)
	if err != nil {
		return err
	}

	srv := server.New(serveCmdConfig, t)
	return srv.Run()
}
