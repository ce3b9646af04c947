package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gradflow/gradflow/cmd/bench"
	"github.com/gradflow/gradflow/cmd/serve"
	"github.com/gradflow/gradflow/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "gradflow",
		Short: "gradient aggregation server",
		Long: fmt.Sprintf(`gradflow (v%s)

A server-side aggregation core for synchronous and asynchronous
distributed gradient exchange: workers push gradient tensors, the server
merges, optionally compresses, and serves the result back via pull.`, Version),
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gradflow",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gradflow v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(bench.BenchCmd)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("serializer to use (json, gob, binary)"))
	key = "transport"
	RootCmd.PersistentFlags().String(key, "tcp", util.WrapString("transport to use (tcp, unix)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
