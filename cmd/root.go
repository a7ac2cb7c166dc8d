package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/logx"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "treeline",
	Short: "treeline chain indexer CLI",
	Long:  "Command line interface for running and querying a treeline chain indexer.",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logx.Error("CMD", "Command execution failed: ", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "/tmp/treeline.sock",
		"Path of the indexer's unix socket")
}
