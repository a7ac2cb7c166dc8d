package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/config"
	"github.com/treelinehq/treeline/exception"
	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/monitoring"
	"github.com/treelinehq/treeline/receiver"
	"github.com/treelinehq/treeline/server"
	"github.com/treelinehq/treeline/store"
)

var (
	configPath   string
	tuningPath   string
	fromSnapshot bool
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the indexer server",
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVarP(&configPath, "config", "c", "config/treeline.yml", "Indexer config file")
	serverCmd.Flags().StringVar(&tuningPath, "tuning", "", "Witness tuning .ini file (defaults to mainnet parameters)")
	serverCmd.Flags().BoolVar(&fromSnapshot, "from-snapshot", false, "Restore state from the configured snapshot path")
}

func runServer() {
	cfg, err := config.LoadIndexerConfig(configPath)
	if err != nil {
		logx.Error("CMD", "Failed to load configuration: ", err)
		os.Exit(1)
	}
	if fromSnapshot {
		cfg.FromSnapshot = true
	}
	applySocketOverride(cfg)

	wc, err := config.LoadWitnessConfig(tuningPath)
	if err != nil {
		logx.Error("CMD", "Failed to load witness tuning: ", err)
		os.Exit(1)
	}

	st, err := store.NewIndexerStore(cfg.StoreDir)
	if err != nil {
		logx.Error("CMD", "Failed to open store: ", err)
		os.Exit(1)
	}
	defer st.Close()

	indexerState, err := server.InitializeState(cfg, st, wc)
	if err != nil {
		logx.Error("CMD", "Failed to initialize state: ", err)
		os.Exit(1)
	}

	recv, err := buildReceiver(cfg)
	if err != nil {
		logx.Error("CMD", "Failed to build block receiver: ", err)
		os.Exit(1)
	}

	if cfg.MetricsAddr != "" {
		exception.SafeGo("metrics-endpoint", func() {
			monitoring.ServeMetrics(cfg.MetricsAddr)
		})
	}
	monitoring.SetNodeUp()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(cfg, indexerState, recv)
	if err := srv.Run(ctx); err != nil {
		logx.Error("CMD", "Server stopped: ", err)
		os.Exit(1)
	}
	logx.Info("CMD", "Shutdown complete")
}

// applySocketOverride lets --socket win over the config file, but only when
// the flag was set on the command line; the flag's default must not mask the
// configured socket_path.
func applySocketOverride(cfg *config.IndexerConfig) {
	if rootCmd.PersistentFlags().Changed("socket") {
		cfg.SocketPath = socketPath
	}
}

func buildReceiver(cfg *config.IndexerConfig) (receiver.BlockReceiver, error) {
	const queueSize = 1024
	if cfg.Bucket.Enabled {
		pollFreq := time.Duration(cfg.Bucket.PollFreqMs) * time.Millisecond
		if pollFreq <= 0 {
			pollFreq = time.Second
		}
		return receiver.NewBucketReceiver(
			cfg.Bucket.Name,
			cfg.Bucket.Network,
			cfg.Bucket.TempDir,
			pollFreq,
			cfg.RootHeight,
			cfg.Bucket.Overlap,
			queueSize,
		)
	}
	return receiver.NewFilesystemReceiver(cfg.WatchDir, cfg.StartupDir, queueSize)
}
