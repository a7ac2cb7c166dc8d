package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/logx"
)

var (
	blocksBucket    string
	blocksNetwork   string
	blocksStartFrom uint32
	blocksCount     uint32
	blocksOutputDir string
)

// blocksCmd is the standalone bucket downloader: it fetches a height range
// of block files without running an indexer, useful for seeding a startup
// directory.
var blocksCmd = &cobra.Command{
	Use:   "blocks",
	Short: "Download a range of block files from a cloud bucket",
	Run: func(cmd *cobra.Command, args []string) {
		if err := downloadBlocks(); err != nil {
			logx.Error("CMD", "Block download failed: ", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(blocksCmd)
	blocksCmd.Flags().StringVarP(&blocksBucket, "bucket", "b", "chain_block_data", "Bucket holding the block files")
	blocksCmd.Flags().StringVarP(&blocksNetwork, "network", "m", "mainnet", "Network prefix of the block files")
	blocksCmd.Flags().Uint32VarP(&blocksStartFrom, "start-from", "s", 2, "First block height to download")
	blocksCmd.Flags().Uint32VarP(&blocksCount, "num-blocks", "n", 1, "Number of heights to download")
	blocksCmd.Flags().StringVarP(&blocksOutputDir, "output-dir", "o", ".", "Directory to download into")
}

func downloadBlocks() error {
	if err := os.MkdirAll(blocksOutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir %s: %w", blocksOutputDir, err)
	}

	var patterns strings.Builder
	for height := blocksStartFrom; height < blocksStartFrom+blocksCount; height++ {
		patterns.WriteString(fmt.Sprintf("gs://%s/%s-%d-*.json\n", blocksBucket, blocksNetwork, height))
	}

	logx.Info("CMD", "downloading heights [", blocksStartFrom, ", ",
		blocksStartFrom+blocksCount-1, "] from gs://", blocksBucket)
	gsutil := exec.Command("gsutil", "-m", "cp", "-n", "-I", blocksOutputDir)
	gsutil.Stdin = strings.NewReader(patterns.String())
	gsutil.Stdout = os.Stdout
	gsutil.Stderr = os.Stderr
	return gsutil.Run()
}
