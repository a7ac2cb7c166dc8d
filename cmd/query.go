package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/client"
)

var accountCmd = &cobra.Command{
	Use:   "account <address>",
	Short: "Look up a ledger account",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runQuery(func(c *client.Client) ([]byte, error) {
			return c.Account(args[0])
		})
	},
}

var bestChainCmd = &cobra.Command{
	Use:   "best-chain <n>",
	Short: "Fetch up to n blocks from the best tip toward genesis",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			fmt.Fprintln(os.Stderr, "best-chain requires a positive block count")
			os.Exit(1)
		}
		runQuery(func(c *client.Client) ([]byte, error) {
			return c.BestChain(n)
		})
	},
}

var bestLedgerCmd = &cobra.Command{
	Use:   "best-ledger <path>",
	Short: "Write the full ledger at the canonical tip to a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runQuery(func(c *client.Client) ([]byte, error) {
			return c.BestLedger(args[0])
		})
	},
}

var summaryVerbose bool

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the indexer summary",
	Run: func(cmd *cobra.Command, args []string) {
		runQuery(func(c *client.Client) ([]byte, error) {
			return c.Summary(summaryVerbose)
		})
	},
}

var saveStateCmd = &cobra.Command{
	Use:   "save-state <path>",
	Short: "Ask the indexer to snapshot its state to a file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runQuery(func(c *client.Client) ([]byte, error) {
			return c.SaveState(args[0])
		})
	},
}

func init() {
	summaryCmd.Flags().BoolVarP(&summaryVerbose, "verbose", "v", false, "Include tree shape and process stats")
	rootCmd.AddCommand(accountCmd, bestChainCmd, bestLedgerCmd, summaryCmd, saveStateCmd)
}

func runQuery(fn func(*client.Client) ([]byte, error)) {
	resp, err := fn(client.NewClient(socketPath))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(string(resp))
}
