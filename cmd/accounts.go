package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/treelinehq/treeline/logx"
	"github.com/treelinehq/treeline/store"
)

var accountsStoreDir string

// accountsCmd dumps the persisted account mirror straight from the store
// files, for inspecting a stopped indexer without replaying anything.
var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Dump the persisted canonical accounts from a store directory",
	Run: func(cmd *cobra.Command, args []string) {
		if err := dumpAccounts(); err != nil {
			logx.Error("CMD", "Account dump failed: ", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(accountsCmd)
	accountsCmd.Flags().StringVarP(&accountsStoreDir, "store-dir", "d", "", "Store directory of a stopped indexer")
	accountsCmd.MarkFlagRequired("store-dir")
}

func dumpAccounts() error {
	st, err := store.NewIndexerStore(accountsStoreDir)
	if err != nil {
		return err
	}
	defer st.Close()

	accounts, err := st.Accounts()
	if err != nil {
		return err
	}
	payload, err := json.MarshalIndent(accounts, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize accounts: %w", err)
	}
	fmt.Println(string(payload))
	return nil
}
