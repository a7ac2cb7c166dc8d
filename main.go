package main

import (
	"os"
	"runtime/debug"

	"github.com/treelinehq/treeline/cmd"
	"github.com/treelinehq/treeline/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_ = logx.Errorf("INDEXER CRASHED: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	cmd.Execute()
}
