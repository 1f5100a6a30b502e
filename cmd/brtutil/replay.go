package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coreframe/brtkv/internal/recovery"
)

var replayCmd = &cobra.Command{
	Use:   "replay <wal-dir>",
	Short: "Replay a write-ahead log directory and print the reconstructed header state",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	res, err := recovery.Replay(args[0], nil)
	if err != nil {
		return fmt.Errorf("replay %s: %w", args[0], err)
	}

	for file, fs := range res.Files {
		fmt.Printf("file %d: unused_memory=%d unnamed_root=%d sub_dbs=%d\n",
			file, fs.UnusedMemory, fs.UnnamedRoot, len(fs.SubDBs))
	}
	if len(res.UncommittedTxns) == 0 {
		fmt.Println("no uncommitted transactions")
	} else {
		fmt.Printf("uncommitted transactions: %v\n", res.UncommittedTxns)
	}
	fmt.Printf("scan stopped at offset %d in the last segment\n", res.TruncatedAt)
	return nil
}
