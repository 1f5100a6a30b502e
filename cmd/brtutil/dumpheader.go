package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreframe/brtkv/internal/serialize"
)

var dumpHeaderCmd = &cobra.Command{
	Use:   "dump-header <file>",
	Short: "Print a data file's header fields",
	Args:  cobra.ExactArgs(1),
	RunE:  runDumpHeader,
}

func runDumpHeader(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open %s: %w", args[0], err)
	}
	defer f.Close()

	prefix := make([]byte, 4)
	if _, err := f.ReadAt(prefix, 0); err != nil {
		return fmt.Errorf("read header size: %w", err)
	}
	size := int(prefix[0])<<24 | int(prefix[1])<<16 | int(prefix[2])<<8 | int(prefix[3])
	block := make([]byte, size)
	if _, err := f.ReadAt(block, 0); err != nil {
		return fmt.Errorf("read header: %w", err)
	}

	h, err := serialize.DecodeHeader(block)
	if err != nil {
		return fmt.Errorf("decode header: %w", err)
	}

	fmt.Printf("node_size:      %d\n", h.NodeSize)
	fmt.Printf("flags:          0x%x\n", h.Flags)
	fmt.Printf("unused_memory:  %d\n", h.UnusedMemory)
	fmt.Printf("freelist_head:  %d\n", h.FreelistHead)
	fmt.Printf("unnamed_root:   %d\n", h.UnnamedRoot)
	fmt.Printf("sub_dbs:        %d\n", len(h.SubDBs))
	for _, e := range h.SubDBs {
		fmt.Printf("  %-20s root=%d\n", e.Name, e.Root)
	}
	return nil
}
