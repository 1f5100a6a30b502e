// Command brtutil is the operational inspection tool for a brtkv data
// file and its write-ahead log: dump-header, verify, and replay. dump-header
// and replay only read their target; verify opens the file through the
// ordinary brtkv.Open path, which starts a new WAL segment, may write
// recovered leaves and the header, and rewrites the header on close. Each
// prints its report to standard output. Grounded on the teacher's
// cmd/warren/main.go (a single cobra root
// command gluing independent subcommand files together).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/coreframe/brtkv/pkg/kvlog"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "brtutil",
	Short:   "Inspect and recover buffered repository tree data files",
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(dumpHeaderCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(replayCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	kvlog.Init(kvlog.Config{Level: kvlog.Level(level), JSONOutput: jsonOut})
}
