package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/coreframe/brtkv"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Walk every key in a data file, reporting the first integrity error found",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	path := args[0]
	db, err := brtkv.Open(path, brtkv.Options{WALDir: filepath.Join(filepath.Dir(path), "wal")})
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer db.Close()

	c := db.NewCursor()
	defer c.Close()

	var n int
	for err := c.SeekFirst(); ; err = c.SeekNext() {
		if err != nil {
			return fmt.Errorf("verify %s: walked %d entries before error: %w", path, n, err)
		}
		if _, _, ok := c.GetCurrent(); !ok {
			break
		}
		n++
	}
	fmt.Printf("%s: %d entries, no integrity errors found\n", path, n)
	return nil
}
