// Command nfsmount drives the in-memory POSIX-like filesystem core
// (internal/tree, internal/wal, internal/layout, fs) from the command
// line: attach-or-create a data file, optionally run one operation
// against it, and exit. It is not a real FUSE mount — spec.md's core ships
// without a kernel-facing transport — but follows the same subcommand
// shape as the teacher pack's cmd/vorteil CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/vorteil/nfs/internal/corelog"
)

var debug bool

var rootCmd = &cobra.Command{
	Use:   "nfsmount",
	Short: "Attach, inspect, and fsck the packed in-memory filesystem core.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		corelog.SetLevel(debug)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug-level logging")
	rootCmd.AddCommand(mountCmd, fsckCmd, statCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
