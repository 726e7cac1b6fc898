package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vorteil/nfs/fs"
	"github.com/vorteil/nfs/internal/config"
)

var fsckCmd = &cobra.Command{
	Use:   "fsck IMAGE",
	Short: "Attach IMAGE, run recovery, and validate tree/extent invariants without mutating anything else.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		cfg := config.New()
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		path := filepath.Join(cfg.DataDir, args[0])
		f, err := fs.Mount(path, cfg)
		if err != nil {
			log.Errorf("mount %s: %v", path, err)
			os.Exit(1)
		}
		defer f.Unmount()

		report, err := f.Fsck()
		if err != nil {
			log.Errorf("fsck %s: %v", path, err)
			os.Exit(1)
		}
		fmt.Printf("%s: ok (%d files checked, %d free blocks)\n",
			path, report.FilesChecked, report.FreeBlocks)
	},
}

func init() {
	fsckCmd.Flags().String("data-dir", "", "override the configured data directory")
}
