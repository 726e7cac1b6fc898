package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vorteil/nfs/fs"
	"github.com/vorteil/nfs/internal/config"
	"github.com/vorteil/nfs/internal/corelog"
)

var log = corelog.New("cmd")

var mountCmd = &cobra.Command{
	Use:   "mount IMAGE",
	Short: "Attach IMAGE, creating it fresh if it does not exist, and report mount status.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dataDir, err := cmd.Flags().GetString("data-dir")
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

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

		root, err := f.Lookup("/")
		if err != nil {
			log.Errorf("stat root: %v", err)
			os.Exit(1)
		}
		fmt.Printf("mounted %s (root inode %d, mode %#o)\n", path, root.Inode, root.Mode)
		fmt.Println(f.RecentActivity())
	},
}

func init() {
	mountCmd.Flags().String("data-dir", "", "override the configured data directory")
}
