package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/vorteil/nfs/fs"
	"github.com/vorteil/nfs/internal/config"
)

var statCmd = &cobra.Command{
	Use:   "stat IMAGE [PATH]",
	Short: "Mount IMAGE and print the attributes of PATH (default /), recursing into directories with --recursive.",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		dataDir, _ := cmd.Flags().GetString("data-dir")
		recursive, err := cmd.Flags().GetBool("recursive")
		if err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}

		cfg := config.New()
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		img := filepath.Join(cfg.DataDir, args[0])
		f, err := fs.Mount(img, cfg)
		if err != nil {
			log.Errorf("mount %s: %v", img, err)
			os.Exit(1)
		}
		defer f.Unmount()

		target := "/"
		if len(args) > 1 {
			target = args[1]
		}

		var walk func(path string) error
		walk = func(path string) error {
			attr, err := f.Lookup(path)
			if err != nil {
				return err
			}
			fmt.Printf("%-40s inode=%-8d mode=%#o size=%d\n", path, attr.Inode, attr.Mode, attr.Size)

			if !recursive {
				return nil
			}
			entries, err := f.Readdir(path)
			if err != nil {
				return nil // not a directory, or unreadable; stat already printed what it could
			}
			for _, e := range entries {
				child := filepath.ToSlash(filepath.Join(path, e.Name))
				if err := walk(child); err != nil {
					return err
				}
			}
			return nil
		}

		if err := walk(target); err != nil {
			log.Errorf("%v", err)
			os.Exit(1)
		}
	},
}

func init() {
	statCmd.Flags().String("data-dir", "", "override the configured data directory")
	statCmd.Flags().BoolP("recursive", "r", false, "recurse into subdirectories")
}
