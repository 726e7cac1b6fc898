// Package config centralizes the tunables named in spec.md §3/§6: block
// size, branching factor, WAL size, checkpoint interval, and friends.
// Defaults are conservative so an unconfigured mount is still safe.
package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	minWALSize = 64 * 1024
	maxWALSize = 1 << 30
)

// Config holds the core's tuning knobs; InlineThreshold and
// CompressionLevel are loaded but not read by any other package. Zero
// values are never used directly; New always returns defaults overridden
// by the environment.
type Config struct {
	DataDir string

	BlockSize       uint32 // B in §3, typically 4 KiB
	BranchingFactor int    // children per directory node, typically 16
	InlineExtents   int    // K in §4.4
	SpillExtents    int    // M in §4.4
	InlineThreshold int64  // bytes; not consulted: file data is always stored in blocks

	MaxNameLength int
	MaxTableSize  int64

	CompressionThreshold int // bytes; below this, never compress
	CompressionLevel     int // not consulted: compress always uses zstd's default level

	WALSize              int64
	RebalanceThreshold   int // modifying ops between rebalances
	AutoCheckpoint       bool
	CheckpointEntryCount int
	CheckpointInterval   time.Duration
	CheckpointFillFactor float64 // fraction of WAL capacity that forces a checkpoint

	SoftLockTimeout time.Duration

	// Layout sizing, consulted only at Create time (spec.md §6 treats
	// these as fixed for the life of a given layout file).
	MaxInodes     int64 // capacity of the inode table section
	TotalBlocks   uint32
	ExtentDirSize int64
	XattrPoolSize int64
	DataSize      int64
}

// New loads configuration from environment variables prefixed NFS_,
// through viper the way the teacher's vcfg wiring does, layered over safe
// defaults. No config file is read.
func New() *Config {
	v := viper.New()
	v.SetEnvPrefix("NFS")
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("block_size", 4096)
	v.SetDefault("branching_factor", 16)
	v.SetDefault("inline_extents", 4)
	v.SetDefault("spill_extents", 256)
	v.SetDefault("inline_threshold", 4096)
	v.SetDefault("max_name_length", 255)
	v.SetDefault("max_table_size", 64<<20)
	v.SetDefault("compression_threshold", 512)
	v.SetDefault("compression_level", 3)
	v.SetDefault("wal_size", 4<<20)
	v.SetDefault("rebalance_threshold", 1000)
	v.SetDefault("auto_checkpoint", false)
	v.SetDefault("checkpoint_entry_count", 4096)
	v.SetDefault("checkpoint_interval", "30s")
	v.SetDefault("checkpoint_fill_factor", 0.75)
	v.SetDefault("soft_lock_timeout", "5s")
	v.SetDefault("max_inodes", 1<<16)
	v.SetDefault("total_blocks", 1<<18)
	v.SetDefault("extent_dir_size", 8<<20)
	v.SetDefault("xattr_pool_size", 4<<20)
	v.SetDefault("data_size", int64(1<<18)*4096)

	cfg := &Config{
		DataDir:              v.GetString("data_dir"),
		BlockSize:            uint32(v.GetInt("block_size")),
		BranchingFactor:      v.GetInt("branching_factor"),
		InlineExtents:        v.GetInt("inline_extents"),
		SpillExtents:         v.GetInt("spill_extents"),
		InlineThreshold:      v.GetInt64("inline_threshold"),
		MaxNameLength:        v.GetInt("max_name_length"),
		MaxTableSize:         v.GetInt64("max_table_size"),
		CompressionThreshold: v.GetInt("compression_threshold"),
		CompressionLevel:     v.GetInt("compression_level"),
		WALSize:              v.GetInt64("wal_size"),
		RebalanceThreshold:   v.GetInt("rebalance_threshold"),
		AutoCheckpoint:       v.GetBool("auto_checkpoint"),
		CheckpointEntryCount: v.GetInt("checkpoint_entry_count"),
		CheckpointInterval:   v.GetDuration("checkpoint_interval"),
		CheckpointFillFactor: v.GetFloat64("checkpoint_fill_factor"),
		SoftLockTimeout:      v.GetDuration("soft_lock_timeout"),
		MaxInodes:            v.GetInt64("max_inodes"),
		TotalBlocks:          uint32(v.GetInt64("total_blocks")),
		ExtentDirSize:        v.GetInt64("extent_dir_size"),
		XattrPoolSize:        v.GetInt64("xattr_pool_size"),
		DataSize:             v.GetInt64("data_size"),
	}
	cfg.clampWALSize()
	return cfg
}

func (c *Config) clampWALSize() {
	if c.WALSize < minWALSize {
		c.WALSize = minWALSize
	}
	if c.WALSize > maxWALSize {
		c.WALSize = maxWALSize
	}
}
