package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewAppliesDefaults(t *testing.T) {
	cfg := New()
	assert.Equal(t, uint32(4096), cfg.BlockSize)
	assert.Equal(t, 16, cfg.BranchingFactor)
	assert.Equal(t, int64(4<<20), cfg.WALSize)
	assert.False(t, cfg.AutoCheckpoint)
}

func TestNewReadsEnvOverride(t *testing.T) {
	os.Setenv("NFS_BRANCHING_FACTOR", "32")
	defer os.Unsetenv("NFS_BRANCHING_FACTOR")

	cfg := New()
	assert.Equal(t, 32, cfg.BranchingFactor)
}

func TestClampWALSizeEnforcesBounds(t *testing.T) {
	os.Setenv("NFS_WAL_SIZE", "1")
	defer os.Unsetenv("NFS_WAL_SIZE")

	cfg := New()
	assert.Equal(t, int64(minWALSize), cfg.WALSize)

	os.Setenv("NFS_WAL_SIZE", "99999999999")
	cfg = New()
	assert.Equal(t, int64(maxWALSize), cfg.WALSize)
}
