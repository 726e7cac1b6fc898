package walring

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/wal"
)

func TestRecordFormatsSummaryLine(t *testing.T) {
	r := New(4096)
	r.Record(1, wal.OpInsert, 42)
	assert.Contains(t, r.String(), "tx=1")
	assert.Contains(t, r.String(), "lsn=42")
}

func TestRingOverwritesOldestWhenFull(t *testing.T) {
	r := New(32)
	for i := uint64(0); i < 20; i++ {
		r.Record(i, wal.OpCommit, i)
	}
	out := r.String()
	assert.LessOrEqual(t, len(out), 32)
	// The earliest transactions should have been evicted; the most recent
	// one must still be present.
	assert.True(t, strings.Contains(out, "tx=19"))
	assert.False(t, strings.Contains(out, "tx=0 "))
}
