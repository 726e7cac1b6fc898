package wal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vorteil/nfs/internal/fserrors"
)

func testOptions(capacity int) Options {
	return Options{
		Capacity:             capacity,
		CheckpointFillFactor: 0.75,
	}
}

func TestBeginCommitRoundTrip(t *testing.T) {
	l, err := New(testOptions(64 * 1024))
	assert.NoError(t, err)

	tx, err := l.BeginTx()
	assert.NoError(t, err)
	assert.NoError(t, l.LogInsert(tx, EncodeInsert(InsertPayload{Parent: 1, Inode: 2, Mode: 0644, Name: "a"})))
	assert.NoError(t, l.CommitTx(tx))

	recs := l.Records()
	assert.Len(t, recs, 3) // BEGIN, INSERT, COMMIT
	assert.Equal(t, OpBegin, recs[0].Header.Op)
	assert.Equal(t, OpInsert, recs[1].Header.Op)
	assert.Equal(t, OpCommit, recs[2].Header.Op)

	p, err := DecodeInsert(recs[1].Data)
	assert.NoError(t, err)
	assert.Equal(t, "a", p.Name)
	assert.Equal(t, uint32(2), p.Inode)
}

func TestLogOpRejectsUnknownTransaction(t *testing.T) {
	l, err := New(testOptions(64 * 1024))
	assert.NoError(t, err)
	err = l.LogInsert(999, []byte("x"))
	assert.Error(t, err)
}

func TestCheckpointReclaimsSpace(t *testing.T) {
	l, err := New(testOptions(64 * 1024))
	assert.NoError(t, err)

	tx, err := l.BeginTx()
	assert.NoError(t, err)
	assert.NoError(t, l.CommitTx(tx))

	assert.NoError(t, l.Checkpoint())
	recs := l.Records()
	assert.Len(t, recs, 1, "after checkpoint only the CHECKPOINT record itself remains live")
	assert.Equal(t, OpCheckpoint, recs[0].Header.Op)
}

func TestAttachRoundTripsBuffer(t *testing.T) {
	opts := testOptions(64 * 1024)
	l, err := New(opts)
	assert.NoError(t, err)

	tx, err := l.BeginTx()
	assert.NoError(t, err)
	assert.NoError(t, l.LogInsert(tx, EncodeInsert(InsertPayload{Parent: 1, Inode: 2, Mode: 0644, Name: "a"})))
	assert.NoError(t, l.CommitTx(tx))

	buf := l.Buffer()
	l2, err := Attach(buf, opts)
	assert.NoError(t, err)
	assert.Equal(t, l.Records(), l2.Records())
}

func TestRecordsTruncateAtCorruption(t *testing.T) {
	opts := testOptions(64 * 1024)
	l, err := New(opts)
	assert.NoError(t, err)

	tx, err := l.BeginTx()
	assert.NoError(t, err)
	assert.NoError(t, l.LogInsert(tx, EncodeInsert(InsertPayload{Parent: 1, Inode: 2, Mode: 0644, Name: "a"})))
	assert.NoError(t, l.CommitTx(tx))

	buf := l.Buffer()
	// Corrupt a byte inside the second record (its header's TxID field);
	// the exact offset only needs to land after the header/BEGIN record.
	buf[headerSize+recordHeaderSize+2] ^= 0xFF

	l2, err := Attach(buf, opts)
	assert.NoError(t, err)
	recs := l2.Records()
	assert.LessOrEqual(t, len(recs), 1, "recovery stops at the first checksum mismatch")
}

func TestAutoCheckpointOnFill(t *testing.T) {
	opts := Options{Capacity: 64 * 1024, AutoCheckpoint: true, CheckpointFillFactor: 0.001}
	checkpointed := false
	opts.OnCheckpoint = func([]byte) error { checkpointed = true; return nil }

	l, err := New(opts)
	assert.NoError(t, err)

	tx, err := l.BeginTx()
	assert.NoError(t, err)
	assert.NoError(t, l.LogInsert(tx, EncodeInsert(InsertPayload{Parent: 1, Inode: 2, Mode: 0644, Name: "a"})))
	assert.NoError(t, l.CommitTx(tx))

	assert.True(t, checkpointed, "a 0.1% fill factor (about 66 bytes) is crossed by the BEGIN and INSERT records")
}

func TestNoLogSpaceWhenFull(t *testing.T) {
	l, err := New(testOptions(64 * 1024))
	assert.NoError(t, err)

	tx, err := l.BeginTx()
	assert.NoError(t, err)
	big := make([]byte, 70*1024) // larger than the whole ring; can never fit
	err = l.LogWrite(tx, big)
	assert.ErrorIs(t, err, fserrors.ErrNoLogSpace)
}
