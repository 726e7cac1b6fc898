package wal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"sync"
	"time"

	"github.com/vorteil/nfs/internal/corelog"
	"github.com/vorteil/nfs/internal/fserrors"
)

// headerMagic identifies a WAL header block.
const headerMagic = 0x4C41574E // "NWAL" little-endian friendly constant

const headerSize = 4 + 2 + 2 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + 4 // see Header fields

// Header is the first record of the log buffer (spec.md §3).
type Header struct {
	Magic         uint32
	VersionMajor  uint16
	VersionMinor  uint16
	NextTxID      uint64
	NextLSN       uint64
	Head          uint64
	Tail          uint64
	// WrapOffset is the position where the live ring data stopped short of
	// capacity and restarted at headerSize (spec.md §4.7's circular reuse).
	// Zero means no wrap is outstanding since the last checkpoint reset
	// Tail to Head. Without this, a reader walking Tail->Head has no way
	// to tell a genuine record boundary from the dead gap writeRing leaves
	// between the old Head and capacity.
	WrapOffset    uint64
	CheckpointLSN uint64
	EntryCount    uint64
	Checksum      uint32
}

func (h Header) encode() []byte {
	h.Checksum = 0
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, h)
	cs := crc32.ChecksumIEEE(buf.Bytes())
	h.Checksum = cs
	buf.Reset()
	binary.Write(buf, binary.LittleEndian, h)
	return buf.Bytes()
}

func decodeHeader(buf []byte) (Header, error) {
	var h Header
	if len(buf) < headerSize {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "short wal header")
	}
	if err := binary.Read(bytes.NewReader(buf[:headerSize]), binary.LittleEndian, &h); err != nil {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "decoding wal header: %v", err)
	}
	want := h.Checksum
	check := h
	check.Checksum = 0
	cbuf := new(bytes.Buffer)
	binary.Write(cbuf, binary.LittleEndian, check)
	if crc32.ChecksumIEEE(cbuf.Bytes()) != want {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "wal header checksum mismatch")
	}
	if h.Magic != headerMagic {
		return h, fserrors.Wrap(fserrors.ErrCorrupted, "wal header magic mismatch")
	}
	return h, nil
}

// Sink receives durability notifications: it is implemented by
// internal/layout so every append/checkpoint can msync the affected pages,
// per spec.md §4.7's durability contract. A nil Sink is valid for
// purely in-memory logs (tests).
type Sink interface {
	Msync(offset, length int) error
}

// Log is a circular, checksummed WAL over a fixed-size byte buffer.
// Ring behaviour: append at Head, wrapping to headerSize (just past the
// header block) when the next record would cross the buffer end and there
// is room at the start (spec.md §4.7).
type Log struct {
	mu     sync.Mutex
	buf    []byte // capacity-sized ring; buf[0:headerSize] holds the header
	hdr    Header
	sink   Sink
	log    corelog.Logger
	txs    map[uint64]bool // active transactions (true = active, absent once resolved)
	capacity int

	autoCheckpoint       bool
	checkpointEntryCount int
	checkpointFillFactor float64
	checkpointInterval   time.Duration
	lastCheckpoint       time.Time
	// onCheckpoint is invoked by checkpointLocked while l.mu is already
	// held, and is handed the log's current buffer directly rather than
	// being left to fetch it itself: any call back into Buffer (or any
	// other l.mu-taking method) from within this callback would deadlock
	// on the non-reentrant mutex.
	onCheckpoint func(buf []byte) error
}

// Options configures a new or attached Log.
type Options struct {
	Capacity             int
	AutoCheckpoint       bool
	CheckpointEntryCount int
	CheckpointFillFactor float64
	CheckpointInterval   time.Duration
	Sink                 Sink
	OnCheckpoint         func(buf []byte) error
}

// New creates a fresh, empty WAL of the configured capacity.
func New(opts Options) (*Log, error) {
	if opts.Capacity < 64*1024 || opts.Capacity > 1<<30 {
		return nil, fserrors.Wrap(fserrors.ErrBadName, "wal capacity %d out of bounds [64KiB,1GiB]", opts.Capacity)
	}
	l := &Log{
		buf:                  make([]byte, opts.Capacity),
		sink:                 opts.Sink,
		log:                  corelog.New("wal"),
		txs:                  make(map[uint64]bool),
		capacity:             opts.Capacity,
		autoCheckpoint:       opts.AutoCheckpoint,
		checkpointEntryCount: opts.CheckpointEntryCount,
		checkpointFillFactor: opts.CheckpointFillFactor,
		checkpointInterval:   opts.CheckpointInterval,
		onCheckpoint:         opts.OnCheckpoint,
	}
	l.hdr = Header{
		Magic:        headerMagic,
		VersionMajor: 1,
		Head:         uint64(headerSize),
		Tail:         uint64(headerSize),
	}
	l.stampHeader()
	return l, nil
}

// Attach reconstructs a Log from a previously persisted buffer (bytes
// identical to what Buffer returns), validating the header.
func Attach(raw []byte, opts Options) (*Log, error) {
	if len(raw) != opts.Capacity {
		return nil, fserrors.Wrap(fserrors.ErrCorrupted, "wal buffer size %d != configured capacity %d", len(raw), opts.Capacity)
	}
	hdr, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	l := &Log{
		buf:                  append([]byte{}, raw...),
		hdr:                  hdr,
		sink:                 opts.Sink,
		log:                  corelog.New("wal"),
		txs:                  make(map[uint64]bool),
		capacity:             opts.Capacity,
		autoCheckpoint:       opts.AutoCheckpoint,
		checkpointEntryCount: opts.CheckpointEntryCount,
		checkpointFillFactor: opts.CheckpointFillFactor,
		checkpointInterval:   opts.CheckpointInterval,
		onCheckpoint:         opts.OnCheckpoint,
	}
	return l, nil
}

// Buffer returns the raw backing bytes for persistence.
func (l *Log) Buffer() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]byte{}, l.buf...)
}

func (l *Log) stampHeader() {
	copy(l.buf[0:headerSize], l.hdr.encode())
	if l.sink != nil {
		l.sink.Msync(0, headerSize)
	}
}

// used returns the number of bytes currently occupied by live records.
// Wrapped (Head < Tail): live bytes run from Tail up to the wrap boundary
// (WrapOffset), then resume at headerSize up to Head — this excludes both
// the header block [0,headerSize) and the dead gap [WrapOffset,capacity)
// that writeRing leaves behind when a record doesn't fit before the end.
func (l *Log) used() int {
	if l.hdr.Head >= l.hdr.Tail {
		return int(l.hdr.Head - l.hdr.Tail)
	}
	wrapAt := l.hdr.WrapOffset
	if wrapAt == 0 {
		wrapAt = uint64(l.capacity)
	}
	return int(wrapAt-l.hdr.Tail) + int(l.hdr.Head-uint64(headerSize))
}

// freeSpace returns the length of the longest record that can be appended
// without overwriting a live record: either before the buffer end, or, once
// writeRing wraps, between headerSize and Tail. Head never advances onto
// Tail, so Head == Tail always means an empty log.
func (l *Log) freeSpace() int {
	head, tail := int(l.hdr.Head), int(l.hdr.Tail)
	if head < tail {
		return tail - head - 1
	}
	room := l.capacity - head
	if tail == headerSize {
		room-- // ending exactly at capacity would move Head onto Tail
	}
	if atStart := tail - headerSize - 1; atStart > room {
		room = atStart
	}
	return room
}

// BeginTx starts a new transaction and returns its monotonically
// increasing id.
func (l *Log) BeginTx() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx := l.hdr.NextTxID
	l.hdr.NextTxID++
	l.txs[tx] = true
	if _, err := l.appendLocked(tx, OpBegin, nil); err != nil {
		return 0, err
	}
	return tx, nil
}

func (l *Log) appendLocked(tx uint64, op OpKind, payload []byte) (uint64, error) {
	lsn := l.hdr.NextLSN
	rec := EncodeRecord(RecordHeader{TxID: tx, LSN: lsn, Op: op, Ts: uint64(nowFunc().UnixNano())}, payload)

	// The CHECKPOINT record itself never triggers an auto-checkpoint:
	// checkpointLocked appends it before resetting Tail, so doing so would
	// recurse without end.
	if len(rec) > l.freeSpace() {
		if l.autoCheckpoint && op != OpCheckpoint {
			if err := l.checkpointLocked(); err != nil {
				return 0, err
			}
			lsn = l.hdr.NextLSN
			rec = EncodeRecord(RecordHeader{TxID: tx, LSN: lsn, Op: op, Ts: uint64(nowFunc().UnixNano())}, payload)
		}
		if len(rec) > l.freeSpace() {
			return 0, fserrors.ErrNoLogSpace
		}
	}

	start := int(l.hdr.Head)
	if start+len(rec) > l.capacity {
		start = headerSize // writeRing wraps this record
	}
	l.writeRing(rec)
	l.hdr.NextLSN++
	l.hdr.EntryCount++
	l.stampHeader()
	if l.sink != nil {
		l.sink.Msync(start, len(rec))
	}

	if l.autoCheckpoint && op != OpCheckpoint {
		l.maybeAutoCheckpointLocked()
	}
	return lsn, nil
}

// writeRing copies rec into the ring starting at Head, wrapping at the
// buffer end when necessary, and advances Head.
func (l *Log) writeRing(rec []byte) {
	pos := int(l.hdr.Head)
	n := len(rec)
	wrapped := false

	// wrap to the start of the data region (past the header block) if the
	// record would cross the buffer end and there is room at the start.
	// The bytes from pos to capacity become a dead gap — no record is ever
	// split across the boundary — so remember where it starts; Records()
	// uses WrapOffset to skip straight over it instead of trying to decode
	// stale bytes there.
	if pos+n > l.capacity {
		l.hdr.WrapOffset = uint64(pos)
		pos = headerSize
		wrapped = true
	}
	copy(l.buf[pos:pos+n], rec)
	newHead := pos + n
	if newHead >= l.capacity {
		// The record landed exactly at the buffer end with no gap; only
		// record that as the wrap boundary if we didn't already set one
		// above (a record can't trigger both cases).
		if !wrapped {
			l.hdr.WrapOffset = uint64(newHead)
		}
		newHead = headerSize
	}
	l.hdr.Head = uint64(newHead)
}

// logOp appends a non-control record for an active transaction.
func (l *Log) logOp(tx uint64, op OpKind, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if active, ok := l.txs[tx]; !ok || !active {
		return fserrors.Wrap(fserrors.ErrBadName, "transaction %d not active", tx)
	}
	_, err := l.appendLocked(tx, op, data)
	return err
}

func (l *Log) LogInsert(tx uint64, data []byte) error { return l.logOp(tx, OpInsert, data) }
func (l *Log) LogDelete(tx uint64, data []byte) error { return l.logOp(tx, OpDelete, data) }
func (l *Log) LogUpdate(tx uint64, data []byte) error { return l.logOp(tx, OpUpdate, data) }
func (l *Log) LogWrite(tx uint64, data []byte) error  { return l.logOp(tx, OpWrite, data) }

// CommitTx writes a COMMIT record and marks the transaction resolved.
func (l *Log) CommitTx(tx uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.appendLocked(tx, OpCommit, nil); err != nil {
		return err
	}
	delete(l.txs, tx)
	return nil
}

// AbortTx writes an ABORT record and marks the transaction resolved.
func (l *Log) AbortTx(tx uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.appendLocked(tx, OpAbort, nil); err != nil {
		return err
	}
	delete(l.txs, tx)
	return nil
}

// Checkpoint writes a CHECKPOINT record at head and advances tail past the
// most recently durable state, reclaiming ring space.
func (l *Log) Checkpoint() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpointLocked()
}

func (l *Log) checkpointLocked() error {
	if l.onCheckpoint != nil {
		// Snapshot buf directly (l.mu is already held by the caller), never
		// through Buffer(), which would re-lock and deadlock.
		if err := l.onCheckpoint(append([]byte{}, l.buf...)); err != nil {
			return fserrors.Wrap(err, "checkpoint callback failed")
		}
	}
	start := l.hdr.Head
	if int(start)+recordHeaderSize > l.capacity {
		start = uint64(headerSize) // writeRing wraps the CHECKPOINT record
	}
	lsn, err := l.appendLocked(0, OpCheckpoint, nil)
	if err != nil {
		return err
	}
	l.hdr.CheckpointLSN = lsn
	// Everything durable in the data plane as of this checkpoint can be
	// reclaimed: advance tail to the CHECKPOINT record, which stays the
	// only live record, since a subsequent recovery need only replay from
	// the checkpoint forward. The old wrap boundary no longer marks
	// anything live, unless this record itself ended exactly at capacity.
	l.hdr.Tail = start
	if l.hdr.Head > start {
		l.hdr.WrapOffset = 0
	}
	l.hdr.EntryCount = 0
	l.lastCheckpoint = nowFunc()
	l.stampHeader()
	l.log.Debugf("checkpoint at lsn %d, tail advanced to %d", lsn, l.hdr.Tail)
	return nil
}

func (l *Log) maybeAutoCheckpointLocked() {
	fill := float64(l.used()) / float64(l.capacity)
	due := fill >= l.checkpointFillFactor ||
		(l.checkpointEntryCount > 0 && int(l.hdr.EntryCount) >= l.checkpointEntryCount) ||
		(l.checkpointInterval > 0 && nowFunc().Sub(l.lastCheckpoint) >= l.checkpointInterval)
	if due {
		if err := l.checkpointLocked(); err != nil {
			l.log.Warnf("auto-checkpoint failed: %v", err)
		}
	}
}

// Flush forces the underlying sink to stable storage.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink == nil {
		return nil
	}
	return l.sink.Msync(0, l.capacity)
}

// HeaderSnapshot returns a copy of the current header, used by recovery.
func (l *Log) HeaderSnapshot() Header {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hdr
}

// nowFunc is overridable in tests; production uses time.Now.
var nowFunc = time.Now

// DecodedRecord pairs a parsed header with its payload and storage
// position, for consumption by internal/recovery.
type DecodedRecord struct {
	Header RecordHeader
	Data   []byte
}

// Records walks the recoverable prefix of the ring (from Tail to Head,
// respecting wraparound) and decodes each record, verifying its checksum.
// Per spec.md §4.8 analysis: on the first checksum mismatch, the walk
// truncates there and returns the records decoded so far with no error —
// the prefix up to that point is the recoverable log.
func (l *Log) Records() []DecodedRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []DecodedRecord
	pos := int(l.hdr.Tail)
	head := int(l.hdr.Head)
	wrapAt := int(l.hdr.WrapOffset)
	// beforeWrap is true while the walk is still in the first half of the
	// ring (Tail..WrapOffset); it flips once and never flips back, since
	// the walk only ever crosses the wrap boundary at most once before
	// reaching Head.
	beforeWrap := wrapAt != 0

	for pos != head {
		// No record is ever split across the wrap boundary (writeRing
		// jumps to headerSize instead of straddling it), so once the walk
		// reaches the dead gap it can skip straight past it rather than
		// trying to decode the stale bytes living there.
		if beforeWrap && pos == wrapAt {
			pos = headerSize
			beforeWrap = false
			if pos == head {
				break
			}
		}
		end := head
		if beforeWrap {
			end = wrapAt
		}
		h, payload, n, err := DecodeRecord(l.buf[pos:end])
		if err != nil {
			l.log.Warnf("wal analysis truncated at offset %d: %v", pos, err)
			break
		}
		out = append(out, DecodedRecord{Header: h, Data: append([]byte{}, payload...)})
		pos += n
	}
	return out
}
