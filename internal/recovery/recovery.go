// Package recovery implements the ARIES-style analysis/redo/undo recovery
// algorithm of spec.md C9/§4.8 over a WAL plus the data-plane components
// (tree, extents, xattrs). It is grounded on the spec's own ARIES
// description and on the WAL-replay idiom seen in the pack's
// other_examples (pgdump-offline's WAL replay, ClusterCockpit's
// checkpoint handling): a three-pass scan — forward for analysis, forward
// for redo, backward for undo — over the log's recoverable prefix.
package recovery

import (
	"github.com/vorteil/nfs/internal/corelog"
	"github.com/vorteil/nfs/internal/wal"
)

// TxState is the resolution state a transaction reaches during analysis.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxAborted
)

type txInfo struct {
	state    TxState
	firstLSN uint64
	lastLSN  uint64
	ops      int
}

// DataPlane is the minimal surface recovery needs from the directory
// tree, extent maps, and xattr pool. fs.Facade implements this.
type DataPlane interface {
	// ApplyInsert reconstructs a node at parent/name/mode if not already
	// present, assigning it the given inode number.
	ApplyInsert(parent uint32, inode uint32, name string, mode uint16) error
	// ApplyDelete removes the named child of parent if present.
	ApplyDelete(parent uint32, name string) error
	// ApplyUpdate sets size/mtime/mode on inode if they currently differ.
	ApplyUpdate(inode uint32, size int64, mtime uint32, mode uint16) error
	// ApplyWrite installs bytes at the given inode/offset.
	ApplyWrite(inode uint32, offset int64, data []byte) error
}

// Result summarizes a recovery run for logging/diagnostics.
type Result struct {
	TransactionsSeen      int
	TransactionsCommitted int
	TransactionsAborted   int
	TransactionsUndone    int
	RecordsRedone         int
	RecordsUndone         int
}

// Run executes analysis, redo, and undo against plane using the records
// recoverable from log (log.Records() already truncates at the first
// checksum mismatch, per spec.md's analysis rule).
func Run(log *wal.Log, plane DataPlane) (Result, error) {
	records := log.Records()
	logger := corelog.New("recovery")

	txs := analyze(records)

	var res Result
	res.TransactionsSeen = len(txs)
	for _, info := range txs {
		switch info.state {
		case TxCommitted:
			res.TransactionsCommitted++
		case TxAborted:
			res.TransactionsAborted++
		case TxActive:
			res.TransactionsUndone++
		}
	}

	if err := redo(records, txs, plane, &res); err != nil {
		return res, err
	}
	if err := undo(records, txs, plane, &res); err != nil {
		return res, err
	}

	logger.Infof("recovery complete: %d tx seen (%d committed, %d aborted, %d undone), %d records redone, %d records undone",
		res.TransactionsSeen, res.TransactionsCommitted, res.TransactionsAborted, res.TransactionsUndone,
		res.RecordsRedone, res.RecordsUndone)
	return res, nil
}

// analyze builds the transaction state table described in spec.md §4.8
// step 1.
func analyze(records []wal.DecodedRecord) map[uint64]*txInfo {
	txs := make(map[uint64]*txInfo)
	get := func(tx uint64) *txInfo {
		info, ok := txs[tx]
		if !ok {
			info = &txInfo{state: TxActive, firstLSN: ^uint64(0)}
			txs[tx] = info
		}
		return info
	}

	for _, rec := range records {
		if rec.Header.Op == wal.OpCheckpoint {
			continue
		}
		info := get(rec.Header.TxID)
		if rec.Header.LSN < info.firstLSN {
			info.firstLSN = rec.Header.LSN
		}
		if rec.Header.LSN > info.lastLSN {
			info.lastLSN = rec.Header.LSN
		}
		info.ops++

		switch rec.Header.Op {
		case wal.OpBegin:
			info.state = TxActive
		case wal.OpCommit:
			info.state = TxCommitted
		case wal.OpAbort:
			info.state = TxAborted
		}
	}
	return txs
}

// redo walks the recoverable prefix forward, applying every record whose
// transaction is Committed, idempotently (spec.md §4.8 step 2).
func redo(records []wal.DecodedRecord, txs map[uint64]*txInfo, plane DataPlane, res *Result) error {
	for _, rec := range records {
		info := txs[rec.Header.TxID]
		if info == nil || info.state != TxCommitted {
			continue
		}
		if err := applyForward(rec, plane); err != nil {
			return err
		}
		if isDataOp(rec.Header.Op) {
			res.RecordsRedone++
		}
	}
	return nil
}

// undo walks the recoverable prefix backward, applying the inverse
// operation for every record whose transaction was never resolved
// (spec.md §4.8 step 3). Aborted transactions are skipped: compensation
// was the writer's responsibility before it wrote the ABORT record.
func undo(records []wal.DecodedRecord, txs map[uint64]*txInfo, plane DataPlane, res *Result) error {
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		info := txs[rec.Header.TxID]
		if info == nil || info.state != TxActive {
			continue
		}
		if err := applyInverse(rec, plane); err != nil {
			return err
		}
		if isDataOp(rec.Header.Op) {
			res.RecordsUndone++
		}
	}
	return nil
}

func isDataOp(op wal.OpKind) bool {
	switch op {
	case wal.OpInsert, wal.OpDelete, wal.OpUpdate, wal.OpWrite:
		return true
	default:
		return false
	}
}

func applyForward(rec wal.DecodedRecord, plane DataPlane) error {
	switch rec.Header.Op {
	case wal.OpInsert:
		p, err := wal.DecodeInsert(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyInsert(p.Parent, p.Inode, p.Name, p.Mode)
	case wal.OpDelete:
		p, err := wal.DecodeDelete(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyDelete(p.Parent, p.Name)
	case wal.OpUpdate:
		p, err := wal.DecodeUpdate(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyUpdate(p.Inode, p.NewSize, p.NewMtime, p.NewMode)
	case wal.OpWrite:
		p, err := wal.DecodeWrite(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyWrite(p.Inode, p.Offset, p.NewBytes)
	}
	return nil
}

// applyInverse undoes a single record: undo INSERT = delete, undo DELETE =
// recreate, undo UPDATE = restore previous values, undo WRITE = restore
// previous bytes if carried (spec.md §4.8 step 3).
func applyInverse(rec wal.DecodedRecord, plane DataPlane) error {
	switch rec.Header.Op {
	case wal.OpInsert:
		p, err := wal.DecodeInsert(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyDelete(p.Parent, p.Name)
	case wal.OpDelete:
		p, err := wal.DecodeDelete(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyInsert(p.Parent, p.Inode, p.Name, p.Mode)
	case wal.OpUpdate:
		p, err := wal.DecodeUpdate(rec.Data)
		if err != nil {
			return err
		}
		return plane.ApplyUpdate(p.Inode, p.OldSize, p.OldMtime, p.OldMode)
	case wal.OpWrite:
		p, err := wal.DecodeWrite(rec.Data)
		if err != nil {
			return err
		}
		if len(p.OldBytes) == 0 {
			return nil
		}
		return plane.ApplyWrite(p.Inode, p.Offset, p.OldBytes)
	}
	return nil
}
