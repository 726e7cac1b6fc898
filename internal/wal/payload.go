package wal

import (
	"bytes"
	"encoding/binary"

	"github.com/vorteil/nfs/internal/fserrors"
)

// InsertPayload is logged by an INSERT record: enough to reconstruct the
// node at the logged parent/name/mode (spec.md §4.8 redo rule).
type InsertPayload struct {
	Parent uint32
	Inode  uint32
	Mode   uint16
	Name   string
}

// DeletePayload is logged by a DELETE record: enough to recreate the
// child on undo.
type DeletePayload struct {
	Parent uint32
	Inode  uint32
	Mode   uint16
	Name   string
}

// UpdatePayload is logged by an UPDATE record, carrying both the new and
// previous values so undo can restore the previous ones (spec.md §4.8
// undo rule).
type UpdatePayload struct {
	Inode    uint32
	NewSize  int64
	NewMtime uint32
	NewMode  uint16
	OldSize  int64
	OldMtime uint32
	OldMode  uint16
}

// WritePayload is logged by a WRITE record, carrying the new bytes and
// (when available) the previous bytes at that range for undo.
type WritePayload struct {
	Inode    uint32
	Offset   int64
	NewBytes []byte
	OldBytes []byte // may be empty if the range was previously unwritten
}

func putString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint32(len(s)))
	buf.WriteString(s)
}

func getString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := r.Read(b); err != nil && n > 0 {
		return "", err
	}
	return string(b), nil
}

func putBytes(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.LittleEndian, uint32(len(b)))
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// EncodeInsert/DecodeInsert (and the analogous pairs below) serialize the
// payload structs above for storage in a WAL record's data section.

func EncodeInsert(p InsertPayload) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, p.Parent)
	binary.Write(buf, binary.LittleEndian, p.Inode)
	binary.Write(buf, binary.LittleEndian, p.Mode)
	putString(buf, p.Name)
	return buf.Bytes()
}

func DecodeInsert(data []byte) (InsertPayload, error) {
	var p InsertPayload
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &p.Parent); err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding insert payload: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Inode); err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding insert payload: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Mode); err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding insert payload: %v", err)
	}
	name, err := getString(r)
	if err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding insert payload: %v", err)
	}
	p.Name = name
	return p, nil
}

func EncodeDelete(p DeletePayload) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, p.Parent)
	binary.Write(buf, binary.LittleEndian, p.Inode)
	binary.Write(buf, binary.LittleEndian, p.Mode)
	putString(buf, p.Name)
	return buf.Bytes()
}

func DecodeDelete(data []byte) (DeletePayload, error) {
	var p DeletePayload
	r := bytes.NewReader(data)
	binary.Read(r, binary.LittleEndian, &p.Parent)
	binary.Read(r, binary.LittleEndian, &p.Inode)
	binary.Read(r, binary.LittleEndian, &p.Mode)
	name, err := getString(r)
	if err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding delete payload: %v", err)
	}
	p.Name = name
	return p, nil
}

func EncodeUpdate(p UpdatePayload) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, p)
	return buf.Bytes()
}

func DecodeUpdate(data []byte) (UpdatePayload, error) {
	var p UpdatePayload
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &p); err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding update payload: %v", err)
	}
	return p, nil
}

func EncodeWrite(p WritePayload) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, p.Inode)
	binary.Write(buf, binary.LittleEndian, p.Offset)
	putBytes(buf, p.NewBytes)
	putBytes(buf, p.OldBytes)
	return buf.Bytes()
}

func DecodeWrite(data []byte) (WritePayload, error) {
	var p WritePayload
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.LittleEndian, &p.Inode); err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding write payload: %v", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &p.Offset); err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding write payload: %v", err)
	}
	nb, err := getBytes(r)
	if err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding write payload: %v", err)
	}
	p.NewBytes = nb
	ob, err := getBytes(r)
	if err != nil {
		return p, fserrors.Wrap(fserrors.ErrCorrupted, "decoding write payload: %v", err)
	}
	p.OldBytes = ob
	return p, nil
}
