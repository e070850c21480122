package wal

import (
	"encoding/binary"
	"fmt"
	"io"

	"cfstore/pkg/cell"
)

// Record layout: u32 payload length, then the payload
//
//	u64 seq | u64 mvcc | i64 timestamp | u8 kind
//	u32 rowLen | row | u32 famLen | fam | u32 qualLen | qual | u32 valLen | val

func writeEntry(w io.Writer, e Entry) error {
	c := e.Cell
	payload := 8 + 8 + 8 + 1 +
		4 + len(c.Row) + 4 + len(c.Family) + 4 + len(c.Qualifier) + 4 + len(c.Value)

	buf := make([]byte, 4+payload)
	binary.LittleEndian.PutUint32(buf, uint32(payload))
	off := 4
	binary.LittleEndian.PutUint64(buf[off:], e.Seq)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], c.MVCC)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(c.Timestamp))
	off += 8
	buf[off] = byte(c.Kind)
	off++
	for _, b := range [][]byte{c.Row, c.Family, c.Qualifier, c.Value} {
		binary.LittleEndian.PutUint32(buf[off:], uint32(len(b)))
		off += 4
		off += copy(buf[off:], b)
	}

	_, err := w.Write(buf)
	return err
}

func readEntry(r io.Reader) (Entry, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Entry{}, err
	}
	payload := binary.LittleEndian.Uint32(lenBuf[:])
	buf := make([]byte, payload)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Entry{}, err
	}

	if payload < 8+8+8+1+16 {
		return Entry{}, fmt.Errorf("short WAL record: %d bytes", payload)
	}
	var e Entry
	c := &cell.Cell{}
	off := 0
	e.Seq = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	c.MVCC = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	c.Timestamp = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	c.Kind = cell.Type(buf[off])
	off++
	for _, dst := range []*[]byte{&c.Row, &c.Family, &c.Qualifier, &c.Value} {
		if off+4 > len(buf) {
			return Entry{}, fmt.Errorf("truncated WAL record")
		}
		n := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+n > len(buf) {
			return Entry{}, fmt.Errorf("truncated WAL record")
		}
		if n > 0 {
			*dst = buf[off : off+n : off+n]
		}
		off += n
	}
	e.Cell = c
	return e, nil
}
