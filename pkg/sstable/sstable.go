// Package sstable writes and reads the sorted runs the flusher produces
// from frozen memstore snapshots. A run is a single sorted stream of cells
// with a count-bearing footer. The format has no block index, and runs are
// never compacted.
package sstable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"cfstore/pkg/cell"
)

var magic = []byte("CFRUN\x00\x00\x01")

var ErrBadMagic = errors.New("cfstore: not a run file")

// Writer streams cells in ascending order into a run file.
type Writer struct {
	file   *os.File
	w      *bufio.Writer
	path   string
	count  uint64
	closed bool
}

func Create(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run file: %w", err)
	}
	w := &Writer{file: file, w: bufio.NewWriter(file), path: path}
	if _, err := w.w.Write(magic); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write run header: %w", err)
	}
	return w, nil
}

// Append adds the next cell. Cells must arrive in comparator order; the
// writer does not re-sort.
func (w *Writer) Append(c *cell.Cell) error {
	if err := writeCell(w.w, c); err != nil {
		return fmt.Errorf("failed to append cell: %w", err)
	}
	w.count++
	return nil
}

// Close writes the footer and syncs the file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	// Zero-length record terminates the stream, then the cell count.
	var footer [12]byte
	binary.LittleEndian.PutUint64(footer[4:], w.count)
	if _, err := w.w.Write(footer[:]); err != nil {
		return fmt.Errorf("failed to write run footer: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush run: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync run: %w", err)
	}
	return w.file.Close()
}

// Reader streams a run file back in order.
type Reader struct {
	path string
}

func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open run file: %w", err)
	}
	defer f.Close()
	head := make([]byte, len(magic))
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, fmt.Errorf("failed to read run header: %w", err)
	}
	if string(head) != string(magic) {
		return nil, fmt.Errorf("%w: %s", ErrBadMagic, path)
	}
	return &Reader{path: path}, nil
}

func (r *Reader) Path() string {
	return r.path
}

// Scan streams every cell in order into callback. A false return stops the
// scan early.
func (r *Reader) Scan(callback func(*cell.Cell) bool) error {
	f, err := os.Open(r.path)
	if err != nil {
		return fmt.Errorf("failed to open run file: %w", err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if _, err := br.Discard(len(magic)); err != nil {
		return fmt.Errorf("failed to skip run header: %w", err)
	}
	var n uint64
	for {
		c, err := readCell(br)
		if err != nil {
			return fmt.Errorf("failed to read cell %d: %w", n, err)
		}
		if c == nil {
			// Footer reached.
			var cnt [8]byte
			if _, err := io.ReadFull(br, cnt[:]); err != nil {
				return fmt.Errorf("failed to read run footer: %w", err)
			}
			if got := binary.LittleEndian.Uint64(cnt[:]); got != n {
				return fmt.Errorf("run cell count mismatch: footer says %d, read %d", got, n)
			}
			return nil
		}
		n++
		if !callback(c) {
			return nil
		}
	}
}

func writeCell(w io.Writer, c *cell.Cell) error {
	payload := 8 + 8 + 1 +
		4 + len(c.Row) + 4 + len(c.Family) + 4 + len(c.Qualifier) + 4 + len(c.Value)
	buf := make([]byte, 4+payload)
	binary.LittleEndian.PutUint32(buf, uint32(payload))
	off := 4
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

// readCell returns nil, nil at the zero-length footer marker.
func readCell(r io.Reader) (*cell.Cell, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	payload := binary.LittleEndian.Uint32(lenBuf[:])
	if payload == 0 {
		return nil, nil
	}
	buf := make([]byte, payload)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	if payload < 8+8+1+16 {
		return nil, fmt.Errorf("short cell record: %d bytes", payload)
	}
	c := &cell.Cell{}
	off := 0
	c.MVCC = binary.LittleEndian.Uint64(buf[off:])
	off += 8
	c.Timestamp = int64(binary.LittleEndian.Uint64(buf[off:]))
	off += 8
	c.Kind = cell.Type(buf[off])
	off++
	for _, dst := range []*[]byte{&c.Row, &c.Family, &c.Qualifier, &c.Value} {
		if off+4 > len(buf) {
			return nil, errors.New("truncated cell record")
		}
		n := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+n > len(buf) {
			return nil, errors.New("truncated cell record")
		}
		if n > 0 {
			*dst = buf[off : off+n : off+n]
		}
		off += n
	}
	return c, nil
}
