// Package wal journals cell edits before they reach the memstore. The
// enclosing store replays the journal after a crash to rebuild the live
// set; the memstore itself persists nothing.
package wal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"cfstore/pkg/cell"
	"cfstore/pkg/listener"
)

var ErrClosed = errors.New("cfstore: wal closed")

// Entry is a single journaled edit.
type Entry struct {
	Seq  uint64
	Cell *cell.Cell
}

// WAL implements write-ahead logging for cell edits. Appends land in a
// buffered writer immediately; durability is provided by a background
// syncer that fsyncs and then releases the waiters at or below the synced
// sequence.
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	seq      uint64
	filePath string
	closed   bool

	syncCh  chan uint64
	synced  atomic.Uint64
	syncErr atomic.Pointer[error]
	waiters *xsync.MapOf[uint64, chan struct{}]
	syncer  *listener.Listener[uint64]
}

// New opens (or creates) the journal under dataDir.
func New(dataDir string) (*WAL, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	filePath := filepath.Join(dataDir, "wal.log")
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
		syncCh:   make(chan uint64, 1024),
		waiters:  xsync.NewMapOf[uint64, chan struct{}](),
	}
	w.syncer = listener.New(w.syncCh, w.syncToSeq)

	if err := w.scanForLastSequence(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to scan WAL: %w", err)
	}

	return w, nil
}

// Start launches the background syncer.
func (w *WAL) Start(ctx context.Context) {
	w.syncer.Start(ctx)
}

// Stop halts the syncer without waiting for queued sync requests, then
// flushes, fsyncs and closes the file.
func (w *WAL) Stop() {
	w.syncer.Stop()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	w.writer.Flush()
	w.file.Sync()
	w.file.Close()
}

// Append writes the entry to the journal buffer and schedules a sync.
// Durability is not guaranteed until AwaitDurable(entry.Seq) returns.
func (w *WAL) Append(e Entry) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if err := writeEntry(w.writer, e); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to write WAL entry: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		w.mu.Unlock()
		return fmt.Errorf("failed to flush WAL: %w", err)
	}
	if e.Seq > w.seq {
		w.seq = e.Seq
	}
	w.mu.Unlock()

	w.syncCh <- e.Seq
	return nil
}

// AwaitDurable blocks until everything up to seq has been fsynced. A
// non-nil error means the sync failed and the edit must be rolled back by
// the caller.
func (w *WAL) AwaitDurable(seq uint64) error {
	if w.synced.Load() >= seq {
		return nil
	}
	ch, _ := w.waiters.LoadOrStore(seq, make(chan struct{}))
	// The syncer may have passed seq between the check and the store.
	if w.synced.Load() >= seq {
		w.waiters.Delete(seq)
		return nil
	}
	<-ch
	if errp := w.syncErr.Load(); errp != nil && w.synced.Load() < seq {
		return *errp
	}
	return nil
}

// syncToSeq fsyncs the file and wakes every waiter at or below the highest
// synced sequence. On a sync failure every waiter is released with the
// error instead.
func (w *WAL) syncToSeq(seq uint64) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	err := w.file.Sync()
	w.mu.Unlock()
	if err != nil {
		err = fmt.Errorf("failed to sync WAL: %w", err)
		w.syncErr.Store(&err)
		w.waiters.Range(func(k uint64, ch chan struct{}) bool {
			if _, loaded := w.waiters.LoadAndDelete(k); loaded {
				close(ch)
			}
			return true
		})
		return err
	}

	for {
		cur := w.synced.Load()
		if cur >= seq || w.synced.CompareAndSwap(cur, seq) {
			break
		}
	}
	high := w.synced.Load()
	w.waiters.Range(func(k uint64, ch chan struct{}) bool {
		if k <= high {
			if _, loaded := w.waiters.LoadAndDelete(k); loaded {
				close(ch)
			}
		}
		return true
	})
	return nil
}

// LastSeq returns the highest sequence number seen by the journal.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Replay streams journaled entries with Seq >= from into callback. A
// truncated or corrupt tail ends the replay with a warning rather than an
// error; everything before it has already been delivered.
func (w *WAL) Replay(from uint64, callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush WAL before replay: %w", err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("failed to open WAL for reading: %w", err)
	}
	defer file.Close()

	r := bufio.NewReader(file)
	for {
		e, err := readEntry(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			slog.Warn("stopping WAL replay at corrupt tail", "path", w.filePath, "error", err)
			return nil
		}
		if e.Seq < from {
			continue
		}
		if err := callback(e); err != nil {
			return fmt.Errorf("failed to replay WAL entry %d: %w", e.Seq, err)
		}
	}
}

// scanForLastSequence restores w.seq from the existing journal.
func (w *WAL) scanForLastSequence() error {
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(w.file)
	for {
		e, err := readEntry(r)
		if err != nil {
			break
		}
		if e.Seq > w.seq {
			w.seq = e.Seq
		}
	}
	_, err := w.file.Seek(0, io.SeekEnd)
	return err
}
