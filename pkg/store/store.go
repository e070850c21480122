// Package store is the column-family store enclosing the memstore core. It
// owns the write-ahead journal, the mvcc clock, the per-family lock
// discipline, the flush policy and the flusher; the memstore itself carries
// none of those.
package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"path/filepath"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"cfstore/pkg/cell"
	"cfstore/pkg/clock"
	"cfstore/pkg/memstore"
	"cfstore/pkg/metrics"
	"cfstore/pkg/wal"
)

type iJournal interface {
	Start(ctx context.Context)
	Stop()
	Append(e wal.Entry) error
	AwaitDurable(seq uint64) error
	Replay(start uint64, callback func(wal.Entry) error) error
	LastSeq() uint64
}

// Options configures the store.
type Options struct {
	DataDir string
	// FlushThresholdBytes triggers a snapshot once a family's live cell
	// bytes reach it.
	FlushThresholdBytes int64
	MemStore            memstore.Config
	Time                clock.TimeProvider
	Metrics             metrics.Collector
}

func DefaultOptions(dataDir string) Options {
	return Options{
		DataDir:             dataDir,
		FlushThresholdBytes: 64 * 1024 * 1024,
		MemStore:            memstore.DefaultConfig(),
		Time:                clock.SystemTime{},
		Metrics:             metrics.Nop{},
	}
}

// Store routes edits journal-first into per-family memstores and feeds the
// background flusher. Families are kept in an ordered concurrent map so
// Stats iterates them in name order.
type Store struct {
	opts Options

	jr   iJournal
	mvcc *clock.AtomicClock

	families *skipmap.StringMap[*family]

	flushCh chan flushReq
	flusher *Flusher
	closed  atomic.Bool
	close   func()
}

func Open(opts Options) (*Store, error) {
	if opts.Time == nil {
		opts.Time = clock.SystemTime{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.MemStore.Time == nil {
		opts.MemStore.Time = opts.Time
	}

	journal, err := wal.New(filepath.Join(opts.DataDir, "wal"))
	if err != nil {
		return nil, err
	}

	s := &Store{
		opts:     opts,
		jr:       journal,
		mvcc:     clock.NewAtomic(0),
		families: skipmap.NewString[*family](),
		flushCh:  make(chan flushReq, 8),
	}

	if err := s.restoreFromJournal(); err != nil {
		journal.Stop()
		return nil, err
	}

	ctx := context.Background()
	s.flusher = NewFlusher(s.flushCh, opts.DataDir, opts.Metrics)
	s.flusher.Start(ctx)
	s.jr.Start(ctx)

	s.close = func() {
		s.flusher.Stop()
		s.jr.Stop()
	}
	return s, nil
}

// restoreFromJournal rebuilds the live sets from the journal. Edits land in
// the memstores directly; they are already durable.
func (s *Store) restoreFromJournal() error {
	err := s.jr.Replay(0, func(e wal.Entry) error {
		f := s.ensureFamily(string(e.Cell.Family))
		f.mu.RLock()
		if e.Cell.Kind == cell.TypePut {
			f.ms.Add(e.Cell)
		} else {
			f.ms.Delete(e.Cell)
		}
		f.mu.RUnlock()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to restore from journal: %w", err)
	}
	s.mvcc.Set(s.jr.LastSeq())
	return nil
}

func (s *Store) ensureFamily(name string) *family {
	if f, ok := s.families.Load(name); ok {
		return f
	}
	f := &family{name: name, ms: memstore.New(s.opts.MemStore)}
	actual, _ := s.families.LoadOrStore(name, f)
	return actual
}

func (s *Store) lookupFamily(name string) (*family, error) {
	f, ok := s.families.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrFamilyNotFound, name)
	}
	return f, nil
}

// CreateFamily registers a column family. Families are also created
// implicitly by the first write addressing them.
func (s *Store) CreateFamily(name string) {
	s.ensureFamily(name)
}

// Put writes a value cell.
func (s *Store) Put(familyName string, row, qualifier []byte, ts int64, value []byte) error {
	c := cell.New(row, []byte(familyName), qualifier, ts, 0, value)
	return s.apply(c, false)
}

// Delete writes a point tombstone for one (row, qualifier, timestamp).
func (s *Store) Delete(familyName string, row, qualifier []byte, ts int64) error {
	c := cell.NewTombstone(row, []byte(familyName), qualifier, ts, 0, cell.TypeDelete)
	return s.apply(c, false)
}

// DeleteColumn writes a tombstone shadowing every version of a column at or
// below ts.
func (s *Store) DeleteColumn(familyName string, row, qualifier []byte, ts int64) error {
	c := cell.NewTombstone(row, []byte(familyName), qualifier, ts, 0, cell.TypeDeleteColumn)
	return s.apply(c, false)
}

// apply runs one edit through the journal and the family's memstore. The
// memstore insert happens before the durability wait; a failed sync rolls
// the cell back out, which is the journal-replay error recovery the
// memstore's Rollback exists for.
func (s *Store) apply(c *cell.Cell, upsert bool) error {
	if s.closed.Load() {
		return ErrClosed
	}
	f := s.ensureFamily(string(c.Family))
	seq := s.mvcc.Next()
	c.MVCC = seq

	if err := s.jr.Append(wal.Entry{Seq: seq, Cell: c}); err != nil {
		return fmt.Errorf("failed to journal edit: %w", err)
	}

	f.mu.RLock()
	switch {
	case upsert:
		f.ms.Upsert([]*cell.Cell{c}, s.mvcc.Val())
	case c.Kind == cell.TypePut:
		f.ms.Add(c)
	default:
		f.ms.Delete(c)
	}
	f.mu.RUnlock()

	if err := s.jr.AwaitDurable(seq); err != nil {
		f.mu.RLock()
		f.ms.Rollback(c)
		f.mu.RUnlock()
		return fmt.Errorf("failed to make edit durable: %w", err)
	}

	s.opts.Metrics.IncCounter("cfstore_writes_total",
		map[string]string{"family": f.name}, 1)
	s.opts.Metrics.SetGauge("cfstore_memstore_heap_bytes",
		map[string]string{"family": f.name}, float64(f.ms.HeapSize()))

	s.maybeFlush(f)
	return nil
}

// Increment atomically bumps a counter column via the memstore's upsert
// path, which collapses versions no live scanner can still see.
func (s *Store) Increment(familyName string, row, qualifier []byte, delta int64) (int64, error) {
	cur, ok, err := s.Get(familyName, row, qualifier)
	if err != nil {
		return 0, err
	}
	var base int64
	if ok && len(cur) == 8 {
		base = int64(binary.BigEndian.Uint64(cur))
	}
	total := base + delta

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(total))
	ts := s.nextColumnTimestamp(familyName, row, qualifier)
	c := cell.New(row, []byte(familyName), qualifier, ts, 0, buf)
	if err := s.apply(c, true); err != nil {
		return 0, err
	}
	return total, nil
}

// nextColumnTimestamp picks a timestamp for a counter update: wall-clock
// now, bumped past the newest version already buffered for the column so
// the update always sorts first.
func (s *Store) nextColumnTimestamp(familyName string, row, qualifier []byte) int64 {
	ts := s.opts.Time.Now().UnixMilli()
	f, ok := s.families.Load(familyName)
	if !ok {
		return ts
	}
	f.mu.RLock()
	sc := f.ms.NewScanner(s.mvcc.Val())
	f.mu.RUnlock()
	defer sc.Close()

	first := cell.FirstOnColumn(row, []byte(familyName), qualifier)
	if sc.Seek(first) {
		if c := sc.Peek(); first.MatchingColumn(c) && c.Timestamp >= ts {
			ts = c.Timestamp + 1
		}
	}
	return ts
}

// maybeFlush snapshots the family once its live bytes cross the threshold
// and hands the frozen set to the flusher.
func (s *Store) maybeFlush(f *family) {
	if s.opts.FlushThresholdBytes <= 0 {
		return
	}
	if f.ms.HeapSize()-memstore.DeepOverhead < s.opts.FlushThresholdBytes {
		return
	}
	if !f.flushing.CompareAndSwap(false, true) {
		return
	}
	f.mu.Lock()
	snap := f.ms.Snapshot()
	f.mu.Unlock()
	s.flushCh <- flushReq{fam: f, snap: snap}
}

// Flush forces a snapshot + flush of one family, for tests and shutdown.
func (s *Store) Flush(familyName string) error {
	f, err := s.lookupFamily(familyName)
	if err != nil {
		return err
	}
	if !f.flushing.CompareAndSwap(false, true) {
		return nil // already queued
	}
	f.mu.Lock()
	snap := f.ms.Snapshot()
	f.mu.Unlock()
	s.flushCh <- flushReq{fam: f, snap: snap}
	return nil
}

// OpenScanner returns a fresh memstore scanner at the newest read point.
// Callers re-open scanners after a flush: a scanner holds the sets captured
// at its creation and will not observe writes landing in a newer live set.
func (s *Store) OpenScanner(familyName string) (memstore.KeyValueScanner, error) {
	f, err := s.lookupFamily(familyName)
	if err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.ms.NewScanner(s.mvcc.Val()), nil
}

// Get resolves the newest visible value of a column across the memstore and
// the flushed runs, honoring tombstones.
func (s *Store) Get(familyName string, row, qualifier []byte) ([]byte, bool, error) {
	f, ok := s.families.Load(familyName)
	if !ok {
		return nil, false, nil
	}
	readPt := s.mvcc.Val()
	famBytes := []byte(familyName)

	res := newColumnResolver()

	f.mu.RLock()
	sc := f.ms.NewScanner(readPt)
	f.mu.RUnlock()
	first := cell.FirstOnColumn(row, famBytes, qualifier)
	if sc.Seek(first) {
		for {
			c := sc.Next()
			if c == nil || !first.MatchingColumn(c) {
				break
			}
			if res.offer(c) {
				break
			}
		}
	}
	sc.Close()

	if res.done() {
		return res.result()
	}

	// Fall through to the flushed runs, newest first. Tombstones already
	// collected from the memstore keep shadowing older puts.
	for _, run := range f.runsNewestFirst() {
		err := run.Scan(func(c *cell.Cell) bool {
			if c.MVCC > readPt || !first.MatchingColumn(c) {
				return true
			}
			return !res.offer(c)
		})
		if err != nil {
			return nil, false, fmt.Errorf("failed to scan run %s: %w", run.Path(), err)
		}
		if res.done() {
			break
		}
	}
	return res.result()
}

// Stats returns the per-family stats in family name order.
func (s *Store) Stats() []FamilyStats {
	var out []FamilyStats
	s.families.Range(func(_ string, f *family) bool {
		out = append(out, f.stats())
		return true
	})
	return out
}

func (s *Store) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.close()
	}
}

// columnResolver applies the tombstone rules while walking one column's
// cells from newest to oldest: a point delete shadows its exact timestamp,
// a column/family delete shadows everything at or below its timestamp.
type columnResolver struct {
	deletedTS   map[int64]struct{}
	deletedUpTo int64
	value       []byte
	found       bool
}

func newColumnResolver() *columnResolver {
	return &columnResolver{
		deletedTS:   make(map[int64]struct{}),
		deletedUpTo: math.MinInt64,
	}
}

// offer feeds the next cell; true means the walk can stop.
func (r *columnResolver) offer(c *cell.Cell) bool {
	switch c.Kind {
	case cell.TypeDelete:
		r.deletedTS[c.Timestamp] = struct{}{}
	case cell.TypeDeleteColumn, cell.TypeDeleteFamily:
		if c.Timestamp > r.deletedUpTo {
			r.deletedUpTo = c.Timestamp
		}
	case cell.TypePut:
		if c.Timestamp <= r.deletedUpTo {
			return true // everything older is shadowed too
		}
		if _, dead := r.deletedTS[c.Timestamp]; dead {
			return false
		}
		r.value = c.Value
		r.found = true
		return true
	}
	return false
}

func (r *columnResolver) done() bool {
	return r.found
}

func (r *columnResolver) result() ([]byte, bool, error) {
	if !r.found {
		return nil, false, nil
	}
	return r.value, true, nil
}
