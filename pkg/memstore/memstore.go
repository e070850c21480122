// Package memstore implements the in-memory write buffer of a column
// family. Edits accumulate in an ordered live set; a snapshot call freezes
// the live set for the flusher and installs a fresh one, and reads merge
// both sets at a fixed mvcc read point.
//
// The memstore performs no write serialisation of its own. The enclosing
// store must hold its read lock around Add/Delete/Upsert/Rollback and its
// write lock around Snapshot/ClearSnapshot, as the column-family store in
// pkg/store does.
package memstore

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"cfstore/pkg/cell"
	"cfstore/pkg/cellset"
	"cfstore/pkg/clock"
	"cfstore/pkg/slab"
	"cfstore/pkg/timerange"
)

var ErrSnapshotIDMismatch = errors.New("cfstore: snapshot id mismatch")

// Estimated footprints, exposed so memory-pressure policies can sum
// memstore sizes against a global budget.
const (
	// FixedOverhead covers the MemStore struct itself.
	FixedOverhead int64 = 176
	// DeepOverhead is the footprint of an empty instance: the struct plus
	// two empty cell sets and two time-range trackers.
	DeepOverhead int64 = FixedOverhead + 2*cellset.EmptySize + 2*timerange.TrackerSize
)

// heapSizeChange returns the size delta of inserting or removing c,
// including the backing set's per-entry overhead. Zero when the set
// membership did not change.
func heapSizeChange(c *cell.Cell, changed bool) int64 {
	if !changed {
		return 0
	}
	return cellset.EntryOverhead + c.HeapSize()
}

// Config carries the memstore knobs. A caller may inject its own slab
// allocator implementation via NewAllocator; pkg/store leaves it nil.
type Config struct {
	// UseSlab enables the slab allocator for non-upsert writes.
	UseSlab       bool
	SlabChunkSize int
	SlabMaxAlloc  int
	// NewAllocator overrides the allocator implementation. Nil selects
	// slab.New with the sizes above.
	NewAllocator func() slab.Allocator
	// Time supplies snapshot ids and oldest-edit stamps.
	Time clock.TimeProvider
}

func DefaultConfig() Config {
	return Config{UseSlab: true, Time: clock.SystemTime{}}
}

// allocBox wraps the allocator interface so it can live in an
// atomic.Pointer alongside the set references.
type allocBox struct {
	a slab.Allocator
}

// MemStore is the write buffer for one column family.
type MemStore struct {
	cfg Config

	live atomic.Pointer[cellset.Set]
	snap atomic.Pointer[cellset.Set]

	timeRange     atomic.Pointer[timerange.Tracker]
	snapTimeRange atomic.Pointer[timerange.Tracker]

	alloc     atomic.Pointer[allocBox]
	snapAlloc atomic.Pointer[allocBox]

	heapSize     atomic.Int64
	snapshotSize atomic.Int64
	snapshotID   atomic.Int64
	// Wall-clock millis of the oldest edit in the live set; MaxInt64 when
	// the live set is empty.
	oldestEdit atomic.Int64
}

func New(cfg Config) *MemStore {
	if cfg.Time == nil {
		cfg.Time = clock.SystemTime{}
	}
	if cfg.UseSlab && cfg.NewAllocator == nil {
		chunkSize, maxAlloc := cfg.SlabChunkSize, cfg.SlabMaxAlloc
		cfg.NewAllocator = func() slab.Allocator {
			return slab.New(chunkSize, maxAlloc)
		}
	}
	m := &MemStore{cfg: cfg}
	m.live.Store(cellset.New())
	m.snap.Store(cellset.New())
	m.timeRange.Store(timerange.New())
	m.snapTimeRange.Store(timerange.New())
	m.heapSize.Store(DeepOverhead)
	m.snapshotID.Store(-1)
	m.oldestEdit.Store(math.MaxInt64)
	if cfg.UseSlab {
		m.alloc.Store(&allocBox{cfg.NewAllocator()})
	}
	return m
}

// Add writes an update and returns the approximate size delta.
func (m *MemStore) Add(c *cell.Cell) int64 {
	return m.internalAdd(m.maybeCloneWithAllocator(c))
}

// Delete writes a tombstone. Tombstones coexist with the puts they shadow;
// the merge layer above resolves them.
func (m *MemStore) Delete(c *cell.Cell) int64 {
	return m.internalAdd(m.maybeCloneWithAllocator(c))
}

// internalAdd inserts without cloning into the allocator. Callers hold the
// enclosing store's read lock.
func (m *MemStore) internalAdd(c *cell.Cell) int64 {
	s := heapSizeChange(c, m.addToLive(c))
	m.timeRange.Load().Include(c.Timestamp)
	m.heapSize.Add(s)
	return s
}

func (m *MemStore) addToLive(c *cell.Cell) bool {
	added := m.live.Load().Add(c)
	m.setOldestEditTimeToNow()
	return added
}

func (m *MemStore) setOldestEditTimeToNow() {
	m.oldestEdit.CompareAndSwap(math.MaxInt64, m.cfg.Time.Now().UnixMilli())
}

// maybeCloneWithAllocator copies the cell's bytes into the live slab so the
// payload lives in a shared chunk. The cell keeps its own buffer when the
// slab is disabled or declines the allocation.
func (m *MemStore) maybeCloneWithAllocator(c *cell.Cell) *cell.Cell {
	box := m.alloc.Load()
	if box == nil {
		return c
	}
	clone := c.CloneInto(box.a.Allocate)
	if clone == nil {
		return c
	}
	return clone
}

// Upsert inserts each cell and collapses older put versions of the same
// column that no scanner at or below readPoint can still require: the first
// visible version is retained for the oldest live scanner, any further ones
// are removed. Returns the total size delta.
func (m *MemStore) Upsert(cells []*cell.Cell, readPoint uint64) int64 {
	var size int64
	for _, c := range cells {
		size += m.upsert(c, readPoint)
	}
	return size
}

func (m *MemStore) upsert(c *cell.Cell, readPoint uint64) int64 {
	// The slab is bypassed here: hot counter updates produce many
	// short-lived cells, and slab space they occupy could only be reclaimed
	// by a flush. Heap allocation lets the collapse below free memory
	// immediately.
	added := m.internalAdd(c)

	first := cell.FirstOnColumn(c.Row, c.Family, c.Qualifier)
	it := m.live.Load().Tail(first)
	versionsVisible := 0
	for cur := it.Next(); cur != nil; cur = it.Next() {
		if cur == c {
			// The cell just put in.
			continue
		}
		if !c.MatchingColumn(cur) {
			break
		}
		if cur.Kind != cell.TypePut || cur.MVCC > readPoint {
			continue
		}
		if versionsVisible > 0 {
			// At least one version visible to the oldest scanner precedes
			// this one, so no scanner can need it.
			delta := heapSizeChange(cur, true)
			added -= delta
			m.heapSize.Add(-delta)
			it.Remove()
			m.setOldestEditTimeToNow()
		} else {
			versionsVisible++
		}
	}
	return added
}

// Rollback removes a cell with matching bytes and mvcc version from the
// snapshot and the live set. Used for journal replay error recovery. A cell
// not present is a silent no-op.
func (m *MemStore) Rollback(c *cell.Cell) {
	// The snapshot is checked first, and heapSize stays untouched for it:
	// the counter tracks the live set only.
	snap := m.snap.Load()
	if found := snap.Get(c); found != nil && found.MVCC == c.MVCC {
		snap.Remove(c)
	}
	live := m.live.Load()
	if found := live.Get(c); found != nil && found.MVCC == c.MVCC {
		live.Remove(c)
		m.setOldestEditTimeToNow()
		m.heapSize.Add(-heapSizeChange(c, true))
	}
}

// Snapshot descriptor handed to the flusher.
type Snapshot struct {
	ID        int64
	CellCount int
	ByteSize  int64
	TimeRange timerange.Range
	Scanner   *SetScanner
}

// Snapshot freezes the live set for flushing. Must be cleared by a matching
// ClearSnapshot before the next call; a call with an outstanding snapshot
// logs a warning and returns the existing frozen descriptor unchanged.
// Callers hold the enclosing store's write lock.
func (m *MemStore) Snapshot() *Snapshot {
	if !m.snap.Load().IsEmpty() {
		slog.Warn("snapshot called again without clearing previous, doing nothing",
			"snapshotId", m.snapshotID.Load())
	} else {
		m.snapshotID.Store(m.cfg.Time.Now().UnixMilli())
		m.snapshotSize.Store(m.keySize())
		if !m.live.Load().IsEmpty() {
			m.snap.Store(m.live.Load())
			m.live.Store(cellset.New())
			m.snapTimeRange.Store(m.timeRange.Load())
			m.timeRange.Store(timerange.New())
			m.heapSize.Store(DeepOverhead)
			if box := m.alloc.Load(); box != nil {
				m.snapAlloc.Store(box)
				m.alloc.Store(&allocBox{m.cfg.NewAllocator()})
			}
			m.oldestEdit.Store(math.MaxInt64)
		}
	}
	snap := m.snap.Load()
	return &Snapshot{
		ID:        m.snapshotID.Load(),
		CellCount: snap.Len(),
		ByteSize:  m.snapshotSize.Load(),
		TimeRange: m.snapTimeRange.Load().Get(),
		Scanner:   NewSetScanner(snap),
	}
}

// ClearSnapshot releases the frozen set after the flusher persisted it. The
// snapshot allocator is detached; its chunks go away once the last scanner
// referencing them closes.
func (m *MemStore) ClearSnapshot(id int64) error {
	if cur := m.snapshotID.Load(); cur != id {
		return fmt.Errorf("%w: current snapshot id is %d, passed %d",
			ErrSnapshotIDMismatch, cur, id)
	}
	if !m.snap.Load().IsEmpty() {
		m.snap.Store(cellset.New())
		m.snapTimeRange.Store(timerange.New())
	}
	m.snapshotSize.Store(0)
	m.snapshotID.Store(-1)
	if box := m.snapAlloc.Swap(nil); box != nil {
		box.a.Close()
	}
	return nil
}

// FlushableSize returns the snapshot size when a flush is in progress, else
// the live set's size.
func (m *MemStore) FlushableSize() int64 {
	if s := m.snapshotSize.Load(); s > 0 {
		return s
	}
	return m.keySize()
}

// HeapSize returns the estimated heap usage of the live set, excluding the
// snapshot.
func (m *MemStore) HeapSize() int64 {
	return m.heapSize.Load()
}

func (m *MemStore) keySize() int64 {
	return m.heapSize.Load() - DeepOverhead
}

// TimeOfOldestEdit returns the wall-clock millis of the oldest live edit,
// or math.MaxInt64 when the live set is empty.
func (m *MemStore) TimeOfOldestEdit() int64 {
	return m.oldestEdit.Load()
}

// SnapshotOutstanding reports whether a frozen set awaits a flush.
func (m *MemStore) SnapshotOutstanding() bool {
	return m.snapshotID.Load() >= 0
}

// GetNextRow returns the smallest cell across live and snapshot whose row
// sorts strictly after c's row, or the first cell overall when c is nil.
func (m *MemStore) GetNextRow(c *cell.Cell) *cell.Cell {
	return cell.Lowest(nextRow(c, m.live.Load()), nextRow(c, m.snap.Load()))
}

func nextRow(key *cell.Cell, set *cellset.Set) *cell.Cell {
	it := set.Tail(key)
	for kv := it.Next(); kv != nil; kv = it.Next() {
		if key != nil && cell.CompareRows(kv, key) <= 0 {
			continue
		}
		// Tombstones and expired cells are not suppressed here; callers
		// handle them.
		return kv
	}
	return nil
}

// ShouldSeek reports whether the memstore may contain cells for a scan over
// the [minTs,maxTs] timestamp window. Serves as an inexpensive prune before
// opening a scanner.
func (m *MemStore) ShouldSeek(minTs, maxTs, oldestUnexpiredTs int64) bool {
	tr := m.timeRange.Load()
	str := m.snapTimeRange.Load()
	return (tr.Includes(minTs, maxTs) || str.Includes(minTs, maxTs)) &&
		max(tr.Max(), str.Max()) >= oldestUnexpiredTs
}

// Scanners returns the scanners over the memstore content at readPoint.
func (m *MemStore) Scanners(readPoint uint64) []KeyValueScanner {
	return []KeyValueScanner{m.NewScanner(readPoint)}
}
