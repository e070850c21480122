package memstore

import (
	"math"
	"sync"

	"cfstore/pkg/cell"
	"cfstore/pkg/cellset"
	"cfstore/pkg/slab"
)

// KeyValueScanner is the scanner contract the merge layer consumes, for
// memstore and disk-file scanners alike.
type KeyValueScanner interface {
	// Seek positions the scanner at the first cell >= key. A nil key closes
	// the scanner. Returns false when there is no data at or after key.
	Seek(key *cell.Cell) bool
	// Reseek moves forward to the first cell >= key without regressing past
	// cells already emitted. Tolerates concurrent mutation of the sets.
	Reseek(key *cell.Cell) bool
	// Peek returns the next cell without advancing, nil when exhausted.
	Peek() *cell.Cell
	// Next returns the next cell and advances, nil when exhausted.
	Next() *cell.Cell
	// BackwardSeek seeks to key, or to the previous row when the seek lands
	// past key's row.
	BackwardSeek(key *cell.Cell) bool
	// SeekToPreviousRow positions at the first cell of the row before key's.
	SeekToPreviousRow(key *cell.Cell) bool
	// SeekToLastRow positions at the first cell of the last row.
	SeekToLastRow() bool
	// SequenceID orders this scanner against others in the merge layer.
	SequenceID() uint64
	// ShouldUseScanner is an inexpensive prune: false means the scanner
	// cannot produce cells for the given timestamp window.
	ShouldUseScanner(minTs, maxTs, oldestUnexpiredTs int64) bool
	// Close releases the scanner. Safe to call more than once.
	Close()
}

// Scanner iterates the merged view of the live and snapshot sets at a fixed
// mvcc read point. The set and allocator references are captured at
// creation and never change: a snapshot swap on the memstore does not
// affect a live scanner, and writes landing in the new live set after a
// flush are invisible to it. pkg/store opens a fresh scanner for every read
// it serves, so its own reads never hold a scanner across a flush.
type Scanner struct {
	mu sync.Mutex
	ms *MemStore

	readPoint uint64

	liveAtCreation *cellset.Set
	snapAtCreation *cellset.Set
	alloc          slab.Allocator
	snapAlloc      slab.Allocator

	liveIt *cellset.Iter
	snapIt *cellset.Iter

	// Last cells iterated per side, to restore position after a reseek.
	liveItRow *cell.Cell
	snapItRow *cell.Cell

	// Heads per side that already passed mvcc filtering.
	liveNext *cell.Cell
	snapNext *cell.Cell

	// The pre-calculated cell returned by Peek or Next.
	theNext *cell.Cell

	// In reverse mode, stop skipping too-new cells once the underlying
	// iterator crosses into the row after the one the seek started on.
	stopIfNextRow bool

	closed bool
}

// NewScanner creates a scanner at the given read point and pins the current
// sets and allocators.
func (m *MemStore) NewScanner(readPoint uint64) *Scanner {
	s := &Scanner{
		ms:             m,
		readPoint:      readPoint,
		liveAtCreation: m.live.Load(),
		snapAtCreation: m.snap.Load(),
	}
	if box := m.alloc.Load(); box != nil {
		s.alloc = box.a
		s.alloc.IncScannerCount()
	}
	if box := m.snapAlloc.Load(); box != nil {
		s.snapAlloc = box.a
		s.snapAlloc.IncScannerCount()
	}
	return s
}

// getNext advances it to the next cell visible at the read point, recording
// the last cell iterated (visible or not) into *itRow.
func (s *Scanner) getNext(it *cellset.Iter, itRow **cell.Cell) *cell.Cell {
	start := s.theNext
	var last *cell.Cell
	defer func() {
		if last != nil {
			*itRow = last
		}
	}()
	for {
		v := it.Next()
		if v == nil {
			return nil
		}
		last = v
		if v.MVCC <= s.readPoint {
			return v
		}
		if s.stopIfNextRow && start != nil && cell.CompareRows(v, start) > 0 {
			return nil
		}
	}
}

func (s *Scanner) Seek(key *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seek(key)
}

func (s *Scanner) seek(key *cell.Cell) bool {
	if key == nil {
		s.close()
		return false
	}
	s.liveIt = s.liveAtCreation.Tail(key)
	s.snapIt = s.snapAtCreation.Tail(key)
	s.liveItRow = nil
	s.snapItRow = nil
	return s.seekInSubLists()
}

// seekInSubLists primes both heads after a seek or reseek.
func (s *Scanner) seekInSubLists() bool {
	s.liveNext = s.getNext(s.liveIt, &s.liveItRow)
	s.snapNext = s.getNext(s.snapIt, &s.snapItRow)
	s.theNext = cell.Lowest(s.liveNext, s.snapNext)
	return s.theNext != nil
}

// Reseek runs concurrently with puts and at most one snapshot swap, without
// locks on the memstore side. The creation-time set references are stable,
// so re-tailing them at the max of key and the last iterated cell preserves
// monotone progress even when the underlying structure changed.
func (s *Scanner) Reseek(key *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liveIt = s.liveAtCreation.Tail(cell.Highest(key, s.liveItRow))
	s.snapIt = s.snapAtCreation.Tail(cell.Highest(key, s.snapItRow))
	return s.seekInSubLists()
}

func (s *Scanner) Peek() *cell.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.theNext
}

func (s *Scanner) Next() *cell.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.theNext == nil {
		return nil
	}
	ret := s.theNext
	// Advance the side that produced the head.
	if s.theNext == s.liveNext {
		s.liveNext = s.getNext(s.liveIt, &s.liveItRow)
	} else {
		s.snapNext = s.getNext(s.snapIt, &s.snapItRow)
	}
	s.theNext = cell.Lowest(s.liveNext, s.snapNext)
	return ret
}

func (s *Scanner) BackwardSeek(key *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seek(key)
	if s.theNext == nil || cell.CompareRows(s.theNext, key) > 0 {
		return s.seekToPreviousRow(key)
	}
	return true
}

func (s *Scanner) SeekToPreviousRow(key *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seekToPreviousRow(key)
}

// seekToPreviousRow takes the closer of the two cells before key's row
// across both sets and forward-seeks to the start of that cell's row. When
// mvcc filtering consumed the whole row, it backs up another row.
func (s *Scanner) seekToPreviousRow(key *cell.Cell) bool {
	for {
		firstOnRow := cell.FirstOnRow(key.Row)
		liveBefore := s.liveAtCreation.Head(firstOnRow).Last()
		snapBefore := s.snapAtCreation.Head(firstOnRow).Last()
		before := cell.Highest(liveBefore, snapBefore)
		if before == nil {
			s.theNext = nil
			return false
		}
		firstOnPrevRow := cell.FirstOnRow(before.Row)
		s.stopIfNextRow = true
		s.seek(firstOnPrevRow)
		s.stopIfNextRow = false
		if s.theNext != nil && cell.CompareRows(s.theNext, firstOnPrevRow) <= 0 {
			return true
		}
		key = before
	}
}

func (s *Scanner) SeekToLastRow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	higher := cell.Highest(s.liveAtCreation.Last(), s.snapAtCreation.Last())
	if higher == nil {
		return false
	}
	firstOnLastRow := cell.FirstOnRow(higher.Row)
	if s.seek(firstOnLastRow) {
		return true
	}
	return s.seekToPreviousRow(higher)
}

// SequenceID returns the maximum value: the memstore always holds the
// freshest data, so merge layers order it above all disk scanners.
func (s *Scanner) SequenceID() uint64 {
	return math.MaxInt64
}

func (s *Scanner) ShouldUseScanner(minTs, maxTs, oldestUnexpiredTs int64) bool {
	return s.ms.ShouldSeek(minTs, maxTs, oldestUnexpiredTs)
}

func (s *Scanner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.close()
}

func (s *Scanner) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.liveNext = nil
	s.snapNext = nil
	s.theNext = nil
	s.liveIt = nil
	s.snapIt = nil
	s.liveItRow = nil
	s.snapItRow = nil
	if s.alloc != nil {
		s.alloc.DecScannerCount()
		s.alloc = nil
	}
	if s.snapAlloc != nil {
		s.snapAlloc.DecScannerCount()
		s.snapAlloc = nil
	}
}
