package memstore

import (
	"math"
	"sync"

	"cfstore/pkg/cell"
	"cfstore/pkg/cellset"
)

// SetScanner is a read-only ordered scanner over a single frozen set. It is
// what a snapshot descriptor hands to the flusher; it also serves merge
// layers that only need forward iteration.
type SetScanner struct {
	mu  sync.Mutex
	set *cellset.Set
	it  *cellset.Iter
	cur *cell.Cell
}

func NewSetScanner(set *cellset.Set) *SetScanner {
	s := &SetScanner{set: set}
	s.it = set.Tail(nil)
	s.cur = s.it.Next()
	return s
}

func (s *SetScanner) Peek() *cell.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *SetScanner) Next() *cell.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	ret := s.cur
	if ret != nil {
		s.cur = s.it.Next()
	}
	return ret
}

func (s *SetScanner) Seek(key *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key == nil {
		s.cur = nil
		s.it = nil
		return false
	}
	s.it = s.set.Tail(key)
	s.cur = s.it.Next()
	return s.cur != nil
}

func (s *SetScanner) Reseek(key *cell.Cell) bool {
	return s.Seek(key)
}

// SequenceID keeps the frozen set ordered like the memstore it came from.
func (s *SetScanner) SequenceID() uint64 {
	return math.MaxInt64
}

func (s *SetScanner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur = nil
	s.it = nil
}
