// Package cellset provides a navigable, ordered set of cells keyed by
// whole-cell comparison. Reads are fine-grained: iterators take the lock per
// step and re-seek by key, so a held iterator never blocks writers and
// tolerates concurrent mutation (weak consistency - an in-flight iterator may
// or may not observe concurrent insertions).
package cellset

import (
	"sync"

	"github.com/huandu/skiplist"

	"cfstore/pkg/cell"
)

// EmptySize is the estimated heap footprint of an empty set: the skiplist
// header, its level array and the wrapper struct.
const EmptySize int64 = 320

// EntryOverhead is the estimated footprint of one skiplist node, excluding
// the cell it carries.
const EntryOverhead int64 = 64

// Set is an ordered cell set. A cell differing only in mvcc is a distinct
// element; inserting a cell that compares equal to a present one is a no-op.
type Set struct {
	mu   sync.RWMutex
	list *skiplist.SkipList
}

func New() *Set {
	return &Set{
		list: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs interface{}) int {
			return cell.Compare(lhs.(*cell.Cell), rhs.(*cell.Cell))
		})),
	}
}

// Add inserts c and reports whether it was newly inserted. A present equal
// cell is left untouched so that the original reference stays live for
// scanners holding it.
func (s *Set) Add(c *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list.Get(c) != nil {
		return false
	}
	s.list.Set(c, c)
	return true
}

// Remove deletes the element comparing equal to c and reports whether one
// was present.
func (s *Set) Remove(c *cell.Cell) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list.Remove(c) != nil
}

// Get returns the stored element comparing equal to c, or nil.
func (s *Set) Get(c *cell.Cell) *cell.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el := s.list.Get(c)
	if el == nil {
		return nil
	}
	return el.Value.(*cell.Cell)
}

func (s *Set) Contains(c *cell.Cell) bool {
	return s.Get(c) != nil
}

// First returns the smallest element, or nil when empty.
func (s *Set) First() *cell.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el := s.list.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*cell.Cell)
}

// Last returns the largest element, or nil when empty.
func (s *Set) Last() *cell.Cell {
	s.mu.RLock()
	defer s.mu.RUnlock()
	el := s.list.Back()
	if el == nil {
		return nil
	}
	return el.Value.(*cell.Cell)
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.list.Len()
}

func (s *Set) IsEmpty() bool {
	return s.Len() == 0
}

// lastBelowLocked returns the largest element strictly less than key, or the
// overall largest when key is nil. Caller holds at least the read lock.
func (s *Set) lastBelowLocked(key *cell.Cell) *skiplist.Element {
	if key == nil {
		return s.list.Back()
	}
	el := s.list.Find(key)
	if el == nil {
		return s.list.Back()
	}
	return el.Prev()
}
