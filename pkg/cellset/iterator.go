package cellset

import (
	"github.com/huandu/skiplist"

	"cfstore/pkg/cell"
)

// Iter walks a set in ascending order starting at an inclusive key. Each
// step re-seeks from the last returned element, so removal of that element
// (by this iterator or anyone else) does not break the walk.
type Iter struct {
	s       *Set
	from    *cell.Cell
	cur     *cell.Cell
	started bool
}

// Tail returns an ascending iterator positioned at the first element >= from.
// A nil from starts at the beginning.
func (s *Set) Tail(from *cell.Cell) *Iter {
	return &Iter{s: s, from: from}
}

// Next returns the next element, or nil when the walk is exhausted.
func (it *Iter) Next() *cell.Cell {
	it.s.mu.RLock()
	defer it.s.mu.RUnlock()

	var el *skiplist.Element
	if !it.started {
		it.started = true
		if it.from == nil {
			el = it.s.list.Front()
		} else {
			el = it.s.list.Find(it.from)
		}
	} else {
		if it.cur == nil {
			return nil
		}
		el = it.s.list.Find(it.cur)
		if el != nil && cell.Compare(el.Value.(*cell.Cell), it.cur) == 0 {
			el = el.Next()
		}
	}
	if el == nil {
		it.cur = nil
		return nil
	}
	it.cur = el.Value.(*cell.Cell)
	return it.cur
}

// Remove deletes the element last returned by Next from the parent set.
func (it *Iter) Remove() {
	if it.cur != nil {
		it.s.Remove(it.cur)
	}
}

// HeadView is the subrange of a set strictly below an exclusive bound,
// backed by the parent: mutations through the view hit the parent set.
type HeadView struct {
	s     *Set
	below *cell.Cell
}

// Head returns the view of all elements strictly less than below.
func (s *Set) Head(below *cell.Cell) HeadView {
	return HeadView{s: s, below: below}
}

// Last returns the largest element of the view, or nil when it is empty.
func (h HeadView) Last() *cell.Cell {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	el := h.s.lastBelowLocked(h.below)
	if el == nil {
		return nil
	}
	return el.Value.(*cell.Cell)
}

func (h HeadView) IsEmpty() bool {
	return h.Last() == nil
}

// Descend returns a descending iterator over the view.
func (h HeadView) Descend() *DescIter {
	return &DescIter{s: h.s, below: h.below}
}

// DescIter walks elements in descending order starting just below an
// exclusive bound (nil bound: from the largest element). Like Iter it
// re-seeks by key per step, so Remove during the walk is safe.
type DescIter struct {
	s       *Set
	below   *cell.Cell
	cur     *cell.Cell
	started bool
}

// Next returns the next smaller element, or nil when the walk is exhausted.
func (d *DescIter) Next() *cell.Cell {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()

	bound := d.below
	if d.started {
		if d.cur == nil {
			return nil
		}
		bound = d.cur
	}
	d.started = true
	el := d.s.lastBelowLocked(bound)
	if el == nil {
		d.cur = nil
		return nil
	}
	d.cur = el.Value.(*cell.Cell)
	return d.cur
}

// Remove deletes the element last returned by Next from the parent set.
func (d *DescIter) Remove() {
	if d.cur != nil {
		d.s.Remove(d.cur)
	}
}
