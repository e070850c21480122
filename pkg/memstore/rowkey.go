package memstore

import (
	"cfstore/pkg/cell"
	"cfstore/pkg/cellset"
)

// ClosestRowTracker accumulates the best row at or before a target row. The
// enclosing store supplies the expiry and candidate judging; the memstore
// only drives the walk. Expired cells encountered on the way are removed
// from the set.
type ClosestRowTracker interface {
	// TargetKey is the first possible cell on the target row.
	TargetKey() *cell.Cell
	// IsTooFar reports whether c lies beyond the row firstOnRow starts.
	IsTooFar(c, firstOnRow *cell.Cell) bool
	// IsExpired reports whether c is past its time-to-live.
	IsExpired(c *cell.Cell) bool
	// Handle offers c as a candidate; true means the row is a contender.
	Handle(c *cell.Cell) bool
	// IsTargetTable reports whether c still belongs to the target table.
	IsTargetTable(c *cell.Cell) bool
	// IsBetterCandidate reports whether c could beat the current best.
	IsBetterCandidate(c *cell.Cell) bool
}

// GetRowKeyAtOrBefore walks the live set and then the snapshot for the best
// row at or before the tracker's target.
func (m *MemStore) GetRowKeyAtOrBefore(t ClosestRowTracker) {
	rowKeyAtOrBefore(m.live.Load(), t)
	rowKeyAtOrBefore(m.snap.Load(), t)
}

func rowKeyAtOrBefore(set *cellset.Set, t ClosestRowTracker) {
	if set.IsEmpty() {
		return
	}
	if !walkForwardInSingleRow(set, t.TargetKey(), t) {
		// Nothing in the target row. Back up a row at a time.
		rowKeyBefore(set, t)
	}
}

// walkForwardInSingleRow walks forward from firstOnRow, which must be the
// first possible cell on its row, and reports whether a candidate was found
// before the row ended.
func walkForwardInSingleRow(set *cellset.Set, firstOnRow *cell.Cell, t ClosestRowTracker) bool {
	it := set.Tail(firstOnRow)
	for c := it.Next(); c != nil; c = it.Next() {
		if t.IsTooFar(c, firstOnRow) {
			break
		}
		if t.IsExpired(c) {
			it.Remove()
			continue
		}
		if t.Handle(c) {
			return true
		}
	}
	return false
}

// rowKeyBefore walks backwards a row at a time until the set runs out, the
// tracker leaves its table, or a candidate turns up.
func rowKeyBefore(set *cellset.Set, t ClosestRowTracker) {
	firstOnRow := t.TargetKey()
	for c := memberOfPreviousRow(set, t, firstOnRow); c != nil; c = memberOfPreviousRow(set, t, firstOnRow) {
		if !t.IsTargetTable(c) {
			break
		}
		if !t.IsBetterCandidate(c) {
			break
		}
		firstOnRow = cell.FirstOnRow(c.Row)
		if walkForwardInSingleRow(set, firstOnRow, t) {
			break
		}
	}
}

// memberOfPreviousRow returns a live cell from the row before firstOnRow,
// dropping expired cells as it goes, or nil when there is none.
func memberOfPreviousRow(set *cellset.Set, t ClosestRowTracker, firstOnRow *cell.Cell) *cell.Cell {
	d := set.Head(firstOnRow).Descend()
	for c := d.Next(); c != nil; c = d.Next() {
		if t.IsExpired(c) {
			d.Remove()
			continue
		}
		return c
	}
	return nil
}
