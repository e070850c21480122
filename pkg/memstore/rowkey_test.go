package memstore

import (
	"testing"

	"cfstore/pkg/cell"
)

// mockRowTracker implements ClosestRowTracker: closest row at or before the
// target wins, rows marked expired are dropped.
type mockRowTracker struct {
	target  *cell.Cell
	expired map[string]bool
	best    *cell.Cell
}

func newMockRowTracker(row string) *mockRowTracker {
	return &mockRowTracker{
		target:  cell.FirstOnRow([]byte(row)),
		expired: map[string]bool{},
	}
}

func (m *mockRowTracker) TargetKey() *cell.Cell {
	return m.target
}

func (m *mockRowTracker) IsTooFar(c, firstOnRow *cell.Cell) bool {
	return cell.CompareRows(c, firstOnRow) > 0
}

func (m *mockRowTracker) IsExpired(c *cell.Cell) bool {
	return m.expired[string(c.Row)]
}

func (m *mockRowTracker) Handle(c *cell.Cell) bool {
	if m.best == nil || cell.CompareRows(c, m.best) > 0 {
		m.best = c
	}
	return true
}

func (m *mockRowTracker) IsTargetTable(*cell.Cell) bool {
	return true
}

func (m *mockRowTracker) IsBetterCandidate(c *cell.Cell) bool {
	return m.best == nil || cell.CompareRows(c, m.best) > 0
}

func TestGetRowKeyAtOrBefore_ExactRow(t *testing.T) {
	ms := newTestStore()
	ms.Add(put("r1", "q", 1, 1, "a"))
	ms.Add(put("r2", "q", 1, 2, "b"))

	tr := newMockRowTracker("r2")
	ms.GetRowKeyAtOrBefore(tr)
	if tr.best == nil || string(tr.best.Row) != "r2" {
		t.Fatalf("expected the target row itself, got %v", tr.best)
	}
}

func TestGetRowKeyAtOrBefore_BacksUpARow(t *testing.T) {
	ms := newTestStore()
	ms.Add(put("r1", "q", 1, 1, "a"))
	ms.Add(put("r3", "q", 1, 2, "c"))

	tr := newMockRowTracker("r2")
	ms.GetRowKeyAtOrBefore(tr)
	if tr.best == nil || string(tr.best.Row) != "r1" {
		t.Fatalf("expected fallback to the row before the target, got %v", tr.best)
	}
}

func TestGetRowKeyAtOrBefore_ChecksSnapshotToo(t *testing.T) {
	ms := newTestStore()
	ms.Add(put("r1", "q", 1, 1, "a"))
	snap := ms.Snapshot()
	defer ms.ClearSnapshot(snap.ID)

	tr := newMockRowTracker("r2")
	ms.GetRowKeyAtOrBefore(tr)
	if tr.best == nil || string(tr.best.Row) != "r1" {
		t.Fatalf("expected the candidate from the snapshot set, got %v", tr.best)
	}
}

func TestGetRowKeyAtOrBefore_RemovesExpiredCells(t *testing.T) {
	ms := newTestStore()
	ms.Add(put("r1", "q", 1, 1, "a"))
	ms.Add(put("r2", "q", 1, 2, "b"))

	tr := newMockRowTracker("r2")
	tr.expired["r2"] = true
	ms.GetRowKeyAtOrBefore(tr)
	if tr.best == nil || string(tr.best.Row) != "r1" {
		t.Fatalf("expired target row must fall through to r1, got %v", tr.best)
	}

	// The expired cell was dropped from the set on the way past.
	if got := scanValues(t, ms, 100); len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only r1 to survive, got %v", got)
	}
}
