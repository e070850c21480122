package cellset

import (
	"fmt"
	"testing"

	"cfstore/pkg/cell"
)

func mkCell(row, qual string, ts int64, mvcc uint64) *cell.Cell {
	return cell.New([]byte(row), []byte("f"), []byte(qual), ts, mvcc, []byte("v"))
}

func TestAdd_DuplicateIsNoOp(t *testing.T) {
	s := New()
	if !s.Add(mkCell("r1", "q", 1, 1)) {
		t.Fatalf("first insert must report newly inserted")
	}
	if s.Add(mkCell("r1", "q", 1, 1)) {
		t.Fatalf("duplicate insert must be a no-op")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 element, got %d", s.Len())
	}
}

func TestAdd_DifferentMVCCIsDistinct(t *testing.T) {
	s := New()
	s.Add(mkCell("r1", "q", 1, 1))
	if !s.Add(mkCell("r1", "q", 1, 2)) {
		t.Fatalf("a cell differing only in mvcc is a distinct element")
	}
	if s.Len() != 2 {
		t.Fatalf("expected 2 elements, got %d", s.Len())
	}
}

func TestGetRemoveContains(t *testing.T) {
	s := New()
	c := mkCell("r1", "q", 1, 1)
	s.Add(c)
	if got := s.Get(mkCell("r1", "q", 1, 1)); got != c {
		t.Fatalf("Get must return the stored reference")
	}
	if s.Get(mkCell("r1", "q", 1, 2)) != nil {
		t.Fatalf("Get with a different mvcc must miss")
	}
	if !s.Remove(c) {
		t.Fatalf("Remove of a present cell must report true")
	}
	if s.Remove(c) {
		t.Fatalf("Remove of an absent cell must report false")
	}
	if s.Contains(c) {
		t.Fatalf("removed cell still present")
	}
}

func TestFirstLast(t *testing.T) {
	s := New()
	if s.First() != nil || s.Last() != nil {
		t.Fatalf("empty set has no first/last")
	}
	s.Add(mkCell("r2", "q", 1, 1))
	s.Add(mkCell("r1", "q", 1, 1))
	s.Add(mkCell("r3", "q", 1, 1))
	if string(s.First().Row) != "r1" {
		t.Fatalf("expected first row r1, got %s", s.First().Row)
	}
	if string(s.Last().Row) != "r3" {
		t.Fatalf("expected last row r3, got %s", s.Last().Row)
	}
}

func TestTail_InclusiveFromKey(t *testing.T) {
	s := New()
	for i := 1; i <= 5; i++ {
		s.Add(mkCell(fmt.Sprintf("r%d", i), "q", 1, 1))
	}
	it := s.Tail(cell.FirstOnRow([]byte("r3")))
	var rows []string
	for c := it.Next(); c != nil; c = it.Next() {
		rows = append(rows, string(c.Row))
	}
	if len(rows) != 3 || rows[0] != "r3" || rows[2] != "r5" {
		t.Fatalf("unexpected tail walk: %v", rows)
	}
}

func TestTail_ExactKeyIsIncluded(t *testing.T) {
	s := New()
	c := mkCell("r1", "q", 1, 1)
	s.Add(c)
	it := s.Tail(mkCell("r1", "q", 1, 1))
	if got := it.Next(); got != c {
		t.Fatalf("tail from an equal key must include it")
	}
}

func TestIter_SurvivesRemovalOfCurrent(t *testing.T) {
	s := New()
	for i := 1; i <= 4; i++ {
		s.Add(mkCell(fmt.Sprintf("r%d", i), "q", 1, 1))
	}
	it := s.Tail(nil)
	var rows []string
	for c := it.Next(); c != nil; c = it.Next() {
		rows = append(rows, string(c.Row))
		it.Remove()
	}
	if len(rows) != 4 {
		t.Fatalf("expected to visit all 4 rows, got %v", rows)
	}
	if s.Len() != 0 {
		t.Fatalf("expected every visited cell removed, %d left", s.Len())
	}
}

func TestIter_ObservesConcurrentInsertAhead(t *testing.T) {
	s := New()
	s.Add(mkCell("r1", "q", 1, 1))
	s.Add(mkCell("r3", "q", 1, 1))
	it := s.Tail(nil)
	if string(it.Next().Row) != "r1" {
		t.Fatalf("expected r1 first")
	}
	// Lands between the iterator position and the rest of the walk.
	s.Add(mkCell("r2", "q", 1, 1))
	if got := it.Next(); string(got.Row) != "r2" {
		t.Fatalf("expected the newly inserted r2, got %v", got)
	}
}

func TestHead_LastBelowExclusiveBound(t *testing.T) {
	s := New()
	s.Add(mkCell("r1", "q", 1, 1))
	s.Add(mkCell("r2", "q", 1, 1))

	h := s.Head(cell.FirstOnRow([]byte("r2")))
	if got := h.Last(); got == nil || string(got.Row) != "r1" {
		t.Fatalf("expected last element below r2 to be r1, got %v", got)
	}
	if s.Head(cell.FirstOnRow([]byte("r1"))).Last() != nil {
		t.Fatalf("head below the first row must be empty")
	}
}

func TestDescend_WalksBackwardsAndRemoves(t *testing.T) {
	s := New()
	for i := 1; i <= 3; i++ {
		s.Add(mkCell(fmt.Sprintf("r%d", i), "q", 1, 1))
	}
	d := s.Head(cell.FirstOnRow([]byte("r3"))).Descend()
	var rows []string
	for c := d.Next(); c != nil; c = d.Next() {
		rows = append(rows, string(c.Row))
	}
	if len(rows) != 2 || rows[0] != "r2" || rows[1] != "r1" {
		t.Fatalf("unexpected descending walk: %v", rows)
	}

	// A removal through the view must hit the parent set.
	d = s.Head(nil).Descend()
	d.Next()
	d.Remove()
	if s.Len() != 2 {
		t.Fatalf("expected removal through the view to shrink the parent")
	}
	if s.Get(mkCell("r3", "q", 1, 1)) != nil {
		t.Fatalf("expected r3 removed, still present")
	}
}
