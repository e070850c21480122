package store

import (
	"testing"
	"time"

	"cfstore/pkg/cell"
)

// mockTimeProvider implements clock.TimeProvider for testing.
type mockTimeProvider struct {
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	return m.now
}

func openTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	opts := DefaultOptions(dir)
	opts.Time = &mockTimeProvider{now: time.UnixMilli(1000)}
	opts.FlushThresholdBytes = 0 // no automatic flushes in tests
	s, err := Open(opts)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestPutGet(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	if err := s.Put("f", []byte("r1"), []byte("q"), 10, []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, ok, err := s.Get("f", []byte("r1"), []byte("q"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok || string(got) != "v1" {
		t.Fatalf("Get = %q,%v, want v1,true", got, ok)
	}

	if _, ok, _ := s.Get("f", []byte("r2"), []byte("q")); ok {
		t.Fatalf("missing row must not be found")
	}
	if _, ok, _ := s.Get("other", []byte("r1"), []byte("q")); ok {
		t.Fatalf("missing family must not be found")
	}
}

func TestPut_NewerTimestampWins(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Put("f", []byte("r1"), []byte("q"), 10, []byte("old"))
	s.Put("f", []byte("r1"), []byte("q"), 20, []byte("new"))

	got, ok, _ := s.Get("f", []byte("r1"), []byte("q"))
	if !ok || string(got) != "new" {
		t.Fatalf("Get = %q,%v, want new,true", got, ok)
	}
}

func TestDelete_ShadowsPut(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Put("f", []byte("r1"), []byte("q"), 10, []byte("v1"))
	if err := s.Delete("f", []byte("r1"), []byte("q"), 10); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get("f", []byte("r1"), []byte("q")); ok {
		t.Fatalf("point delete must shadow the put at its timestamp")
	}
}

func TestDeleteColumn_ShadowsOlderVersions(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Put("f", []byte("r1"), []byte("q"), 10, []byte("v1"))
	s.Put("f", []byte("r1"), []byte("q"), 20, []byte("v2"))
	s.DeleteColumn("f", []byte("r1"), []byte("q"), 25)

	if _, ok, _ := s.Get("f", []byte("r1"), []byte("q")); ok {
		t.Fatalf("column delete must shadow every older version")
	}

	s.Put("f", []byte("r1"), []byte("q"), 30, []byte("v3"))
	got, ok, _ := s.Get("f", []byte("r1"), []byte("q"))
	if !ok || string(got) != "v3" {
		t.Fatalf("a put above the tombstone must be visible, got %q,%v", got, ok)
	}
}

func TestIncrement(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	total, err := s.Increment("f", []byte("r1"), []byte("hits"), 2)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if total != 2 {
		t.Fatalf("first increment = %d, want 2", total)
	}
	total, err = s.Increment("f", []byte("r1"), []byte("hits"), 3)
	if err != nil {
		t.Fatalf("Increment failed: %v", err)
	}
	if total != 5 {
		t.Fatalf("second increment = %d, want 5", total)
	}
}

func TestFlushCycle(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Put("f", []byte("r1"), []byte("q"), 10, []byte("v1"))
	if err := s.Flush("f"); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	waitForFlush(t, s, "f")

	got, ok, err := s.Get("f", []byte("r1"), []byte("q"))
	if err != nil {
		t.Fatalf("Get after flush failed: %v", err)
	}
	if !ok || string(got) != "v1" {
		t.Fatalf("flushed value must still be readable, got %q,%v", got, ok)
	}
}

func waitForFlush(t *testing.T, s *Store, family string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, fs := range s.Stats() {
			if fs.Name == family && !fs.SnapshotOutstanding && fs.Runs > 0 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("flush of family %s did not complete", family)
}

func TestScannerReopenSeesPostFlushWrites(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Put("f", []byte("r1"), []byte("q"), 10, []byte("v1"))
	old, err := s.OpenScanner("f")
	if err != nil {
		t.Fatalf("OpenScanner failed: %v", err)
	}
	defer old.Close()

	s.Flush("f")
	waitForFlush(t, s, "f")
	s.Put("f", []byte("r2"), []byte("q"), 20, []byte("v2"))

	// The old scanner pinned the pre-flush sets; a fresh one sees the new
	// live set.
	fresh, err := s.OpenScanner("f")
	if err != nil {
		t.Fatalf("OpenScanner failed: %v", err)
	}
	defer fresh.Close()
	if !fresh.Seek(cell.FirstOnRow([]byte("r2"))) {
		t.Fatalf("fresh scanner must see the post-flush write")
	}
	if got := fresh.Peek(); string(got.Row) != "r2" {
		t.Fatalf("expected r2, got %v", got)
	}
	if old.Seek(cell.FirstOnRow([]byte("r2"))) {
		t.Fatalf("the stale scanner must not see writes to the new live set")
	}
}

func TestRestoreFromJournal(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	s.Put("f", []byte("r1"), []byte("q"), 10, []byte("v1"))
	s.Put("f", []byte("r2"), []byte("q"), 20, []byte("v2"))
	s.Delete("f", []byte("r2"), []byte("q"), 20)
	s.Close()

	s2 := openTestStore(t, dir)
	defer s2.Close()
	got, ok, err := s2.Get("f", []byte("r1"), []byte("q"))
	if err != nil {
		t.Fatalf("Get after restore failed: %v", err)
	}
	if !ok || string(got) != "v1" {
		t.Fatalf("restored value = %q,%v, want v1,true", got, ok)
	}
	if _, ok, _ := s2.Get("f", []byte("r2"), []byte("q")); ok {
		t.Fatalf("restored tombstone must still shadow its put")
	}
}

func TestStats_FamiliesInNameOrder(t *testing.T) {
	s := openTestStore(t, t.TempDir())
	defer s.Close()

	s.Put("fb", []byte("r"), []byte("q"), 1, []byte("v"))
	s.Put("fa", []byte("r"), []byte("q"), 1, []byte("v"))
	s.CreateFamily("fc")

	stats := s.Stats()
	if len(stats) != 3 {
		t.Fatalf("expected 3 families, got %d", len(stats))
	}
	if stats[0].Name != "fa" || stats[1].Name != "fb" || stats[2].Name != "fc" {
		t.Fatalf("families not in name order: %+v", stats)
	}
}
