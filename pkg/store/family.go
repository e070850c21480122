package store

import (
	"sync"
	"sync/atomic"

	"cfstore/pkg/memstore"
	"cfstore/pkg/sstable"
)

// family is one column family: a memstore behind the read/write lock
// discipline the memstore requires, plus the flushed runs below it.
//
// The lock is held for reading around every memstore mutation (writes are
// serialised only against flush, not each other - the cell set is safe for
// concurrent single-element operations) and for writing around
// Snapshot/ClearSnapshot.
type family struct {
	name string

	mu sync.RWMutex
	ms *memstore.MemStore

	// flushing gates snapshot scheduling so a family queues one flush at a
	// time.
	flushing atomic.Bool

	runsMu sync.Mutex
	runs   []*sstable.Reader
}

func (f *family) addRun(r *sstable.Reader) {
	f.runsMu.Lock()
	defer f.runsMu.Unlock()
	f.runs = append(f.runs, r)
}

// runsNewestFirst returns a copy of the run list, newest first.
func (f *family) runsNewestFirst() []*sstable.Reader {
	f.runsMu.Lock()
	defer f.runsMu.Unlock()
	out := make([]*sstable.Reader, len(f.runs))
	for i, r := range f.runs {
		out[len(f.runs)-1-i] = r
	}
	return out
}

// FamilyStats is the per-family view served by the status endpoints.
type FamilyStats struct {
	Name                string `json:"name"`
	HeapSize            int64  `json:"heapSize"`
	FlushableSize       int64  `json:"flushableSize"`
	SnapshotOutstanding bool   `json:"snapshotOutstanding"`
	TimeOfOldestEdit    int64  `json:"timeOfOldestEdit"`
	Runs                int    `json:"runs"`
}

func (f *family) stats() FamilyStats {
	f.runsMu.Lock()
	runs := len(f.runs)
	f.runsMu.Unlock()
	return FamilyStats{
		Name:                f.name,
		HeapSize:            f.ms.HeapSize(),
		FlushableSize:       f.ms.FlushableSize(),
		SnapshotOutstanding: f.ms.SnapshotOutstanding(),
		TimeOfOldestEdit:    f.ms.TimeOfOldestEdit(),
		Runs:                runs,
	}
}
