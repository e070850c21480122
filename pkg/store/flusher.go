package store

import (
	"context"
	"fmt"
	"path/filepath"

	"cfstore/pkg/listener"
	"cfstore/pkg/memstore"
	"cfstore/pkg/metrics"
	"cfstore/pkg/sstable"
)

type flushReq struct {
	fam  *family
	snap *memstore.Snapshot
}

// Flusher persists frozen snapshots as sorted runs, then clears them. One
// request per family is in flight at a time; the family's flushing gate is
// released here whatever the outcome.
type Flusher struct {
	dataDir string
	metrics metrics.Collector
	l       *listener.Listener[flushReq]
}

func NewFlusher(in <-chan flushReq, dataDir string, m metrics.Collector) *Flusher {
	f := &Flusher{dataDir: dataDir, metrics: m}
	f.l = listener.New(in, f.flush)
	return f
}

func (f *Flusher) Start(ctx context.Context) {
	f.l.Start(ctx)
}

func (f *Flusher) Stop() {
	f.l.Stop()
}

func (f *Flusher) flush(req flushReq) error {
	defer req.fam.flushing.Store(false)

	fam, snap := req.fam, req.snap
	if snap.CellCount > 0 {
		path := filepath.Join(f.dataDir, fmt.Sprintf("%s_%d.run", fam.name, snap.ID))
		w, err := sstable.Create(path)
		if err != nil {
			return fmt.Errorf("failed to flush family %s: %w", fam.name, err)
		}
		var bytes int64
		for c := snap.Scanner.Next(); c != nil; c = snap.Scanner.Next() {
			if err := w.Append(c); err != nil {
				return fmt.Errorf("failed to flush family %s: %w", fam.name, err)
			}
			bytes += c.HeapSize()
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to flush family %s: %w", fam.name, err)
		}

		r, err := sstable.Open(path)
		if err != nil {
			return fmt.Errorf("failed to reopen flushed run: %w", err)
		}
		fam.addRun(r)

		f.metrics.IncCounter("cfstore_flushes_total",
			map[string]string{"family": fam.name}, 1)
		f.metrics.IncCounter("cfstore_flushed_bytes_total",
			map[string]string{"family": fam.name}, float64(bytes))
	}

	fam.mu.Lock()
	err := fam.ms.ClearSnapshot(snap.ID)
	fam.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to clear snapshot for family %s: %w", fam.name, err)
	}
	return nil
}
