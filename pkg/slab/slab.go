// Package slab implements a chunked arena for cell payload bytes. Incoming
// payloads are copied into large shared chunks, which keeps the heap free of
// a myriad of tiny slices. Chunks stay referenced while any scanner opened
// against the allocator is alive, even after the allocator has been detached
// from its memstore by a flush.
package slab

import (
	"sync"
	"sync/atomic"
)

const (
	// DefaultChunkSize is the size of each shared chunk.
	DefaultChunkSize = 2 * 1024 * 1024
	// DefaultMaxAlloc is the largest request served from a chunk. Bigger
	// payloads keep their own buffer.
	DefaultMaxAlloc = 256 * 1024
)

// Allocator is the contract the memstore and its scanners consume.
type Allocator interface {
	// Allocate returns a writable slice of exactly n bytes carved from the
	// current chunk, or nil when n exceeds the max-alloc threshold or the
	// allocator has been closed.
	Allocate(n int) []byte
	// IncScannerCount / DecScannerCount maintain the count of live scanners
	// holding references into this allocator's chunks.
	IncScannerCount()
	DecScannerCount()
	// Close detaches the allocator. Chunks are reclaimed once the scanner
	// count also reaches zero. Safe to call more than once.
	Close()
}

// Slab is the heap-backed Allocator implementation.
type Slab struct {
	chunkSize int
	maxAlloc  int

	cur      atomic.Pointer[chunk]
	mu       sync.Mutex // guards chunk rollover and the retained list
	chunks   []*chunk
	scanners atomic.Int32
	detached atomic.Bool
}

type chunk struct {
	buf []byte
	off atomic.Int64
}

// alloc carves n bytes from the chunk, or returns nil when it cannot fit.
func (c *chunk) alloc(n int) []byte {
	for {
		off := c.off.Load()
		if off+int64(n) > int64(len(c.buf)) {
			return nil
		}
		if c.off.CompareAndSwap(off, off+int64(n)) {
			return c.buf[off : off+int64(n) : off+int64(n)]
		}
	}
}

// New returns a Slab with the given chunk size and max-alloc threshold.
// Non-positive arguments select the defaults.
func New(chunkSize, maxAlloc int) *Slab {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxAlloc <= 0 {
		maxAlloc = DefaultMaxAlloc
	}
	if maxAlloc > chunkSize {
		maxAlloc = chunkSize
	}
	return &Slab{chunkSize: chunkSize, maxAlloc: maxAlloc}
}

// Allocate is called under the enclosing store's read lock; concurrent
// callers race only on the chunk offset. Already-issued bytes never move.
func (s *Slab) Allocate(n int) []byte {
	if n > s.maxAlloc || s.detached.Load() {
		return nil
	}
	for {
		c := s.cur.Load()
		if c != nil {
			if b := c.alloc(n); b != nil {
				return b
			}
		}
		s.rollover(c)
	}
}

// rollover installs a fresh chunk unless another caller already did.
func (s *Slab) rollover(old *chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur.Load() != old {
		// Someone else replaced the chunk while we waited for the lock.
		return
	}
	c := &chunk{buf: make([]byte, s.chunkSize)}
	s.chunks = append(s.chunks, c)
	s.cur.Store(c)
}

func (s *Slab) IncScannerCount() {
	s.scanners.Add(1)
}

func (s *Slab) DecScannerCount() {
	if s.scanners.Add(-1) == 0 && s.detached.Load() {
		s.reclaim()
	}
}

// Close marks the allocator detached. The chunk list is dropped once no
// scanner holds a reference into it.
func (s *Slab) Close() {
	s.detached.Store(true)
	if s.scanners.Load() == 0 {
		s.reclaim()
	}
}

func (s *Slab) reclaim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.cur.Store(nil)
}

// ChunkCount reports how many chunks are currently retained.
func (s *Slab) ChunkCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}
