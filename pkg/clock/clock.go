// Package clock supplies the two time sources the storage engine consumes:
// a wall clock for snapshot ids and oldest-edit tracking, and an atomic
// sequence clock for mvcc write numbers.
package clock

import (
	"sync/atomic"
	"time"
)

// TimeProvider abstracts the wall clock so tests can pin it.
type TimeProvider interface {
	Now() time.Time
}

// SystemTime is the production TimeProvider.
type SystemTime struct{}

func (SystemTime) Now() time.Time {
	return time.Now()
}

// AtomicClock issues monotone 64-bit sequence numbers. The store allocates
// one per edit as its mvcc version; Val, the newest issued number, doubles
// as the read point handed to scanners.
type AtomicClock struct {
	atomic.Uint64
}

func NewAtomic(init uint64) *AtomicClock {
	var ac AtomicClock
	ac.Set(init)
	return &ac
}

func (ac *AtomicClock) Val() uint64 {
	return ac.Load()
}

func (ac *AtomicClock) Next() uint64 {
	return ac.Add(1)
}

func (ac *AtomicClock) Set(t uint64) {
	ac.Store(t)
}
