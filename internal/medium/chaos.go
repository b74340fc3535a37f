package medium

import (
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// ErrFlushInjected is returned by [Chaos.Flush] when a fault was injected.
var ErrFlushInjected = errors.New("medium: injected flush failure")

// ChaosMode controls whether a [Chaos] medium is currently injecting faults.
type ChaosMode int32

const (
	// ChaosModeActive injects faults according to the configured rates.
	ChaosModeActive ChaosMode = iota
	// ChaosModeNoOp passes every call straight through to the wrapped medium.
	ChaosModeNoOp
)

// ChaosConfig controls fault injection probabilities for [Chaos].
// Each rate is a float64 from 0.0 (never) to 1.0 (always). The zero value
// disables all fault injection.
type ChaosConfig struct {
	// PartialWriteRate controls how often WriteAt writes only a prefix of
	// buf before "crashing" (returning the short count together with
	// [ErrShortWrite], the way a process killed mid-syscall can leave a
	// partial page on disk).
	PartialWriteRate float64

	// FlushFailRate controls how often Flush fails, simulating an fsync
	// that the kernel reports as failed (data may or may not have reached
	// the platter).
	FlushFailRate float64

	// PartialReadRate controls how often ReadAt returns a truncated read.
	PartialReadRate float64

	// TornWriteRate controls how often WriteAt corrupts a single byte in
	// the middle of the written buffer instead of writing it faithfully,
	// simulating a torn write across a block-device sector boundary.
	TornWriteRate float64
}

// Chaos wraps a [Medium] and injects faults for crash-safety tests.
// Fault injection is enabled by default ([ChaosModeActive]); call SetMode
// with [ChaosModeNoOp] to pass all operations straight through.
type Chaos struct {
	inner Medium
	mode  atomic.Int32

	mu   sync.Mutex
	rng  *rand.Rand
	conf ChaosConfig
}

// NewChaos wraps inner with fault injection governed by conf.
func NewChaos(inner Medium, conf ChaosConfig, seed uint64) *Chaos {
	c := &Chaos{
		inner: inner,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15)),
		conf:  conf,
	}
	c.mode.Store(int32(ChaosModeActive))

	return c
}

// SetMode switches fault injection on or off.
func (c *Chaos) SetMode(mode ChaosMode) {
	c.mode.Store(int32(mode))
}

func (c *Chaos) active() bool {
	return ChaosMode(c.mode.Load()) == ChaosModeActive
}

func (c *Chaos) chance(rate float64) bool {
	if rate <= 0 || !c.active() {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Float64() < rate
}

// ReadAt reads through to the wrapped medium, optionally truncating the
// result to simulate a partial read.
func (c *Chaos) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := c.inner.ReadAt(buf, offset)
	if err != nil {
		return n, err
	}

	if c.chance(c.conf.PartialReadRate) && n > 1 {
		c.mu.Lock()
		short := 1 + c.rng.IntN(n-1)
		c.mu.Unlock()

		return short, ErrShortRead
	}

	return n, nil
}

// WriteAt writes through to the wrapped medium, optionally truncating or
// tearing the write to simulate a crash mid-syscall.
func (c *Chaos) WriteAt(buf []byte, offset int64) (int, error) {
	if c.chance(c.conf.TornWriteRate) && len(buf) > 0 {
		torn := append([]byte(nil), buf...)

		c.mu.Lock()
		torn[c.rng.IntN(len(torn))] ^= 0xFF
		c.mu.Unlock()

		return c.inner.WriteAt(torn, offset)
	}

	if c.chance(c.conf.PartialWriteRate) && len(buf) > 1 {
		c.mu.Lock()
		short := 1 + c.rng.IntN(len(buf)-1)
		c.mu.Unlock()

		n, err := c.inner.WriteAt(buf[:short], offset)
		if err != nil {
			return n, err
		}

		return n, ErrShortWrite
	}

	return c.inner.WriteAt(buf, offset)
}

// Flush forwards to the wrapped medium, optionally failing outright.
func (c *Chaos) Flush() error {
	if c.chance(c.conf.FlushFailRate) {
		return ErrFlushInjected
	}

	return c.inner.Flush()
}

// Length forwards to the wrapped medium.
func (c *Chaos) Length() (int64, error) {
	return c.inner.Length()
}

// Extend forwards to the wrapped medium.
func (c *Chaos) Extend(n int64) error {
	return c.inner.Extend(n)
}

// Close forwards to the wrapped medium.
func (c *Chaos) Close() error {
	return c.inner.Close()
}

// Compile-time interface check.
var _ Medium = (*Chaos)(nil)
