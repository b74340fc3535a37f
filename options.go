package streamdb

import "github.com/ALH477/StreamDb/internal/medium"

// defaultCacheSize is the LRU page-cache capacity used when [WithCacheSize]
// is not supplied.
const defaultCacheSize = 256

// MediumFactory opens the backing byte medium for a database file path.
// Tests substitute [medium.NewMemory] (wrapped to ignore the path) or a
// [medium.Chaos]-wrapped medium; production callers use the default, which
// opens a [medium.Real].
type MediumFactory func(path string) (medium.Medium, error)

// Options configures [Open]. The zero value is not usable directly; build
// one with [DefaultOptions] and the With* functions below, mirroring the
// teacher's Config/DefaultConfig pattern.
type Options struct {
	CacheSize     int
	QuickMode     bool
	ProcessLock   bool
	MediumFactory MediumFactory
}

// DefaultOptions returns the options used when Open is called with none:
// a [medium.Real]-backed file, CRC verification enabled, no process lock.
func DefaultOptions() Options {
	return Options{
		CacheSize:     defaultCacheSize,
		QuickMode:     false,
		ProcessLock:   false,
		MediumFactory: openRealMedium,
	}
}

func openRealMedium(path string) (medium.Medium, error) {
	return medium.OpenReal(path)
}

// Option mutates an [Options] value; passed variadically to [Open].
type Option func(*Options)

// WithCacheSize overrides the page-store LRU capacity, in pages.
func WithCacheSize(n int) Option {
	return func(o *Options) { o.CacheSize = n }
}

// WithQuickMode sets the initial value of the opened database's quick-mode
// switch. It can still be changed later via [Database.SetQuickMode]. The
// switch is per Database, not shared across databases in one process.
func WithQuickMode(enabled bool) Option {
	return func(o *Options) { o.QuickMode = enabled }
}

// WithProcessLock enables the optional, cooperative advisory file lock
// described in §1 as an integration concern for multi-process sharing.
func WithProcessLock(enabled bool) Option {
	return func(o *Options) { o.ProcessLock = enabled }
}

// WithMedium overrides how the backing medium is opened, letting tests
// substitute an in-memory or fault-injecting medium without touching disk.
func WithMedium(factory MediumFactory) Option {
	return func(o *Options) { o.MediumFactory = factory }
}
