// Package leaktrack detects resources (iterators, sinks, datasets) whose
// owner never called Close()/Release() by attaching a runtime finalizer at
// creation and having the finalizer warn-and-release if it still fires.
// Grounded on the runtime.SetFinalizer use in
// FeatureBaseDB-featurebase/querycontext/rbf.go, adapted here into a
// general-purpose tracker keyed by creation site rather than a single
// hard-coded query-context type.
package leaktrack

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Site identifies where a tracked resource was created, for the warning
// log emitted when it leaks.
type Site struct {
	Kind  string // "iterator", "sink", "dataset", ...
	Stack string
}

func captureSite(kind string) Site {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return Site{Kind: kind, Stack: string(buf[:n])}
}

// Handle is returned by Track; the owner must call Release when the
// resource is closed normally, which removes its registry entry so that the
// finalizer, when it runs, finds nothing to do and logs no warning.
type Handle struct {
	id      int64
	tracker *Tracker
}

// Release marks the resource as cleanly closed. Idempotent.
func (h *Handle) Release() {
	if h == nil || h.tracker == nil {
		return
	}
	h.tracker.forget(h.id)
}

type entry struct {
	site    Site
	closeFn func()
}

// Tracker owns the registry of currently-live tracked resources for one
// store or connection. Safe for concurrent use.
type Tracker struct {
	enabled bool

	mu      sync.Mutex
	live    map[int64]entry
	nextID  int64

	sweepMu       sync.Mutex
	sweepInterval time.Duration
	sweepCeiling  time.Duration
	stopSweep     chan struct{}
	sweeping      atomic.Bool
}

// New creates a Tracker. When enabled is false, Track is a no-op that
// returns a nil Handle and never installs a finalizer, so production
// deployments that disable resource-site tracking pay no cost.
func New(enabled bool, initialInterval, ceiling time.Duration) *Tracker {
	return &Tracker{
		enabled:       enabled,
		live:          make(map[int64]entry),
		sweepInterval: initialInterval,
		sweepCeiling:  ceiling,
	}
}

// Track registers a resource created at the given site. closeFn is invoked
// by the finalizer if the resource leaks, or by ForceCloseAll while the
// resource is still registered; it should perform whatever forced-close/release behavior applies to that
// resource kind and must not panic.
func (t *Tracker) Track(kind string, closeFn func()) *Handle {
	if t == nil || !t.enabled {
		return nil
	}
	site := captureSite(kind)

	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.live[id] = entry{site: site, closeFn: closeFn}
	t.mu.Unlock()

	h := &Handle{id: id, tracker: t}
	runtime.SetFinalizer(h, func(h *Handle) {
		t.finalize(id)
	})
	return h
}

func (t *Tracker) forget(id int64) {
	t.mu.Lock()
	delete(t.live, id)
	t.mu.Unlock()
}

func (t *Tracker) finalize(id int64) {
	t.mu.Lock()
	e, ok := t.live[id]
	if ok {
		delete(t.live, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	log.Warn().
		Str("kind", e.site.Kind).
		Str("site", e.site.Stack).
		Msg("leaktrack: resource was never closed, force-releasing from finalizer")
	e.closeFn()
}

// LiveCount reports the number of currently-tracked, not-yet-released
// resources. Used by tests asserting leak-tracker behavior without waiting
// on the garbage collector.
func (t *Tracker) LiveCount() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// ForceCloseAll synchronously runs closeFn for every still-live resource
// and logs a warning naming its creation site, rather than waiting for the
// garbage collector to discover the leak. Used by Connection.Close when
// iterators are still open.
func (t *Tracker) ForceCloseAll() {
	if t == nil {
		return
	}
	t.mu.Lock()
	entries := make(map[int64]entry, len(t.live))
	for id, e := range t.live {
		entries[id] = e
	}
	t.live = make(map[int64]entry)
	t.mu.Unlock()

	for _, e := range entries {
		log.Warn().
			Str("kind", e.site.Kind).
			Str("site", e.site.Stack).
			Msg("leaktrack: force-closing resource still open at connection close")
		e.closeFn()
	}
}

// StartSweep launches a background goroutine that periodically logs a
// summary of live resources at the configured interval, doubling the
// interval on each run up to the ceiling, per the "sweep interval starts at
// leak_collection_interval_ms and doubles up to a ceiling" behavior. Call
// StopSweep to stop it.
func (t *Tracker) StartSweep() {
	if t == nil || !t.enabled || t.sweepInterval <= 0 {
		return
	}
	if !t.sweeping.CompareAndSwap(false, true) {
		return
	}
	t.stopSweep = make(chan struct{})
	go t.sweepLoop()
}

func (t *Tracker) sweepLoop() {
	interval := t.sweepInterval
	for {
		select {
		case <-t.stopSweep:
			return
		case <-time.After(interval):
			if n := t.LiveCount(); n > 0 {
				log.Warn().Int("live", n).Msg(fmt.Sprintf("leaktrack: %d resource(s) still tracked", n))
			}
			interval *= 2
			if t.sweepCeiling > 0 && interval > t.sweepCeiling {
				interval = t.sweepCeiling
			}
		}
	}
}

// StopSweep stops the background sweep goroutine started by StartSweep.
// Idempotent.
func (t *Tracker) StopSweep() {
	if t == nil || !t.sweeping.CompareAndSwap(true, false) {
		return
	}
	close(t.stopSweep)
}
