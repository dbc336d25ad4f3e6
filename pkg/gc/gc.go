// Package gc drives old-space collections: it owns the phase machine
// around a marker and decides when to start, contribute to and finalize
// concurrent marking. All methods are called from the mutator.
package gc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vmcore/pkg/config"
	"vmcore/pkg/heap"
	"vmcore/pkg/marker"
)

// Phase of the old-space collector
type Phase int32

const (
	Done Phase = iota
	Marking
	AwaitingFinalization
	Sweeping
)

var phaseNames = [...]string{"done", "marking", "awaiting-finalization", "sweeping"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", p)
}

// Reason records why a collection ran
type Reason string

const (
	ReasonOldSpace Reason = "old-space"
	ReasonIdle     Reason = "idle"
	ReasonFinalize Reason = "finalize"
	ReasonExternal Reason = "external"
)

// Collector runs mark-sweep cycles on one heap
type Collector struct {
	heap *heap.Heap
	opts *config.Options
	log  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	phase  Phase
	marker *marker.Marker

	cycles    int
	lastMark  marker.Stats
	lastSweep heap.SweepResult
}

func New(h *heap.Heap, opts *config.Options) *Collector {
	if opts == nil {
		opts = config.Default()
	}
	c := &Collector{
		heap: h,
		opts: opts,
		log:  opts.Log().With("component", "gc"),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Collector) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Collector) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Cycles returns the number of completed collections
func (c *Collector) Cycles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycles
}

// LastMarkStats returns the marker statistics of the last cycle
func (c *Collector) LastMarkStats() marker.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMark
}

func (c *Collector) LastSweep() heap.SweepResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSweep
}

// StartConcurrentMarking begins a cycle whose marking overlaps the
// mutator. It does nothing unless the collector is idle. With concurrent
// marking disabled it runs a full collection instead.
func (c *Collector) StartConcurrentMarking(reason Reason) {
	if !c.opts.ConcurrentMark {
		c.CollectGarbage(reason)
		return
	}
	c.mu.Lock()
	if c.phase != Done {
		c.mu.Unlock()
		return
	}
	m := marker.New(c.heap, c.opts)
	m.OnConcurrentMarkDone = c.concurrentMarkDone
	c.marker = m
	c.phase = Marking
	c.mu.Unlock()

	c.log.Debug("start concurrent marking", "reason", reason)
	m.StartConcurrentMark()
}

func (c *Collector) concurrentMarkDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase == Marking {
		c.phase = AwaitingFinalization
		c.cond.Broadcast()
	}
}

// CheckConcurrentMarking is called on allocation. While marking, the
// mutator pays for size words of marking work; a finished concurrent mark
// is finalized; an idle collector starts marking once old space passes
// the soft threshold.
func (c *Collector) CheckConcurrentMarking(size int) {
	c.mu.Lock()
	phase, m := c.phase, c.marker
	c.mu.Unlock()

	switch phase {
	case Marking:
		m.IncrementalMarkWithSizeBudget(size)
	case Sweeping:
	case AwaitingFinalization:
		c.CollectGarbage(ReasonFinalize)
	case Done:
		if c.heap.ReachedHardThreshold() {
			c.CollectGarbage(ReasonOldSpace)
		} else if c.heap.ReachedSoftThreshold() {
			c.StartConcurrentMarking(ReasonOldSpace)
		}
	default:
		panic(fmt.Sprintf("gc: unexpected phase %v", phase))
	}
}

// NotifyIdle tells the collector the mutator is idle until deadline
func (c *Collector) NotifyIdle(deadline time.Time) {
	switch {
	case c.heap.ReachedHardThreshold():
		c.CollectGarbage(ReasonIdle)
	case c.heap.ReachedSoftThreshold():
		switch c.Phase() {
		case AwaitingFinalization:
			c.CollectGarbage(ReasonFinalize)
		case Done:
			c.StartConcurrentMarking(ReasonIdle)
		}
	}

	if !c.opts.MarkWhenIdle {
		return
	}
	c.mu.Lock()
	phase, m := c.phase, c.marker
	c.mu.Unlock()
	if phase == Marking {
		m.IncrementalMarkWithTimeBudget(deadline)
	}
}

// CollectGarbage runs a full collection, finalizing concurrent marking
// if a cycle is in progress
func (c *Collector) CollectGarbage(reason Reason) {
	start := time.Now()
	c.mu.Lock()
	for c.phase == Sweeping {
		c.cond.Wait()
	}
	m := c.marker
	if c.phase == Done {
		m = marker.New(c.heap, c.opts)
		c.marker = m
		c.phase = Marking
	}
	c.mu.Unlock()

	m.MarkObjects()
	c.setPhase(Sweeping)
	sweep := c.heap.Sweep()

	c.mu.Lock()
	c.phase = Done
	c.marker = nil
	c.cycles++
	c.lastMark = m.Stats()
	c.lastSweep = sweep
	c.cond.Broadcast()
	c.mu.Unlock()

	c.log.Info("collected",
		"reason", reason,
		"marked_words", c.lastMark.MarkedWords,
		"freed_objects", sweep.FreedObjects,
		"freed_words", sweep.FreedWords,
		"old_words", c.heap.UsedWords(heap.OldSpace),
		"duration", time.Since(start),
	)
}

// WaitForMarkerTasks blocks until concurrent marking has run out of work
// and then finalizes the cycle
func (c *Collector) WaitForMarkerTasks() {
	c.mu.Lock()
	for c.phase == Marking {
		c.cond.Wait()
	}
	phase := c.phase
	c.mu.Unlock()
	if phase == AwaitingFinalization {
		c.CollectGarbage(ReasonFinalize)
	}
}

// Scavenge collects new space with the world stopped. A live marker has
// its worklists and delayed weak objects rewritten for the result.
func (c *Collector) Scavenge() *heap.ScavengeResult {
	resume := c.heap.StopTheWorld()
	defer resume()
	res := c.heap.Scavenge()

	c.mu.Lock()
	phase, m := c.phase, c.marker
	c.mu.Unlock()
	if m != nil && (phase == Marking || phase == AwaitingFinalization) {
		m.PruneWeak(res)
	}
	return res
}
