// Package marker implements the mark phase of the old-generation
// collector: block-based marking stacks shared by concurrent workers, per
// worker visitors, incremental contributions from the mutator and the
// final stop-the-world pass that processes weak objects.
package marker

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aclements/go-moremath/stats"
	"golang.org/x/sys/cpu"

	"vmcore/pkg/config"
	"vmcore/pkg/heap"
)

// concurrentSliceBytes bounds the work a concurrent task does between
// safepoint checks
const concurrentSliceBytes = 64 << 10

// Marker marks the objects reachable from the heap's roots. One Marker
// serves one collection cycle: it is created when marking starts and
// discarded after MarkObjects.
type Marker struct {
	heap *heap.Heap
	opts *config.Options
	log  *slog.Logger

	// Regular worklists, divided by generation so that a scavenge only
	// has to filter the new-space one.
	oldStack MarkingStack
	_        cpu.CacheLinePad
	newStack MarkingStack
	_        cpu.CacheLinePad
	// New-space objects allocated during marking. They are marked when
	// allocated and scanned once during finalization.
	tlabDeferredStack MarkingStack
	_                 cpu.CacheLinePad
	// Objects written without the barrier. Entries may repeat and are
	// scanned even when already marked.
	deferredStack MarkingStack
	_             cpu.CacheLinePad

	visitors []*MarkingVisitor
	// mutatorMu serializes the mutator's own contributions
	mutatorMu sync.Mutex
	mutator   *MarkingVisitor

	tasks   sync.WaitGroup
	running atomic.Int32
	// OnConcurrentMarkDone runs on the last concurrent task to finish
	OnConcurrentMarkDone func()

	started   bool
	finalized bool

	markedBytes  int64
	markedMicros int64
	scanned      int64
	throughput   stats.StreamStats
	weak         WeakStats
}

// WeakStats counts the weak objects cleared by one cycle
type WeakStats struct {
	WeakProperties int
	WeakReferences int
	WeakHandles    int
	WeakTableItems int
	RememberedSet  int
}

// Stats summarizes a finalized cycle
type Stats struct {
	MarkedWords   int64
	MarkedMicros  int64
	WordsPerMicro float64
	// Scanned counts objects visited, including deferred rescans
	Scanned int64
	Workers int
	// Per-worker throughput in words per microsecond
	WorkerMean   float64
	WorkerStdDev float64
	Weak         WeakStats
}

// New creates a marker for h. Nothing happens until StartConcurrentMark
// or MarkObjects is called.
func New(h *heap.Heap, opts *config.Options) *Marker {
	if opts == nil {
		opts = config.Default()
	}
	return &Marker{
		heap: h,
		opts: opts,
		log:  opts.Log().With("component", "marker"),
	}
}

// Push, PushTLABDeferred and PushDeferred receive barrier work from the
// mutator.

func (m *Marker) Push(o *heap.Object) {
	if o.IsOld() {
		m.oldStack.Push(o)
	} else {
		m.newStack.Push(o)
	}
}

func (m *Marker) PushTLABDeferred(o *heap.Object) { m.tlabDeferredStack.Push(o) }

func (m *Marker) PushDeferred(o *heap.Object) { m.deferredStack.Push(o) }

func (m *Marker) prologue() {
	if m.started {
		return
	}
	m.started = true
	tasks := m.opts.MarkerTasks
	if tasks < 1 {
		tasks = 1
	}
	m.visitors = make([]*MarkingVisitor, tasks)
	for i := range m.visitors {
		m.visitors[i] = newVisitor(i, m)
	}
	m.mutator = newVisitor(tasks, m)
	m.heap.ReleaseTLABs()
	m.heap.SetBarrier(m)
}

func (m *Marker) epilogue() {
	m.heap.SetBarrier(nil)
	m.heap.ReleaseTLABs()
	m.oldStack.Reset()
	m.newStack.Reset()
	m.tlabDeferredStack.Reset()
	m.deferredStack.Reset()
	m.finalized = true
}

func (m *Marker) markRoots(v *MarkingVisitor) {
	m.heap.VisitRoots(v.markObject)
	v.flush()
}

// StartConcurrentMark marks the roots with the world stopped, then starts
// MarkerTasks goroutines that drain the marking stacks while the mutator
// runs. MarkObjects must be called to finish the cycle. No other marking
// or sweeping may be in progress.
func (m *Marker) StartConcurrentMark() {
	m.prologue()
	resume := m.heap.StopTheWorld()
	m.markRoots(m.mutator)
	resume()

	m.running.Store(int32(len(m.visitors)))
	for _, v := range m.visitors {
		m.tasks.Add(1)
		go m.concurrentMarkTask(v)
	}
	m.log.Debug("concurrent marking started", "tasks", len(m.visitors))
}

func (m *Marker) concurrentMarkTask(v *MarkingVisitor) {
	defer m.tasks.Done()
	for {
		leave := m.heap.EnterSafepointScope()
		n := v.drainWithSizeBudget(concurrentSliceBytes)
		v.flush()
		leave()
		if n == 0 {
			break
		}
	}
	if m.running.Add(-1) == 0 && m.OnConcurrentMarkDone != nil {
		m.OnConcurrentMarkDone()
	}
}

// Wait blocks until the concurrent tasks have run out of work
func (m *Marker) Wait() { m.tasks.Wait() }

// IsConcurrentMarkRunning reports whether any concurrent task is still
// draining
func (m *Marker) IsConcurrentMarkRunning() bool { return m.running.Load() > 0 }

// IncrementalMarkWithUnlimitedBudget drains the marking stacks on the
// calling goroutine
func (m *Marker) IncrementalMarkWithUnlimitedBudget() {
	m.contribute(func(v *MarkingVisitor) int { return v.drain() })
}

// IncrementalMarkWithSizeBudget marks at least size words unless the
// stacks run dry first
func (m *Marker) IncrementalMarkWithSizeBudget(size int) {
	if size <= 0 {
		return
	}
	m.contribute(func(v *MarkingVisitor) int { return v.drainWithSizeBudget(size * heap.WordSize) })
}

// IncrementalMarkWithTimeBudget marks until deadline or until the stacks
// run dry. The deadline bounds this call only.
func (m *Marker) IncrementalMarkWithTimeBudget(deadline time.Time) {
	if !time.Now().Before(deadline) {
		return
	}
	m.contribute(func(v *MarkingVisitor) int { return v.drainUntil(deadline) })
}

func (m *Marker) contribute(work func(*MarkingVisitor) int) {
	m.prologue()
	m.mutatorMu.Lock()
	defer m.mutatorMu.Unlock()
	n := work(m.mutator)
	m.mutator.flush()
	if m.opts.TraceMarker {
		m.log.Debug("incremental marking", "bytes", n)
	}
}

// MarkObjects finishes the cycle: it waits for concurrent tasks, stops
// the world, marks the roots again, drains every stack to a fixed point
// and then clears or finalizes the weak objects whose referents were not
// marked. It can be called without StartConcurrentMark for a fully
// stop-the-world collection.
func (m *Marker) MarkObjects() {
	m.prologue()
	m.tasks.Wait()
	resume := m.heap.StopTheWorld()
	defer resume()

	m.mutatorMu.Lock()
	defer m.mutatorMu.Unlock()

	start := time.Now()
	m.markRoots(m.mutator)
	m.mutator.processTLABDeferred(&m.tlabDeferredStack)
	m.mutator.processDeferred()
	m.mutator.flush()
	m.drainToFixpoint()

	for _, v := range m.allVisitors() {
		m.weak.WeakProperties += v.mournWeakProperties()
		m.weak.WeakReferences += v.mournWeakReferences()
	}
	m.iterateWeakRoots()
	m.processRememberedSet()

	m.finalizeResults(time.Since(start))
	m.epilogue()
}

func (m *Marker) allVisitors() []*MarkingVisitor {
	return append(append([]*MarkingVisitor(nil), m.visitors...), m.mutator)
}

// drainToFixpoint drains in parallel and then retries delayed weak
// properties, whose values may only now be reachable, until nothing new
// gets marked
func (m *Marker) drainToFixpoint() {
	for {
		m.parallelDrain()
		more := false
		for _, v := range m.allVisitors() {
			if v.processDelayedWeakProperties() {
				more = true
			}
			v.flush()
		}
		if !more {
			return
		}
	}
}

func (m *Marker) parallelDrain() {
	if len(m.visitors) == 1 {
		m.mutator.drain()
		return
	}
	var wg sync.WaitGroup
	for _, v := range m.visitors {
		wg.Add(1)
		go func(v *MarkingVisitor) {
			defer wg.Done()
			v.drain()
			v.flush()
		}(v)
	}
	wg.Wait()
}

func (m *Marker) iterateWeakRoots() {
	live := (*heap.Object).IsMarked
	m.weak.WeakHandles += m.heap.ProcessWeakHandles(live)
	m.weak.WeakTableItems += m.heap.ProcessWeakTables(live)
}

// processRememberedSet drops remembered objects that are about to be
// swept
func (m *Marker) processRememberedSet() {
	m.weak.RememberedSet += m.heap.PruneRememberedSet((*heap.Object).IsMarked)
}

func (m *Marker) finalizeResults(pause time.Duration) {
	for _, v := range m.allVisitors() {
		m.finalizeResultsFrom(v)
	}
	st := m.Stats()
	m.log.Info("marking finalized",
		"marked_words", st.MarkedWords,
		"marked_micros", st.MarkedMicros,
		"words_per_micro", st.WordsPerMicro,
		"scanned", st.Scanned,
		"worker_mean", st.WorkerMean,
		"worker_stddev", st.WorkerStdDev,
		"pause", pause,
	)
	if m.opts.TraceMarker {
		m.log.Debug("weak objects cleared",
			"weak_properties", st.Weak.WeakProperties,
			"weak_references", st.Weak.WeakReferences,
			"weak_handles", st.Weak.WeakHandles,
			"weak_table_items", st.Weak.WeakTableItems,
			"remembered", st.Weak.RememberedSet,
		)
	}
}

func (m *Marker) finalizeResultsFrom(v *MarkingVisitor) {
	m.markedBytes += v.markedBytes
	m.markedMicros += v.markedMicros
	m.scanned += v.scanned
	if v.markedMicros > 0 {
		m.throughput.Add(float64(v.markedBytes/heap.WordSize) / float64(v.markedMicros))
	}
	v.markedBytes, v.markedMicros, v.scanned = 0, 0, 0
}

// MarkedWords is valid after MarkObjects
func (m *Marker) MarkedWords() int64 { return m.markedBytes / heap.WordSize }

// MarkedWordsPerMicro is valid after MarkObjects
func (m *Marker) MarkedWordsPerMicro() float64 {
	micros := m.markedMicros
	if micros < 1 {
		micros = 1
	}
	return float64(m.MarkedWords()) / float64(micros)
}

func (m *Marker) Stats() Stats {
	st := Stats{
		MarkedWords:   m.MarkedWords(),
		MarkedMicros:  m.markedMicros,
		WordsPerMicro: m.MarkedWordsPerMicro(),
		Scanned:       m.scanned,
		Workers:       len(m.visitors),
		Weak:          m.weak,
	}
	if m.throughput.Count > 0 {
		st.WorkerMean = m.throughput.Mean()
	}
	if m.throughput.Count > 1 {
		st.WorkerStdDev = m.throughput.StdDev()
	}
	return st
}

func (m *Marker) Finalized() bool { return m.finalized }

// PruneWeak rewrites the marker's worklists after a scavenge: entries for
// dead new-space objects are dropped and promoted objects move to the
// old-space stack. The world must be stopped and MarkObjects not yet
// called.
func (m *Marker) PruneWeak(s heap.Scavenger) {
	m.mutatorMu.Lock()
	defer m.mutatorMu.Unlock()
	promote := func(o *heap.Object) (*heap.Object, *MarkingStack) {
		f := s.Forward(o)
		if f != nil && f.IsOld() {
			return f, &m.oldStack
		}
		return f, nil
	}
	m.newStack.Filter(promote)
	m.tlabDeferredStack.Filter(promote)
	m.deferredStack.Filter(func(o *heap.Object) (*heap.Object, *MarkingStack) {
		return s.Forward(o), nil
	})
	for _, v := range m.allVisitors() {
		v.pruneWeak(s)
	}
}
