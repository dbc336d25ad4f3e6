package marker

import (
	"time"

	"golang.org/x/sys/cpu"

	"vmcore/pkg/heap"
)

// deadlineCheckInterval is how many objects are scanned between clock
// reads when marking against a deadline
const deadlineCheckInterval = 256

// MarkingVisitor is one worker's marking state. A visitor is used by a
// single goroutine at a time.
type MarkingVisitor struct {
	id       int
	old      WorkList
	new      WorkList
	deferred WorkList

	// Weak objects whose referent was unmarked when they were scanned
	delayedWeakProperties []*heap.Object
	delayedWeakReferences []*heap.Object

	// Counters are written by the owning worker on every scan. The pads
	// keep neighbouring visitors off their cache lines.
	_            cpu.CacheLinePad
	markedBytes  int64
	markedMicros int64
	// scanned counts objects taken off a worklist, including rescans
	scanned int64
	_       cpu.CacheLinePad
}

func newVisitor(id int, m *Marker) *MarkingVisitor {
	v := &MarkingVisitor{id: id}
	v.old.Init(&m.oldStack)
	v.new.Init(&m.newStack)
	v.deferred.Init(&m.deferredStack)
	return v
}

// markObject acquires o's mark bit and queues it when this visitor won
func (v *MarkingVisitor) markObject(o *heap.Object) {
	if o == nil || !o.TryAcquireMarkBit() {
		return
	}
	v.push(o)
}

func (v *MarkingVisitor) push(o *heap.Object) {
	if o.IsOld() {
		v.old.Push(o)
	} else {
		v.new.Push(o)
	}
}

// scan visits o's slots and returns its size in bytes
func (v *MarkingVisitor) scan(o *heap.Object) int {
	v.scanned++
	switch o.Kind {
	case heap.KindWeakProperty:
		key := o.Slot(heap.WeakPropertyKey)
		if key == nil || key.IsMarked() {
			v.markObject(o.Slot(heap.WeakPropertyValue))
		} else {
			v.delayedWeakProperties = append(v.delayedWeakProperties, o)
		}
	case heap.KindWeakReference:
		if t := o.Slot(heap.WeakReferenceTarget); t != nil && !t.IsMarked() {
			v.delayedWeakReferences = append(v.delayedWeakReferences, o)
		}
	default:
		o.VisitSlots(v.markObject)
	}
	return o.SizeInBytes()
}

func (v *MarkingVisitor) pop() (*heap.Object, bool) {
	if o, ok := v.old.Pop(); ok {
		return o, true
	}
	return v.new.Pop()
}

// drain processes objects until every worklist it can reach is empty.
// It returns the number of bytes marked.
func (v *MarkingVisitor) drain() int {
	start := time.Now()
	total := 0
	for {
		o, ok := v.pop()
		if !ok {
			break
		}
		total += v.scan(o)
	}
	v.account(total, start)
	return total
}

// drainWithSizeBudget stops once at least budget bytes were marked
func (v *MarkingVisitor) drainWithSizeBudget(budget int) int {
	start := time.Now()
	total := 0
	for total < budget {
		o, ok := v.pop()
		if !ok {
			break
		}
		total += v.scan(o)
	}
	v.account(total, start)
	return total
}

// drainUntil stops at the deadline
func (v *MarkingVisitor) drainUntil(deadline time.Time) int {
	start := time.Now()
	total := 0
	for n := 0; ; n++ {
		if n%deadlineCheckInterval == 0 && n > 0 && !time.Now().Before(deadline) {
			break
		}
		o, ok := v.pop()
		if !ok {
			break
		}
		total += v.scan(o)
	}
	v.account(total, start)
	return total
}

func (v *MarkingVisitor) account(bytes int, start time.Time) {
	v.markedBytes += int64(bytes)
	v.markedMicros += time.Since(start).Microseconds()
}

// processDeferred scans every object on the deferred stack whether or
// not it is already marked
func (v *MarkingVisitor) processDeferred() int {
	total := 0
	for {
		o, ok := v.deferred.Pop()
		if !ok {
			break
		}
		if o.TryAcquireMarkBit() {
			total += v.scan(o)
		} else {
			v.scan(o)
		}
	}
	v.markedBytes += int64(total)
	return total
}

// processTLABDeferred scans objects that were allocated marked during
// concurrent marking
func (v *MarkingVisitor) processTLABDeferred(s *MarkingStack) {
	for b := s.PopNonEmptyBlock(); b != nil; b = s.PopNonEmptyBlock() {
		for !b.IsEmpty() {
			v.markedBytes += int64(v.scan(b.Pop()))
		}
		releaseBlock(b)
	}
}

// processDelayedWeakProperties marks the values of delayed weak
// properties whose key has since been marked. It reports whether any
// value was marked.
func (v *MarkingVisitor) processDelayedWeakProperties() bool {
	marked := false
	pending := v.delayedWeakProperties[:0]
	for _, p := range v.delayedWeakProperties {
		if key := p.Slot(heap.WeakPropertyKey); key == nil || key.IsMarked() {
			v.markObject(p.Slot(heap.WeakPropertyValue))
			marked = true
			continue
		}
		pending = append(pending, p)
	}
	for i := len(pending); i < len(v.delayedWeakProperties); i++ {
		v.delayedWeakProperties[i] = nil
	}
	v.delayedWeakProperties = pending
	return marked
}

// mournWeakProperties clears the weak properties whose key died
func (v *MarkingVisitor) mournWeakProperties() int {
	n := 0
	for _, p := range v.delayedWeakProperties {
		if key := p.Slot(heap.WeakPropertyKey); key != nil && !key.IsMarked() {
			p.ClearSlot(heap.WeakPropertyKey)
			p.ClearSlot(heap.WeakPropertyValue)
			n++
		}
	}
	v.delayedWeakProperties = nil
	return n
}

// mournWeakReferences clears the weak references whose target died
func (v *MarkingVisitor) mournWeakReferences() int {
	n := 0
	for _, r := range v.delayedWeakReferences {
		if t := r.Slot(heap.WeakReferenceTarget); t != nil && !t.IsMarked() {
			r.ClearSlot(heap.WeakReferenceTarget)
			n++
		}
	}
	v.delayedWeakReferences = nil
	return n
}

// pruneWeak rewrites the delayed weak lists after a scavenge
func (v *MarkingVisitor) pruneWeak(s heap.Scavenger) {
	v.delayedWeakProperties = forwardAll(v.delayedWeakProperties, s)
	v.delayedWeakReferences = forwardAll(v.delayedWeakReferences, s)
}

func forwardAll(objs []*heap.Object, s heap.Scavenger) []*heap.Object {
	kept := objs[:0]
	for _, o := range objs {
		if f := s.Forward(o); f != nil {
			kept = append(kept, f)
		}
	}
	for i := len(kept); i < len(objs); i++ {
		objs[i] = nil
	}
	return kept
}

func (v *MarkingVisitor) flush() {
	v.old.Flush()
	v.new.Flush()
	v.deferred.Flush()
}
