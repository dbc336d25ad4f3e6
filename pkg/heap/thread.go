package heap

import (
	"sync"

	"github.com/RoaringBitmap/roaring"
)

// Thread is a mutator. Stores made through it maintain the remembered set
// and, while marking, the incremental barrier.
type Thread struct {
	heap *Heap

	mu sync.Mutex
	// tlab holds the ids of new-space objects allocated since marking
	// started. Stores into them skip the barrier.
	tlab *roaring.Bitmap
}

// NewThread attaches a mutator to the heap
func (h *Heap) NewThread() *Thread {
	t := &Thread{heap: h, tlab: roaring.New()}
	h.mu.Lock()
	h.threads = append(h.threads, t)
	h.mu.Unlock()
	return t
}

func (t *Thread) Heap() *Heap { return t.heap }

// ReleaseTLABs forgets every thread's barrier-free allocations. Called
// when marking starts and ends.
func (h *Heap) ReleaseTLABs() {
	h.mu.Lock()
	threads := append([]*Thread(nil), h.threads...)
	h.mu.Unlock()
	for _, t := range threads {
		t.mu.Lock()
		t.tlab.Clear()
		t.mu.Unlock()
	}
}

// Allocate creates an object with nil slots. While marking, old-space
// objects are allocated marked and new-space objects are marked and
// queued for a scan during finalization.
func (t *Thread) Allocate(kind Kind, space Space, slots int) *Object {
	o := t.heap.allocate(kind, space, slots)
	b := t.heap.currentBarrier()
	if b == nil {
		return o
	}
	o.TryAcquireMarkBit()
	if space == NewSpace {
		t.mu.Lock()
		t.tlab.Add(o.ID)
		t.mu.Unlock()
		b.PushTLABDeferred(o)
	}
	return o
}

// StorePointer writes v into slot i of o with the write barrier
func (t *Thread) StorePointer(o *Object, i int, v *Object) {
	o.setSlot(i, v)
	if v == nil {
		return
	}
	if o.IsOld() && v.IsNew() {
		t.heap.remember(o)
	}
	if b := t.heap.currentBarrier(); b != nil && v.TryAcquireMarkBit() {
		b.Push(v)
	}
}

// InitPointer writes v into slot i of o without the incremental barrier,
// as compiled code does for objects it has just allocated. An object
// that is neither in the thread's TLAB nor unmarked has possibly been
// scanned already and is deferred for a rescan.
func (t *Thread) InitPointer(o *Object, i int, v *Object) {
	o.setSlot(i, v)
	if v != nil && o.IsOld() && v.IsNew() {
		t.heap.remember(o)
	}
	b := t.heap.currentBarrier()
	if b == nil || !o.IsMarked() {
		return
	}
	t.mu.Lock()
	inTLAB := t.tlab.Contains(o.ID)
	t.mu.Unlock()
	if !inTLAB {
		b.PushDeferred(o)
	}
}
