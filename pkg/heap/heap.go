package heap

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"

	"vmcore/pkg/config"
)

// MarkingBarrier receives the objects the mutator hands to an active
// marker
type MarkingBarrier interface {
	// Push queues an object whose mark bit the caller just acquired
	Push(o *Object)
	// PushTLABDeferred queues an object allocated during marking. It is
	// already marked and is scanned once during finalization.
	PushTLABDeferred(o *Object)
	// PushDeferred queues an object for rescanning during finalization
	// even though it may already be marked
	PushDeferred(o *Object)
}

// Heap owns every object of both generations
type Heap struct {
	opts *config.Options
	log  *slog.Logger

	// safepoint is held for reading by concurrent marker slices and for
	// writing by operations that need the world stopped
	safepoint sync.RWMutex

	mu         sync.Mutex
	nextID     uint32
	objects    map[uint32]*Object
	handles    []*Handle
	weak       []*WeakHandle
	tables     []*WeakTable
	remembered *roaring.Bitmap
	threads    []*Thread

	newWords atomic.Int64
	oldWords atomic.Int64

	barrier atomic.Pointer[barrierBox]
}

type barrierBox struct{ b MarkingBarrier }

// New creates an empty heap
func New(opts *config.Options) *Heap {
	if opts == nil {
		opts = config.Default()
	}
	return &Heap{
		opts:       opts,
		log:        opts.Log().With("component", "heap"),
		nextID:     1,
		objects:    make(map[uint32]*Object),
		remembered: roaring.New(),
	}
}

// StopTheWorld blocks until no marker slice is running and keeps them
// from starting until the returned function is called
func (h *Heap) StopTheWorld() (resume func()) {
	h.safepoint.Lock()
	return h.safepoint.Unlock
}

// EnterSafepointScope is used by concurrent marker slices
func (h *Heap) EnterSafepointScope() (leave func()) {
	h.safepoint.RLock()
	return h.safepoint.RUnlock
}

func (h *Heap) allocate(kind Kind, space Space, slots int) *Object {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	o := newObject(id, kind, space, slots)
	h.objects[id] = o
	h.mu.Unlock()
	if space == OldSpace {
		h.oldWords.Add(int64(o.SizeInWords()))
	} else {
		h.newWords.Add(int64(o.SizeInWords()))
	}
	return o
}

// Lookup returns the live object with the given id
func (h *Heap) Lookup(id uint32) *Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.objects[id]
}

// Contains reports whether o has not been freed
func (h *Heap) Contains(o *Object) bool {
	return o != nil && h.Lookup(o.ID) == o
}

func (h *Heap) ObjectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

func (h *Heap) UsedWords(space Space) int {
	if space == OldSpace {
		return int(h.oldWords.Load())
	}
	return int(h.newWords.Load())
}

// ReachedSoftThreshold reports whether old space has grown enough to
// start concurrent marking
func (h *Heap) ReachedSoftThreshold() bool {
	return h.opts.OldSpaceSoftLimitWords > 0 && h.UsedWords(OldSpace) >= h.opts.OldSpaceSoftLimitWords
}

// ReachedHardThreshold reports whether old space has grown enough to
// require a synchronous collection
func (h *Heap) ReachedHardThreshold() bool {
	return h.opts.OldSpaceHardLimitWords > 0 && h.UsedWords(OldSpace) >= h.opts.OldSpaceHardLimitWords
}

// SetBarrier installs the marker that receives barrier work. A nil
// barrier turns marking mode off.
func (h *Heap) SetBarrier(b MarkingBarrier) {
	if b == nil {
		h.barrier.Store(nil)
		return
	}
	h.barrier.Store(&barrierBox{b})
}

func (h *Heap) currentBarrier() MarkingBarrier {
	if box := h.barrier.Load(); box != nil {
		return box.b
	}
	return nil
}

// IsMarking reports whether a marker is installed
func (h *Heap) IsMarking() bool { return h.barrier.Load() != nil }

// VisitRoots calls fn for the target of every strong handle
func (h *Heap) VisitRoots(fn func(*Object)) {
	h.mu.Lock()
	handles := append([]*Handle(nil), h.handles...)
	h.mu.Unlock()
	for _, hd := range handles {
		if o := hd.Get(); o != nil {
			fn(o)
		}
	}
}

// VisitObjects calls fn for every live object in id order
func (h *Heap) VisitObjects(fn func(*Object)) {
	for _, o := range h.snapshot() {
		fn(o)
	}
}

func (h *Heap) snapshot() []*Object {
	h.mu.Lock()
	ids := roaring.New()
	for id := range h.objects {
		ids.Add(id)
	}
	objs := make([]*Object, 0, len(h.objects))
	for it := ids.Iterator(); it.HasNext(); {
		objs = append(objs, h.objects[it.Next()])
	}
	h.mu.Unlock()
	return objs
}

// remember records that old object o may hold a pointer into new space
func (h *Heap) remember(o *Object) {
	if !o.tryAcquireRememberedBit() {
		return
	}
	h.mu.Lock()
	h.remembered.Add(o.ID)
	h.mu.Unlock()
}

// RememberedSet returns the remembered objects in id order
func (h *Heap) RememberedSet() []*Object {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Object, 0, h.remembered.GetCardinality())
	for it := h.remembered.Iterator(); it.HasNext(); {
		if o := h.objects[it.Next()]; o != nil {
			out = append(out, o)
		}
	}
	return out
}

// PruneRememberedSet drops the entries for which live reports false
func (h *Heap) PruneRememberedSet(live func(*Object) bool) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	dead := roaring.New()
	for it := h.remembered.Iterator(); it.HasNext(); {
		id := it.Next()
		if o := h.objects[id]; o == nil || !live(o) {
			dead.Add(id)
			if o != nil {
				o.clearRememberedBit()
			}
		}
	}
	h.remembered.AndNot(dead)
	return int(dead.GetCardinality())
}

func (h *Heap) clearRememberedSet() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for it := h.remembered.Iterator(); it.HasNext(); {
		if o := h.objects[it.Next()]; o != nil {
			o.clearRememberedBit()
		}
	}
	h.remembered.Clear()
}

// free removes the objects for which dead reports true and returns the
// number of words released
func (h *Heap) free(dead func(*Object) bool) (objects, words int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, o := range h.objects {
		if !dead(o) {
			continue
		}
		delete(h.objects, id)
		h.remembered.Remove(id)
		objects++
		words += o.SizeInWords()
		if o.IsOld() {
			h.oldWords.Add(-int64(o.SizeInWords()))
		} else {
			h.newWords.Add(-int64(o.SizeInWords()))
		}
	}
	return objects, words
}

// SweepResult summarizes a sweep
type SweepResult struct {
	FreedObjects int
	FreedWords   int
}

// Sweep frees every unmarked object and clears the mark bits of the
// survivors. Marking must be complete.
func (h *Heap) Sweep() SweepResult {
	n, words := h.free(func(o *Object) bool { return !o.IsMarked() })
	h.VisitObjects(func(o *Object) { o.ClearMarkBit() })
	h.log.Debug("swept", "objects", n, "words", words)
	return SweepResult{FreedObjects: n, FreedWords: words}
}
