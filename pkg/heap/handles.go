package heap

import (
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring"
)

// Handle is a strong root
type Handle struct {
	obj atomic.Pointer[Object]
}

func (hd *Handle) Get() *Object { return hd.obj.Load() }

// Set replaces the handle's target. Storing into a root while marking
// marks the new target, since roots are not rescanned before
// finalization.
func (h *Heap) SetHandle(hd *Handle, o *Object) {
	hd.obj.Store(o)
	if o != nil {
		if b := h.currentBarrier(); b != nil && o.TryAcquireMarkBit() {
			b.Push(o)
		}
	}
}

// NewHandle creates a strong root for o
func (h *Heap) NewHandle(o *Object) *Handle {
	hd := &Handle{}
	h.SetHandle(hd, o)
	h.mu.Lock()
	h.handles = append(h.handles, hd)
	h.mu.Unlock()
	return hd
}

// DeleteHandle removes a root
func (h *Heap) DeleteHandle(hd *Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, x := range h.handles {
		if x == hd {
			h.handles = append(h.handles[:i], h.handles[i+1:]...)
			return
		}
	}
}

// WeakHandle refers to an object without keeping it alive. When the
// target dies the handle is cleared and its callback runs once.
type WeakHandle struct {
	target   atomic.Pointer[Object]
	callback func(*WeakHandle)
	Peer     any
}

func (wh *WeakHandle) Target() *Object { return wh.target.Load() }

// NewWeakHandle creates a weak handle. callback may be nil.
func (h *Heap) NewWeakHandle(o *Object, peer any, callback func(*WeakHandle)) *WeakHandle {
	wh := &WeakHandle{callback: callback, Peer: peer}
	wh.target.Store(o)
	h.mu.Lock()
	h.weak = append(h.weak, wh)
	h.mu.Unlock()
	return wh
}

// ProcessWeakHandles clears the handles whose target is not live, drops
// them from the heap and runs their callbacks. It returns the number of
// handles cleared.
func (h *Heap) ProcessWeakHandles(live func(*Object) bool) int {
	h.mu.Lock()
	var cleared []*WeakHandle
	kept := h.weak[:0]
	for _, wh := range h.weak {
		if o := wh.Target(); o != nil && !live(o) {
			wh.target.Store(nil)
			cleared = append(cleared, wh)
			continue
		}
		kept = append(kept, wh)
	}
	for i := len(kept); i < len(h.weak); i++ {
		h.weak[i] = nil
	}
	h.weak = kept
	h.mu.Unlock()

	for _, wh := range cleared {
		if wh.callback != nil {
			wh.callback(wh)
		}
	}
	return len(cleared)
}

// WeakTable associates values with objects without keeping the objects
// alive. The finalizer runs once for every entry whose key dies.
type WeakTable struct {
	mu       sync.Mutex
	keys     *roaring.Bitmap
	entries  map[uint32]weakEntry
	finalize func(key uint32, value any)
}

type weakEntry struct {
	key   *Object
	value any
}

// NewWeakTable registers a weak table. finalize may be nil.
func (h *Heap) NewWeakTable(finalize func(key uint32, value any)) *WeakTable {
	t := &WeakTable{keys: roaring.New(), entries: make(map[uint32]weakEntry), finalize: finalize}
	h.mu.Lock()
	h.tables = append(h.tables, t)
	h.mu.Unlock()
	return t
}

func (t *WeakTable) Set(key *Object, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.keys.Add(key.ID)
	t.entries[key.ID] = weakEntry{key: key, value: value}
}

func (t *WeakTable) Get(key *Object) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key.ID]
	if !ok || e.key != key {
		return nil, false
	}
	return e.value, true
}

func (t *WeakTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// prune removes the entries whose key is not live and returns them in
// key order
func (t *WeakTable) prune(live func(*Object) bool) []weakEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dead []weakEntry
	for it := t.keys.Iterator(); it.HasNext(); {
		id := it.Next()
		if e := t.entries[id]; !live(e.key) {
			dead = append(dead, e)
		}
	}
	for _, e := range dead {
		t.keys.Remove(e.key.ID)
		delete(t.entries, e.key.ID)
	}
	return dead
}

// ProcessWeakTables finalizes the entries of every weak table whose key
// is not live. It returns the number of entries finalized.
func (h *Heap) ProcessWeakTables(live func(*Object) bool) int {
	h.mu.Lock()
	tables := append([]*WeakTable(nil), h.tables...)
	h.mu.Unlock()
	n := 0
	for _, t := range tables {
		for _, e := range t.prune(live) {
			n++
			if t.finalize != nil {
				t.finalize(e.key.ID, e.value)
			}
		}
	}
	return n
}
