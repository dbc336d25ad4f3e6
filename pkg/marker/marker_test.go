package marker_test

import (
	"math/rand"
	"testing"

	"vmcore/pkg/config"
	"vmcore/pkg/heap"
	"vmcore/pkg/marker"
)

func testOptions(tasks int) *config.Options {
	opts := config.Default()
	opts.MarkerTasks = tasks
	return opts
}

// randomGraph builds n objects with random edges. The first roots
// objects are rooted; everything reachable from them is returned.
func randomGraph(t *testing.T, h *heap.Heap, n, roots int, seed int64) (all []*heap.Object, reachable map[uint32]*heap.Object) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	th := h.NewThread()
	all = make([]*heap.Object, n)
	for i := range all {
		space := heap.OldSpace
		if rng.Intn(4) == 0 {
			space = heap.NewSpace
		}
		all[i] = th.Allocate(heap.KindArray, space, 1+rng.Intn(4))
	}
	for _, o := range all {
		for i := 0; i < o.NumSlots(); i++ {
			if rng.Intn(3) > 0 {
				th.StorePointer(o, i, all[rng.Intn(n)])
			}
		}
	}
	for _, o := range all[:roots] {
		h.NewHandle(o)
	}
	reachable = make(map[uint32]*heap.Object)
	var walk func(*heap.Object)
	walk = func(o *heap.Object) {
		if reachable[o.ID] != nil {
			return
		}
		reachable[o.ID] = o
		o.VisitSlots(walk)
	}
	for _, o := range all[:roots] {
		walk(o)
	}
	return all, reachable
}

func checkMarks(t *testing.T, all []*heap.Object, reachable map[uint32]*heap.Object) {
	t.Helper()
	for _, o := range all {
		_, want := reachable[o.ID]
		if o.IsMarked() != want {
			t.Errorf("%v marked = %v, want %v", o, o.IsMarked(), want)
		}
	}
}

func sizeInWords(objs map[uint32]*heap.Object) int64 {
	var n int64
	for _, o := range objs {
		n += int64(o.SizeInWords())
	}
	return n
}

func TestMarkObjectsStopTheWorld(t *testing.T) {
	for _, tasks := range []int{1, 4} {
		h := heap.New(nil)
		all, reachable := randomGraph(t, h, 2000, 5, 1)
		m := marker.New(h, testOptions(tasks))
		m.MarkObjects()

		checkMarks(t, all, reachable)
		st := m.Stats()
		if st.MarkedWords != sizeInWords(reachable) {
			t.Errorf("tasks=%d: marked %d words, want %d", tasks, st.MarkedWords, sizeInWords(reachable))
		}
		if st.Scanned != int64(len(reachable)) {
			t.Errorf("tasks=%d: scanned %d objects, want each of the %d reachable ones once", tasks, st.Scanned, len(reachable))
		}
		if h.IsMarking() {
			t.Error("barrier still installed after MarkObjects")
		}
	}
}

func TestConcurrentMarkMarksOnce(t *testing.T) {
	h := heap.New(nil)
	all, reachable := randomGraph(t, h, 20000, 20, 7)
	m := marker.New(h, testOptions(4))
	done := make(chan struct{})
	m.OnConcurrentMarkDone = func() { close(done) }

	m.StartConcurrentMark()
	<-done
	m.MarkObjects()

	checkMarks(t, all, reachable)
	st := m.Stats()
	if st.MarkedWords != sizeInWords(reachable) {
		t.Errorf("marked %d words, want %d", st.MarkedWords, sizeInWords(reachable))
	}
	if st.Scanned != int64(len(reachable)) {
		t.Errorf("scanned %d objects, want %d", st.Scanned, len(reachable))
	}
	if st.Workers != 4 {
		t.Errorf("Workers = %d", st.Workers)
	}
}

func TestWriteBarrierDuringConcurrentMark(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	a := th.Allocate(heap.KindInstance, heap.OldSpace, 1)
	c := th.Allocate(heap.KindInstance, heap.OldSpace, 0)
	h.NewHandle(a)

	m := marker.New(h, testOptions(2))
	m.StartConcurrentMark()
	m.Wait()
	if !a.IsMarked() || c.IsMarked() {
		t.Fatal("unexpected marks after concurrent marking")
	}

	// a has been scanned already; only the barrier can find c now.
	th.StorePointer(a, 0, c)
	if !c.IsMarked() {
		t.Error("barrier did not mark the stored object")
	}

	m.MarkObjects()
	h.Sweep()
	if !h.Contains(c) {
		t.Error("object stored behind a scanned object was swept")
	}
}

func TestAllocationDuringMarking(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	root := th.Allocate(heap.KindInstance, heap.OldSpace, 1)
	h.NewHandle(root)
	child := th.Allocate(heap.KindInstance, heap.OldSpace, 0)

	m := marker.New(h, testOptions(1))
	m.StartConcurrentMark()
	m.Wait()

	old := th.Allocate(heap.KindInstance, heap.OldSpace, 0)
	if !old.IsMarked() {
		t.Error("old-space allocation during marking should be black")
	}
	young := th.Allocate(heap.KindInstance, heap.NewSpace, 1)
	if !young.IsMarked() {
		t.Error("new-space allocation during marking should be marked")
	}
	th.InitPointer(young, 0, child)
	th.StorePointer(root, 0, young)

	m.MarkObjects()
	if !child.IsMarked() {
		t.Error("object stored without a barrier into a fresh allocation was not marked")
	}
}

func TestInitPointerDefersScannedObject(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	root := th.Allocate(heap.KindInstance, heap.OldSpace, 1)
	h.NewHandle(root)
	hidden := th.Allocate(heap.KindInstance, heap.OldSpace, 0)

	m := marker.New(h, testOptions(1))
	m.StartConcurrentMark()
	m.Wait()
	if !root.IsMarked() || hidden.IsMarked() {
		t.Fatal("unexpected marks before the barrier-free store")
	}
	th.InitPointer(root, 0, hidden)
	m.MarkObjects()
	if !hidden.IsMarked() {
		t.Error("deferred object was not rescanned")
	}
	if st := m.Stats(); st.Scanned != 3 {
		t.Errorf("scanned %d, want root twice and hidden once", st.Scanned)
	}
}

func TestWeakProperties(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	newProp := func(key, value *heap.Object) *heap.Object {
		p := th.Allocate(heap.KindWeakProperty, heap.OldSpace, 0)
		th.StorePointer(p, heap.WeakPropertyKey, key)
		th.StorePointer(p, heap.WeakPropertyValue, value)
		return p
	}
	obj := func() *heap.Object { return th.Allocate(heap.KindInstance, heap.OldSpace, 0) }

	k1, v1, v2, dead, v3 := obj(), obj(), obj(), obj(), obj()
	p1 := newProp(k1, v1)
	p2 := newProp(v1, v2)
	p3 := newProp(dead, v3)
	holder := th.Allocate(heap.KindArray, heap.OldSpace, 3)
	th.StorePointer(holder, 0, p1)
	th.StorePointer(holder, 1, p3)
	// Scanned first, before v1 is known to be live.
	th.StorePointer(holder, 2, p2)
	h.NewHandle(holder)
	h.NewHandle(k1)

	m := marker.New(h, testOptions(1))
	m.MarkObjects()

	for _, o := range []*heap.Object{k1, v1, v2} {
		if !o.IsMarked() {
			t.Errorf("%v should be kept alive through its live key", o)
		}
	}
	if dead.IsMarked() || v3.IsMarked() {
		t.Error("entry with a dead key kept its key or value alive")
	}
	if p3.Slot(heap.WeakPropertyKey) != nil || p3.Slot(heap.WeakPropertyValue) != nil {
		t.Error("weak property with a dead key was not cleared")
	}
	if p2.Slot(heap.WeakPropertyKey) != v1 {
		t.Error("weak property with a live key was cleared")
	}
	if got := m.Stats().Weak.WeakProperties; got != 1 {
		t.Errorf("cleared %d weak properties, want 1", got)
	}
}

func TestWeakReferenceCleared(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	live := th.Allocate(heap.KindInstance, heap.OldSpace, 0)
	dead := th.Allocate(heap.KindInstance, heap.OldSpace, 0)
	r1 := th.Allocate(heap.KindWeakReference, heap.OldSpace, 0)
	r2 := th.Allocate(heap.KindWeakReference, heap.OldSpace, 0)
	th.StorePointer(r1, heap.WeakReferenceTarget, live)
	th.StorePointer(r2, heap.WeakReferenceTarget, dead)
	for _, o := range []*heap.Object{live, r1, r2} {
		h.NewHandle(o)
	}

	marker.New(h, testOptions(2)).MarkObjects()
	if r1.Slot(heap.WeakReferenceTarget) != live {
		t.Error("reference to a live target was cleared")
	}
	if r2.Slot(heap.WeakReferenceTarget) != nil {
		t.Error("reference to a dead target survived")
	}
	if dead.IsMarked() {
		t.Error("weak reference kept its target alive")
	}
}

func TestWeakHandleCallbackRunsOnce(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	target := th.Allocate(heap.KindInstance, heap.OldSpace, 0)
	calls := 0
	wh := h.NewWeakHandle(target, "peer", func(wh *heap.WeakHandle) {
		calls++
		if wh.Peer != "peer" {
			t.Errorf("callback got peer %v", wh.Peer)
		}
	})

	for cycle := 0; cycle < 2; cycle++ {
		marker.New(h, testOptions(1)).MarkObjects()
		h.Sweep()
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if wh.Target() != nil {
		t.Error("weak handle was not cleared")
	}
}

func TestWeakTableFinalizedExactlyOnce(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	liveKey := th.Allocate(heap.KindInstance, heap.OldSpace, 0)
	deadKey := th.Allocate(heap.KindInstance, heap.NewSpace, 0)
	hk := h.NewHandle(liveKey)

	finalized := make(map[uint32]int)
	table := h.NewWeakTable(func(key uint32, value any) {
		finalized[key]++
		if value != key*10 {
			t.Errorf("finalizer for #%d got %v", key, value)
		}
	})
	table.Set(liveKey, liveKey.ID*10)
	table.Set(deadKey, deadKey.ID*10)

	cycle := func() {
		m := marker.New(h, testOptions(2))
		m.StartConcurrentMark()
		m.MarkObjects()
		h.Sweep()
	}

	cycle()
	if finalized[deadKey.ID] != 1 || finalized[liveKey.ID] != 0 {
		t.Fatalf("after first cycle finalized = %v", finalized)
	}
	if table.Len() != 1 {
		t.Errorf("table holds %d entries, want 1", table.Len())
	}
	if _, ok := table.Get(liveKey); !ok {
		t.Error("live entry was removed")
	}

	cycle()
	if finalized[deadKey.ID] != 1 {
		t.Errorf("dead entry finalized %d times", finalized[deadKey.ID])
	}

	h.DeleteHandle(hk)
	cycle()
	if finalized[liveKey.ID] != 1 {
		t.Errorf("released key finalized %d times, want 1", finalized[liveKey.ID])
	}
	if table.Len() != 0 {
		t.Errorf("table still holds %d entries", table.Len())
	}
}

func TestRememberedSetPruned(t *testing.T) {
	h := heap.New(nil)
	th := h.NewThread()
	garbage := th.Allocate(heap.KindInstance, heap.OldSpace, 1)
	holder := th.Allocate(heap.KindInstance, heap.OldSpace, 1)
	young := th.Allocate(heap.KindInstance, heap.NewSpace, 0)
	th.StorePointer(garbage, 0, young)
	th.StorePointer(holder, 0, young)
	h.NewHandle(holder)
	if n := len(h.RememberedSet()); n != 2 {
		t.Fatalf("remembered set has %d entries, want 2", n)
	}

	m := marker.New(h, testOptions(1))
	m.MarkObjects()
	rs := h.RememberedSet()
	if len(rs) != 1 || rs[0] != holder {
		t.Errorf("remembered set = %v, want only the live holder", rs)
	}
	if m.Stats().Weak.RememberedSet != 1 {
		t.Errorf("pruned %d remembered objects", m.Stats().Weak.RememberedSet)
	}
}

func TestMarkedWordsPerMicro(t *testing.T) {
	h := heap.New(nil)
	randomGraph(t, h, 500, 3, 3)
	m := marker.New(h, testOptions(1))
	m.MarkObjects()
	if m.MarkedWords() == 0 {
		t.Fatal("nothing marked")
	}
	if m.MarkedWordsPerMicro() <= 0 {
		t.Errorf("MarkedWordsPerMicro = %v", m.MarkedWordsPerMicro())
	}
	if !m.Finalized() {
		t.Error("marker not finalized")
	}
}
