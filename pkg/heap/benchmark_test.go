package heap

import "testing"

type nopBarrier struct{}

func (nopBarrier) Push(*Object)             {}
func (nopBarrier) PushTLABDeferred(*Object) {}
func (nopBarrier) PushDeferred(*Object)     {}

// ============ Allocation Benchmarks ============

func BenchmarkThread_AllocateOld(b *testing.B) {
	th := New(nil).NewThread()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		th.Allocate(KindArray, OldSpace, 2)
	}
}

func BenchmarkThread_AllocateWhileMarking(b *testing.B) {
	h := New(nil)
	h.SetBarrier(nopBarrier{})
	th := h.NewThread()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		th.Allocate(KindArray, NewSpace, 2)
	}
}

// ============ Write Barrier Benchmarks ============

func BenchmarkThread_StorePointer(b *testing.B) {
	th := New(nil).NewThread()
	src := th.Allocate(KindArray, OldSpace, 1)
	dst := th.Allocate(KindInstance, OldSpace, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		th.StorePointer(src, 0, dst)
	}
}

func BenchmarkThread_StorePointerMarking(b *testing.B) {
	h := New(nil)
	h.SetBarrier(nopBarrier{})
	th := h.NewThread()
	src := th.Allocate(KindArray, OldSpace, 1)
	dst := th.Allocate(KindInstance, OldSpace, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		th.StorePointer(src, 0, dst)
	}
}

func BenchmarkObject_TryAcquireMarkBit(b *testing.B) {
	o := New(nil).NewThread().Allocate(KindInstance, OldSpace, 0)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		o.TryAcquireMarkBit()
		o.ClearMarkBit()
	}
}

// ============ Collection Benchmarks ============

func BenchmarkHeap_Scavenge(b *testing.B) {
	h := New(nil)
	th := h.NewThread()
	root := th.Allocate(KindArray, OldSpace, 1)
	h.NewHandle(root)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		var prev *Object
		for j := 0; j < 1000; j++ {
			o := th.Allocate(KindArray, NewSpace, 1)
			if j%2 == 0 {
				th.InitPointer(o, 0, prev)
				prev = o
			}
		}
		th.StorePointer(root, 0, prev)
		b.StartTimer()
		resume := h.StopTheWorld()
		h.Scavenge()
		resume()
	}
}
