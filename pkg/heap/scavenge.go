package heap

import (
	"github.com/RoaringBitmap/roaring"
)

// Scavenger reports where a new-space object ended up after a minor
// collection
type Scavenger interface {
	// Forward returns the surviving object for o, or nil if o died.
	// Objects that were not in new space are returned unchanged.
	Forward(o *Object) *Object
}

// ScavengeResult describes a finished scavenge
type ScavengeResult struct {
	dead     *roaring.Bitmap
	Promoted int
	Freed    int
}

func (r *ScavengeResult) Forward(o *Object) *Object {
	if o == nil || r.dead.Contains(o.ID) {
		return nil
	}
	return o
}

// Scavenge collects new space. Survivors reachable from roots and the
// remembered set are promoted to old space; all other new-space objects
// are freed and weak handles and weak table entries pointing at them are
// cleared. Thread TLABs are released. The caller must have stopped the
// world.
func (h *Heap) Scavenge() *ScavengeResult {
	all := h.snapshot()
	live := roaring.New()
	var stack []*Object
	visit := func(o *Object) {
		if o.IsNew() && live.CheckedAdd(o.ID) {
			stack = append(stack, o)
		}
	}
	h.VisitRoots(visit)
	for _, o := range h.RememberedSet() {
		o.VisitSlots(visit)
	}
	for len(stack) > 0 {
		o := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		o.VisitSlots(visit)
	}

	res := &ScavengeResult{dead: roaring.New()}
	for _, o := range all {
		if !o.IsNew() {
			continue
		}
		if live.Contains(o.ID) {
			o.space.Store(uint32(OldSpace))
			h.newWords.Add(-int64(o.SizeInWords()))
			h.oldWords.Add(int64(o.SizeInWords()))
			res.Promoted++
			continue
		}
		res.dead.Add(o.ID)
	}
	survives := func(o *Object) bool { return !res.dead.Contains(o.ID) }
	h.ProcessWeakHandles(survives)
	h.ProcessWeakTables(survives)
	res.Freed, _ = h.free(func(o *Object) bool { return res.dead.Contains(o.ID) })
	// Every survivor is old now, so none of them may skip the deferred
	// rescan in InitPointer.
	h.clearRememberedSet()
	h.ReleaseTLABs()
	h.log.Debug("scavenged", "promoted", res.Promoted, "freed", res.Freed)
	return res
}
