// Package heap models a two-generation object heap for the marker: objects
// with atomic header bits and pointer slots, roots, weak handles, weak
// tables, the remembered set and the mutator write barrier.
package heap

import (
	"fmt"
	"sync/atomic"
)

// Space is the generation an object lives in
type Space uint32

const (
	NewSpace Space = iota
	OldSpace
)

func (s Space) String() string {
	if s == OldSpace {
		return "old"
	}
	return "new"
}

// Kind selects how the marker visits an object's slots
type Kind uint8

const (
	KindInstance Kind = iota
	KindArray
	// KindWeakProperty holds a key and a value. The value is kept alive
	// only while the key is.
	KindWeakProperty
	// KindWeakReference holds a target that does not keep it alive
	KindWeakReference
)

var kindNames = [...]string{"instance", "array", "weak-property", "weak-reference"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Slot layout of the weak kinds
const (
	WeakPropertyKey     = 0
	WeakPropertyValue   = 1
	WeakReferenceTarget = 0
)

const (
	markBit uint32 = 1 << iota
	rememberedBit
)

const (
	WordSize    = 8
	headerWords = 2
)

// Object is a heap object. Header bits and slots are accessed atomically
// so the marker can run concurrently with the mutator.
type Object struct {
	ID    uint32
	Kind  Kind
	space atomic.Uint32
	tags  atomic.Uint32
	slots []atomic.Pointer[Object]
}

func newObject(id uint32, kind Kind, space Space, slots int) *Object {
	switch kind {
	case KindWeakProperty:
		slots = 2
	case KindWeakReference:
		slots = 1
	}
	o := &Object{ID: id, Kind: kind, slots: make([]atomic.Pointer[Object], slots)}
	o.space.Store(uint32(space))
	return o
}

func (o *Object) String() string {
	return fmt.Sprintf("#%d(%s %s)", o.ID, o.Kind, o.Space())
}

func (o *Object) Space() Space { return Space(o.space.Load()) }
func (o *Object) IsOld() bool  { return o.Space() == OldSpace }
func (o *Object) IsNew() bool  { return o.Space() == NewSpace }

// SizeInWords includes the header
func (o *Object) SizeInWords() int { return headerWords + len(o.slots) }

func (o *Object) SizeInBytes() int { return o.SizeInWords() * WordSize }

func (o *Object) NumSlots() int { return len(o.slots) }

func (o *Object) Slot(i int) *Object { return o.slots[i].Load() }

func (o *Object) setSlot(i int, v *Object) { o.slots[i].Store(v) }

// ClearSlot drops a weak referent. Clearing needs no barrier.
func (o *Object) ClearSlot(i int) { o.slots[i].Store(nil) }

// VisitSlots calls fn for every non-nil slot value
func (o *Object) VisitSlots(fn func(*Object)) {
	for i := range o.slots {
		if v := o.slots[i].Load(); v != nil {
			fn(v)
		}
	}
}

func (o *Object) IsMarked() bool { return o.tags.Load()&markBit != 0 }

// TryAcquireMarkBit sets the mark bit and reports whether this call was
// the one that set it
func (o *Object) TryAcquireMarkBit() bool {
	for {
		old := o.tags.Load()
		if old&markBit != 0 {
			return false
		}
		if o.tags.CompareAndSwap(old, old|markBit) {
			return true
		}
	}
}

func (o *Object) ClearMarkBit() {
	for {
		old := o.tags.Load()
		if o.tags.CompareAndSwap(old, old&^markBit) {
			return
		}
	}
}

func (o *Object) IsRemembered() bool { return o.tags.Load()&rememberedBit != 0 }

func (o *Object) tryAcquireRememberedBit() bool {
	for {
		old := o.tags.Load()
		if old&rememberedBit != 0 {
			return false
		}
		if o.tags.CompareAndSwap(old, old|rememberedBit) {
			return true
		}
	}
}

func (o *Object) clearRememberedBit() {
	for {
		old := o.tags.Load()
		if o.tags.CompareAndSwap(old, old&^rememberedBit) {
			return
		}
	}
}
