// Package lattice implements the three-level value lattice used by
// constant propagation: Unknown ⊑ Constant(v) ⊑ NonConstant.
package lattice

import (
	"vmcore/pkg/object"
)

// Tag is the lattice level of a Value
type Tag uint8

const (
	Unknown Tag = iota
	Constant
	NonConstant
)

func (t Tag) String() string {
	switch t {
	case Unknown:
		return "unknown"
	case Constant:
		return "constant"
	case NonConstant:
		return "non-constant"
	}
	return "invalid"
}

// Value is a lattice element. The zero Value is Unknown.
type Value struct {
	tag Tag
	obj *object.Object
}

// Of returns Constant(o)
func Of(o *object.Object) Value {
	return Value{tag: Constant, obj: o}
}

// Top returns NonConstant
func Top() Value {
	return Value{tag: NonConstant}
}

// Bottom returns Unknown
func Bottom() Value {
	return Value{}
}

func (v Value) Tag() Tag               { return v.tag }
func (v Value) IsUnknown() bool        { return v.tag == Unknown }
func (v Value) IsConstant() bool       { return v.tag == Constant }
func (v Value) IsNonConstant() bool    { return v.tag == NonConstant }
func (v Value) Object() *object.Object { return v.obj }

// Same compares by tag and payload pointer. Equal-valued constants held
// in distinct objects are not the same.
func (v Value) Same(w Value) bool {
	if v.tag != w.tag {
		return false
	}
	if v.tag != Constant {
		return true
	}
	return object.SamePtr(v.obj, w.obj)
}

// Leq reports v ⊑ w
func (v Value) Leq(w Value) bool {
	switch {
	case v.tag == Unknown || w.tag == NonConstant:
		return true
	case v.tag == Constant && w.tag == Constant:
		return object.IsIdentical(v.obj, w.obj)
	}
	return false
}

// Join updates left to the least upper bound of left and right
func Join(left *Value, right Value) {
	// Join(NonConstant, x) = NonConstant, Join(x, Unknown) = x
	if left.tag == NonConstant || right.tag == Unknown {
		return
	}
	// Join(Unknown, x) = x, Join(x, NonConstant) = NonConstant
	if left.tag == Unknown || right.tag == NonConstant {
		*left = right
		return
	}
	if object.IsIdentical(left.obj, right.obj) {
		return
	}
	*left = Top()
}

func (v Value) String() string {
	if v.tag == Constant {
		return v.obj.String()
	}
	return v.tag.String()
}
