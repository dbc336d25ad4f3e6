package object

import "math"

// CanonicalTable interns constant objects so that equal values share a
// single old-space object. Each flow graph owns one.
type CanonicalTable struct {
	mints   map[int64]*Object
	doubles map[uint64]*Object
	strings map[string]*Object
}

// NewCanonicalTable creates an empty table
func NewCanonicalTable() *CanonicalTable {
	return &CanonicalTable{
		mints:   make(map[int64]*Object),
		doubles: make(map[uint64]*Object),
		strings: make(map[string]*Object),
	}
}

// Canonicalize returns the canonical object equal to o. Mints, doubles
// and strings are interned by value; other objects are marked canonical
// in place.
func (t *CanonicalTable) Canonicalize(o *Object) *Object {
	if o.canonical || o.cid == CidSmi {
		return o
	}
	switch o.cid {
	case CidMint:
		if c, ok := t.mints[o.i]; ok {
			return c
		}
		t.mints[o.i] = o
	case CidDouble:
		bits := math.Float64bits(o.d)
		if c, ok := t.doubles[bits]; ok {
			return c
		}
		t.doubles[bits] = o
	case CidOneByteString:
		if c, ok := t.strings[o.s]; ok {
			return c
		}
		t.strings[o.s] = o
	case CidArray, CidImmutableArray:
		for i, e := range o.elems {
			o.elems[i] = t.Canonicalize(e)
		}
	}
	o.old = true
	o.canonical = true
	return o
}

// Integer returns a Smi or a canonical Mint holding v
func (t *CanonicalTable) Integer(v int64) *Object {
	if IsSmiValue(v) {
		return NewSmi(v)
	}
	return t.Canonicalize(NewMint(v))
}

// Double returns the canonical double holding v
func (t *CanonicalTable) Double(v float64) *Object {
	return t.Canonicalize(NewDouble(v))
}

// String returns the canonical string holding s
func (t *CanonicalTable) String(s string) *Object {
	return t.Canonicalize(NewString(s))
}

// Len returns the number of interned objects
func (t *CanonicalTable) Len() int {
	return len(t.mints) + len(t.doubles) + len(t.strings)
}
