package object

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ClassID identifies the class of an Object
type ClassID int32

const (
	CidDynamic ClassID = iota // class not known statically
	CidNull
	CidSentinel
	CidBool
	CidSmi
	CidMint
	CidDouble
	CidOneByteString
	CidArray
	CidImmutableArray
	CidTypedData
	CidFloat32x4
	CidInt32x4
	CidType
	CidTypeArguments

	// Abstract classes. No object carries one of these ids; they only
	// appear in types.
	CidObject
	CidNumber
	CidInteger

	CidFirstUser ClassID = 100
)

var cidNames = map[ClassID]string{
	CidDynamic:        "dynamic",
	CidNull:           "Null",
	CidSentinel:       "Sentinel",
	CidBool:           "bool",
	CidSmi:            "Smi",
	CidMint:           "Mint",
	CidDouble:         "double",
	CidOneByteString:  "String",
	CidArray:          "Array",
	CidImmutableArray: "ImmutableArray",
	CidTypedData:      "TypedData",
	CidFloat32x4:      "Float32x4",
	CidInt32x4:        "Int32x4",
	CidType:           "Type",
	CidTypeArguments:  "TypeArguments",
	CidObject:         "Object",
	CidNumber:         "num",
	CidInteger:        "int",
}

func (c ClassID) String() string {
	if name, ok := cidNames[c]; ok {
		return name
	}
	return fmt.Sprintf("C%d", int32(c))
}

// IsAbstract reports whether no object can have this class id
func (c ClassID) IsAbstract() bool {
	return c == CidDynamic || c == CidObject || c == CidNumber || c == CidInteger
}

// Small integers are immediates with a 62-bit payload.
const (
	SmiBits = 62
	SmiMax  = int64(1)<<SmiBits - 1
	SmiMin  = -(int64(1) << SmiBits)
)

// IsSmiValue reports whether v fits in a Smi
func IsSmiValue(v int64) bool {
	return v >= SmiMin && v <= SmiMax
}

// Object is an immutable constant value as seen by the compiler.
// Only the fields relevant to the object's class are populated.
type Object struct {
	cid ClassID

	// CidBool
	b bool

	// CidSmi, CidMint
	i int64

	// CidDouble
	d float64

	// CidOneByteString
	s string

	// CidArray, CidImmutableArray
	elems []*Object

	// CidTypedData
	length int

	// CidType
	typ *AbstractType

	// CidTypeArguments
	typeArgs []*AbstractType

	// user classes
	fields []*Object

	old       bool
	canonical bool
}

// Singletons. These live in old space and are canonical.
var (
	Null     = &Object{cid: CidNull, old: true, canonical: true}
	Sentinel = &Object{cid: CidSentinel, old: true, canonical: true}
	True     = &Object{cid: CidBool, b: true, old: true, canonical: true}
	False    = &Object{cid: CidBool, b: false, old: true, canonical: true}
)

// Bool returns the canonical boolean for b
func Bool(b bool) *Object {
	if b {
		return True
	}
	return False
}

// NewSmi creates a small integer. It panics if v is out of Smi range.
func NewSmi(v int64) *Object {
	if !IsSmiValue(v) {
		panic(fmt.Sprintf("object: %d does not fit in a Smi", v))
	}
	return &Object{cid: CidSmi, i: v}
}

// NewMint creates a boxed 64-bit integer
func NewMint(v int64) *Object {
	return &Object{cid: CidMint, i: v}
}

// NewInteger creates a Smi if v fits, otherwise a Mint
func NewInteger(v int64) *Object {
	if IsSmiValue(v) {
		return NewSmi(v)
	}
	return NewMint(v)
}

// NewDouble creates a boxed double
func NewDouble(v float64) *Object {
	return &Object{cid: CidDouble, d: v}
}

// NewString creates a one-byte string
func NewString(s string) *Object {
	return &Object{cid: CidOneByteString, s: s}
}

// NewArray creates an array holding elems. Immutable arrays are the
// only arrays whose elements may be folded by the compiler.
func NewArray(elems []*Object, immutable bool) *Object {
	cid := CidArray
	if immutable {
		cid = CidImmutableArray
	}
	return &Object{cid: cid, elems: elems}
}

// NewTypedData creates a typed data object of the given length
func NewTypedData(length int) *Object {
	return &Object{cid: CidTypedData, length: length}
}

// NewType wraps an AbstractType as an object
func NewType(t *AbstractType) *Object {
	return &Object{cid: CidType, typ: t}
}

// NewTypeArguments creates a type argument vector
func NewTypeArguments(args ...*AbstractType) *Object {
	return &Object{cid: CidTypeArguments, typeArgs: args}
}

// NewInstance creates an instance of a user class
func NewInstance(cid ClassID, fields ...*Object) *Object {
	return &Object{cid: cid, fields: fields}
}

// Cid returns the class id of o
func (o *Object) Cid() ClassID { return o.cid }

func (o *Object) IsNull() bool      { return o.cid == CidNull }
func (o *Object) IsSentinel() bool  { return o.cid == CidSentinel }
func (o *Object) IsBool() bool      { return o.cid == CidBool }
func (o *Object) IsSmi() bool       { return o.cid == CidSmi }
func (o *Object) IsMint() bool      { return o.cid == CidMint }
func (o *Object) IsInteger() bool   { return o.cid == CidSmi || o.cid == CidMint }
func (o *Object) IsDouble() bool    { return o.cid == CidDouble }
func (o *Object) IsString() bool    { return o.cid == CidOneByteString }
func (o *Object) IsTypedData() bool { return o.cid == CidTypedData }
func (o *Object) IsArray() bool {
	return o.cid == CidArray || o.cid == CidImmutableArray
}
func (o *Object) IsAbstractType() bool  { return o.cid == CidType }
func (o *Object) IsTypeArguments() bool { return o.cid == CidTypeArguments }

// IsInstance reports whether o is a Dart-level instance. The sentinel
// and type argument vectors are VM-internal objects.
func (o *Object) IsInstance() bool {
	return o.cid != CidSentinel && o.cid != CidTypeArguments && o.cid != CidDynamic
}

// IsImmutable reports whether the contents of o can never change
func (o *Object) IsImmutable() bool {
	switch o.cid {
	case CidImmutableArray, CidOneByteString:
		return true
	}
	return false
}

func (o *Object) IsOld() bool       { return o.old }
func (o *Object) IsCanonical() bool { return o.canonical }

// BoolValue returns the value of a bool object
func (o *Object) BoolValue() bool { return o.b }

// IntValue returns the value of a Smi or Mint
func (o *Object) IntValue() int64 { return o.i }

// DoubleValue returns the value of a double
func (o *Object) DoubleValue() float64 { return o.d }

// StringValue returns the contents of a string
func (o *Object) StringValue() string { return o.s }

// ToDouble converts an integer or double to float64
func (o *Object) ToDouble() float64 {
	if o.IsInteger() {
		return float64(o.i)
	}
	return o.d
}

// Length returns the length of a string, array or typed data object
func (o *Object) Length() int {
	switch o.cid {
	case CidOneByteString:
		return len(o.s)
	case CidArray, CidImmutableArray:
		return len(o.elems)
	case CidTypedData:
		return o.length
	}
	return 0
}

// At returns element i of an array
func (o *Object) At(i int) *Object { return o.elems[i] }

// CharAt returns the code unit at i of a string
func (o *Object) CharAt(i int) int64 { return int64(o.s[i]) }

// TypeValue returns the type wrapped by a Type object
func (o *Object) TypeValue() *AbstractType { return o.typ }

// TypeArgs returns the types of a type argument vector
func (o *Object) TypeArgs() []*AbstractType { return o.typeArgs }

// NumFields returns the number of fields of an instance
func (o *Object) NumFields() int { return len(o.fields) }

// Field returns field i of an instance
func (o *Object) Field(i int) *Object { return o.fields[i] }

// CompareWith compares two integers and returns -1, 0 or 1
func (o *Object) CompareWith(other *Object) int {
	switch {
	case o.i < other.i:
		return -1
	case o.i > other.i:
		return 1
	}
	return 0
}

// SamePtr is pointer identity. Smis are immediates and therefore
// identical whenever their values are.
func SamePtr(a, b *Object) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.cid == CidSmi && b.cid == CidSmi && a.i == b.i
}

// IsIdentical implements identical(): pointer identity, extended to
// equal integers and bitwise equal doubles.
func IsIdentical(a, b *Object) bool {
	if SamePtr(a, b) {
		return true
	}
	if a == nil || b == nil || a.cid != b.cid {
		return false
	}
	switch a.cid {
	case CidSmi, CidMint:
		return a.i == b.i
	case CidDouble:
		return math.Float64bits(a.d) == math.Float64bits(b.d)
	}
	return false
}

// StringEquals compares two strings by content
func StringEquals(a, b *Object) bool {
	return a.IsString() && b.IsString() && a.s == b.s
}

func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	switch o.cid {
	case CidNull:
		return "null"
	case CidSentinel:
		return "sentinel"
	case CidBool:
		if o.b {
			return "true"
		}
		return "false"
	case CidSmi, CidMint:
		return strconv.FormatInt(o.i, 10)
	case CidDouble:
		return formatDouble(o.d)
	case CidOneByteString:
		return strconv.Quote(o.s)
	case CidArray, CidImmutableArray:
		var sb strings.Builder
		if o.cid == CidImmutableArray {
			sb.WriteString("const ")
		}
		sb.WriteString("[")
		for i, e := range o.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
		sb.WriteString("]")
		return sb.String()
	case CidTypedData:
		return fmt.Sprintf("TypedData(%d)", o.length)
	case CidType:
		return "Type(" + o.typ.String() + ")"
	case CidTypeArguments:
		parts := make([]string, len(o.typeArgs))
		for i, t := range o.typeArgs {
			parts[i] = t.String()
		}
		return "<" + strings.Join(parts, ", ") + ">"
	}
	parts := make([]string, len(o.fields))
	for i, f := range o.fields {
		parts[i] = f.String()
	}
	return fmt.Sprintf("%s{%s}", o.cid, strings.Join(parts, ", "))
}

func formatDouble(d float64) string {
	switch {
	case math.IsNaN(d):
		return "NaN"
	case math.IsInf(d, 1):
		return "Infinity"
	case math.IsInf(d, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(d, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
