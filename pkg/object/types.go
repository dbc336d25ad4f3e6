package object

import (
	"fmt"
	"strconv"
	"strings"
)

// AbstractType is a (fully instantiated) type as used by type tests
type AbstractType struct {
	Cid      ClassID
	Nullable bool
	// Top is set for dynamic, void and Object?
	Top bool
}

// Well-known types
var (
	DynamicType    = &AbstractType{Cid: CidDynamic, Nullable: true, Top: true}
	NullableObject = &AbstractType{Cid: CidObject, Nullable: true, Top: true}
	ObjectType     = &AbstractType{Cid: CidObject}
	IntType        = &AbstractType{Cid: CidInteger}
	DoubleType     = &AbstractType{Cid: CidDouble}
	NumType        = &AbstractType{Cid: CidNumber}
	BoolType       = &AbstractType{Cid: CidBool}
	StringType     = &AbstractType{Cid: CidOneByteString}
	NullType       = &AbstractType{Cid: CidNull, Nullable: true}
	ArrayType      = &AbstractType{Cid: CidArray}
	Float32x4Type  = &AbstractType{Cid: CidFloat32x4}
	Int32x4Type    = &AbstractType{Cid: CidInt32x4}
	TypedDataType  = &AbstractType{Cid: CidTypedData}
)

var namedTypes = map[string]*AbstractType{
	"dynamic":   DynamicType,
	"void":      DynamicType,
	"Object?":   NullableObject,
	"Object":    ObjectType,
	"int":       IntType,
	"double":    DoubleType,
	"num":       NumType,
	"bool":      BoolType,
	"String":    StringType,
	"Null":      NullType,
	"Array":     ArrayType,
	"Float32x4": Float32x4Type,
	"Int32x4":   Int32x4Type,
	"TypedData": TypedDataType,
}

// ParseType resolves a type name such as "int", "String?" or "C101"
func ParseType(name string) (*AbstractType, error) {
	if t, ok := namedTypes[name]; ok {
		return t, nil
	}
	nullable := strings.HasSuffix(name, "?")
	base := strings.TrimSuffix(name, "?")
	if t, ok := namedTypes[base]; ok {
		if t.Top {
			return t, nil
		}
		return &AbstractType{Cid: t.Cid, Nullable: nullable || t.Nullable}, nil
	}
	if strings.HasPrefix(base, "C") {
		n, err := strconv.Atoi(base[1:])
		if err == nil && ClassID(n) >= CidFirstUser {
			return &AbstractType{Cid: ClassID(n), Nullable: nullable}, nil
		}
	}
	return nil, fmt.Errorf("unknown type %q", name)
}

func (t *AbstractType) String() string {
	if t == nil {
		return "null"
	}
	if t.Top {
		if t.Cid == CidObject {
			return "Object?"
		}
		return "dynamic"
	}
	s := t.Cid.String()
	if t.Nullable && t.Cid != CidNull {
		s += "?"
	}
	return s
}

// IsTopTypeForInstanceOf reports whether every value is an instance of t
func (t *AbstractType) IsTopTypeForInstanceOf() bool { return t.Top }

func (t *AbstractType) IsIntType() bool       { return t.Cid == CidInteger && !t.Nullable }
func (t *AbstractType) IsDoubleType() bool    { return t.Cid == CidDouble && !t.Nullable }
func (t *AbstractType) IsFloat32x4Type() bool { return t.Cid == CidFloat32x4 && !t.Nullable }
func (t *AbstractType) IsInt32x4Type() bool   { return t.Cid == CidInt32x4 && !t.Nullable }

// acceptsCid reports whether a non-null object of class cid is an
// instance of t
func (t *AbstractType) acceptsCid(cid ClassID) bool {
	if t.Top {
		return true
	}
	switch t.Cid {
	case CidObject:
		return cid != CidNull && cid != CidSentinel
	case CidInteger:
		return cid == CidSmi || cid == CidMint
	case CidNumber:
		return cid == CidSmi || cid == CidMint || cid == CidDouble
	case CidArray:
		return cid == CidArray || cid == CidImmutableArray
	}
	return t.Cid == cid
}

// IsInstanceOf reports whether o is an instance of t
func (o *Object) IsInstanceOf(t *AbstractType) bool {
	if t.Top {
		return true
	}
	if o.IsNull() {
		return t.Nullable || t.Cid == CidNull
	}
	return t.acceptsCid(o.cid)
}

// CompileType is the static type the compiler infers for a value
type CompileType struct {
	Cid           ClassID
	Nullable      bool
	CanBeSentinel bool
}

// DynamicCompileType is the type of a value nothing is known about
func DynamicCompileType() CompileType {
	return CompileType{Cid: CidDynamic, Nullable: true}
}

// CompileTypeOf returns the exact type of a constant
func CompileTypeOf(o *Object) CompileType {
	return CompileType{
		Cid:           o.cid,
		Nullable:      o.IsNull(),
		CanBeSentinel: o.IsSentinel(),
	}
}

// CompileTypeFor returns the compile type described by an abstract type
func CompileTypeFor(t *AbstractType) CompileType {
	if t.Top {
		return DynamicCompileType()
	}
	return CompileType{Cid: t.Cid, Nullable: t.Nullable}
}

// ToCid returns the exact class id, or CidDynamic when the class is not
// known exactly
func (ct CompileType) ToCid() ClassID {
	if ct.Cid == CidNull {
		return CidNull
	}
	if ct.Nullable || ct.CanBeSentinel || ct.Cid.IsAbstract() {
		return CidDynamic
	}
	return ct.Cid
}

func (ct CompileType) IsNull() bool { return ct.Cid == CidNull }
func (ct CompileType) IsBool() bool { return ct.Cid == CidBool && !ct.Nullable }

// HasDecidableNullability reports whether comparing against null can be
// answered from the type alone
func (ct CompileType) HasDecidableNullability() bool {
	return !ct.Nullable || ct.IsNull()
}

// IsSubtypeOf reports whether every value of ct is an instance of t
func (ct CompileType) IsSubtypeOf(t *AbstractType) bool {
	if t.Top {
		return true
	}
	if ct.CanBeSentinel || ct.Cid == CidDynamic {
		return false
	}
	if ct.IsNull() {
		return t.Nullable || t.Cid == CidNull
	}
	if ct.Nullable && !t.Nullable {
		return false
	}
	switch ct.Cid {
	case CidInteger:
		return t.Cid == CidInteger || t.Cid == CidNumber || t.Cid == CidObject
	case CidNumber:
		return t.Cid == CidNumber || t.Cid == CidObject
	case CidObject:
		return t.Cid == CidObject
	}
	return t.acceptsCid(ct.Cid)
}

func (ct CompileType) String() string {
	s := ct.Cid.String()
	if ct.Nullable && ct.Cid != CidNull {
		s += "?"
	}
	if ct.CanBeSentinel {
		s += "|sentinel"
	}
	return s
}
