package object

import (
	"math"
	"testing"
)

func TestSmiRange(t *testing.T) {
	if !IsSmiValue(SmiMax) || !IsSmiValue(SmiMin) {
		t.Error("Smi bounds should be Smi values")
	}
	if IsSmiValue(SmiMax+1) || IsSmiValue(SmiMin-1) {
		t.Error("values outside Smi bounds should not be Smis")
	}
	if !NewInteger(SmiMax).IsSmi() {
		t.Error("NewInteger(SmiMax) should be a Smi")
	}
	if !NewInteger(math.MaxInt64).IsMint() {
		t.Error("NewInteger(MaxInt64) should be a Mint")
	}
}

func TestSamePtrTreatsSmisAsImmediates(t *testing.T) {
	if !SamePtr(NewSmi(7), NewSmi(7)) {
		t.Error("equal Smis should be the same pointer")
	}
	if SamePtr(NewMint(math.MaxInt64), NewMint(math.MaxInt64)) {
		t.Error("distinct Mints should not be the same pointer")
	}
	if SamePtr(NewSmi(1), nil) {
		t.Error("nil is not identical to a Smi")
	}
}

func TestIsIdentical(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		name string
		a, b *Object
		want bool
	}{
		{"smi", NewSmi(3), NewSmi(3), true},
		{"mint", NewMint(math.MaxInt64), NewMint(math.MaxInt64), true},
		{"smi vs mint class", NewSmi(3), NewMint(3), false},
		{"double", NewDouble(1.5), NewDouble(1.5), true},
		{"nan", NewDouble(nan), NewDouble(nan), true},
		{"zero vs negative zero", NewDouble(0), NewDouble(math.Copysign(0, -1)), false},
		{"strings by value", NewString("a"), NewString("a"), false},
		{"bools", True, Bool(true), true},
		{"null", Null, Null, true},
		{"different values", NewSmi(1), NewSmi(2), false},
	}
	for _, tt := range tests {
		if got := IsIdentical(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: IsIdentical(%v, %v) = %v, want %v", tt.name, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCanonicalTableInterns(t *testing.T) {
	table := NewCanonicalTable()

	d1 := table.Double(2.5)
	d2 := table.Canonicalize(NewDouble(2.5))
	if d1 != d2 {
		t.Error("equal doubles should canonicalize to the same object")
	}
	if !d1.IsOld() || !d1.IsCanonical() {
		t.Error("canonical objects should be old and canonical")
	}

	s1 := table.String("hello")
	s2 := table.Canonicalize(NewString("hello"))
	if s1 != s2 {
		t.Error("equal strings should canonicalize to the same object")
	}

	m := table.Integer(math.MinInt64)
	if !m.IsMint() || m != table.Integer(math.MinInt64) {
		t.Error("large integers should intern as Mints")
	}
	if !table.Integer(4).IsSmi() {
		t.Error("small integers should stay Smis")
	}

	if table.Len() != 3 {
		t.Errorf("expected 3 interned objects, got %d", table.Len())
	}
}

func TestCanonicalizeArrayElements(t *testing.T) {
	table := NewCanonicalTable()
	arr := NewArray([]*Object{NewString("x"), NewSmi(1)}, true)
	arr = table.Canonicalize(arr)
	if !arr.IsOld() {
		t.Error("canonical array should be old")
	}
	if arr.At(0) != table.String("x") {
		t.Error("array elements should be canonicalized")
	}
}

func TestObjectString(t *testing.T) {
	tests := []struct {
		obj  *Object
		want string
	}{
		{Null, "null"},
		{True, "true"},
		{NewSmi(-4), "-4"},
		{NewDouble(2), "2.0"},
		{NewDouble(math.Inf(-1)), "-Infinity"},
		{NewString("a\"b"), `"a\"b"`},
		{NewArray([]*Object{NewSmi(1), NewSmi(2)}, true), "const [1, 2]"},
		{NewArray(nil, false), "[]"},
		{NewInstance(101, NewSmi(1)), "C101{1}"},
	}
	for _, tt := range tests {
		if got := tt.obj.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestInstanceOf(t *testing.T) {
	tests := []struct {
		obj  *Object
		typ  *AbstractType
		want bool
	}{
		{NewSmi(1), IntType, true},
		{NewMint(math.MaxInt64), NumType, true},
		{NewDouble(1), IntType, false},
		{Null, IntType, false},
		{Null, &AbstractType{Cid: CidInteger, Nullable: true}, true},
		{NewString("s"), ObjectType, true},
		{Null, ObjectType, false},
		{Null, DynamicType, true},
		{NewArray(nil, true), ArrayType, true},
		{NewInstance(101), &AbstractType{Cid: 101}, true},
		{NewInstance(102), &AbstractType{Cid: 101}, false},
	}
	for _, tt := range tests {
		if got := tt.obj.IsInstanceOf(tt.typ); got != tt.want {
			t.Errorf("%v is %v = %v, want %v", tt.obj, tt.typ, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("int?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if typ.Cid != CidInteger || !typ.Nullable {
		t.Errorf("expected nullable int, got %v", typ)
	}
	typ, err = ParseType("C105")
	if err != nil || typ.Cid != 105 {
		t.Errorf("expected user class 105, got %v (%v)", typ, err)
	}
	if _, err := ParseType("C5"); err == nil {
		t.Error("expected error for reserved class id")
	}
	if _, err := ParseType("Banana"); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestCompileType(t *testing.T) {
	if CompileTypeOf(NewSmi(1)).ToCid() != CidSmi {
		t.Error("exact type of a Smi constant should be Smi")
	}
	if DynamicCompileType().ToCid() != CidDynamic {
		t.Error("dynamic should have no exact cid")
	}
	nullable := CompileType{Cid: CidOneByteString, Nullable: true}
	if nullable.HasDecidableNullability() {
		t.Error("nullable String should not have decidable nullability")
	}
	if !CompileTypeOf(Null).HasDecidableNullability() {
		t.Error("Null should have decidable nullability")
	}
	if !CompileTypeOf(NewSmi(1)).IsSubtypeOf(IntType) {
		t.Error("Smi should be a subtype of int")
	}
	if nullable.IsSubtypeOf(StringType) {
		t.Error("String? should not be a subtype of String")
	}
	if (CompileType{Cid: CidInteger}).IsSubtypeOf(DoubleType) {
		t.Error("int should not be a subtype of double")
	}
}
