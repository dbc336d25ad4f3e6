package il

import "fmt"

// Op identifies the kind of an instruction
type Op uint8

const (
	OpInvalid Op = iota

	// Definitions
	OpConstant
	OpUnboxedConstant
	OpParameter
	OpPhi
	OpRedefinition
	OpCheckNull
	OpCheckArrayBound
	OpGenericCheckBound
	OpCheckWritable
	OpStrictCompare
	OpEqualityCompare
	OpRelationalOp
	OpTestInt
	OpTestRange
	OpBinaryIntegerOp
	OpUnaryIntegerOp
	OpBinaryDoubleOp
	OpUnaryDoubleOp
	OpDoubleTestOp
	OpInt64ToDouble
	OpDoubleToInteger
	OpIntConverter
	OpBox
	OpUnbox
	OpBooleanNegate
	OpIfThenElse
	OpLoadIndexed
	OpLoadField
	OpLoadClassId
	OpLoadStaticField
	OpStoreStaticField
	OpInstanceOf
	OpAssertAssignable
	OpStaticCall
	OpInstanceCall
	OpCreateArray
	OpAllocateObject
	OpStringToCharCode
	OpOneByteStringFromCharCode

	// Instructions without a value
	OpStoreField
	OpStoreIndexed
	OpCheckSmi
	OpCheckClass
	OpCheckStackOverflow
	OpGoto
	OpBranch
	OpIndirectGoto
	OpReturn
	OpThrow

	opCount
)

type opInfo struct {
	name string
	// def is set for instructions producing a value
	def bool
	// control is set for block terminators
	control bool
	// sideEffects is set when the instruction may have effects not
	// visible through its inputs and outputs
	sideEffects bool
	// arity is the number of inputs, -1 when variable
	arity int
}

var opInfos = [opCount]opInfo{
	OpInvalid:                   {name: "invalid"},
	OpConstant:                  {name: "constant", def: true, arity: 0},
	OpUnboxedConstant:           {name: "unboxed-constant", def: true, arity: 0},
	OpParameter:                 {name: "parameter", def: true, arity: 0},
	OpPhi:                       {name: "phi", def: true, arity: -1},
	OpRedefinition:              {name: "redefinition", def: true, arity: 1},
	OpCheckNull:                 {name: "check-null", def: true, arity: 1},
	OpCheckArrayBound:           {name: "check-array-bound", def: true, arity: 2},
	OpGenericCheckBound:         {name: "generic-check-bound", def: true, arity: 2},
	OpCheckWritable:             {name: "check-writable", def: true, arity: 1},
	OpStrictCompare:             {name: "strict-compare", def: true, arity: 2},
	OpEqualityCompare:           {name: "equality-compare", def: true, arity: 2},
	OpRelationalOp:              {name: "relational-op", def: true, arity: 2},
	OpTestInt:                   {name: "test-int", def: true, arity: 2},
	OpTestRange:                 {name: "test-range", def: true, arity: 1},
	OpBinaryIntegerOp:           {name: "binary-int-op", def: true, arity: 2},
	OpUnaryIntegerOp:            {name: "unary-int-op", def: true, arity: 1},
	OpBinaryDoubleOp:            {name: "binary-double-op", def: true, arity: 2},
	OpUnaryDoubleOp:             {name: "unary-double-op", def: true, arity: 1},
	OpDoubleTestOp:              {name: "double-test-op", def: true, arity: 1},
	OpInt64ToDouble:             {name: "int64-to-double", def: true, arity: 1},
	OpDoubleToInteger:           {name: "double-to-integer", def: true, arity: 1},
	OpIntConverter:              {name: "int-converter", def: true, arity: 1},
	OpBox:                       {name: "box", def: true, arity: 1},
	OpUnbox:                     {name: "unbox", def: true, arity: 1},
	OpBooleanNegate:             {name: "boolean-negate", def: true, arity: 1},
	OpIfThenElse:                {name: "if-then-else", def: true, arity: 1},
	OpLoadIndexed:               {name: "load-indexed", def: true, arity: 2},
	OpLoadField:                 {name: "load-field", def: true, arity: 1},
	OpLoadClassId:               {name: "load-class-id", def: true, arity: 1},
	OpLoadStaticField:           {name: "load-static-field", def: true, arity: 0},
	OpStoreStaticField:          {name: "store-static-field", def: true, sideEffects: true, arity: 1},
	OpInstanceOf:                {name: "instance-of", def: true, arity: 3},
	OpAssertAssignable:          {name: "assert-assignable", def: true, arity: 2},
	OpStaticCall:                {name: "static-call", def: true, sideEffects: true, arity: -1},
	OpInstanceCall:              {name: "instance-call", def: true, sideEffects: true, arity: -1},
	OpCreateArray:               {name: "create-array", def: true, arity: 1},
	OpAllocateObject:            {name: "allocate-object", def: true, arity: 0},
	OpStringToCharCode:          {name: "string-to-char-code", def: true, arity: 1},
	OpOneByteStringFromCharCode: {name: "char-code-to-string", def: true, arity: 1},
	OpStoreField:                {name: "store-field", sideEffects: true, arity: 2},
	OpStoreIndexed:              {name: "store-indexed", sideEffects: true, arity: 3},
	OpCheckSmi:                  {name: "check-smi", arity: 1},
	OpCheckClass:                {name: "check-class", arity: 1},
	OpCheckStackOverflow:        {name: "check-stack-overflow", arity: 0},
	OpGoto:                      {name: "goto", control: true, arity: 0},
	OpBranch:                    {name: "branch", control: true, arity: 1},
	OpIndirectGoto:              {name: "indirect-goto", control: true, arity: 1},
	OpReturn:                    {name: "return", control: true, arity: 1},
	OpThrow:                     {name: "throw", control: true, sideEffects: true, arity: 1},
}

var opsByName = func() map[string]Op {
	m := make(map[string]Op, opCount)
	for op := Op(1); op < opCount; op++ {
		m[opInfos[op].name] = op
	}
	return m
}()

func (op Op) String() string {
	if op < opCount && opInfos[op].name != "" {
		return opInfos[op].name
	}
	return fmt.Sprintf("op%d", uint8(op))
}

// IsDefinition reports whether instructions of this kind produce a value
func (op Op) IsDefinition() bool { return op < opCount && opInfos[op].def }

// IsControl reports whether op terminates a block
func (op Op) IsControl() bool { return op < opCount && opInfos[op].control }

// Arity returns the fixed input count, or -1 for variadic ops
func (op Op) Arity() int { return opInfos[op].arity }

// LookupOp finds an op by its textual name
func LookupOp(name string) (Op, bool) {
	op, ok := opsByName[name]
	return op, ok
}

// Token is the operator of comparisons and arithmetic
type Token uint8

const (
	TokNone Token = iota
	TokEQ
	TokNE
	TokEQStrict
	TokNEStrict
	TokLT
	TokGT
	TokLTE
	TokGTE
	TokIS
	TokISNOT
	TokADD
	TokSUB
	TokMUL
	TokDIV
	TokTRUNCDIV
	TokMOD
	TokREM
	TokBitAnd
	TokBitOr
	TokBitXor
	TokSHL
	TokSHR
	TokUSHR
	TokNEGATE
	TokBitNot
	TokABS
	TokSQRT
	TokSQUARE
	TokTRUNCATE
	TokFLOOR
	TokCEILING

	tokCount
)

var tokNames = [tokCount]string{
	TokNone:     "",
	TokEQ:       "==",
	TokNE:       "!=",
	TokEQStrict: "===",
	TokNEStrict: "!==",
	TokLT:       "<",
	TokGT:       ">",
	TokLTE:      "<=",
	TokGTE:      ">=",
	TokIS:       "is",
	TokISNOT:    "isnot",
	TokADD:      "+",
	TokSUB:      "-",
	TokMUL:      "*",
	TokDIV:      "/",
	TokTRUNCDIV: "~/",
	TokMOD:      "%",
	TokREM:      "rem",
	TokBitAnd:   "&",
	TokBitOr:    "|",
	TokBitXor:   "^",
	TokSHL:      "<<",
	TokSHR:      ">>",
	TokUSHR:     ">>>",
	TokNEGATE:   "neg",
	TokBitNot:   "~",
	TokABS:      "abs",
	TokSQRT:     "sqrt",
	TokSQUARE:   "square",
	TokTRUNCATE: "trunc",
	TokFLOOR:    "floor",
	TokCEILING:  "ceil",
}

func (t Token) String() string {
	if t < tokCount {
		return tokNames[t]
	}
	return fmt.Sprintf("tok%d", uint8(t))
}

// LookupToken finds a token by its textual form
func LookupToken(s string) (Token, bool) {
	for t := Token(1); t < tokCount; t++ {
		if tokNames[t] == s {
			return t, true
		}
	}
	return TokNone, false
}

// Representation is the machine representation of a value
type Representation uint8

const (
	Tagged Representation = iota
	UnboxedInt32
	UnboxedUint32
	UnboxedInt64
	UnboxedDouble
	UnboxedFloat32x4
	UnboxedInt32x4
)

var repNames = []string{"tagged", "int32", "uint32", "int64", "double", "float32x4", "int32x4"}

func (r Representation) String() string {
	if int(r) < len(repNames) {
		return repNames[r]
	}
	return fmt.Sprintf("rep%d", uint8(r))
}

// LookupRepresentation finds a representation by name
func LookupRepresentation(s string) (Representation, bool) {
	for i, n := range repNames {
		if n == s {
			return Representation(i), true
		}
	}
	return Tagged, false
}

// IsUnboxedInteger reports whether r holds an unboxed integer
func (r Representation) IsUnboxedInteger() bool {
	return r == UnboxedInt32 || r == UnboxedUint32 || r == UnboxedInt64
}

// SlotKind identifies what a LoadField/StoreField accesses
type SlotKind uint8

const (
	SlotField SlotKind = iota
	SlotArrayLength
	SlotStringLength
	SlotTypedDataLength
)

// Slot describes a field of an object
type Slot struct {
	Kind SlotKind
	// Index of the field, for SlotField
	Index int
	// Immutable fields never change after the object is initialized
	Immutable bool
}

func (s Slot) String() string {
	switch s.Kind {
	case SlotArrayLength:
		return "array-length"
	case SlotStringLength:
		return "string-length"
	case SlotTypedDataLength:
		return "typed-data-length"
	}
	if s.Immutable {
		return fmt.Sprintf("final-field:%d", s.Index)
	}
	return fmt.Sprintf("field:%d", s.Index)
}

// IsImmutableLengthLoad reports whether s is the length of a fixed-size
// object
func (s Slot) IsImmutableLengthLoad() bool {
	return s.Kind == SlotArrayLength || s.Kind == SlotStringLength || s.Kind == SlotTypedDataLength
}

// Recognized identifies static call targets the compiler knows about
type Recognized uint8

const (
	RecognizedNone Recognized = iota
	RecognizedStringLength
	RecognizedStringEquality
	RecognizedMathMin
	RecognizedMathMax
)

var recognizedNames = []string{"", "string-length", "string-equality", "math-min", "math-max"}

func (r Recognized) String() string {
	if int(r) < len(recognizedNames) {
		return recognizedNames[r]
	}
	return fmt.Sprintf("recognized%d", uint8(r))
}

// LookupRecognized finds a recognized method kind by name
func LookupRecognized(s string) (Recognized, bool) {
	for i := 1; i < len(recognizedNames); i++ {
		if recognizedNames[i] == s {
			return Recognized(i), true
		}
	}
	return RecognizedNone, false
}

// DoubleTest is the predicate of a DoubleTestOp
type DoubleTest uint8

const (
	DoubleIsNaN DoubleTest = iota
	DoubleIsInfinite
	DoubleIsNegative
)

var doubleTestNames = []string{"is-nan", "is-infinite", "is-negative"}

func (d DoubleTest) String() string {
	if int(d) < len(doubleTestNames) {
		return doubleTestNames[d]
	}
	return fmt.Sprintf("double-test%d", uint8(d))
}

// LookupDoubleTest finds a double predicate by name
func LookupDoubleTest(s string) (DoubleTest, bool) {
	for i, n := range doubleTestNames {
		if n == s {
			return DoubleTest(i), true
		}
	}
	return DoubleIsNaN, false
}
