package il

import (
	"vmcore/pkg/lattice"
	"vmcore/pkg/object"
)

// Use is one input edge: User consumes the value of Def as its
// Index-th input.
type Use struct {
	Def   *Instr
	User  *Instr
	Index int
}

// Instr is a single IL instruction. Definitions (instructions whose Op
// produces a value) carry an SSA index and a constant-propagation cell.
type Instr struct {
	Op Op
	// SSA temp index for definitions, -1 otherwise
	ID int

	block  *Block
	inputs []*Use
	uses   []*Use

	// Value is the lattice cell written by constant propagation
	Value lattice.Value

	// Const is the value of Constant and UnboxedConstant
	Const *object.Object
	// Rep is the representation of the result
	Rep Representation
	// FromRep is the representation of the input for Box and
	// IntConverter, and the operand representation of comparisons
	FromRep Representation
	// Kind is the operator of comparisons and arithmetic
	Kind Token
	// StaticType is the declared type of the result
	StaticType object.CompileType
	// TestType is the type tested by InstanceOf
	TestType *object.AbstractType
	Slot     Slot
	// Name is the target of calls, the field of static field accesses
	// and the name of parameters
	Name       string
	Recognized Recognized
	DoubleTest DoubleTest
	// Negated inverts DoubleTestOp
	Negated    bool
	Truncating bool
	// IfTrue and IfFalse are the results of IfThenElse
	IfTrue, IfFalse int64
	// Lower and Upper bound TestRange
	Lower, Upper int64
	// Index is the position of a Parameter; for AllocateObject it is the
	// class id
	Index int
	// InsertedByConstProp marks scaffolding redefinitions
	InsertedByConstProp bool
	// Targets are the successors of Goto, Branch (true, false) and
	// IndirectGoto
	Targets []*Block
}

// NewInstr creates a detached instruction. Input uses are registered
// with their definitions when the instruction is linked into a block.
func NewInstr(op Op, inputs ...*Instr) *Instr {
	instr := &Instr{
		Op:         op,
		ID:         -1,
		StaticType: object.DynamicCompileType(),
	}
	instr.inputs = make([]*Use, len(inputs))
	for i, def := range inputs {
		instr.inputs[i] = &Use{Def: def, User: instr, Index: i}
	}
	return instr
}

// Block returns the block containing instr, or nil when detached
func (instr *Instr) Block() *Block { return instr.block }

// IsDefinition reports whether instr produces a value
func (instr *Instr) IsDefinition() bool { return instr.Op.IsDefinition() }

// InputCount returns the number of inputs
func (instr *Instr) InputCount() int { return len(instr.inputs) }

// InputAt returns the definition used as input i
func (instr *Instr) InputAt(i int) *Instr { return instr.inputs[i].Def }

// UseAt returns the use edge for input i
func (instr *Instr) UseAt(i int) *Use { return instr.inputs[i] }

// Uses returns the input uses of a definition in registration order
func (instr *Instr) Uses() []*Use { return instr.uses }

// HasUses reports whether any instruction consumes this definition
func (instr *Instr) HasUses() bool { return len(instr.uses) > 0 }

// HasUnknownSideEffects reports whether the instruction may have effects
// other than producing its value
func (instr *Instr) HasUnknownSideEffects() bool {
	return opInfos[instr.Op].sideEffects
}

// Successor returns the target of a Goto
func (instr *Instr) Successor() *Block { return instr.Targets[0] }

// TrueSuccessor returns the true target of a Branch
func (instr *Instr) TrueSuccessor() *Block { return instr.Targets[0] }

// FalseSuccessor returns the false target of a Branch
func (instr *Instr) FalseSuccessor() *Block { return instr.Targets[1] }

// IsFloatingPoint reports whether a comparison operates on doubles
func (instr *Instr) IsFloatingPoint() bool { return instr.FromRep == UnboxedDouble }

// CompileType returns the static type of the value
func (instr *Instr) CompileType() object.CompileType {
	switch instr.Op {
	case OpConstant, OpUnboxedConstant:
		return object.CompileTypeOf(instr.Const)
	case OpRedefinition:
		if instr.StaticType.Cid == object.CidDynamic {
			return instr.InputAt(0).CompileType()
		}
	case OpCheckNull:
		ct := instr.InputAt(0).CompileType()
		ct.Nullable = false
		return ct
	case OpStrictCompare, OpEqualityCompare, OpRelationalOp, OpTestInt,
		OpTestRange, OpDoubleTestOp, OpBooleanNegate, OpInstanceOf:
		return object.CompileType{Cid: object.CidBool}
	}
	return instr.StaticType
}

// BindsToConstant reports whether instr is a Constant
func (instr *Instr) BindsToConstant() bool {
	return instr.Op == OpConstant || instr.Op == OpUnboxedConstant
}

// BindsToConstantNull reports whether instr is the constant null
func (instr *Instr) BindsToConstantNull() bool {
	return instr.BindsToConstant() && instr.Const.IsNull()
}

// OriginalDefinition strips redefinitions and checks that pass their
// input through
func (instr *Instr) OriginalDefinition() *Instr {
	def := instr
	for {
		switch def.Op {
		case OpRedefinition, OpCheckNull, OpCheckWritable, OpAssertAssignable:
			def = def.InputAt(0)
		case OpCheckArrayBound, OpGenericCheckBound:
			def = def.InputAt(1)
		default:
			return def
		}
	}
}

// IsComparisonWithConstant matches `v op c` and `c op v` where c is a
// Constant. It returns the non-constant side and the constant.
func (instr *Instr) IsComparisonWithConstant() (value *Instr, constant *Instr, ok bool) {
	if len(instr.inputs) != 2 {
		return nil, nil, false
	}
	left, right := instr.InputAt(0), instr.InputAt(1)
	if right.Op == OpConstant {
		return left, right, true
	}
	if left.Op == OpConstant {
		return right, left, true
	}
	return nil, nil, false
}

// linkInputs registers instr as a user of each of its inputs
func (instr *Instr) linkInputs() {
	for _, u := range instr.inputs {
		u.Def.addUse(u)
	}
}

func (instr *Instr) addUse(u *Use) {
	instr.uses = append(instr.uses, u)
}

// RemoveFromUseList unlinks a use edge from its definition
func (u *Use) RemoveFromUseList() {
	def := u.Def
	for i, other := range def.uses {
		if other == u {
			def.uses = append(def.uses[:i], def.uses[i+1:]...)
			return
		}
	}
}

// BindTo redirects the use to another definition
func (u *Use) BindTo(def *Instr) {
	u.RemoveFromUseList()
	u.Def = def
	def.addUse(u)
}

// SetInputs replaces all inputs of a detached instruction
func (instr *Instr) SetInputs(inputs ...*Instr) {
	if instr.block != nil {
		panic("il: SetInputs on linked instruction " + instr.String())
	}
	instr.inputs = make([]*Use, len(inputs))
	for i, def := range inputs {
		instr.inputs[i] = &Use{Def: def, User: instr, Index: i}
	}
}

// SetInputAt replaces input i with def
func (instr *Instr) SetInputAt(i int, def *Instr) {
	u := instr.inputs[i]
	if instr.block != nil {
		u.BindTo(def)
		return
	}
	u.Def = def
}

// MoveInput puts the use held in slot from into slot to. Whatever slot
// to held before must already be unlinked or moved elsewhere.
func (instr *Instr) MoveInput(to, from int) {
	u := instr.inputs[from]
	u.Index = to
	instr.inputs[to] = u
}

// TruncateInputs drops inputs past n. The dropped uses must already
// have been removed from their use lists.
func (instr *Instr) TruncateInputs(n int) {
	instr.inputs = instr.inputs[:n]
}

// UnuseAllInputs removes all input uses of instr
func (instr *Instr) UnuseAllInputs() {
	for _, u := range instr.inputs {
		u.RemoveFromUseList()
	}
}

// ReplaceUsesWith redirects every use of instr to other
func (instr *Instr) ReplaceUsesWith(other *Instr) {
	if instr == other {
		return
	}
	for _, u := range instr.uses {
		u.Def = other
		other.uses = append(other.uses, u)
	}
	instr.uses = nil
}
