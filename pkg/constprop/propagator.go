// Package constprop implements sparse conditional constant propagation
// over the IL: an optimistic dataflow analysis that tracks a lattice
// value per definition together with block reachability, followed by a
// transformation that folds constants and deletes unreachable code.
package constprop

import (
	"log/slog"
	"math"

	"github.com/RoaringBitmap/roaring"

	"vmcore/pkg/config"
	"vmcore/pkg/il"
	"vmcore/pkg/lattice"
	"vmcore/pkg/object"
)

// ConstantPropagator holds the analysis state for one flow graph
type ConstantPropagator struct {
	graph *il.FlowGraph
	table *object.CanonicalTable
	opts  *config.Options
	log   *slog.Logger

	// reachable holds preorder numbers of blocks known to execute
	reachable *roaring.Bitmap
	// unwrappedPhis holds SSA indices of phis some fold relied on
	// collapsing to a single input
	unwrappedPhis *roaring.Bitmap
	// pending holds SSA indices currently in defWorklist
	pending *roaring.Bitmap

	blockWorklist []*il.Block
	defWorklist   []*il.Instr
	phiVisits     map[*il.Instr]int

	// OnSetValue, when set, observes every change of a definition's
	// lattice value
	OnSetValue func(def *il.Instr, from, to lattice.Value)
}

// New prepares constant propagation over g. A nil opts uses the defaults.
func New(g *il.FlowGraph, opts *config.Options) *ConstantPropagator {
	if opts == nil {
		opts = config.Default()
	}
	return &ConstantPropagator{
		graph:         g,
		table:         g.Canonical(),
		opts:          opts,
		log:           opts.Log().With("function", g.Name),
		reachable:     roaring.New(),
		unwrappedPhis: roaring.New(),
		pending:       roaring.New(),
		phiVisits:     make(map[*il.Instr]int),
	}
}

// Reachable reports whether the analysis found b to be executable
func (cp *ConstantPropagator) Reachable(b *il.Block) bool {
	return b.Preorder >= 0 && cp.reachable.Contains(uint32(b.Preorder))
}

// Analyze runs the fixpoint. Every definition starts Unknown and only
// the graph entry is reachable.
func (cp *ConstantPropagator) Analyze() {
	g := cp.graph
	if len(g.Preorder()) == 0 {
		g.DiscoverBlocks()
	}
	if !g.DominatorsValid() {
		g.ComputeDominators()
	}
	for _, def := range g.Definitions() {
		def.Value = lattice.Bottom()
	}
	cp.insertRedefinitionsAfterEqualityComparisons()

	cp.reachable.Clear()
	cp.unwrappedPhis.Clear()
	cp.pending.Clear()
	cp.blockWorklist = cp.blockWorklist[:0]
	cp.defWorklist = cp.defWorklist[:0]
	cp.phiVisits = make(map[*il.Instr]int)

	cp.setReachable(g.Entry)
	for {
		if n := len(cp.blockWorklist); n > 0 {
			b := cp.blockWorklist[n-1]
			cp.blockWorklist = cp.blockWorklist[:n-1]
			cp.visitBlock(b)
			continue
		}
		if n := len(cp.defWorklist); n > 0 {
			def := cp.defWorklist[n-1]
			cp.defWorklist = cp.defWorklist[:n-1]
			cp.pending.Remove(uint32(def.ID))
			uses := append([]*il.Use(nil), def.Uses()...)
			for _, u := range uses {
				cp.visit(u.User)
			}
			continue
		}
		break
	}
}

func (cp *ConstantPropagator) setReachable(b *il.Block) {
	if cp.reachable.CheckedAdd(uint32(b.Preorder)) {
		cp.blockWorklist = append(cp.blockWorklist, b)
	}
}

func (cp *ConstantPropagator) addToDefWorklist(def *il.Instr) {
	if cp.pending.CheckedAdd(uint32(def.ID)) {
		cp.defWorklist = append(cp.defWorklist, def)
	}
}

// setValue records a new lattice value and schedules the users of def.
// It reports whether the value changed.
func (cp *ConstantPropagator) setValue(def *il.Instr, v lattice.Value) bool {
	if def.Value.Same(v) {
		return false
	}
	if cp.OnSetValue != nil {
		cp.OnSetValue(def, def.Value, v)
	}
	def.Value = v
	if def.HasUses() {
		cp.addToDefWorklist(def)
	}
	return true
}

func (cp *ConstantPropagator) setConstant(def *il.Instr, o *object.Object) bool {
	return cp.setValue(def, lattice.Of(o))
}

func (cp *ConstantPropagator) setNonConstant(def *il.Instr) bool {
	return cp.setValue(def, lattice.Top())
}

// unwrapPhi returns the only input of a phi that flows from a reachable
// predecessor, nil when no predecessor is reachable, and the phi itself
// when several are. Other definitions are returned unchanged.
func (cp *ConstantPropagator) unwrapPhi(def *il.Instr) *il.Instr {
	if def.Op != il.OpPhi {
		return def
	}
	var input *il.Instr
	preds := def.Block().Preds
	for i := 0; i < def.InputCount(); i++ {
		if !cp.Reachable(preds[i]) {
			continue
		}
		if input != nil {
			return def
		}
		input = def.InputAt(i)
	}
	return input
}

func (cp *ConstantPropagator) markUnwrappedPhi(def *il.Instr) {
	if def.Op == il.OpPhi {
		cp.unwrappedPhis.Add(uint32(def.ID))
	}
}

func (cp *ConstantPropagator) visitBlock(b *il.Block) {
	switch b.Kind {
	case il.GraphEntry:
		for _, def := range b.InitialDefs {
			cp.visit(def)
		}
		for _, succ := range b.Successors() {
			cp.followEdge(succ)
		}
		return
	case il.FunctionEntry, il.OsrEntry, il.CatchEntry:
		for _, def := range b.InitialDefs {
			cp.visit(def)
		}
	case il.TryEntry:
		for _, succ := range b.Successors() {
			cp.followEdge(succ)
		}
		return
	}
	// Phis are visited from the predecessors' control instructions.
	for _, instr := range b.Instrs {
		cp.visit(instr)
	}
}

// followEdge makes succ reachable and revisits its phis, whose values
// depend on which predecessors are reachable
func (cp *ConstantPropagator) followEdge(succ *il.Block) {
	cp.setReachable(succ)
	for _, phi := range succ.Phis {
		cp.visitPhi(phi)
		if cp.unwrappedPhis.Contains(uint32(phi.ID)) && cp.unwrapPhi(phi) == phi {
			cp.unwrappedPhis.Remove(uint32(phi.ID))
			cp.addToDefWorklist(phi)
		}
	}
}

func (cp *ConstantPropagator) visit(instr *il.Instr) {
	switch instr.Op {
	case il.OpConstant, il.OpUnboxedConstant:
		cp.setConstant(instr, instr.Const)
	case il.OpPhi:
		cp.visitPhi(instr)
	case il.OpRedefinition:
		cp.visitRedefinition(instr)
	case il.OpStrictCompare:
		cp.visitStrictCompare(instr)
	case il.OpEqualityCompare:
		cp.visitEqualityCompare(instr)
	case il.OpRelationalOp:
		cp.visitRelationalOp(instr)
	case il.OpTestInt:
		cp.visitTestInt(instr)
	case il.OpTestRange:
		cp.visitTestRange(instr)
	case il.OpBinaryIntegerOp:
		cp.visitBinaryIntegerOp(instr)
	case il.OpUnaryIntegerOp:
		cp.visitUnaryIntegerOp(instr)
	case il.OpBinaryDoubleOp:
		cp.visitBinaryDoubleOp(instr)
	case il.OpUnaryDoubleOp:
		cp.visitUnaryDoubleOp(instr)
	case il.OpDoubleTestOp:
		cp.visitDoubleTestOp(instr)
	case il.OpInt64ToDouble:
		cp.visitInt64ToDouble(instr)
	case il.OpBox:
		cp.visitBox(instr)
	case il.OpUnbox:
		cp.visitUnbox(instr)
	case il.OpBooleanNegate:
		cp.visitBooleanNegate(instr)
	case il.OpIfThenElse:
		cp.visitIfThenElse(instr)
	case il.OpLoadIndexed:
		cp.visitLoadIndexed(instr)
	case il.OpLoadField:
		cp.visitLoadField(instr)
	case il.OpLoadClassId:
		cp.visitLoadClassId(instr)
	case il.OpStoreStaticField:
		cp.setValue(instr, instr.InputAt(0).Value)
	case il.OpInstanceOf:
		cp.visitInstanceOf(instr)
	case il.OpAssertAssignable:
		cp.visitAssertAssignable(instr)
	case il.OpStaticCall:
		cp.visitStaticCall(instr)
	case il.OpStringToCharCode:
		cp.visitStringToCharCode(instr)
	case il.OpOneByteStringFromCharCode:
		cp.visitOneByteStringFromCharCode(instr)

	// Checks may fail at run time, and the rest produce values the
	// analysis does not model.
	case il.OpParameter, il.OpCheckNull, il.OpCheckArrayBound, il.OpGenericCheckBound,
		il.OpCheckWritable, il.OpDoubleToInteger, il.OpIntConverter, il.OpLoadStaticField,
		il.OpInstanceCall, il.OpCreateArray, il.OpAllocateObject:
		cp.setNonConstant(instr)

	case il.OpGoto:
		cp.followEdge(instr.Successor())
	case il.OpBranch:
		cp.visitBranch(instr)
	case il.OpIndirectGoto:
		if cp.Reachable(instr.Block()) {
			for _, t := range instr.Targets {
				cp.followEdge(t)
			}
		}

	case il.OpStoreField, il.OpStoreIndexed, il.OpCheckSmi, il.OpCheckClass,
		il.OpCheckStackOverflow, il.OpReturn, il.OpThrow:
	default:
		panic(&il.InvariantError{Function: cp.graph.Name, Instr: instr.String(), Msg: "no constant propagation rule"})
	}
}

func (cp *ConstantPropagator) visitPhi(phi *il.Instr) {
	n := cp.phiVisits[phi] + 1
	cp.phiVisits[phi] = n
	if limit := cp.opts.PhiVisitMultiplier * phi.InputCount(); n > limit {
		err := &il.InvariantError{
			Function: cp.graph.Name,
			Instr:    phi.String(),
			Visits:   n,
			Msg:      "phi visited more often than its lattice height allows",
		}
		cp.log.Error("constant propagation does not converge", "phi", phi.Ref(), "visits", n, "limit", limit)
		cp.log.Debug("graph at failure", "il", il.Sprint(cp.graph))
		panic(err)
	}

	preds := phi.Block().Preds
	v := lattice.Bottom()
	for i := 0; i < phi.InputCount(); i++ {
		if cp.Reachable(preds[i]) {
			lattice.Join(&v, phi.InputAt(i).Value)
		}
	}
	cp.setValue(phi, v)
}

func (cp *ConstantPropagator) visitRedefinition(instr *il.Instr) {
	// Scaffolding redefinitions keep the value given at insertion.
	if instr.InsertedByConstProp {
		return
	}
	if v := instr.InputAt(0).Value; v.IsConstant() {
		cp.setValue(instr, v)
		return
	}
	cp.setNonConstant(instr)
}

func (cp *ConstantPropagator) visitBranch(instr *il.Instr) {
	if !cp.Reachable(instr.Block()) {
		return
	}
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.followEdge(instr.TrueSuccessor())
		cp.followEdge(instr.FalseSuccessor())
	case v.IsConstant() && v.Object() == object.True:
		cp.followEdge(instr.TrueSuccessor())
	case v.IsConstant():
		cp.followEdge(instr.FalseSuccessor())
	}
}

// foldSameOperands folds comparisons of a value with itself. It reports
// whether both operands unwrap to the same definition.
func (cp *ConstantPropagator) foldSameOperands(instr *il.Instr, result bool) bool {
	left, right := instr.InputAt(0), instr.InputAt(1)
	if cp.unwrapPhi(left) != cp.unwrapPhi(right) {
		return false
	}
	if cp.setConstant(instr, object.Bool(result)) {
		cp.markUnwrappedPhi(left)
		cp.markUnwrappedPhi(right)
	}
	return true
}

func (cp *ConstantPropagator) visitStrictCompare(instr *il.Instr) {
	eq := instr.Kind == il.TokEQStrict
	if cp.foldSameOperands(instr, eq) {
		return
	}
	left, right := instr.InputAt(0).Value, instr.InputAt(1).Value
	leftType, rightType := instr.InputAt(0).CompileType(), instr.InputAt(1).CompileType()
	switch {
	case left.IsNonConstant() || right.IsNonConstant():
		if (isSentinel(left) && !rightType.CanBeSentinel) || (isSentinel(right) && !leftType.CanBeSentinel) {
			cp.setConstant(instr, object.Bool(!eq))
			return
		}
		if isNull(left) && rightType.HasDecidableNullability() {
			cp.setConstant(instr, object.Bool(rightType.IsNull() == eq))
			return
		}
		if isNull(right) && leftType.HasDecidableNullability() {
			cp.setConstant(instr, object.Bool(leftType.IsNull() == eq))
			return
		}
		lc, rc := leftType.ToCid(), rightType.ToCid()
		if lc != object.CidDynamic && rc != object.CidDynamic && lc != rc {
			cp.setConstant(instr, object.Bool(!eq))
			return
		}
		cp.setNonConstant(instr)
	case left.IsConstant() && right.IsConstant():
		cp.setConstant(instr, object.Bool(object.IsIdentical(left.Object(), right.Object()) == eq))
	}
}

func isSentinel(v lattice.Value) bool { return v.IsConstant() && v.Object().IsSentinel() }
func isNull(v lattice.Value) bool     { return v.IsConstant() && v.Object().IsNull() }

func (cp *ConstantPropagator) visitEqualityCompare(instr *il.Instr) {
	eq := instr.Kind == il.TokEQ
	if !instr.IsFloatingPoint() && cp.foldSameOperands(instr, eq) {
		return
	}
	left, right := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case left.IsNonConstant() || right.IsNonConstant():
		cp.setNonConstant(instr)
	case left.IsConstant() && right.IsConstant():
		l, r := left.Object(), right.Object()
		switch {
		case l.IsInteger() && r.IsInteger():
			result, _ := CompareIntegers(instr.Kind, l, r)
			cp.setConstant(instr, object.Bool(result))
		case l.IsString() && r.IsString():
			cp.setConstant(instr, object.Bool(object.StringEquals(l, r) == eq))
		default:
			cp.setNonConstant(instr)
		}
	}
}

func (cp *ConstantPropagator) visitRelationalOp(instr *il.Instr) {
	left, right := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case left.IsNonConstant() || right.IsNonConstant():
		cp.setNonConstant(instr)
	case left.IsConstant() && right.IsConstant():
		l, r := left.Object(), right.Object()
		if l.IsInteger() && r.IsInteger() {
			if result, ok := CompareIntegers(instr.Kind, l, r); ok {
				cp.setConstant(instr, object.Bool(result))
				return
			}
		}
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitTestInt(instr *il.Instr) {
	left, right := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case left.IsNonConstant() || right.IsNonConstant():
		cp.setNonConstant(instr)
	case left.IsConstant() && right.IsConstant():
		l, r := left.Object(), right.Object()
		if !l.IsInteger() || !r.IsInteger() {
			cp.setNonConstant(instr)
			return
		}
		zero := l.IntValue()&r.IntValue() == 0
		cp.setConstant(instr, object.Bool(zero == (instr.Kind == il.TokEQ)))
	}
}

func (cp *ConstantPropagator) visitTestRange(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		o := v.Object()
		if !o.IsSmi() {
			cp.setNonConstant(instr)
			return
		}
		in := instr.Lower <= o.IntValue() && o.IntValue() <= instr.Upper
		cp.setConstant(instr, object.Bool(in == (instr.Kind == il.TokIS)))
	}
}

func (cp *ConstantPropagator) visitBinaryIntegerOp(instr *il.Instr) {
	left, right := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case left.IsNonConstant() || right.IsNonConstant():
		cp.setNonConstant(instr)
	case left.IsConstant() && right.IsConstant():
		result := BinaryIntegerEvaluate(cp.table, left.Object(), right.Object(), instr.Kind, instr.Truncating, instr.Rep)
		if result == nil {
			cp.setNonConstant(instr)
			return
		}
		cp.setConstant(instr, result)
	}
}

func (cp *ConstantPropagator) visitUnaryIntegerOp(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		result := UnaryIntegerEvaluate(cp.table, v.Object(), instr.Kind, instr.Truncating, instr.Rep)
		if result == nil {
			cp.setNonConstant(instr)
			return
		}
		cp.setConstant(instr, result)
	}
}

func isIntegerOrDouble(o *object.Object) bool { return o.IsInteger() || o.IsDouble() }

func (cp *ConstantPropagator) visitBinaryDoubleOp(instr *il.Instr) {
	left, right := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case left.IsNonConstant() || right.IsNonConstant():
		cp.setNonConstant(instr)
	case left.IsConstant() && right.IsConstant():
		l, r := left.Object(), right.Object()
		if isIntegerOrDouble(l) && isIntegerOrDouble(r) && !(l.IsInteger() && r.IsInteger()) {
			if d, ok := BinaryDoubleEvaluate(l.ToDouble(), r.ToDouble(), instr.Kind); ok {
				cp.setConstant(instr, cp.table.Double(d))
				return
			}
		}
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitUnaryDoubleOp(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		if o := v.Object(); o.IsDouble() {
			if d, ok := UnaryDoubleEvaluate(o.DoubleValue(), instr.Kind); ok {
				cp.setConstant(instr, cp.table.Double(d))
				return
			}
		}
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitDoubleTestOp(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		o := v.Object()
		var result bool
		switch {
		case o.IsInteger():
			result = instr.DoubleTest == il.DoubleIsNegative && o.IntValue() < 0
		case o.IsDouble():
			d := o.DoubleValue()
			switch instr.DoubleTest {
			case il.DoubleIsNaN:
				result = math.IsNaN(d)
			case il.DoubleIsInfinite:
				result = math.IsInf(d, 0)
			case il.DoubleIsNegative:
				result = !math.IsNaN(d) && math.Signbit(d)
			}
		default:
			cp.setNonConstant(instr)
			return
		}
		cp.setConstant(instr, object.Bool(result != instr.Negated))
	}
}

func (cp *ConstantPropagator) visitInt64ToDouble(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		if o := v.Object(); o.IsInteger() {
			cp.setConstant(instr, cp.table.Double(float64(o.IntValue())))
			return
		}
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitBox(instr *il.Instr) {
	in := instr.InputAt(0)
	if in.Rep != instr.FromRep {
		cp.setNonConstant(instr)
		return
	}
	cp.setValue(instr, in.Value)
}

func (cp *ConstantPropagator) visitUnbox(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		o := v.Object()
		switch {
		case instr.Rep.IsUnboxedInteger() && o.IsInteger():
			cp.setConstant(instr, cp.table.Integer(TruncateTo(o.IntValue(), instr.Rep)))
		case instr.Rep == il.UnboxedDouble && o.IsDouble():
			cp.setConstant(instr, o)
		default:
			cp.setNonConstant(instr)
		}
	}
}

func (cp *ConstantPropagator) visitBooleanNegate(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsUnknown():
	case v.IsConstant() && v.Object().IsBool():
		cp.setConstant(instr, object.Bool(!v.Object().BoolValue()))
	default:
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitIfThenElse(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsUnknown():
	case v.IsConstant() && v.Object().IsBool():
		result := instr.IfFalse
		if v.Object().BoolValue() {
			result = instr.IfTrue
		}
		cp.setConstant(instr, cp.table.Integer(result))
	default:
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitLoadIndexed(instr *il.Instr) {
	array, index := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case array.IsNonConstant() || index.IsNonConstant():
		cp.setNonConstant(instr)
	case array.IsConstant() && index.IsConstant():
		a, i := array.Object(), index.Object()
		if !i.IsSmi() || i.IntValue() < 0 {
			cp.setNonConstant(instr)
			return
		}
		n := i.IntValue()
		switch {
		case a.IsString() && n < int64(a.Length()):
			cp.setConstant(instr, object.NewSmi(a.CharAt(int(n))))
		case a.IsArray() && a.IsImmutable() && n < int64(a.Length()):
			cp.setConstant(instr, a.At(int(n)))
		default:
			cp.setNonConstant(instr)
		}
	}
}

func (cp *ConstantPropagator) visitLoadField(instr *il.Instr) {
	inst := instr.InputAt(0)
	if instr.Slot.Kind == il.SlotArrayLength {
		if orig := inst.OriginalDefinition(); orig.Op == il.OpCreateArray {
			if n := orig.InputAt(0); n.BindsToConstant() && n.Const.IsSmi() {
				cp.setConstant(instr, n.Const)
				return
			}
		}
	}

	v := inst.Value
	if v.IsConstant() {
		o := v.Object()
		switch {
		case instr.Slot.IsImmutableLengthLoad():
			if o.IsString() || o.IsArray() || o.IsTypedData() {
				cp.setConstant(instr, object.NewSmi(int64(o.Length())))
				return
			}
		case instr.Slot.Immutable && o.IsInstance() && instr.Slot.Index < o.NumFields():
			cp.setConstant(instr, o.Field(instr.Slot.Index))
			return
		}
	}
	cp.setNonConstant(instr)
}

func (cp *ConstantPropagator) visitLoadClassId(instr *il.Instr) {
	in := instr.InputAt(0)
	if cid := in.CompileType().ToCid(); cid != object.CidDynamic {
		cp.setConstant(instr, object.NewSmi(int64(cid)))
		return
	}
	if v := in.Value; v.IsConstant() {
		cp.setConstant(instr, object.NewSmi(int64(v.Object().Cid())))
		return
	}
	cp.setNonConstant(instr)
}

func (cp *ConstantPropagator) visitInstanceOf(instr *il.Instr) {
	def := instr.InputAt(0)
	v := def.Value
	checked := instr.TestType
	switch {
	case checked.IsTopTypeForInstanceOf():
		cp.setConstant(instr, object.True)
	case v.IsNonConstant():
		rep := def.Rep
		if (checked.IsFloat32x4Type() && rep == il.UnboxedFloat32x4) ||
			(checked.IsInt32x4Type() && rep == il.UnboxedInt32x4) ||
			(checked.IsDoubleType() && rep == il.UnboxedDouble) ||
			(checked.IsIntType() && rep == il.UnboxedInt64) {
			cp.setConstant(instr, object.True)
			return
		}
		cp.setNonConstant(instr)
	case v.IsConstant():
		o := v.Object()
		if !o.IsSentinel() && instr.InputAt(1).BindsToConstantNull() && instr.InputAt(2).BindsToConstantNull() {
			cp.setConstant(instr, object.Bool(o.IsInstanceOf(checked)))
			return
		}
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitAssertAssignable(instr *il.Instr) {
	v, dst := instr.InputAt(0).Value, instr.InputAt(1).Value
	switch {
	case v.IsNonConstant() || dst.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant() && dst.IsConstant():
		if t := dst.Object(); t.IsAbstractType() && instr.InputAt(0).CompileType().IsSubtypeOf(t.TypeValue()) {
			cp.setValue(instr, v)
			return
		}
		cp.setNonConstant(instr)
	}
}

func (cp *ConstantPropagator) visitStaticCall(instr *il.Instr) {
	if instr.Recognized != il.RecognizedNone && (instr.InputCount() == 1 || instr.InputCount() == 2) {
		args := make([]*object.Object, 0, instr.InputCount())
		allConstant := true
		for i := 0; i < instr.InputCount(); i++ {
			v := instr.InputAt(i).Value
			if v.IsUnknown() {
				return
			}
			if !v.IsConstant() {
				allConstant = false
				break
			}
			args = append(args, v.Object())
		}
		if allConstant {
			if result := evaluateRecognized(cp.table, instr.Recognized, args); result != nil {
				cp.setConstant(instr, result)
				return
			}
		}
	}
	if instr.Recognized == il.RecognizedStringEquality && instr.InputCount() == 2 {
		// Identity implies equality.
		if instr.InputAt(0).OriginalDefinition() == instr.InputAt(1).OriginalDefinition() {
			cp.setConstant(instr, object.True)
			return
		}
	}
	cp.setNonConstant(instr)
}

func (cp *ConstantPropagator) visitStringToCharCode(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		o := v.Object()
		if !o.IsString() {
			cp.setNonConstant(instr)
			return
		}
		code := int64(-1)
		if o.Length() == 1 {
			code = o.CharAt(0)
		}
		cp.setConstant(instr, object.NewSmi(code))
	}
}

// maxOneCharCode bounds the predefined one-character strings
const maxOneCharCode = 0xFF

func (cp *ConstantPropagator) visitOneByteStringFromCharCode(instr *il.Instr) {
	v := instr.InputAt(0).Value
	switch {
	case v.IsNonConstant():
		cp.setNonConstant(instr)
	case v.IsConstant():
		o := v.Object()
		if !o.IsSmi() || o.IntValue() < 0 || o.IntValue() >= maxOneCharCode {
			cp.setNonConstant(instr)
			return
		}
		cp.setConstant(instr, cp.table.String(string([]byte{byte(o.IntValue())})))
	}
}
