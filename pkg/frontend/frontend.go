// Package frontend lowers Go functions to IL. Source is type checked and
// converted to SSA form by golang.org/x/tools/go/ssa; integer, boolean,
// float64 and string arithmetic, comparisons and control flow map onto IL
// instructions the optimizer understands. Everything else becomes an
// opaque static call.
package frontend

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/importer"
	"go/parser"
	"go/token"
	"go/types"
	"sort"
	"strings"

	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"

	"vmcore/pkg/il"
	"vmcore/pkg/object"
)

// BuildSource type checks a single Go file and lowers every function
// with a body, in source order. Closures follow their enclosing function.
func BuildSource(filename, src string) ([]*il.FlowGraph, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	pkg := types.NewPackage(f.Name.Name, f.Name.Name)
	conf := &types.Config{Importer: importer.Default()}
	ssaPkg, _, err := ssautil.BuildPackage(conf, fset, pkg, []*ast.File{f}, ssa.SanityCheckFunctions)
	if err != nil {
		return nil, err
	}

	var graphs []*il.FlowGraph
	for _, fn := range sourceFunctions(ssaPkg) {
		g, err := Lower(fn)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

func sourceFunctions(pkg *ssa.Package) []*ssa.Function {
	var fns []*ssa.Function
	var add func(fn *ssa.Function)
	add = func(fn *ssa.Function) {
		if fn.Blocks == nil || fn.Synthetic != "" {
			return
		}
		fns = append(fns, fn)
		for _, anon := range fn.AnonFuncs {
			add(anon)
		}
	}
	var top []*ssa.Function
	for _, m := range pkg.Members {
		if fn, ok := m.(*ssa.Function); ok {
			top = append(top, fn)
		}
	}
	sort.Slice(top, func(i, j int) bool { return top[i].Pos() < top[j].Pos() })
	for _, fn := range top {
		add(fn)
	}
	return fns
}

type pendingInstr struct {
	instr    *il.Instr
	operands []ssa.Value
	block    *il.Block
	// resolved instructions already carry their inputs
	resolved bool
}

type splitKey struct {
	from, succ int
}

type lowering struct {
	fn     *ssa.Function
	g      *il.FlowGraph
	blocks []*il.Block
	values map[ssa.Value]*il.Instr
	// opaque values without a defining instruction, hoisted into the
	// function entry
	hoisted []*il.Instr
	params  []*il.Instr
	pending []*pendingInstr
	splits  map[splitKey]*il.Block
}

// Lower converts one SSA function to a verified flow graph
func Lower(fn *ssa.Function) (*il.FlowGraph, error) {
	if len(fn.Blocks) == 0 {
		return nil, fmt.Errorf("%s has no body", fn.Name())
	}
	if len(fn.Blocks[0].Preds) != 0 {
		return nil, fmt.Errorf("%s: entry block has predecessors", fn.Name())
	}
	l := &lowering{
		fn:     fn,
		g:      il.New(fn.Name()),
		values: make(map[ssa.Value]*il.Instr),
		splits: make(map[splitKey]*il.Block),
	}
	l.createBlocks()
	l.createParameters()
	for _, b := range fn.Blocks {
		l.lowerBlock(b)
	}
	for _, p := range l.pending {
		if p.resolved {
			continue
		}
		inputs := make([]*il.Instr, len(p.operands))
		for i, v := range p.operands {
			inputs[i] = l.value(v)
		}
		p.instr.SetInputs(inputs...)
	}
	l.link()

	l.g.DiscoverBlocks()
	if err := l.g.Verify(); err != nil {
		return nil, err
	}
	return l.g, nil
}

func (l *lowering) createBlocks() {
	l.blocks = make([]*il.Block, len(l.fn.Blocks))
	for _, b := range l.fn.Blocks {
		kind := il.JoinEntry
		switch {
		case b.Index == 0:
			kind = il.FunctionEntry
		case len(b.Preds) == 1 && endsInIf(b.Preds[0]):
			kind = il.TargetEntry
		}
		l.blocks[b.Index] = l.g.NewBlock(kind)
	}
	l.g.Entry.Succs = []*il.Block{l.blocks[0]}

	// Branches target blocks with a single predecessor; edges into
	// joins go through a block of their own.
	for _, b := range l.fn.Blocks {
		if endsInIf(b) {
			l.branchTarget(b, 0)
			l.branchTarget(b, 1)
		}
	}
}

func endsInIf(b *ssa.BasicBlock) bool {
	if len(b.Instrs) == 0 {
		return false
	}
	_, ok := b.Instrs[len(b.Instrs)-1].(*ssa.If)
	return ok
}

func (l *lowering) branchTarget(from *ssa.BasicBlock, succ int) *il.Block {
	to := l.blocks[from.Succs[succ].Index]
	if to.Kind == il.TargetEntry {
		return to
	}
	key := splitKey{from.Index, succ}
	if split, ok := l.splits[key]; ok {
		return split
	}
	split := l.g.NewBlock(il.TargetEntry)
	jump := il.NewInstr(il.OpGoto)
	jump.Targets = []*il.Block{to}
	split.Append(jump)
	l.splits[key] = split
	return split
}

// predecessor returns the IL block control leaves for b along the k-th
// entry of b.Preds
func (l *lowering) predecessor(b *ssa.BasicBlock, k int) *il.Block {
	p := b.Preds[k]
	if !endsInIf(p) {
		return l.blocks[p.Index]
	}
	nth := 0
	for _, q := range b.Preds[:k] {
		if q == p {
			nth++
		}
	}
	for i, s := range p.Succs {
		if s != b {
			continue
		}
		if nth == 0 {
			return l.branchTarget(p, i)
		}
		nth--
	}
	panic(fmt.Sprintf("frontend: %s is not a successor of %s", b, p))
}

func (l *lowering) createParameters() {
	add := func(v ssa.Value) {
		param := il.NewInstr(il.OpParameter)
		param.Index = len(l.params)
		param.Name = v.Name()
		param.StaticType = staticType(v.Type())
		l.params = append(l.params, param)
		l.values[v] = param
	}
	for _, p := range l.fn.Params {
		add(p)
	}
	for _, fv := range l.fn.FreeVars {
		add(fv)
	}
}

func staticType(t types.Type) object.CompileType {
	if b, ok := t.Underlying().(*types.Basic); ok {
		switch {
		case b.Info()&types.IsBoolean != 0:
			return object.CompileType{Cid: object.CidBool}
		case b.Kind() == types.Float64:
			return object.CompileType{Cid: object.CidDouble}
		case b.Info()&types.IsString != 0:
			return object.CompileType{Cid: object.CidOneByteString}
		}
	}
	return object.DynamicCompileType()
}

func (l *lowering) emit(b *ssa.BasicBlock, instr *il.Instr, operands ...ssa.Value) *il.Instr {
	l.pending = append(l.pending, &pendingInstr{instr: instr, operands: operands, block: l.blocks[b.Index]})
	return instr
}

// emitResolved queues an instruction whose inputs are already set
func (l *lowering) emitResolved(b *ssa.BasicBlock, instr *il.Instr) *il.Instr {
	l.pending = append(l.pending, &pendingInstr{instr: instr, block: l.blocks[b.Index], resolved: true})
	return instr
}

func (l *lowering) lowerBlock(b *ssa.BasicBlock) {
	for _, instr := range b.Instrs {
		var def *il.Instr
		switch instr := instr.(type) {
		case *ssa.DebugRef:
			continue
		case *ssa.Phi:
			def = il.NewInstr(il.OpPhi)
			l.emit(b, def, l.phiEdges(b, instr)...)
		case *ssa.BinOp:
			def = l.lowerBinOp(b, instr)
		case *ssa.UnOp:
			def = l.lowerUnOp(b, instr)
		case *ssa.Call:
			def = l.lowerCall(b, instr)
		case *ssa.If:
			branch := il.NewInstr(il.OpBranch)
			branch.Targets = []*il.Block{l.branchTarget(b, 0), l.branchTarget(b, 1)}
			l.emit(b, branch, instr.Cond)
		case *ssa.Jump:
			jump := il.NewInstr(il.OpGoto)
			jump.Targets = []*il.Block{l.blocks[b.Succs[0].Index]}
			l.emit(b, jump)
		case *ssa.Return:
			l.lowerReturn(b, instr)
		case *ssa.Panic:
			l.emit(b, il.NewInstr(il.OpThrow), instr.X)
		default:
			def = l.opaque(b, instr, opaqueName(instr))
		}
		if v, ok := instr.(ssa.Value); ok && def != nil {
			l.values[v] = def
		}
	}
}

// phiEdges orders the incoming values of phi by the ids of the IL
// predecessors they flow from
func (l *lowering) phiEdges(b *ssa.BasicBlock, phi *ssa.Phi) []ssa.Value {
	type edge struct {
		pred  *il.Block
		value ssa.Value
	}
	edges := make([]edge, len(phi.Edges))
	for k, v := range phi.Edges {
		edges[k] = edge{l.predecessor(b, k), v}
	}
	sort.SliceStable(edges, func(i, j int) bool { return edges[i].pred.ID < edges[j].pred.ID })
	values := make([]ssa.Value, len(edges))
	for i, e := range edges {
		values[i] = e.value
	}
	return values
}

type class int

const (
	classOther class = iota
	classInt
	classBool
	classDouble
	classString
)

func classify(t types.Type) (class, il.Representation) {
	b, ok := t.Underlying().(*types.Basic)
	if !ok {
		return classOther, il.Tagged
	}
	switch b.Kind() {
	case types.Int, types.Int64:
		return classInt, il.UnboxedInt64
	case types.Int32:
		return classInt, il.UnboxedInt32
	case types.Uint32:
		return classInt, il.UnboxedUint32
	case types.Bool, types.UntypedBool:
		return classBool, il.Tagged
	case types.Float64:
		return classDouble, il.UnboxedDouble
	case types.String:
		return classString, il.Tagged
	}
	return classOther, il.Tagged
}

var arithmetic = map[token.Token]il.Token{
	token.ADD: il.TokADD,
	token.SUB: il.TokSUB,
	token.MUL: il.TokMUL,
	token.QUO: il.TokTRUNCDIV,
	token.REM: il.TokREM,
	token.AND: il.TokBitAnd,
	token.OR:  il.TokBitOr,
	token.XOR: il.TokBitXor,
	token.SHL: il.TokSHL,
	token.SHR: il.TokSHR,
}

var comparisons = map[token.Token]il.Token{
	token.EQL: il.TokEQ,
	token.NEQ: il.TokNE,
	token.LSS: il.TokLT,
	token.GTR: il.TokGT,
	token.LEQ: il.TokLTE,
	token.GEQ: il.TokGTE,
}

func (l *lowering) lowerBinOp(b *ssa.BasicBlock, bin *ssa.BinOp) *il.Instr {
	cls, rep := classify(bin.X.Type())
	if cmp, ok := comparisons[bin.Op]; ok {
		return l.lowerComparison(b, bin, cls, rep, cmp)
	}
	switch cls {
	case classInt:
		kind, ok := arithmetic[bin.Op]
		if !ok {
			break
		}
		instr := il.NewInstr(il.OpBinaryIntegerOp)
		instr.Kind, instr.Rep = kind, rep
		return l.emit(b, instr, bin.X, bin.Y)
	case classDouble:
		kind, ok := arithmetic[bin.Op]
		if !ok || kind == il.TokREM || kind > il.TokREM {
			break
		}
		if kind == il.TokTRUNCDIV {
			kind = il.TokDIV
		}
		instr := il.NewInstr(il.OpBinaryDoubleOp)
		instr.Kind, instr.Rep = kind, rep
		return l.emit(b, instr, bin.X, bin.Y)
	}
	return l.opaque(b, bin, "binop"+bin.Op.String())
}

func (l *lowering) lowerComparison(b *ssa.BasicBlock, bin *ssa.BinOp, cls class, rep il.Representation, kind il.Token) *il.Instr {
	equality := kind == il.TokEQ || kind == il.TokNE
	switch {
	case cls == classBool && equality:
		instr := il.NewInstr(il.OpStrictCompare)
		instr.Kind = il.TokEQStrict
		if kind == il.TokNE {
			instr.Kind = il.TokNEStrict
		}
		return l.emit(b, instr, bin.X, bin.Y)
	case cls == classInt || cls == classDouble:
		op := il.OpRelationalOp
		if equality {
			op = il.OpEqualityCompare
		}
		instr := il.NewInstr(op)
		instr.Kind, instr.FromRep = kind, rep
		return l.emit(b, instr, bin.X, bin.Y)
	case cls == classString && equality:
		eq := il.NewInstr(il.OpStaticCall)
		eq.Name = "string.=="
		eq.Recognized = il.RecognizedStringEquality
		l.emit(b, eq, bin.X, bin.Y)
		if kind == il.TokEQ {
			return eq
		}
		return l.emitResolved(b, il.NewInstr(il.OpBooleanNegate, eq))
	}
	return l.opaque(b, bin, "binop"+bin.Op.String())
}

func (l *lowering) lowerUnOp(b *ssa.BasicBlock, un *ssa.UnOp) *il.Instr {
	cls, rep := classify(un.X.Type())
	switch {
	case cls == classBool && un.Op == token.NOT:
		return l.emit(b, il.NewInstr(il.OpBooleanNegate), un.X)
	case cls == classInt && (un.Op == token.SUB || un.Op == token.XOR):
		instr := il.NewInstr(il.OpUnaryIntegerOp)
		instr.Kind, instr.Rep = il.TokNEGATE, rep
		if un.Op == token.XOR {
			instr.Kind = il.TokBitNot
		}
		return l.emit(b, instr, un.X)
	case cls == classDouble && un.Op == token.SUB:
		instr := il.NewInstr(il.OpUnaryDoubleOp)
		instr.Kind, instr.Rep = il.TokNEGATE, rep
		return l.emit(b, instr, un.X)
	}
	return l.opaque(b, un, "unop"+un.Op.String())
}

func (l *lowering) lowerCall(b *ssa.BasicBlock, call *ssa.Call) *il.Instr {
	common := call.Common()
	if builtin, ok := common.Value.(*ssa.Builtin); ok {
		args := common.Args
		recognized := il.RecognizedNone
		switch builtin.Name() {
		case "len":
			if cls, _ := classify(args[0].Type()); cls == classString {
				recognized = il.RecognizedStringLength
			}
		case "min", "max":
			if cls, _ := classify(call.Type()); len(args) == 2 && (cls == classInt || cls == classDouble) {
				recognized = il.RecognizedMathMin
				if builtin.Name() == "max" {
					recognized = il.RecognizedMathMax
				}
			}
		}
		if recognized != il.RecognizedNone {
			instr := il.NewInstr(il.OpStaticCall)
			instr.Name = builtin.Name()
			instr.Recognized = recognized
			return l.emit(b, instr, args...)
		}
	}
	return l.opaque(b, call, opaqueName(call))
}

func (l *lowering) lowerReturn(b *ssa.BasicBlock, ret *ssa.Return) {
	switch len(ret.Results) {
	case 0:
		l.emitResolved(b, il.NewInstr(il.OpReturn, l.g.GetConstant(object.Null)))
	case 1:
		l.emit(b, il.NewInstr(il.OpReturn), ret.Results[0])
	default:
		tuple := il.NewInstr(il.OpStaticCall)
		tuple.Name = "tuple"
		l.emit(b, tuple, ret.Results...)
		l.emitResolved(b, il.NewInstr(il.OpReturn, tuple))
	}
}

// opaque lowers instr to a static call the optimizer knows nothing about.
// Its value operands become inputs.
func (l *lowering) opaque(b *ssa.BasicBlock, instr ssa.Instruction, name string) *il.Instr {
	var operands []ssa.Value
	for _, op := range instr.Operands(nil) {
		if op == nil || *op == nil {
			continue
		}
		switch (*op).(type) {
		case *ssa.Function, *ssa.Builtin:
			continue
		}
		operands = append(operands, *op)
	}
	call := il.NewInstr(il.OpStaticCall)
	call.Name = name
	if v, ok := instr.(ssa.Value); ok {
		call.StaticType = staticType(v.Type())
	}
	return l.emit(b, call, operands...)
}

func opaqueName(instr ssa.Instruction) string {
	if call, ok := instr.(ssa.CallInstruction); ok {
		common := call.Common()
		if callee := common.StaticCallee(); callee != nil {
			return callee.Name()
		}
		if common.IsInvoke() {
			return common.Method.Name()
		}
		if builtin, ok := common.Value.(*ssa.Builtin); ok {
			return builtin.Name()
		}
		return "call"
	}
	name := fmt.Sprintf("%T", instr)
	return strings.ToLower(strings.TrimPrefix(name, "*ssa."))
}

func (l *lowering) value(v ssa.Value) *il.Instr {
	if def, ok := l.values[v]; ok {
		return def
	}
	var def *il.Instr
	switch v := v.(type) {
	case *ssa.Const:
		if obj := constantObject(v); obj != nil {
			return l.g.GetConstant(obj)
		}
		def = l.hoist("const")
		def.StaticType = staticType(v.Type())
	default:
		def = l.hoist(v.Name())
	}
	l.values[v] = def
	return def
}

func (l *lowering) hoist(name string) *il.Instr {
	def := il.NewInstr(il.OpStaticCall)
	def.Name = name
	l.hoisted = append(l.hoisted, def)
	return def
}

func constantObject(c *ssa.Const) *object.Object {
	if c.Value == nil {
		if c.IsNil() {
			return object.Null
		}
		return nil
	}
	switch c.Value.Kind() {
	case constant.Bool:
		return object.Bool(constant.BoolVal(c.Value))
	case constant.Int:
		if v, exact := constant.Int64Val(c.Value); exact {
			return object.NewInteger(v)
		}
	case constant.Float:
		if cls, _ := classify(c.Type()); cls == classDouble {
			v, _ := constant.Float64Val(c.Value)
			return object.NewDouble(v)
		}
	case constant.String:
		return object.NewString(constant.StringVal(c.Value))
	}
	return nil
}

func (l *lowering) link() {
	entry := l.blocks[0]
	for _, p := range l.params {
		entry.AddInitialDef(p)
	}
	for _, h := range l.hoisted {
		entry.Append(h)
	}
	for _, p := range l.pending {
		switch p.instr.Op {
		case il.OpPhi:
			p.block.AddPhi(p.instr)
		default:
			p.block.Append(p.instr)
		}
	}
}
