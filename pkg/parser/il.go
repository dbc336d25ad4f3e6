package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"vmcore/pkg/il"
	"vmcore/pkg/object"
)

// ParseFunction reads a single (function ...) form into a flow graph.
// Blocks are discovered and the graph is verified before it is returned.
func ParseFunction(src string) (*il.FlowGraph, error) {
	graphs, err := ParseFunctions(src)
	if err != nil {
		return nil, err
	}
	if len(graphs) != 1 {
		return nil, fmt.Errorf("expected one function, found %d", len(graphs))
	}
	return graphs[0], nil
}

// ParseFunctions reads every (function ...) form of src
func ParseFunctions(src string) ([]*il.FlowGraph, error) {
	nodes, err := ParseAllString(src)
	if err != nil {
		return nil, err
	}
	var graphs []*il.FlowGraph
	for _, n := range nodes {
		g, err := BuildFunction(n)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// MustParseFunction is like ParseFunction but panics on error
func MustParseFunction(src string) *il.FlowGraph {
	g, err := ParseFunction(src)
	if err != nil {
		panic(err)
	}
	return g
}

type pendingInstr struct {
	instr  *il.Instr
	inputs []*Node
	// nullTypeArgs is set for instance-of without explicit type
	// arguments
	nullTypeArgs bool
	targets      []*Node
	node         *Node
}

type builder struct {
	g       *il.FlowGraph
	blocks  map[int]*il.Block
	defs    map[int]*il.Instr
	order   []*il.Block
	pending map[*il.Block][]*pendingInstr
	succs   map[*il.Block][]*Node
	maxSSA  int
}

func errorf(n *Node, format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

// BuildFunction converts a parsed (function NAME blocks...) form
func BuildFunction(n *Node) (*il.FlowGraph, error) {
	if n.Head() != "function" || len(n.List) < 2 || n.List[1].Kind != NSym {
		return nil, errorf(n, "expected (function NAME ...)")
	}
	b := &builder{
		g:       il.New(n.List[1].Str),
		blocks:  make(map[int]*il.Block),
		defs:    make(map[int]*il.Instr),
		pending: make(map[*il.Block][]*pendingInstr),
		succs:   make(map[*il.Block][]*Node),
		maxSSA:  -1,
	}
	for _, bn := range n.List[2:] {
		if err := b.readBlock(bn); err != nil {
			return nil, err
		}
	}
	if b.blocks[0] != b.g.Entry {
		return nil, errorf(n, "function %s has no graph entry B0", b.g.Name)
	}
	if err := b.finish(); err != nil {
		return nil, err
	}
	b.g.DiscoverBlocks()
	if err := b.g.Verify(); err != nil {
		return nil, fmt.Errorf("line %d: %w", n.Line, err)
	}
	return b.g, nil
}

func parseBlockName(n *Node) (int, error) {
	if n.Kind != NSym || !strings.HasPrefix(n.Str, "B") {
		return 0, errorf(n, "expected block name, got %s", n)
	}
	id, err := strconv.Atoi(n.Str[1:])
	if err != nil || id < 0 {
		return 0, errorf(n, "bad block name %s", n.Str)
	}
	return id, nil
}

func parseDefName(n *Node) (int, bool) {
	if n.Kind != NSym || !strings.HasPrefix(n.Str, "v") {
		return 0, false
	}
	id, err := strconv.Atoi(n.Str[1:])
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

func (b *builder) readBlock(n *Node) error {
	if n.Head() != "block" || len(n.List) < 3 {
		return errorf(n, "expected (block BN KIND ...)")
	}
	id, err := parseBlockName(n.List[1])
	if err != nil {
		return err
	}
	if _, dup := b.blocks[id]; dup {
		return errorf(n, "duplicate block B%d", id)
	}
	if n.List[2].Kind != NSym {
		return errorf(n, "expected block kind")
	}
	kind, ok := il.LookupBlockKind(n.List[2].Str)
	if !ok {
		return errorf(n.List[2], "unknown block kind %s", n.List[2].Str)
	}

	var blk *il.Block
	switch {
	case kind == il.GraphEntry && id == 0:
		blk = b.g.Entry
	case kind == il.GraphEntry || id == 0:
		return errorf(n, "B0 must be the only graph entry")
	default:
		blk = b.g.NewBlockWithID(kind, id)
	}
	b.blocks[id] = blk
	b.order = append(b.order, blk)

	for _, item := range n.List[3:] {
		switch {
		case item.Kind == NSym && strings.HasPrefix(item.Str, "@try="):
			ti, err := strconv.Atoi(strings.TrimPrefix(item.Str, "@try="))
			if err != nil {
				return errorf(item, "bad try index %s", item.Str)
			}
			blk.TryIndex = ti
		case item.Head() == "succ":
			if kind != il.GraphEntry && kind != il.TryEntry {
				return errorf(item, "only graph and try entries list successors")
			}
			b.succs[blk] = item.List[1:]
		case item.Kind == NList:
			p, err := b.readInstr(item)
			if err != nil {
				return err
			}
			b.pending[blk] = append(b.pending[blk], p)
		default:
			return errorf(item, "unexpected %s in block", item)
		}
	}
	return nil
}

// splitAttrs separates trailing @attributes from operands
func splitAttrs(items []*Node) (operands []*Node, attrs []string) {
	for _, item := range items {
		if item.Kind == NSym && strings.HasPrefix(item.Str, "@") {
			attrs = append(attrs, item.Str[1:])
			continue
		}
		operands = append(operands, item)
	}
	return operands, attrs
}

func (b *builder) readInstr(n *Node) (*pendingInstr, error) {
	items := n.List
	id := -1
	if len(items) > 0 {
		if v, ok := parseDefName(items[0]); ok {
			id = v
			items = items[1:]
		}
	}
	if len(items) == 0 || items[0].Kind != NSym {
		return nil, errorf(n, "expected instruction")
	}
	op, ok := il.LookupOp(items[0].Str)
	if !ok {
		return nil, errorf(items[0], "unknown instruction %s", items[0].Str)
	}
	if op.IsDefinition() != (id >= 0) {
		if id < 0 {
			return nil, errorf(n, "%s defines a value and needs a name", op)
		}
		return nil, errorf(n, "%s does not define a value", op)
	}
	operands, attrs := splitAttrs(items[1:])

	instr := il.NewInstr(op)
	p := &pendingInstr{instr: instr, node: n}
	if id >= 0 {
		if _, dup := b.defs[id]; dup {
			return nil, errorf(n, "v%d defined twice", id)
		}
		instr.ID = id
		b.defs[id] = instr
		if id > b.maxSSA {
			b.maxSSA = id
		}
	}

	if err := b.readOperands(p, operands); err != nil {
		return nil, err
	}
	if err := applyAttrs(n, instr, attrs); err != nil {
		return nil, err
	}
	if op == il.OpConstant || op == il.OpUnboxedConstant {
		instr.StaticType = object.CompileTypeOf(instr.Const)
	}
	if arity := op.Arity(); arity >= 0 && len(p.inputs) != arity && !p.nullTypeArgs {
		return nil, errorf(n, "%s takes %d inputs, got %d", op, arity, len(p.inputs))
	}
	return p, nil
}

func want(n *Node, operands []*Node, count int) error {
	if len(operands) < count {
		return errorf(n, "missing operands")
	}
	return nil
}

func symOperand(n *Node) (string, error) {
	if n.Kind != NSym {
		return "", errorf(n, "expected symbol, got %s", n)
	}
	return n.Str, nil
}

func intOperand(n *Node) (int64, error) {
	if n.Kind != NInt {
		return 0, errorf(n, "expected integer, got %s", n)
	}
	return n.Int, nil
}

func (b *builder) readOperands(p *pendingInstr, operands []*Node) error {
	instr, n := p.instr, p.node
	switch instr.Op {
	case il.OpConstant, il.OpUnboxedConstant:
		if len(operands) != 1 {
			return errorf(n, "constant takes one literal")
		}
		obj, err := ParseLiteral(operands[0])
		if err != nil {
			return err
		}
		instr.Const = obj
		return nil

	case il.OpParameter, il.OpAllocateObject:
		if len(operands) != 1 {
			return errorf(n, "%s takes an index", instr.Op)
		}
		v, err := intOperand(operands[0])
		if err != nil {
			return err
		}
		instr.Index = int(v)
		return nil

	case il.OpStrictCompare, il.OpEqualityCompare, il.OpRelationalOp, il.OpTestInt,
		il.OpBinaryIntegerOp, il.OpUnaryIntegerOp, il.OpBinaryDoubleOp, il.OpUnaryDoubleOp:
		if err := want(n, operands, 1); err != nil {
			return err
		}
		s, err := symOperand(operands[0])
		if err != nil {
			return err
		}
		tok, ok := il.LookupToken(s)
		if !ok {
			return errorf(operands[0], "unknown operator %s", s)
		}
		instr.Kind = tok
		operands = operands[1:]

	case il.OpTestRange:
		if len(operands) != 4 {
			return errorf(n, "test-range takes KIND v LOWER UPPER")
		}
		s, err := symOperand(operands[0])
		if err != nil {
			return err
		}
		tok, ok := il.LookupToken(s)
		if !ok || (tok != il.TokIS && tok != il.TokISNOT) {
			return errorf(operands[0], "test-range kind must be is or isnot")
		}
		instr.Kind = tok
		if instr.Lower, err = intOperand(operands[2]); err != nil {
			return err
		}
		if instr.Upper, err = intOperand(operands[3]); err != nil {
			return err
		}
		operands = operands[1:2]

	case il.OpDoubleTestOp:
		if err := want(n, operands, 1); err != nil {
			return err
		}
		s, err := symOperand(operands[0])
		if err != nil {
			return err
		}
		dt, ok := il.LookupDoubleTest(s)
		if !ok {
			return errorf(operands[0], "unknown double test %s", s)
		}
		instr.DoubleTest = dt
		operands = operands[1:]

	case il.OpIfThenElse:
		if len(operands) != 3 {
			return errorf(n, "if-then-else takes v TRUE FALSE")
		}
		var err error
		if instr.IfTrue, err = intOperand(operands[1]); err != nil {
			return err
		}
		if instr.IfFalse, err = intOperand(operands[2]); err != nil {
			return err
		}
		operands = operands[:1]

	case il.OpLoadField, il.OpStoreField:
		if err := want(n, operands, 1); err != nil {
			return err
		}
		slot, err := parseSlot(operands[0])
		if err != nil {
			return err
		}
		instr.Slot = slot
		operands = operands[1:]

	case il.OpLoadStaticField, il.OpStoreStaticField, il.OpStaticCall, il.OpInstanceCall:
		if err := want(n, operands, 1); err != nil {
			return err
		}
		name, err := symOperand(operands[0])
		if err != nil {
			return err
		}
		instr.Name = name
		operands = operands[1:]

	case il.OpInstanceOf:
		if len(operands) != 2 && len(operands) != 4 {
			return errorf(n, "instance-of takes v TYPE [vITA vFTA]")
		}
		s, err := symOperand(operands[1])
		if err != nil {
			return err
		}
		t, err := object.ParseType(s)
		if err != nil {
			return errorf(operands[1], "%v", err)
		}
		instr.TestType = t
		if len(operands) == 2 {
			p.nullTypeArgs = true
			operands = operands[:1]
		} else {
			operands = []*Node{operands[0], operands[2], operands[3]}
		}

	case il.OpGoto:
		if len(operands) != 1 {
			return errorf(n, "goto takes one block")
		}
		p.targets = operands
		return nil

	case il.OpBranch:
		if len(operands) != 3 {
			return errorf(n, "branch takes v TRUE FALSE")
		}
		p.inputs = operands[:1]
		p.targets = operands[1:]
		return nil

	case il.OpIndirectGoto:
		if len(operands) < 2 {
			return errorf(n, "indirect-goto takes v and targets")
		}
		p.inputs = operands[:1]
		p.targets = operands[1:]
		return nil
	}

	for _, o := range operands {
		if _, ok := parseDefName(o); !ok {
			return errorf(o, "expected definition, got %s", o)
		}
	}
	p.inputs = operands
	return nil
}

func parseSlot(n *Node) (il.Slot, error) {
	s, err := symOperand(n)
	if err != nil {
		return il.Slot{}, err
	}
	switch s {
	case "array-length":
		return il.Slot{Kind: il.SlotArrayLength, Immutable: true}, nil
	case "string-length":
		return il.Slot{Kind: il.SlotStringLength, Immutable: true}, nil
	case "typed-data-length":
		return il.Slot{Kind: il.SlotTypedDataLength, Immutable: true}, nil
	}
	slot := il.Slot{Kind: il.SlotField}
	switch {
	case strings.HasPrefix(s, "final-field:"):
		slot.Immutable = true
		s = strings.TrimPrefix(s, "final-field:")
	case strings.HasPrefix(s, "field:"):
		s = strings.TrimPrefix(s, "field:")
	default:
		return il.Slot{}, errorf(n, "unknown slot %s", s)
	}
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return il.Slot{}, errorf(n, "bad field index %s", s)
	}
	slot.Index = idx
	return slot, nil
}

func parseCompileType(s string) (object.CompileType, error) {
	sentinel := strings.HasSuffix(s, "|sentinel")
	t, err := object.ParseType(strings.TrimSuffix(s, "|sentinel"))
	if err != nil {
		return object.CompileType{}, err
	}
	ct := object.CompileTypeFor(t)
	ct.CanBeSentinel = sentinel
	return ct, nil
}

func applyAttrs(n *Node, instr *il.Instr, attrs []string) error {
	for _, a := range attrs {
		key, val, _ := strings.Cut(a, "=")
		switch key {
		case "type":
			ct, err := parseCompileType(val)
			if err != nil {
				return errorf(n, "%v", err)
			}
			instr.StaticType = ct
		case "rep", "from":
			rep, ok := il.LookupRepresentation(val)
			if !ok {
				return errorf(n, "unknown representation %s", val)
			}
			if key == "rep" {
				instr.Rep = rep
			} else {
				instr.FromRep = rep
			}
		case "truncating":
			instr.Truncating = true
		case "not":
			instr.Negated = true
		case "inserted":
			instr.InsertedByConstProp = true
		case "recognized":
			r, ok := il.LookupRecognized(val)
			if !ok {
				return errorf(n, "unknown recognized method %s", val)
			}
			instr.Recognized = r
		default:
			return errorf(n, "unknown attribute @%s", a)
		}
	}
	return nil
}

// ParseLiteral converts a literal node to a constant object
func ParseLiteral(n *Node) (*object.Object, error) {
	switch n.Kind {
	case NInt:
		return object.NewInteger(n.Int), nil
	case NFloat:
		return object.NewDouble(n.Float), nil
	case NString:
		return object.NewString(n.Str), nil
	case NSym:
		switch n.Str {
		case "null":
			return object.Null, nil
		case "sentinel":
			return object.Sentinel, nil
		case "true":
			return object.True, nil
		case "false":
			return object.False, nil
		case "NaN":
			return object.NewDouble(math.NaN()), nil
		case "Infinity":
			return object.NewDouble(math.Inf(1)), nil
		case "-Infinity":
			return object.NewDouble(math.Inf(-1)), nil
		}
		return nil, errorf(n, "unknown literal %s", n.Str)
	}

	args := n.List[1:]
	switch n.Head() {
	case "array", "const-array":
		elems := make([]*object.Object, len(args))
		for i, a := range args {
			e, err := ParseLiteral(a)
			if err != nil {
				return nil, err
			}
			elems[i] = e
		}
		return object.NewArray(elems, n.Head() == "const-array"), nil
	case "typed-data":
		if len(args) != 1 || args[0].Kind != NInt || args[0].Int < 0 {
			return nil, errorf(n, "typed-data takes a length")
		}
		return object.NewTypedData(int(args[0].Int)), nil
	case "type":
		if len(args) != 1 || args[0].Kind != NSym {
			return nil, errorf(n, "type takes a type name")
		}
		t, err := object.ParseType(args[0].Str)
		if err != nil {
			return nil, errorf(n, "%v", err)
		}
		return object.NewType(t), nil
	case "type-args":
		var ts []*object.AbstractType
		for _, a := range args {
			if a.Kind != NSym {
				return nil, errorf(a, "expected type name")
			}
			t, err := object.ParseType(a.Str)
			if err != nil {
				return nil, errorf(a, "%v", err)
			}
			ts = append(ts, t)
		}
		return object.NewTypeArguments(ts...), nil
	case "instance":
		if len(args) < 1 || args[0].Kind != NInt || object.ClassID(args[0].Int) < object.CidFirstUser {
			return nil, errorf(n, "instance takes a user class id")
		}
		var fields []*object.Object
		for _, a := range args[1:] {
			f, err := ParseLiteral(a)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
		return object.NewInstance(object.ClassID(args[0].Int), fields...), nil
	}
	return nil, errorf(n, "unknown literal %s", n)
}

func (b *builder) block(n *Node) (*il.Block, error) {
	id, err := parseBlockName(n)
	if err != nil {
		return nil, err
	}
	blk, ok := b.blocks[id]
	if !ok {
		return nil, errorf(n, "undefined block B%d", id)
	}
	return blk, nil
}

func (b *builder) finish() error {
	b.g.EnsureSSATempIndex(b.maxSSA + 1)

	for blk, names := range b.succs {
		for _, name := range names {
			s, err := b.block(name)
			if err != nil {
				return err
			}
			blk.Succs = append(blk.Succs, s)
		}
	}

	// Constants of the graph entry go first so that GetConstant finds
	// them while the remaining inputs are resolved.
	for _, p := range b.pending[b.g.Entry] {
		if !p.instr.BindsToConstant() {
			return errorf(p.node, "graph entry holds constants only")
		}
		b.g.Entry.AddInitialDef(p.instr)
	}

	for _, blk := range b.order {
		if blk == b.g.Entry {
			continue
		}
		for _, p := range b.pending[blk] {
			if err := b.resolve(p); err != nil {
				return err
			}
		}
	}

	for _, blk := range b.order {
		if blk == b.g.Entry {
			continue
		}
		for _, p := range b.pending[blk] {
			instr := p.instr
			switch instr.Op {
			case il.OpConstant, il.OpUnboxedConstant:
				return errorf(p.node, "constants belong to the graph entry")
			case il.OpParameter:
				if blk.Kind != il.FunctionEntry && blk.Kind != il.OsrEntry && blk.Kind != il.CatchEntry {
					return errorf(p.node, "parameters belong to function, osr and catch entries")
				}
				blk.AddInitialDef(instr)
			case il.OpPhi:
				if !blk.IsJoinLike() {
					return errorf(p.node, "phi outside of a join")
				}
				blk.AddPhi(instr)
			default:
				blk.Append(instr)
			}
		}
	}
	return nil
}

func (b *builder) resolve(p *pendingInstr) error {
	inputs := make([]*il.Instr, 0, len(p.inputs)+2)
	for _, in := range p.inputs {
		id, _ := parseDefName(in)
		def, ok := b.defs[id]
		if !ok {
			return errorf(in, "undefined v%d", id)
		}
		inputs = append(inputs, def)
	}
	if p.nullTypeArgs {
		null := b.g.GetConstant(object.Null)
		inputs = append(inputs, null, null)
	}
	p.instr.SetInputs(inputs...)
	for _, t := range p.targets {
		blk, err := b.block(t)
		if err != nil {
			return err
		}
		p.instr.Targets = append(p.instr.Targets, blk)
	}
	return nil
}
