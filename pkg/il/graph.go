// Package il is the SSA flow graph the optimizer works on: blocks,
// instructions, def-use chains, block ordering and dominators.
package il

import (
	"fmt"
	"io"
	"log/slog"

	"vmcore/pkg/object"
)

// FlowGraph is the SSA control flow graph of one function
type FlowGraph struct {
	Name   string
	Entry  *Block
	Logger *slog.Logger

	table *object.CanonicalTable

	// blocks holds every block that may still contain instructions
	blocks    []*Block
	preorder  []*Block
	postorder []*Block

	nextSSA     int
	nextBlockID int

	constants map[constKey]*Instr
	domValid  bool
}

type constKey struct {
	obj   *object.Object
	smi   int64
	isSmi bool
	rep   Representation
}

// New creates a graph containing only its graph entry (block 0)
func New(name string) *FlowGraph {
	g := &FlowGraph{
		Name:      name,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		table:     object.NewCanonicalTable(),
		constants: make(map[constKey]*Instr),
	}
	g.Entry = g.NewBlockWithID(GraphEntry, 0)
	return g
}

// Canonical returns the graph's canonical constant table
func (g *FlowGraph) Canonical() *object.CanonicalTable { return g.table }

// NewBlock creates a block with a fresh id
func (g *FlowGraph) NewBlock(kind BlockKind) *Block {
	return g.NewBlockWithID(kind, g.nextBlockID)
}

// NewBlockWithID creates a block with the given id. Ids may be reused
// when a block replaces another one.
func (g *FlowGraph) NewBlockWithID(kind BlockKind, id int) *Block {
	b := &Block{ID: id, Kind: kind, Preorder: -1, Postorder: -1, graph: g}
	if id >= g.nextBlockID {
		g.nextBlockID = id + 1
	}
	g.blocks = append(g.blocks, b)
	return b
}

// MaxBlockID returns one past the largest block id in use
func (g *FlowGraph) MaxBlockID() int { return g.nextBlockID }

// CurrentSSATempIndex returns one past the largest SSA index assigned
func (g *FlowGraph) CurrentSSATempIndex() int { return g.nextSSA }

// AllocSSAIndex assigns the next SSA index to def
func (g *FlowGraph) AllocSSAIndex(def *Instr) {
	def.ID = g.nextSSA
	g.nextSSA++
}

// EnsureSSATempIndex makes sure freshly allocated SSA indices are at
// least n
func (g *FlowGraph) EnsureSSATempIndex(n int) {
	if g.nextSSA < n {
		g.nextSSA = n
	}
}

func (g *FlowGraph) link(b *Block, instr *Instr) {
	if instr.block != nil {
		panic(fmt.Sprintf("il: %s is already linked into %s", instr, instr.block))
	}
	instr.block = b
	if instr.IsDefinition() && instr.ID < 0 {
		g.AllocSSAIndex(instr)
	}
	if instr.ID >= g.nextSSA {
		g.nextSSA = instr.ID + 1
	}
	instr.linkInputs()
}

// Preorder returns the blocks in depth-first preorder. Valid after
// DiscoverBlocks.
func (g *FlowGraph) Preorder() []*Block { return g.preorder }

// Postorder returns the blocks in depth-first postorder
func (g *FlowGraph) Postorder() []*Block { return g.postorder }

// ReversePostorder returns the blocks in reverse postorder
func (g *FlowGraph) ReversePostorder() []*Block {
	rpo := make([]*Block, len(g.postorder))
	for i, b := range g.postorder {
		rpo[len(rpo)-1-i] = b
	}
	return rpo
}

// FunctionEntry returns the normal entry of the function
func (g *FlowGraph) FunctionEntry() *Block {
	for _, b := range g.Entry.Succs {
		if b.Kind == FunctionEntry {
			return b
		}
	}
	return nil
}

// Definitions returns every linked definition in preorder, including
// initial definitions and phis
func (g *FlowGraph) Definitions() []*Instr {
	var defs []*Instr
	for _, b := range g.preorder {
		defs = append(defs, b.InitialDefs...)
		defs = append(defs, b.Phis...)
		for _, instr := range b.Instrs {
			if instr.IsDefinition() {
				defs = append(defs, instr)
			}
		}
	}
	return defs
}

// Instructions returns every linked instruction in preorder
func (g *FlowGraph) Instructions() []*Instr {
	var all []*Instr
	for _, b := range g.preorder {
		all = append(all, b.InitialDefs...)
		all = append(all, b.Phis...)
		all = append(all, b.Instrs...)
	}
	return all
}

// GetConstant returns the tagged Constant for value, creating it in the
// graph entry if needed
func (g *FlowGraph) GetConstant(value *object.Object) *Instr {
	return g.GetConstantRep(value, Tagged)
}

// GetConstantRep returns the constant for value in the given
// representation
func (g *FlowGraph) GetConstantRep(value *object.Object, rep Representation) *Instr {
	value = g.table.Canonicalize(value)
	if c, ok := g.constants[constantKey(value, rep)]; ok && c.block != nil {
		return c
	}
	op := OpConstant
	if rep != Tagged {
		op = OpUnboxedConstant
	}
	c := NewInstr(op)
	c.Const = value
	c.Rep = rep
	c.StaticType = object.CompileTypeOf(value)
	g.Entry.AddInitialDef(c)
	return c
}

func constantKey(value *object.Object, rep Representation) constKey {
	if value.IsSmi() {
		return constKey{smi: value.IntValue(), isSmi: true, rep: rep}
	}
	return constKey{obj: value, rep: rep}
}

// registerConstant adds a constant of the graph entry to the pool unless
// an equal one is already there
func (g *FlowGraph) registerConstant(c *Instr) {
	c.Const = g.table.Canonicalize(c.Const)
	key := constantKey(c.Const, c.Rep)
	if old, ok := g.constants[key]; ok && old.block != nil {
		return
	}
	g.constants[key] = c
}

// IsConstantRepresentable reports whether value can be materialized in
// representation rep
func IsConstantRepresentable(value *object.Object, rep Representation) bool {
	switch rep {
	case Tagged:
		return true
	case UnboxedInt64:
		return value.IsInteger()
	case UnboxedInt32:
		return value.IsInteger() && value.IntValue() == int64(int32(value.IntValue()))
	case UnboxedUint32:
		return value.IsInteger() && value.IntValue() == int64(uint32(value.IntValue()))
	case UnboxedDouble:
		return value.IsInteger() || value.IsDouble()
	}
	return false
}

// TryCreateConstantReplacementFor returns a constant holding value in
// def's representation, or def itself if the value cannot be
// represented that way
func (g *FlowGraph) TryCreateConstantReplacementFor(def *Instr, value *object.Object) *Instr {
	if !IsConstantRepresentable(value, def.Rep) {
		return def
	}
	if def.Rep == UnboxedDouble && value.IsInteger() {
		return g.GetConstantRep(g.table.Double(value.ToDouble()), UnboxedDouble)
	}
	return g.GetConstantRep(value, def.Rep)
}
