package il

import (
	"fmt"
	"sort"
)

// BlockKind identifies the kind of block entry
type BlockKind uint8

const (
	GraphEntry BlockKind = iota
	FunctionEntry
	OsrEntry
	CatchEntry
	JoinEntry
	TargetEntry
	IndirectEntry
	TryEntry
)

var blockKindNames = []string{
	"graph-entry", "function-entry", "osr-entry", "catch-entry",
	"join", "target", "indirect-entry", "try-entry",
}

func (k BlockKind) String() string {
	if int(k) < len(blockKindNames) {
		return blockKindNames[k]
	}
	return fmt.Sprintf("block-kind%d", uint8(k))
}

// LookupBlockKind finds a block kind by name
func LookupBlockKind(s string) (BlockKind, bool) {
	for i, n := range blockKindNames {
		if n == s {
			return BlockKind(i), true
		}
	}
	return GraphEntry, false
}

// Block is a basic block. Join-like blocks (joins, indirect entries and
// try entries) may have several predecessors, kept sorted by block id so
// that phi input i always flows from Preds[i].
type Block struct {
	ID       int
	Kind     BlockKind
	TryIndex int

	Preorder  int
	Postorder int

	Preds []*Block
	// Succs lists the successors of graph and try entries, which have no
	// control instruction
	Succs []*Block

	// InitialDefs are the constants of the graph entry and the
	// parameters of function, OSR and catch entries
	InitialDefs []*Instr
	Phis        []*Instr
	Instrs      []*Instr

	Dom         *Block
	DomChildren []*Block

	graph *FlowGraph
}

func (b *Block) String() string { return fmt.Sprintf("B%d", b.ID) }

// IsJoinLike reports whether the block may have several predecessors
func (b *Block) IsJoinLike() bool {
	return b.Kind == JoinEntry || b.Kind == IndirectEntry || b.Kind == TryEntry
}

// HasPhis reports whether a join has phis
func (b *Block) HasPhis() bool { return len(b.Phis) > 0 }

// Graph returns the flow graph owning b
func (b *Block) Graph() *FlowGraph { return b.graph }

// Last returns the last instruction of the block, or nil if it is empty
func (b *Block) Last() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[len(b.Instrs)-1]
}

// First returns the first body instruction, or nil
func (b *Block) First() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	return b.Instrs[0]
}

// Successors returns the blocks control may flow to from b
func (b *Block) Successors() []*Block {
	if b.Kind == GraphEntry || b.Kind == TryEntry {
		return b.Succs
	}
	last := b.Last()
	if last == nil || !last.Op.IsControl() {
		return nil
	}
	return last.Targets
}

// PredecessorAt returns predecessor i
func (b *Block) PredecessorAt(i int) *Block { return b.Preds[i] }

// Dominates reports whether every path from the graph entry to other
// passes through b
func (b *Block) Dominates(other *Block) bool {
	for cur := other; cur != nil; cur = cur.Dom {
		if cur == b {
			return true
		}
	}
	return false
}

// addPredecessor records pred; join-like blocks keep predecessors
// sorted by block id
func (b *Block) addPredecessor(pred *Block) {
	if !b.IsJoinLike() {
		b.Preds = append(b.Preds[:0], pred)
		return
	}
	i := sort.Search(len(b.Preds), func(i int) bool { return b.Preds[i].ID >= pred.ID })
	b.Preds = append(b.Preds, nil)
	copy(b.Preds[i+1:], b.Preds[i:])
	b.Preds[i] = pred
}

// Append links instr at the end of the block
func (b *Block) Append(instr *Instr) *Instr {
	b.graph.link(b, instr)
	b.Instrs = append(b.Instrs, instr)
	return instr
}

// AddPhi links a phi into a join-like block
func (b *Block) AddPhi(phi *Instr) *Instr {
	b.graph.link(b, phi)
	b.Phis = append(b.Phis, phi)
	return phi
}

// AddInitialDef links a parameter or constant into an entry block
func (b *Block) AddInitialDef(def *Instr) *Instr {
	b.graph.link(b, def)
	b.InitialDefs = append(b.InitialDefs, def)
	if b.Kind == GraphEntry && def.BindsToConstant() {
		b.graph.registerConstant(def)
	}
	return def
}

// ClearAllInstructions unlinks every instruction of the block and
// releases their input uses
func (b *Block) ClearAllInstructions() {
	for _, list := range [][]*Instr{b.InitialDefs, b.Phis, b.Instrs} {
		for _, instr := range list {
			instr.UnuseAllInputs()
			instr.block = nil
		}
	}
	b.InitialDefs = nil
	b.Phis = nil
	b.Instrs = nil
}

// indexOf returns the position of instr in the body, or -1
func (b *Block) indexOf(instr *Instr) int {
	for i, cur := range b.Instrs {
		if cur == instr {
			return i
		}
	}
	return -1
}
