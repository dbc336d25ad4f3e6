package constprop

import (
	"github.com/RoaringBitmap/roaring"

	"vmcore/pkg/il"
	"vmcore/pkg/lattice"
	"vmcore/pkg/object"
)

// insertRedefinitionsAfterEqualityComparisons renames, on the edge where
// `v == c` holds, the uses of v dominated by that edge to a redefinition
// whose value is c. Branches on booleans get the negated constant on the
// other edge as well.
func (cp *ConstantPropagator) insertRedefinitionsAfterEqualityComparisons() {
	for _, b := range cp.graph.ReversePostorder() {
		branch := b.Last()
		if branch == nil || branch.Op != il.OpBranch {
			continue
		}
		cmp := branch.InputAt(0)
		switch {
		case cmp.Op == il.OpStrictCompare:
		case cmp.Op == il.OpEqualityCompare && !cmp.IsFloatingPoint():
		default:
			continue
		}
		value, constant, ok := cmp.IsComparisonWithConstant()
		if !ok || value.BindsToConstant() {
			continue
		}
		negated := cmp.Kind == il.TokNEStrict || cmp.Kind == il.TokNE
		trueSucc, falseSucc := branch.TrueSuccessor(), branch.FalseSuccessor()
		if negated {
			trueSucc, falseSucc = falseSucc, trueSucc
		}
		cp.insertRedefinition(value, constant.Const, trueSucc)
		if constant.Const.IsBool() && value.CompileType().IsBool() {
			cp.insertRedefinition(value, object.Bool(!constant.Const.BoolValue()), falseSucc)
		}
	}
}

func (cp *ConstantPropagator) insertRedefinition(value *il.Instr, c *object.Object, succ *il.Block) {
	// Only an edge into a block with no other predecessor pins the value.
	if len(succ.Preds) != 1 {
		return
	}
	redef := il.NewInstr(il.OpRedefinition, value)
	redef.InsertedByConstProp = true
	cp.graph.InsertAtBlockStart(succ, redef)
	cp.graph.RenameDominatedUses(value, redef, redef)
	if !redef.HasUses() {
		redef.RemoveFromGraph()
		return
	}
	redef.Value = lattice.Of(c)
}

// Transform rewrites the graph using the analysis results: unreachable
// blocks are emptied, phi inputs from dead predecessors are dropped,
// constant-valued definitions are replaced by constants and branches
// with a dead target become gotos. Block order, predecessors and
// dominators are recomputed at the end.
func (cp *ConstantPropagator) Transform() {
	g := cp.graph
	for _, b := range g.ReversePostorder() {
		if !cp.Reachable(b) {
			if cp.opts.TraceConstantPropagation {
				cp.log.Debug("unreachable block", "block", b.String())
			}
			b.ClearAllInstructions()
			continue
		}

		if b.IsJoinLike() && b.HasPhis() {
			cp.compactPhis(b)
		}
		for _, phi := range append([]*il.Instr(nil), b.Phis...) {
			if cp.transformDefinition(phi) {
				phi.RemoveFromGraph()
			}
		}
		for _, instr := range append([]*il.Instr(nil), b.Instrs...) {
			if instr.IsDefinition() && cp.transformDefinition(instr) {
				instr.RemoveFromGraph()
			}
		}

		if branch := b.Last(); branch != nil && branch.Op == il.OpBranch {
			cp.replaceBranchWithDeadTarget(branch)
		}
	}

	g.DiscoverBlocks()
	g.MergeBlocks()
	g.ComputeDominators()
}

// compactPhis drops phi inputs flowing from unreachable predecessors,
// keeping the remaining inputs in predecessor order
func (cp *ConstantPropagator) compactPhis(join *il.Block) {
	preds := join.Preds
	live := 0
	for i, pred := range preds {
		if cp.Reachable(pred) {
			if live < i {
				for _, phi := range join.Phis {
					phi.MoveInput(live, i)
				}
			}
			live++
			continue
		}
		for _, phi := range join.Phis {
			phi.UseAt(i).RemoveFromUseList()
		}
	}
	if live == len(preds) {
		return
	}
	for _, phi := range append([]*il.Instr(nil), join.Phis...) {
		if cp.opts.RemoveRedundantPhis && live == 1 {
			phi.ReplaceUsesWith(phi.InputAt(0))
			phi.RemoveFromGraph()
			continue
		}
		phi.TruncateInputs(live)
	}
}

// transformDefinition replaces def by a constant when the analysis
// proved its value. It reports whether def should be removed.
func (cp *ConstantPropagator) transformDefinition(def *il.Instr) bool {
	if def.Op == il.OpRedefinition {
		if def.InsertedByConstProp {
			def.ReplaceUsesWith(def.InputAt(0))
			return true
		}
		// A constant redefinition of a non-constant value carries type
		// information the input lacks.
		if def.Value.IsConstant() && !def.InputAt(0).Value.IsConstant() {
			return false
		}
	}

	v := def.Value
	if !v.IsConstant() {
		return false
	}
	switch def.Op {
	case il.OpConstant, il.OpUnboxedConstant, il.OpStoreStaticField:
		return false
	}
	o := v.Object()
	if !o.IsSmi() && !o.IsOld() {
		return false
	}
	if cp.opts.TraceConstantPropagation {
		cp.log.Debug("constant definition", "def", def.Ref(), "value", o.String())
	}
	if (o.IsString() || o.IsMint() || o.IsDouble()) && !o.IsCanonical() {
		o = cp.table.Canonicalize(o)
	}
	repl := cp.graph.TryCreateConstantReplacementFor(def, o)
	if repl == def {
		return false
	}
	def.ReplaceUsesWith(repl)
	return true
}

// replaceBranchWithDeadTarget turns a branch with exactly one reachable
// target into a goto. The reachable target becomes a join so that block
// merging can fold it into the branch's block.
func (cp *ConstantPropagator) replaceBranchWithDeadTarget(branch *il.Instr) {
	t, f := branch.TrueSuccessor(), branch.FalseSuccessor()
	var live *il.Block
	switch {
	case !cp.Reachable(t) && cp.Reachable(f):
		live = f
	case !cp.Reachable(f) && cp.Reachable(t):
		live = t
	default:
		return
	}
	if live.Kind == il.TargetEntry {
		live.Kind = il.JoinEntry
	}
	jump := il.NewInstr(il.OpGoto)
	jump.Targets = []*il.Block{live}
	cp.graph.ReplaceInstr(branch, jump)
}

func hasPhis(b *il.Block) bool {
	return b.IsJoinLike() && b.HasPhis()
}

// isEmptyBlock reports whether b holds nothing but a goto. A block that
// jumps to itself is an infinite loop, not an empty block.
func isEmptyBlock(b *il.Block) bool {
	first := b.First()
	return first != nil && first.Op == il.OpGoto && first.Successor() != b &&
		!hasPhis(b) && b.Kind != il.IndirectEntry
}

// findFirstNonEmptySuccessor follows the chain of empty blocks dominated
// by start and returns the first block that is not part of it. The
// preorder numbers of the skipped blocks are added to empty.
func findFirstNonEmptySuccessor(start *il.Block, empty *roaring.Bitmap) *il.Block {
	cur := start
	for isEmptyBlock(cur) && start.Dominates(cur) {
		empty.Add(uint32(cur.Preorder))
		cur = cur.First().Successor()
	}
	return cur
}

// EliminateRedundantBranches replaces branches whose two targets lead,
// through empty blocks only, to the same phi-free join with a goto to
// that join. Dominators must be valid.
func (cp *ConstantPropagator) EliminateRedundantBranches() bool {
	g := cp.graph
	if !g.DominatorsValid() {
		g.ComputeDominators()
	}
	changed := false
	preorder := g.Preorder()
	empty := roaring.New()
	for _, b := range g.Postorder() {
		branch := b.Last()
		if branch == nil || branch.Op != il.OpBranch || branch.HasUnknownSideEffects() {
			continue
		}
		empty.Clear()
		ifTrue := findFirstNonEmptySuccessor(branch.TrueSuccessor(), empty)
		ifFalse := findFirstNonEmptySuccessor(branch.FalseSuccessor(), empty)
		if ifTrue != ifFalse || ifTrue.Kind != il.JoinEntry || hasPhis(ifTrue) {
			continue
		}
		cond := branch.InputAt(0)
		jump := il.NewInstr(il.OpGoto)
		jump.Targets = []*il.Block{ifTrue}
		g.ReplaceInstr(branch, jump)
		switch cond.Op {
		case il.OpParameter, il.OpConstant, il.OpPhi:
		default:
			if !cond.HasUses() && !cond.HasUnknownSideEffects() {
				cond.RemoveFromGraph()
			}
		}
		for it := empty.Iterator(); it.HasNext(); {
			preorder[it.Next()].ClearAllInstructions()
		}
		changed = true
		if cp.opts.TraceConstantPropagation {
			cp.log.Debug("eliminated branch", "block", b.String(), "target", ifTrue.String())
		}
	}
	if changed {
		g.DiscoverBlocks()
		g.MergeBlocks()
		g.ComputeDominators()
	}
	return changed
}
