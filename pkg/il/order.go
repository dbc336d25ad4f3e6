package il

// DiscoverBlocks recomputes predecessors and the preorder and postorder
// of the blocks reachable from the graph entry. Blocks no longer
// reachable are cleared. Invalidates dominators.
func (g *FlowGraph) DiscoverBlocks() {
	var preorder, postorder []*Block
	visited := make(map[*Block]bool)
	visit := func(b *Block) {
		visited[b] = true
		b.Preds = nil
		b.Preorder = len(preorder)
		preorder = append(preorder, b)
	}

	type frame struct {
		block *Block
		next  int
	}
	visit(g.Entry)
	stack := []frame{{block: g.Entry}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succs := top.block.Successors()
		if top.next < len(succs) {
			succ := succs[top.next]
			top.next++
			pred := top.block
			if !visited[succ] {
				visit(succ)
				stack = append(stack, frame{block: succ})
			}
			succ.addPredecessor(pred)
			continue
		}
		top.block.Postorder = len(postorder)
		postorder = append(postorder, top.block)
		stack = stack[:len(stack)-1]
	}

	for _, b := range g.blocks {
		if !visited[b] {
			b.ClearAllInstructions()
			b.Preds = nil
			b.Preorder, b.Postorder = -1, -1
			b.Dom, b.DomChildren = nil, nil
		}
	}
	g.blocks = append([]*Block(nil), preorder...)
	g.preorder = preorder
	g.postorder = postorder
	g.domValid = false
}

// MergeBlocks folds each join that has a single predecessor ending in a
// Goto into that predecessor. The merged block takes the id of the last
// block folded into it so phi input order downstream is unchanged.
func (g *FlowGraph) MergeBlocks() bool {
	changed := false
	merged := make(map[*Block]bool)
	for _, b := range g.ReversePostorder() {
		if b.Kind == GraphEntry || merged[b] {
			continue
		}
		for last := b.Last(); last != nil && last.Op == OpGoto; last = b.Last() {
			succ := last.Successor()
			if succ.Kind != JoinEntry || len(succ.Preds) != 1 || succ == b || succ.TryIndex != b.TryIndex {
				break
			}
			for _, phi := range succ.Phis {
				phi.ReplaceUsesWith(phi.InputAt(0))
				phi.UnuseAllInputs()
				phi.block = nil
			}
			succ.Phis = nil

			b.Instrs = b.Instrs[:len(b.Instrs)-1]
			last.block = nil
			for _, instr := range succ.Instrs {
				instr.block = b
			}
			b.Instrs = append(b.Instrs, succ.Instrs...)
			succ.Instrs = nil

			g.Logger.Debug("merged blocks", "function", g.Name, "block", b.String(), "successor", succ.String())
			b.ID = succ.ID
			merged[succ] = true
			changed = true
		}
	}
	if changed {
		g.DiscoverBlocks()
	}
	return changed
}
