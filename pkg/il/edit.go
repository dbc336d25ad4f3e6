package il

import "fmt"

// InsertAfter links instr into prev's block right after prev
func (g *FlowGraph) InsertAfter(prev, instr *Instr) {
	b := prev.block
	i := b.indexOf(prev)
	if i < 0 {
		// prev is a phi or initial definition
		g.InsertAtBlockStart(b, instr)
		return
	}
	g.insertAt(b, i+1, instr)
}

// InsertBefore links instr into next's block right before next
func (g *FlowGraph) InsertBefore(next, instr *Instr) {
	b := next.block
	i := b.indexOf(next)
	if i < 0 {
		panic(fmt.Sprintf("il: %s is not in the body of %s", next, b))
	}
	g.insertAt(b, i, instr)
}

// InsertAtBlockStart links instr as the first body instruction of b
func (g *FlowGraph) InsertAtBlockStart(b *Block, instr *Instr) {
	g.insertAt(b, 0, instr)
}

func (g *FlowGraph) insertAt(b *Block, i int, instr *Instr) {
	g.link(b, instr)
	b.Instrs = append(b.Instrs, nil)
	copy(b.Instrs[i+1:], b.Instrs[i:])
	b.Instrs[i] = instr
}

// ReplaceInstr puts repl in place of old, which is unlinked and loses
// its input uses. Uses of old are left untouched.
func (g *FlowGraph) ReplaceInstr(old, repl *Instr) {
	b := old.block
	i := b.indexOf(old)
	if i < 0 {
		panic(fmt.Sprintf("il: %s is not in the body of %s", old, b))
	}
	old.UnuseAllInputs()
	old.block = nil
	g.link(b, repl)
	b.Instrs[i] = repl
}

// RemoveFromGraph unlinks instr from its block and drops its input uses
func (instr *Instr) RemoveFromGraph() {
	b := instr.block
	if b == nil {
		return
	}
	instr.UnuseAllInputs()
	instr.block = nil
	b.Phis = removeInstr(b.Phis, instr)
	b.InitialDefs = removeInstr(b.InitialDefs, instr)
	b.Instrs = removeInstr(b.Instrs, instr)
}

func removeInstr(list []*Instr, instr *Instr) []*Instr {
	for i, cur := range list {
		if cur == instr {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// RenameDominatedUses rebinds every use of def that is dominated by dom
// to other. Phi uses count as dominated when dom's block dominates the
// incoming predecessor. Requires valid dominators.
func (g *FlowGraph) RenameDominatedUses(def, dom, other *Instr) {
	uses := append([]*Use(nil), def.uses...)
	for _, u := range uses {
		if u.User != other && isDominatedUse(dom, u) {
			u.BindTo(other)
		}
	}
}

func isDominatedUse(dom *Instr, u *Use) bool {
	domBlock := dom.block
	user := u.User
	if user.Op == OpPhi {
		return domBlock.Dominates(user.block.Preds[u.Index])
	}
	if user.block == domBlock {
		i, j := domBlock.indexOf(dom), domBlock.indexOf(user)
		return i >= 0 && j > i
	}
	return domBlock.Dominates(user.block)
}
