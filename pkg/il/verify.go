package il

import (
	"fmt"
	"strings"
)

// InvariantError reports a broken compiler invariant. It is raised with
// panic: a graph that violates it cannot be compiled further.
type InvariantError struct {
	Function string
	Instr    string
	Visits   int
	Msg      string
}

func (e *InvariantError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "invariant violated in %s: %s", e.Function, e.Msg)
	if e.Instr != "" {
		fmt.Fprintf(&sb, " at %s", e.Instr)
	}
	if e.Visits > 0 {
		fmt.Fprintf(&sb, " after %d visits", e.Visits)
	}
	return sb.String()
}

// Verify checks block structure and def-use consistency of the
// discovered blocks. It returns the first problem found.
func (g *FlowGraph) Verify() error {
	if len(g.preorder) == 0 || g.preorder[0] != g.Entry {
		return fmt.Errorf("%s: blocks not discovered", g.Name)
	}
	linked := make(map[*Instr]bool)
	for _, b := range g.preorder {
		for _, list := range [][]*Instr{b.InitialDefs, b.Phis, b.Instrs} {
			for _, instr := range list {
				if instr.block != b {
					return fmt.Errorf("%s: %s claims block %v, listed in %s", g.Name, instr, instr.block, b)
				}
				linked[instr] = true
			}
		}
	}

	for _, b := range g.preorder {
		if len(b.InitialDefs) > 0 && b.Kind != GraphEntry && b.Kind != FunctionEntry &&
			b.Kind != OsrEntry && b.Kind != CatchEntry {
			return fmt.Errorf("%s: %s (%s) cannot have initial definitions", g.Name, b, b.Kind)
		}
		if len(b.Phis) > 0 && !b.IsJoinLike() {
			return fmt.Errorf("%s: %s (%s) cannot have phis", g.Name, b, b.Kind)
		}
		if b.Kind != GraphEntry && b.Kind != TryEntry {
			last := b.Last()
			if last == nil || !last.Op.IsControl() {
				return fmt.Errorf("%s: %s does not end in a control instruction", g.Name, b)
			}
			for _, instr := range b.Instrs[:len(b.Instrs)-1] {
				if instr.Op.IsControl() {
					return fmt.Errorf("%s: control instruction %s in the middle of %s", g.Name, instr, b)
				}
			}
		}
		if !b.IsJoinLike() && len(b.Preds) > 1 {
			return fmt.Errorf("%s: %s (%s) has %d predecessors", g.Name, b, b.Kind, len(b.Preds))
		}
		for _, phi := range b.Phis {
			if phi.InputCount() != len(b.Preds) {
				return fmt.Errorf("%s: %s has %d inputs, %s has %d predecessors",
					g.Name, phi, phi.InputCount(), b, len(b.Preds))
			}
		}
		for _, s := range b.Successors() {
			found := false
			for _, p := range s.Preds {
				if p == b {
					found = true
				}
			}
			if !found {
				return fmt.Errorf("%s: %s is not a predecessor of its successor %s", g.Name, b, s)
			}
		}
	}

	for instr := range linked {
		if err := g.verifyUses(instr, linked); err != nil {
			return err
		}
	}
	return nil
}

func (g *FlowGraph) verifyUses(instr *Instr, linked map[*Instr]bool) error {
	if n := instr.Op.Arity(); n >= 0 && instr.InputCount() != n {
		return fmt.Errorf("%s: %s has %d inputs, want %d", g.Name, instr, instr.InputCount(), n)
	}
	for i, u := range instr.inputs {
		if u.User != instr || u.Index != i {
			return fmt.Errorf("%s: input %d of %s is misnumbered", g.Name, i, instr)
		}
		if !linked[u.Def] {
			return fmt.Errorf("%s: %s uses %s which is not in the graph", g.Name, instr, u.Def.Ref())
		}
		if !containsUse(u.Def.uses, u) {
			return fmt.Errorf("%s: input %d of %s missing from the use list of %s", g.Name, i, instr, u.Def.Ref())
		}
	}
	for _, u := range instr.uses {
		if u.Def != instr {
			return fmt.Errorf("%s: use list of %s holds a use of %s", g.Name, instr.Ref(), u.Def.Ref())
		}
		if !linked[u.User] || u.Index >= len(u.User.inputs) || u.User.inputs[u.Index] != u {
			return fmt.Errorf("%s: stale use of %s by %s", g.Name, instr.Ref(), u.User)
		}
	}
	return nil
}

func containsUse(uses []*Use, u *Use) bool {
	for _, other := range uses {
		if other == u {
			return true
		}
	}
	return false
}
