package il

import (
	"github.com/aclements/go-moremath/graph"
	"github.com/aclements/go-moremath/graph/graphalg"
)

// cfg views the discovered blocks as a graph.BiGraph whose nodes are
// preorder numbers
type cfg struct {
	blocks []*Block
}

var _ graph.BiGraph = cfg{}

func (c cfg) NumNodes() int { return len(c.blocks) }

func (c cfg) Out(i int) []int {
	succs := c.blocks[i].Successors()
	out := make([]int, len(succs))
	for j, s := range succs {
		out[j] = s.Preorder
	}
	return out
}

func (c cfg) In(i int) []int {
	preds := c.blocks[i].Preds
	in := make([]int, len(preds))
	for j, p := range preds {
		in[j] = p.Preorder
	}
	return in
}

// Graph returns the discovered blocks as a graph.BiGraph indexed by
// preorder number
func (g *FlowGraph) Graph() graph.BiGraph { return cfg{blocks: g.preorder} }

// ComputeDominators rebuilds the dominator tree of the discovered blocks
// and returns the dominance frontier of each block, indexed by preorder
// number.
func (g *FlowGraph) ComputeDominators() [][]*Block {
	bg := g.Graph()
	idom := graphalg.IDom(bg, 0)
	tree := graphalg.Dom(idom)
	for i, b := range g.preorder {
		b.Dom = nil
		if d := tree.IDom(i); d >= 0 && i != 0 {
			b.Dom = g.preorder[d]
		}
		b.DomChildren = b.DomChildren[:0]
		for _, c := range tree.Out(i) {
			if c != i {
				b.DomChildren = append(b.DomChildren, g.preorder[c])
			}
		}
	}
	g.domValid = true

	frontier := graphalg.DomFrontier(bg, 0, idom)
	df := make([][]*Block, len(frontier))
	for i, nodes := range frontier {
		for _, n := range nodes {
			df[i] = append(df[i], g.preorder[n])
		}
	}
	return df
}

// DominatorsValid reports whether the dominator tree matches the current
// block structure
func (g *FlowGraph) DominatorsValid() bool { return g.domValid }
