package constprop

import (
	"fmt"

	"vmcore/pkg/config"
	"vmcore/pkg/il"
)

// Optimize runs constant propagation on g and rewrites it with the
// results
func Optimize(g *il.FlowGraph, opts *config.Options) error {
	cp := New(g, opts)
	cp.Analyze()
	cp.Transform()
	return cp.verify("constant propagation")
}

// OptimizeBranches is Optimize followed by the removal of branches whose
// targets converge without doing any work
func OptimizeBranches(g *il.FlowGraph, opts *config.Options) error {
	cp := New(g, opts)
	cp.Analyze()
	cp.Transform()
	if err := cp.verify("constant propagation"); err != nil {
		return err
	}
	cp.EliminateRedundantBranches()
	return cp.verify("branch elimination")
}

func (cp *ConstantPropagator) verify(pass string) error {
	if !cp.opts.VerifyGraph {
		return nil
	}
	if err := cp.graph.Verify(); err != nil {
		cp.log.Error("graph verification failed", "pass", pass, "err", err)
		return fmt.Errorf("%s: %w", pass, err)
	}
	return nil
}
