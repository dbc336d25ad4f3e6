package frontend_test

import (
	"testing"

	"vmcore/pkg/config"
	"vmcore/pkg/constprop"
	"vmcore/pkg/frontend"
	"vmcore/pkg/il"
)

func countOps(g *il.FlowGraph, op il.Op) int {
	n := 0
	for _, instr := range g.Instructions() {
		if instr.Op == op {
			n++
		}
	}
	return n
}

func build(t *testing.T, src string) map[string]*il.FlowGraph {
	t.Helper()
	graphs, err := frontend.BuildSource("p.go", src)
	if err != nil {
		t.Fatal(err)
	}
	byName := make(map[string]*il.FlowGraph, len(graphs))
	for _, g := range graphs {
		byName[g.Name] = g
	}
	return byName
}

func optimize(t *testing.T, g *il.FlowGraph) {
	t.Helper()
	opts := config.Default()
	opts.VerifyGraph = true
	if err := constprop.Optimize(g, opts); err != nil {
		t.Fatalf("%v\n%s", err, il.Sprint(g))
	}
}

// returned finds the single return of g and the definition it returns
func returned(t *testing.T, g *il.FlowGraph) *il.Instr {
	t.Helper()
	var ret *il.Instr
	for _, instr := range g.Instructions() {
		if instr.Op == il.OpReturn {
			if ret != nil {
				t.Fatalf("more than one return:\n%s", il.Sprint(g))
			}
			ret = instr
		}
	}
	if ret == nil {
		t.Fatalf("no return:\n%s", il.Sprint(g))
	}
	return ret.InputAt(0)
}

const source = `package p

func fold(x int) int {
	a := 3
	b := 4
	if a+b == 7 {
		return x + 1
	}
	return x - 1
}

func loop(n int) int {
	s := 0
	for i := 0; i < n; i++ {
		s += 2
	}
	return s
}

func strlen() int {
	s := "hello"
	return len(s)
}

func not() bool {
	t := true
	return !t
}

func scale() float64 {
	a := 1.5
	return a * 2
}

func divzero() int {
	z := 0
	return 1 / z
}

func deref(p *int) int {
	return *p + 1
}

func pair(x int) (int, int) {
	f := func() int { return x }
	return f(), x
}

func boom(x int) int {
	if x > 0 {
		panic("positive")
	}
	return x
}

func bounded(x int) int {
	return min(x, 10)
}
`

func TestBuildSourceOrder(t *testing.T) {
	graphs, err := frontend.BuildSource("p.go", source)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, g := range graphs {
		names = append(names, g.Name)
	}
	want := []string{"fold", "loop", "strlen", "not", "scale", "divzero", "deref", "pair", "pair$1", "boom", "bounded"}
	if len(names) != len(want) {
		t.Fatalf("functions = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("functions = %v, want %v", names, want)
		}
	}
}

func TestConstantBranchFolds(t *testing.T) {
	g := build(t, source)["fold"]
	if countOps(g, il.OpBranch) != 1 || countOps(g, il.OpEqualityCompare) != 1 {
		t.Fatalf("unexpected lowering:\n%s", il.Sprint(g))
	}
	optimize(t, g)
	if n := countOps(g, il.OpBranch); n != 0 {
		t.Errorf("%d branches left:\n%s", n, il.Sprint(g))
	}
	def := returned(t, g)
	if def.Op != il.OpBinaryIntegerOp || def.Kind != il.TokADD {
		t.Errorf("returns %s, want x + 1:\n%s", def, il.Sprint(g))
	}
}

func TestLoopPhis(t *testing.T) {
	g := build(t, source)["loop"]
	phis := countOps(g, il.OpPhi)
	if phis < 2 {
		t.Fatalf("%d phis, want one for s and one for i:\n%s", phis, il.Sprint(g))
	}
	for _, instr := range g.Instructions() {
		if instr.Op == il.OpPhi && instr.InputCount() != len(instr.Block().Preds) {
			t.Errorf("%s does not match the predecessors of %s", instr, instr.Block())
		}
	}
	optimize(t, g)
	if countOps(g, il.OpPhi) != phis || countOps(g, il.OpBranch) != 1 {
		t.Errorf("loop changed by constant propagation:\n%s", il.Sprint(g))
	}
}

func TestFoldedValues(t *testing.T) {
	graphs := build(t, source)
	tests := []struct {
		name  string
		check func(*il.Instr) bool
	}{
		{"strlen", func(d *il.Instr) bool { return d.BindsToConstant() && d.Const.IsInteger() && d.Const.IntValue() == 5 }},
		{"not", func(d *il.Instr) bool { return d.BindsToConstant() && d.Const.IsBool() && !d.Const.BoolValue() }},
		{"scale", func(d *il.Instr) bool { return d.BindsToConstant() && d.Const.IsDouble() && d.Const.DoubleValue() == 3 }},
		{"divzero", func(d *il.Instr) bool { return d.Op == il.OpBinaryIntegerOp }},
		{"deref", func(d *il.Instr) bool { return d.Op == il.OpBinaryIntegerOp }},
		{"bounded", func(d *il.Instr) bool { return d.Op == il.OpStaticCall && d.Recognized == il.RecognizedMathMin }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := graphs[tt.name]
			optimize(t, g)
			if def := returned(t, g); !tt.check(def) {
				t.Errorf("returns %s:\n%s", def, il.Sprint(g))
			}
		})
	}
}

func TestOpaqueInstructions(t *testing.T) {
	graphs := build(t, source)

	pair := graphs["pair"]
	if def := returned(t, pair); def.Op != il.OpStaticCall || def.Name != "tuple" || def.InputCount() != 2 {
		t.Errorf("multiple results not packed:\n%s", il.Sprint(pair))
	}
	closure := graphs["pair$1"]
	// The captured variable is loaded through its address.
	def := returned(t, closure)
	if def.Op != il.OpStaticCall || def.InputCount() != 1 {
		t.Fatalf("returns %s:\n%s", def, il.Sprint(closure))
	}
	if fv := def.InputAt(0); fv.Op != il.OpParameter || fv.Name != "x" {
		t.Errorf("free variable is not a parameter:\n%s", il.Sprint(closure))
	}

	boom := graphs["boom"]
	if countOps(boom, il.OpThrow) != 1 {
		t.Errorf("panic not lowered to throw:\n%s", il.Sprint(boom))
	}
	optimize(t, boom)
	if countOps(boom, il.OpThrow) != 1 {
		t.Errorf("throw removed:\n%s", il.Sprint(boom))
	}
}
