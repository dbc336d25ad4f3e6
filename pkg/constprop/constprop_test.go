package constprop_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"vmcore/pkg/config"
	"vmcore/pkg/constprop"
	"vmcore/pkg/il"
	"vmcore/pkg/lattice"
	"vmcore/pkg/object"
	"vmcore/pkg/parser"
)

func testOptions() *config.Options {
	opts := config.Default()
	opts.VerifyGraph = true
	return opts
}

func findDef(t *testing.T, g *il.FlowGraph, id int) *il.Instr {
	t.Helper()
	for _, d := range g.Definitions() {
		if d.ID == id {
			return d
		}
	}
	t.Fatalf("v%d not found", id)
	return nil
}

func findBlock(g *il.FlowGraph, id int) *il.Block {
	for _, b := range g.Preorder() {
		if b.ID == id {
			return b
		}
	}
	return nil
}

func countOps(g *il.FlowGraph, op il.Op) int {
	n := 0
	for _, instr := range g.Instructions() {
		if instr.Op == op {
			n++
		}
	}
	return n
}

func analyze(t *testing.T, src string) (*il.FlowGraph, *constprop.ConstantPropagator) {
	t.Helper()
	g := parser.MustParseFunction(src)
	cp := constprop.New(g, testOptions())
	cp.Analyze()
	return g, cp
}

const deadBranch = `
(function dead
  (block B0 graph-entry (succ B1)
    (v1 constant 5)
    (v2 constant 5))
  (block B1 function-entry
    (v3 equality-compare == v1 v2)
    (branch v3 B2 B3))
  (block B2 target
    (return v1))
  (block B3 target
    (v4 check-null v2)
    (goto B4))
  (block B4 join
    (return v4)))
`

func TestDeadBranchElimination(t *testing.T) {
	g := parser.MustParseFunction(deadBranch)
	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if n := countOps(g, il.OpBranch); n != 0 {
		t.Errorf("%d branches left:\n%s", n, il.Sprint(g))
	}
	for _, id := range []int{3, 4} {
		if findBlock(g, id) != nil {
			t.Errorf("B%d should be removed:\n%s", id, il.Sprint(g))
		}
	}
	if n := len(g.Preorder()); n != 2 {
		t.Fatalf("got %d blocks, want graph entry and one body block:\n%s", n, il.Sprint(g))
	}
	ret := g.Preorder()[1].Last()
	if ret.Op != il.OpReturn || ret.InputAt(0).ID != 1 {
		t.Errorf("body should end in (return v1), got %s", ret)
	}
	if countOps(g, il.OpCheckNull) != 0 {
		t.Error("instructions of the dead successor survived")
	}
}

func TestBranchEdgeExclusivity(t *testing.T) {
	g, cp := analyze(t, deadBranch)
	b1 := findBlock(g, 1)
	branch := b1.Last()
	if !cp.Reachable(branch.TrueSuccessor()) {
		t.Error("true successor should be reachable")
	}
	if cp.Reachable(branch.FalseSuccessor()) {
		t.Error("false successor should not be reachable")
	}
	if cp.Reachable(findBlock(g, 4)) {
		t.Error("B4 is only reachable through the dead edge")
	}
	if v := findDef(t, g, 3).Value; !v.IsConstant() || v.Object() != object.True {
		t.Errorf("v3 = %v, want true", v)
	}
}

func TestStrictCompareSelfFold(t *testing.T) {
	g, _ := analyze(t, `
(function self
  (block B0 graph-entry (succ B1))
  (block B1 function-entry
    (v0 parameter 0)
    (v1 strict-compare === v0 v0)
    (v2 strict-compare !== v0 v0)
    (v3 equality-compare == v0 v0)
    (v4 equality-compare == v0 v0 @from=double)
    (store-field field:0 v0 v2)
    (return v1)))`)
	want := map[int]string{1: "true", 2: "false", 3: "true", 4: "non-constant"}
	for id, w := range want {
		if got := findDef(t, g, id).Value.String(); got != w {
			t.Errorf("v%d = %s, want %s", id, got, w)
		}
	}

	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	ret := g.FunctionEntry().Last()
	if c := ret.InputAt(0); !c.BindsToConstant() || c.Const != object.True {
		t.Errorf("return should use constant true, got %s", ret)
	}
}

func TestImmutableLoadFold(t *testing.T) {
	g, _ := analyze(t, `
(function loads
  (block B0 graph-entry (succ B1)
    (v1 constant (const-array 1 2 3))
    (v2 constant 1)
    (v3 constant (array 1 2 3))
    (v4 constant 7))
  (block B1 function-entry
    (v5 load-indexed v1 v2)
    (v6 load-indexed v3 v2)
    (v7 load-indexed v1 v4)
    (v8 load-field array-length v1)
    (v9 load-field array-length v3)
    (return v5)))`)
	want := map[int]string{5: "2", 6: "non-constant", 7: "non-constant", 8: "3", 9: "3"}
	for id, w := range want {
		if got := findDef(t, g, id).Value.String(); got != w {
			t.Errorf("v%d = %s, want %s", id, got, w)
		}
	}
}

func TestChecksNeverFold(t *testing.T) {
	g, _ := analyze(t, `
(function checks
  (block B0 graph-entry (succ B1)
    (v1 constant (const-array 1 2 3))
    (v2 constant 3)
    (v3 constant 0))
  (block B1 function-entry
    (v4 check-null v1)
    (v5 check-array-bound v2 v3)
    (v6 generic-check-bound v2 v3)
    (v7 check-writable v1)
    (return v4)))`)
	for id := 4; id <= 7; id++ {
		if v := findDef(t, g, id).Value; !v.IsNonConstant() {
			t.Errorf("v%d = %v, want non-constant", id, v)
		}
	}
}

const loop = `
(function loop
  (block B0 graph-entry (succ B1)
    (v1 constant 0)
    (v2 constant 1)
    (v3 constant 10))
  (block B1 function-entry
    (goto B2))
  (block B2 join
    (v4 phi v1 v6)
    (v5 relational-op < v4 v3)
    (branch v5 B3 B4))
  (block B3 target
    (v6 binary-int-op + v4 v2)
    (goto B2))
  (block B4 target
    (return v4)))
`

func TestLatticeMonotonicity(t *testing.T) {
	for _, src := range []string{deadBranch, loop, redefinitions, threeWayJoin} {
		g := parser.MustParseFunction(src)
		cp := constprop.New(g, testOptions())
		changes := 0
		cp.OnSetValue = func(def *il.Instr, from, to lattice.Value) {
			changes++
			if !from.Leq(to) {
				t.Errorf("%s: %s went from %v to %v", g.Name, def.Ref(), from, to)
			}
		}
		cp.Analyze()
		if changes == 0 {
			t.Errorf("%s: no values were set", g.Name)
		}
	}
}

func TestLoopReachesFixpoint(t *testing.T) {
	g, cp := analyze(t, loop)
	if v := findDef(t, g, 4).Value; !v.IsNonConstant() {
		t.Errorf("loop phi = %v, want non-constant", v)
	}
	for _, id := range []int{3, 4} {
		if !cp.Reachable(findBlock(g, id)) {
			t.Errorf("B%d should be reachable", id)
		}
	}
}

func TestPhiVisitBound(t *testing.T) {
	g := parser.MustParseFunction(loop)
	opts := testOptions()
	opts.PhiVisitMultiplier = 1
	cp := constprop.New(g, opts)

	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok {
			t.Fatalf("expected an invariant error panic, got %v", r)
		}
		var inv *il.InvariantError
		if !errors.As(err, &inv) {
			t.Fatalf("panic value %T is not an InvariantError", r)
		}
		if inv.Function != "loop" || inv.Visits <= 2 {
			t.Errorf("unexpected error context: %+v", inv)
		}
	}()
	cp.Analyze()
}

const redefinitions = `
(function redef
  (block B0 graph-entry (succ B1)
    (v1 constant 3))
  (block B1 function-entry
    (v0 parameter 0)
    (v2 strict-compare === v0 v1)
    (branch v2 B2 B3))
  (block B2 target
    (v3 binary-int-op + v0 v1)
    (return v3))
  (block B3 target
    (return v0)))
`

func TestRedefinitionAfterEqualityComparison(t *testing.T) {
	g := parser.MustParseFunction(redefinitions)
	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if n := countOps(g, il.OpRedefinition); n != 0 {
		t.Errorf("%d scaffolding redefinitions left:\n%s", n, il.Sprint(g))
	}
	ret := findBlock(g, 2).Last()
	if c := ret.InputAt(0); !c.BindsToConstant() || c.Const.IntValue() != 6 {
		t.Errorf("true edge should return 6, got %s", ret)
	}
	other := findBlock(g, 3).Last()
	if other.InputAt(0).Op != il.OpParameter {
		t.Errorf("false edge should return the parameter, got %s", other)
	}
}

func TestBooleanRedefinitionOnBothEdges(t *testing.T) {
	g := parser.MustParseFunction(`
(function flags
  (block B0 graph-entry (succ B1)
    (v1 constant true))
  (block B1 function-entry
    (v0 parameter 0 @type=bool)
    (v2 strict-compare !== v0 v1)
    (branch v2 B2 B3))
  (block B2 target
    (v3 boolean-negate v0)
    (return v3))
  (block B3 target
    (v4 boolean-negate v0)
    (return v4)))`)
	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	// v0 !== true holds on the true edge, so v0 is false there.
	for id, want := range map[int]*object.Object{2: object.True, 3: object.False} {
		ret := findBlock(g, id).Last()
		if c := ret.InputAt(0); !c.BindsToConstant() || c.Const != want {
			t.Errorf("B%d: got %s, want (return %v)", id, ret, want)
		}
	}
}

const threeWayJoin = `
(function join3
  (block B0 graph-entry (succ B1)
    (v1 constant false))
  (block B1 function-entry
    (v0 parameter 0)
    (v5 parameter 1)
    (v6 parameter 2)
    (v7 parameter 3)
    (branch v0 B2 B3))
  (block B2 target
    (branch v1 B4 B5))
  (block B3 target
    (goto B6))
  (block B4 target
    (goto B6))
  (block B5 target
    (goto B6))
  (block B6 join
    (v8 phi v5 v6 v7)
    (return v8)))
`

func TestPhiInputsFromDeadPredecessorsDropped(t *testing.T) {
	g := parser.MustParseFunction(threeWayJoin)
	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	join := findBlock(g, 6)
	if join == nil || len(join.Phis) != 1 {
		t.Fatalf("join with one phi expected:\n%s", il.Sprint(g))
	}
	phi := join.Phis[0]
	if phi.InputCount() != 2 || phi.InputAt(0).ID != 5 || phi.InputAt(1).ID != 7 {
		t.Errorf("phi = %s, want (v8 phi v5 v7)", phi)
	}
	if len(join.Preds) != 2 {
		t.Errorf("join has %d predecessors", len(join.Preds))
	}
	if uses := findDef(t, g, 6).Uses(); len(uses) != 0 {
		t.Errorf("dead phi input still has %d uses", len(uses))
	}
}

func TestSingleLivePredecessorReplacesPhi(t *testing.T) {
	src := `
(function single
  (block B0 graph-entry (succ B1)
    (v1 constant true)
    (v2 constant 2))
  (block B1 function-entry
    (v0 parameter 0)
    (branch v1 B2 B3))
  (block B2 target
    (goto B4))
  (block B3 target
    (goto B4))
  (block B4 join
    (v3 phi v0 v2)
    (return v3)))`
	for _, remove := range []bool{true, false} {
		t.Run(fmt.Sprintf("remove=%v", remove), func(t *testing.T) {
			g := parser.MustParseFunction(src)
			opts := testOptions()
			opts.RemoveRedundantPhis = remove
			if err := constprop.Optimize(g, opts); err != nil {
				t.Fatalf("Optimize: %v", err)
			}
			if n := countOps(g, il.OpPhi); n != 0 {
				t.Errorf("%d phis left:\n%s", n, il.Sprint(g))
			}
			var ret *il.Instr
			for _, instr := range g.Instructions() {
				if instr.Op == il.OpReturn {
					ret = instr
				}
			}
			if ret == nil || ret.InputAt(0).ID != 0 {
				t.Errorf("should return the parameter, got %v", ret)
			}
		})
	}
}

func TestOptimizeIsIdempotent(t *testing.T) {
	for _, src := range []string{deadBranch, loop, redefinitions, threeWayJoin} {
		g := parser.MustParseFunction(src)
		if err := constprop.Optimize(g, testOptions()); err != nil {
			t.Fatalf("Optimize: %v", err)
		}
		once := il.Sprint(g)
		if err := constprop.Optimize(g, testOptions()); err != nil {
			t.Fatalf("second Optimize: %v", err)
		}
		if twice := il.Sprint(g); twice != once {
			t.Errorf("%s changed on the second run:\n%s\nvs\n%s", g.Name, once, twice)
		}
	}
}

func TestOptimizeIsDeterministic(t *testing.T) {
	for _, src := range []string{deadBranch, loop, redefinitions, threeWayJoin} {
		a, b := parser.MustParseFunction(src), parser.MustParseFunction(src)
		if err := constprop.Optimize(a, testOptions()); err != nil {
			t.Fatal(err)
		}
		if err := constprop.Optimize(b, testOptions()); err != nil {
			t.Fatal(err)
		}
		if il.Sprint(a) != il.Sprint(b) {
			t.Errorf("%s: two runs disagree", a.Name)
		}
	}
}

const convergingBranch = `
(function converge
  (block B0 graph-entry (succ B1))
  (block B1 function-entry
    (v0 parameter 0)
    (branch v0 B2 B3))
  (block B2 target
    (goto B4))
  (block B3 target
    (goto B5))
  (block B5 join
    (goto B4))
  (block B4 join
    (return v0)))
`

func TestEliminateRedundantBranches(t *testing.T) {
	g := parser.MustParseFunction(convergingBranch)
	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if countOps(g, il.OpBranch) != 1 {
		t.Fatal("Optimize alone must keep the branch")
	}

	g = parser.MustParseFunction(convergingBranch)
	if err := constprop.OptimizeBranches(g, testOptions()); err != nil {
		t.Fatalf("OptimizeBranches: %v", err)
	}
	if n := countOps(g, il.OpBranch); n != 0 {
		t.Errorf("%d branches left:\n%s", n, il.Sprint(g))
	}
	if n := len(g.Preorder()); n != 2 {
		t.Errorf("got %d blocks, want everything merged into the entry:\n%s", n, il.Sprint(g))
	}
}

func TestEliminateRedundantBranchDropsCondition(t *testing.T) {
	g := parser.MustParseFunction(`
(function compare
  (block B0 graph-entry (succ B1))
  (block B1 function-entry
    (v0 parameter 0)
    (v1 parameter 1)
    (v2 relational-op < v0 v1)
    (branch v2 B2 B3))
  (block B2 target
    (goto B4))
  (block B3 target
    (goto B4))
  (block B4 join
    (return v0)))`)
	if err := constprop.OptimizeBranches(g, testOptions()); err != nil {
		t.Fatalf("OptimizeBranches: %v", err)
	}
	if countOps(g, il.OpBranch) != 0 {
		t.Fatalf("branch kept:\n%s", il.Sprint(g))
	}
	if n := countOps(g, il.OpRelationalOp); n != 0 {
		t.Errorf("%d comparisons left after dropping the branch:\n%s", n, il.Sprint(g))
	}
	if err := g.Verify(); err != nil {
		t.Error(err)
	}
}

func TestRedundantBranchKeptWhenJoinHasPhis(t *testing.T) {
	g := parser.MustParseFunction(`
(function phis
  (block B0 graph-entry (succ B1)
    (v1 constant 1)
    (v2 constant 2))
  (block B1 function-entry
    (v0 parameter 0)
    (branch v0 B2 B3))
  (block B2 target
    (goto B4))
  (block B3 target
    (goto B4))
  (block B4 join
    (v3 phi v1 v2)
    (return v3)))`)
	if err := constprop.OptimizeBranches(g, testOptions()); err != nil {
		t.Fatalf("OptimizeBranches: %v", err)
	}
	if countOps(g, il.OpBranch) != 1 || countOps(g, il.OpPhi) != 1 {
		t.Errorf("branch feeding a phi must stay:\n%s", il.Sprint(g))
	}
}

func TestSelfLoopIsNotEmpty(t *testing.T) {
	g := parser.MustParseFunction(`
(function spin
  (block B0 graph-entry (succ B1))
  (block B1 function-entry
    (v0 parameter 0)
    (branch v0 B2 B3))
  (block B2 target
    (goto B4))
  (block B3 target
    (goto B4))
  (block B4 join
    (goto B4)))`)
	if err := constprop.OptimizeBranches(g, testOptions()); err != nil {
		t.Fatalf("OptimizeBranches: %v", err)
	}
	if countOps(g, il.OpGoto) == 0 {
		t.Errorf("the infinite loop must survive:\n%s", il.Sprint(g))
	}
}

// valueOf analyzes a single-block function and returns the value of v9
func valueOf(t *testing.T, consts, body string) lattice.Value {
	t.Helper()
	src := fmt.Sprintf(`
(function fold
  (block B0 graph-entry (succ B1)
    %s)
  (block B1 function-entry
    (v0 parameter 0)
    %s
    (return v0)))`, consts, body)
	g, err := parser.ParseFunction(src)
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, src)
	}
	constprop.New(g, testOptions()).Analyze()
	return findDef(t, g, 9).Value
}

func TestFoldingRules(t *testing.T) {
	tests := []struct {
		name   string
		consts string
		body   string
		want   string
	}{
		{"int add", "(v1 constant 1) (v2 constant 2)", "(v9 binary-int-op + v1 v2)", "3"},
		{"int div by zero", "(v1 constant 1) (v2 constant 0)", "(v9 binary-int-op ~/ v1 v2)", "non-constant"},
		{"int overflow", "(v1 constant 2147483647) (v2 constant 1)", "(v9 binary-int-op + v1 v2 @rep=int32)", "non-constant"},
		{"int truncating", "(v1 constant 2147483647) (v2 constant 1)", "(v9 binary-int-op + v1 v2 @rep=int32 @truncating)", "-2147483648"},
		{"int with parameter", "(v1 constant 1)", "(v9 binary-int-op + v1 v0)", "non-constant"},
		{"int negate", "(v1 constant 5)", "(v9 unary-int-op neg v1)", "-5"},
		{"double add", "(v1 constant 1) (v2 constant 2.5)", "(v9 binary-double-op + v1 v2 @rep=double)", "3.5"},
		{"double op on ints", "(v1 constant 1) (v2 constant 2)", "(v9 binary-double-op + v1 v2 @rep=double)", "non-constant"},
		{"double sqrt", "(v1 constant 4.0)", "(v9 unary-double-op sqrt v1 @rep=double)", "2.0"},
		{"is nan", "(v1 constant NaN)", "(v9 double-test-op is-nan v1)", "true"},
		{"is not nan", "(v1 constant NaN)", "(v9 double-test-op is-nan v1 @not)", "false"},
		{"is negative zero", "(v1 constant -0.0)", "(v9 double-test-op is-negative v1)", "true"},
		{"int to double", "(v1 constant 3)", "(v9 int64-to-double v1 @rep=double)", "3.0"},
		{"test int", "(v1 constant 6) (v2 constant 1)", "(v9 test-int == v1 v2)", "true"},
		{"test int ne", "(v1 constant 6) (v2 constant 2)", "(v9 test-int != v1 v2)", "true"},
		{"test range", "(v1 constant 5)", "(v9 test-range is v1 0 10)", "true"},
		{"test range isnot", "(v1 constant 5)", "(v9 test-range isnot v1 0 10)", "false"},
		{"relational", "(v1 constant 1) (v2 constant 2)", "(v9 relational-op >= v1 v2)", "false"},
		{"relational doubles", "(v1 constant 1.0) (v2 constant 2.0)", "(v9 relational-op < v1 v2)", "non-constant"},
		{"string equality", `(v1 constant "a") (v2 constant "a")`, "(v9 equality-compare == v1 v2)", "true"},
		{"strict null vs int", "(v1 constant null)", "(v8 parameter 1 @type=int) (v9 strict-compare === v1 v8)", "false"},
		{"strict null vs nullable", "(v1 constant null)", "(v8 parameter 1 @type=int?) (v9 strict-compare === v1 v8)", "non-constant"},
		{"strict sentinel", "(v1 constant sentinel)", "(v8 parameter 1) (v9 strict-compare !== v8 v1)", "true"},
		{"strict maybe sentinel", "(v1 constant sentinel)", "(v8 parameter 1 @type=int|sentinel) (v9 strict-compare === v8 v1)", "non-constant"},
		{"strict distinct classes", "", "(v7 parameter 1 @type=String) (v8 parameter 2 @type=bool) (v9 strict-compare === v7 v8)", "false"},
		{"strict identical doubles", "(v1 constant 1.5) (v2 constant 1.5)", "(v9 strict-compare === v1 v2)", "true"},
		{"negate", "(v1 constant true)", "(v9 boolean-negate v1)", "false"},
		{"if then else", "(v1 constant 1) (v2 constant 2)", "(v8 relational-op < v1 v2) (v9 if-then-else v8 10 20)", "10"},
		{"string length", `(v1 constant "abc")`, "(v9 load-field string-length v1)", "3"},
		{"final field", `(v1 constant (instance 101 7 "x"))`, "(v9 load-field final-field:0 v1)", "7"},
		{"mutable field", `(v1 constant (instance 101 7 "x"))`, "(v9 load-field field:0 v1)", "non-constant"},
		{"create array length", "(v1 constant 4)", "(v8 create-array v1) (v9 load-field array-length v8)", "4"},
		{"instance of", "(v1 constant 3)", "(v9 instance-of v1 int)", "true"},
		{"instance of string", `(v1 constant "x")`, "(v9 instance-of v1 int)", "false"},
		{"instance of top", "", "(v9 instance-of v0 dynamic)", "true"},
		{"instance of unboxed", "", "(v8 parameter 1 @rep=int64) (v9 instance-of v8 int)", "true"},
		{"instance of parameter", "", "(v9 instance-of v0 int)", "non-constant"},
		{"assert assignable", "(v1 constant 3) (v2 constant (type int))", "(v9 assert-assignable v1 v2)", "3"},
		{"assert not assignable", `(v1 constant "x") (v2 constant (type int))`, "(v9 assert-assignable v1 v2)", "non-constant"},
		{"char code", `(v1 constant "A")`, "(v9 string-to-char-code v1)", "65"},
		{"char code of long string", `(v1 constant "AB")`, "(v9 string-to-char-code v1)", "-1"},
		{"string from char code", "(v1 constant 66)", "(v9 char-code-to-string v1)", `"B"`},
		{"string from large char code", "(v1 constant 300)", "(v9 char-code-to-string v1)", "non-constant"},
		{"recognized max", "(v1 constant 3) (v2 constant 9)", "(v9 static-call Math.max v1 v2 @recognized=math-max)", "9"},
		{"recognized length", `(v1 constant "hello")`, "(v9 static-call String.length v1 @recognized=string-length)", "5"},
		{"string identity", "", "(v9 static-call String.== v0 v0 @recognized=string-equality)", "true"},
		{"unknown call", "(v1 constant 3)", "(v9 static-call foo v1)", "non-constant"},
		{"unbox int32", "(v1 constant 5)", "(v9 unbox v1 @rep=int32)", "5"},
		{"box", "(v1 unboxed-constant 5 @rep=int64)", "(v9 box v1 @from=int64)", "5"},
		{"box representation mismatch", "(v1 unboxed-constant 5 @rep=int64)", "(v9 box v1 @from=int32)", "non-constant"},
		{"load class id", `(v1 constant "x")`, "(v9 load-class-id v1)", fmt.Sprint(int(object.CidOneByteString))},
		{"store static field", "(v1 constant 8)", "(v9 store-static-field counter v1)", "8"},
		{"redefinition of parameter", "", "(v9 redefinition v0)", "non-constant"},
		{"redefinition of constant", "(v1 constant 8)", "(v9 redefinition v1)", "8"},
		{"int converter", "(v1 constant 8)", "(v9 int-converter v1 @from=int64 @rep=int32)", "non-constant"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := valueOf(t, tt.consts, tt.body).String(); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTransformMaterializesUnboxedConstants(t *testing.T) {
	g := parser.MustParseFunction(`
(function unboxed
  (block B0 graph-entry (succ B1)
    (v1 constant 2)
    (v2 constant 3))
  (block B1 function-entry
    (v3 binary-double-op * v1 v2 @rep=double)
    (v4 int64-to-double v1 @rep=double)
    (return v4)))`)
	if err := constprop.Optimize(g, testOptions()); err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	ret := g.FunctionEntry().Last()
	c := ret.InputAt(0)
	if c.Op != il.OpUnboxedConstant || c.Rep != il.UnboxedDouble || c.Const.DoubleValue() != 2 {
		t.Errorf("return should use an unboxed double 2.0, got %s", c)
	}
}

func TestOptimizeTraceLogging(t *testing.T) {
	var buf bytes.Buffer
	opts := testOptions()
	opts.TraceConstantPropagation = true
	opts.Logger = config.NewLogger(&buf, true)
	g := parser.MustParseFunction(deadBranch)
	if err := constprop.Optimize(g, opts); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"unreachable block", "constant definition", "function=dead"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log lacks %q:\n%s", want, buf.String())
		}
	}
}
