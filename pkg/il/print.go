package il

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aclements/go-moremath/graph/graphout"

	"vmcore/pkg/object"
)

// Ref returns the short name of a definition (v3) or the op name of
// other instructions
func (instr *Instr) Ref() string {
	if instr.IsDefinition() {
		return "v" + strconv.Itoa(instr.ID)
	}
	return instr.Op.String()
}

// String renders the instruction in the textual IL
func (instr *Instr) String() string {
	var parts []string
	if instr.IsDefinition() {
		parts = append(parts, instr.Ref())
	}
	parts = append(parts, instr.Op.String())
	parts = append(parts, instr.operands()...)
	parts = append(parts, instr.attrs()...)
	return "(" + strings.Join(parts, " ") + ")"
}

func (instr *Instr) inputRefs(from int) []string {
	var refs []string
	for i := from; i < len(instr.inputs); i++ {
		refs = append(refs, instr.inputs[i].Def.Ref())
	}
	return refs
}

func (instr *Instr) operands() []string {
	ins := instr.inputRefs(0)
	switch instr.Op {
	case OpConstant, OpUnboxedConstant:
		return []string{Literal(instr.Const)}
	case OpParameter:
		return []string{strconv.Itoa(instr.Index)}
	case OpStrictCompare, OpEqualityCompare, OpRelationalOp, OpTestInt,
		OpBinaryIntegerOp, OpUnaryIntegerOp, OpBinaryDoubleOp, OpUnaryDoubleOp:
		return append([]string{instr.Kind.String()}, ins...)
	case OpTestRange:
		return append([]string{instr.Kind.String()}, append(ins,
			strconv.FormatInt(instr.Lower, 10), strconv.FormatInt(instr.Upper, 10))...)
	case OpDoubleTestOp:
		return append([]string{instr.DoubleTest.String()}, ins...)
	case OpIfThenElse:
		return append(ins, strconv.FormatInt(instr.IfTrue, 10), strconv.FormatInt(instr.IfFalse, 10))
	case OpLoadField, OpStoreField:
		return append([]string{instr.Slot.String()}, ins...)
	case OpLoadStaticField, OpStoreStaticField, OpStaticCall, OpInstanceCall:
		return append([]string{instr.Name}, ins...)
	case OpInstanceOf:
		return []string{ins[0], instr.TestType.String(), ins[1], ins[2]}
	case OpAllocateObject:
		return []string{strconv.Itoa(instr.Index)}
	case OpGoto, OpBranch, OpIndirectGoto:
		for _, t := range instr.Targets {
			ins = append(ins, t.String())
		}
		return ins
	}
	return ins
}

func (instr *Instr) attrs() []string {
	var attrs []string
	if instr.Op == OpParameter || instr.Op == OpRedefinition || instr.Op == OpLoadStaticField ||
		instr.Op == OpStaticCall || instr.Op == OpInstanceCall {
		if instr.StaticType != object.DynamicCompileType() {
			attrs = append(attrs, "@type="+instr.StaticType.String())
		}
	}
	if instr.Rep != Tagged {
		attrs = append(attrs, "@rep="+instr.Rep.String())
	}
	if instr.FromRep != Tagged {
		attrs = append(attrs, "@from="+instr.FromRep.String())
	}
	if instr.Truncating {
		attrs = append(attrs, "@truncating")
	}
	if instr.Negated {
		attrs = append(attrs, "@not")
	}
	if instr.Recognized != RecognizedNone {
		attrs = append(attrs, "@recognized="+instr.Recognized.String())
	}
	if instr.InsertedByConstProp {
		attrs = append(attrs, "@inserted")
	}
	return attrs
}

// Literal renders a constant in the textual IL
func Literal(o *object.Object) string {
	switch {
	case o.IsNull(), o.IsSentinel(), o.IsBool(), o.IsInteger(), o.IsString():
		return o.String()
	case o.IsDouble():
		return o.String()
	case o.IsArray():
		head := "array"
		if o.IsImmutable() {
			head = "const-array"
		}
		parts := []string{head}
		for i := 0; i < o.Length(); i++ {
			parts = append(parts, Literal(o.At(i)))
		}
		return "(" + strings.Join(parts, " ") + ")"
	case o.IsTypedData():
		return fmt.Sprintf("(typed-data %d)", o.Length())
	case o.IsAbstractType():
		return "(type " + o.TypeValue().String() + ")"
	case o.IsTypeArguments():
		parts := []string{"type-args"}
		for _, t := range o.TypeArgs() {
			parts = append(parts, t.String())
		}
		return "(" + strings.Join(parts, " ") + ")"
	}
	parts := []string{"instance", strconv.Itoa(int(o.Cid()))}
	for i := 0; i < o.NumFields(); i++ {
		parts = append(parts, Literal(o.Field(i)))
	}
	return "(" + strings.Join(parts, " ") + ")"
}

func (b *Block) header() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "(block %s %s", b, b.Kind)
	if b.TryIndex != 0 {
		fmt.Fprintf(&sb, " @try=%d", b.TryIndex)
	}
	if b.Kind == GraphEntry || b.Kind == TryEntry {
		sb.WriteString(" (succ")
		for _, s := range b.Succs {
			sb.WriteString(" " + s.String())
		}
		sb.WriteString(")")
	}
	return sb.String()
}

func (g *FlowGraph) printOrder() []*Block {
	if len(g.preorder) > 0 {
		return g.preorder
	}
	return g.blocks
}

// Fprint writes the graph in the textual IL, blocks in preorder
func Fprint(w io.Writer, g *FlowGraph) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "(function %s", g.Name)
	for _, b := range g.printOrder() {
		fmt.Fprintf(bw, "\n  %s", b.header())
		for _, list := range [][]*Instr{b.InitialDefs, b.Phis, b.Instrs} {
			for _, instr := range list {
				fmt.Fprintf(bw, "\n    %s", instr)
			}
		}
		bw.WriteString(")")
	}
	bw.WriteString(")\n")
	return bw.Flush()
}

// Sprint returns the textual IL of the graph
func Sprint(g *FlowGraph) string {
	var sb strings.Builder
	Fprint(&sb, g)
	return sb.String()
}

// WriteDot writes the discovered blocks as a Graphviz digraph. Each node
// is labeled with the block's instructions.
func WriteDot(w io.Writer, g *FlowGraph) {
	blocks := g.preorder
	label := func(n int) string {
		b := blocks[n]
		lines := []string{fmt.Sprintf("%s %s", b, b.Kind)}
		for _, list := range [][]*Instr{b.InitialDefs, b.Phis, b.Instrs} {
			for _, instr := range list {
				lines = append(lines, instr.String())
			}
		}
		return strings.Join(lines, "\n")
	}
	nodeAttrs := func(n int) []graphout.DotAttr {
		return []graphout.DotAttr{{Name: "shape", Val: "box"}}
	}
	graphout.Dot{Label: label, NodeAttrs: nodeAttrs}.Fprint(w, g.Graph())
}
