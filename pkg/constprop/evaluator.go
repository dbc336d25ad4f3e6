package constprop

import (
	"math"

	"vmcore/pkg/il"
	"vmcore/pkg/object"
)

// IsRepresentable reports whether an integer fits representation rep
func IsRepresentable(v int64, rep il.Representation) bool {
	switch rep {
	case il.UnboxedInt32:
		return v == int64(int32(v))
	case il.UnboxedUint32:
		return v == int64(uint32(v))
	}
	return true
}

// TruncateTo wraps v to the width of rep
func TruncateTo(v int64, rep il.Representation) int64 {
	switch rep {
	case il.UnboxedInt32:
		return int64(int32(v))
	case il.UnboxedUint32:
		return int64(uint32(v))
	}
	return v
}

func finishInteger(table *object.CanonicalTable, v int64, truncating bool, rep il.Representation) *object.Object {
	if truncating {
		v = TruncateTo(v, rep)
	} else if !IsRepresentable(v, rep) {
		// The operation would deoptimize on overflow.
		return nil
	}
	return table.Integer(v)
}

func shiftLeft(v, n int64) int64 {
	if n >= 64 {
		return 0
	}
	return v << uint(n)
}

func shiftRight(v, n int64) int64 {
	if n >= 64 {
		n = 63
	}
	return v >> uint(n)
}

func shiftRightUnsigned(v, n int64) int64 {
	if n >= 64 {
		return 0
	}
	return int64(uint64(v) >> uint(n))
}

// BinaryIntegerEvaluate folds a binary integer operation. It returns nil
// when the result is not a compile-time constant: division by zero, a
// negative shift count, or an overflow of a non-truncating operation.
func BinaryIntegerEvaluate(table *object.CanonicalTable, left, right *object.Object, op il.Token, truncating bool, rep il.Representation) *object.Object {
	if !left.IsInteger() || !right.IsInteger() {
		return nil
	}
	l, r := left.IntValue(), right.IntValue()
	var v int64
	switch op {
	case il.TokADD:
		v = l + r
	case il.TokSUB:
		v = l - r
	case il.TokMUL:
		v = l * r
	case il.TokTRUNCDIV:
		if r == 0 {
			return nil
		}
		if r == -1 {
			v = -l
		} else {
			v = l / r
		}
	case il.TokMOD:
		if r == 0 {
			return nil
		}
		if r == -1 {
			v = 0
			break
		}
		v = l % r
		if v < 0 {
			if r < 0 {
				v -= r
			} else {
				v += r
			}
		}
	case il.TokREM:
		if r == 0 {
			return nil
		}
		if r == -1 {
			v = 0
		} else {
			v = l % r
		}
	case il.TokSHL:
		if r < 0 {
			return nil
		}
		v = shiftLeft(l, r)
	case il.TokSHR:
		if r < 0 {
			return nil
		}
		v = shiftRight(l, r)
	case il.TokUSHR:
		if r < 0 {
			return nil
		}
		v = shiftRightUnsigned(l, r)
	case il.TokBitAnd:
		v = l & r
	case il.TokBitOr:
		v = l | r
	case il.TokBitXor:
		v = l ^ r
	default:
		return nil
	}
	return finishInteger(table, v, truncating, rep)
}

// UnaryIntegerEvaluate folds negation and bitwise complement
func UnaryIntegerEvaluate(table *object.CanonicalTable, value *object.Object, op il.Token, truncating bool, rep il.Representation) *object.Object {
	if !value.IsInteger() {
		return nil
	}
	var v int64
	switch op {
	case il.TokNEGATE:
		v = -value.IntValue()
	case il.TokBitNot:
		v = ^value.IntValue()
	default:
		return nil
	}
	return finishInteger(table, v, truncating, rep)
}

// BinaryDoubleEvaluate folds a binary double operation
func BinaryDoubleEvaluate(left, right float64, op il.Token) (float64, bool) {
	switch op {
	case il.TokADD:
		return left + right, true
	case il.TokSUB:
		return left - right, true
	case il.TokMUL:
		return left * right, true
	case il.TokDIV:
		return left / right, true
	case il.TokMOD:
		if right == 0 {
			return math.NaN(), true
		}
		m := math.Mod(left, right)
		if m < 0 {
			m += math.Abs(right)
		}
		return m, true
	}
	return 0, false
}

// UnaryDoubleEvaluate folds a unary double operation
func UnaryDoubleEvaluate(value float64, op il.Token) (float64, bool) {
	switch op {
	case il.TokABS:
		return math.Abs(value), true
	case il.TokNEGATE:
		return -value, true
	case il.TokSQRT:
		return math.Sqrt(value), true
	case il.TokSQUARE:
		return value * value, true
	case il.TokTRUNCATE:
		return math.Trunc(value), true
	case il.TokFLOOR:
		return math.Floor(value), true
	case il.TokCEILING:
		return math.Ceil(value), true
	}
	return 0, false
}

// CompareIntegers evaluates a relational or equality token on integers
func CompareIntegers(op il.Token, left, right *object.Object) (bool, bool) {
	c := left.CompareWith(right)
	switch op {
	case il.TokEQ:
		return c == 0, true
	case il.TokNE:
		return c != 0, true
	case il.TokLT:
		return c < 0, true
	case il.TokGT:
		return c > 0, true
	case il.TokLTE:
		return c <= 0, true
	case il.TokGTE:
		return c >= 0, true
	}
	return false, false
}

// minMax implements Math.min and Math.max on two numbers of the same kind
func minMax(table *object.CanonicalTable, a, b *object.Object, isMin bool) *object.Object {
	switch {
	case a.IsInteger() && b.IsInteger():
		if (a.IntValue() < b.IntValue()) == isMin {
			return a
		}
		return b
	case a.IsDouble() && b.IsDouble():
		x, y := a.DoubleValue(), b.DoubleValue()
		if isMin {
			return table.Double(math.Min(x, y))
		}
		return table.Double(math.Max(x, y))
	}
	return nil
}

// evaluateRecognized folds a call to a recognized method with constant
// arguments
func evaluateRecognized(table *object.CanonicalTable, kind il.Recognized, args []*object.Object) *object.Object {
	switch kind {
	case il.RecognizedStringLength:
		if len(args) == 1 && args[0].IsString() {
			return object.NewSmi(int64(args[0].Length()))
		}
	case il.RecognizedStringEquality:
		if len(args) == 2 && args[0].IsString() && args[1].IsString() {
			return object.Bool(object.StringEquals(args[0], args[1]))
		}
	case il.RecognizedMathMin, il.RecognizedMathMax:
		if len(args) == 2 {
			return minMax(table, args[0], args[1], kind == il.RecognizedMathMin)
		}
	}
	return nil
}
