// Package parser reads the textual IL: S-expressions describing flow
// graphs block by block.
package parser

import (
	"fmt"
	"strconv"
	"unicode"
)

// Kind is the type of a Node
type Kind int

const (
	NInt Kind = iota
	NFloat
	NSym
	NString
	NList
)

// Node is one S-expression
type Node struct {
	Kind Kind

	// NInt
	Int int64

	// NFloat
	Float float64

	// NSym, NString
	Str string

	// NList
	List []*Node

	// Line is the 1-based source line the node starts on
	Line int
}

// IsSym reports whether n is the symbol s
func (n *Node) IsSym(s string) bool { return n.Kind == NSym && n.Str == s }

// Head returns the leading symbol of a list, or ""
func (n *Node) Head() string {
	if n.Kind != NList || len(n.List) == 0 || n.List[0].Kind != NSym {
		return ""
	}
	return n.List[0].Str
}

func (n *Node) String() string {
	switch n.Kind {
	case NInt:
		return strconv.FormatInt(n.Int, 10)
	case NFloat:
		return strconv.FormatFloat(n.Float, 'g', -1, 64)
	case NString:
		return strconv.Quote(n.Str)
	case NList:
		s := "("
		for i, item := range n.List {
			if i > 0 {
				s += " "
			}
			s += item.String()
		}
		return s + ")"
	}
	return n.Str
}

// Parser parses S-expressions into Nodes
type Parser struct {
	input string
	pos   int
	line  int
}

// New creates a new parser for the given input
func New(input string) *Parser {
	return &Parser{input: input, pos: 0, line: 1}
}

// Parse parses a single S-expression
func (p *Parser) Parse() (*Node, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return nil, nil
	}
	return p.parseExpr()
}

// ParseAll parses all S-expressions in the input
func (p *Parser) ParseAll() ([]*Node, error) {
	var results []*Node
	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			break
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if expr != nil {
			results = append(results, expr)
		}
	}
	return results, nil
}

func (p *Parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("line %d: %s", p.line, fmt.Sprintf(format, args...))
}

func (p *Parser) skipWhitespace() {
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if ch == ';' {
			// Skip comment to end of line
			for p.pos < len(p.input) && p.input[p.pos] != '\n' {
				p.pos++
			}
		} else if unicode.IsSpace(rune(ch)) {
			if ch == '\n' {
				p.line++
			}
			p.pos++
		} else {
			break
		}
	}
}

func (p *Parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *Parser) advance() byte {
	ch := p.peek()
	if ch != 0 {
		p.pos++
		if ch == '\n' {
			p.line++
		}
	}
	return ch
}

func (p *Parser) parseExpr() (*Node, error) {
	p.skipWhitespace()
	if p.pos >= len(p.input) {
		return nil, nil
	}

	switch p.peek() {
	case '(':
		return p.parseList()
	case ')':
		return nil, p.errorf("unexpected ')'")
	case '"':
		return p.parseString()
	default:
		return p.parseAtom()
	}
}

func (p *Parser) parseList() (*Node, error) {
	line := p.line
	p.advance() // consume '('
	var items []*Node

	for {
		p.skipWhitespace()
		if p.pos >= len(p.input) {
			return nil, fmt.Errorf("line %d: unclosed list", line)
		}
		if p.peek() == ')' {
			p.advance()
			break
		}
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, expr)
	}

	return &Node{Kind: NList, List: items, Line: line}, nil
}

func (p *Parser) parseString() (*Node, error) {
	line := p.line
	p.advance() // consume opening '"'
	var buf []byte

	for p.pos < len(p.input) {
		ch := p.advance()
		if ch == '"' {
			return &Node{Kind: NString, Str: string(buf), Line: line}, nil
		}
		if ch == '\\' && p.pos < len(p.input) {
			next := p.advance()
			switch next {
			case 'n':
				buf = append(buf, '\n')
			case 't':
				buf = append(buf, '\t')
			case 'r':
				buf = append(buf, '\r')
			case 'x':
				if p.pos+2 > len(p.input) {
					return nil, p.errorf("short \\x escape")
				}
				v, err := strconv.ParseUint(p.input[p.pos:p.pos+2], 16, 8)
				if err != nil {
					return nil, p.errorf("invalid \\x escape")
				}
				p.pos += 2
				buf = append(buf, byte(v))
			default:
				buf = append(buf, next)
			}
		} else {
			buf = append(buf, ch)
		}
	}
	return nil, fmt.Errorf("line %d: unclosed string", line)
}

func (p *Parser) parseAtom() (*Node, error) {
	start := p.pos
	line := p.line

	// Check for negative number
	if p.peek() == '-' && p.pos+1 < len(p.input) && (isDigit(p.input[p.pos+1]) || p.input[p.pos+1] == '.') {
		p.advance()
	}

	// Check if it's a number (integer or float)
	if isDigit(p.peek()) || (p.peek() == '.' && p.pos+1 < len(p.input) && isDigit(p.input[p.pos+1])) {
		isFloat := false

		// Parse integer part
		for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
			p.pos++
		}

		// Check for decimal point
		if p.pos < len(p.input) && p.input[p.pos] == '.' {
			isFloat = true
			p.pos++
			// Parse fractional part
			for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
				p.pos++
			}
		}

		// Check for exponent (scientific notation)
		if p.pos < len(p.input) && (p.input[p.pos] == 'e' || p.input[p.pos] == 'E') {
			isFloat = true
			p.pos++
			// Optional sign
			if p.pos < len(p.input) && (p.input[p.pos] == '+' || p.input[p.pos] == '-') {
				p.pos++
			}
			// Exponent digits
			for p.pos < len(p.input) && isDigit(p.input[p.pos]) {
				p.pos++
			}
		}

		numStr := p.input[start:p.pos]

		if isFloat {
			f, err := strconv.ParseFloat(numStr, 64)
			if err != nil {
				return nil, p.errorf("invalid float: %s", numStr)
			}
			return &Node{Kind: NFloat, Float: f, Line: line}, nil
		}

		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return nil, p.errorf("invalid integer: %s", numStr)
		}
		return &Node{Kind: NInt, Int: n, Line: line}, nil
	}

	// It's a symbol
	for p.pos < len(p.input) {
		ch := p.input[p.pos]
		if unicode.IsSpace(rune(ch)) || ch == '(' || ch == ')' || ch == '"' || ch == ';' {
			break
		}
		p.pos++
	}

	if p.pos == start {
		return nil, p.errorf("unexpected character: %c", p.peek())
	}

	return &Node{Kind: NSym, Str: p.input[start:p.pos], Line: line}, nil
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

// ParseString is a convenience function to parse a string
func ParseString(input string) (*Node, error) {
	p := New(input)
	return p.Parse()
}

// ParseAllString parses all expressions in a string
func ParseAllString(input string) ([]*Node, error) {
	p := New(input)
	return p.ParseAll()
}
