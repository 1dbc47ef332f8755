package core

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

var errBadExpression = errors.New("bad expression")

// guardPlaces absorbs the digits a non-terminating division cuts off, so
// 100/3*3 is 100 and not 99.9999999999999999.
const guardPlaces = 12

// EvaluateExpression computes a "quick math" amount such as "12,50 + 3*2".
//
// Supported: decimal numbers (dot or comma), + - * /, unary sign, parentheses
// and blanks. The result is rounded half-up to guardPlaces decimals, far below
// the cent. Empty input, syntax errors, trailing garbage and division by zero
// all report ok=false; there is no partial result.
func EvaluateExpression(text string) (decimal.Decimal, bool) {
	p := &exprParser{src: strings.ReplaceAll(text, ",", ".")}
	p.skipSpace()
	if p.done() {
		return decimal.Zero, false
	}
	v, err := p.expr()
	if err != nil {
		return decimal.Zero, false
	}
	p.skipSpace()
	if !p.done() {
		return decimal.Zero, false
	}
	return v.Round(guardPlaces), true
}

type exprParser struct {
	src   string
	pos   int
	depth int
}

// maxDepth bounds nesting of parentheses and unary signs.
const maxDepth = 64

func (p *exprParser) done() bool { return p.pos >= len(p.src) }

func (p *exprParser) peek() byte {
	if p.done() {
		return 0
	}
	return p.src[p.pos]
}

func (p *exprParser) skipSpace() {
	for !p.done() && p.src[p.pos] < utf8.RuneSelf && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

// expr := term { ('+'|'-') term }
func (p *exprParser) expr() (decimal.Decimal, error) {
	left, err := p.term()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '+' && op != '-' {
			return left, nil
		}
		p.pos++
		right, err := p.term()
		if err != nil {
			return decimal.Zero, err
		}
		if op == '+' {
			left = left.Add(right)
		} else {
			left = left.Sub(right)
		}
	}
}

// term := factor { ('*'|'/') factor }
func (p *exprParser) term() (decimal.Decimal, error) {
	left, err := p.factor()
	if err != nil {
		return decimal.Zero, err
	}
	for {
		p.skipSpace()
		op := p.peek()
		if op != '*' && op != '/' {
			return left, nil
		}
		p.pos++
		right, err := p.factor()
		if err != nil {
			return decimal.Zero, err
		}
		if op == '*' {
			left = left.Mul(right)
			continue
		}
		if right.IsZero() {
			return decimal.Zero, errBadExpression
		}
		left = left.Div(right)
	}
}

// factor := ('+'|'-') factor | '(' expr ')' | number
func (p *exprParser) factor() (decimal.Decimal, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxDepth {
		return decimal.Zero, errBadExpression
	}

	p.skipSpace()
	switch c := p.peek(); {
	case c == '-' || c == '+':
		p.pos++
		v, err := p.factor()
		if err != nil {
			return decimal.Zero, err
		}
		if c == '-' {
			return v.Neg(), nil
		}
		return v, nil
	case c == '(':
		p.pos++
		v, err := p.expr()
		if err != nil {
			return decimal.Zero, err
		}
		p.skipSpace()
		if p.peek() != ')' {
			return decimal.Zero, errBadExpression
		}
		p.pos++
		return v, nil
	default:
		return p.number()
	}
}

func (p *exprParser) number() (decimal.Decimal, error) {
	start := p.pos
	digits, dots := 0, 0
	for !p.done() {
		c := p.src[p.pos]
		if c >= '0' && c <= '9' {
			digits++
		} else if c == '.' {
			dots++
		} else {
			break
		}
		p.pos++
	}
	if digits == 0 || dots > 1 {
		return decimal.Zero, errBadExpression
	}
	lit := p.src[start:p.pos]
	if strings.HasPrefix(lit, ".") {
		lit = "0" + lit
	}
	lit = strings.TrimSuffix(lit, ".")
	return decimal.NewFromString(lit)
}
