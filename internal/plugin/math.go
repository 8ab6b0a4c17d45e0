package plugin

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// MathPlugin evaluates arithmetic expressions found in the input.
// Supported: + - * / ^ (right-associative), parentheses, decimal numbers.
type MathPlugin struct{}

// NewMathPlugin constructs a MathPlugin.
func NewMathPlugin() *MathPlugin { return &MathPlugin{} }

// Name returns the handler identifier.
func (p *MathPlugin) Name() string { return "math" }

// Priority ranks math above data-lookup plugins: an explicit expression is a
// stronger intent signal than a trigger word.
func (p *MathPlugin) Priority() int { return 10 }

// exprPattern matches a candidate arithmetic expression: at least two
// numbers joined by an operator, optionally with parens and spaces.
var exprPattern = regexp.MustCompile(`[-+]?[\d.]+(?:[\s]*[-+*/^][\s]*[()\s]*[-+]?[\d.]+[()\s]*)+`)

// mathTriggers are phrases that signal computation intent even before the
// expression itself is inspected.
var mathTriggers = []string{"calculate", "compute", "evaluate", "how much is", "what is"}

// Activate reports whether the input contains an arithmetic expression.
func (p *MathPlugin) Activate(input string) bool {
	if exprPattern.MatchString(input) {
		return true
	}
	lower := strings.ToLower(input)
	for _, t := range mathTriggers {
		if strings.Contains(lower, t) && strings.ContainsAny(input, "0123456789") {
			return true
		}
	}
	return false
}

// Execute extracts the first expression from the input and evaluates it.
func (p *MathPlugin) Execute(_ context.Context, req Request) (string, map[string]any, error) {
	expr := strings.TrimSpace(exprPattern.FindString(req.Input))
	if expr == "" {
		return "", nil, fmt.Errorf("math: no arithmetic expression found in input")
	}

	value, err := evalExpr(expr)
	if err != nil {
		return "", nil, fmt.Errorf("math: %w", err)
	}

	summary := fmt.Sprintf("%s = %s", expr, formatNumber(value))
	return summary, map[string]any{
		"expression": expr,
		"result":     value,
	}, nil
}

// formatNumber renders integers without a decimal point.
func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// evalExpr parses and evaluates an arithmetic expression with standard
// precedence: parentheses, then ^ (right-associative), then unary minus,
// then * /, then + -.
func evalExpr(expr string) (float64, error) {
	p := &exprParser{input: expr}
	v, err := p.parseAddSub()
	if err != nil {
		return 0, err
	}
	p.skipSpace()
	if p.pos < len(p.input) {
		return 0, fmt.Errorf("unexpected %q at position %d", p.input[p.pos], p.pos)
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("expression result is not finite")
	}
	return v, nil
}

// exprParser is a recursive-descent parser over a byte string.
type exprParser struct {
	input string
	pos   int
}

func (p *exprParser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *exprParser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// parseAddSub handles the lowest-precedence + and - operators.
func (p *exprParser) parseAddSub() (float64, error) {
	left, err := p.parseMulDiv()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '+':
			p.pos++
			right, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			left += right
		case '-':
			p.pos++
			right, err := p.parseMulDiv()
			if err != nil {
				return 0, err
			}
			left -= right
		default:
			return left, nil
		}
	}
}

// parseMulDiv handles * and /.
func (p *exprParser) parseMulDiv() (float64, error) {
	left, err := p.parsePower()
	if err != nil {
		return 0, err
	}
	for {
		switch p.peek() {
		case '*':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			left *= right
		case '/':
			p.pos++
			right, err := p.parsePower()
			if err != nil {
				return 0, err
			}
			if right == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			left /= right
		default:
			return left, nil
		}
	}
}

// parsePower handles the right-associative ^ operator.
func (p *exprParser) parsePower() (float64, error) {
	base, err := p.parseUnary()
	if err != nil {
		return 0, err
	}
	if p.peek() == '^' {
		p.pos++
		exp, err := p.parsePower()
		if err != nil {
			return 0, err
		}
		return math.Pow(base, exp), nil
	}
	return base, nil
}

// parseUnary handles leading minus and plus signs.
func (p *exprParser) parseUnary() (float64, error) {
	switch p.peek() {
	case '-':
		p.pos++
		v, err := p.parseUnary()
		return -v, err
	case '+':
		p.pos++
		return p.parseUnary()
	}
	return p.parseAtom()
}

// parseAtom handles numbers and parenthesized sub-expressions.
func (p *exprParser) parseAtom() (float64, error) {
	if p.peek() == '(' {
		p.pos++
		v, err := p.parseAddSub()
		if err != nil {
			return 0, err
		}
		if p.peek() != ')' {
			return 0, fmt.Errorf("missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}

	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && (isDigit(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return 0, fmt.Errorf("expected number at position %d", start)
	}
	v, err := strconv.ParseFloat(p.input[start:p.pos], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", p.input[start:p.pos])
	}
	return v, nil
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }
