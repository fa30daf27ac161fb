package scim

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxFilterComplexity bounds the number of filter AST nodes accepted
// by the parser when no explicit limit is configured.
const DefaultMaxFilterComplexity = 50

// maxFilterDepth bounds parenthesis nesting independently of the node count.
const maxFilterDepth = 64

// Filter represents a parsed SCIM filter
type Filter interface {
	Matches(resource Resource) bool
}

// AttributeExpression represents an attribute comparison or, with operator
// "pr", a presence test.
type AttributeExpression struct {
	Path     AttrPath
	Operator string
	Value    any
}

// LogicalExpression represents a logical operation (and, or, not). A not
// expression carries only Left.
type LogicalExpression struct {
	Operator string
	Left     Filter
	Right    Filter
}

// GroupExpression represents a parenthesized filter
type GroupExpression struct {
	Filter Filter
}

// ComplexExpression represents a value-selected multi-valued attribute:
// attr[predicate], optionally projected to a sub-attribute and compared
// (emails[type eq "work"].value co "@corp") or presence-tested. An empty
// Operator asserts only that a matching element exists.
type ComplexExpression struct {
	Path         AttrPath
	Predicate    Filter
	SubAttribute string
	Operator     string
	Value        any
}

// FilterParser parses SCIM filter expressions
type FilterParser struct {
	input      string
	tokens     []token
	pos        int
	depth      int
	complexity int
	limit      int
}

// NewFilterParser creates a parser with the default complexity limit.
func NewFilterParser(filter string) *FilterParser {
	return NewFilterParserWithLimit(filter, DefaultMaxFilterComplexity)
}

// NewFilterParserWithLimit creates a parser that rejects filters with more
// AST nodes than limit. A limit of zero or less means the default.
func NewFilterParserWithLimit(filter string, limit int) *FilterParser {
	if limit <= 0 {
		limit = DefaultMaxFilterComplexity
	}
	return &FilterParser{
		input: strings.TrimSpace(filter),
		limit: limit,
	}
}

// Parse parses the filter expression
func (p *FilterParser) Parse() (Filter, error) {
	if p.input == "" {
		return nil, ErrInvalidFilter("empty filter")
	}

	tokens, err := tokenize(p.input)
	if err != nil {
		return nil, err
	}
	p.tokens = tokens
	p.pos = 0

	filter, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokenEOF {
		return nil, ErrInvalidFilter(fmt.Sprintf("unexpected %s at position %d", tok.kind, tok.pos))
	}
	return filter, nil
}

// Complexity reports the node count of the last successful Parse.
func (p *FilterParser) Complexity() int {
	return p.complexity
}

func (p *FilterParser) peek() token {
	return p.tokens[p.pos]
}

func (p *FilterParser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokenEOF {
		p.pos++
	}
	return tok
}

func (p *FilterParser) expect(kind tokenKind) (token, error) {
	tok := p.peek()
	if tok.kind != kind {
		return token{}, ErrInvalidFilter(fmt.Sprintf("expected %s, got %s at position %d", kind, tok.kind, tok.pos))
	}
	return p.next(), nil
}

// countNode accounts one AST node against the complexity limit.
func (p *FilterParser) countNode() error {
	p.complexity++
	if p.complexity > p.limit {
		return ErrFilterTooComplex(fmt.Sprintf("filter exceeds maximum complexity of %d", p.limit))
	}
	return nil
}

// parseOr parses or expressions (lowest precedence)
func (p *FilterParser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		if err := p.countNode(); err != nil {
			return nil, err
		}
		left = &LogicalExpression{Operator: "or", Left: left, Right: right}
	}
	return left, nil
}

// parseAnd parses and expressions
func (p *FilterParser) parseAnd() (Filter, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}

	for p.peek().kind == tokenAnd {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		if err := p.countNode(); err != nil {
			return nil, err
		}
		left = &LogicalExpression{Operator: "and", Left: left, Right: right}
	}
	return left, nil
}

// parseNot parses not expressions
func (p *FilterParser) parseNot() (Filter, error) {
	if p.peek().kind == tokenNot {
		p.next()
		inner, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		if err := p.countNode(); err != nil {
			return nil, err
		}
		return &LogicalExpression{Operator: "not", Left: inner}, nil
	}
	return p.parsePrimary()
}

// parsePrimary parses grouped expressions and attribute expressions
func (p *FilterParser) parsePrimary() (Filter, error) {
	tok := p.peek()

	switch tok.kind {
	case tokenLParen:
		p.next()
		p.depth++
		if p.depth > maxFilterDepth {
			return nil, ErrInvalidFilter("filter is nested too deeply")
		}
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.depth--
		if _, err := p.expect(tokenRParen); err != nil {
			return nil, err
		}
		return &GroupExpression{Filter: inner}, nil

	case tokenIdent:
		return p.parseAttributeExpression()
	}

	return nil, ErrInvalidFilter(fmt.Sprintf("expected attribute or '(', got %s at position %d", tok.kind, tok.pos))
}

// parseAttributeExpression parses comparisons, presence tests and complex
// attribute selections starting at an attribute path.
func (p *FilterParser) parseAttributeExpression() (Filter, error) {
	ident := p.next()
	path := ParseAttrPath(ident.text)

	switch tok := p.peek(); tok.kind {
	case tokenLBrack:
		return p.parseComplexExpression(path)

	case tokenPr:
		p.next()
		if err := p.countNode(); err != nil {
			return nil, err
		}
		return &AttributeExpression{Path: path, Operator: "pr"}, nil

	case tokenOp:
		op := p.next().text
		value, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if err := p.countNode(); err != nil {
			return nil, err
		}
		return &AttributeExpression{Path: path, Operator: op, Value: value}, nil
	}

	tok := p.peek()
	return nil, ErrInvalidFilter(fmt.Sprintf("expected operator after %q, got %s at position %d", ident.text, tok.kind, tok.pos))
}

// parseComplexExpression parses attr[predicate] with an optional projected
// sub-attribute and trailing comparison or presence test.
func (p *FilterParser) parseComplexExpression(path AttrPath) (Filter, error) {
	p.next() // consume '['
	predicate, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokenRBrack); err != nil {
		return nil, err
	}

	expr := &ComplexExpression{Path: path, Predicate: predicate}

	if p.peek().kind == tokenDot {
		p.next()
		sub, err := p.expect(tokenIdent)
		if err != nil {
			return nil, err
		}
		expr.SubAttribute = sub.text

		switch tok := p.peek(); tok.kind {
		case tokenOp:
			expr.Operator = p.next().text
			value, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			expr.Value = value
			if err := p.countNode(); err != nil {
				return nil, err
			}
		case tokenPr:
			p.next()
			expr.Operator = "pr"
			if err := p.countNode(); err != nil {
				return nil, err
			}
		}
	}

	if err := p.countNode(); err != nil {
		return nil, err
	}
	return expr, nil
}

// parseValue parses a literal value (string, number, boolean, null)
func (p *FilterParser) parseValue() (any, error) {
	tok := p.peek()

	switch tok.kind {
	case tokenString:
		p.next()
		return tok.text, nil
	case tokenNumber:
		p.next()
		n, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, ErrInvalidFilter(fmt.Sprintf("invalid number %q at position %d", tok.text, tok.pos))
		}
		return n, nil
	case tokenTrue:
		p.next()
		return true, nil
	case tokenFalse:
		p.next()
		return false, nil
	case tokenNull:
		p.next()
		return nil, nil
	}

	return nil, ErrInvalidFilter(fmt.Sprintf("expected value, got %s at position %d", tok.kind, tok.pos))
}
