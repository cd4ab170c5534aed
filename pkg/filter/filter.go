// Package filter provides a simple expression language for matching
// exchanges.
//
// Syntax:
//
//	~m METHOD   match HTTP method (substring)
//	~s CODE     match response status code (prefix, e.g. "5" matches 5xx)
//	~p PATH     match URL path (substring)
//	~d HOST     match destination host (substring)
//	~h KEY:VAL  match header key containing VAL (substring)
//	~b TEXT     match request or response body (substring)
//	~g NAME     match the name of a plugin that rewrote the response (substring)
//	!EXPR       negate
//	A & B       AND
//	A | B       OR
//	(EXPR)      grouping
package filter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/halverson/webtap/pkg/trace"
)

// Filter is a compiled predicate over an Exchange.
type Filter func(e *trace.Exchange) bool

// MatchAll matches every exchange.
var MatchAll Filter = func(_ *trace.Exchange) bool { return true }

// Parse compiles a filter expression string. Returns MatchAll for empty input.
func Parse(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return MatchAll, nil
	}
	p := &parser{input: expr, pos: 0}
	f, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.input) {
		return nil, fmt.Errorf("unexpected token at position %d: %q", p.pos, p.input[p.pos:])
	}
	return f, nil
}

// parser is a simple recursive-descent parser.
type parser struct {
	input string
	pos   int
}

func (p *parser) skipWS() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

// parseOr handles A | B.
func (p *parser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		if p.pos+1 < len(p.input) && p.input[p.pos] == '|' {
			p.pos++
			right, err := p.parseAnd()
			if err != nil {
				return nil, err
			}
			l, r := left, right
			left = func(e *trace.Exchange) bool { return l(e) || r(e) }
		} else {
			break
		}
	}
	return left, nil
}

// parseAnd handles A & B.
func (p *parser) parseAnd() (Filter, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		p.skipWS()
		if p.pos < len(p.input) && p.input[p.pos] == '&' {
			p.pos++
			right, err := p.parseNot()
			if err != nil {
				return nil, err
			}
			l, r := left, right
			left = func(e *trace.Exchange) bool { return l(e) && r(e) }
		} else {
			break
		}
	}
	return left, nil
}

// parseNot handles !EXPR.
func (p *parser) parseNot() (Filter, error) {
	p.skipWS()
	if p.pos < len(p.input) && p.input[p.pos] == '!' {
		p.pos++
		inner, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		return func(e *trace.Exchange) bool { return !inner(e) }, nil
	}
	return p.parseAtom()
}

// parseAtom handles primitives and parenthesised groups.
func (p *parser) parseAtom() (Filter, error) {
	p.skipWS()
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("unexpected end of expression")
	}
	if p.input[p.pos] == '(' {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		p.skipWS()
		if p.pos >= len(p.input) || p.input[p.pos] != ')' {
			return nil, fmt.Errorf("expected closing ')'")
		}
		p.pos++
		return inner, nil
	}
	return p.parsePrimitive()
}

// parsePrimitive handles ~x OPERAND tokens.
func (p *parser) parsePrimitive() (Filter, error) {
	p.skipWS()
	if p.pos+1 >= len(p.input) || p.input[p.pos] != '~' {
		return nil, fmt.Errorf("expected filter expression starting with '~' at position %d", p.pos)
	}
	p.pos++ // consume '~'
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("expected filter type after '~'")
	}
	kind := p.input[p.pos]
	p.pos++ // consume kind character
	p.skipWS()

	arg, err := p.parseArg()
	if err != nil {
		return nil, err
	}

	switch kind {
	case 'm':
		return methodFilter(arg), nil
	case 's':
		return statusFilter(arg), nil
	case 'p':
		return pathFilter(arg), nil
	case 'd':
		return hostFilter(arg), nil
	case 'h':
		return headerFilter(arg), nil
	case 'b':
		return bodyFilter(arg), nil
	case 'g':
		return pluginFilter(arg), nil
	default:
		return nil, fmt.Errorf("unknown filter type %q", string(kind))
	}
}

// parseArg reads the next whitespace-delimited token or quoted string.
func (p *parser) parseArg() (string, error) {
	p.skipWS()
	if p.pos >= len(p.input) {
		return "", fmt.Errorf("expected argument")
	}
	if p.input[p.pos] == '"' {
		return p.parseQuoted()
	}
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ' ' || c == '\t' || c == '&' || c == '|' || c == ')' {
			break
		}
		p.pos++
	}
	if p.pos == start {
		return "", fmt.Errorf("empty argument at position %d", p.pos)
	}
	return p.input[start:p.pos], nil
}

func (p *parser) parseQuoted() (string, error) {
	p.pos++ // consume opening '"'
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != '"' {
		p.pos++
	}
	if p.pos >= len(p.input) {
		return "", fmt.Errorf("unterminated quoted string")
	}
	s := p.input[start:p.pos]
	p.pos++ // consume closing '"'
	return s, nil
}

// --- primitive filter constructors ---

func methodFilter(arg string) Filter {
	upper := strings.ToUpper(arg)
	return func(e *trace.Exchange) bool {
		if e.Request == nil {
			return false
		}
		return strings.Contains(strings.ToUpper(e.Request.Method), upper)
	}
}

func statusFilter(arg string) Filter {
	return func(e *trace.Exchange) bool {
		if e.Response == nil {
			return false
		}
		code := strconv.Itoa(e.Response.StatusCode)
		return strings.HasPrefix(code, arg)
	}
}

func pathFilter(arg string) Filter {
	lower := strings.ToLower(arg)
	return func(e *trace.Exchange) bool {
		if e.Request == nil {
			return false
		}
		return strings.Contains(strings.ToLower(e.Request.Path), lower)
	}
}

func hostFilter(arg string) Filter {
	lower := strings.ToLower(arg)
	return func(e *trace.Exchange) bool {
		if e.Request == nil {
			return false
		}
		return strings.Contains(strings.ToLower(e.Request.Host), lower)
	}
}

func headerFilter(arg string) Filter {
	// arg is "Key:Value" or just "Key"
	parts := strings.SplitN(arg, ":", 2)
	key := strings.ToLower(parts[0])
	val := ""
	if len(parts) == 2 {
		val = strings.ToLower(parts[1])
	}
	match := func(headers map[string][]string) bool {
		for k, vv := range headers {
			if !strings.Contains(strings.ToLower(k), key) {
				continue
			}
			if val == "" {
				return true
			}
			for _, v := range vv {
				if strings.Contains(strings.ToLower(v), val) {
					return true
				}
			}
		}
		return false
	}
	return func(e *trace.Exchange) bool {
		if e.Request != nil && match(e.Request.Headers) {
			return true
		}
		return e.Response != nil && match(e.Response.Headers)
	}
}

func bodyFilter(arg string) Filter {
	lower := strings.ToLower(arg)
	return func(e *trace.Exchange) bool {
		if e.Request != nil && strings.Contains(strings.ToLower(string(e.Request.Body)), lower) {
			return true
		}
		return e.Response != nil && strings.Contains(strings.ToLower(string(e.Response.Body)), lower)
	}
}

func pluginFilter(arg string) Filter {
	lower := strings.ToLower(arg)
	return func(e *trace.Exchange) bool {
		for _, name := range e.RewrittenBy {
			if strings.Contains(strings.ToLower(name), lower) {
				return true
			}
		}
		return false
	}
}
