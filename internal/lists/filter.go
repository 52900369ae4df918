package lists

import (
	"fmt"
	"strings"
)

// Clause is one `Field eq 'value'` comparison.
type Clause struct {
	Field string
	Value string
}

// Filter is a conjunction of equality clauses. The zero Filter matches
// every item.
type Filter []Clause

// ParseFilter parses expressions of the form
//
//	Field eq 'value' [and Field eq 'value' ...]
//
// Single quotes inside a value are escaped by doubling them.
func ParseFilter(expr string) (Filter, error) {
	p := &filterParser{src: expr}
	var f Filter
	p.skipSpace()
	if p.done() {
		return nil, nil
	}
	for {
		c, err := p.clause()
		if err != nil {
			return nil, err
		}
		f = append(f, c)

		p.skipSpace()
		if p.done() {
			return f, nil
		}
		if !p.keyword("and") {
			return nil, fmt.Errorf("%w: expected 'and' at offset %d", ErrInvalidFilter, p.pos)
		}
	}
}

// Match reports whether fields satisfy every clause.
func (f Filter) Match(fields map[string]any) bool {
	for _, c := range f {
		v, ok := fields[c.Field]
		if !ok || v == nil {
			return false
		}
		if s, isString := v.(string); isString {
			if s != c.Value {
				return false
			}
			continue
		}
		if fmt.Sprint(v) != c.Value {
			return false
		}
	}
	return true
}

type filterParser struct {
	src string
	pos int
}

func (p *filterParser) done() bool { return p.pos >= len(p.src) }

func (p *filterParser) skipSpace() {
	for !p.done() && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *filterParser) ident() string {
	start := p.pos
	for !p.done() {
		ch := p.src[p.pos]
		if ch == ' ' || ch == '\'' {
			break
		}
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *filterParser) keyword(kw string) bool {
	p.skipSpace()
	start := p.pos
	if !strings.EqualFold(p.ident(), kw) {
		p.pos = start
		return false
	}
	return true
}

func (p *filterParser) clause() (Clause, error) {
	p.skipSpace()
	field := p.ident()
	if field == "" {
		return Clause{}, fmt.Errorf("%w: missing field name at offset %d", ErrInvalidFilter, p.pos)
	}
	if !p.keyword("eq") {
		return Clause{}, fmt.Errorf("%w: only 'eq' is supported", ErrInvalidFilter)
	}
	p.skipSpace()
	value, err := p.literal()
	if err != nil {
		return Clause{}, err
	}
	return Clause{Field: field, Value: value}, nil
}

func (p *filterParser) literal() (string, error) {
	if p.done() || p.src[p.pos] != '\'' {
		return "", fmt.Errorf("%w: expected quoted value at offset %d", ErrInvalidFilter, p.pos)
	}
	p.pos++

	var b strings.Builder
	for !p.done() {
		ch := p.src[p.pos]
		p.pos++
		if ch != '\'' {
			b.WriteByte(ch)
			continue
		}
		if !p.done() && p.src[p.pos] == '\'' {
			b.WriteByte('\'')
			p.pos++
			continue
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("%w: unterminated string", ErrInvalidFilter)
}
