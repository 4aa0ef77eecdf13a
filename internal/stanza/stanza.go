// Package stanza parses the Debian control/Release RFC-822-like grammar:
// blank-line-separated stanzas of Key: value fields, folded over
// continuation lines that begin with whitespace.
package stanza

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrParse is the sentinel all malformed-input errors wrap: a continuation
// line before any field has begun, a line that is neither a field, a
// continuation, a comment nor blank, or a duplicate key within a stanza.
var ErrParse = fmt.Errorf("stanza: parse error")

// ErrKeyNotFound is returned by Str/Multi when key is absent and no
// default was supplied.
var ErrKeyNotFound = fmt.Errorf("stanza: key not found")

// ErrFieldShape is returned by Str on a field that folds over continuation
// lines, or by Multi on a field that is a pure scalar.
var ErrFieldShape = fmt.Errorf("stanza: field shape mismatch")

var fieldHeader = regexp.MustCompile(`^([A-Za-z0-9-]+):[ \t]*(.*)$`)

// field holds one key's scalar header text plus any folded continuation
// lines, in the order Multi expects them.
type field struct {
	scalar string
	rest   []string
}

// Stanza is a parsed set of fields, keyed case-insensitively.
type Stanza struct {
	fields map[string]*field
	order  []string
}

// Keys returns the stanza's field keys (lowercase), in the order first seen.
func (s *Stanza) Keys() []string {
	return append([]string(nil), s.order...)
}

// Has reports whether key is present.
func (s *Stanza) Has(key string) bool {
	_, ok := s.fields[strings.ToLower(key)]
	return ok
}

// Str returns the scalar form of key: the header-line text with surrounding
// horizontal whitespace stripped. If key folds over continuation lines,
// Str fails with ErrFieldShape ("ambiguous"). If key is absent, Str returns
// def if one was supplied, else fails with ErrKeyNotFound.
func (s *Stanza) Str(key string, def ...string) (string, error) {
	f, ok := s.fields[strings.ToLower(key)]
	if !ok {
		if len(def) > 0 {
			return def[0], nil
		}
		return "", fmt.Errorf("stanza: %q: %w", key, ErrKeyNotFound)
	}
	if len(f.rest) > 0 {
		return "", fmt.Errorf("stanza: %q is a multi-line field: %w", key, ErrFieldShape)
	}
	return f.scalar, nil
}

// Multi returns (first, rest) for a folded field: first is the scalar form,
// rest is the continuation lines, each stripped of leading and trailing
// whitespace. Fails with ErrKeyNotFound if key is absent, or ErrFieldShape
// if the field has no continuation lines at all.
func (s *Stanza) Multi(key string) (string, []string, error) {
	f, ok := s.fields[strings.ToLower(key)]
	if !ok {
		return "", nil, fmt.Errorf("stanza: %q: %w", key, ErrKeyNotFound)
	}
	if len(f.rest) == 0 {
		return "", nil, fmt.Errorf("stanza: %q is not a multi-line field: %w", key, ErrFieldShape)
	}
	return f.scalar, append([]string(nil), f.rest...), nil
}

// Parser produces Stanzas from a line sequence one at a time. Iteration is
// terminal: once Next returns (nil, nil), every subsequent call does too.
type Parser struct {
	lines []string
	pos   int
	done  bool
}

// NewParser returns a Parser over lines (without trailing newlines).
func NewParser(lines []string) *Parser {
	return &Parser{lines: lines}
}

// isComment reports whether line's first non-whitespace character is '#'.
func isComment(line string) bool {
	trimmed := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(trimmed, "#")
}

func isContinuation(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

func isBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// Next returns the next stanza, or (nil, nil) at end of stream, or a
// non-nil error wrapping ErrParse on malformed input.
func (p *Parser) Next() (*Stanza, error) {
	if p.done {
		return nil, nil
	}

	var st *Stanza
	var cur *field

	ensure := func() *Stanza {
		if st == nil {
			st = &Stanza{fields: map[string]*field{}}
		}
		return st
	}

	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		p.pos++

		if isComment(line) {
			continue
		}
		if isBlank(line) {
			if st != nil {
				return st, nil
			}
			continue
		}
		if isContinuation(line) {
			if cur == nil {
				return nil, fmt.Errorf("stanza: continuation line before any field: %w", ErrParse)
			}
			cur.rest = append(cur.rest, strings.TrimSpace(line))
			continue
		}

		m := fieldHeader.FindStringSubmatch(line)
		if m == nil {
			return nil, fmt.Errorf("stanza: malformed line %q: %w", line, ErrParse)
		}
		key := strings.ToLower(m[1])
		scalar := strings.TrimSpace(m[2])

		s := ensure()
		if _, dup := s.fields[key]; dup {
			return nil, fmt.Errorf("stanza: duplicate key %q: %w", key, ErrParse)
		}
		cur = &field{scalar: scalar}
		s.fields[key] = cur
		s.order = append(s.order, key)
	}

	p.done = true
	if st != nil {
		return st, nil
	}
	return nil, nil
}

// ParseAll drains p, returning every stanza it produces.
func ParseAll(p *Parser) ([]*Stanza, error) {
	var out []*Stanza
	for {
		st, err := p.Next()
		if err != nil {
			return nil, err
		}
		if st == nil {
			return out, nil
		}
		out = append(out, st)
	}
}
