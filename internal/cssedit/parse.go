// Package cssedit parses CSS and SCSS into an offset-tracked rule tree and
// provides declaration-level diffing and in-place patching on top of it.
//
// The parser is deliberately token-driven rather than grammar-driven: every
// byte of the input ends up in exactly one token, so the tree carries exact
// byte spans for each declaration and rule body. Patching is a byte splice,
// which is what lets comments, indentation, SCSS variables and interpolation
// round-trip untouched.
package cssedit

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// Position is a 1-based line and 0-based column in the parsed text.
type Position struct {
	Line uint32
	Col  uint32
}

// Declaration is one property: value pair inside a rule, with the byte spans
// needed to rewrite it in place.
type Declaration struct {
	Property  string
	Value     string // without any !important suffix
	Important bool
	Pos       Position

	start, end           int // property start .. past the trailing ';' (or the closing brace / EOF offset)
	valueStart, valueEnd int // raw value span, including !important when present
}

// Rule is a selector (or at-rule prelude) plus its declarations and nested
// rules.
type Rule struct {
	Selector string // prelude with whitespace collapsed
	AtRule   bool
	Decls    []*Declaration
	Rules    []*Rule

	bodyStart, bodyEnd int // interior span: just past '{' .. at '}'
	flattened          []string
}

// Flattened returns the rule's fully resolved selector list: ancestors joined
// with single spaces, commas split, & resolved against the enclosing
// selector. At-rules are transparent and inherit the parent list.
func (r *Rule) Flattened() []string { return r.flattened }

// Stylesheet is the parse result for one text snapshot.
type Stylesheet struct {
	src   string
	Rules []*Rule
}

// Source returns the text the stylesheet was parsed from.
func (s *Stylesheet) Source() string { return s.src }

type token struct {
	tt    css.TokenType
	text  string
	start int
}

type parser struct {
	src   string
	lex   *css.Lexer
	off   int
	buf   []token
	stack []*Rule
}

// Parse builds the rule tree for a CSS or SCSS text. Unclosed braces are
// reported as an error; a stray closing brace is ignored, and the tdewolff
// lexer tolerates everything else.
func Parse(src string) (*Stylesheet, error) {
	root := &Rule{bodyStart: 0, bodyEnd: len(src)}
	p := &parser{
		src:   src,
		lex:   css.NewLexer(parse.NewInputString(src)),
		stack: []*Rule{root},
	}

	for {
		tt, data := p.lex.Next()
		start := p.off
		p.off += len(data)

		switch tt {
		case css.ErrorToken:
			if err := p.lex.Err(); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("css parse: %w", err)
			}
			p.flushDecl(start)
			if len(p.stack) != 1 {
				return nil, fmt.Errorf("css parse: unbalanced braces (%d unclosed)", len(p.stack)-1)
			}
			sheet := &Stylesheet{src: src, Rules: root.Rules}
			resolveFlattened(nil, root.Rules)
			return sheet, nil

		case css.WhitespaceToken, css.CommentToken:
			if len(p.buf) > 0 {
				p.buf = append(p.buf, token{tt, string(data), start})
			}

		case css.LeftBraceToken:
			if p.isInterpolation(start) {
				p.buf = append(p.buf, token{tt, string(data), start})
				p.consumeInterpolation()
				continue
			}
			p.openRule(start)

		case css.RightBraceToken:
			p.flushDecl(start)
			p.closeRule(start)

		case css.SemicolonToken:
			p.flushDecl(start + len(data))

		default:
			// SCSS line comments are invisible to the CSS lexer: they
			// arrive as two adjacent '/' delimiters. Drop through newline.
			if tt == css.DelimToken && len(data) == 1 && data[0] == '/' && len(p.buf) > 0 {
				last := p.buf[len(p.buf)-1]
				if last.text == "/" && last.start+1 == start {
					p.buf = p.buf[:len(p.buf)-1]
					p.skipLineComment()
					continue
				}
			}
			p.buf = append(p.buf, token{tt, string(data), start})
		}
	}
}

// skipLineComment consumes tokens through the next newline.
func (p *parser) skipLineComment() {
	for {
		tt, data := p.lex.Next()
		p.off += len(data)
		if tt == css.ErrorToken {
			return
		}
		if tt == css.WhitespaceToken && strings.ContainsRune(string(data), '\n') {
			return
		}
	}
}

// isInterpolation reports whether the brace at off opens an SCSS #{...}
// interpolation, i.e. it directly follows a '#' delimiter.
func (p *parser) isInterpolation(off int) bool {
	if len(p.buf) == 0 {
		return false
	}
	last := p.buf[len(p.buf)-1]
	return last.text == "#" && last.start+len(last.text) == off
}

// consumeInterpolation buffers tokens through the matching closing brace so
// #{...} never opens or closes a rule.
func (p *parser) consumeInterpolation() {
	depth := 1
	for depth > 0 {
		tt, data := p.lex.Next()
		start := p.off
		p.off += len(data)
		if tt == css.ErrorToken {
			return
		}
		switch tt {
		case css.LeftBraceToken:
			depth++
		case css.RightBraceToken:
			depth--
		}
		p.buf = append(p.buf, token{tt, string(data), start})
	}
}

func (p *parser) openRule(braceOff int) {
	sel, _, first := p.takeBuffer()
	r := &Rule{
		Selector:  sel,
		AtRule:    first == css.AtKeywordToken,
		bodyStart: braceOff + 1,
	}
	parent := p.stack[len(p.stack)-1]
	parent.Rules = append(parent.Rules, r)
	p.stack = append(p.stack, r)
}

func (p *parser) closeRule(braceOff int) {
	if len(p.stack) == 1 {
		// Stray closing brace; tolerate it the way browsers do.
		return
	}
	r := p.stack[len(p.stack)-1]
	r.bodyEnd = braceOff
	p.stack = p.stack[:len(p.stack)-1]
}

// flushDecl converts the buffered tokens into a declaration on the current
// rule. endOff is the offset just past the declaration (past ';', or at the
// closing brace / EOF for the last declaration of a block).
func (p *parser) flushDecl(endOff int) {
	raw, toks, first := p.takeBuffer()
	if raw == "" {
		return
	}
	if first == css.AtKeywordToken {
		// @import, @use, @include and friends carry no declaration.
		return
	}

	colon := colonIndex(toks)
	if colon < 0 {
		return
	}

	propStart := toks[0].start
	var prop strings.Builder
	for _, t := range toks[:colon] {
		prop.WriteString(t.text)
	}
	property := strings.TrimSpace(prop.String())
	if property == "" {
		return
	}

	// Raw value span: first to last non-whitespace token after the colon.
	vs, ve := -1, -1
	for _, t := range toks[colon+1:] {
		if t.tt == css.WhitespaceToken {
			continue
		}
		if vs < 0 {
			vs = t.start
		}
		ve = t.start + len(t.text)
	}
	if vs < 0 {
		return
	}

	value, important := SplitImportant(p.src[vs:ve])
	d := &Declaration{
		Property:   property,
		Value:      value,
		Important:  important,
		Pos:        positionAt(p.src, propStart),
		start:      propStart,
		end:        endOff,
		valueStart: vs,
		valueEnd:   ve,
	}
	cur := p.stack[len(p.stack)-1]
	cur.Decls = append(cur.Decls, d)
}

// takeBuffer drains the token buffer, returning the collapsed raw text, the
// tokens, and the type of the first significant token.
func (p *parser) takeBuffer() (string, []token, css.TokenType) {
	toks := p.buf
	p.buf = nil

	// Trim trailing whitespace/comment tokens.
	for len(toks) > 0 {
		t := toks[len(toks)-1]
		if t.tt == css.WhitespaceToken || t.tt == css.CommentToken {
			toks = toks[:len(toks)-1]
			continue
		}
		break
	}
	if len(toks) == 0 {
		return "", nil, css.ErrorToken
	}

	var b strings.Builder
	for _, t := range toks {
		b.WriteString(t.text)
	}
	return strings.Join(strings.Fields(b.String()), " "), toks, toks[0].tt
}

// colonIndex finds the property/value separator: the first colon outside any
// parenthesis or bracket nesting.
func colonIndex(toks []token) int {
	depth := 0
	for i, t := range toks {
		switch t.tt {
		case css.FunctionToken, css.LeftParenthesisToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			depth--
		case css.ColonToken:
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

var importantRE = regexp.MustCompile(`(?i)\s*!\s*important\s*$`)

// SplitImportant strips a trailing !important from a raw value, returning the
// bare value and whether the suffix was present.
func SplitImportant(raw string) (string, bool) {
	if loc := importantRE.FindStringIndex(raw); loc != nil {
		return strings.TrimSpace(raw[:loc[0]]), true
	}
	return strings.TrimSpace(raw), false
}

// FormatValue renders a value the way it appears in a DeclarationChange: the
// literal !important suffix is kept when the flag is set.
func FormatValue(value string, important bool) string {
	if important {
		return value + " !important"
	}
	return value
}

// resolveFlattened computes each rule's flattened selector list. parents is
// the enclosing list (nil at top level, meaning the rule's own selectors are
// used as-is).
func resolveFlattened(parents []string, rules []*Rule) {
	for _, r := range rules {
		if r.AtRule {
			// At-rules nest transparently; declarations inside them belong
			// to the enclosing selector.
			r.flattened = parents
			resolveFlattened(parents, r.Rules)
			continue
		}
		parts := splitSelectors(r.Selector)
		var flat []string
		if len(parents) == 0 {
			for _, part := range parts {
				flat = append(flat, strings.ReplaceAll(part, "&", ""))
			}
		} else {
			for _, parent := range parents {
				for _, part := range parts {
					flat = append(flat, combineSelector(parent, part))
				}
			}
		}
		r.flattened = flat
		resolveFlattened(flat, r.Rules)
	}
}

// combineSelector resolves one comma-part against one parent selector:
// "&.x" -> "<parent>.x", "& x" -> "<parent> x", plain "x" -> "<parent> x".
func combineSelector(parent, part string) string {
	if strings.Contains(part, "&") {
		return strings.Join(strings.Fields(strings.ReplaceAll(part, "&", parent)), " ")
	}
	return parent + " " + part
}

// splitSelectors splits a selector prelude on top-level commas.
func splitSelectors(sel string) []string {
	var parts []string
	depth := 0
	start := 0
	for i := 0; i < len(sel); i++ {
		switch sel[i] {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(sel[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, strings.TrimSpace(sel[start:]))
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var combinatorRE = regexp.MustCompile(`\s*([>+~])\s*`)

// NormalizeSelector canonicalizes a selector for equality checks: whitespace
// runs collapse to one space and combinators lose their surrounding spaces.
func NormalizeSelector(sel string) string {
	s := strings.Join(strings.Fields(sel), " ")
	return combinatorRE.ReplaceAllString(s, "$1")
}

// positionAt computes the 1-based line and 0-based column of a byte offset.
func positionAt(src string, off int) Position {
	line := uint32(1)
	col := uint32(0)
	for i := 0; i < off && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 0
		} else {
			col++
		}
	}
	return Position{Line: line, Col: col}
}
