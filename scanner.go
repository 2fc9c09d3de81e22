package realsolve

import (
	"fmt"
	"strings"
)

// WrongFormula is what ExtractFirstGroup returns when no group closes.
const WrongFormula = "wrong formula"

// ============================================================
// Parenthesis groups
// ============================================================

// Group is the first top-level parenthesized group of an expression.
// Open and Close are the byte offsets of its delimiters.
type Group struct {
	Content string `json:"content"`
	Open    int    `json:"open"`
	Close   int    `json:"close"`
}

// FirstGroup finds the first '(' and the ')' that matches it. A ')'
// seen before any '(' is ignored. It returns ErrMalformedExpression when
// the group never closes or there is no '('.
func FirstGroup(expression string) (Group, error) {
	inside := false
	depth := 0
	open := 0
	for i := 0; i < len(expression); i++ {
		switch expression[i] {
		case '(':
			if inside {
				depth++
			} else {
				inside = true
				open = i
			}
		case ')':
			if !inside {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			return Group{Content: expression[open+1 : i], Open: open, Close: i}, nil
		}
	}
	return Group{}, ErrMalformedExpression
}

// ExtractFirstGroup returns the content of the first group, or
// WrongFormula.
func ExtractFirstGroup(expression string) string {
	g, err := FirstGroup(expression)
	if err != nil {
		return WrongFormula
	}
	return g.Content
}

// ============================================================
// Decomposition
// ============================================================

type TermKind int

const (
	TermGroup TermKind = iota
	TermFactor
	TermNumerator
	TermDenominator
)

var termKindNames = [...]string{"group", "factor", "numerator", "denominator"}

func (k TermKind) String() string {
	if k >= 0 && int(k) < len(termKindNames) {
		return termKindNames[k]
	}
	return fmt.Sprintf("TermKind(%d)", int(k))
}

func (k TermKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Term is a parenthesized sub-expression. Start and End delimit Text in
// the whitespace-stripped input; Children are the groups nested directly
// inside it, left to right.
type Term struct {
	Text     string   `json:"text"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Kind     TermKind `json:"kind"`
	Children []Term   `json:"children,omitempty"`
}

// Flatten lists every descendant of t depth-first, parents before
// children. t itself is not included.
func (t Term) Flatten() []Term {
	var out []Term
	for _, c := range t.Children {
		out = append(out, c)
		out = append(out, c.Flatten()...)
	}
	return out
}

// Decompose strips whitespace from expression and splits it into its
// parenthesized sub-terms. The root Term spans the whole stripped input.
// A group that sits next to another group is a factor; otherwise one
// directly after '/' is a denominator and one directly before '/' a
// numerator.
func Decompose(expression string) (Term, error) {
	stripped := strings.Join(strings.Fields(expression), "")
	wrapped := "(" + stripped + ")"
	if g, err := FirstGroup(wrapped); err != nil || g.Close != len(wrapped)-1 {
		return Term{}, fmt.Errorf("%w: %q", ErrMalformedExpression, expression)
	}
	children, err := decomposeContent(stripped, 0)
	if err != nil {
		return Term{}, fmt.Errorf("%w: %q", err, expression)
	}
	return Term{Text: stripped, Start: 0, End: len(stripped), Kind: TermGroup, Children: children}, nil
}

// decomposeContent collects the top-level groups of content, which
// starts at offset in the stripped input.
func decomposeContent(content string, offset int) ([]Term, error) {
	var terms []Term
	for i := 0; i < len(content); {
		switch content[i] {
		case ')':
			return nil, ErrMalformedExpression
		case '(':
			g, err := FirstGroup(content[i:])
			if err != nil {
				return nil, err
			}
			open, close := i+g.Open, i+g.Close
			children, err := decomposeContent(g.Content, offset+open+1)
			if err != nil {
				return nil, err
			}
			terms = append(terms, Term{
				Text:     g.Content,
				Start:    offset + open + 1,
				End:      offset + close,
				Kind:     classify(content, open, close),
				Children: children,
			})
			i = close + 1
		default:
			i++
		}
	}
	return terms, nil
}

func classify(content string, open, close int) TermKind {
	var before, after byte
	if open > 0 {
		before = content[open-1]
	}
	if close+1 < len(content) {
		after = content[close+1]
	}
	switch {
	case before == ')' || after == '(':
		return TermFactor
	case before == '/':
		return TermDenominator
	case after == '/':
		return TermNumerator
	}
	return TermGroup
}
