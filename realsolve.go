// Package realsolve turns the raw output of an algebra engine into the
// ordered set of real solutions of a single-variable equation.
//
// Design goals:
//   - The algebra engine is injected (Engine); the pipeline keeps no state
//   - Every solution carries its exact form, LaTeX and a float64 value
//   - Solutions come back sorted ascending, stable for ties
//   - Parenthesis groups can be extracted and decomposed into sub-terms
//
// The kernel subpackage provides a default Engine.
package realsolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ============================================================
// Engine
// ============================================================

// Engine is the algebra engine the pipeline delegates to.
//
// SolveEquations receives "lhs = rhs" and returns candidate solutions
// separated by commas. Complex candidates are marked with the letter i;
// the tokens -inf and +inf may appear. Evaluate returns an integer
// literal or "numerator/denominator".
type Engine interface {
	SolveEquations(ctx context.Context, equation, variable string) (string, error)
	ConvertToLaTeX(expr string) (string, error)
	Evaluate(expr string) (string, error)
}

// ============================================================
// Solution
// ============================================================

// Solution is one real solution. It is a value type and never changes
// after construction.
type Solution struct {
	exact   string
	display string
	numeric float64
}

func NewSolution(exact, display string, numeric float64) Solution {
	return Solution{exact: exact, display: display, numeric: numeric}
}

// Exact is the solution in the engine's notation.
func (s Solution) Exact() string { return s.exact }

// Display is the LaTeX rendering of Exact.
func (s Solution) Display() string { return s.display }

// Numeric approximates Exact; it may be ±Inf but never NaN.
func (s Solution) Numeric() float64 { return s.numeric }

func (s Solution) String() string {
	return fmt.Sprintf("%s ≈ %s", s.exact, formatNumeric(s.numeric))
}

func (s Solution) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Exact   string      `json:"exact"`
		LaTeX   string      `json:"latex"`
		Numeric interface{} `json:"numeric"`
	}{s.exact, s.display, numericJSON(s.numeric)})
}

// numericJSON maps infinities to the engine tokens, which JSON numbers
// cannot carry.
func numericJSON(v float64) interface{} {
	switch {
	case math.IsInf(v, 1):
		return posInf
	case math.IsInf(v, -1):
		return negInf
	}
	return v
}

func formatNumeric(v float64) string {
	if s, ok := numericJSON(v).(string); ok {
		return s
	}
	return fmt.Sprintf("%g", v)
}

// ============================================================
// Errors
// ============================================================

var (
	ErrSolve               = errors.New("realsolve: equation could not be solved")
	ErrFormat              = errors.New("realsolve: solution could not be converted")
	ErrMalformedExpression = errors.New("realsolve: unbalanced parentheses")
)

// SolveError reports that the engine produced no solution set.
type SolveError struct {
	Equation string
	Variable string
	Err      error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("realsolve: solve %q for %s: %v", e.Equation, e.Variable, e.Err)
}

func (e *SolveError) Unwrap() error        { return e.Err }
func (e *SolveError) Is(target error) bool { return target == ErrSolve }

// FormatError reports a candidate that could not be typeset or turned
// into a number. Value is the engine output that failed to parse, if any.
type FormatError struct {
	Candidate string
	Value     string
	Err       error
}

func (e *FormatError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("realsolve: candidate %q evaluated to %q: %v", e.Candidate, e.Value, e.Err)
	}
	return fmt.Sprintf("realsolve: candidate %q: %v", e.Candidate, e.Err)
}

func (e *FormatError) Unwrap() error        { return e.Err }
func (e *FormatError) Is(target error) bool { return target == ErrFormat }
