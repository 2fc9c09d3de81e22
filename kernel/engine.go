package kernel

import (
	"context"
	"fmt"
	"strings"
)

// ============================================================
// Engine: string-level algebra capabilities
// ============================================================

// Engine solves, typesets and evaluates expressions given as text. It
// holds only read-only options and is safe for concurrent use.
type Engine struct {
	opts Options
}

type Option func(*Options)

func WithSearchRange(r float64) Option { return func(o *Options) { o.SearchRange = r } }
func WithTolerance(tol float64) Option { return func(o *Options) { o.Tolerance = tol } }
func WithMaxIter(n int) Option         { return func(o *Options) { o.MaxIter = n } }
func WithSeeds(n int) Option           { return func(o *Options) { o.Seeds = n } }

func New(opts ...Option) *Engine {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{opts: o.withDefaults()}
}

// SolveEquations returns the candidate solutions of equation for
// variable joined by commas, e.g. "-2,2". The result is empty when no
// real root was found.
func (e *Engine) SolveEquations(ctx context.Context, equation, variable string) (string, error) {
	roots, err := SolveEquation(ctx, equation, variable, e.opts)
	if err != nil {
		return "", err
	}
	return strings.Join(roots, ","), nil
}

// ConvertToLaTeX typesets expr.
func (e *Engine) ConvertToLaTeX(expr string) (string, error) {
	x, err := Parse(expr)
	if err != nil {
		return "", err
	}
	return x.LaTeX(), nil
}

// Evaluate reduces expr to a number, written as an integer or as
// "numerator/denominator".
func (e *Engine) Evaluate(expr string) (string, error) {
	x, err := Parse(expr)
	if err != nil {
		return "", err
	}
	n, ok := x.Eval()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotNumeric, expr)
	}
	return n.String(), nil
}
