package realsolve

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	posInf = "+inf"
	negInf = "-inf"

	defaultConcurrency = 4
)

var (
	errNoDigits    = errors.New("no leading integer")
	errZeroDivisor = errors.New("zero denominator")
)

const tracerName = "github.com/njchilds90/realsolve"

// ============================================================
// Solver
// ============================================================

// Solver runs the solution pipeline against an Engine. It holds no
// per-request state and is safe for concurrent use when the Engine is.
type Solver struct {
	engine      Engine
	logger      *slog.Logger
	keep        func(candidate string) bool
	concurrency int
}

type Option func(*Solver)

// WithLogger sets the logger used for debug output. The default discards.
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCandidateFilter replaces LexicalFilter as the test deciding which
// candidates are real.
func WithCandidateFilter(keep func(candidate string) bool) Option {
	return func(s *Solver) {
		if keep != nil {
			s.keep = keep
		}
	}
}

// WithConcurrency bounds how many requests SolveAll runs at once.
func WithConcurrency(n int) Option {
	return func(s *Solver) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewSolver(engine Engine, opts ...Option) *Solver {
	s := &Solver{
		engine:      engine,
		logger:      slog.New(slog.DiscardHandler),
		keep:        LexicalFilter,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Engine returns the engine s delegates to.
func (s *Solver) Engine() Engine { return s.engine }

// BuildEquation writes "equation = target" with target in its shortest
// round-trip decimal form.
func BuildEquation(equation string, target float64) string {
	return equation + " = " + strconv.FormatFloat(target, 'f', -1, 64)
}

// Solve returns the real solutions of equation = target for variable,
// sorted ascending by numeric value. Any failure aborts the whole
// request: no partial list is returned.
func (s *Solver) Solve(ctx context.Context, equation, variable string, target float64) ([]Solution, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "realsolve.Solve", trace.WithAttributes(
		attribute.String("realsolve.equation", equation),
		attribute.String("realsolve.variable", variable),
		attribute.Float64("realsolve.target", target),
	))
	defer span.End()

	full := BuildEquation(equation, target)
	raw, err := s.engine.SolveEquations(ctx, full, variable)
	if err != nil {
		err = &SolveError{Equation: full, Variable: variable, Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, "solve failed")
		return nil, err
	}

	solutions, err := s.PostProcess(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "post-process failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("realsolve.solutions", len(solutions)))
	s.logger.Debug("solved", "equation", full, "variable", variable, "solutions", len(solutions))
	return solutions, nil
}

// PostProcess turns raw engine output into sorted solutions.
func (s *Solver) PostProcess(raw string) ([]Solution, error) {
	candidates := SplitCandidates(raw)
	solutions := make([]Solution, 0, len(candidates))
	for _, c := range candidates {
		if !s.keep(c) {
			s.logger.Debug("dropped candidate", "candidate", c)
			continue
		}
		display, err := s.engine.ConvertToLaTeX(c)
		if err != nil {
			return nil, &FormatError{Candidate: c, Err: err}
		}
		v, err := s.NumericValue(c)
		if err != nil {
			return nil, err
		}
		solutions = append(solutions, Solution{exact: c, display: display, numeric: v})
	}
	sort.SliceStable(solutions, func(i, j int) bool {
		return solutions[i].numeric < solutions[j].numeric
	})
	return solutions, nil
}

// NumericValue approximates candidate. The infinity tokens map to ±Inf
// without consulting the engine; anything else is evaluated and, when
// the result is a fraction, divided out.
func (s *Solver) NumericValue(candidate string) (float64, error) {
	switch candidate {
	case negInf:
		return math.Inf(-1), nil
	case posInf:
		return math.Inf(1), nil
	}
	value, err := s.engine.Evaluate(candidate)
	if err != nil {
		return 0, &FormatError{Candidate: candidate, Err: err}
	}
	v, err := parseRational(value)
	if err != nil {
		return 0, &FormatError{Candidate: candidate, Value: value, Err: err}
	}
	return v, nil
}

// parseRational reads "n" or "n/d". Each side contributes the integer
// literal it starts with; trailing characters are ignored.
func parseRational(value string) (float64, error) {
	parts := strings.Split(value, "/")
	num, ok := leadingInt(parts[0])
	if !ok {
		return 0, errNoDigits
	}
	if len(parts) == 1 {
		f, _ := new(big.Float).SetInt(num).Float64()
		return f, nil
	}
	den, ok := leadingInt(parts[1])
	if !ok {
		return 0, errNoDigits
	}
	if den.Sign() == 0 {
		return 0, errZeroDivisor
	}
	f, _ := new(big.Rat).SetFrac(num, den).Float64()
	return f, nil
}

func leadingInt(s string) (*big.Int, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return nil, false
	}
	return new(big.Int).SetString(s[:end], 10)
}

// SplitCandidates splits raw engine output on commas, trimming each
// piece and dropping empty ones.
func SplitCandidates(raw string) []string {
	var out []string
	for _, piece := range strings.Split(raw, ",") {
		if piece = strings.TrimSpace(piece); piece != "" {
			out = append(out, piece)
		}
	}
	return out
}

// LexicalFilter keeps candidates that do not contain the letter i. It
// is a textual test: it also drops real values written with pi or sin.
func LexicalFilter(candidate string) bool {
	return !strings.Contains(candidate, "i")
}

// ============================================================
// Batch solving
// ============================================================

type Request struct {
	Equation string  `json:"equation"`
	Variable string  `json:"variable"`
	Target   float64 `json:"target"`
}

type Result struct {
	Request   Request
	Solutions []Solution
	Err       error
}

// SolveAll solves reqs concurrently and returns one Result per request
// in input order. A failing request does not affect the others; requests
// not started before ctx is done carry ctx.Err(). The engine is shared by
// all workers and must be safe for concurrent use.
func (s *Solver) SolveAll(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, req := range reqs {
		results[i].Request = req
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		g.Go(func() error {
			results[i].Solutions, results[i].Err = s.Solve(ctx, req.Equation, req.Variable, req.Target)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
