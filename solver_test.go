package realsolve_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/realsolve"
)

// fakeEngine answers from fixed tables and records what it was asked.
type fakeEngine struct {
	solutions string
	solveErr  error
	latexErr  map[string]error
	values    map[string]string
	evalErr   error

	mu        sync.Mutex
	equations []string
	evaluated []string
}

func (f *fakeEngine) SolveEquations(_ context.Context, equation, _ string) (string, error) {
	f.mu.Lock()
	f.equations = append(f.equations, equation)
	f.mu.Unlock()
	return f.solutions, f.solveErr
}

func (f *fakeEngine) ConvertToLaTeX(expr string) (string, error) {
	if err := f.latexErr[expr]; err != nil {
		return "", err
	}
	return "L{" + expr + "}", nil
}

func (f *fakeEngine) Evaluate(expr string) (string, error) {
	f.mu.Lock()
	f.evaluated = append(f.evaluated, expr)
	f.mu.Unlock()
	if f.evalErr != nil {
		return "", f.evalErr
	}
	if v, ok := f.values[expr]; ok {
		return v, nil
	}
	return expr, nil
}

func numerics(sols []realsolve.Solution) []float64 {
	out := make([]float64, len(sols))
	for i, s := range sols {
		out[i] = s.Numeric()
	}
	return out
}

func exacts(sols []realsolve.Solution) []string {
	out := make([]string, len(sols))
	for i, s := range sols {
		out[i] = s.Exact()
	}
	return out
}

// ============================================================
// Equation building
// ============================================================

func TestBuildEquation(t *testing.T) {
	cases := []struct {
		eq     string
		target float64
		want   string
	}{
		{"x^2", 4, "x^2 = 4"},
		{"x", 2.5, "x = 2.5"},
		{"x", -0.1, "x = -0.1"},
		{"x", 1e21, "x = 1000000000000000000000"},
		{"x", 0, "x = 0"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, realsolve.BuildEquation(c.eq, c.target))
	}
}

func TestSolve_PassesEquationToEngine(t *testing.T) {
	eng := &fakeEngine{solutions: "2"}
	_, err := realsolve.NewSolver(eng).Solve(context.Background(), "x^2", "x", 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"x^2 = 4"}, eng.equations)
}

// ============================================================
// Post-processing
// ============================================================

func TestSolve_SortsAscending(t *testing.T) {
	eng := &fakeEngine{solutions: "3, -1,2"}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"-1", "2", "3"}, exacts(sols))
	assert.Equal(t, []float64{-1, 2, 3}, numerics(sols))
	assert.Equal(t, "L{-1}", sols[0].Display())
}

func TestSolve_StableForTies(t *testing.T) {
	eng := &fakeEngine{solutions: "b,a,c", values: map[string]string{"a": "1", "b": "1", "c": "0"}}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, exacts(sols))
}

func TestSolve_DropsComplexCandidates(t *testing.T) {
	eng := &fakeEngine{solutions: "1+2*i,2,1-2*i"}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, exacts(sols))
	assert.NotContains(t, eng.evaluated, "1+2*i")
}

func TestSolve_LexicalFilterDropsPi(t *testing.T) {
	// The filter is textual: a candidate spelled with pi is dropped even
	// though it is real.
	eng := &fakeEngine{solutions: "pi,1"}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, exacts(sols))
}

func TestSolve_CustomFilter(t *testing.T) {
	eng := &fakeEngine{solutions: "3,pi", values: map[string]string{"pi": "355/113"}}
	keepAll := func(string) bool { return true }
	sols, err := realsolve.NewSolver(eng, realsolve.WithCandidateFilter(keepAll)).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "pi"}, exacts(sols))
}

func TestSolve_EmptyOutput(t *testing.T) {
	for _, raw := range []string{"", " , ,", "i,-i"} {
		eng := &fakeEngine{solutions: raw}
		sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
		require.NoError(t, err, raw)
		assert.Empty(t, sols, raw)
	}
}

func TestSolve_DefaultFilterDropsInfinities(t *testing.T) {
	eng := &fakeEngine{solutions: "+inf,0,-inf"}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0"}, exacts(sols))
}

func TestSolve_Infinities(t *testing.T) {
	eng := &fakeEngine{solutions: "+inf,0,-inf"}
	keepAll := func(string) bool { return true }
	sols, err := realsolve.NewSolver(eng, realsolve.WithCandidateFilter(keepAll)).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	require.Len(t, sols, 3)
	assert.True(t, math.IsInf(sols[0].Numeric(), -1))
	assert.Equal(t, 0.0, sols[1].Numeric())
	assert.True(t, math.IsInf(sols[2].Numeric(), 1))
	assert.Equal(t, []string{"0"}, eng.evaluated)
}

func TestSolve_PaddedCandidatesAreTrimmed(t *testing.T) {
	eng := &fakeEngine{solutions: " +inf , 3", values: map[string]string{"3": "3"}}
	keepAll := func(string) bool { return true }
	sols, err := realsolve.NewSolver(eng, realsolve.WithCandidateFilter(keepAll)).Solve(context.Background(), "p(x)", "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "+inf"}, exacts(sols))
	assert.True(t, math.IsInf(sols[1].Numeric(), 1))
	assert.Equal(t, []string{"3"}, eng.evaluated)
}

func TestSolve_EngineFailure(t *testing.T) {
	cause := errors.New("boom")
	eng := &fakeEngine{solveErr: cause}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "x", "x", 1)
	assert.Nil(t, sols)
	require.ErrorIs(t, err, realsolve.ErrSolve)
	assert.ErrorIs(t, err, cause)
	var se *realsolve.SolveError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "x = 1", se.Equation)
	assert.Equal(t, "x", se.Variable)
}

func TestSolve_LaTeXFailureAborts(t *testing.T) {
	eng := &fakeEngine{solutions: "1,2", latexErr: map[string]error{"2": errors.New("bad")}}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	assert.Nil(t, sols)
	require.ErrorIs(t, err, realsolve.ErrFormat)
	var fe *realsolve.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "2", fe.Candidate)
}

func TestSolve_UnparsableValueAborts(t *testing.T) {
	eng := &fakeEngine{solutions: "1,q", values: map[string]string{"q": "abc"}}
	sols, err := realsolve.NewSolver(eng).Solve(context.Background(), "p(x)", "x", 0)
	assert.Nil(t, sols)
	require.ErrorIs(t, err, realsolve.ErrFormat)
	var fe *realsolve.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "abc", fe.Value)
}

// ============================================================
// Numeric values
// ============================================================

func TestNumericValue(t *testing.T) {
	cases := []struct {
		value string
		want  float64
	}{
		{"-4", -4},
		{"113/15", 113.0 / 15},
		{"-7/2", -3.5},
		{"7.5", 7},
		{"12abc/5", 2.4},
		{"  9", 9},
		{"+3/4", 0.75},
		{"1/2/3", 0.5},
	}
	for _, c := range cases {
		eng := &fakeEngine{values: map[string]string{"c": c.value}}
		got, err := realsolve.NewSolver(eng).NumericValue("c")
		require.NoError(t, err, c.value)
		assert.InDelta(t, c.want, got, 1e-12, c.value)
		assert.False(t, math.IsNaN(got))
	}
}

func TestNumericValue_Rejects(t *testing.T) {
	for _, value := range []string{"1/0", "abc", "/3", "3/", "-"} {
		eng := &fakeEngine{values: map[string]string{"c": value}}
		_, err := realsolve.NewSolver(eng).NumericValue("c")
		assert.ErrorIs(t, err, realsolve.ErrFormat, value)
	}
}

func TestNumericValue_EngineError(t *testing.T) {
	eng := &fakeEngine{evalErr: errors.New("cannot evaluate")}
	_, err := realsolve.NewSolver(eng).NumericValue("x")
	assert.ErrorIs(t, err, realsolve.ErrFormat)
}

func TestNumericValue_InfinityBypassesEngine(t *testing.T) {
	eng := &fakeEngine{evalErr: errors.New("must not be called")}
	s := realsolve.NewSolver(eng)
	v, err := s.NumericValue("-inf")
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, -1))
	v, err = s.NumericValue("+inf")
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, 1))
	assert.Empty(t, eng.evaluated)
}

func TestNumericValue_LargeIntegers(t *testing.T) {
	eng := &fakeEngine{values: map[string]string{"c": "123456789012345678901234567890/10"}}
	v, err := realsolve.NewSolver(eng).NumericValue("c")
	require.NoError(t, err)
	assert.InDelta(t, 1.2345678901234568e28, v, 1e14)
}

func TestSplitCandidates(t *testing.T) {
	assert.Equal(t, []string{"1", "2", "x y"}, realsolve.SplitCandidates(" 1 ,2,, x y ,"))
	assert.Empty(t, realsolve.SplitCandidates(""))
}

// ============================================================
// Solution
// ============================================================

func TestSolution_JSON(t *testing.T) {
	b, err := json.Marshal(realsolve.NewSolution("3/2", `\frac{3}{2}`, 1.5))
	require.NoError(t, err)
	assert.JSONEq(t, `{"exact":"3/2","latex":"\\frac{3}{2}","numeric":1.5}`, string(b))

	b, err = json.Marshal(realsolve.NewSolution("-inf", `-\infty`, math.Inf(-1)))
	require.NoError(t, err)
	assert.JSONEq(t, `{"exact":"-inf","latex":"-\\infty","numeric":"-inf"}`, string(b))
}

// ============================================================
// Batch solving
// ============================================================

// routedEngine answers per equation text.
type routedEngine struct {
	fakeEngine
	answers map[string]string
	active  int32
	peak    int32
	delay   time.Duration
}

func (r *routedEngine) SolveEquations(_ context.Context, equation, _ string) (string, error) {
	n := atomic.AddInt32(&r.active, 1)
	for {
		p := atomic.LoadInt32(&r.peak)
		if n <= p || atomic.CompareAndSwapInt32(&r.peak, p, n) {
			break
		}
	}
	time.Sleep(r.delay)
	atomic.AddInt32(&r.active, -1)
	ans, ok := r.answers[equation]
	if !ok {
		return "", fmt.Errorf("no answer for %s", equation)
	}
	return ans, nil
}

func TestSolveAll_OrderAndIsolation(t *testing.T) {
	eng := &routedEngine{answers: map[string]string{
		"a = 0": "2,1",
		"c = 0": "5",
	}}
	s := realsolve.NewSolver(eng)
	reqs := []realsolve.Request{
		{Equation: "a", Variable: "x"},
		{Equation: "b", Variable: "x"},
		{Equation: "c", Variable: "x"},
	}
	results := s.SolveAll(context.Background(), reqs)
	require.Len(t, results, 3)
	for i := range reqs {
		assert.Equal(t, reqs[i], results[i].Request)
	}
	require.NoError(t, results[0].Err)
	assert.Equal(t, []string{"1", "2"}, exacts(results[0].Solutions))
	assert.ErrorIs(t, results[1].Err, realsolve.ErrSolve)
	assert.Nil(t, results[1].Solutions)
	require.NoError(t, results[2].Err)
	assert.Equal(t, []string{"5"}, exacts(results[2].Solutions))
}

func TestSolveAll_BoundedConcurrency(t *testing.T) {
	answers := map[string]string{}
	reqs := make([]realsolve.Request, 12)
	for i := range reqs {
		eq := fmt.Sprintf("e%d", i)
		answers[eq+" = 0"] = "1"
		reqs[i] = realsolve.Request{Equation: eq, Variable: "x"}
	}
	eng := &routedEngine{answers: answers, delay: 5 * time.Millisecond}
	results := realsolve.NewSolver(eng, realsolve.WithConcurrency(3)).SolveAll(context.Background(), reqs)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&eng.peak), int32(3))
}

func TestSolveAll_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	eng := &fakeEngine{solutions: "1"}
	results := realsolve.NewSolver(eng).SolveAll(ctx, []realsolve.Request{{Equation: "a"}, {Equation: "b"}})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Empty(t, eng.equations)
}

func TestSolveAll_Empty(t *testing.T) {
	results := realsolve.NewSolver(&fakeEngine{}).SolveAll(context.Background(), nil)
	assert.Empty(t, results)
}
