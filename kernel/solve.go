package kernel

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
)

// ============================================================
// Solvers
// ============================================================

var (
	ErrNoSolution        = errors.New("kernel: no solution")
	ErrInfiniteSolutions = errors.New("kernel: infinitely many solutions")
	ErrUnsupported       = errors.New("kernel: unsupported equation")
	ErrNotNumeric        = errors.New("kernel: expression is not numeric")
)

// Options tune the numeric root search.
type Options struct {
	// SearchRange bounds Newton seeds to [-SearchRange, SearchRange].
	SearchRange float64
	Tolerance   float64
	MaxIter     int
	// Seeds is the number of evenly spaced starting points.
	Seeds int
}

func DefaultOptions() Options {
	return Options{SearchRange: 100, Tolerance: 1e-10, MaxIter: 100, Seeds: 200}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SearchRange <= 0 {
		o.SearchRange = d.SearchRange
	}
	if o.Tolerance <= 0 {
		o.Tolerance = d.Tolerance
	}
	if o.MaxIter <= 0 {
		o.MaxIter = d.MaxIter
	}
	if o.Seeds <= 0 {
		o.Seeds = d.Seeds
	}
	return o
}

// root is one candidate solution: its text in engine notation and,
// for real roots, a value that can be substituted back.
type root struct {
	text  string
	value Expr
}

func exactRoot(e Expr) root { return root{text: e.String(), value: e} }

// SolveEquation returns the candidate solutions of equation for varName
// in engine notation. Complex candidates carry the imaginary unit i.
func SolveEquation(ctx context.Context, equation, varName string, opts Options) ([]string, error) {
	opts = opts.withDefaults()
	lhs, rhs, err := ParseEquation(equation)
	if err != nil {
		return nil, err
	}
	residual, dens := clearDenominators(AddOf(lhs, MulOf(N(-1), rhs)), varName)
	residual = Expand(residual)

	free := FreeSymbols(residual)
	if _, ok := free[varName]; !ok {
		if n, ok := residual.Eval(); ok && n.IsZero() {
			return nil, fmt.Errorf("%w: %s holds for every %s", ErrInfiniteSolutions, equation, varName)
		}
		if len(dens) > 0 {
			return nil, fmt.Errorf("%w: %s has no finite solution for %s", ErrNoSolution, equation, varName)
		}
		return nil, fmt.Errorf("%w: %s does not depend on %s", ErrNoSolution, equation, varName)
	}
	names := make([]string, 0, len(free))
	for name := range free {
		if name != varName && !IsConstant(name) {
			names = append(names, name)
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		return nil, fmt.Errorf("%w: free symbol %q besides %s", ErrUnsupported, names[0], varName)
	}

	var roots []root
	if coeffs, ok := numericCoeffs(residual, varName); ok {
		roots, err = solvePolynomial(ctx, coeffs, varName, opts)
	} else {
		var xs []float64
		xs, err = SolvePolynomialNewton(ctx, residual, varName, opts)
		for _, x := range xs {
			roots = append(roots, snapRoot(residual, varName, x))
		}
	}
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if seen[r.text] || vanishes(dens, varName, r.value) {
			continue
		}
		seen[r.text] = true
		out = append(out, r.text)
	}
	return out, nil
}

// clearDenominators multiplies every term by the denominators that
// depend on varName so the residual becomes polynomial where possible.
// It returns the denominators so roots that zero them can be discarded.
func clearDenominators(e Expr, varName string) (Expr, []Expr) {
	terms := []Expr{e}
	if a, ok := e.(*Add); ok {
		terms = a.terms
	}
	type den struct {
		base Expr
		exp  int64
	}
	byBase := map[string]*den{}
	order := []string{}
	for _, t := range terms {
		factors := []Expr{t}
		if m, ok := t.(*Mul); ok {
			factors = m.factors
		}
		for _, f := range factors {
			p, ok := f.(*Pow)
			if !ok || !dependsOn(p.base, varName) {
				continue
			}
			n, ok := p.exp.(*Num)
			if !ok || !n.IsNegative() {
				continue
			}
			k, ok := numNeg(n).int64Value()
			if !ok || k > maxExactExp {
				continue
			}
			key := p.base.String()
			if d, seen := byBase[key]; seen {
				if k > d.exp {
					d.exp = k
				}
				continue
			}
			byBase[key] = &den{base: p.base, exp: k}
			order = append(order, key)
		}
	}
	if len(order) == 0 {
		return e, nil
	}
	mult := make([]Expr, 0, len(order))
	dens := make([]Expr, 0, len(order))
	for _, key := range order {
		d := byBase[key]
		mult = append(mult, PowOf(d.base, N(d.exp)))
		dens = append(dens, d.base)
	}
	scaled := make([]Expr, len(terms))
	for i, t := range terms {
		scaled[i] = MulOf(append([]Expr{t}, mult...)...)
	}
	return AddOf(scaled...), dens
}

func vanishes(dens []Expr, varName string, value Expr) bool {
	if value == nil {
		return false
	}
	for _, d := range dens {
		v, ok := d.Sub(varName, value).Eval()
		if ok && math.Abs(v.Float64()) < 1e-12 {
			return true
		}
	}
	return false
}

// solvePolynomial finds the roots of sum(coeffs[k] * x^k).
func solvePolynomial(ctx context.Context, coeffs []*Num, varName string, opts Options) ([]root, error) {
	var roots []root
	if len(coeffs) > 1 && coeffs[0].IsZero() {
		k := 0
		for coeffs[k].IsZero() {
			k++
		}
		roots = append(roots, exactRoot(N(0)))
		coeffs = coeffs[k:]
	}
	for len(coeffs)-1 >= 3 {
		r, ok := rationalRoot(coeffs)
		if !ok {
			break
		}
		roots = append(roots, exactRoot(r))
		coeffs = deflate(coeffs, r)
	}

	switch deg := len(coeffs) - 1; {
	case deg == 0:
		if len(roots) == 0 {
			if coeffs[0].IsZero() {
				return nil, ErrInfiniteSolutions
			}
			return nil, ErrNoSolution
		}
	case deg == 1:
		r, err := SolveLinear(coeffs[1], coeffs[0])
		if err != nil {
			return nil, err
		}
		roots = append(roots, exactRoot(r))
	case deg == 2:
		for _, r := range SolveQuadraticExact(coeffs[2], coeffs[1], coeffs[0]) {
			if dependsOn(r, "i") {
				roots = append(roots, root{text: r.String()})
				continue
			}
			roots = append(roots, exactRoot(r))
		}
	default:
		poly := polyExpr(coeffs, varName)
		o := opts
		if bound := cauchyBound(coeffs); bound > o.SearchRange {
			o.SearchRange = bound
		}
		xs, err := SolvePolynomialNewton(ctx, poly, varName, o)
		if err != nil {
			return nil, err
		}
		for _, x := range xs {
			roots = append(roots, snapRoot(poly, varName, x))
		}
	}
	sort.SliceStable(roots, func(i, j int) bool {
		return rootOrder(roots[i]) < rootOrder(roots[j])
	})
	return roots, nil
}

func rootOrder(r root) float64 {
	if r.value == nil {
		return math.Inf(1)
	}
	if v, ok := r.value.Eval(); ok {
		return v.Float64()
	}
	return math.Inf(1)
}

// SolveLinear solves a*x + b = 0 exactly.
func SolveLinear(a, b *Num) (*Num, error) {
	if a.IsZero() {
		if b.IsZero() {
			return nil, fmt.Errorf("%w: identity (0 = 0)", ErrInfiniteSolutions)
		}
		return nil, fmt.Errorf("%w: inconsistent %s = 0", ErrNoSolution, b)
	}
	return numDiv(numNeg(b), a), nil
}

// SolveQuadraticExact solves a*x^2 + b*x + c = 0 in radicals, with square
// factors pulled out of the radicand. A negative discriminant yields the
// complex pair written with the imaginary unit i.
func SolveQuadraticExact(a, b, c *Num) []Expr {
	if a.IsZero() {
		r, err := SolveLinear(b, c)
		if err != nil {
			return nil
		}
		return []Expr{r}
	}
	twoA := numMul(N(2), a)
	center := numDiv(numNeg(b), twoA)
	disc := numSub(numMul(b, b), numMul(N(4), numMul(a, c)))
	if disc.IsZero() {
		return []Expr{center}
	}

	// sqrt(p/q) = sqrt(p*q)/q
	radicand := numAbs(disc)
	q := radicand.val.Denom()
	outside, inside := squareFactor(new(big.Int).Mul(radicand.val.Num(), q))
	scale := numDiv(&Num{val: new(big.Rat).SetFrac(outside, q)}, numAbs(twoA))
	var offset Expr = scale
	if inside.Cmp(big.NewInt(1)) != 0 {
		offset = MulOf(scale, SqrtOf(&Num{val: new(big.Rat).SetInt(inside)}))
	}
	if disc.IsNegative() {
		offset = MulOf(offset, S("i"))
	}
	return []Expr{
		AddOf(center, MulOf(N(-1), offset)),
		AddOf(center, offset),
	}
}

// squareFactor splits n into outside^2 * inside, trial dividing small
// squares only.
func squareFactor(n *big.Int) (outside, inside *big.Int) {
	if r, ok := exactIntSqrt(n); ok {
		return r, big.NewInt(1)
	}
	outside = big.NewInt(1)
	inside = new(big.Int).Set(n)
	sq := new(big.Int)
	rem := new(big.Int)
	quo := new(big.Int)
	for k := int64(2); k <= 10000; k++ {
		kk := big.NewInt(k)
		sq.Mul(kk, kk)
		if sq.Cmp(inside) > 0 {
			break
		}
		for {
			quo.QuoRem(inside, sq, rem)
			if rem.Sign() != 0 {
				break
			}
			inside.Set(quo)
			outside.Mul(outside, kk)
		}
	}
	return outside, inside
}

// rationalRoot searches p/q with p | a0 and q | an, after scaling the
// coefficients to integers. Coefficients too large to enumerate divisors
// for are skipped.
func rationalRoot(coeffs []*Num) (*Num, bool) {
	lcm := big.NewInt(1)
	for _, c := range coeffs {
		d := c.val.Denom()
		g := new(big.Int).GCD(nil, nil, lcm, d)
		lcm.Mul(lcm, new(big.Int).Quo(d, g))
	}
	ints := make([]*big.Int, len(coeffs))
	for i, c := range coeffs {
		v := new(big.Rat).Mul(c.val, new(big.Rat).SetInt(lcm))
		ints[i] = new(big.Int).Set(v.Num())
	}
	a0 := new(big.Int).Abs(ints[0])
	an := new(big.Int).Abs(ints[len(ints)-1])
	const limit = 1_000_000
	if !a0.IsInt64() || !an.IsInt64() || a0.Int64() > limit || an.Int64() > limit {
		return nil, false
	}
	ps := divisors(a0.Int64())
	qs := divisors(an.Int64())
	var cands []*Num
	for _, p := range ps {
		for _, q := range qs {
			cands = append(cands, F(-p, q), F(p, q))
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return numAbs(cands[i]).val.Cmp(numAbs(cands[j]).val) < 0
	})
	for _, r := range cands {
		if hornerExact(coeffs, r).IsZero() {
			return r, true
		}
	}
	return nil, false
}

func divisors(n int64) []int64 {
	var ds []int64
	for i := int64(1); i*i <= n; i++ {
		if n%i == 0 {
			ds = append(ds, i)
			if i != n/i {
				ds = append(ds, n/i)
			}
		}
	}
	return ds
}

func hornerExact(coeffs []*Num, x *Num) *Num {
	acc := N(0)
	for k := len(coeffs) - 1; k >= 0; k-- {
		acc = numAdd(numMul(acc, x), coeffs[k])
	}
	return acc
}

// deflate divides the polynomial by (x - r), dropping the zero remainder.
func deflate(coeffs []*Num, r *Num) []*Num {
	n := len(coeffs) - 1
	out := make([]*Num, n)
	out[n-1] = coeffs[n]
	for k := n - 1; k >= 1; k-- {
		out[k-1] = numAdd(coeffs[k], numMul(r, out[k]))
	}
	return out
}

func polyExpr(coeffs []*Num, varName string) Expr {
	terms := make([]Expr, 0, len(coeffs))
	x := S(varName)
	for k, c := range coeffs {
		if !c.IsZero() {
			terms = append(terms, MulOf(c, PowOf(x, N(int64(k)))))
		}
	}
	return AddOf(terms...)
}

// cauchyBound is an upper bound on the magnitude of every root.
func cauchyBound(coeffs []*Num) float64 {
	lead := numAbs(coeffs[len(coeffs)-1])
	m := 0.0
	for _, c := range coeffs[:len(coeffs)-1] {
		if v := numDiv(numAbs(c), lead).Float64(); v > m {
			m = v
		}
	}
	return 1 + m
}

// SolvePolynomialNewton runs Newton's method from evenly spaced seeds and
// returns the distinct real roots it converges to, ascending. Despite the
// name it accepts any differentiable expression.
func SolvePolynomialNewton(ctx context.Context, expr Expr, varName string, opts Options) ([]float64, error) {
	opts = opts.withDefaults()
	deriv := Diff(expr, varName)
	f := func(x float64) float64 { return EvalFloat(expr, varName, x) }
	df := func(x float64) float64 { return EvalFloat(deriv, varName, x) }
	dupTol := math.Max(opts.Tolerance*100, 1e-7)

	var roots []float64
	for i := 0; i <= opts.Seeds; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x := -opts.SearchRange + 2*opts.SearchRange*float64(i)/float64(opts.Seeds)
		for iter := 0; iter < opts.MaxIter; iter++ {
			fx := f(x)
			if math.IsNaN(fx) || math.IsInf(fx, 0) {
				break
			}
			if math.Abs(fx) < opts.Tolerance {
				dup := false
				for _, r := range roots {
					if math.Abs(r-x) < dupTol*math.Max(1, math.Abs(x)) {
						dup = true
						break
					}
				}
				if !dup {
					roots = append(roots, x)
				}
				break
			}
			dfx := df(x)
			if math.IsNaN(dfx) || math.Abs(dfx) < 1e-15 {
				break
			}
			x -= fx / dfx
			if math.Abs(x) > opts.SearchRange*10 {
				break
			}
		}
	}
	sort.Float64s(roots)
	return roots, nil
}

// snapRoot prefers an exact small-denominator rational when it zeroes
// expr exactly; otherwise it prints x as the shortest decimal.
func snapRoot(expr Expr, varName string, x float64) root {
	for q := int64(1); q <= 12; q++ {
		p := math.Round(x * float64(q))
		if math.Abs(p) > 1e15 || math.Abs(p/float64(q)-x) > 1e-6 {
			continue
		}
		cand := F(int64(p), q)
		if v, ok := expr.Sub(varName, cand).Eval(); ok && v.IsZero() {
			return exactRoot(cand)
		}
	}
	if x == 0 {
		return exactRoot(N(0))
	}
	text := strconv.FormatFloat(x, 'f', -1, 64)
	r, _ := new(big.Rat).SetString(text)
	return root{text: text, value: &Num{val: r}}
}
