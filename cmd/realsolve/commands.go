package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/njchilds90/realsolve"
	"github.com/njchilds90/realsolve/internal/config"
	"github.com/njchilds90/realsolve/internal/logging"
	"github.com/njchilds90/realsolve/kernel"
)

const (
	exitOK    = 0
	exitSolve = 1
	exitUsage = 2
)

// errFailed marks a run whose output has already been printed but where at
// least one equation failed.
var errFailed = errors.New("one or more equations failed")

// cli carries state shared by every subcommand.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string

	cfg    config.Config
	solver *realsolve.Solver
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}
	if !errors.Is(err, errFailed) {
		fmt.Fprintln(stderr, "error:", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errFailed),
		errors.Is(err, realsolve.ErrSolve),
		errors.Is(err, realsolve.ErrFormat),
		errors.Is(err, realsolve.ErrMalformedExpression):
		return exitSolve
	}
	return exitUsage
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "realsolve",
		Short:         "Solve single-variable equations for their real roots",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
	}
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		c.solveCmd(),
		c.batchCmd(),
		c.groupCmd(),
		c.decomposeCmd(),
		c.latexCmd(),
		c.evalCmd(),
	)
	return root
}

func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	logger, err := logging.NewWriter(c.stderr, logging.Config{Level: cfg.Log.Level, NoColor: cfg.Log.NoColor})
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.solver = newSolver(cfg.Solver, realsolve.WithLogger(logger))
	return nil
}

func newSolver(cfg config.Solver, opts ...realsolve.Option) *realsolve.Solver {
	engine := kernel.New(
		kernel.WithSearchRange(cfg.SearchRange),
		kernel.WithTolerance(cfg.Tolerance),
		kernel.WithMaxIter(cfg.MaxIter),
	)
	return realsolve.NewSolver(engine, append(opts, realsolve.WithConcurrency(cfg.Concurrency))...)
}

// ===================================================================
// solve
// ===================================================================

func (c *cli) solveCmd() *cobra.Command {
	var (
		variable string
		target   float64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "solve EQUATION",
		Short: "Solve EQUATION = target for its real roots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sols, err := c.solver.Solve(cmd.Context(), args[0], variable, target)
			if err != nil {
				return err
			}
			if asJSON {
				return c.writeJSON(sols)
			}
			if len(sols) == 0 {
				fmt.Fprintln(c.stdout, "no real solutions")
				return nil
			}
			for _, s := range sols {
				fmt.Fprintln(c.stdout, s)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&variable, "var", "v", "x", "variable to solve for")
	cmd.Flags().Float64VarP(&target, "target", "t", 0, "right-hand side of the equation")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// ===================================================================
// batch
// ===================================================================

type batchLine struct {
	Request   realsolve.Request    `json:"request"`
	Solutions []realsolve.Solution `json:"solutions"`
	Error     string               `json:"error,omitempty"`
}

func (c *cli) batchCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Solve one equation per line of FILE (\"-\" for stdin)",
		Long: `Each non-empty line has the form

    equation[;variable[;target]]

variable defaults to x and target to 0. Lines starting with # are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := c.readBatch(args[0])
			if err != nil {
				return err
			}
			if n := c.cfg.Solver.MaxBatch; len(reqs) > n {
				return fmt.Errorf("batch has %d equations, limit is %d", len(reqs), n)
			}

			results := c.solver.SolveAll(cmd.Context(), reqs)
			failed := false
			lines := make([]batchLine, len(results))
			for i, r := range results {
				lines[i] = batchLine{Request: r.Request, Solutions: r.Solutions}
				if lines[i].Solutions == nil {
					lines[i].Solutions = []realsolve.Solution{}
				}
				if r.Err != nil {
					lines[i].Error = r.Err.Error()
					failed = true
				}
			}

			if asJSON {
				if err := c.writeJSON(lines); err != nil {
					return err
				}
			} else {
				for _, l := range lines {
					c.printBatchLine(l)
				}
			}
			if failed {
				return errFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) printBatchLine(l batchLine) {
	eq := realsolve.BuildEquation(l.Request.Equation, l.Request.Target)
	switch {
	case l.Error != "":
		fmt.Fprintf(c.stdout, "%s: error: %s\n", eq, l.Error)
	case len(l.Solutions) == 0:
		fmt.Fprintf(c.stdout, "%s: no real solutions\n", eq)
	default:
		parts := make([]string, len(l.Solutions))
		for i, s := range l.Solutions {
			parts[i] = s.String()
		}
		fmt.Fprintf(c.stdout, "%s: %s\n", eq, strings.Join(parts, ", "))
	}
}

func (c *cli) readBatch(path string) ([]realsolve.Request, error) {
	var r io.Reader = c.stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	return parseBatch(io.LimitReader(r, config.MaxFileSize))
}

// parseBatch reads equation[;variable[;target]] lines.
func parseBatch(r io.Reader) ([]realsolve.Request, error) {
	var reqs []realsolve.Request
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ";")
		if len(fields) > 3 || strings.TrimSpace(fields[0]) == "" {
			return nil, fmt.Errorf("line %d: want equation[;variable[;target]]", n)
		}
		req := realsolve.Request{Equation: strings.TrimSpace(fields[0]), Variable: "x"}
		if len(fields) > 1 {
			if v := strings.TrimSpace(fields[1]); v != "" {
				req.Variable = v
			}
		}
		if len(fields) > 2 {
			t, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad target: %w", n, err)
			}
			req.Target = t
		}
		reqs = append(reqs, req)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, errors.New("batch file has no equations")
	}
	return reqs, nil
}

// ===================================================================
// group / decompose
// ===================================================================

func (c *cli) groupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "group EXPR",
		Short: "Print the contents of the first parenthesized group in EXPR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := realsolve.FirstGroup(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "%s\t[%d:%d]\n", g.Content, g.Open, g.Close)
			return nil
		},
	}
}

func (c *cli) decomposeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decompose EXPR",
		Short: "Print the parenthesized sub-terms of EXPR as a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := realsolve.Decompose(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return c.writeJSON(t)
			}
			c.printTerm(t, 0)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func (c *cli) printTerm(t realsolve.Term, depth int) {
	fmt.Fprintf(c.stdout, "%s%s (%s)\n", strings.Repeat("  ", depth), t.Text, t.Kind)
	for _, child := range t.Children {
		c.printTerm(child, depth+1)
	}
}

// ===================================================================
// latex / eval
// ===================================================================

func (c *cli) latexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latex EXPR",
		Short: "Typeset EXPR as LaTeX",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.solver.Engine().ConvertToLaTeX(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", realsolve.ErrMalformedExpression, err)
			}
			fmt.Fprintln(c.stdout, out)
			return nil
		},
	}
}

func (c *cli) evalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "eval EXPR",
		Short: "Evaluate a closed-form EXPR to a decimal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.solver.NumericValue(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(c.stdout, strconv.FormatFloat(v, 'g', -1, 64))
			return nil
		},
	}
}

func (c *cli) writeJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
