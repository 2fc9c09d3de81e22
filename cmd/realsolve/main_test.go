package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/njchilds90/realsolve"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestSolve(t *testing.T) {
	code, out, _ := runCLI(t, "", "solve", "x^2", "--target", "4")
	require.Equal(t, exitOK, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "-2"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "2"), lines[1])
}

func TestSolve_JSON(t *testing.T) {
	code, out, _ := runCLI(t, "", "solve", "2y", "--var", "y", "-t", "3", "--json")
	require.Equal(t, exitOK, code)

	var sols []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &sols))
	require.Len(t, sols, 1)
	assert.Equal(t, "3/2", sols[0]["exact"])
	assert.Equal(t, `\frac{3}{2}`, sols[0]["latex"])
	assert.Equal(t, 1.5, sols[0]["numeric"])
}

func TestSolve_NoRealSolutions(t *testing.T) {
	code, out, _ := runCLI(t, "", "solve", "x^2", "--target", "-1")
	assert.Equal(t, exitOK, code)
	assert.Equal(t, "no real solutions\n", out)
}

func TestSolve_Failure(t *testing.T) {
	code, _, errOut := runCLI(t, "", "solve", "x +")
	assert.Equal(t, exitSolve, code)
	assert.Contains(t, errOut, "error:")
}

func TestUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"missing argument": {"solve"},
		"unknown flag":     {"solve", "x", "--nope"},
		"unknown command":  {"frobnicate"},
		"bad log level":    {"--log-level", "loud", "solve", "x"},
		"missing config":   {"--config", filepath.Join(t.TempDir(), "absent.yaml"), "solve", "x"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			code, _, _ := runCLI(t, "", args...)
			assert.Equal(t, exitUsage, code)
		})
	}
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realsolve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solver:\n  max_batch: 1\n"), 0o600))

	code, _, errOut := runCLI(t, "x\nx;x;2\n", "--config", path, "batch", "-")
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, errOut, "limit is 1")
}

func TestBatch(t *testing.T) {
	input := "# squares\nx^2;x;9\n\ny + 1;y\n"
	code, out, _ := runCLI(t, input, "batch", "-")
	require.Equal(t, exitOK, code)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "x^2 = 9: "), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "y + 1 = 0: -1"), lines[1])
}

func TestBatch_PartialFailureJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eqs.txt")
	require.NoError(t, os.WriteFile(path, []byte("x;x;5\nx +\n"), 0o600))

	code, out, errOut := runCLI(t, "", "batch", path, "--json")
	assert.Equal(t, exitSolve, code)
	assert.Empty(t, errOut)

	var lines []struct {
		Request   realsolve.Request `json:"request"`
		Solutions []any             `json:"solutions"`
		Error     string            `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &lines))
	require.Len(t, lines, 2)
	assert.Len(t, lines[0].Solutions, 1)
	assert.Empty(t, lines[0].Error)
	assert.Equal(t, "x +", lines[1].Request.Equation)
	assert.NotNil(t, lines[1].Solutions)
	assert.Contains(t, lines[1].Error, "cannot parse")
}

func TestParseBatch(t *testing.T) {
	reqs, err := parseBatch(strings.NewReader("x^2\nt-1;t\n z ; z ; -2.5 \n"))
	require.NoError(t, err)
	assert.Equal(t, []realsolve.Request{
		{Equation: "x^2", Variable: "x"},
		{Equation: "t-1", Variable: "t"},
		{Equation: "z", Variable: "z", Target: -2.5},
	}, reqs)

	for _, bad := range []string{"", "# only a comment\n", "a;b;1;2", ";x", "x;x;abc"} {
		_, err := parseBatch(strings.NewReader(bad))
		assert.Error(t, err, "%q", bad)
	}
}

func TestGroup(t *testing.T) {
	code, out, _ := runCLI(t, "", "group", "(5x+3)(4x)")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "5x+3\t[0:5]\n", out)

	code, _, _ = runCLI(t, "", "group", "5x+3")
	assert.Equal(t, exitSolve, code)
}

func TestDecompose(t *testing.T) {
	code, out, _ := runCLI(t, "", "decompose", "(a) / (b)")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "(a)/(b) (group)\n  a (numerator)\n  b (denominator)\n", out)

	code, out, _ = runCLI(t, "", "decompose", "(a)(b)", "--json")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, `"kind": "factor"`)

	code, _, _ = runCLI(t, "", "decompose", "(a))")
	assert.Equal(t, exitSolve, code)
}

func TestLatexAndEval(t *testing.T) {
	code, out, _ := runCLI(t, "", "latex", "1/2")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "\\frac{1}{2}\n", out)

	code, _, _ = runCLI(t, "", "latex", "1 +")
	assert.Equal(t, exitSolve, code)

	code, out, _ = runCLI(t, "", "eval", "3/2")
	require.Equal(t, exitOK, code)
	assert.Equal(t, "1.5\n", out)

	code, _, _ = runCLI(t, "", "eval", "(")
	assert.Equal(t, exitSolve, code)
}
