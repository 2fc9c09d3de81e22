package realsolve

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ============================================================
// MCP Tool Interface
// ============================================================

type ToolRequest struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

type ToolResponse struct {
	Result interface{} `json:"result,omitempty"`
	LaTeX  string      `json:"latex,omitempty"`
	String string      `json:"string,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func HandleToolCall(ctx context.Context, s *Solver, req ToolRequest) ToolResponse {
	getString := func(key string) (string, error) {
		v, ok := req.Params[key]
		if !ok {
			return "", fmt.Errorf("missing param: %s", key)
		}
		str, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("param %s must be a string", key)
		}
		return str, nil
	}
	optString := func(key, def string) (string, error) {
		if _, ok := req.Params[key]; !ok {
			return def, nil
		}
		return getString(key)
	}
	optNumber := func(key string, def float64) (float64, error) {
		v, ok := req.Params[key]
		if !ok {
			return def, nil
		}
		f, ok := v.(float64)
		if !ok {
			return 0, fmt.Errorf("param %s must be a number", key)
		}
		return f, nil
	}

	switch req.Tool {
	case "solve":
		eq, err := getString("equation")
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		v, err := optString("var", "x")
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		target, err := optNumber("target", 0)
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		sols, err := s.Solve(ctx, eq, v, target)
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		exact := make([]string, len(sols))
		latex := make([]string, len(sols))
		for i, sol := range sols {
			exact[i] = sol.Exact()
			latex[i] = sol.Display()
		}
		return ToolResponse{
			Result: sols,
			String: strings.Join(exact, ", "),
			LaTeX:  strings.Join(latex, ", "),
		}

	case "extract_group":
		expr, err := getString("expr")
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		g, err := FirstGroup(expr)
		if err != nil {
			return ToolResponse{Error: err.Error(), String: WrongFormula}
		}
		return ToolResponse{Result: g, String: g.Content}

	case "decompose":
		expr, err := getString("expr")
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		t, err := Decompose(expr)
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		return ToolResponse{Result: t, String: t.Text}

	case "to_latex":
		expr, err := getString("expr")
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		latex, err := s.engine.ConvertToLaTeX(expr)
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		return ToolResponse{LaTeX: latex, String: expr}

	case "evaluate":
		expr, err := getString("expr")
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		v, err := s.NumericValue(expr)
		if err != nil {
			return ToolResponse{Error: err.Error()}
		}
		return ToolResponse{Result: numericJSON(v), String: formatNumeric(v)}

	case "mcp_spec":
		return ToolResponse{Result: json.RawMessage(MCPToolSpec())}
	}
	return ToolResponse{Error: fmt.Sprintf("unknown tool: %s", req.Tool)}
}

// MCPToolSpec returns the JSON schema of every tool HandleToolCall
// accepts.
func MCPToolSpec() string {
	tools := []map[string]interface{}{
		ts("solve", "Real solutions of equation = target, sorted ascending. Optional: var (default x), target (default 0)", []string{"equation"}, map[string]string{"equation": "string", "var": "string", "target": "number"}),
		ts("extract_group", "Content of the first top-level parenthesized group", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("decompose", "Tree of parenthesized sub-terms (factor, numerator, denominator)", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("to_latex", "Convert to LaTeX", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("evaluate", "Numeric value of an exact expression", []string{"expr"}, map[string]string{"expr": "string"}),
		ts("mcp_spec", "Return this tool schema", []string{}, map[string]string{}),
	}
	spec := map[string]interface{}{"tools": tools}
	b, _ := json.MarshalIndent(spec, "", "  ")
	return string(b)
}

func ts(name, description string, required []string, props map[string]string) map[string]interface{} {
	properties := map[string]interface{}{}
	for k, typ := range props {
		properties[k] = map[string]interface{}{"type": typ}
	}
	return map[string]interface{}{
		"name":        name,
		"description": description,
		"inputSchema": map[string]interface{}{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}
