package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/njchilds90/realsolve"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type solveRequest struct {
	Equation string   `json:"equation" binding:"required"`
	Variable string   `json:"variable" binding:"required"`
	Target   *float64 `json:"target" binding:"required"`
}

func (r solveRequest) request() realsolve.Request {
	return realsolve.Request{Equation: r.Equation, Variable: r.Variable, Target: *r.Target}
}

type solveResponse struct {
	Solutions []realsolve.Solution `json:"solutions"`
}

type batchRequest struct {
	Requests []solveRequest `json:"requests" binding:"required,min=1,dive"`
}

type batchItem struct {
	Request   realsolve.Request    `json:"request"`
	Solutions []realsolve.Solution `json:"solutions"`
	Error     string               `json:"error,omitempty"`
	Kind      string               `json:"kind,omitempty"`
}

type exprRequest struct {
	Expr string `json:"expr" binding:"required"`
}

// errorKind classifies pipeline errors for clients and metrics.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "canceled"
	case errors.Is(err, realsolve.ErrFormat):
		return http.StatusUnprocessableEntity, "format"
	case errors.Is(err, realsolve.ErrMalformedExpression):
		return http.StatusUnprocessableEntity, "malformed"
	case errors.Is(err, realsolve.ErrSolve):
		return http.StatusUnprocessableEntity, "solve"
	}
	return http.StatusInternalServerError, "internal"
}

func (s *Server) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.Server.RequestTimeout)
}

func badRequest(c *gin.Context, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: err.Error(), Kind: "request"})
		return
	}
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Kind: "request"})
}

// observeSolve records one solve outcome.
func observeSolve(start time.Time, sols []realsolve.Solution, err error) {
	solveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		_, kind := errorKind(err)
		solveErrors.WithLabelValues(kind).Inc()
		return
	}
	solutionsReturned.Observe(float64(len(sols)))
}

func (s *Server) handleTool(c *gin.Context) {
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()

	var req realsolve.ToolRequest
	if err := dec.Decode(&req); err != nil {
		badRequest(c, err)
		return
	}
	if dec.More() {
		c.JSON(http.StatusBadRequest, errorBody{Error: "invalid JSON: trailing data", Kind: "request"})
		return
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	c.JSON(http.StatusOK, realsolve.HandleToolCall(ctx, s.solver, req))
}

func (s *Server) handleSolve(c *gin.Context) {
	var req solveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx, cancel := s.requestContext(c)
	defer cancel()

	start := time.Now()
	sols, err := s.solver.Solve(ctx, req.Equation, req.Variable, *req.Target)
	observeSolve(start, sols, err)
	if err != nil {
		status, kind := errorKind(err)
		s.logger.Warn("solve failed",
			"equation", req.Equation,
			"kind", kind,
			"error", err,
			"request_id", c.GetString(requestIDKey))
		c.JSON(status, errorBody{Error: err.Error(), Kind: kind})
		return
	}
	c.JSON(http.StatusOK, solveResponse{Solutions: sols})
}

func (s *Server) handleBatch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if n := len(req.Requests); n > s.cfg.Solver.MaxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, errorBody{Error: "too many requests in batch", Kind: "request"})
		return
	}
	reqs := make([]realsolve.Request, len(req.Requests))
	for i, r := range req.Requests {
		reqs[i] = r.request()
	}

	ctx, cancel := s.requestContext(c)
	defer cancel()
	start := time.Now()
	results := s.solver.SolveAll(ctx, reqs)

	items := make([]batchItem, len(results))
	for i, r := range results {
		observeSolve(start, r.Solutions, r.Err)
		items[i] = batchItem{Request: r.Request, Solutions: r.Solutions}
		if r.Err != nil {
			_, kind := errorKind(r.Err)
			items[i].Error, items[i].Kind = r.Err.Error(), kind
		}
		if items[i].Solutions == nil {
			items[i].Solutions = []realsolve.Solution{}
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": items})
}

func (s *Server) handleGroup(c *gin.Context) {
	var req exprRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	g, err := realsolve.FirstGroup(req.Expr)
	if err != nil {
		status, kind := errorKind(err)
		c.JSON(status, errorBody{Error: err.Error(), Kind: kind})
		return
	}
	c.JSON(http.StatusOK, g)
}

func (s *Server) handleDecompose(c *gin.Context) {
	var req exprRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := realsolve.Decompose(req.Expr)
	if err != nil {
		status, kind := errorKind(err)
		c.JSON(status, errorBody{Error: err.Error(), Kind: kind})
		return
	}
	c.JSON(http.StatusOK, t)
}

func (s *Server) handleSchema(c *gin.Context) {
	c.Data(http.StatusOK, "application/json", []byte(realsolve.MCPToolSpec()))
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}
