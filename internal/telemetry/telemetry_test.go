package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/njchilds90/realsolve"
	"github.com/njchilds90/realsolve/internal/config"
	"github.com/njchilds90/realsolve/kernel"
)

func TestInit_None(t *testing.T) {
	shutdown, err := Init(config.Telemetry{TraceExporter: "none"}, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Unknown(t *testing.T) {
	_, err := Init(config.Telemetry{TraceExporter: "zipkin"}, nil)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutExportsSolveSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := Init(config.Telemetry{TraceExporter: "stdout", ServiceName: "realsolve-test"}, &buf)
	require.NoError(t, err)

	_, err = realsolve.NewSolver(kernel.New()).Solve(context.Background(), "x^2", "x", 4)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "realsolve.Solve")
	assert.Contains(t, buf.String(), "realsolve-test")
}

func TestSolveSpanAttributes(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	rec := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(NewProvider("realsolve-test", sdktrace.WithSpanProcessor(rec)))

	_, err := realsolve.NewSolver(kernel.New()).Solve(context.Background(), "x +", "x", 0)
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "realsolve.Solve", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	var variable string
	for _, kv := range span.Attributes() {
		if kv.Key == "realsolve.variable" {
			variable = kv.Value.AsString()
		}
	}
	assert.Equal(t, "x", variable)
}
