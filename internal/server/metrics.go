package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realsolve_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})

	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "realsolve_solve_duration_seconds",
		Help:    "Duration of one solve request",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	solutionsReturned = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "realsolve_solutions_returned",
		Help:    "Real solutions returned per successful solve",
		Buckets: []float64{0, 1, 2, 3, 4, 6, 10, 25},
	})

	solveErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realsolve_solve_errors_total",
		Help: "Failed solves by error kind",
	}, []string{"kind"})
)
