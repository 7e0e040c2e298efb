package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oxasl_stage_runs_total",
		Help: "Pipeline stages actually executed.",
	}, []string{"stage"})

	stageCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oxasl_stage_cache_hits_total",
		Help: "Stage triggers satisfied by the workspace completion guard.",
	}, []string{"stage"})

	solverCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oxasl_solver_calls_total",
		Help: "External solver invocations by operation.",
	}, []string{"op"})
)

func StageRun(stage string)    { stageRuns.WithLabelValues(stage).Inc() }
func StageCached(stage string) { stageCacheHits.WithLabelValues(stage).Inc() }
func SolverCall(op string)     { solverCalls.WithLabelValues(op).Inc() }

// Expose serves /metrics in the background. Port 0 disables it.
func Expose(port int) {
	if port <= 0 {
		return
	}
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		_ = http.ListenAndServe(fmt.Sprintf(":%d", port), nil)
	}()
}
