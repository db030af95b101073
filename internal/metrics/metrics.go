// Package metrics holds the pipeline's prometheus collectors. A batch job has no scrape
// endpoint, so the collected values are pushed to a pushgateway at the end of a run.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	JobName = "hexpulse"

	LabelStage  = "stage"
	LabelResult = "result"

	ResultOK      = "ok"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

var (
	RecordsFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hexpulse_records_fetched_total", Help: "Upstream records fetched.",
	}, []string{LabelStage})
	RecordsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hexpulse_records_written_total", Help: "Rows inserted or updated.",
	}, []string{LabelStage})
	RecordsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hexpulse_records_rejected_total", Help: "Records dropped as malformed.",
	}, []string{LabelStage})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hexpulse_stage_duration_seconds",
		Help:    "Wall time of each pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
	}, []string{LabelStage})
	StageResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hexpulse_stage_results_total", Help: "Stage outcomes.",
	}, []string{LabelStage, LabelResult})

	LastSuccess = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hexpulse_stage_last_success_timestamp_seconds", Help: "Unix time of the last successful stage run.",
	}, []string{LabelStage})
)

// Counts are the per-stage record tallies reported by ObserveStage.
type Counts struct {
	Fetched  int64
	Written  int64
	Rejected int64
}

// ObserveStage records one finished stage.
func ObserveStage(stage, result string, elapsed time.Duration, c Counts) {
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	StageResults.WithLabelValues(stage, result).Inc()
	if c.Fetched > 0 {
		RecordsFetched.WithLabelValues(stage).Add(float64(c.Fetched))
	}
	if c.Written > 0 {
		RecordsWritten.WithLabelValues(stage).Add(float64(c.Written))
	}
	if c.Rejected > 0 {
		RecordsRejected.WithLabelValues(stage).Add(float64(c.Rejected))
	}
	if result == ResultOK {
		LastSuccess.WithLabelValues(stage).SetToCurrentTime()
	}
}

// Push sends the default registry to the pushgateway at url. An empty url is a no-op.
func Push(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	if err := push.New(url, JobName).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
