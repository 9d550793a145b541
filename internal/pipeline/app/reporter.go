package app

import (
	"context"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	"video_pipeline_service/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DefaultFailedThreshold a queue with more failed jobs than this is unhealthy
const DefaultFailedThreshold = 10

var (
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_jobs",
		Help: "Jobs per queue and state at the last health check",
	}, []string{"queue", "state"})
	queueUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_healthy",
		Help: "1 when the queue was healthy at the last health check",
	}, []string{"queue"})
)

// Counter read side of a queue
type Counter interface {
	Name() string
	Counts(ctx context.Context) (domain.Counts, error)
}

// Reporter health / stats over independently failing queues
type Reporter struct {
	queues    []Counter
	threshold int
	timeout   time.Duration
	health    *health.Server
}

// ReporterOption option of NewReporter
type ReporterOption func(*Reporter)

// WithHealthServer mirrors every Health result into the grpc health server
func WithHealthServer(hs *health.Server) ReporterOption {
	return func(r *Reporter) {
		r.health = hs
	}
}

// NewReporter threshold / timeout <= 0 use the defaults
func NewReporter(queues []Counter, threshold int, timeout time.Duration, opts ...ReporterOption) *Reporter {
	if threshold <= 0 {
		threshold = DefaultFailedThreshold
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	r := &Reporter{queues: queues, threshold: threshold, timeout: timeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Counters adapts the stage queues
func Counters(qs []*queue.Queue) []Counter {
	out := make([]Counter, len(qs))
	for i, q := range qs {
		out[i] = q
	}
	return out
}

// Health every queue checked concurrently, one failing queue only marks itself down
func (r *Reporter) Health(ctx context.Context) domain.HealthReport {
	results := r.fanOut(ctx)
	report := domain.HealthReport{Healthy: true, Queues: make([]domain.QueueHealth, len(results))}
	for i, res := range results {
		qh := domain.QueueHealth{Name: res.name}
		switch {
		case res.err != nil:
			qh.Status = domain.QueueDown
			logger.Log.Warn("queue health check failed", zap.String("queue", res.name), zap.Error(res.err))
		case res.counts.Failed > r.threshold:
			qh.Status = domain.QueueDegraded
		default:
			qh.Status = domain.QueueUp
			qh.Healthy = true
		}
		if res.err == nil {
			failed := res.counts.Failed
			qh.Waiting = res.counts.Waiting
			qh.Active = res.counts.Active
			qh.Failed = &failed
		}
		report.Queues[i] = qh
		report.Healthy = report.Healthy && qh.Healthy
		r.observe(qh, res)
	}
	if r.health != nil {
		r.health.SetServingStatus("", servingStatus(report.Healthy))
	}
	return report
}

// Stats same counts without the health judgment
func (r *Reporter) Stats(ctx context.Context) domain.StatsReport {
	results := r.fanOut(ctx)
	report := domain.StatsReport{Queues: make([]domain.QueueStats, len(results))}
	for i, res := range results {
		qs := domain.QueueStats{Name: res.name}
		if res.err != nil {
			qs.Error = "job store unavailable"
		} else {
			qs.Waiting = res.counts.Waiting
			qs.Active = res.counts.Active
			qs.Completed = res.counts.Completed
			qs.Failed = res.counts.Failed
		}
		report.Queues[i] = qs
	}
	return report
}

// Run refreshes gauges and grpc health every interval until ctx is done
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	r.Health(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Health(ctx)
		}
	}
}

type countResult struct {
	name   string
	counts domain.Counts
	err    error
}

// fanOut branches never return an error, each one records its own
func (r *Reporter) fanOut(ctx context.Context) []countResult {
	results := make([]countResult, len(r.queues))
	var g errgroup.Group
	for i, q := range r.queues {
		i, q := i, q
		g.Go(func() error {
			counts, err := r.countWithTimeout(ctx, q)
			results[i] = countResult{name: q.Name(), counts: counts, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// countWithTimeout gives up after r.timeout even when the store ignores ctx
func (r *Reporter) countWithTimeout(ctx context.Context, q Counter) (domain.Counts, error) {
	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type result struct {
		counts domain.Counts
		err    error
	}
	done := make(chan result, 1)
	go func() {
		c, err := q.Counts(cctx)
		done <- result{c, err}
	}()
	select {
	case res := <-done:
		return res.counts, res.err
	case <-cctx.Done():
		return domain.Counts{}, fmt.Errorf("counts of %s: %w", q.Name(), cctx.Err())
	}
}

func (r *Reporter) observe(qh domain.QueueHealth, res countResult) {
	if res.err == nil {
		queueDepth.WithLabelValues(qh.Name, string(domain.JobWaiting)).Set(float64(res.counts.Waiting))
		queueDepth.WithLabelValues(qh.Name, string(domain.JobActive)).Set(float64(res.counts.Active))
		queueDepth.WithLabelValues(qh.Name, string(domain.JobCompleted)).Set(float64(res.counts.Completed))
		queueDepth.WithLabelValues(qh.Name, string(domain.JobFailed)).Set(float64(res.counts.Failed))
	}
	if qh.Healthy {
		queueUp.WithLabelValues(qh.Name).Set(1)
	} else {
		queueUp.WithLabelValues(qh.Name).Set(0)
	}
	if r.health != nil {
		r.health.SetServingStatus(qh.Name, servingStatus(qh.Healthy))
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
