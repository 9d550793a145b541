package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// DefaultRetention terminal jobs are kept this long so status lookups still find them
const DefaultRetention = 24 * time.Hour

// enqueueRetries transient store errors retried on enqueue before giving up
const enqueueRetries = 3

// Processor the opaque stage task
type Processor interface {
	Process(ctx context.Context, job *domain.Job) (string, error)
}

// ProcessorFunc adapter
type ProcessorFunc func(ctx context.Context, job *domain.Job) (string, error)

// Process calls f
func (f ProcessorFunc) Process(ctx context.Context, job *domain.Job) (string, error) {
	return f(ctx, job)
}

// Listener terminal outcome of a job, called after the job left active
type Listener interface {
	JobCompleted(ctx context.Context, job *domain.Job)
	JobFailed(ctx context.Context, job *domain.Job)
}

// Queue one named stage queue on top of a Backend
type Queue struct {
	spec    Spec
	backend Backend
	backOff func() backoff.BackOff
}

// Option of New
type Option func(*Queue)

// WithEnqueueBackOff replaces the backoff used for transient enqueue errors
func WithEnqueueBackOff(fn func() backoff.BackOff) Option {
	return func(q *Queue) {
		q.backOff = fn
	}
}

// New declares spec on backend
func New(spec Spec, backend Backend, opts ...Option) (*Queue, error) {
	if spec.Concurrency < 1 {
		spec.Concurrency = 1
	}
	if spec.Policy.MaxAttempts < 1 {
		spec.Policy = DefaultRetryPolicy()
	}
	if spec.Retention <= 0 {
		spec.Retention = DefaultRetention
	}
	q := &Queue{
		spec:    spec,
		backend: backend,
		backOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := backend.Declare(spec); err != nil {
		return nil, err
	}
	return q, nil
}

// Name queue name
func (q *Queue) Name() string { return q.spec.Name }

// Stage stage served by the queue
func (q *Queue) Stage() domain.Stage { return q.spec.Stage }

// Concurrency limit of simultaneously active jobs
func (q *Queue) Concurrency() int { return q.spec.Concurrency }

// Policy retry policy
func (q *Queue) Policy() RetryPolicy { return q.spec.Policy }

// Enqueue adds a job with the deterministic id for the stage.
// Duplicate ids are returned as is; other store errors are retried then reported as transient.
func (q *Queue) Enqueue(ctx context.Context, videoID string, payload domain.JobPayload) (*domain.Job, error) {
	job := domain.Job{
		ID:      domain.JobID(q.spec.Stage, videoID),
		Stage:   q.spec.Stage,
		Payload: payload,
	}

	var out *domain.Job
	b := backoff.WithContext(backoff.WithMaxRetries(q.backOff(), enqueueRetries), ctx)
	err := backoff.Retry(func() error {
		j, err := q.backend.Enqueue(ctx, q.spec.Name, job)
		if err != nil {
			if permanent(err) {
				return backoff.Permanent(err)
			}
			logger.Log.Warn("enqueue failed, retrying", zap.String("queue", q.spec.Name), zap.String("job_id", job.ID), zap.Error(err))
			return err
		}
		out = j
		return nil
	}, b)
	if err != nil {
		if permanent(err) {
			return nil, err
		}
		return nil, errprocess.Wrap(errprocess.KindTransientQueue, fmt.Sprintf("enqueue %s on %s", job.ID, q.spec.Name), err)
	}
	jobsEnqueued.WithLabelValues(q.spec.Name).Inc()
	return out, nil
}

// permanent kinded errors and cancellation are not retried
func permanent(err error) bool {
	var e *errprocess.Error
	return errors.As(err, &e) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Job looks a job up, errprocess.ErrNotFound when absent
func (q *Queue) Job(ctx context.Context, jobID string) (*domain.Job, error) {
	return q.backend.Job(ctx, q.spec.Name, jobID)
}

// Counts waiting / active / completed / failed snapshot
func (q *Queue) Counts(ctx context.Context) (domain.Counts, error) {
	return q.backend.Counts(ctx, q.spec.Name)
}

// Run consumes the queue until ctx is done
func (q *Queue) Run(ctx context.Context, p Processor, l Listener) error {
	logger.Log.Info("queue consumer started", zap.String("queue", q.spec.Name), zap.Int("concurrency", q.spec.Concurrency))
	err := q.backend.Consume(ctx, q.spec.Name, &handler{queue: q.spec.Name, proc: p, listener: l})
	logger.Log.Info("queue consumer stopped", zap.String("queue", q.spec.Name))
	return err
}

// handler adapts Processor + Listener to the Backend Handler
type handler struct {
	queue    string
	proc     Processor
	listener Listener
}

func (h *handler) Process(ctx context.Context, job *domain.Job) (string, error) {
	start := time.Now()
	result, err := h.proc.Process(ctx, job)
	jobDuration.WithLabelValues(h.queue).Observe(time.Since(start).Seconds())
	if err != nil {
		jobAttempts.WithLabelValues(h.queue, "error").Inc()
	} else {
		jobAttempts.WithLabelValues(h.queue, "ok").Inc()
	}
	return result, err
}

func (h *handler) Completed(ctx context.Context, job *domain.Job) {
	jobsFinished.WithLabelValues(h.queue, string(domain.JobCompleted)).Inc()
	if h.listener != nil {
		h.listener.JobCompleted(ctx, job)
	}
}

func (h *handler) Failed(ctx context.Context, job *domain.Job) {
	jobsFinished.WithLabelValues(h.queue, string(domain.JobFailed)).Inc()
	if h.listener != nil {
		h.listener.JobFailed(ctx, job)
	}
}
