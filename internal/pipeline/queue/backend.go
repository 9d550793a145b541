package queue

import (
	"context"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
)

// Spec 宣告一個 queue：名稱、對應 stage、同時執行上限與重試策略
type Spec struct {
	Name        string
	Stage       domain.Stage
	Concurrency int
	Policy      RetryPolicy
	// terminal jobs older than Retention may be dropped by the backend
	Retention time.Duration
}

// Handler is what a backend calls while consuming a queue.
// Process runs the stage task; Completed / Failed are called once the job reached a terminal state.
type Handler interface {
	Process(ctx context.Context, job *domain.Job) (string, error)
	Completed(ctx context.Context, job *domain.Job)
	Failed(ctx context.Context, job *domain.Job)
}

// Backend the durable job store shared by every queue.
// Enqueue must reject a job id already present in a non-terminal state with errprocess.ErrDuplicateJob;
// Job returns errprocess.ErrNotFound for unknown ids.
type Backend interface {
	Declare(spec Spec) error
	Enqueue(ctx context.Context, queue string, job domain.Job) (*domain.Job, error)
	Job(ctx context.Context, queue, jobID string) (*domain.Job, error)
	Counts(ctx context.Context, queue string) (domain.Counts, error)
	// Consume blocks until ctx is done, running at most spec.Concurrency handlers at a time
	Consume(ctx context.Context, queue string, h Handler) error
	Close() error
}
