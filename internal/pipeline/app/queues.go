package app

import (
	"fmt"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	"video_pipeline_service/pkg/config"
	errprocess "video_pipeline_service/pkg/err"
)

// Queues the three stage queues, shared by orchestrator, resolver and reporter
type Queues struct {
	Video    *queue.Queue
	AI       *queue.Queue
	Strategy *queue.Queue
}

// NewQueues declares the three queues on backend
func NewQueues(backend queue.Backend, cfg config.QueuesConfig, opts ...queue.Option) (Queues, error) {
	var (
		qs  Queues
		err error
	)
	if qs.Video, err = queue.New(specFor(domain.StageVideo, cfg.Video), backend, opts...); err != nil {
		return Queues{}, err
	}
	if qs.AI, err = queue.New(specFor(domain.StageAI, cfg.AI), backend, opts...); err != nil {
		return Queues{}, err
	}
	if qs.Strategy, err = queue.New(specFor(domain.StageStrategy, cfg.Strategy), backend, opts...); err != nil {
		return Queues{}, err
	}
	return qs, nil
}

func specFor(stage domain.Stage, c config.QueueConfig) queue.Spec {
	return queue.Spec{
		Name:        c.Name,
		Stage:       stage,
		Concurrency: c.Concurrency,
		Policy: queue.RetryPolicy{
			MaxAttempts: c.MaxAttempts,
			BackoffBase: c.BackoffBase,
			BackoffMax:  c.BackoffMax,
		},
		Retention: c.Retention,
	}
}

// For queue serving stage
func (q Queues) For(stage domain.Stage) *queue.Queue {
	switch stage {
	case domain.StageVideo:
		return q.Video
	case domain.StageAI:
		return q.AI
	case domain.StageStrategy:
		return q.Strategy
	}
	return nil
}

// ByName resolves the API queue name (video / ai / strategy)
func (q Queues) ByName(name string) (*queue.Queue, error) {
	stage, ok := domain.ParseStage(name)
	if !ok {
		return nil, errprocess.New(errprocess.KindInvalidQueueName, fmt.Sprintf("invalid queue name %q, expect video, ai or strategy", name))
	}
	return q.For(stage), nil
}

// All in chain order
func (q Queues) All() []*queue.Queue {
	return []*queue.Queue{q.Video, q.AI, q.Strategy}
}
