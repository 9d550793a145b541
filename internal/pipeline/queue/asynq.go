package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// taskTypePrefix asynq task type = prefix + stage
const taskTypePrefix = "pipeline:"

// envelope asynq task payload
type envelope struct {
	Stage      domain.Stage      `json:"stage"`
	Payload    domain.JobPayload `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// AsynqBackend Redis backed job store (job_store: redis).
// The task id is the job id, so asynq rejects a second live task with the same id.
type AsynqBackend struct {
	redisOpt  asynq.RedisConnOpt
	client    *asynq.Client
	inspector *asynq.Inspector

	mu      sync.Mutex
	specs   map[string]Spec
	servers []*asynq.Server
}

// NewAsynqBackend creates client and inspector on the same redis
func NewAsynqBackend(redisOpt asynq.RedisConnOpt) *AsynqBackend {
	return &AsynqBackend{
		redisOpt:  redisOpt,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		specs:     make(map[string]Spec),
	}
}

// Declare register a queue
func (a *AsynqBackend) Declare(spec Spec) error {
	if spec.Name == "" {
		return errprocess.New(errprocess.KindInvalidQueueName, "queue name is empty")
	}
	if spec.Concurrency < 1 {
		spec.Concurrency = 1
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.specs[spec.Name] = spec
	return nil
}

func (a *AsynqBackend) spec(name string) (Spec, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.specs[name]
	if !ok {
		return Spec{}, errprocess.New(errprocess.KindInvalidQueueName, fmt.Sprintf("queue %s not declared", name))
	}
	return s, nil
}

// Enqueue creates the task; a terminal task with the same id is deleted first
func (a *AsynqBackend) Enqueue(ctx context.Context, queue string, job domain.Job) (*domain.Job, error) {
	spec, err := a.spec(queue)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(envelope{Stage: job.Stage, Payload: job.Payload, EnqueuedAt: time.Now()})
	if err != nil {
		return nil, err
	}
	maxRetry := spec.Policy.MaxAttempts - 1
	if maxRetry < 0 {
		maxRetry = 0
	}
	opts := []asynq.Option{
		asynq.TaskID(job.ID),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
	}
	if spec.Retention > 0 {
		opts = append(opts, asynq.Retention(spec.Retention))
	}
	task := asynq.NewTask(taskTypePrefix+string(job.Stage), data)

	info, err := a.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		existing, ierr := a.taskInfo(ctx, queue, job.ID)
		if ierr != nil || !terminalState(existing.State) {
			return nil, errprocess.New(errprocess.KindDuplicateJob, fmt.Sprintf("job %s already in progress", job.ID))
		}
		if derr := inspect(ctx, func() error { return a.inspector.DeleteTask(queue, job.ID) }); derr != nil {
			return nil, derr
		}
		info, err = a.client.EnqueueContext(ctx, task, opts...)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return nil, errprocess.New(errprocess.KindDuplicateJob, fmt.Sprintf("job %s already in progress", job.ID))
		}
	}
	if err != nil {
		return nil, err
	}
	return jobFromInfo(info)
}

// Job maps the asynq task to a domain job
func (a *AsynqBackend) Job(ctx context.Context, queue, jobID string) (*domain.Job, error) {
	info, err := a.taskInfo(ctx, queue, jobID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return nil, errprocess.New(errprocess.KindNotFound, fmt.Sprintf("job %s not found", jobID))
		}
		return nil, err
	}
	return jobFromInfo(info)
}

func (a *AsynqBackend) taskInfo(ctx context.Context, queue, jobID string) (*asynq.TaskInfo, error) {
	var info *asynq.TaskInfo
	err := inspect(ctx, func() error {
		var err error
		info, err = a.inspector.GetTaskInfo(queue, jobID)
		return err
	})
	return info, err
}

// Counts waiting = pending + scheduled + retry, failed = archived
func (a *AsynqBackend) Counts(ctx context.Context, queue string) (domain.Counts, error) {
	var qi *asynq.QueueInfo
	err := inspect(ctx, func() error {
		var err error
		qi, err = a.inspector.GetQueueInfo(queue)
		return err
	})
	if errors.Is(err, asynq.ErrQueueNotFound) {
		// queue 尚未有任何 task
		return domain.Counts{}, nil
	}
	if err != nil {
		return domain.Counts{}, err
	}
	return domain.Counts{
		Waiting:   qi.Pending + qi.Scheduled + qi.Retry,
		Active:    qi.Active,
		Completed: qi.Completed,
		Failed:    qi.Archived,
	}, nil
}

// Consume runs one asynq server for the queue until ctx is done
func (a *AsynqBackend) Consume(ctx context.Context, queue string, h Handler) error {
	spec, err := a.spec(queue)
	if err != nil {
		return err
	}
	log := logger.Log.With(zap.String("queue", queue))
	policy := spec.Policy

	srv := asynq.NewServer(a.redisOpt, asynq.Config{
		Concurrency: spec.Concurrency,
		Queues:      map[string]int{queue: 1},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			// n = 已重試次數，第一次失敗時為 0
			return policy.Delay(n + 1)
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			id, _ := asynq.GetTaskID(ctx)
			log.Warn("task attempt failed", zap.String("job_id", id), zap.Error(err))
		}),
		Logger: logger.Log.Sugar(),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(taskTypePrefix+string(spec.Stage), func(ctx context.Context, t *asynq.Task) error {
		return a.handle(ctx, queue, t, h)
	})
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server for %s: %w", queue, err)
	}
	a.mu.Lock()
	a.servers = append(a.servers, srv)
	a.mu.Unlock()

	<-ctx.Done()
	srv.Shutdown()
	return nil
}

func (a *AsynqBackend) handle(ctx context.Context, queue string, t *asynq.Task, h Handler) error {
	id, _ := asynq.GetTaskID(ctx)
	var env envelope
	if err := json.Unmarshal(t.Payload(), &env); err != nil {
		// 壞掉的 payload 不會成功，直接當成最後一次失敗
		stage := domain.Stage(strings.TrimPrefix(t.Type(), taskTypePrefix))
		job := &domain.Job{
			ID:        id,
			Queue:     queue,
			Stage:     stage,
			State:     domain.JobFailed,
			Attempts:  1,
			Error:     fmt.Sprintf("decode task payload: %v", err),
			UpdatedAt: time.Now(),
		}
		if _, videoID, ok := domain.ParseJobID(id); ok {
			job.Payload.VideoID = videoID
		}
		h.Failed(context.WithoutCancel(ctx), job)
		return fmt.Errorf("decode task payload: %v: %w", err, asynq.SkipRetry)
	}
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)

	job := &domain.Job{
		ID:         id,
		Queue:      queue,
		Stage:      env.Stage,
		Payload:    env.Payload,
		State:      domain.JobActive,
		Attempts:   retried + 1,
		EnqueuedAt: env.EnqueuedAt,
		UpdatedAt:  time.Now(),
	}

	result, perr := h.Process(ctx, job)
	hookCtx := context.WithoutCancel(ctx)
	if perr == nil {
		if _, err := t.ResultWriter().Write([]byte(result)); err != nil {
			logger.Log.Error("write task result", zap.String("job_id", id), zap.Error(err))
		}
		job.State = domain.JobCompleted
		job.Result = result
		job.UpdatedAt = time.Now()
		h.Completed(hookCtx, job)
		return nil
	}

	if errors.Is(ctx.Err(), context.Canceled) {
		// server shutdown 中斷，asynq 會把 task 放回 queue
		logger.Log.Info("task interrupted by shutdown", zap.String("job_id", id))
		return perr
	}
	if retried >= maxRetry {
		job.State = domain.JobFailed
		job.Error = perr.Error()
		job.UpdatedAt = time.Now()
		h.Failed(hookCtx, job)
	}
	return perr
}

// Close shuts down servers, client and inspector
func (a *AsynqBackend) Close() error {
	a.mu.Lock()
	servers := a.servers
	a.servers = nil
	a.mu.Unlock()
	for _, srv := range servers {
		srv.Shutdown()
	}
	return errors.Join(a.client.Close(), a.inspector.Close())
}

// Ping checks redis through the inspector
func (a *AsynqBackend) Ping(ctx context.Context) error {
	return inspect(ctx, func() error {
		_, err := a.inspector.Queues()
		return err
	})
}

// inspect asynq inspector calls take no context, so bound them here
func inspect(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func terminalState(s asynq.TaskState) bool {
	return s == asynq.TaskStateCompleted || s == asynq.TaskStateArchived
}

func jobFromInfo(info *asynq.TaskInfo) (*domain.Job, error) {
	var env envelope
	if err := json.Unmarshal(info.Payload, &env); err != nil {
		return nil, fmt.Errorf("decode task %s payload: %w", info.ID, err)
	}
	job := &domain.Job{
		ID:         info.ID,
		Queue:      info.Queue,
		Stage:      env.Stage,
		Payload:    env.Payload,
		Attempts:   info.Retried,
		EnqueuedAt: env.EnqueuedAt,
	}
	switch info.State {
	case asynq.TaskStateActive:
		job.State = domain.JobActive
		job.Attempts++
	case asynq.TaskStateCompleted:
		job.State = domain.JobCompleted
		job.Attempts++
		job.Result = string(info.Result)
		job.UpdatedAt = info.CompletedAt
	case asynq.TaskStateArchived:
		job.State = domain.JobFailed
		job.Attempts++
		job.Error = info.LastErr
		job.UpdatedAt = info.LastFailedAt
	default:
		// pending / scheduled / retry / aggregating
		job.State = domain.JobWaiting
	}
	return job, nil
}
