package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// MemoryBackend in-process job store (job_store: local).
// All state transitions go through one mutex; Dequeue blocks on a per-queue notify channel.
type MemoryBackend struct {
	mu     sync.Mutex
	queues map[string]*memQueue
	seq    uint64
	now    func() time.Time
	closed bool
}

type memQueue struct {
	spec    Spec
	jobs    map[string]*memJob
	waiting []*memJob // 依進入順序排列
	active  int
	notify  chan struct{}
}

type memJob struct {
	job         domain.Job
	seq         uint64
	availableAt time.Time
}

// MemoryOption option of NewMemoryBackend
type MemoryOption func(*MemoryBackend)

// WithClock 測試時注入時間
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) {
		m.now = now
	}
}

// NewMemoryBackend creates an empty in-process store
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		queues: make(map[string]*memQueue),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Declare register a queue, declaring twice keeps the jobs and replaces the spec
func (m *MemoryBackend) Declare(spec Spec) error {
	if spec.Name == "" {
		return errprocess.New(errprocess.KindInvalidQueueName, "queue name is empty")
	}
	if spec.Concurrency < 1 {
		spec.Concurrency = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[spec.Name]; ok {
		q.spec = spec
		return nil
	}
	m.queues[spec.Name] = &memQueue{
		spec:   spec,
		jobs:   make(map[string]*memJob),
		notify: make(chan struct{}),
	}
	return nil
}

func (m *MemoryBackend) queue(name string) (*memQueue, error) {
	if m.closed {
		return nil, fmt.Errorf("memory backend closed")
	}
	q, ok := m.queues[name]
	if !ok {
		return nil, errprocess.New(errprocess.KindInvalidQueueName, fmt.Sprintf("queue %s not declared", name))
	}
	return q, nil
}

// broadcast wakes every blocked Dequeue of q, caller holds m.mu
func (q *memQueue) broadcast() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// prune drops terminal jobs past retention, caller holds m.mu
func (q *memQueue) prune(now time.Time) {
	if q.spec.Retention <= 0 {
		return
	}
	for id, j := range q.jobs {
		if j.job.State.Terminal() && now.Sub(j.job.UpdatedAt) > q.spec.Retention {
			delete(q.jobs, id)
		}
	}
}

// Enqueue adds job in waiting state. Same id still waiting/active -> ErrDuplicateJob,
// same id already terminal -> the old record is replaced.
func (m *MemoryBackend) Enqueue(ctx context.Context, queue string, job domain.Job) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return nil, err
	}
	now := m.now()
	q.prune(now)
	if old, ok := q.jobs[job.ID]; ok && !old.job.State.Terminal() {
		return nil, errprocess.New(errprocess.KindDuplicateJob, fmt.Sprintf("job %s already %s", job.ID, old.job.State))
	}

	m.seq++
	job.Queue = queue
	job.State = domain.JobWaiting
	job.Attempts = 0
	job.Result = ""
	job.Error = ""
	job.EnqueuedAt = now
	job.UpdatedAt = now
	mj := &memJob{job: job, seq: m.seq, availableAt: now}
	q.jobs[job.ID] = mj
	q.waiting = append(q.waiting, mj)
	q.broadcast()

	out := mj.job
	return &out, nil
}

// Job snapshot of one job
func (m *MemoryBackend) Job(ctx context.Context, queue, jobID string) (*domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return nil, err
	}
	mj, ok := q.jobs[jobID]
	if !ok {
		return nil, errprocess.New(errprocess.KindNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	out := mj.job
	return &out, nil
}

// Counts snapshot of the queue, a retry still in backoff counts as waiting
func (m *MemoryBackend) Counts(ctx context.Context, queue string) (domain.Counts, error) {
	if err := ctx.Err(); err != nil {
		return domain.Counts{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q, err := m.queue(queue)
	if err != nil {
		return domain.Counts{}, err
	}
	var c domain.Counts
	for _, j := range q.jobs {
		switch j.job.State {
		case domain.JobWaiting:
			c.Waiting++
		case domain.JobActive:
			c.Active++
		case domain.JobCompleted:
			c.Completed++
		case domain.JobFailed:
			c.Failed++
		}
	}
	return c, nil
}

// Dequeue claims the oldest available waiting job, blocking while the queue is empty
// or already running spec.Concurrency jobs.
func (m *MemoryBackend) Dequeue(ctx context.Context, queue string) (*domain.Job, error) {
	for {
		m.mu.Lock()
		q, err := m.queue(queue)
		if err != nil {
			m.mu.Unlock()
			return nil, err
		}
		now := m.now()
		var wakeAt time.Time
		if q.active < q.spec.Concurrency {
			for i, mj := range q.waiting {
				if mj.availableAt.After(now) {
					if wakeAt.IsZero() || mj.availableAt.Before(wakeAt) {
						wakeAt = mj.availableAt
					}
					continue
				}
				q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
				q.active++
				mj.job.State = domain.JobActive
				mj.job.Attempts++
				mj.job.UpdatedAt = now
				out := mj.job
				m.mu.Unlock()
				return &out, nil
			}
		}
		notify := q.notify
		m.mu.Unlock()

		var (
			t     *time.Timer
			timer <-chan time.Time
		)
		if !wakeAt.IsZero() {
			t = time.NewTimer(wakeAt.Sub(now))
			timer = t.C
		}
		select {
		case <-ctx.Done():
			stopTimer(t)
			return nil, ctx.Err()
		case <-notify:
		case <-timer:
		}
		stopTimer(t)
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// activeJob caller holds m.mu
func (m *MemoryBackend) activeJob(queue, jobID string) (*memQueue, *memJob, error) {
	q, err := m.queue(queue)
	if err != nil {
		return nil, nil, err
	}
	mj, ok := q.jobs[jobID]
	if !ok {
		return nil, nil, errprocess.New(errprocess.KindNotFound, fmt.Sprintf("job %s not found", jobID))
	}
	if mj.job.State != domain.JobActive {
		return nil, nil, fmt.Errorf("job %s is %s, not active", jobID, mj.job.State)
	}
	return q, mj, nil
}

// Ack active -> completed with result
func (m *MemoryBackend) Ack(queue, jobID, result string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, mj, err := m.activeJob(queue, jobID)
	if err != nil {
		return nil, err
	}
	q.active--
	mj.job.State = domain.JobCompleted
	mj.job.Result = result
	mj.job.UpdatedAt = m.now()
	q.broadcast()
	out := mj.job
	return &out, nil
}

// Fail records a failed attempt: back to waiting after the policy delay,
// or failed once MaxAttempts runs were made.
func (m *MemoryBackend) Fail(queue, jobID string, cause error) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, mj, err := m.activeJob(queue, jobID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	q.active--
	mj.job.UpdatedAt = now
	if cause != nil {
		mj.job.Error = cause.Error()
	}
	if q.spec.Policy.Exhausted(mj.job.Attempts) {
		mj.job.State = domain.JobFailed
	} else {
		m.seq++
		mj.seq = m.seq
		mj.job.State = domain.JobWaiting
		mj.availableAt = now.Add(q.spec.Policy.Delay(mj.job.Attempts))
		q.waiting = append(q.waiting, mj)
	}
	q.broadcast()
	out := mj.job
	return &out, nil
}

// Release puts an active job back at its place in the waiting line without counting the attempt.
// Used when the consumer stops while the job runs.
func (m *MemoryBackend) Release(queue, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, mj, err := m.activeJob(queue, jobID)
	if err != nil {
		return nil, err
	}
	now := m.now()
	q.active--
	mj.job.State = domain.JobWaiting
	if mj.job.Attempts > 0 {
		mj.job.Attempts--
	}
	mj.job.UpdatedAt = now
	mj.availableAt = now

	// 依 seq 插回原位，維持 FIFO
	i := 0
	for i < len(q.waiting) && q.waiting[i].seq < mj.seq {
		i++
	}
	q.waiting = append(q.waiting, nil)
	copy(q.waiting[i+1:], q.waiting[i:])
	q.waiting[i] = mj

	q.broadcast()
	out := mj.job
	return &out, nil
}

// Consume runs spec.Concurrency workers on the queue until ctx is done
func (m *MemoryBackend) Consume(ctx context.Context, queue string, h Handler) error {
	m.mu.Lock()
	q, err := m.queue(queue)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	log := logger.Log.With(zap.String("queue", queue))

	var wg sync.WaitGroup
	for i := 0; i < q.spec.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := m.Dequeue(ctx, queue)
				if err != nil {
					if ctx.Err() == nil {
						log.Error("dequeue failed", zap.Error(err))
					}
					return
				}
				m.run(ctx, log, job, h)
			}
		}()
	}
	wg.Wait()
	return nil
}

func (m *MemoryBackend) run(ctx context.Context, log *logger.LogInfo, job *domain.Job, h Handler) {
	result, perr := h.Process(ctx, job)
	// 完成狀態要寫回去，即使 ctx 已經取消
	hookCtx := context.WithoutCancel(ctx)
	if perr == nil {
		done, err := m.Ack(job.Queue, job.ID, result)
		if err != nil {
			log.Error("ack failed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		h.Completed(hookCtx, done)
		return
	}

	if ctx.Err() != nil {
		// consumer 停止造成的中斷不算 worker 失敗
		if _, err := m.Release(job.Queue, job.ID); err != nil {
			log.Error("release interrupted job failed", zap.String("job_id", job.ID), zap.Error(err))
			return
		}
		log.Info("job interrupted by shutdown, back to waiting", zap.String("job_id", job.ID))
		return
	}

	failed, err := m.Fail(job.Queue, job.ID, perr)
	if err != nil {
		log.Error("fail failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if failed.State == domain.JobFailed {
		h.Failed(hookCtx, failed)
		return
	}
	log.Warn("job attempt failed, will retry",
		zap.String("job_id", job.ID), zap.Int("attempt", failed.Attempts), zap.Error(perr))
}

// Close wakes blocked consumers; later calls fail
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, q := range m.queues {
		q.broadcast()
	}
	return nil
}
