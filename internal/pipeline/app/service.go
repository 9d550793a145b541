package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// Service owns the queue consumers: Start spawns them, Shutdown drains them
type Service struct {
	backend    queue.Backend
	queues     Queues
	listener   queue.Listener
	processors map[domain.Stage]queue.Processor
	reporter   *Reporter
	interval   time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewService reporter may be nil
func NewService(backend queue.Backend, queues Queues, listener queue.Listener, processors map[domain.Stage]queue.Processor, reporter *Reporter, interval time.Duration) *Service {
	return &Service{
		backend:    backend,
		queues:     queues,
		listener:   listener,
		processors: processors,
		reporter:   reporter,
		interval:   interval,
	}
}

// Start one consumer per queue plus the periodic health refresh
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}
	for _, q := range s.queues.All() {
		if s.processors[q.Stage()] == nil {
			return fmt.Errorf("no processor for stage %s", q.Stage())
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	for _, q := range s.queues.All() {
		q, p := q, s.processors[q.Stage()]
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := q.Run(runCtx, p, s.listener); err != nil {
				logger.Log.Error("queue consumer exited", zap.String("queue", q.Name()), zap.Error(err))
			}
		}()
	}
	if s.reporter != nil && s.interval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reporter.Run(runCtx, s.interval)
		}()
	}
	return nil
}

// Shutdown stops consumers and waits for running jobs until ctx is done, then closes the backend
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Log.Info("queue consumers drained")
	case <-ctx.Done():
		logger.Log.Warn("shutdown timeout, consumers still running")
	}
	return s.backend.Close()
}
