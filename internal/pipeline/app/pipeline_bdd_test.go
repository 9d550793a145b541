package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	"video_pipeline_service/pkg/config"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/cucumber/godog"
)

func TestFeatures(t *testing.T) {
	logger.SetNewNop()
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Paths:    []string{"./features"}, // 指向 feature 檔相對路徑
			Format:   "pretty",
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}

// pipelineWorld 每個 scenario 一份
type pipelineWorld struct {
	backend *queue.MemoryBackend
	queues  Queues
	repo    *fakeVideoRepo
	orch    *Orchestrator
	svc     *Service
	paused  bool
	started bool
	lastErr error

	mu      sync.Mutex
	failing map[domain.Stage]bool
	order   map[domain.Stage][]string
	active  map[domain.Stage]int
	peak    map[domain.Stage]int
}

func (w *pipelineWorld) Process(ctx context.Context, job *domain.Job) (string, error) {
	w.mu.Lock()
	w.order[job.Stage] = append(w.order[job.Stage], job.ID)
	w.active[job.Stage]++
	if w.active[job.Stage] > w.peak[job.Stage] {
		w.peak[job.Stage] = w.active[job.Stage]
	}
	fail := w.failing[job.Stage]
	w.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	w.mu.Lock()
	w.active[job.Stage]--
	w.mu.Unlock()
	if fail {
		return "", errors.New("worker crashed")
	}
	return fmt.Sprintf(`{"job":%q}`, job.ID), nil
}

func (w *pipelineWorld) aPipeline(concurrency, attempts int) error {
	w.backend = queue.NewMemoryBackend()
	cfg := config.QueuesConfig{}
	for _, qc := range []*config.QueueConfig{&cfg.Video, &cfg.AI, &cfg.Strategy} {
		qc.Concurrency = concurrency
		qc.MaxAttempts = attempts
		qc.BackoffBase = time.Millisecond
		qc.BackoffMax = 5 * time.Millisecond
	}
	cfg.Video.Name, cfg.AI.Name, cfg.Strategy.Name = "video-processing", "ai-analysis", "strategy-generation"

	qs, err := NewQueues(w.backend, cfg, queue.WithEnqueueBackOff(zeroBackOff))
	if err != nil {
		return err
	}
	w.queues = qs
	w.repo = newFakeVideoRepo()
	w.orch = NewOrchestrator(w.repo, qs, nil)
	w.svc = NewService(w.backend, qs, w.orch, map[domain.Stage]queue.Processor{
		domain.StageVideo:    w,
		domain.StageAI:       w,
		domain.StageStrategy: w,
	}, nil, 0)
	return nil
}

func (w *pipelineWorld) videoUploadedBy(videoID, owner string) error {
	return w.repo.Create(context.Background(), &domain.Video{
		ID:            videoID,
		UserID:        owner,
		FileName:      videoID + ".mp4",
		StorageKey:    "uploads/" + videoID + ".mp4",
		Status:        domain.VideoUploading,
		PipelineState: domain.PipelineUploading,
	})
}

func (w *pipelineWorld) stageAlwaysFails(stage string) error {
	s, ok := domain.ParseStage(stage)
	if !ok {
		return fmt.Errorf("unknown stage %s", stage)
	}
	w.mu.Lock()
	w.failing[s] = true
	w.mu.Unlock()
	return nil
}

func (w *pipelineWorld) workersPaused() error {
	w.paused = true
	return nil
}

func (w *pipelineWorld) submits(userID, videoID string) error {
	if !w.paused && !w.started {
		if err := w.svc.Start(context.Background()); err != nil {
			return err
		}
		w.started = true
	}
	_, w.lastErr = w.orch.StartPipeline(context.Background(), domain.SubmitReq{
		VideoID:        videoID,
		UserID:         userID,
		SourceLocation: "uploads/" + videoID + ".mp4",
		FileName:       videoID + ".mp4",
	})
	return nil
}

func (w *pipelineWorld) videoShouldBecome(videoID, status string) error {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		v, err := w.repo.FindByID(context.Background(), videoID)
		if err != nil {
			return err
		}
		if string(v.Status) == status {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("video %s is %s, expected %s", videoID, w.repo.get(videoID).Status, status)
}

func (w *pipelineWorld) jobShouldBe(jobID, queueName, state string) error {
	st, err := NewStatusResolver(w.queues).Status(context.Background(), queueName, jobID)
	if err != nil && !errors.Is(err, errprocess.ErrNotFound) {
		return err
	}
	if string(st.State) != state {
		return fmt.Errorf("job %s is %s, expected %s", jobID, st.State, state)
	}
	return nil
}

func (w *pipelineWorld) ranBefore(stage, first, second string) error {
	s, _ := domain.ParseStage(stage)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := map[string]int{}
	for i, id := range w.order[s] {
		if _, ok := idx[id]; !ok {
			idx[id] = i
		}
	}
	a, okA := idx[first]
	b, okB := idx[second]
	if !okA || !okB {
		return fmt.Errorf("%s stage ran %v", stage, w.order[s])
	}
	if a > b {
		return fmt.Errorf("%s ran after %s: %v", first, second, w.order[s])
	}
	return nil
}

func (w *pipelineWorld) noQueueAbove(limit int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for stage, peak := range w.peak {
		if peak > limit {
			return fmt.Errorf("%s stage ran %d jobs at once", stage, peak)
		}
	}
	return nil
}

func (w *pipelineWorld) lastSubmissionFailsWith(kind string) error {
	if w.lastErr == nil {
		return fmt.Errorf("expected %s, submission succeeded", kind)
	}
	if got := errprocess.KindOf(w.lastErr); string(got) != kind {
		return fmt.Errorf("expected %s, got %s (%v)", kind, got, w.lastErr)
	}
	return nil
}

// InitializeScenario 註冊 Gherkin 與 Step Definition 的對應
func InitializeScenario(s *godog.ScenarioContext) {
	w := &pipelineWorld{
		failing: map[domain.Stage]bool{},
		order:   map[domain.Stage][]string{},
		active:  map[domain.Stage]int{},
		peak:    map[domain.Stage]int{},
	}

	s.Step(`^a pipeline with concurrency (\d+) and (\d+) attempts$`, w.aPipeline)
	s.Step(`^video "([^"]*)" uploaded by "([^"]*)"$`, w.videoUploadedBy)
	s.Step(`^the "([^"]*)" stage always fails$`, w.stageAlwaysFails)
	s.Step(`^the workers are paused$`, w.workersPaused)
	s.Step(`^"([^"]*)" submits video "([^"]*)"$`, w.submits)
	s.Step(`^video "([^"]*)" should become "([^"]*)"$`, w.videoShouldBecome)
	s.Step(`^job "([^"]*)" in queue "([^"]*)" should be "([^"]*)"$`, w.jobShouldBe)
	s.Step(`^the "([^"]*)" stage should have run "([^"]*)" before "([^"]*)"$`, w.ranBefore)
	s.Step(`^no queue should have run more than (\d+) jobs? at a time$`, w.noQueueAbove)
	s.Step(`^the last submission should fail with "([^"]*)"$`, w.lastSubmissionFailsWith)

	s.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if w.svc != nil {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = w.svc.Shutdown(sctx)
		}
		return ctx, nil
	})
}
