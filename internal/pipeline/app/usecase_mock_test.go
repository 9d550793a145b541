package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/config"
	errprocess "video_pipeline_service/pkg/err"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockVideoRepo Mock VideoRepo
type MockVideoRepo struct {
	mock.Mock
}

func (m *MockVideoRepo) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockVideoRepo) Create(ctx context.Context, video *domain.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *MockVideoRepo) FindByID(ctx context.Context, id string) (*domain.Video, error) {
	args := m.Called(ctx, id)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Video), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockVideoRepo) UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, state domain.PipelineState, errMsg string) error {
	args := m.Called(ctx, id, status, state, errMsg)
	return args.Error(0)
}

func (m *MockVideoRepo) TransitionStatus(ctx context.Context, id string, from domain.PipelineState, status domain.VideoStatus, to domain.PipelineState, errMsg string) error {
	args := m.Called(ctx, id, from, status, to, errMsg)
	return args.Error(0)
}

func (m *MockVideoRepo) SetPlayback(ctx context.Context, id, storageKey, thumbnailKey string) error {
	args := m.Called(ctx, id, storageKey, thumbnailKey)
	return args.Error(0)
}

// MockSigner Mock URLSigner
type MockSigner struct {
	mock.Mock
}

func (m *MockSigner) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

// fakeVideoRepo 有狀態的 VideoRepo，給串接測試用
type fakeVideoRepo struct {
	mu     sync.Mutex
	videos map[string]domain.Video

	// beforeTransition 在條件式更新前執行，模擬同時間的其他寫入
	beforeTransition func()
}

func newFakeVideoRepo(videos ...domain.Video) *fakeVideoRepo {
	r := &fakeVideoRepo{videos: make(map[string]domain.Video)}
	for _, v := range videos {
		r.videos[v.ID] = v
	}
	return r
}

func (r *fakeVideoRepo) AutoMigrate() error { return nil }

func (r *fakeVideoRepo) Create(ctx context.Context, video *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.videos[video.ID] = *video
	return nil
}

func (r *fakeVideoRepo) FindByID(ctx context.Context, id string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	return &v, nil
}

func (r *fakeVideoRepo) UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, state domain.PipelineState, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	v.Status, v.PipelineState, v.Error = status, state, errMsg
	r.videos[id] = v
	return nil
}

func (r *fakeVideoRepo) TransitionStatus(ctx context.Context, id string, from domain.PipelineState, status domain.VideoStatus, to domain.PipelineState, errMsg string) error {
	if r.beforeTransition != nil {
		r.beforeTransition()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	if v.PipelineState != from {
		return fmt.Errorf("video %s is no longer %s: %w", id, from, repository.ErrStateChanged)
	}
	v.Status, v.PipelineState, v.Error = status, to, errMsg
	r.videos[id] = v
	return nil
}

func (r *fakeVideoRepo) SetPlayback(ctx context.Context, id, storageKey, thumbnailKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	v.StorageKey, v.ThumbnailKey = storageKey, thumbnailKey
	r.videos[id] = v
	return nil
}

func (r *fakeVideoRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.videos, id)
}

func (r *fakeVideoRepo) get(id string) domain.Video {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.videos[id]
}

// recordingPublisher 記錄所有事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) states() []domain.PipelineState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.PipelineState, len(p.events))
	for i, e := range p.events {
		out[i] = e.State
	}
	return out
}

// MockBackend Mock queue.Backend
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Declare(spec queue.Spec) error {
	args := m.Called(spec)
	return args.Error(0)
}

func (m *MockBackend) Enqueue(ctx context.Context, name string, job domain.Job) (*domain.Job, error) {
	args := m.Called(ctx, name, job)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Job(ctx context.Context, name, jobID string) (*domain.Job, error) {
	args := m.Called(ctx, name, jobID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Job), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBackend) Counts(ctx context.Context, name string) (domain.Counts, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.Counts), args.Error(1)
}

func (m *MockBackend) Consume(ctx context.Context, name string, h queue.Handler) error {
	args := m.Called(ctx, name, h)
	return args.Error(0)
}

func (m *MockBackend) Close() error {
	args := m.Called()
	return args.Error(0)
}

func zeroBackOff() backoff.BackOff { return &backoff.ZeroBackOff{} }

func testQueuesConfig(concurrency, maxAttempts int) config.QueuesConfig {
	qc := func(name string) config.QueueConfig {
		return config.QueueConfig{
			Name:        name,
			Concurrency: concurrency,
			MaxAttempts: maxAttempts,
			BackoffBase: time.Millisecond,
			BackoffMax:  5 * time.Millisecond,
		}
	}
	return config.QueuesConfig{
		Video:    qc("video-processing"),
		AI:       qc("ai-analysis"),
		Strategy: qc("strategy-generation"),
	}
}

// newMemoryQueues three queues on a fresh memory backend
func newMemoryQueues(t *testing.T, concurrency, maxAttempts int) (*queue.MemoryBackend, Queues) {
	t.Helper()
	backend := queue.NewMemoryBackend()
	qs, err := NewQueues(backend, testQueuesConfig(concurrency, maxAttempts), queue.WithEnqueueBackOff(zeroBackOff))
	require.NoError(t, err)
	return backend, qs
}

func uploadedVideo(id, owner string) domain.Video {
	return domain.Video{
		ID:            id,
		UserID:        owner,
		FileName:      id + ".mp4",
		StorageKey:    "uploads/" + id + ".mp4",
		Status:        domain.VideoUploading,
		PipelineState: domain.PipelineUploading,
	}
}

func submitReq(videoID, userID string) domain.SubmitReq {
	return domain.SubmitReq{
		VideoID:        videoID,
		UserID:         userID,
		SourceLocation: "uploads/" + videoID + ".mp4",
		FileName:       videoID + ".mp4",
	}
}
