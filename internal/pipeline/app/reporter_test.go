package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// stubCounter 固定回傳 counts 或錯誤，block=true 時永遠不回應
type stubCounter struct {
	name   string
	counts domain.Counts
	err    error
	block  bool
}

func (s stubCounter) Name() string { return s.name }

func (s stubCounter) Counts(ctx context.Context) (domain.Counts, error) {
	if s.block {
		// 忽略 ctx，模擬卡住的連線
		select {}
	}
	return s.counts, s.err
}

func TestReporter_Health(t *testing.T) {
	ctx := context.Background()
	logger.SetNewNop()

	// **情境 1: 全部正常**
	t.Run("全部 up", func(t *testing.T) {
		r := NewReporter([]Counter{
			stubCounter{name: "video-processing", counts: domain.Counts{Waiting: 2, Active: 1, Failed: 3}},
			stubCounter{name: "ai-analysis"},
			stubCounter{name: "strategy-generation"},
		}, 10, time.Second)

		report := r.Health(ctx)

		assert.True(t, report.Healthy)
		require.Len(t, report.Queues, 3)
		q := report.Queues[0]
		assert.Equal(t, "video-processing", q.Name)
		assert.Equal(t, domain.QueueUp, q.Status)
		assert.Equal(t, 2, q.Waiting)
		assert.Equal(t, 1, q.Active)
		require.NotNil(t, q.Failed)
		assert.Equal(t, 3, *q.Failed)
	})

	// **情境 2: failed 超過門檻**
	t.Run("超過門檻為 degraded", func(t *testing.T) {
		r := NewReporter([]Counter{
			stubCounter{name: "video-processing", counts: domain.Counts{Failed: 10}},
			stubCounter{name: "ai-analysis", counts: domain.Counts{Failed: 11}},
		}, 0, time.Second)

		report := r.Health(ctx)

		assert.False(t, report.Healthy)
		assert.True(t, report.Queues[0].Healthy, "exactly the threshold is still healthy")
		assert.Equal(t, domain.QueueDegraded, report.Queues[1].Status)
		assert.Equal(t, 11, *report.Queues[1].Failed)
	})

	// **情境 3: 一個 queue 卡住不影響其他 queue**
	t.Run("卡住的 queue 只影響自己", func(t *testing.T) {
		r := NewReporter([]Counter{
			stubCounter{name: "video-processing", counts: domain.Counts{Waiting: 1}},
			stubCounter{name: "ai-analysis", block: true},
			stubCounter{name: "strategy-generation", err: errors.New("connection refused")},
		}, 10, 50*time.Millisecond)

		start := time.Now()
		report := r.Health(ctx)

		assert.Less(t, time.Since(start), time.Second)
		assert.False(t, report.Healthy)
		assert.Equal(t, domain.QueueUp, report.Queues[0].Status)
		assert.Equal(t, 1, report.Queues[0].Waiting)
		for _, q := range report.Queues[1:] {
			assert.Equal(t, domain.QueueDown, q.Status, q.Name)
			assert.False(t, q.Healthy)
			assert.Nil(t, q.Failed)
		}
	})

	// **情境 4: 同步到 grpc health server**
	t.Run("grpc health status", func(t *testing.T) {
		hs := health.NewServer()
		r := NewReporter([]Counter{
			stubCounter{name: "video-processing"},
			stubCounter{name: "ai-analysis", err: errors.New("down")},
		}, 10, time.Second, WithHealthServer(hs))

		r.Health(ctx)

		check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
			res, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			require.NoError(t, err)
			return res.Status
		}
		assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("video-processing"))
		assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("ai-analysis"))
		assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(""))
	})
}

func TestReporter_Stats(t *testing.T) {
	ctx := context.Background()
	logger.SetNewNop()

	r := NewReporter([]Counter{
		stubCounter{name: "video-processing", counts: domain.Counts{Waiting: 1, Active: 2, Completed: 30, Failed: 4}},
		stubCounter{name: "ai-analysis", err: fmt.Errorf("dial tcp: i/o timeout")},
	}, 10, time.Second)

	report := r.Stats(ctx)

	require.Len(t, report.Queues, 2)
	assert.Equal(t, domain.QueueStats{Name: "video-processing", Waiting: 1, Active: 2, Completed: 30, Failed: 4}, report.Queues[0])
	assert.Equal(t, "ai-analysis", report.Queues[1].Name)
	assert.Equal(t, "job store unavailable", report.Queues[1].Error)
	assert.Zero(t, report.Queues[1].Completed)
}

func TestReporter_WithMemoryQueues(t *testing.T) {
	ctx := context.Background()
	logger.SetNewNop()

	backend, qs := newMemoryQueues(t, 1, 1)
	for i := 0; i < 3; i++ {
		_, err := qs.Video.Enqueue(ctx, fmt.Sprintf("v%d", i), domain.JobPayload{VideoID: fmt.Sprintf("v%d", i)})
		require.NoError(t, err)
	}
	job, err := backend.Dequeue(ctx, qs.Video.Name())
	require.NoError(t, err)
	_, err = backend.Fail(qs.Video.Name(), job.ID, errors.New("boom"))
	require.NoError(t, err)

	report := NewReporter(Counters(qs.All()), 0, time.Second).Health(ctx)

	assert.True(t, report.Healthy)
	assert.Equal(t, "video-processing", report.Queues[0].Name)
	assert.Equal(t, 2, report.Queues[0].Waiting)
	assert.Equal(t, 1, *report.Queues[0].Failed)
	assert.Equal(t, "strategy-generation", report.Queues[2].Name)
}
