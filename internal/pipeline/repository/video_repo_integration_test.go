//go:build integration

package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"testing"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"
	testtool "video_pipeline_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var repo VideoRepo

func TestMain(m *testing.M) {
	logger.SetNewNop()
	ctx := context.Background()

	// **啟動 PostgreSQL**
	postgresContainer, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image: "postgres:16-alpine",
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	})
	if err != nil {
		log.Fatalf("❌ Failed to start PostgreSQL container: %v", err)
	}
	p, _ := strconv.Atoi(port)
	fmt.Printf("✅ PostgreSQL running at %s:%d\n", host, p)

	db, err := database.NewPGConnection(database.Connection{
		ConnectStr:    database.PGConnectString(host, p, "test", "test", "testdb"),
		RetryCount:    5,
		RetryInterval: 1,
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to PostgreSQL: %v", err)
	}

	repo = NewVideoRepo(db)
	if err := repo.AutoMigrate(); err != nil {
		log.Fatalf("資料表遷移失敗: %v", err)
	}

	code := m.Run()

	_ = postgresContainer.Terminate(ctx)
	os.Exit(code)
}

func TestVideoRepo(t *testing.T) {
	ctx := context.Background()

	video := &domain.Video{
		ID:            "it-v1",
		UserID:        "u1",
		Title:         "cooking",
		FileName:      "cooking.mp4",
		StorageKey:    "uploads/it-v1.mp4",
		Status:        domain.VideoUploading,
		PipelineState: domain.PipelineUploading,
	}
	require.NoError(t, repo.Create(ctx, video))

	// **情境 1: 讀取**
	t.Run("FindByID", func(t *testing.T) {
		got, err := repo.FindByID(ctx, "it-v1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.UserID)
		assert.Equal(t, domain.PipelineUploading, got.PipelineState)
	})

	// **情境 2: 更新狀態**
	t.Run("UpdateStatus", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, "it-v1", domain.VideoFailed, domain.PipelineFailed, "model timeout"))
		got, err := repo.FindByID(ctx, "it-v1")
		require.NoError(t, err)
		assert.Equal(t, domain.VideoFailed, got.Status)
		assert.Equal(t, "model timeout", got.Error)

		// 清掉錯誤訊息
		require.NoError(t, repo.UpdateStatus(ctx, "it-v1", domain.VideoProcessing, domain.PipelineProcessing, ""))
		got, err = repo.FindByID(ctx, "it-v1")
		require.NoError(t, err)
		assert.Empty(t, got.Error)
	})

	// **情境 3: 播放檔**
	t.Run("SetPlayback", func(t *testing.T) {
		require.NoError(t, repo.SetPlayback(ctx, "it-v1", "processed/it-v1/index.m3u8", "processed/it-v1/thumbnail.jpg"))
		got, err := repo.FindByID(ctx, "it-v1")
		require.NoError(t, err)
		assert.Equal(t, "processed/it-v1/index.m3u8", got.StorageKey)
		assert.Equal(t, "processed/it-v1/thumbnail.jpg", got.ThumbnailKey)
	})

	// **情境 4: 條件式更新，狀態不符時不寫入**
	t.Run("TransitionStatus", func(t *testing.T) {
		require.NoError(t, repo.UpdateStatus(ctx, "it-v1", domain.VideoProcessing, domain.PipelineAnalyzing, ""))

		err := repo.TransitionStatus(ctx, "it-v1", domain.PipelineProcessing, domain.VideoProcessing, domain.PipelineAnalyzing, "")
		assert.ErrorIs(t, err, ErrStateChanged)

		require.NoError(t, repo.TransitionStatus(ctx, "it-v1", domain.PipelineAnalyzing, domain.VideoProcessing, domain.PipelineStrategyPending, ""))
		got, err := repo.FindByID(ctx, "it-v1")
		require.NoError(t, err)
		assert.Equal(t, domain.PipelineStrategyPending, got.PipelineState)

		assert.ErrorIs(t, repo.TransitionStatus(ctx, "nope", domain.PipelineAnalyzing, domain.VideoFailed, domain.PipelineFailed, "x"), errprocess.ErrNotFound)
	})

	// **情境 5: 不存在的影片**
	t.Run("not found", func(t *testing.T) {
		_, err := repo.FindByID(ctx, "nope")
		assert.ErrorIs(t, err, errprocess.ErrNotFound)
		assert.ErrorIs(t, repo.UpdateStatus(ctx, "nope", domain.VideoReady, domain.PipelineReady, ""), errprocess.ErrNotFound)
		assert.ErrorIs(t, repo.SetPlayback(ctx, "nope", "x", ""), errprocess.ErrNotFound)
	})
}
