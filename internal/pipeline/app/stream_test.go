package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStreamGateway_Stream(t *testing.T) {
	ctx := context.Background()
	logger.SetNewNop()
	hour := time.Hour

	readyVideo := func() *domain.Video {
		v := uploadedVideo("v1", "u1")
		v.Status = domain.VideoReady
		v.PipelineState = domain.PipelineReady
		v.StorageKey = "processed/v1/index.m3u8"
		v.ThumbnailKey = "processed/v1/thumbnail.jpg"
		return &v
	}

	// **情境 1: 成功取得播放網址**
	t.Run("成功", func(t *testing.T) {
		repo, signer := new(MockVideoRepo), new(MockSigner)
		repo.On("FindByID", ctx, "v1").Return(readyVideo(), nil).Once()
		signer.On("PresignGetURL", ctx, "processed/v1/index.m3u8", hour).Return("https://minio/v1?sig=a", nil).Once()
		signer.On("PresignGetURL", ctx, "processed/v1/thumbnail.jpg", hour).Return("https://minio/thumb?sig=b", nil).Once()

		res, err := NewStreamGateway(repo, signer, 0).Stream(ctx, "u1", "v1")

		require.NoError(t, err)
		assert.Equal(t, &domain.StreamRes{VideoURL: "https://minio/v1?sig=a", ThumbnailURL: "https://minio/thumb?sig=b", ExpiresIn: 3600}, res)
		signer.AssertExpectations(t)
	})

	// **情境 2: 沒有縮圖**
	t.Run("沒有縮圖只簽影片", func(t *testing.T) {
		v := readyVideo()
		v.ThumbnailKey = ""
		v.Status = domain.VideoPublished
		repo, signer := new(MockVideoRepo), new(MockSigner)
		repo.On("FindByID", ctx, "v1").Return(v, nil).Once()
		signer.On("PresignGetURL", ctx, "processed/v1/index.m3u8", 10*time.Minute).Return("https://minio/v1", nil).Once()

		res, err := NewStreamGateway(repo, signer, 600).Stream(ctx, "u1", "v1")

		require.NoError(t, err)
		assert.Empty(t, res.ThumbnailURL)
		assert.Equal(t, 600, res.ExpiresIn)
		signer.AssertNumberOfCalls(t, "PresignGetURL", 1)
	})

	// **情境 3: 未登入**
	t.Run("未登入", func(t *testing.T) {
		repo, signer := new(MockVideoRepo), new(MockSigner)
		_, err := NewStreamGateway(repo, signer, 0).Stream(ctx, "", "v1")
		assert.ErrorIs(t, err, errprocess.ErrUnauthorized)
		repo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})

	// **情境 4: 別人的影片**
	t.Run("非擁有者", func(t *testing.T) {
		repo, signer := new(MockVideoRepo), new(MockSigner)
		repo.On("FindByID", ctx, "v1").Return(readyVideo(), nil).Once()
		_, err := NewStreamGateway(repo, signer, 0).Stream(ctx, "u2", "v1")
		assert.ErrorIs(t, err, errprocess.ErrForbidden)
		signer.AssertNotCalled(t, "PresignGetURL", mock.Anything, mock.Anything, mock.Anything)
	})

	// **情境 5: 還在處理中**
	t.Run("尚未 ready", func(t *testing.T) {
		v := readyVideo()
		v.Status = domain.VideoProcessing
		repo, signer := new(MockVideoRepo), new(MockSigner)
		repo.On("FindByID", ctx, "v1").Return(v, nil).Once()
		_, err := NewStreamGateway(repo, signer, 0).Stream(ctx, "u1", "v1")
		assert.ErrorIs(t, err, errprocess.ErrNotReady)
	})

	// **情境 6: 影片不存在**
	t.Run("不存在", func(t *testing.T) {
		repo, signer := new(MockVideoRepo), new(MockSigner)
		repo.On("FindByID", ctx, "nope").Return(nil, errprocess.New(errprocess.KindNotFound, "video nope not found")).Once()
		_, err := NewStreamGateway(repo, signer, 0).Stream(ctx, "u1", "nope")
		assert.ErrorIs(t, err, errprocess.ErrNotFound)
	})

	// **情境 7: storage 掛掉**
	t.Run("storage 不可用", func(t *testing.T) {
		repo, signer := new(MockVideoRepo), new(MockSigner)
		repo.On("FindByID", ctx, "v1").Return(readyVideo(), nil).Once()
		signer.On("PresignGetURL", ctx, "processed/v1/index.m3u8", hour).Return("", errors.New("connection refused")).Once()
		_, err := NewStreamGateway(repo, signer, 0).Stream(ctx, "u1", "v1")
		assert.ErrorIs(t, err, errprocess.ErrStorageUnavailable)
	})
}

func TestStreamGateway_Issue(t *testing.T) {
	ctx := context.Background()
	logger.SetNewNop()

	signer := new(MockSigner)
	signer.On("PresignGetURL", ctx, "processed/v1/index.m3u8", 2*time.Minute).Return("https://minio/v1", nil).Once()
	g := NewStreamGateway(new(MockVideoRepo), signer, 0)
	issuedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return issuedAt }

	signed, err := g.Issue(ctx, "processed/v1/index.m3u8", 120)

	require.NoError(t, err)
	assert.Equal(t, "https://minio/v1", signed.URL)
	assert.Equal(t, 120, signed.ExpiresIn)
	assert.Equal(t, issuedAt.Add(2*time.Minute), signed.ExpiresAt())
}
