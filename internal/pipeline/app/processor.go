package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 這些變數會在測試時被覆蓋
var (
	createDir = os.MkdirAll
	removeDir = os.RemoveAll
	readDir   = os.ReadDir
)

// VideoProcessor video stage: download source, HLS transcode, thumbnail, upload to processed/<videoId>/
type VideoProcessor struct {
	storage database.ObjectStorage
	tempDir string
}

// NewVideoProcessor create VideoProcessor
func NewVideoProcessor(storage database.ObjectStorage, tempDir string) *VideoProcessor {
	return &VideoProcessor{storage: storage, tempDir: tempDir}
}

// Process returns a json domain.VideoResult
func (p *VideoProcessor) Process(ctx context.Context, job *domain.Job) (string, error) {
	videoID := job.Payload.VideoID
	log := logger.Log.With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts))

	workDir := filepath.Join(p.tempDir, fmt.Sprintf("%s-%s", videoID, uuid.NewString()))
	outDir := filepath.Join(workDir, "hls")
	if err := createDir(outDir, 0755); err != nil {
		return "", fmt.Errorf("建立轉碼輸出目錄失敗: %w", err)
	}
	defer func() {
		if err := removeDir(workDir); err != nil {
			log.Warn("清理本地暫存檔失敗", zap.Error(err))
		}
	}()

	input := filepath.Join(workDir, "original"+filepath.Ext(job.Payload.FileName))
	log.Info("下載原始影片", zap.String("object", job.Payload.SourceLocation))
	if err := p.storage.DownloadFile(ctx, job.Payload.SourceLocation, input); err != nil {
		return "", fmt.Errorf("下載原始影片失敗: %w", err)
	}

	if err := transcodeFunc(ctx, input, outDir); err != nil {
		return "", fmt.Errorf("HLS 轉碼失敗: %w", err)
	}

	prefix := path.Join("processed", videoID)
	files, err := readDir(outDir)
	if err != nil {
		return "", fmt.Errorf("讀取轉碼輸出目錄失敗: %w", err)
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		object := path.Join(prefix, f.Name())
		if err := p.storage.UploadFile(ctx, object, filepath.Join(outDir, f.Name()), contentType(f.Name())); err != nil {
			return "", fmt.Errorf("上傳轉碼結果失敗: %w", err)
		}
	}
	res := domain.VideoResult{Manifest: path.Join(prefix, "index.m3u8")}

	// 縮圖失敗不影響播放
	thumb := filepath.Join(workDir, "thumbnail.jpg")
	if err := thumbnailFunc(ctx, input, thumb); err != nil {
		log.Warn("產生縮圖失敗", zap.Error(err))
	} else if err := p.storage.UploadFile(ctx, path.Join(prefix, "thumbnail.jpg"), thumb, "image/jpeg"); err != nil {
		log.Warn("上傳縮圖失敗", zap.Error(err))
	} else {
		res.Thumbnail = path.Join(prefix, "thumbnail.jpg")
	}

	out, err := json.Marshal(res)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func contentType(filename string) string {
	switch filepath.Ext(filename) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/MP2T"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// RemoteProcessor ai / strategy stage delegated to an http worker.
// The worker receives the job as json and answers 2xx with the result body.
type RemoteProcessor struct {
	endpoint string
	timeout  time.Duration
}

// NewRemoteProcessor create RemoteProcessor
func NewRemoteProcessor(endpoint string, timeout time.Duration) *RemoteProcessor {
	return &RemoteProcessor{endpoint: endpoint, timeout: timeout}
}

type remoteReq struct {
	JobID   string            `json:"jobId"`
	Stage   domain.Stage      `json:"stage"`
	Attempt int               `json:"attempt"`
	Payload domain.JobPayload `json:"payload"`
}

// Process posts the job and returns the response body
func (p *RemoteProcessor) Process(ctx context.Context, job *domain.Job) (string, error) {
	type result struct {
		code int
		body []byte
		errs []error
	}
	done := make(chan result, 1)
	go func() {
		a := fiber.Post(p.endpoint)
		a.Timeout(p.timeout)
		a.JSON(remoteReq{JobID: job.ID, Stage: job.Stage, Attempt: job.Attempts, Payload: job.Payload})
		code, body, errs := a.Bytes()
		done <- result{code, body, errs}
	}()

	var res result
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res = <-done:
	}
	if len(res.errs) > 0 {
		return "", fmt.Errorf("call %s worker: %v", job.Stage, res.errs[0])
	}
	if res.code < 200 || res.code >= 300 {
		return "", fmt.Errorf("%s worker responded %d: %s", job.Stage, res.code, tail(res.body, 256))
	}
	return string(res.body), nil
}

// EchoProcessor used when a stage has no worker endpoint configured
type EchoProcessor struct{}

// Process returns the job id as result
func (EchoProcessor) Process(ctx context.Context, job *domain.Job) (string, error) {
	return fmt.Sprintf(`{"job":%q,"skipped":true}`, job.ID), nil
}
