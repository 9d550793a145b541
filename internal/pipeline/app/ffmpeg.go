package app

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// 這些變數會在測試時被覆蓋
var (
	transcodeFunc = TranscodeToHLS
	thumbnailFunc = ExtractThumbnail
)

// TranscodeToHLS 將 inputPath 轉成 HLS 格式，輸出到 outputDir（會產生 index.m3u8 與 TS 分段）
func TranscodeToHLS(ctx context.Context, inputPath, outputDir string) error {
	cmdArgs := []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-f", "hls",
		"-hls_time", "4",
		"-hls_list_size", "0",
		filepath.Join(outputDir, "index.m3u8"),
	}
	return runFFmpeg(ctx, cmdArgs)
}

// ExtractThumbnail 取第一秒的畫面存成 jpg
func ExtractThumbnail(ctx context.Context, inputPath, outputPath string) error {
	cmdArgs := []string{
		"-y",
		"-ss", "1",
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "3",
		outputPath,
	}
	return runFFmpeg(ctx, cmdArgs)
}

func runFFmpeg(ctx context.Context, args []string) error {
	logger.Log.Debug("exec ffmpeg", zap.Strings("args", args))
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg 錯誤: %v, output: %s", err, tail(output, 512))
	}
	return nil
}

// tail ffmpeg 的錯誤訊息在輸出最後面
func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}
