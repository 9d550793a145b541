package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"video_pipeline_service/internal/pipeline/app"
	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// 長時間播放用：取得 signed url 後在過期前自動換新，可選擇同時訂閱 pipeline 事件
func main() {
	var (
		apiURL    = flag.String("api", "http://localhost:8080", "pipeline service base url")
		videoID   = flag.String("video", "", "video id")
		token     = flag.String("token", "", "jwt")
		redisAddr = flag.String("redis", "", "redis addr, subscribe pipeline events when set")
		channel   = flag.String("channel", "pipeline.events", "pipeline event channel")
		margin    = flag.Int("margin", 300, "seconds before expiry to refresh the url")
		logDir    = flag.String("log", "./log", "log directory")
	)
	flag.Parse()

	logger.Log = logger.Initialize("stream_client", *logDir)
	defer logger.Log.Sync()
	if *videoID == "" {
		logger.Log.Fatal("-video is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *redisAddr != "" {
		watchEvents(ctx, *redisAddr, *channel, *videoID)
	}

	fetch := func(ctx context.Context) (domain.SignedURL, error) {
		return fetchSignedURL(ctx, *apiURL, *videoID, *token)
	}
	current, err := fetch(ctx)
	if err != nil {
		logger.Log.Fatal("get stream url failed", zap.Error(err))
	}
	logger.Log.Info("playback url", zap.String("url", current.URL), zap.Time("expires_at", current.ExpiresAt()))

	refresher := app.NewURLRefresher(fetch, func(u domain.SignedURL) {
		logger.Log.Info("playback url refreshed", zap.String("url", u.URL), zap.Time("expires_at", u.ExpiresAt()))
	}, app.WithMargin(time.Duration(*margin)*time.Second))
	refresher.Start(ctx, current)
	defer refresher.Stop()

	<-ctx.Done()
}

func fetchSignedURL(ctx context.Context, apiURL, videoID, token string) (domain.SignedURL, error) {
	type result struct {
		code int
		body []byte
		errs []error
	}
	done := make(chan result, 1)
	issuedAt := time.Now()
	go func() {
		a := fiber.Get(fmt.Sprintf("%s/stream/%s", apiURL, videoID))
		a.Set(fiber.HeaderAuthorization, "Bearer "+token)
		a.Timeout(10 * time.Second)
		code, body, errs := a.Bytes()
		done <- result{code, body, errs}
	}()

	var res result
	select {
	case <-ctx.Done():
		return domain.SignedURL{}, ctx.Err()
	case res = <-done:
	}
	if len(res.errs) > 0 {
		return domain.SignedURL{}, res.errs[0]
	}
	if res.code != fiber.StatusOK {
		return domain.SignedURL{}, errprocess.Set(fmt.Sprintf("stream endpoint responded %d: %s", res.code, res.body))
	}

	var stream domain.StreamRes
	if err := json.Unmarshal(res.body, &stream); err != nil {
		return domain.SignedURL{}, fmt.Errorf("decode stream response: %w", err)
	}
	return domain.SignedURL{URL: stream.VideoURL, IssuedAt: issuedAt, ExpiresIn: stream.ExpiresIn}, nil
}

func watchEvents(ctx context.Context, addr, channel, videoID string) {
	rdb, err := database.NewRedisClient(ctx, database.RedisConnection{Addr: addr})
	if err != nil {
		logger.Log.Warn("redis unavailable, pipeline events disabled", zap.Error(err))
		return
	}
	go func() {
		<-ctx.Done()
		_ = rdb.Close()
	}()

	err = database.NewRedisPubSub(rdb).Subscribe(ctx, channel, func(payload []byte) {
		var e domain.Event
		if err := json.Unmarshal(payload, &e); err != nil || e.VideoID != videoID {
			return
		}
		logger.Log.Info("pipeline event", zap.String("job_id", e.JobID), zap.String("state", string(e.State)), zap.String("error", e.Error))
	})
	if err != nil {
		logger.Log.Warn("subscribe pipeline events failed", zap.Error(err))
	}
}
