package app

import (
	"context"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/repository"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// DefaultURLTTL seconds a signed url stays valid
const DefaultURLTTL = 3600

// URLSigner storage side of the gateway
type URLSigner interface {
	PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error)
}

// StreamGateway issues signed playback urls for playable videos
type StreamGateway struct {
	videos repository.VideoRepo
	signer URLSigner
	ttl    int
	now    func() time.Time
}

// NewStreamGateway ttlSeconds <= 0 uses DefaultURLTTL
func NewStreamGateway(videos repository.VideoRepo, signer URLSigner, ttlSeconds int) *StreamGateway {
	if ttlSeconds <= 0 {
		ttlSeconds = DefaultURLTTL
	}
	return &StreamGateway{videos: videos, signer: signer, ttl: ttlSeconds, now: time.Now}
}

// Issue signs storageRef for ttlSeconds; backend errors become StorageUnavailable
func (g *StreamGateway) Issue(ctx context.Context, storageRef string, ttlSeconds int) (domain.SignedURL, error) {
	issuedAt := g.now()
	url, err := g.signer.PresignGetURL(ctx, storageRef, time.Duration(ttlSeconds)*time.Second)
	if err != nil {
		logger.Log.Error("sign url failed", zap.String("object", storageRef), zap.Error(err))
		return domain.SignedURL{}, errprocess.SetKind(errprocess.KindStorageUnavailable, "storage unavailable, retry later", err)
	}
	return domain.SignedURL{URL: url, IssuedAt: issuedAt, ExpiresIn: ttlSeconds}, nil
}

// Stream checks user, ownership and readiness then signs video and thumbnail
func (g *StreamGateway) Stream(ctx context.Context, userID, videoID string) (*domain.StreamRes, error) {
	if userID == "" {
		return nil, errprocess.New(errprocess.KindUnauthorized, "login required")
	}
	video, err := g.videos.FindByID(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if video.UserID != userID {
		return nil, errprocess.New(errprocess.KindForbidden, fmt.Sprintf("video %s is not owned by you", videoID))
	}
	if !video.Status.Playable() {
		return nil, errprocess.New(errprocess.KindNotReady, fmt.Sprintf("video %s is %s", videoID, video.Status))
	}

	signed, err := g.Issue(ctx, video.StorageKey, g.ttl)
	if err != nil {
		return nil, err
	}
	res := &domain.StreamRes{VideoURL: signed.URL, ExpiresIn: signed.ExpiresIn}
	if video.ThumbnailKey != "" {
		thumb, err := g.Issue(ctx, video.ThumbnailKey, g.ttl)
		if err != nil {
			return nil, err
		}
		res.ThumbnailURL = thumb.URL
	}
	return res, nil
}
