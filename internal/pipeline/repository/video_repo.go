package repository

import (
	"context"
	"errors"
	"fmt"

	"video_pipeline_service/internal/pipeline/domain"
	errprocess "video_pipeline_service/pkg/err"

	"gorm.io/gorm"
)

// VideoRepo definition get video info
type VideoRepo interface {
	AutoMigrate() error
	Create(ctx context.Context, video *domain.Video) error
	// FindByID returns errprocess.ErrNotFound when the video was deleted or never existed
	FindByID(ctx context.Context, id string) (*domain.Video, error)
	UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, state domain.PipelineState, errMsg string) error
	// TransitionStatus writes only while pipeline_state is still from, ErrStateChanged otherwise
	TransitionStatus(ctx context.Context, id string, from domain.PipelineState, status domain.VideoStatus, to domain.PipelineState, errMsg string) error
	// SetPlayback records the processed manifest / thumbnail keys
	SetPlayback(ctx context.Context, id, storageKey, thumbnailKey string) error
}

// ErrStateChanged pipeline_state 已被其他流程改掉，這次 transition 沒有寫入
var ErrStateChanged = errors.New("pipeline state changed")

type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepo create VideoRepo
func NewVideoRepo(db *gorm.DB) VideoRepo {
	return &videoRepo{db: db}
}

// AutoMigrate 建表或補欄位，不會刪欄位
func (r *videoRepo) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.Video{})
}

func (r *videoRepo) Create(ctx context.Context, video *domain.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return errprocess.Wrap(errprocess.KindStorageUnavailable, "create video failed", err)
	}
	return nil
}

func (r *videoRepo) FindByID(ctx context.Context, id string) (*domain.Video, error) {
	var v domain.Video
	err := r.db.WithContext(ctx).First(&v, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	if err != nil {
		return nil, errprocess.Wrap(errprocess.KindStorageUnavailable, "load video failed", err)
	}
	return &v, nil
}

// UpdateStatus 只更新狀態相關欄位；影片已被刪除時回傳 ErrNotFound
func (r *videoRepo) UpdateStatus(ctx context.Context, id string, status domain.VideoStatus, state domain.PipelineState, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&domain.Video{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":         status,
		"pipeline_state": state,
		"error":          errMsg,
	})
	if res.Error != nil {
		return errprocess.Wrap(errprocess.KindStorageUnavailable, "update video status failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	return nil
}

func (r *videoRepo) TransitionStatus(ctx context.Context, id string, from domain.PipelineState, status domain.VideoStatus, to domain.PipelineState, errMsg string) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&domain.Video{}).Where("id = ? AND pipeline_state = ?", id, from).Updates(map[string]interface{}{
		"status":         status,
		"pipeline_state": to,
		"error":          errMsg,
	})
	if res.Error != nil {
		return errprocess.Wrap(errprocess.KindStorageUnavailable, "transition video status failed", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&domain.Video{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return errprocess.Wrap(errprocess.KindStorageUnavailable, "load video failed", err)
	}
	if count == 0 {
		return errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	return fmt.Errorf("video %s is no longer %s: %w", id, from, ErrStateChanged)
}

func (r *videoRepo) SetPlayback(ctx context.Context, id, storageKey, thumbnailKey string) error {
	updates := map[string]interface{}{"storage_key": storageKey}
	if thumbnailKey != "" {
		updates["thumbnail_key"] = thumbnailKey
	}
	res := r.db.WithContext(ctx).Model(&domain.Video{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return errprocess.Wrap(errprocess.KindStorageUnavailable, "update video playback failed", res.Error)
	}
	if res.RowsAffected == 0 {
		return errprocess.New(errprocess.KindNotFound, fmt.Sprintf("video %s not found", id))
	}
	return nil
}
