package domain

import "time"

// VideoStatus definition video status
type VideoStatus string

const (
	// VideoUploading upload not finished / pipeline not started
	VideoUploading VideoStatus = "UPLOADING"
	// VideoProcessing some stage is running
	VideoProcessing VideoStatus = "PROCESSING"
	// VideoReady all stages done, playable
	VideoReady VideoStatus = "READY"
	// VideoFailed a stage failed terminally
	VideoFailed VideoStatus = "FAILED"
	// VideoPublished pushed to a social platform
	VideoPublished VideoStatus = "PUBLISHED"
)

// Playable READY and PUBLISHED videos can be streamed
func (s VideoStatus) Playable() bool {
	return s == VideoReady || s == VideoPublished
}

// Video 定義影片模型，由 upload / delete 流程建立與刪除
type Video struct {
	ID            string        `gorm:"primaryKey;size:64"`
	UserID        string        `gorm:"index;size:64;not null"`
	Title         string        `gorm:"size:255"`
	FileName      string        `gorm:"size:255"`
	StorageKey    string        // 存於 MinIO 上的 object key
	ThumbnailKey  string        // 可為空
	Status        VideoStatus   `gorm:"size:16;index"`
	PipelineState PipelineState `gorm:"size:32"`
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SubmitReq usecase submit request
type SubmitReq struct {
	VideoID        string `json:"videoId" validate:"required"`
	UserID         string `json:"userId" validate:"required"`
	SourceLocation string `json:"sourceLocation" validate:"required"`
	FileName       string `json:"filename" validate:"required"`
}

// SubmitRes usecase submit response
type SubmitRes struct {
	JobID string   `json:"jobId"`
	State JobState `json:"state"`
}

// PipelineStatusRes three stages of one video, resolved independently
type PipelineStatusRes struct {
	VideoID string      `json:"videoId"`
	Stages  []JobStatus `json:"stages"`
}

// VideoResult result of the video stage, stored as the job result (json)
type VideoResult struct {
	Manifest  string `json:"manifest"`
	Thumbnail string `json:"thumbnail,omitempty"`
}
