package domain

import "time"

// QueueStatus values reported by health
const (
	QueueUp       = "up"
	QueueDegraded = "degraded"
	QueueDown     = "down"
)

// QueueHealth one queue entry of the health report; Failed is nil when the store was unreachable
type QueueHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Waiting int    `json:"waiting"`
	Active  int    `json:"active"`
	Failed  *int   `json:"failed"`
	Status  string `json:"status"`
}

// HealthReport overall = AND of every queue
type HealthReport struct {
	Healthy bool          `json:"healthy"`
	Queues  []QueueHealth `json:"queues"`
}

// QueueStats one queue entry of the stats report
type QueueStats struct {
	Name      string `json:"name"`
	Waiting   int    `json:"waiting"`
	Active    int    `json:"active"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}

// StatsReport dashboard view
type StatsReport struct {
	Queues []QueueStats `json:"queues"`
}

// SignedURL 暫時性的播放網址，不落地
type SignedURL struct {
	URL       string
	IssuedAt  time.Time
	ExpiresIn int
}

// ExpiresAt absolute expiry
func (s SignedURL) ExpiresAt() time.Time {
	return s.IssuedAt.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// StreamRes stream endpoint response
type StreamRes struct {
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	ExpiresIn    int    `json:"expiresIn"`
}

// Event 每次 stage 狀態變化都會發布
type Event struct {
	ID        string        `json:"id"`
	VideoID   string        `json:"video_id"`
	JobID     string        `json:"job_id"`
	Stage     Stage         `json:"stage"`
	State     PipelineState `json:"state"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}
