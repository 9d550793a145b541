package domain

import (
	"fmt"
	"strings"
	"time"
)

// Stage 定義 pipeline 的三個階段
type Stage string

const (
	// StageVideo transcoding / analysis of the uploaded file
	StageVideo Stage = "video"
	// StageAI AI content analysis
	StageAI Stage = "ai"
	// StageStrategy strategy generation
	StageStrategy Stage = "strategy"
)

// Stages in chain order
var Stages = []Stage{StageVideo, StageAI, StageStrategy}

// ParseStage maps the API queue name to a Stage
func ParseStage(name string) (Stage, bool) {
	switch Stage(name) {
	case StageVideo, StageAI, StageStrategy:
		return Stage(name), true
	}
	return "", false
}

// Next returns the stage after s, false when s is the last stage
func (s Stage) Next() (Stage, bool) {
	switch s {
	case StageVideo:
		return StageAI, true
	case StageAI:
		return StageStrategy, true
	}
	return "", false
}

func (s Stage) jobPrefix() string {
	switch s {
	case StageVideo:
		return "process"
	case StageAI:
		return "analyze"
	case StageStrategy:
		return "strategy"
	}
	return string(s)
}

// JobID 由 stage + videoID 決定，重複送出同一支影片會撞到同一個 id
func JobID(stage Stage, videoID string) string {
	return fmt.Sprintf("%s-%s", stage.jobPrefix(), videoID)
}

// ParseJobID reverses JobID, false when the id has no known stage prefix
func ParseJobID(id string) (Stage, string, bool) {
	for _, s := range Stages {
		if videoID, ok := strings.CutPrefix(id, s.jobPrefix()+"-"); ok && videoID != "" {
			return s, videoID, true
		}
	}
	return "", "", false
}

// JobState lifecycle state of a Job inside its queue
type JobState string

const (
	// JobWaiting queued, not yet claimed (also used while a retry backoff runs)
	JobWaiting JobState = "waiting"
	// JobActive claimed by a worker
	JobActive JobState = "active"
	// JobCompleted terminal success
	JobCompleted JobState = "completed"
	// JobFailed terminal failure, retries exhausted
	JobFailed JobState = "failed"
	// JobNotFound no such job in the queue
	JobNotFound JobState = "not_found"
)

// Terminal completed / failed never transition again
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobPayload 傳給 worker 的工作內容
type JobPayload struct {
	VideoID        string `json:"video_id"`
	UserID         string `json:"user_id"`
	SourceLocation string `json:"source_location"`
	FileName       string `json:"file_name"`
}

// Job one unit of work for a stage and a video
type Job struct {
	ID         string     `json:"id"`
	Queue      string     `json:"queue"`
	Stage      Stage      `json:"stage"`
	Payload    JobPayload `json:"payload"`
	State      JobState   `json:"state"`
	Attempts   int        `json:"attempts"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Result     string     `json:"result,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// JobStatus resolver output, Exists=false means not_found
type JobStatus struct {
	JobID  string   `json:"job_id"`
	Stage  Stage    `json:"stage"`
	Exists bool     `json:"exists"`
	State  JobState `json:"state"`
	Result string   `json:"result,omitempty"`
	Error  string   `json:"error,omitempty"`

	// ErrorKind of a failed job, always stage_failure
	ErrorKind string `json:"error_kind,omitempty"`
}

// StatusOf builds the resolver view of a job, nil job = not_found
func StatusOf(stage Stage, jobID string, job *Job) JobStatus {
	if job == nil {
		return JobStatus{JobID: jobID, Stage: stage, State: JobNotFound}
	}
	st := JobStatus{JobID: job.ID, Stage: stage, Exists: true, State: job.State}
	switch job.State {
	case JobCompleted:
		st.Result = job.Result
	case JobFailed:
		st.Error = job.Error
	}
	return st
}

// Counts point-in-time snapshot of one queue
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
