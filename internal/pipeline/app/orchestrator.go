package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/repository"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Orchestrator drives the video -> ai -> strategy chain.
// It keeps no job state of its own: the video row carries the pipeline state, the queues carry the jobs.
type Orchestrator struct {
	videos   repository.VideoRepo
	queues   Queues
	events   EventPublisher
	validate *validator.Validate
}

// NewOrchestrator create Orchestrator, events may be nil
func NewOrchestrator(videos repository.VideoRepo, queues Queues, events EventPublisher) *Orchestrator {
	if events == nil {
		events = NopPublisher{}
	}
	return &Orchestrator{
		videos:   videos,
		queues:   queues,
		events:   events,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// StartPipeline validates ownership then enqueues process-<videoId>.
// The returned state is read back from the job store after the enqueue.
func (o *Orchestrator) StartPipeline(ctx context.Context, req domain.SubmitReq) (*domain.SubmitRes, error) {
	if err := o.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	video, err := o.videos.FindByID(ctx, req.VideoID)
	if err != nil {
		return nil, err
	}
	if video.UserID != req.UserID {
		return nil, errprocess.New(errprocess.KindForbidden, fmt.Sprintf("video %s is not owned by %s", req.VideoID, req.UserID))
	}

	prev := video.PipelineState
	next, ok := domain.NextPipelineState(prev, domain.EventStart)
	if !ok {
		return nil, errprocess.New(errprocess.KindDuplicateJob, fmt.Sprintf("pipeline for video %s already %s", req.VideoID, prev))
	}
	// 先寫狀態再 enqueue，completion handler 才不會看到舊狀態
	if err := o.videos.UpdateStatus(ctx, video.ID, domain.VideoStatusFor(next), next, ""); err != nil {
		return nil, err
	}

	payload := domain.JobPayload{
		VideoID:        req.VideoID,
		UserID:         req.UserID,
		SourceLocation: req.SourceLocation,
		FileName:       req.FileName,
	}
	job, err := o.queues.Video.Enqueue(ctx, req.VideoID, payload)
	if err != nil {
		if !errors.Is(err, errprocess.ErrDuplicateJob) {
			o.restore(ctx, video, prev)
		}
		return nil, err
	}

	state := job.State
	if current, err := o.queues.Video.Job(ctx, job.ID); err == nil {
		state = current.State
	} else {
		logger.Log.Warn("read back job failed", zap.String("job_id", job.ID), zap.Error(err))
	}

	o.publish(ctx, NewEvent(job, next, ""))
	logger.Log.Info("pipeline started", zap.String("video_id", req.VideoID), zap.String("job_id", job.ID), zap.String("state", string(state)))
	return &domain.SubmitRes{JobID: job.ID, State: state}, nil
}

// restore best effort rollback of the start transition when the enqueue itself failed
func (o *Orchestrator) restore(ctx context.Context, video *domain.Video, prev domain.PipelineState) {
	if prev == "" {
		prev = domain.PipelineUploading
	}
	status := video.Status
	if status == "" {
		status = domain.VideoStatusFor(prev)
	}
	if err := o.videos.UpdateStatus(ctx, video.ID, status, prev, video.Error); err != nil {
		logger.Log.Error("restore video state failed", zap.String("video_id", video.ID), zap.Error(err))
	}
}

// OnStageCompleted advances the video state then enqueues the next stage.
// A deleted video or a transition already taken makes it a no-op.
func (o *Orchestrator) OnStageCompleted(ctx context.Context, job *domain.Job) error {
	videoID := job.Payload.VideoID
	log := logger.Log.With(zap.String("video_id", videoID), zap.String("job_id", job.ID))

	video, err := o.videos.FindByID(ctx, videoID)
	if errors.Is(err, errprocess.ErrNotFound) {
		log.Info("video deleted, ignore stage completion")
		return nil
	}
	if err != nil {
		return err
	}

	next, ok := domain.NextPipelineState(video.PipelineState, domain.CompletionEvent(job.Stage))
	if !ok {
		log.Warn("stale stage completion, ignore", zap.String("pipeline_state", string(video.PipelineState)))
		return nil
	}

	if job.Stage == domain.StageVideo {
		o.recordPlayback(ctx, log, videoID, job.Result)
	}

	if err := o.videos.TransitionStatus(ctx, videoID, video.PipelineState, domain.VideoStatusFor(next), next, ""); err != nil {
		if errors.Is(err, errprocess.ErrNotFound) {
			return nil
		}
		if errors.Is(err, repository.ErrStateChanged) {
			log.Warn("pipeline state changed meanwhile, ignore stage completion", zap.Error(err))
			return nil
		}
		return err
	}
	o.publish(ctx, NewEvent(job, next, ""))

	nextStage, hasNext := job.Stage.Next()
	if !hasNext {
		log.Info("pipeline ready")
		return nil
	}

	nextJob, err := o.queues.For(nextStage).Enqueue(ctx, videoID, job.Payload)
	switch {
	case err == nil:
		log.Info("next stage enqueued", zap.String("next_job_id", nextJob.ID))
		return nil
	case errors.Is(err, errprocess.ErrDuplicateJob):
		// 前一次 callback 已經送出
		log.Info("next stage already enqueued", zap.String("next_stage", string(nextStage)))
		return nil
	}

	// 無法串接下一階段，視同此影片失敗
	msg := fmt.Sprintf("enqueue %s failed: %s", domain.JobID(nextStage, videoID), errprocess.DetailOf(err))
	if uerr := o.videos.TransitionStatus(ctx, videoID, next, domain.VideoFailed, domain.PipelineFailed, msg); uerr != nil {
		log.Error("mark video failed", zap.Error(uerr))
		return err
	}
	o.publish(ctx, NewEvent(job, domain.PipelineFailed, msg))
	return err
}

func (o *Orchestrator) recordPlayback(ctx context.Context, log *logger.LogInfo, videoID, result string) {
	var res domain.VideoResult
	if err := json.Unmarshal([]byte(result), &res); err != nil || res.Manifest == "" {
		return
	}
	if err := o.videos.SetPlayback(ctx, videoID, res.Manifest, res.Thumbnail); err != nil {
		log.Error("record playback keys failed", zap.Error(err))
	}
}

// OnStageFailed marks the video FAILED with the job error; the chain stops here
func (o *Orchestrator) OnStageFailed(ctx context.Context, job *domain.Job) error {
	videoID := job.Payload.VideoID
	log := logger.Log.With(zap.String("video_id", videoID), zap.String("job_id", job.ID))

	video, err := o.videos.FindByID(ctx, videoID)
	if errors.Is(err, errprocess.ErrNotFound) {
		log.Info("video deleted, ignore stage failure")
		return nil
	}
	if err != nil {
		return err
	}

	next, ok := domain.NextPipelineState(video.PipelineState, domain.EventStageFailed)
	if !ok {
		log.Warn("stale stage failure, ignore", zap.String("pipeline_state", string(video.PipelineState)))
		return nil
	}

	stageErr := StageFailure(job)
	msg := errprocess.DetailOf(stageErr)
	if err := o.videos.TransitionStatus(ctx, videoID, video.PipelineState, domain.VideoFailed, next, msg); err != nil {
		if errors.Is(err, errprocess.ErrNotFound) {
			return nil
		}
		if errors.Is(err, repository.ErrStateChanged) {
			log.Warn("pipeline state changed meanwhile, ignore stage failure", zap.Error(err))
			return nil
		}
		return err
	}
	log.Error("pipeline failed", zap.String("stage", string(job.Stage)), zap.Error(stageErr))
	o.publish(ctx, NewEvent(job, next, msg))
	return nil
}

// StageFailure terminal failure of job as a stage_failure error, detail is the worker error
func StageFailure(job *domain.Job) error {
	msg := job.Error
	if msg == "" {
		msg = fmt.Sprintf("%s stage failed", job.Stage)
	}
	return errprocess.New(errprocess.KindStageFailure, msg)
}

// JobCompleted queue.Listener
func (o *Orchestrator) JobCompleted(ctx context.Context, job *domain.Job) {
	if err := o.OnStageCompleted(ctx, job); err != nil {
		logger.Log.Error("stage completion handler failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// JobFailed queue.Listener
func (o *Orchestrator) JobFailed(ctx context.Context, job *domain.Job) {
	if err := o.OnStageFailed(ctx, job); err != nil {
		logger.Log.Error("stage failure handler failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, event domain.Event) {
	if err := o.events.Publish(ctx, event); err != nil {
		logger.Log.Warn("publish pipeline event failed", zap.String("job_id", event.JobID), zap.Error(err))
	}
}

// validationError lists the json names of the missing fields
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return errprocess.Wrap(errprocess.KindValidation, "invalid request", err)
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, jsonName(fe.Field()))
	}
	return errprocess.New(errprocess.KindValidation, "missing required fields: "+strings.Join(fields, ", "))
}

func jsonName(field string) string {
	switch field {
	case "VideoID":
		return "videoId"
	case "UserID":
		return "userId"
	case "SourceLocation":
		return "sourceLocation"
	case "FileName":
		return "filename"
	}
	return field
}
