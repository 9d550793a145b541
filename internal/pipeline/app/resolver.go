package app

import (
	"context"
	"errors"
	"fmt"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/queue"
	errprocess "video_pipeline_service/pkg/err"

	"golang.org/x/sync/errgroup"
)

// StatusResolver read-only job lookups, never touches the video row
type StatusResolver struct {
	queues Queues
}

// NewStatusResolver create StatusResolver
func NewStatusResolver(queues Queues) *StatusResolver {
	return &StatusResolver{queues: queues}
}

// Status of jobID in queueName (video / ai / strategy).
// Unknown ids return a not_found status together with errprocess.ErrNotFound.
func (r *StatusResolver) Status(ctx context.Context, queueName, jobID string) (domain.JobStatus, error) {
	q, err := r.queues.ByName(queueName)
	if err != nil {
		return domain.JobStatus{}, err
	}
	if jobID == "" {
		return domain.JobStatus{}, errprocess.New(errprocess.KindValidation, "missing required fields: jobId")
	}
	return lookup(ctx, q, jobID)
}

func lookup(ctx context.Context, q *queue.Queue, jobID string) (domain.JobStatus, error) {
	job, err := q.Job(ctx, jobID)
	if errors.Is(err, errprocess.ErrNotFound) {
		return domain.StatusOf(q.Stage(), jobID, nil), errprocess.New(errprocess.KindNotFound, fmt.Sprintf("job %s not found in %s", jobID, q.Name()))
	}
	if err != nil {
		return domain.JobStatus{}, errprocess.Wrap(errprocess.KindTransientQueue, fmt.Sprintf("lookup %s in %s failed", jobID, q.Name()), err)
	}
	st := domain.StatusOf(q.Stage(), jobID, job)
	if st.State == domain.JobFailed {
		st.ErrorKind = string(errprocess.KindStageFailure)
	}
	return st, nil
}

// PipelineStatus the three stages of one video, looked up in parallel.
// A stage not reached yet is reported as not_found, not as an error.
func (r *StatusResolver) PipelineStatus(ctx context.Context, videoID string) (*domain.PipelineStatusRes, error) {
	if videoID == "" {
		return nil, errprocess.New(errprocess.KindValidation, "missing required fields: videoId")
	}
	stages := make([]domain.JobStatus, len(domain.Stages))

	g, gctx := errgroup.WithContext(ctx)
	for i, stage := range domain.Stages {
		i, q := i, r.queues.For(stage)
		g.Go(func() error {
			st, err := lookup(gctx, q, domain.JobID(q.Stage(), videoID))
			if err != nil && !errors.Is(err, errprocess.ErrNotFound) {
				return err
			}
			stages[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &domain.PipelineStatusRes{VideoID: videoID, Stages: stages}, nil
}
