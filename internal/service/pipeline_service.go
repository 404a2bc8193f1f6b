package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
)

const (
	TaskTypeTransform = "pipeline:transform"
	TaskTypeCaption   = "pipeline:caption"
	TaskTypePublish   = "pipeline:publish"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobNotCompleted = errors.New("job not completed")
	ErrJobFinished     = errors.New("job already completed")
)

// PipelineService queues background pipeline stages and tracks their job
// records in Redis.
type PipelineService struct {
	redis       *redis.Client
	asynqClient *asynq.Client
	manager     *pipeline.Manager
}

func NewPipelineService(redisClient *redis.Client, asynqClient *asynq.Client, manager *pipeline.Manager) *PipelineService {
	return &PipelineService{
		redis:       redisClient,
		asynqClient: asynqClient,
		manager:     manager,
	}
}

// StartTransform queues a post-process anonymization job for a session in
// review.
func (s *PipelineService) StartTransform(ctx context.Context, sessionID string) (*model.JobStartResponse, error) {
	state, err := s.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if state.Stage != model.StageReviewing {
		return nil, fmt.Errorf("%w: anonymize from %s", pipeline.ErrInvalidTransition, state.Stage)
	}
	if state.Artifact == nil {
		return nil, fmt.Errorf("session has no artifact")
	}
	if state.Privacy.FaceBlurApplied {
		return nil, fmt.Errorf("artifact already anonymized")
	}

	opts, err := s.manager.Options(sessionID)
	if err != nil {
		return nil, err
	}
	if opts.PrivacyMode == model.PrivacyModeNone && !opts.VoiceChange {
		return nil, fmt.Errorf("session did not request anonymization")
	}

	payload, _ := json.Marshal(model.TransformJobPayload{SessionID: sessionID})
	return s.enqueue(ctx, sessionID, model.JobTypeTransform, TaskTypeTransform, "transform", payload, 2)
}

// StartCaption queues caption generation for a session in review.
func (s *PipelineService) StartCaption(ctx context.Context, sessionID string) (*model.JobStartResponse, error) {
	state, err := s.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if state.Stage != model.StageReviewing {
		return nil, fmt.Errorf("%w: caption from %s", pipeline.ErrInvalidTransition, state.Stage)
	}
	if state.Artifact == nil {
		return nil, fmt.Errorf("session has no artifact")
	}

	payload, _ := json.Marshal(model.CaptionJobPayload{SessionID: sessionID})
	return s.enqueue(ctx, sessionID, model.JobTypeCaption, TaskTypeCaption, "caption", payload, 1)
}

// StartPublish queues the publish job. Pending optional stages run inside
// the job before upload; whether unblurred material may ship on transform
// failure is decided by the explicit AllowUnblurred confirmation.
func (s *PipelineService) StartPublish(ctx context.Context, sessionID string, allowUnblurred bool) (*model.JobStartResponse, error) {
	state, err := s.manager.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if state.Stage != model.StageReviewing && state.Stage != model.StageFailed {
		return nil, fmt.Errorf("%w: publish from %s", pipeline.ErrInvalidTransition, state.Stage)
	}
	if state.Artifact == nil {
		return nil, fmt.Errorf("session has no artifact")
	}

	// A session whose transform already failed cannot ship unblurred without
	// the explicit confirmation; reject up front rather than inside the job.
	opts, err := s.manager.Options(sessionID)
	if err != nil {
		return nil, err
	}
	if !allowUnblurred && opts.Method == model.MethodPostprocess &&
		opts.PrivacyMode != model.PrivacyModeNone && !state.Privacy.FaceBlurApplied &&
		state.LastError != nil && state.LastError.Stage == model.StageAnonymizing {
		return nil, pipeline.ErrBlurNotApplied
	}

	payload, _ := json.Marshal(model.PublishJobPayload{
		SessionID:      sessionID,
		AllowUnblurred: allowUnblurred,
	})
	return s.enqueue(ctx, sessionID, model.JobTypePublish, TaskTypePublish, "publish", payload, 0)
}

func (s *PipelineService) enqueue(ctx context.Context, sessionID, jobType, taskType, queue string, payload []byte, maxRetry int) (*model.JobStartResponse, error) {
	jobID := uuid.New().String()
	now := time.Now()

	job := &model.Job{
		ID:        jobID,
		SessionID: sessionID,
		Type:      jobType,
		Status:    model.JobStatusQueued,
		Progress:  0,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := s.saveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	taskPayload, err := json.Marshal(map[string]interface{}{
		"jobId":   jobID,
		"payload": json.RawMessage(payload),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	_, err = s.asynqClient.Enqueue(asynq.NewTask(taskType, taskPayload),
		asynq.Queue(queue),
		asynq.MaxRetry(maxRetry),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return &model.JobStartResponse{
		JobID:     jobID,
		SessionID: sessionID,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
	}, nil
}

// GetStatus returns the current status of a pipeline job
func (s *PipelineService) GetStatus(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	return &model.JobStatusResponse{
		JobID:       job.ID,
		SessionID:   job.SessionID,
		Type:        job.Type,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
	}, nil
}

// GetPublishResult returns the result of a completed publish job
func (s *PipelineService) GetPublishResult(ctx context.Context, jobID string) (*model.PublishResultResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobStatusSucceeded {
		return nil, ErrJobNotCompleted
	}

	var result model.PublishResultResponse
	if err := json.Unmarshal(job.Result, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &result, nil
}

// Cancel marks a queued or running job as canceled
func (s *PipelineService) Cancel(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusSucceeded || job.Status == model.JobStatusFailed {
		return nil, ErrJobFinished
	}

	job.Status = model.JobStatusCanceled
	now := time.Now()
	job.CompletedAt = &now
	if err := s.saveJob(ctx, job); err != nil {
		return nil, err
	}

	return s.GetStatus(ctx, jobID)
}

// UpdateJobProgress updates job progress (called by workers)
func (s *PipelineService) UpdateJobProgress(ctx context.Context, jobID string, progress int, step string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Progress = progress
	job.CurrentStep = step

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		now := time.Now()
		job.StartedAt = &now
	}

	return s.saveJob(ctx, job)
}

// CompleteJob marks a job as succeeded (called by workers)
func (s *PipelineService) CompleteJob(ctx context.Context, jobID string, result interface{}) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	resultBytes, err := json.Marshal(result)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusSucceeded
	job.Progress = 100
	job.Result = resultBytes
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// FailJob marks a job as failed (called by workers)
func (s *PipelineService) FailJob(ctx context.Context, jobID string, errMsg string) error {
	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}

	job.Status = model.JobStatusFailed
	job.Error = &errMsg
	now := time.Now()
	job.CompletedAt = &now

	return s.saveJob(ctx, job)
}

// IsCanceled reports whether a job was canceled by the user.
func (s *PipelineService) IsCanceled(ctx context.Context, jobID string) bool {
	job, err := s.getJob(ctx, jobID)
	return err == nil && job.Status == model.JobStatusCanceled
}

func (s *PipelineService) saveJob(ctx context.Context, job *model.Job) error {
	type storedJob struct {
		model.Job
		Payload []byte `json:"payload,omitempty"`
		Result  []byte `json:"result,omitempty"`
	}
	data, err := json.Marshal(storedJob{Job: *job, Payload: job.Payload, Result: job.Result})
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, 24*time.Hour).Err()
}

func (s *PipelineService) getJob(ctx context.Context, jobID string) (*model.Job, error) {
	data, err := s.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var stored struct {
		model.Job
		Payload []byte `json:"payload,omitempty"`
		Result  []byte `json:"result,omitempty"`
	}
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	job := stored.Job
	job.Payload = stored.Payload
	job.Result = stored.Result
	return &job, nil
}
