package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/anonymize"
	"github.com/bestfriendai/SupaSecret-sub010/internal/caption"
	"github.com/bestfriendai/SupaSecret-sub010/internal/client"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
	"github.com/bestfriendai/SupaSecret-sub010/internal/service"
	"github.com/bestfriendai/SupaSecret-sub010/internal/storage"
)

// PublishWorker finalizes a session: it joins any still-pending optional
// stages, then uploads the final artifact and its metadata.
type PublishWorker struct {
	svc           *service.PipelineService
	manager       *pipeline.Manager
	engine        *anonymize.Engine
	generator     *caption.Generator
	storageClient client.StorageClient
	scratch       *storage.ScratchStore
	maxRetries    int
	log           *logrus.Entry
}

func NewPublishWorker(
	svc *service.PipelineService,
	manager *pipeline.Manager,
	engine *anonymize.Engine,
	generator *caption.Generator,
	storageClient client.StorageClient,
	scratch *storage.ScratchStore,
	maxRetries int,
	log *logrus.Entry,
) *PublishWorker {
	return &PublishWorker{
		svc:           svc,
		manager:       manager,
		engine:        engine,
		generator:     generator,
		storageClient: storageClient,
		scratch:       scratch,
		maxRetries:    maxRetries,
		log:           log,
	}
}

// ProcessTask handles publish task processing
func (w *PublishWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.PublishJobPayload
	jobID, err := decodeTask(t, &payload)
	if err != nil {
		return err
	}
	sessionID := payload.SessionID
	if w.svc.IsCanceled(ctx, jobID) {
		return nil
	}

	cancelCh, err := w.manager.CancelCh(sessionID)
	if err != nil {
		w.svc.FailJob(ctx, jobID, "session no longer exists")
		return nil
	}
	cctx, cancel := watchCancel(ctx, cancelCh)
	defer cancel()

	state, err := w.manager.Get(sessionID)
	if err != nil || state.Artifact == nil {
		w.svc.FailJob(ctx, jobID, "session has no artifact")
		return nil
	}
	opts, err := w.manager.Options(sessionID)
	if err != nil {
		return nil
	}

	log := w.log.WithFields(logrus.Fields{"job": jobID, "session": sessionID})
	log.Info("starting publish")

	pendingAnonymize := opts.Method == model.MethodPostprocess &&
		((opts.PrivacyMode != model.PrivacyModeNone && !state.Privacy.FaceBlurApplied) ||
			(opts.VoiceChange && !state.Privacy.VoiceChangeApplied))
	pendingCaptions := opts.Captions && len(state.Captions) == 0

	// Captioning reads the same input and writes a disjoint output, so it
	// runs alongside the transform; both are joined before upload.
	var captionWG sync.WaitGroup
	if pendingCaptions {
		captionWG.Add(1)
		go func() {
			defer captionWG.Done()
			w.runCaptions(cctx, sessionID, state.Artifact)
		}()
	}

	if pendingAnonymize {
		if err := w.runAnonymize(cctx, jobID, sessionID, payload.AllowUnblurred, opts); err != nil {
			captionWG.Wait()
			if cctx.Err() != nil {
				w.svc.Cancel(ctx, jobID)
				return nil
			}
			return err
		}
	}
	captionWG.Wait()
	if cctx.Err() != nil {
		w.svc.Cancel(ctx, jobID)
		return nil
	}

	// Reload: the joined stages may have replaced the artifact and attached
	// captions.
	state, err = w.manager.Get(sessionID)
	if err != nil {
		w.svc.Cancel(ctx, jobID)
		return nil
	}

	if err := w.manager.BeginStage(sessionID, model.StageUploading); err != nil {
		w.svc.FailJob(ctx, jobID, err.Error())
		return err
	}

	result, err := w.upload(cctx, jobID, sessionID, state)
	if err != nil {
		if cctx.Err() != nil {
			// Discard during upload: the in-flight put is abandoned and the
			// pipeline has already moved on.
			w.svc.Cancel(ctx, jobID)
			return nil
		}
		log.WithError(err).Error("publish upload failed")
		w.manager.FailStage(sessionID, model.StageUploading, "UPLOAD_FAILED", err.Error(), model.StageReviewing)
		w.svc.FailJob(ctx, jobID, err.Error())
		return err
	}

	if err := w.manager.CompletePublish(sessionID, result.PublishedID, result); err != nil {
		return err
	}
	if err := w.svc.CompleteJob(ctx, jobID, result); err != nil {
		return err
	}

	log.WithField("published", result.PublishedID).Info("publish complete")
	return nil
}

// runAnonymize executes the pending transform. A failure publishes unblurred
// only when the caller explicitly confirmed that fallback.
func (w *PublishWorker) runAnonymize(ctx context.Context, jobID, sessionID string, allowUnblurred bool, opts pipeline.SessionOptions) error {
	state, err := w.manager.Get(sessionID)
	if err != nil {
		return err
	}

	if err := w.manager.BeginStage(sessionID, model.StageAnonymizing); err != nil {
		return err
	}

	outputPath, err := w.scratch.Path(sessionID, "anonymized.mp4")
	if err != nil {
		return err
	}

	artifact, privacy, err := w.engine.Anonymize(ctx, *state.Artifact, state.Privacy,
		anonymize.Options{PrivacyMode: opts.PrivacyMode, VoiceChange: opts.VoiceChange},
		outputPath,
		func(frac float64) {
			w.manager.StageProgress(sessionID, model.StageAnonymizing, frac, "Blurring faces...")
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		if allowUnblurred {
			w.log.WithField("session", sessionID).WithError(err).
				Warn("transform failed, publishing unblurred per explicit confirmation")
			w.manager.SkipStage(sessionID, model.StageAnonymizing)
			return nil
		}
		code := transformErrorCode(err)
		w.manager.FailStage(sessionID, model.StageAnonymizing, code, err.Error(), model.StageReviewing)
		w.svc.FailJob(ctx, jobID, fmt.Sprintf("anonymization failed and unblurred publish was not confirmed: %v", err))
		return err
	}

	return w.manager.CompleteAnonymize(sessionID, artifact, privacy)
}

// runCaptions is best-effort; any failure degrades to no captions.
func (w *PublishWorker) runCaptions(ctx context.Context, sessionID string, artifact *model.MediaArtifact) {
	audioPath, err := w.scratch.Path(sessionID, "audio.wav")
	if err == nil {
		var segments []model.CaptionSegment
		segments, err = w.generator.Generate(ctx, *artifact, audioPath)
		if err == nil {
			w.manager.SetCaptions(sessionID, segments)
			return
		}
	}

	if !errors.Is(err, caption.ErrNotConfigured) && ctx.Err() == nil {
		w.log.WithField("session", sessionID).WithError(err).
			Warn("caption generation failed, publishing without captions")
	}
	w.manager.SkipStage(sessionID, model.StageCaptioning)
}

func (w *PublishWorker) upload(ctx context.Context, jobID, sessionID string, state model.PipelineState) (*model.PublishResultResponse, error) {
	publishedID := uuid.New().String()
	artifact := *state.Artifact
	metadata := model.PublishMetadata{
		FaceBlurApplied:    state.Privacy.FaceBlurApplied,
		VoiceChangeApplied: state.Privacy.VoiceChangeApplied,
		Transcription:      state.Captions,
		DurationSeconds:    artifact.DurationSeconds,
	}

	// Mock publish when object storage is not configured
	if w.storageClient == nil {
		w.manager.StageProgress(sessionID, model.StageUploading, 1, "Uploading...")
		return &model.PublishResultResponse{
			SessionID:   sessionID,
			PublishedID: publishedID,
			VideoURL:    fmt.Sprintf("https://cdn.supasecret.app/confessions/%s.mp4", publishedID),
			Metadata:    metadata,
			PublishedAt: time.Now(),
		}, nil
	}

	videoKey := fmt.Sprintf("confessions/%s/%s.mp4", state.UserID, publishedID)
	metaKey := fmt.Sprintf("confessions/%s/%s.json", state.UserID, publishedID)

	var videoURL string
	operation := func() error {
		f, err := os.Open(artifact.URI)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("artifact missing: %w", err))
		}
		defer f.Close()

		url, err := w.storageClient.Upload(ctx, videoKey, f, artifact.SizeBytes, "video/mp4",
			func(frac float64) {
				w.manager.StageProgress(sessionID, model.StageUploading, frac*0.95, "Uploading...")
				w.svc.UpdateJobProgress(ctx, jobID, pct(frac), "Uploading...")
			},
		)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		videoURL = url
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(w.maxRetries)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		w.log.WithField("session", sessionID).WithError(err).
			Warnf("upload attempt failed, retrying in %s", next)
	}); err != nil {
		return nil, err
	}

	metaBytes, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if _, err := w.storageClient.Upload(ctx, metaKey, bytes.NewReader(metaBytes), int64(len(metaBytes)), "application/json", nil); err != nil {
		return nil, fmt.Errorf("failed to upload metadata: %w", err)
	}

	w.manager.StageProgress(sessionID, model.StageUploading, 1, "Finalizing...")

	return &model.PublishResultResponse{
		SessionID:   sessionID,
		PublishedID: publishedID,
		VideoURL:    videoURL,
		Metadata:    metadata,
		PublishedAt: time.Now(),
	}, nil
}
