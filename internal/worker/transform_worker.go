package worker

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/anonymize"
	"github.com/bestfriendai/SupaSecret-sub010/internal/caption"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
	"github.com/bestfriendai/SupaSecret-sub010/internal/service"
	"github.com/bestfriendai/SupaSecret-sub010/internal/storage"
)

// TransformWorker processes anonymization and caption jobs triggered from
// the review stage.
type TransformWorker struct {
	svc       *service.PipelineService
	manager   *pipeline.Manager
	engine    *anonymize.Engine
	generator *caption.Generator
	scratch   *storage.ScratchStore
	timeout   time.Duration
	log       *logrus.Entry
}

func NewTransformWorker(
	svc *service.PipelineService,
	manager *pipeline.Manager,
	engine *anonymize.Engine,
	generator *caption.Generator,
	scratch *storage.ScratchStore,
	timeout time.Duration,
	log *logrus.Entry,
) *TransformWorker {
	return &TransformWorker{
		svc:       svc,
		manager:   manager,
		engine:    engine,
		generator: generator,
		scratch:   scratch,
		timeout:   timeout,
		log:       log,
	}
}

// ProcessTransform runs the post-process anonymization strategy for one
// session. The raw artifact survives any failure; only the user may delete it.
func (w *TransformWorker) ProcessTransform(ctx context.Context, t *asynq.Task) error {
	var payload model.TransformJobPayload
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
	if w.timeout > 0 {
		cctx, cancel = context.WithTimeout(cctx, w.timeout)
		defer cancel()
	}

	state, err := w.manager.Get(sessionID)
	if err != nil || state.Artifact == nil {
		w.svc.FailJob(ctx, jobID, "session has no artifact")
		return nil
	}
	opts, err := w.manager.Options(sessionID)
	if err != nil {
		return nil
	}

	if err := w.manager.BeginStage(sessionID, model.StageAnonymizing); err != nil {
		w.svc.FailJob(ctx, jobID, err.Error())
		return err
	}

	w.log.WithFields(logrus.Fields{"job": jobID, "session": sessionID}).Info("starting anonymization")

	outputPath, err := w.scratch.Path(sessionID, "anonymized.mp4")
	if err != nil {
		w.failTransform(ctx, jobID, sessionID, "STORAGE_ERROR", err)
		return err
	}

	artifact, privacy, err := w.engine.Anonymize(cctx, *state.Artifact, state.Privacy,
		anonymize.Options{PrivacyMode: opts.PrivacyMode, VoiceChange: opts.VoiceChange},
		outputPath,
		func(frac float64) {
			w.manager.StageProgress(sessionID, model.StageAnonymizing, frac, "Blurring faces...")
			w.svc.UpdateJobProgress(ctx, jobID, pct(frac), "Blurring faces...")
		},
	)
	if err != nil {
		if cctx.Err() != nil && errors.Is(err, context.Canceled) {
			// Session was discarded mid-transcode; nothing to report.
			w.svc.Cancel(ctx, jobID)
			return nil
		}
		w.failTransform(ctx, jobID, sessionID, transformErrorCode(err), err)
		return err
	}

	if err := w.manager.CompleteAnonymize(sessionID, artifact, privacy); err != nil {
		w.failTransform(ctx, jobID, sessionID, "TRANSCODE_FAILED", err)
		return err
	}
	w.manager.BeginStage(sessionID, model.StageReviewing)

	if err := w.svc.CompleteJob(ctx, jobID, artifact); err != nil {
		return err
	}

	w.log.WithFields(logrus.Fields{"job": jobID, "session": sessionID}).Info("anonymization complete")
	return nil
}

// ProcessCaption generates caption segments. Captioning is an enhancement:
// every failure degrades to "no captions" without touching the publish path.
func (w *TransformWorker) ProcessCaption(ctx context.Context, t *asynq.Task) error {
	var payload model.CaptionJobPayload
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

	if err := w.manager.BeginStage(sessionID, model.StageCaptioning); err != nil {
		w.svc.FailJob(ctx, jobID, err.Error())
		return err
	}
	w.manager.StageProgress(sessionID, model.StageCaptioning, 0.1, "Transcribing audio...")
	w.svc.UpdateJobProgress(ctx, jobID, 10, "Transcribing audio...")

	audioPath, err := w.scratch.Path(sessionID, "audio.wav")
	if err == nil {
		var segments []model.CaptionSegment
		segments, err = w.generator.Generate(cctx, *state.Artifact, audioPath)
		if err == nil {
			w.manager.SetCaptions(sessionID, segments)
			w.manager.BeginStage(sessionID, model.StageReviewing)
			return w.svc.CompleteJob(ctx, jobID, segments)
		}
	}

	if cctx.Err() != nil && errors.Is(err, context.Canceled) {
		w.svc.Cancel(ctx, jobID)
		return nil
	}

	w.log.WithFields(logrus.Fields{
		"job":     jobID,
		"session": sessionID,
	}).WithError(err).Warn("caption generation failed, continuing without captions")

	w.manager.SkipStage(sessionID, model.StageCaptioning)
	w.manager.BeginStage(sessionID, model.StageReviewing)
	w.svc.FailJob(ctx, jobID, err.Error())
	return nil
}

func (w *TransformWorker) failTransform(ctx context.Context, jobID, sessionID, code string, err error) {
	w.log.WithFields(logrus.Fields{"job": jobID, "session": sessionID}).WithError(err).Error("anonymization failed")
	// Back to review so the user can retry, proceed unblurred or discard.
	w.manager.FailStage(sessionID, model.StageAnonymizing, code, err.Error(), model.StageReviewing)
	w.svc.FailJob(ctx, jobID, err.Error())
}

func transformErrorCode(err error) string {
	switch {
	case errors.Is(err, anonymize.ErrCapabilityUnavailable):
		return "CAPABILITY_UNAVAILABLE"
	case errors.Is(err, anonymize.ErrTimeout):
		return "TIMEOUT"
	default:
		return "TRANSCODE_FAILED"
	}
}
