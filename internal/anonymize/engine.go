package anonymize

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

var (
	// ErrCapabilityUnavailable means this host cannot perform the transform;
	// the caller must fall back to the realtime strategy or record unblurred.
	ErrCapabilityUnavailable = errors.New("transform capability unavailable")
	// ErrTranscodeFailed is a mid-run failure; partial output has been discarded.
	ErrTranscodeFailed = errors.New("transcode failed")
	// ErrTimeout means the transform exceeded its deadline.
	ErrTimeout = errors.New("transform timed out")
)

// Engine turns a MediaArtifact plus a privacy request into a new artifact and
// the resulting PrivacyState. On any failure the input artifact is preserved
// untouched and the prior PrivacyState is returned unchanged.
type Engine struct {
	transformer Transformer
	log         *logrus.Entry
}

func NewEngine(transformer Transformer, log *logrus.Entry) *Engine {
	return &Engine{transformer: transformer, log: log}
}

// Available reports whether the post-process strategy can run at all.
func (e *Engine) Available() bool {
	return e.transformer != nil && e.transformer.IsAvailable()
}

// Anonymize runs the post-process strategy. Idempotent: an artifact whose
// PrivacyState already has FaceBlurApplied comes back unchanged rather than
// being blurred twice.
func (e *Engine) Anonymize(
	ctx context.Context,
	artifact model.MediaArtifact,
	prior model.PrivacyState,
	opts Options,
	outputPath string,
	onProgress func(float64),
) (model.MediaArtifact, model.PrivacyState, error) {
	if prior.FaceBlurApplied {
		e.log.WithField("uri", artifact.URI).Debug("artifact already anonymized, skipping")
		return artifact, prior, nil
	}

	if opts.PrivacyMode == model.PrivacyModeNone && !opts.VoiceChange {
		state := prior
		state.Method = model.MethodNone
		return artifact, state, nil
	}

	if !e.Available() {
		return artifact, prior, ErrCapabilityUnavailable
	}
	if outputPath == artifact.URI {
		return artifact, prior, fmt.Errorf("%w: output path must differ from input", ErrTranscodeFailed)
	}

	if err := e.transformer.Process(ctx, artifact.URI, outputPath, opts, onProgress); err != nil {
		// Never expose a partial output.
		os.Remove(outputPath)
		if errors.Is(err, context.DeadlineExceeded) {
			return artifact, prior, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		if errors.Is(err, context.Canceled) {
			return artifact, prior, err
		}
		return artifact, prior, fmt.Errorf("%w: %v", ErrTranscodeFailed, err)
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return artifact, prior, fmt.Errorf("%w: output missing: %v", ErrTranscodeFailed, err)
	}

	out := model.MediaArtifact{
		URI:             outputPath,
		Width:           artifact.Width,
		Height:          artifact.Height,
		DurationSeconds: artifact.DurationSeconds,
		SizeBytes:       info.Size(),
	}
	state := model.PrivacyState{
		FaceBlurApplied:    opts.PrivacyMode != model.PrivacyModeNone,
		VoiceChangeApplied: opts.VoiceChange,
		PrivacyMode:        opts.PrivacyMode,
		Method:             model.MethodPostprocess,
	}
	return out, state, nil
}
