package pipeline

import (
	"errors"
	"fmt"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

var (
	// ErrSessionNotFound is returned for unknown or already-reset sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidTransition is returned when a stage change is not legal.
	ErrInvalidTransition = errors.New("invalid stage transition")
	// ErrBlurNotApplied blocks publishing when blur was requested but never
	// applied and the caller did not explicitly confirm the fallback.
	ErrBlurNotApplied = errors.New("face blur requested but not applied")
)

// transitions is the legal stage graph. Reviewing is re-entrant: optional
// stages return to it, and retake/discard reset from it. Everything else is
// one-directional.
var transitions = map[model.Stage][]model.Stage{
	model.StageIdle:        {model.StageCapturing},
	model.StageCapturing:   {model.StageReviewing, model.StageFailed, model.StageIdle},
	model.StageReviewing:   {model.StageAnonymizing, model.StageCaptioning, model.StageUploading, model.StageCapturing, model.StageIdle},
	model.StageAnonymizing: {model.StageReviewing, model.StageCaptioning, model.StageUploading, model.StageFailed},
	model.StageCaptioning:  {model.StageReviewing, model.StageUploading, model.StageFailed},
	model.StageUploading:   {model.StagePublished, model.StageFailed, model.StageReviewing, model.StageIdle},
	model.StageFailed:      {model.StageReviewing, model.StageUploading, model.StageCapturing, model.StageIdle},
	model.StagePublished:   {model.StageIdle},
}

// CanTransition reports whether moving from one stage to another is legal.
func CanTransition(from, to model.Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// checkTransition wraps CanTransition with a descriptive error.
func checkTransition(from, to model.Stage) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// verifyPrivacy enforces the artifact-lineage invariant: a claimed face blur
// must be backed by an artifact whose URI differs from the original capture.
// Callers that set the flag without the file changing are defects.
func verifyPrivacy(privacy model.PrivacyState, artifact model.MediaArtifact, originalURI string) error {
	if privacy.FaceBlurApplied && artifact.URI == originalURI {
		return fmt.Errorf("faceBlurApplied set but artifact URI unchanged from %s", originalURI)
	}
	return nil
}
