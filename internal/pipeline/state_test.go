package pipeline

import (
	"errors"
	"testing"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

func TestTransitionGraph(t *testing.T) {
	allowed := []struct{ from, to model.Stage }{
		{model.StageIdle, model.StageCapturing},
		{model.StageCapturing, model.StageReviewing},
		{model.StageReviewing, model.StageAnonymizing},
		{model.StageAnonymizing, model.StageReviewing},
		{model.StageReviewing, model.StageCaptioning},
		{model.StageCaptioning, model.StageReviewing},
		{model.StageReviewing, model.StageUploading},
		{model.StageUploading, model.StagePublished},
		{model.StageReviewing, model.StageCapturing}, // retake
		{model.StageUploading, model.StageReviewing}, // upload failure recovery
		{model.StageFailed, model.StageReviewing},
		{model.StageFailed, model.StageUploading}, // publish retry
		{model.StagePublished, model.StageIdle},
	}
	for _, tr := range allowed {
		if !CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be legal", tr.from, tr.to)
		}
	}

	denied := []struct{ from, to model.Stage }{
		{model.StageIdle, model.StageUploading},
		{model.StageCapturing, model.StageAnonymizing},
		{model.StagePublished, model.StageUploading},
		{model.StageUploading, model.StageCapturing},
		{model.StageAnonymizing, model.StageCapturing},
	}
	for _, tr := range denied {
		if CanTransition(tr.from, tr.to) {
			t.Errorf("expected %s -> %s to be illegal", tr.from, tr.to)
		}
	}
}

func TestCheckTransitionError(t *testing.T) {
	err := checkTransition(model.StageIdle, model.StagePublished)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestVerifyPrivacyLineage(t *testing.T) {
	original := "/scratch/s1/raw.mp4"

	// Blur claimed with an unchanged URI is a defect.
	err := verifyPrivacy(
		model.PrivacyState{FaceBlurApplied: true},
		model.MediaArtifact{URI: original},
		original,
	)
	if err == nil {
		t.Error("expected lineage violation for unchanged URI")
	}

	// Blur claimed with a new artifact is fine.
	err = verifyPrivacy(
		model.PrivacyState{FaceBlurApplied: true},
		model.MediaArtifact{URI: "/scratch/s1/anonymized.mp4"},
		original,
	)
	if err != nil {
		t.Errorf("unexpected lineage error: %v", err)
	}

	// No blur claimed: the URI may stay put.
	err = verifyPrivacy(
		model.PrivacyState{},
		model.MediaArtifact{URI: original},
		original,
	)
	if err != nil {
		t.Errorf("unexpected lineage error without blur: %v", err)
	}
}
