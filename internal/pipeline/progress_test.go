package pipeline

import (
	"math"
	"sync"
	"testing"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

func TestCompositorFullPipelineSpans(t *testing.T) {
	c := NewCompositor(true, true)

	if got := c.StageProgress(model.StageAnonymizing, 0.5); math.Abs(got-25) > 0.01 {
		t.Errorf("half anonymize should compose to 25, got %.2f", got)
	}
	if got := c.StageDone(model.StageAnonymizing); math.Abs(got-50) > 0.01 {
		t.Errorf("anonymize done should compose to 50, got %.2f", got)
	}
	if got := c.StageDone(model.StageCaptioning); math.Abs(got-70) > 0.01 {
		t.Errorf("captions done should compose to 70, got %.2f", got)
	}
	if got := c.StageDone(model.StageUploading); got != 100 {
		t.Errorf("upload done should compose to exactly 100, got %.2f", got)
	}
}

func TestCompositorRenormalizesInactiveStages(t *testing.T) {
	// Upload only: its 30-point weight covers the whole range.
	c := NewCompositor(false, false)
	if got := c.StageProgress(model.StageUploading, 0.5); math.Abs(got-50) > 0.01 {
		t.Errorf("half upload alone should compose to 50, got %.2f", got)
	}

	// Anonymize plus upload: 50/80 and 30/80.
	c = NewCompositor(true, false)
	if got := c.StageDone(model.StageAnonymizing); math.Abs(got-62.5) > 0.01 {
		t.Errorf("anonymize done should compose to 62.5, got %.2f", got)
	}
	if got := c.StageDone(model.StageUploading); got != 100 {
		t.Errorf("upload done should compose to exactly 100, got %.2f", got)
	}
}

func TestCompositorInactiveStageIgnored(t *testing.T) {
	c := NewCompositor(false, false)
	c.StageProgress(model.StageUploading, 0.4)

	before := c.Current()
	if got := c.StageProgress(model.StageAnonymizing, 1); got != before {
		t.Errorf("inactive stage must not move the composition: %.2f -> %.2f", before, got)
	}
}

func TestCompositorMonotonic(t *testing.T) {
	c := NewCompositor(true, true)

	c.StageProgress(model.StageAnonymizing, 0.8)
	high := c.Current()

	// A stale callback reporting lower progress must not move the value back.
	if got := c.StageProgress(model.StageAnonymizing, 0.2); got < high {
		t.Errorf("composition went backwards: %.2f -> %.2f", high, got)
	}

	// Out-of-range fractions clamp instead of overshooting the span.
	if got := c.StageProgress(model.StageAnonymizing, 1.7); math.Abs(got-50) > 0.01 {
		t.Errorf("overshoot should clamp to span end 50, got %.2f", got)
	}
	if got := c.StageProgress(model.StageCaptioning, -3); got < 50 {
		t.Errorf("negative fraction dragged composition down to %.2f", got)
	}
}

func TestCompositorSkippedStageCreditsRange(t *testing.T) {
	c := NewCompositor(true, true)

	c.StageSkipped(model.StageAnonymizing)
	c.StageSkipped(model.StageCaptioning)
	if got := c.StageDone(model.StageUploading); got != 100 {
		t.Errorf("skipped stages must still let the pipeline reach 100, got %.2f", got)
	}
}

func TestCompositorConcurrentCallbacks(t *testing.T) {
	c := NewCompositor(true, true)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		frac := float64(i) / 50
		for _, stage := range []model.Stage{model.StageAnonymizing, model.StageCaptioning, model.StageUploading} {
			wg.Add(1)
			go func(st model.Stage, f float64) {
				defer wg.Done()
				c.StageProgress(st, f)
			}(stage, frac)
		}
	}
	wg.Wait()

	if got := c.Current(); got < 0 || got > 100 {
		t.Errorf("composition out of range after concurrent updates: %.2f", got)
	}
}
