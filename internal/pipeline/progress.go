package pipeline

import (
	"sync"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

// Stage weights before renormalization. Upload always runs; the optional
// stages only claim their share when the session requested them.
const (
	weightAnonymize = 50.0
	weightCaption   = 20.0
	weightUpload    = 30.0
)

type span struct {
	lo, hi float64
}

// Compositor maps each active stage's local progress into a disjoint
// sub-range of a single composed 0-100 value. The composed value is
// monotonically non-decreasing no matter how stage callbacks interleave.
type Compositor struct {
	mu      sync.Mutex
	spans   map[model.Stage]span
	current float64
}

// NewCompositor lays out sub-ranges for the stages this session will run,
// renormalized so the active stages cover exactly 0-100.
func NewCompositor(anonymize, captions bool) *Compositor {
	type stageWeight struct {
		stage  model.Stage
		weight float64
	}

	var active []stageWeight
	if anonymize {
		active = append(active, stageWeight{model.StageAnonymizing, weightAnonymize})
	}
	if captions {
		active = append(active, stageWeight{model.StageCaptioning, weightCaption})
	}
	active = append(active, stageWeight{model.StageUploading, weightUpload})

	total := 0.0
	for _, sw := range active {
		total += sw.weight
	}

	spans := make(map[model.Stage]span, len(active))
	lo := 0.0
	for _, sw := range active {
		hi := lo + sw.weight/total*100
		spans[sw.stage] = span{lo: lo, hi: hi}
		lo = hi
	}
	// Guard against float drift on the last boundary.
	last := active[len(active)-1].stage
	s := spans[last]
	s.hi = 100
	spans[last] = s

	return &Compositor{spans: spans}
}

// StageProgress folds a stage-local fraction in [0,1] into the composed
// value and returns it. Values that would move the composition backwards
// are clamped.
func (c *Compositor) StageProgress(stage model.Stage, frac float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	sp, ok := c.spans[stage]
	if !ok {
		return c.current
	}
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}

	composed := sp.lo + frac*(sp.hi-sp.lo)
	if composed > c.current {
		c.current = composed
	}
	return c.current
}

// StageDone credits the stage's full range.
func (c *Compositor) StageDone(stage model.Stage) float64 {
	return c.StageProgress(stage, 1)
}

// StageSkipped jumps past a stage that will not run (unavailable capability,
// user-confirmed fallback). Indistinguishable from completion in the
// composed value, which keeps it monotonic.
func (c *Compositor) StageSkipped(stage model.Stage) float64 {
	return c.StageProgress(stage, 1)
}

// Current returns the composed value.
func (c *Compositor) Current() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}
