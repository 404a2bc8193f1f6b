package pipeline

import (
	"context"
	"fmt"
	"time"

	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/capture"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/storage"
)

// Notifier receives pipeline events for client delivery.
type Notifier interface {
	NotifyProgress(sessionID string, stage model.Stage, progress float64, step string)
	NotifyStage(sessionID string, stage model.Stage)
	NotifyComplete(sessionID string, result interface{})
	NotifyError(sessionID string, stage model.Stage, code, message string)
}

// SessionOptions are the choices fixed when the session was created.
type SessionOptions struct {
	PrivacyMode model.PrivacyMode
	VoiceChange bool
	Captions    bool
	Method      model.AnonymizeMethod
}

type session struct {
	state      model.PipelineState
	options    SessionOptions
	compositor *Compositor
	capture    *capture.Session
	facing     model.CameraFacing
	maxDur     time.Duration
	cancelCh   chan struct{}
	canceled   bool
}

// Manager is the publish orchestrator's state holder: it owns every live
// PipelineState and is the only code that mutates one.
type Manager struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	device     capture.Device
	scratch    *storage.ScratchStore
	notifier   Notifier
	maxCapture time.Duration
	log        *logrus.Entry
}

func NewManager(device capture.Device, scratch *storage.ScratchStore, notifier Notifier, maxCapture time.Duration, log *logrus.Entry) *Manager {
	if maxCapture <= 0 {
		maxCapture = capture.DefaultMaxDuration
	}
	return &Manager{
		sessions:   make(map[string]*session),
		device:     device,
		scratch:    scratch,
		notifier:   notifier,
		maxCapture: maxCapture,
		log:        log,
	}
}

// Start creates a session and begins recording. The anonymization strategy
// is selected by platform capability: devices that can blur frame-by-frame
// use the realtime strategy, everything else post-processes after capture.
func (m *Manager) Start(ctx context.Context, userID string, req *model.SessionStartRequest) (*model.SessionStartResponse, error) {
	sessionID := uuid.New().String()

	method := model.MethodNone
	if req.PrivacyMode != model.PrivacyModeNone || req.VoiceChange {
		if m.device.SupportsRealtimeFilter() {
			method = model.MethodRealtime
		} else {
			method = model.MethodPostprocess
		}
	}

	rawPath, err := m.scratch.Path(sessionID, "raw.mp4")
	if err != nil {
		return nil, err
	}

	// Callers may shorten the recording window but never extend it past the
	// configured hard cap.
	maxDur := m.maxCapture
	if req.MaxDurationSec > 0 {
		if d := time.Duration(req.MaxDurationSec) * time.Second; d < maxDur {
			maxDur = d
		}
	}

	cs, err := capture.Begin(ctx, m.device, capture.Config{
		Facing:      req.Facing,
		OutputPath:  rawPath,
		PrivacyMode: req.PrivacyMode,
		VoiceChange: req.VoiceChange,
	}, maxDur)
	if err != nil {
		m.scratch.Clear(sessionID)
		return nil, err
	}

	now := time.Now()
	s := &session{
		state: model.PipelineState{
			SessionID: sessionID,
			UserID:    userID,
			Stage:     model.StageCapturing,
			Privacy: model.PrivacyState{
				PrivacyMode: req.PrivacyMode,
				Method:      method,
			},
			CaptionsRequested: req.Captions,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		options: SessionOptions{
			PrivacyMode: req.PrivacyMode,
			VoiceChange: req.VoiceChange,
			Captions:    req.Captions,
			Method:      method,
		},
		compositor: NewCompositor(method == model.MethodPostprocess, req.Captions),
		capture:    cs,
		facing:     req.Facing,
		maxDur:     maxDur,
		cancelCh:   make(chan struct{}),
	}

	m.mu.Lock()
	m.sessions[sessionID] = s
	m.mu.Unlock()

	// The countdown force-stops the device at the cap; the completion signal
	// lands here whether the stop was explicit or timer-driven.
	go func() {
		res := <-cs.Done()
		m.finalizeCapture(sessionID, res)
	}()

	m.log.WithFields(logrus.Fields{
		"session": sessionID,
		"method":  method,
		"mode":    req.PrivacyMode,
	}).Info("capture session started")

	return &model.SessionStartResponse{
		SessionID: sessionID,
		Stage:     model.StageCapturing,
		Method:    method,
		CreatedAt: now,
	}, nil
}

// Stop ends recording and moves the session to reviewing.
func (m *Manager) Stop(sessionID string) (*model.SessionStopResponse, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if stage := m.currentStage(s); stage != model.StageCapturing {
		return nil, fmt.Errorf("%w: session in %s", capture.ErrNotRecording, stage)
	}

	rec, err := s.capture.Stop()
	m.finalizeCapture(sessionID, capture.Result{Recording: rec, Err: err})
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if s.state.Artifact == nil {
		return nil, fmt.Errorf("capture finished without a recording")
	}
	return &model.SessionStopResponse{
		SessionID: sessionID,
		Stage:     s.state.Stage,
		Artifact:  *s.state.Artifact,
		Privacy:   s.state.Privacy,
	}, nil
}

func (m *Manager) finalizeCapture(sessionID string, res capture.Result) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok || s.state.Stage != model.StageCapturing {
		m.mu.Unlock()
		return
	}

	if res.Err == nil && res.Recording == nil {
		res.Err = fmt.Errorf("device delivered no recording")
	}
	if res.Err != nil {
		s.state.Stage = model.StageFailed
		s.state.LastError = &model.StageError{
			Stage:   model.StageCapturing,
			Code:    "RECORDING_ERROR",
			Message: res.Err.Error(),
		}
		s.state.UpdatedAt = time.Now()
		m.mu.Unlock()
		m.notifier.NotifyError(sessionID, model.StageCapturing, "RECORDING_ERROR", res.Err.Error())
		return
	}

	rec := res.Recording
	s.state.Artifact = &model.MediaArtifact{
		URI:             rec.Path,
		Width:           rec.Width,
		Height:          rec.Height,
		DurationSeconds: rec.DurationSeconds,
		SizeBytes:       rec.SizeBytes,
	}
	s.state.OriginalURI = rec.Path
	if rec.BlurredLive {
		// Realtime strategy: the stop() output already satisfies the
		// requested PrivacyState, no separate transform step.
		s.state.Privacy.FaceBlurApplied = true
		s.compositor.StageSkipped(model.StageAnonymizing)
	}
	if rec.VoiceChangedLive {
		s.state.Privacy.VoiceChangeApplied = true
	}
	s.state.Stage = model.StageReviewing
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.notifier.NotifyStage(sessionID, model.StageReviewing)
}

// Get returns a snapshot of the session state.
func (m *Manager) Get(sessionID string) (model.PipelineState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return model.PipelineState{}, ErrSessionNotFound
	}
	return snapshot(s), nil
}

// Options returns the fixed choices made at session creation.
func (m *Manager) Options(sessionID string) (SessionOptions, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return SessionOptions{}, ErrSessionNotFound
	}
	return s.options, nil
}

// CancelCh is closed when the session is discarded, so in-flight background
// work can be interrupted at any suspension point.
func (m *Manager) CancelCh(sessionID string) (<-chan struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.cancelCh, nil
}

// Discard tears the session down from any stage: recording is force-stopped
// rather than orphaned, in-flight work is cancelled, scratch artifacts are
// deleted and the state resets to idle.
func (m *Manager) Discard(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, sessionID)
	if !s.canceled {
		s.canceled = true
		close(s.cancelCh)
	}
	cs := s.capture
	wasCapturing := s.state.Stage == model.StageCapturing
	m.mu.Unlock()

	if wasCapturing && cs != nil {
		cs.ForceStop()
	}
	if err := m.scratch.Clear(sessionID); err != nil {
		return err
	}

	m.log.WithField("session", sessionID).Info("session discarded")
	m.notifier.NotifyStage(sessionID, model.StageIdle)
	return nil
}

// Retake deletes the session's artifacts and starts recording again with the
// same options.
func (m *Manager) Retake(ctx context.Context, sessionID string) (*model.SessionStartResponse, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if err := checkTransition(s.state.Stage, model.StageCapturing); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	opts := s.options
	facing := s.facing
	maxDur := s.maxDur
	userID := s.state.UserID
	delete(m.sessions, sessionID)
	if !s.canceled {
		s.canceled = true
		close(s.cancelCh)
	}
	m.mu.Unlock()

	if err := m.scratch.Clear(sessionID); err != nil {
		return nil, err
	}

	return m.Start(ctx, userID, &model.SessionStartRequest{
		PrivacyMode:    opts.PrivacyMode,
		VoiceChange:    opts.VoiceChange,
		Captions:       opts.Captions,
		Facing:         facing,
		MaxDurationSec: int(maxDur.Seconds()),
	})
}

// BeginStage validates and applies a stage transition.
func (m *Manager) BeginStage(sessionID string, to model.Stage) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if err := checkTransition(s.state.Stage, to); err != nil {
		m.mu.Unlock()
		return err
	}
	s.state.Stage = to
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.notifier.NotifyStage(sessionID, to)
	return nil
}

// StageProgress folds a stage-local fraction into the session's composed
// progress and pushes it to subscribers. A later stage can never drag the
// composed value below what an earlier stage already reported.
func (m *Manager) StageProgress(sessionID string, stage model.Stage, frac float64, step string) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	composed := s.compositor.StageProgress(stage, frac)
	s.state.Progress = composed
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.notifier.NotifyProgress(sessionID, stage, composed, step)
}

// SkipStage credits a stage that will not run.
func (m *Manager) SkipStage(sessionID string, stage model.Stage) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	composed := s.compositor.StageSkipped(stage)
	s.state.Progress = composed
	m.mu.Unlock()

	m.notifier.NotifyProgress(sessionID, stage, composed, "skipped")
}

// CompleteAnonymize records the post-process result: a new artifact plus the
// PrivacyState it earned. The lineage invariant is enforced here, not
// trusted from the caller.
func (m *Manager) CompleteAnonymize(sessionID string, artifact model.MediaArtifact, privacy model.PrivacyState) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	if privacy.Method == model.MethodPostprocess {
		if err := verifyPrivacy(privacy, artifact, s.state.OriginalURI); err != nil {
			m.mu.Unlock()
			return err
		}
	}
	s.state.Artifact = &artifact
	s.state.Privacy = privacy
	s.state.LastError = nil
	composed := s.compositor.StageDone(model.StageAnonymizing)
	s.state.Progress = composed
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.notifier.NotifyProgress(sessionID, model.StageAnonymizing, composed, "anonymization complete")
	return nil
}

// SetCaptions attaches generated segments to the session.
func (m *Manager) SetCaptions(sessionID string, segments []model.CaptionSegment) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	s.state.Captions = segments
	composed := s.compositor.StageDone(model.StageCaptioning)
	s.state.Progress = composed
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.notifier.NotifyProgress(sessionID, model.StageCaptioning, composed, "captions ready")
	return nil
}

// FailStage records a stage failure and moves to the given recovery stage.
// The current artifact is never deleted here; the user decides.
func (m *Manager) FailStage(sessionID string, stage model.Stage, code, message string, recover model.Stage) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	s.state.LastError = &model.StageError{Stage: stage, Code: code, Message: message}
	if CanTransition(s.state.Stage, recover) {
		s.state.Stage = recover
	}
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	m.notifier.NotifyError(sessionID, stage, code, message)
	return nil
}

// CompletePublish marks the session published, clears its scratch artifacts
// and delivers the terminal result.
func (m *Manager) CompletePublish(sessionID, publishedID string, result interface{}) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	s.state.Stage = model.StagePublished
	s.state.PublishedID = publishedID
	composed := s.compositor.StageDone(model.StageUploading)
	s.state.Progress = composed
	s.state.LastError = nil
	s.state.UpdatedAt = time.Now()
	m.mu.Unlock()

	if err := m.scratch.Clear(sessionID); err != nil {
		m.log.WithError(err).WithField("session", sessionID).Warn("failed to clear scratch after publish")
	}
	m.notifier.NotifyStage(sessionID, model.StagePublished)
	m.notifier.NotifyComplete(sessionID, result)
	return nil
}

func (m *Manager) currentStage(s *session) model.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return s.state.Stage
}

func snapshot(s *session) model.PipelineState {
	st := s.state
	if s.state.Artifact != nil {
		a := *s.state.Artifact
		st.Artifact = &a
	}
	if s.state.LastError != nil {
		e := *s.state.LastError
		st.LastError = &e
	}
	st.Captions = append([]model.CaptionSegment(nil), s.state.Captions...)
	st.Progress = s.compositor.Current()
	return st
}
