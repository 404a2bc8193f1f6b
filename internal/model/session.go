package model

import "time"

// PipelineState is the single source of truth for one recording session:
// which stage is active, which artifact is current, and what has been
// verified. It is created when recording starts and mutated only by the
// pipeline manager.
type PipelineState struct {
	SessionID   string           `json:"sessionId"`
	UserID      string           `json:"userId"`
	Stage       Stage            `json:"stage"`
	Artifact    *MediaArtifact   `json:"artifact,omitempty"`
	OriginalURI string           `json:"originalUri,omitempty"`
	Privacy     PrivacyState     `json:"privacy"`
	Captions    []CaptionSegment `json:"captions,omitempty"`
	// CaptionsRequested distinguishes "not asked" from "asked but failed";
	// caption failures degrade to no captions without blocking publish.
	CaptionsRequested bool    `json:"captionsRequested"`
	Progress          float64 `json:"progress"`
	// LastError holds the most recent stage failure so the client can offer
	// retry / fall back / discard. It never implies artifact deletion.
	LastError   *StageError `json:"lastError,omitempty"`
	PublishedID string      `json:"publishedId,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// StageError describes a failure in one pipeline stage.
type StageError struct {
	Stage   Stage  `json:"stage"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SessionStartRequest begins a new capture session.
type SessionStartRequest struct {
	PrivacyMode    PrivacyMode  `json:"privacyMode" validate:"required,oneof=none blur emoji"`
	VoiceChange    bool         `json:"voiceChange"`
	Captions       bool         `json:"captions"`
	Facing         CameraFacing `json:"facing" validate:"omitempty,oneof=front back"`
	MaxDurationSec int          `json:"maxDurationSec" validate:"omitempty,min=1,max=60"`
}

// SessionStartResponse reports the new session and the strategy selected for
// its privacy mode.
type SessionStartResponse struct {
	SessionID string          `json:"sessionId"`
	Stage     Stage           `json:"stage"`
	Method    AnonymizeMethod `json:"method"`
	CreatedAt time.Time       `json:"createdAt"`
}

// SessionStopResponse carries the raw artifact produced by stopping capture.
type SessionStopResponse struct {
	SessionID string        `json:"sessionId"`
	Stage     Stage         `json:"stage"`
	Artifact  MediaArtifact `json:"artifact"`
	Privacy   PrivacyState  `json:"privacy"`
}

// PublishRequest finalizes a session. AllowUnblurred must be set explicitly
// when blur was requested but could not be applied; publishing unblurred
// material is never a silent fallback.
type PublishRequest struct {
	AllowUnblurred bool `json:"allowUnblurred"`
}

// JobStartResponse is returned when a background stage is queued.
type JobStartResponse struct {
	JobID     string    `json:"jobId"`
	SessionID string    `json:"sessionId"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobStatusResponse reports background job progress.
type JobStatusResponse struct {
	JobID       string     `json:"jobId"`
	SessionID   string     `json:"sessionId"`
	Type        string     `json:"type"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// PublishResultResponse is the terminal result of a successful publish.
type PublishResultResponse struct {
	SessionID   string          `json:"sessionId"`
	PublishedID string          `json:"publishedId"`
	VideoURL    string          `json:"videoUrl"`
	Metadata    PublishMetadata `json:"metadata"`
	PublishedAt time.Time       `json:"publishedAt"`
}
