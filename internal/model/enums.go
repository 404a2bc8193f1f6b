package model

// Pipeline stages
type Stage string

const (
	StageIdle        Stage = "idle"
	StageCapturing   Stage = "capturing"
	StageReviewing   Stage = "reviewing"
	StageAnonymizing Stage = "anonymizing"
	StageCaptioning  Stage = "captioning"
	StageUploading   Stage = "uploading"
	StagePublished   Stage = "published"
	StageFailed      Stage = "failed"
)

// Privacy modes
type PrivacyMode string

const (
	PrivacyModeNone  PrivacyMode = "none"
	PrivacyModeBlur  PrivacyMode = "blur"
	PrivacyModeEmoji PrivacyMode = "emoji"
)

var ValidPrivacyModes = []PrivacyMode{
	PrivacyModeNone, PrivacyModeBlur, PrivacyModeEmoji,
}

// Anonymization methods
type AnonymizeMethod string

const (
	MethodRealtime    AnonymizeMethod = "realtime"
	MethodPostprocess AnonymizeMethod = "postprocess"
	MethodNone        AnonymizeMethod = "none"
)

// Camera facing directions
type CameraFacing string

const (
	FacingFront CameraFacing = "front"
	FacingBack  CameraFacing = "back"
)

// Job status
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// Transcript status reported by the transcription service
type TranscriptStatus string

const (
	TranscriptQueued     TranscriptStatus = "queued"
	TranscriptProcessing TranscriptStatus = "processing"
	TranscriptCompleted  TranscriptStatus = "completed"
	TranscriptError      TranscriptStatus = "error"
)

// Job types
const (
	JobTypeTransform = "transform"
	JobTypeCaption   = "caption"
	JobTypePublish   = "publish"
)
