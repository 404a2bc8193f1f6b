package model

import "time"

// Job represents a background pipeline job in the system
type Job struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"sessionId"`
	Type        string     `json:"type"` // "transform", "caption" or "publish"
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Payload     []byte     `json:"-"` // Stored as JSON
	Result      []byte     `json:"-"` // Stored as JSON
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	RetryCount  int        `json:"retryCount"`
}

// TransformJobPayload contains the data for a post-process anonymization job
type TransformJobPayload struct {
	SessionID string `json:"sessionId"`
}

// CaptionJobPayload contains the data for a caption generation job
type CaptionJobPayload struct {
	SessionID string `json:"sessionId"`
}

// PublishJobPayload contains the data for a publish job
type PublishJobPayload struct {
	SessionID      string `json:"sessionId"`
	AllowUnblurred bool   `json:"allowUnblurred"`
}
