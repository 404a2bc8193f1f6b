package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeStage    = "stage"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage carries the composed 0-100 pipeline progress for a
// session plus the stage currently contributing to it.
type WSProgressMessage struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"sessionId"`
	Stage       Stage   `json:"stage"`
	Progress    float64 `json:"progress"`
	CurrentStep string  `json:"currentStep,omitempty"`
}

// WSStageMessage announces a pipeline stage transition.
type WSStageMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Stage     Stage  `json:"stage"`
}

// WSCompleteMessage announces that the session was published.
type WSCompleteMessage struct {
	Type      string      `json:"type"`
	SessionID string      `json:"sessionId"`
	Result    interface{} `json:"result"`
}

// WSErrorMessage represents a stage error
type WSErrorMessage struct {
	Type      string  `json:"type"`
	SessionID string  `json:"sessionId"`
	Error     WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Stage   Stage  `json:"stage,omitempty"`
}
