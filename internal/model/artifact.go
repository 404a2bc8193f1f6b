package model

// MediaArtifact is an immutable reference to one version of a recorded or
// transformed video file. A pipeline stage that changes the media produces a
// new MediaArtifact with a new URI; nothing mutates an artifact in place.
type MediaArtifact struct {
	URI             string  `json:"uri"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	DurationSeconds float64 `json:"durationSeconds"`
	SizeBytes       int64   `json:"sizeBytes"`
}

// PrivacyState records which anonymization transforms have actually been
// applied to the current artifact. FaceBlurApplied may only be true when the
// current artifact URI differs from the originally captured one; the pipeline
// derives it from artifact lineage rather than trusting callers.
type PrivacyState struct {
	FaceBlurApplied    bool            `json:"faceBlurApplied"`
	VoiceChangeApplied bool            `json:"voiceChangeApplied"`
	PrivacyMode        PrivacyMode     `json:"privacyMode"`
	Method             AnonymizeMethod `json:"method"`
}

// CaptionWord is a single transcribed word with timing in seconds.
type CaptionWord struct {
	Word       string  `json:"word"`
	StartTime  float64 `json:"startTime"`
	EndTime    float64 `json:"endTime"`
	Confidence float64 `json:"confidence"`
}

// CaptionSegment is a timed chunk of transcribed text used for synchronized
// on-screen captions. Segments are ordered and non-overlapping.
type CaptionSegment struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	StartTime float64       `json:"startTime"`
	EndTime   float64       `json:"endTime"`
	Words     []CaptionWord `json:"words"`
}

// PublishMetadata is handed to the upload collaborator alongside the final
// artifact so the published record reflects what was actually applied.
type PublishMetadata struct {
	FaceBlurApplied    bool             `json:"faceBlurApplied"`
	VoiceChangeApplied bool             `json:"voiceChangeApplied"`
	Transcription      []CaptionSegment `json:"transcription,omitempty"`
	DurationSeconds    float64          `json:"durationSeconds"`
}
