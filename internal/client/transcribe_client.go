package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/config"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

// ErrPollTimeout means polling exhausted its attempt budget without the
// transcript reaching a terminal state. Distinct from a remote error.
var ErrPollTimeout = errors.New("transcription polling timed out")

// Transcriber defines the interface for remote transcription operations
type Transcriber interface {
	UploadAudio(ctx context.Context, audio io.Reader) (string, error)
	SubmitTranscript(ctx context.Context, audioURL string) (string, error)
	GetTranscript(ctx context.Context, transcriptID string) (*TranscriptResult, error)
	PollTranscript(ctx context.Context, transcriptID string, interval time.Duration, maxAttempts int) (*TranscriptResult, error)
	IsConfigured() bool
}

// TranscribeClient implements Transcriber for an AssemblyAI-style API:
// upload bytes, submit a job, poll until a terminal status.
type TranscribeClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logrus.Entry
}

// TranscriptWord is a word-level timestamp in milliseconds as reported by
// the remote service.
type TranscriptWord struct {
	Text       string  `json:"text"`
	StartMs    int64   `json:"start"`
	EndMs      int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

// TranscriptResult is the remote transcript state.
type TranscriptResult struct {
	ID     string                 `json:"id"`
	Status model.TranscriptStatus `json:"status"`
	Text   string                 `json:"text,omitempty"`
	Words  []TranscriptWord       `json:"words,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// NewTranscribeClient creates a new transcription API client
func NewTranscribeClient(cfg *config.TranscribeConfig, log *logrus.Entry) *TranscribeClient {
	return &TranscribeClient{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		log:     log,
	}
}

// UploadAudio streams raw audio bytes to the service and returns the upload URL.
func (c *TranscribeClient) UploadAudio(ctx context.Context, audio io.Reader) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", audio)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		UploadURL string `json:"upload_url"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.UploadURL == "" {
		return "", fmt.Errorf("no upload URL in response")
	}
	return result.UploadURL, nil
}

// SubmitTranscript starts a transcription job with word-level timestamps.
func (c *TranscribeClient) SubmitTranscript(ctx context.Context, audioURL string) (string, error) {
	body := map[string]interface{}{
		"audio_url":   audioURL,
		"punctuate":   true,
		"format_text": true,
	}

	var result TranscriptResult
	if err := c.post(ctx, "/v2/transcript", body, &result); err != nil {
		return "", err
	}
	if result.ID == "" {
		return "", fmt.Errorf("no transcript ID in response")
	}
	return result.ID, nil
}

// GetTranscript retrieves the current state of a transcription job.
func (c *TranscribeClient) GetTranscript(ctx context.Context, transcriptID string) (*TranscriptResult, error) {
	var result TranscriptResult
	if err := c.get(ctx, fmt.Sprintf("/v2/transcript/%s", transcriptID), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PollTranscript polls on a fixed interval up to maxAttempts. Exceeding the
// attempt budget yields ErrPollTimeout; a remote "error" status is a distinct
// failure carrying the remote payload.
func (c *TranscribeClient) PollTranscript(ctx context.Context, transcriptID string, interval time.Duration, maxAttempts int) (*TranscriptResult, error) {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := c.GetTranscript(ctx, transcriptID)
		if err != nil {
			return nil, err
		}

		c.log.WithFields(logrus.Fields{
			"transcript": transcriptID,
			"attempt":    attempt,
			"status":     result.Status,
		}).Debug("polled transcript")

		switch result.Status {
		case model.TranscriptCompleted:
			return result, nil
		case model.TranscriptError:
			return nil, fmt.Errorf("transcription failed remotely: %s", result.Error)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrPollTimeout, maxAttempts)
}

// post sends a POST request with JSON body
func (c *TranscribeClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(req, result)
}

// get sends a GET request and parses JSON response
func (c *TranscribeClient) get(ctx context.Context, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req, result)
}

func (c *TranscribeClient) doRequest(req *http.Request, result interface{}) error {
	req.Header.Set("Authorization", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TranscribeClient) IsConfigured() bool {
	return c.apiKey != ""
}
