package caption

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/client"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

var (
	// ErrNotConfigured means no transcription credential is available; the
	// caption feature is skipped, never treated as a publish failure.
	ErrNotConfigured = errors.New("transcription service not configured")
	// ErrExtractFailed means the audio track could not be packaged.
	ErrExtractFailed = errors.New("audio extraction failed")
	// ErrUploadFailed means the audio could not be delivered to the service.
	ErrUploadFailed = errors.New("audio upload failed")
)

// DefaultWindowSize is how many words each caption segment holds.
const DefaultWindowSize = 8

// AudioExtractor packages a video's audio track for transmission.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, audioPath string) error
}

// FFmpegExtractor implements AudioExtractor with an ffmpeg child process.
type FFmpegExtractor struct {
	bin string
}

func NewFFmpegExtractor(bin string) *FFmpegExtractor {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpegExtractor{bin: bin}
}

func (e *FFmpegExtractor) Extract(ctx context.Context, videoPath, audioPath string) error {
	cmd := exec.CommandContext(ctx, e.bin,
		"-y", "-i", videoPath,
		"-vn", "-ac", "1", "-ar", "16000",
		audioPath,
	)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg audio extract failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Generator produces time-aligned caption segments from an artifact's audio
// track: extract, upload, submit, poll, group.
type Generator struct {
	transcriber client.Transcriber
	extractor   AudioExtractor
	interval    time.Duration
	maxAttempts int
	windowSize  int
	log         *logrus.Entry
}

func NewGenerator(transcriber client.Transcriber, extractor AudioExtractor, interval time.Duration, maxAttempts, windowSize int, log *logrus.Entry) *Generator {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Generator{
		transcriber: transcriber,
		extractor:   extractor,
		interval:    interval,
		maxAttempts: maxAttempts,
		windowSize:  windowSize,
		log:         log,
	}
}

// Generate runs the full caption pipeline for one artifact. audioPath is a
// scratch location for the extracted track; it is removed before returning.
func (g *Generator) Generate(ctx context.Context, artifact model.MediaArtifact, audioPath string) ([]model.CaptionSegment, error) {
	if g.transcriber == nil || !g.transcriber.IsConfigured() {
		return nil, ErrNotConfigured
	}

	if err := g.extractor.Extract(ctx, artifact.URI, audioPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}
	defer os.Remove(audioPath)

	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractFailed, err)
	}
	audioURL, err := g.transcriber.UploadAudio(ctx, f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	transcriptID, err := g.transcriber.SubmitTranscript(ctx, audioURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	g.log.WithFields(logrus.Fields{
		"transcript": transcriptID,
		"uri":        artifact.URI,
	}).Info("transcription submitted")

	result, err := g.transcriber.PollTranscript(ctx, transcriptID, g.interval, g.maxAttempts)
	if err != nil {
		return nil, err
	}

	return GroupWords(result.Words, g.windowSize), nil
}

// GroupWords converts word-level millisecond timings into display-ready
// segments: fixed-size windows, each segment spanning from its first word's
// start to its last word's end, all timestamps in seconds.
func GroupWords(words []client.TranscriptWord, window int) []model.CaptionSegment {
	if len(words) == 0 {
		return nil
	}
	if window <= 0 {
		window = DefaultWindowSize
	}

	segments := make([]model.CaptionSegment, 0, (len(words)+window-1)/window)
	for start := 0; start < len(words); start += window {
		end := start + window
		if end > len(words) {
			end = len(words)
		}
		chunk := words[start:end]

		texts := make([]string, 0, len(chunk))
		segWords := make([]model.CaptionWord, 0, len(chunk))
		for _, w := range chunk {
			texts = append(texts, w.Text)
			segWords = append(segWords, model.CaptionWord{
				Word:       w.Text,
				StartTime:  float64(w.StartMs) / 1000,
				EndTime:    float64(w.EndMs) / 1000,
				Confidence: w.Confidence,
			})
		}

		segments = append(segments, model.CaptionSegment{
			ID:        uuid.New().String(),
			Text:      strings.Join(texts, " "),
			StartTime: float64(chunk[0].StartMs) / 1000,
			EndTime:   float64(chunk[len(chunk)-1].EndMs) / 1000,
			Words:     segWords,
		})
	}
	return segments
}
