package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
)

var (
	// ErrPermissionDenied means the camera/microphone capability was not granted.
	ErrPermissionDenied = errors.New("capture permission denied")
	// ErrDeviceUnavailable means no capture device resolved for the requested facing.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrNotRecording is returned when stop is called outside the recording state.
	ErrNotRecording = errors.New("session is not recording")
)

// Config describes one recording request.
type Config struct {
	Facing      model.CameraFacing
	OutputPath  string
	PrivacyMode model.PrivacyMode
	VoiceChange bool
}

// Recording is the raw media produced by a stopped device session.
type Recording struct {
	Path            string
	Width           int
	Height          int
	DurationSeconds float64
	SizeBytes       int64
	// BlurredLive / VoiceChangedLive are set when the device applied the
	// transform frame-by-frame during capture (realtime strategy), in which
	// case no post-process pass is needed.
	BlurredLive      bool
	VoiceChangedLive bool
}

// DeviceSession is an in-flight device recording.
type DeviceSession interface {
	Stop() (*Recording, error)
}

// Device abstracts the camera/microphone capability.
type Device interface {
	RequestPermissions(ctx context.Context) error
	// SupportsRealtimeFilter reports whether the device can blur faces
	// frame-by-frame during capture.
	SupportsRealtimeFilter() bool
	Start(ctx context.Context, cfg Config) (DeviceSession, error)
}

// StubDevice simulates a capture device for development and tests, the same
// way unconfigured external clients fall back to mocks elsewhere.
type StubDevice struct {
	RealtimeFilter bool
	DenyPermission bool
	Unavailable    bool
}

func (d *StubDevice) RequestPermissions(ctx context.Context) error {
	if d.DenyPermission {
		return ErrPermissionDenied
	}
	return nil
}

func (d *StubDevice) SupportsRealtimeFilter() bool {
	return d.RealtimeFilter
}

func (d *StubDevice) Start(ctx context.Context, cfg Config) (DeviceSession, error) {
	if d.Unavailable {
		return nil, fmt.Errorf("%w: no device for facing %q", ErrDeviceUnavailable, cfg.Facing)
	}

	f, err := os.Create(cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}

	return &stubSession{
		file:      f,
		cfg:       cfg,
		realtime:  d.RealtimeFilter,
		startedAt: time.Now(),
	}, nil
}

type stubSession struct {
	file      *os.File
	cfg       Config
	realtime  bool
	startedAt time.Time
}

func (s *stubSession) Stop() (*Recording, error) {
	// A few frames worth of placeholder bytes so downstream stages operate
	// on a real, non-empty file.
	if _, err := s.file.WriteString("stub-video-payload\n"); err != nil {
		s.file.Close()
		return nil, fmt.Errorf("failed to write recording: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}

	info, err := os.Stat(s.cfg.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat recording: %w", err)
	}

	liveBlur := s.realtime && s.cfg.PrivacyMode != model.PrivacyModeNone

	return &Recording{
		Path:             s.cfg.OutputPath,
		Width:            1080,
		Height:           1920,
		DurationSeconds:  time.Since(s.startedAt).Seconds(),
		SizeBytes:        info.Size(),
		BlurredLive:      liveBlur,
		VoiceChangedLive: s.realtime && s.cfg.VoiceChange,
	}, nil
}
