package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMaxDuration is the hard recording cap.
const DefaultMaxDuration = 60 * time.Second

// Result is delivered on the session's completion channel.
type Result struct {
	Recording *Recording
	Err       error
}

// Session owns one record/stop lifecycle. The duration cap is a hard
// boundary: an internal timer force-stops the device exactly at the maximum,
// and the result is delivered through Done regardless of who stopped it.
type Session struct {
	mu          sync.Mutex
	device      DeviceSession
	timer       *time.Timer
	done        chan Result
	resultReady chan struct{}
	startedAt   time.Time
	stopped     bool
	result      Result
}

// Begin requests permissions, starts the device and arms the auto-stop timer.
func Begin(ctx context.Context, dev Device, cfg Config, maxDuration time.Duration) (*Session, error) {
	if err := dev.RequestPermissions(ctx); err != nil {
		return nil, err
	}

	if maxDuration <= 0 || maxDuration > DefaultMaxDuration {
		maxDuration = DefaultMaxDuration
	}

	deviceSession, err := dev.Start(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := &Session{
		device:      deviceSession,
		done:        make(chan Result, 1),
		resultReady: make(chan struct{}),
		startedAt:   time.Now(),
	}
	s.timer = time.AfterFunc(maxDuration, func() {
		s.stop(maxDuration)
	})

	return s, nil
}

// Stop ends the recording and returns the raw media. It is safe to call
// after the auto-stop fired, after a previous Stop, or during teardown; the
// first stop wins and later calls observe its outcome.
func (s *Session) Stop() (*Recording, error) {
	s.stop(-1)

	// A concurrent stop (usually the auto-stop timer) may still be inside
	// device.Stop; wait for its result instead of reading a half-written one.
	<-s.resultReady

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result.Recording, s.result.Err
}

// ForceStop is Stop for teardown paths (navigation away, app background)
// where the caller does not need the result. The recording is still ended
// and delivered on Done rather than orphaned.
func (s *Session) ForceStop() {
	s.stop(-1)
}

// Done yields the completion signal exactly once.
func (s *Session) Done() <-chan Result {
	return s.done
}

// Elapsed reports recording time so far.
func (s *Session) Elapsed() time.Duration {
	return time.Since(s.startedAt)
}

func (s *Session) stop(capAt time.Duration) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.timer.Stop()
	device := s.device
	s.mu.Unlock()

	rec, err := device.Stop()
	if err != nil {
		err = fmt.Errorf("recording failed: %w", err)
	} else if capAt > 0 && rec.DurationSeconds > capAt.Seconds() {
		// The timer fired: clamp reported duration to the cap, never past it.
		rec.DurationSeconds = capAt.Seconds()
	}

	s.mu.Lock()
	s.result = Result{Recording: rec, Err: err}
	s.mu.Unlock()
	close(s.resultReady)

	s.done <- Result{Recording: rec, Err: err}
}
