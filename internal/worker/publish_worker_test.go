package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/bestfriendai/SupaSecret-sub010/internal/anonymize"
	"github.com/bestfriendai/SupaSecret-sub010/internal/caption"
	"github.com/bestfriendai/SupaSecret-sub010/internal/capture"
	"github.com/bestfriendai/SupaSecret-sub010/internal/model"
	"github.com/bestfriendai/SupaSecret-sub010/internal/pipeline"
	"github.com/bestfriendai/SupaSecret-sub010/internal/service"
	"github.com/bestfriendai/SupaSecret-sub010/internal/storage"
)

type nopNotifier struct{}

func (nopNotifier) NotifyProgress(string, model.Stage, float64, string) {}
func (nopNotifier) NotifyStage(string, model.Stage)                     {}
func (nopNotifier) NotifyComplete(string, interface{})                  {}
func (nopNotifier) NotifyError(string, model.Stage, string, string)     {}

// fakeTransformer stands in for ffmpeg; on success it writes a new file at
// the output path so the lineage check sees a real artifact.
type fakeTransformer struct {
	fail  bool
	calls atomic.Int32
}

func (f *fakeTransformer) IsAvailable() bool { return true }

func (f *fakeTransformer) Process(ctx context.Context, inputPath, outputPath string, opts anonymize.Options, onProgress func(float64)) error {
	f.calls.Add(1)
	if f.fail {
		return fmt.Errorf("filter graph error")
	}
	if onProgress != nil {
		onProgress(1)
	}
	return os.WriteFile(outputPath, []byte("transformed-video"), 0o644)
}

// fakeStorage records uploads and can fail a number of attempts or block
// until the request context is cancelled.
type fakeStorage struct {
	mu       sync.Mutex
	uploads  []string
	failures int
	block    bool
	started  chan struct{}
}

func (f *fakeStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string, onProgress func(float64)) (string, error) {
	f.mu.Lock()
	f.uploads = append(f.uploads, key)
	fail := f.failures > 0
	if fail {
		f.failures--
	}
	started := f.started
	f.started = nil
	block := f.block
	f.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if fail {
		return "", fmt.Errorf("r2 put failed")
	}
	io.Copy(io.Discard, body)
	if onProgress != nil {
		onProgress(1)
	}
	return "https://cdn.test/" + key, nil
}

func (f *fakeStorage) Delete(ctx context.Context, key string) error { return nil }
func (f *fakeStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "", nil
}
func (f *fakeStorage) GetPublicURL(key string) string { return "" }

func (f *fakeStorage) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.uploads)
}

type workerEnv struct {
	svc     *service.PipelineService
	manager *pipeline.Manager
	scratch *storage.ScratchStore
	log     *logrus.Entry
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	scratch, err := storage.NewScratchStore(t.TempDir())
	if err != nil {
		t.Fatalf("scratch store: %v", err)
	}

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	entry := logrus.NewEntry(log)

	manager := pipeline.NewManager(&capture.StubDevice{}, scratch, nopNotifier{}, time.Minute, entry)
	svc := service.NewPipelineService(redisClient, asynqClient, manager)

	return &workerEnv{svc: svc, manager: manager, scratch: scratch, log: entry}
}

func (e *workerEnv) newPublishWorker(tr anonymize.Transformer, store *fakeStorage, maxRetries int) *PublishWorker {
	engine := anonymize.NewEngine(tr, e.log)
	generator := caption.NewGenerator(nil, nil, time.Millisecond, 1, 8, e.log)
	return NewPublishWorker(e.svc, e.manager, engine, generator, store, e.scratch, maxRetries, e.log)
}

// startReviewedSession records and stops a session so it sits in reviewing
// with a raw artifact on disk.
func (e *workerEnv) startReviewedSession(t *testing.T, req *model.SessionStartRequest) string {
	t.Helper()
	resp, err := e.manager.Start(context.Background(), "user-1", req)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := e.manager.Stop(resp.SessionID); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	return resp.SessionID
}

func (e *workerEnv) queuePublish(t *testing.T, sessionID string, allowUnblurred bool) (string, *asynq.Task) {
	t.Helper()
	resp, err := e.svc.StartPublish(context.Background(), sessionID, allowUnblurred)
	if err != nil {
		t.Fatalf("start publish failed: %v", err)
	}
	payload, _ := json.Marshal(model.PublishJobPayload{SessionID: sessionID, AllowUnblurred: allowUnblurred})
	envelope, _ := json.Marshal(map[string]interface{}{
		"jobId":   resp.JobID,
		"payload": json.RawMessage(payload),
	})
	return resp.JobID, asynq.NewTask(service.TaskTypePublish, envelope)
}

func TestPublishJoinsPendingTransform(t *testing.T) {
	env := newWorkerEnv(t)
	tr := &fakeTransformer{}
	store := &fakeStorage{}
	w := env.newPublishWorker(tr, store, 1)

	id := env.startReviewedSession(t, &model.SessionStartRequest{PrivacyMode: model.PrivacyModeBlur})
	jobID, task := env.queuePublish(t, id, false)

	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	state, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.Stage != model.StagePublished {
		t.Errorf("expected published, got %s", state.Stage)
	}
	if !state.Privacy.FaceBlurApplied {
		t.Error("publish must run the pending transform before upload")
	}
	if tr.calls.Load() != 1 {
		t.Errorf("expected one transform pass, got %d", tr.calls.Load())
	}

	// Video plus metadata object, both user-keyed.
	if store.uploadCount() != 2 {
		t.Fatalf("expected 2 uploads, got %d", store.uploadCount())
	}
	if !strings.HasPrefix(store.uploads[0], "confessions/user-1/") || !strings.HasSuffix(store.uploads[0], ".mp4") {
		t.Errorf("unexpected video key %s", store.uploads[0])
	}
	if !strings.HasSuffix(store.uploads[1], ".json") {
		t.Errorf("unexpected metadata key %s", store.uploads[1])
	}

	status, err := env.svc.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.JobStatusSucceeded {
		t.Errorf("expected succeeded job, got %s", status.Status)
	}

	if _, err := os.Stat(filepath.Join(env.scratch.Root(), id)); !os.IsNotExist(err) {
		t.Error("publish must clear the session scratch dir")
	}
}

func TestPublishCaptionsDegradeWhenUnconfigured(t *testing.T) {
	env := newWorkerEnv(t)
	w := env.newPublishWorker(&fakeTransformer{}, &fakeStorage{}, 1)

	id := env.startReviewedSession(t, &model.SessionStartRequest{
		PrivacyMode: model.PrivacyModeBlur,
		Captions:    true,
	})
	_, task := env.queuePublish(t, id, false)

	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	state, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.Stage != model.StagePublished {
		t.Errorf("caption unavailability must not block publish, got %s", state.Stage)
	}
	if len(state.Captions) != 0 {
		t.Error("expected no captions from an unconfigured transcriber")
	}
}

func TestPublishUnblurredRequiresConfirmation(t *testing.T) {
	env := newWorkerEnv(t)
	store := &fakeStorage{}
	w := env.newPublishWorker(&fakeTransformer{fail: true}, store, 1)

	id := env.startReviewedSession(t, &model.SessionStartRequest{PrivacyMode: model.PrivacyModeBlur})
	jobID, task := env.queuePublish(t, id, false)

	if err := w.ProcessTask(context.Background(), task); err == nil {
		t.Fatal("expected process to fail without the unblurred confirmation")
	}

	state, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.Stage != model.StageReviewing {
		t.Errorf("failed transform must recover to reviewing, got %s", state.Stage)
	}
	if state.LastError == nil || state.LastError.Stage != model.StageAnonymizing {
		t.Errorf("expected a recorded anonymize failure, got %+v", state.LastError)
	}
	if store.uploadCount() != 0 {
		t.Error("nothing may be uploaded after a rejected transform")
	}

	// The raw recording survives the failure.
	if _, err := os.Stat(state.OriginalURI); err != nil {
		t.Errorf("raw recording missing after failure: %v", err)
	}

	status, err := env.svc.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.JobStatusFailed {
		t.Errorf("expected failed job, got %s", status.Status)
	}

	// Re-queueing without the confirmation is rejected synchronously; with
	// it, the publish is accepted.
	if _, err := env.svc.StartPublish(context.Background(), id, false); !errors.Is(err, pipeline.ErrBlurNotApplied) {
		t.Errorf("expected ErrBlurNotApplied, got %v", err)
	}
	if _, err := env.svc.StartPublish(context.Background(), id, true); err != nil {
		t.Errorf("confirmed publish should queue: %v", err)
	}
}

func TestPublishUnblurredWithConfirmation(t *testing.T) {
	env := newWorkerEnv(t)
	w := env.newPublishWorker(&fakeTransformer{fail: true}, &fakeStorage{}, 1)

	id := env.startReviewedSession(t, &model.SessionStartRequest{PrivacyMode: model.PrivacyModeBlur})
	jobID, task := env.queuePublish(t, id, true)

	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("confirmed publish failed: %v", err)
	}

	state, err := env.manager.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if state.Stage != model.StagePublished {
		t.Errorf("expected published, got %s", state.Stage)
	}

	result, err := env.svc.GetPublishResult(context.Background(), jobID)
	if err != nil {
		t.Fatalf("result failed: %v", err)
	}
	if result.Metadata.FaceBlurApplied {
		t.Error("metadata must not claim blur after the waived transform")
	}
	if result.VideoURL == "" {
		t.Error("expected a published video URL")
	}
}

func TestPublishUploadRetriesTransientFailure(t *testing.T) {
	env := newWorkerEnv(t)
	store := &fakeStorage{failures: 1}
	w := env.newPublishWorker(&fakeTransformer{}, store, 2)

	id := env.startReviewedSession(t, &model.SessionStartRequest{PrivacyMode: model.PrivacyModeBlur})
	_, task := env.queuePublish(t, id, false)

	if err := w.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process failed after transient upload error: %v", err)
	}

	// Failed attempt, successful retry, then the metadata object.
	if store.uploadCount() != 3 {
		t.Errorf("expected 3 upload calls, got %d", store.uploadCount())
	}
	state, _ := env.manager.Get(id)
	if state.Stage != model.StagePublished {
		t.Errorf("expected published after retry, got %s", state.Stage)
	}
}

func TestDiscardDuringUploadCancels(t *testing.T) {
	env := newWorkerEnv(t)
	store := &fakeStorage{block: true, started: make(chan struct{})}
	w := env.newPublishWorker(&fakeTransformer{}, store, 1)

	id := env.startReviewedSession(t, &model.SessionStartRequest{PrivacyMode: model.PrivacyModeBlur})
	jobID, task := env.queuePublish(t, id, false)

	done := make(chan error, 1)
	go func() { done <- w.ProcessTask(context.Background(), task) }()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never started")
	}
	if err := env.manager.Discard(id); err != nil {
		t.Fatalf("discard failed: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancelled publish must not be retried: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not unwind after discard")
	}

	status, err := env.svc.GetStatus(context.Background(), jobID)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Status != model.JobStatusCanceled {
		t.Errorf("expected canceled job, got %s", status.Status)
	}

	if _, err := env.manager.Get(id); !errors.Is(err, pipeline.ErrSessionNotFound) {
		t.Errorf("expected session gone after discard, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.scratch.Root(), id)); !os.IsNotExist(err) {
		t.Error("discard must clear the session scratch dir")
	}
}
