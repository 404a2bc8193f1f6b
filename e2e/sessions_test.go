package e2e

import (
	"fmt"
	"net/http"
	"testing"
)

func validSessionBody() string {
	return `{"privacyMode": "blur", "voiceChange": true, "captions": true, "facing": "front"}`
}

func startTestSession(t *testing.T, ta *testApp) string {
	t.Helper()
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/sessions", validSessionBody())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	id, _ := result["sessionId"].(string)
	if id == "" {
		t.Fatal("expected 'sessionId' in response")
	}
	return id
}

func TestSessionStart_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/sessions", validSessionBody())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["stage"] != "capturing" {
		t.Errorf("expected stage 'capturing', got %v", result["stage"])
	}
	// The stub device has no realtime filter, so blur post-processes.
	if result["method"] != "postprocess" {
		t.Errorf("expected method 'postprocess', got %v", result["method"])
	}
}

func TestSessionStart_InvalidPrivacyMode(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/sessions",
		`{"privacyMode": "pixelate"}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestSessionStart_Unauthorized(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodPost, "/api/sessions", validSessionBody(), nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestSessionStopAndGet(t *testing.T) {
	ta := setupApp(t)
	id := startTestSession(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/stop", id), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	if result["stage"] != "reviewing" {
		t.Errorf("expected stage 'reviewing', got %v", result["stage"])
	}
	if result["artifact"] == nil {
		t.Error("expected 'artifact' in stop response")
	}

	// A second stop conflicts with the current stage.
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/stop", id), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/sessions/"+id, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	state := parseJSON(t, resp)
	if state["stage"] != "reviewing" {
		t.Errorf("expected stage 'reviewing', got %v", state["stage"])
	}
	if state["captionsRequested"] != true {
		t.Error("expected captionsRequested to persist")
	}
}

func TestSessionGet_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/sessions/nope", "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSessionAnonymize_QueuesJob(t *testing.T) {
	ta := setupApp(t)
	id := startTestSession(t, ta)

	// Anonymize before stopping is rejected.
	resp, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/anonymize", id), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	if _, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/stop", id), ""); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/anonymize", id), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	jobID, _ := result["jobId"].(string)
	if jobID == "" {
		t.Fatal("expected 'jobId' in response")
	}
	if result["status"] != "queued" {
		t.Errorf("expected status 'queued', got %v", result["status"])
	}

	// The job record is immediately visible.
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/status/"+jobID, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	status := parseJSON(t, resp)
	if status["sessionId"] != id {
		t.Errorf("job status should reference the session, got %v", status["sessionId"])
	}
}

func TestSessionPublish_QueuesJob(t *testing.T) {
	ta := setupApp(t)
	id := startTestSession(t, ta)
	if _, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/stop", id), ""); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/publish", id),
		`{"allowUnblurred": false}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)

	result := parseJSON(t, resp)
	if result["jobId"] == nil {
		t.Error("expected 'jobId' in response")
	}
}

func TestSessionDiscard(t *testing.T) {
	ta := setupApp(t)
	id := startTestSession(t, ta)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/discard", id), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/sessions/"+id, "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
}

func TestSessionRetake(t *testing.T) {
	ta := setupApp(t)
	id := startTestSession(t, ta)
	if _, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/stop", id), ""); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, fmt.Sprintf("/api/sessions/%s/retake", id), "")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)

	result := parseJSON(t, resp)
	newID, _ := result["sessionId"].(string)
	if newID == "" || newID == id {
		t.Errorf("retake should mint a fresh session, got %q", newID)
	}
	if result["stage"] != "capturing" {
		t.Errorf("expected stage 'capturing', got %v", result["stage"])
	}
}
