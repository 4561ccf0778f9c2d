package ingest

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

func newTestWebhook(t *testing.T, cfg WebhookConfig) *Webhook {
	t.Helper()
	if cfg.Source == "" {
		cfg.Source = "github"
	}
	w, err := NewWebhook(cfg, nil)
	if err != nil {
		t.Fatalf("new webhook: %v", err)
	}
	return w
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func post(w *Webhook, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/hooks/github", bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	w.ServeHTTP(rec, req)
	return rec
}

func TestServeHTTP_RejectsNonPOST(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{})
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/hooks/github", nil)
		rec := httptest.NewRecorder()
		w.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected 405, got %d", method, rec.Code)
		}
	}
}

func TestServeHTTP_RejectsNonJSON(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{})
	rec := post(w, []byte("not json"), nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestServeHTTP_NoSecretAcceptsUnsigned(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{})
	rec := post(w, []byte(`{"x":1}`), nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestServeHTTP_SecretRequiresSignature(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{Secret: "s3cret"})
	body := []byte(`{"x":1}`)

	if rec := post(w, body, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: expected 401, got %d", rec.Code)
	}

	bad := sign("wrong-secret", body)
	if rec := post(w, body, map[string]string{HeaderHubSignature: bad}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong secret: expected 401, got %d", rec.Code)
	}

	// Signature over a different body must not verify.
	stale := sign("s3cret", []byte(`{"x":2}`))
	if rec := post(w, body, map[string]string{HeaderHubSignature: stale}); rec.Code != http.StatusUnauthorized {
		t.Errorf("stale signature: expected 401, got %d", rec.Code)
	}
}

func TestServeHTTP_ValidSignatureAccepted(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{Secret: "s3cret"})
	body := []byte(`{"type":"message.received","payload":{"body":"hi"}}`)
	sig := sign("s3cret", body)

	rec := post(w, body, map[string]string{HeaderHubSignature: sig})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp["ok"] != true {
		t.Errorf("expected ok=true, got %v", resp)
	}
	if id, _ := resp["event_id"].(string); id == "" {
		t.Errorf("expected event_id in response, got %v", resp)
	}
}

func TestServeHTTP_FallbackSignatureHeader(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{Secret: "s3cret"})
	body := []byte(`{"x":1}`)
	sig := sign("s3cret", body)

	rec := post(w, body, map[string]string{HeaderSignature: sig})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 via %s, got %d", HeaderSignature, rec.Code)
	}
}

func TestNormalize_TypeAndProvenance(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{Source: "linear", Platform: "linear"})

	body := []byte(`{"type":"actor.stopped","provenance":{"actor":"agent-7"},"payload":{"reason":"done"}}`)
	post(w, body, nil)

	res, err := w.Poll(context.Background(), "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(res.Events))
	}
	evt := res.Events[0]
	if evt.Type != event.TypeActorStopped {
		t.Errorf("expected actor.stopped, got %s", evt.Type)
	}
	if evt.Provenance["actor"] != "agent-7" {
		t.Errorf("expected lifted provenance, got %v", evt.Provenance)
	}
	if evt.Provenance[event.ProvenanceKeyPlatform] != "linear" {
		t.Errorf("expected platform default, got %v", evt.Provenance)
	}
	if evt.Payload["reason"] != "done" {
		t.Errorf("expected lifted payload, got %v", evt.Payload)
	}
}

func TestNormalize_UnknownTypeAndFlatBody(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{})

	post(w, []byte(`{"type":"bogus.kind","action":"opened"}`), nil)

	res, err := w.Poll(context.Background(), "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	evt := res.Events[0]
	if evt.Type != event.TypeResourceChanged {
		t.Errorf("expected default type, got %s", evt.Type)
	}
	// No payload object: the whole body is the payload.
	if evt.Payload["action"] != "opened" {
		t.Errorf("expected flat body as payload, got %v", evt.Payload)
	}
}

func TestPoll_DrainsOnceInOrder(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{})

	post(w, []byte(`{"n":1}`), nil)
	post(w, []byte(`{"n":2}`), nil)
	post(w, []byte(`{"n":3}`), nil)

	res, err := w.Poll(context.Background(), "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(res.Events))
	}
	for i, evt := range res.Events {
		if evt.Payload["n"] != float64(i+1) {
			t.Errorf("event %d out of order: %v", i, evt.Payload)
		}
	}

	again, err := w.Poll(context.Background(), res.Checkpoint)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(again.Events) != 0 {
		t.Errorf("expected empty second drain, got %d events", len(again.Events))
	}
}

func TestPoll_CheckpointAdvancesMonotonically(t *testing.T) {
	w := newTestWebhook(t, WebhookConfig{})
	later := CheckpointFromTime(time.Now().Add(time.Hour).UTC())

	post(w, []byte(`{"x":1}`), nil)
	res, err := w.Poll(context.Background(), later)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if res.Checkpoint != later {
		t.Errorf("expected checkpoint to hold at %s, got %s", later, res.Checkpoint)
	}
}

func TestPoll_DurableBufferSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.ndjson")

	first := newTestWebhook(t, WebhookConfig{BufferPath: path})
	post(first, []byte(`{"n":1}`), nil)
	post(first, []byte(`{"n":2}`), nil)

	// A fresh instance on the same path stands in for a restart.
	second := newTestWebhook(t, WebhookConfig{BufferPath: path})
	res, err := second.Poll(context.Background(), "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected 2 recovered events, got %d", len(res.Events))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read buffer: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected buffer truncated after drain, got %d bytes", len(data))
	}
}

func TestPoll_DurableBufferSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.ndjson")
	w := newTestWebhook(t, WebhookConfig{BufferPath: path})

	post(w, []byte(`{"n":1}`), nil)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open buffer: %v", err)
	}
	if _, err := f.WriteString("{truncated garbage\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	post(w, []byte(`{"n":2}`), nil)

	res, err := w.Poll(context.Background(), "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(res.Events) != 2 {
		t.Fatalf("expected malformed line skipped, got %d events", len(res.Events))
	}
}

func TestCheckpoint_Advance(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := CheckpointFromTime(base)

	ahead := cp.advance(base.Add(time.Minute))
	if !strings.Contains(string(ahead), "12:01") {
		t.Errorf("expected advance forward, got %s", ahead)
	}
	behind := ahead.advance(base.Add(-time.Minute))
	if behind != ahead {
		t.Errorf("expected checkpoint to never regress, got %s", behind)
	}
}
