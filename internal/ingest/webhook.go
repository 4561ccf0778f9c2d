package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/OrgLoop/orgloop-sub001/internal/event"
)

// Signature headers, checked in order. GitHub-style first.
const (
	HeaderHubSignature = "X-Hub-Signature-256"
	HeaderSignature    = "X-Signature"
)

const signaturePrefix = "sha256="

// WebhookConfig configures a push-mode source.
type WebhookConfig struct {
	// Source is the connector identifier stamped on envelopes.
	Source string
	// Platform fills provenance.platform when the payload carries none.
	// Defaults to Source.
	Platform string
	// Secret, when set, makes a valid HMAC signature mandatory on every
	// request.
	Secret string
	// BufferPath, when set, makes the buffer durable: envelopes are
	// appended to this NDJSON log and survive a crash until drained.
	// When empty an in-memory queue is used.
	BufferPath string
}

// Webhook admits events pushed over HTTP and buffers them until the next
// Poll. It implements both http.Handler and Source.
type Webhook struct {
	source   string
	platform string
	secret   string
	buf      buffer
	logger   *slog.Logger
	now      func() time.Time
}

// NewWebhook creates a webhook source.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("webhook source name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	platform := cfg.Platform
	if platform == "" {
		platform = cfg.Source
	}

	var buf buffer
	if cfg.BufferPath != "" {
		buf = newFileBuffer(cfg.BufferPath, logger)
	} else {
		buf = &memBuffer{}
	}

	return &Webhook{
		source:   cfg.Source,
		platform: platform,
		secret:   cfg.Secret,
		buf:      buf,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Name returns the source identifier.
func (w *Webhook) Name() string { return w.source }

// ServeHTTP implements the webhook contract: POST only (405), JSON body
// (400), mandatory valid signature when a secret is configured (401),
// then buffer the normalized envelope and answer 200 with its id.
func (w *Webhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := w.verifySignature(r.Header, body); err != nil {
		var sigErr *SignatureError
		if errors.As(err, &sigErr) {
			w.logger.Warn("webhook rejected", "source", w.source, "error", err)
			http.Error(rw, "invalid signature", http.StatusUnauthorized)
			return
		}
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("webhook body is not JSON", "source", w.source, "error", err)
		http.Error(rw, "invalid JSON body", http.StatusBadRequest)
		return
	}

	evt := w.normalize(payload)
	if err := w.buf.append(evt); err != nil {
		w.logger.Error("buffer append failed", "source", w.source, "error", err)
		http.Error(rw, "failed to persist event", http.StatusInternalServerError)
		return
	}

	w.logger.Debug("webhook event admitted", "source", w.source, "event_id", evt.ID, "type", evt.Type)

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "event_id": evt.ID})
}

// verifySignature checks the sha256 HMAC over the exact raw body. With no
// secret configured every request passes; with one configured a signature
// header is mandatory and compared in constant time.
func (w *Webhook) verifySignature(header http.Header, body []byte) error {
	if w.secret == "" {
		return nil
	}

	sig := header.Get(HeaderHubSignature)
	if sig == "" {
		sig = header.Get(HeaderSignature)
	}
	if sig == "" {
		return &SignatureError{Reason: "missing signature header"}
	}

	mac := hmac.New(sha256.New, []byte(w.secret))
	mac.Write(body)
	expected := signaturePrefix + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return &SignatureError{Reason: "signature mismatch"}
	}
	return nil
}

// normalize builds an envelope from a parsed webhook body. The body's
// "type" is honored when it is one of the enumerated kinds; "payload" and
// "provenance" objects are lifted when present, otherwise the whole body
// becomes the payload. The id, timestamp, and trace id are always
// assigned here.
func (w *Webhook) normalize(body map[string]any) *event.Envelope {
	typ := event.TypeResourceChanged
	if s, ok := body["type"].(string); ok && event.ValidType(event.Type(s)) {
		typ = event.Type(s)
	}

	evt := event.New(w.source, typ)
	evt.Timestamp = w.now().UTC()

	if prov, ok := body["provenance"].(map[string]any); ok {
		for k, v := range prov {
			evt.Provenance[k] = v
		}
	}
	if evt.Provenance[event.ProvenanceKeyPlatform] == nil {
		evt.Provenance[event.ProvenanceKeyPlatform] = w.platform
	}

	if payload, ok := body["payload"].(map[string]any); ok {
		evt.Payload = payload
	} else {
		evt.Payload = body
	}
	return evt
}

// Poll atomically drains the buffer. The checkpoint advances to the
// latest drained envelope timestamp, or to now when nothing was waiting.
func (w *Webhook) Poll(_ context.Context, cp Checkpoint) (PollResult, error) {
	drained, err := w.buf.drain()
	if err != nil {
		return PollResult{Checkpoint: cp}, fmt.Errorf("drain buffer: %w", err)
	}

	latest := w.now().UTC()
	if len(drained) > 0 {
		latest = drained[len(drained)-1].Timestamp
		for _, evt := range drained {
			if evt.Timestamp.After(latest) {
				latest = evt.Timestamp
			}
		}
	}

	return PollResult{Events: drained, Checkpoint: cp.advance(latest)}, nil
}

// Close releases nothing today; the buffer needs no teardown.
func (w *Webhook) Close() error { return nil }
