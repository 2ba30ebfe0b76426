package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	decoyErrors "github.com/bardlex/cryptodecoy/pkg/errors"
	"github.com/bardlex/cryptodecoy/pkg/log"
)

var testTime = time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)

func sampleEvent() Event {
	return NewEvent(KindStageStarted, SeverityWarn, "Stage started: BUILD", []Field{
		{Title: "Service", Value: "amplify", Short: true},
		{Title: "Build Stage", Value: "BUILD", Short: true},
	}, testTime).WithEnvelope("Simulated AWS amplify Cryptominer", "App: d1 | Build: b1 | Instance: i-1")
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		s     Severity
		name  string
		color string
	}{
		{SeverityInfo, "info", "good"},
		{SeverityWarn, "warn", "warning"},
		{SeverityDanger, "danger", "danger"},
		{Severity(42), "unknown", "good"},
	}
	for _, tt := range tests {
		if tt.s.String() != tt.name || tt.s.Color() != tt.color {
			t.Errorf("Severity(%d) = %s/%s, want %s/%s", tt.s, tt.s.String(), tt.s.Color(), tt.name, tt.color)
		}
	}
}

func TestNewEvent_CopiesFields(t *testing.T) {
	fields := []Field{{Title: "A", Value: "1"}}
	ev := NewEvent(KindStatus, SeverityInfo, "m", fields, testTime)
	fields[0].Value = "changed"

	if ev.Fields[0].Value != "1" {
		t.Error("event fields should not alias the caller's slice")
	}

	wrapped := ev.WithEnvelope("t", "f")
	wrapped.Fields[0].Value = "x"
	if ev.Fields[0].Value != "1" {
		t.Error("WithEnvelope should not alias the original fields")
	}
}

func TestBuildPayload(t *testing.T) {
	payload := BuildPayload(sampleEvent())

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string][]map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}

	attachments := doc["attachments"]
	if len(attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(attachments))
	}
	a := attachments[0]

	for key, want := range map[string]any{
		"fallback": "Simulated AWS amplify Cryptominer: Stage started: BUILD",
		"color":    "warning",
		"title":    "Simulated AWS amplify Cryptominer",
		"text":     "Stage started: BUILD",
		"footer":   "App: d1 | Build: b1 | Instance: i-1",
		"ts":       float64(testTime.Unix()),
	} {
		if a[key] != want {
			t.Errorf("%s = %v, want %v", key, a[key], want)
		}
	}

	fields := a["fields"].([]any)
	first := fields[0].(map[string]any)
	if first["title"] != "Service" || first["value"] != "amplify" || first["short"] != true {
		t.Errorf("unexpected first field: %v", first)
	}
}

func TestBuildPayload_EmptyFields(t *testing.T) {
	data, _ := json.Marshal(BuildPayload(NewEvent(KindLifecycle, SeverityInfo, "x", nil, testTime)))
	if !strings.Contains(string(data), `"fields":[]`) {
		t.Errorf("expected empty fields array, got %s", data)
	}
}

func TestWebhookNotifier_Success(t *testing.T) {
	var got Payload
	var contentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		contentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("bad body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewWebhookNotifier(server.URL, time.Second)
	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	if contentType != "application/json" {
		t.Errorf("Content-Type = %q", contentType)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Text != "Stage started: BUILD" {
		t.Errorf("unexpected payload: %+v", got)
	}
}

func TestWebhookNotifier_Non2xx(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	err := NewWebhookNotifier(server.URL, time.Second).Notify(context.Background(), sampleEvent())
	if !decoyErrors.IsType(err, decoyErrors.ErrorTypeWebhook) {
		t.Fatalf("expected webhook error, got %v", err)
	}
	if decoyErrors.GetContext(err)["status"] != http.StatusForbidden {
		t.Errorf("expected status in context, got %v", decoyErrors.GetContext(err))
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls.Load())
	}
}

func TestWebhookNotifier_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := NewWebhookNotifier(url, time.Second).Notify(context.Background(), sampleEvent())
	if !decoyErrors.IsType(err, decoyErrors.ErrorTypeWebhook) {
		t.Errorf("expected webhook error, got %v", err)
	}
}

func TestFanout(t *testing.T) {
	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, "test", "test", "info", "json")

	var primaryCalls, mirrorCalls int
	primaryErr := errors.New("primary down")

	f := NewFanout(NotifierFunc(func(context.Context, Event) error {
		primaryCalls++
		return primaryErr
	}), logger)
	f.AddMirror("ok", NotifierFunc(func(context.Context, Event) error {
		mirrorCalls++
		return nil
	}))
	f.AddMirror("broken", NotifierFunc(func(context.Context, Event) error {
		mirrorCalls++
		return errors.New("mirror down")
	}))

	err := f.Notify(context.Background(), sampleEvent())
	if !errors.Is(err, primaryErr) {
		t.Errorf("expected primary error, got %v", err)
	}
	if primaryCalls != 1 || mirrorCalls != 2 {
		t.Errorf("calls primary=%d mirrors=%d", primaryCalls, mirrorCalls)
	}
	if !strings.Contains(buf.String(), `"mirror":"broken"`) {
		t.Errorf("expected mirror failure log, got %s", buf.String())
	}
	if names := f.Mirrors(); len(names) != 2 || names[0] != "ok" {
		t.Errorf("Mirrors() = %v", names)
	}
}
