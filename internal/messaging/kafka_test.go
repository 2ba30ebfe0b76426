package messaging

import (
	"context"
	stdErrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/bardlex/cryptodecoy/internal/notify"
	"github.com/bardlex/cryptodecoy/pkg/errors"
	"github.com/bardlex/cryptodecoy/pkg/log"
	"github.com/bardlex/cryptodecoy/pkg/retry"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	messages []kafka.Message
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.calls <= w.failures {
		return stdErrors.New("broker unavailable")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func newTestClient(w *fakeWriter) *KafkaClient {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())
	client.newWriter = func(string) messageWriter { return w }
	client.retryConfig = &retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
	return client
}

func TestKafkaClient_ProducerCached(t *testing.T) {
	client := NewKafkaClient([]string{"localhost:9092"}, log.Discard())

	p1 := client.producer("test-topic")
	p2 := client.producer("test-topic")
	if p1 != p2 {
		t.Error("Expected same producer instance from cache")
	}

	w, ok := p1.(*kafka.Writer)
	if !ok {
		t.Fatalf("producer type = %T", p1)
	}
	if w.Topic != "test-topic" {
		t.Errorf("Expected topic test-topic, got %s", w.Topic)
	}
	if len(client.writers) != 1 {
		t.Errorf("Expected 1 writer in map, got %d", len(client.writers))
	}
}

func TestKafkaMirror_Notify(t *testing.T) {
	tests := []struct {
		name     string
		encoding Encoding
	}{
		{"json", EncodingJSON},
		{"proto", EncodingProto},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &fakeWriter{}
			mirror := NewKafkaMirror(newTestClient(w), "", "amplifysim", tt.encoding)

			ev := notify.NewEvent(notify.KindStageStarted, notify.SeverityInfo, "Stage started: BUILD",
				[]notify.Field{{Title: "Build Stage", Value: "BUILD", Short: true}}, time.Unix(1700000000, 0))
			if err := mirror.Notify(context.Background(), ev); err != nil {
				t.Fatalf("Notify() error = %v", err)
			}

			if len(w.messages) != 1 {
				t.Fatalf("got %d messages, want 1", len(w.messages))
			}
			msg := w.messages[0]
			if string(msg.Key) != "amplifysim" {
				t.Errorf("key = %q", msg.Key)
			}

			got, err := Decode(msg.Value, tt.encoding)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got.Message != "Stage started: BUILD" || got.Kind != "stage_started" || got.Severity != "info" {
				t.Errorf("unexpected beacon %+v", got)
			}
			if len(got.Fields) != 1 || got.Fields[0].Value != "BUILD" || !got.Fields[0].Short {
				t.Errorf("fields = %+v", got.Fields)
			}
			if !got.Timestamp.Equal(time.Unix(1700000000, 0)) {
				t.Errorf("timestamp = %v", got.Timestamp)
			}
		})
	}
}

func TestKafkaClient_RetriesTransientFailures(t *testing.T) {
	w := &fakeWriter{failures: 2}
	client := newTestClient(w)

	if err := client.Publish(context.Background(), TopicBeacons, "k", []byte("v")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if w.calls != 3 {
		t.Errorf("calls = %d, want 3", w.calls)
	}
}

func TestKafkaClient_CircuitOpens(t *testing.T) {
	w := &fakeWriter{failures: 1 << 30}
	client := newTestClient(w)
	client.retryConfig.MaxAttempts = 1

	for range 5 {
		if err := client.Publish(context.Background(), TopicBeacons, "k", []byte("v")); err == nil {
			t.Fatal("Publish() should fail")
		}
	}
	calls := w.calls
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}

	err := client.Publish(context.Background(), TopicBeacons, "k", []byte("v"))
	if err == nil || w.calls != calls {
		t.Fatalf("expected the open circuit to short-circuit, err=%v calls=%d->%d", err, calls, w.calls)
	}
}

func TestKafkaClient_Close(t *testing.T) {
	w := &fakeWriter{}
	client := newTestClient(w)
	client.producer(TopicBeacons)

	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !w.closed {
		t.Error("writer was not closed")
	}
	if len(client.writers) != 0 {
		t.Error("writers should be cleared")
	}
}

func TestEncode_UnknownEncoding(t *testing.T) {
	_, err := Encode(BeaconMessage{}, Encoding("avro"))
	if !errors.IsType(err, errors.ErrorTypeConfig) {
		t.Errorf("Encode() error = %v, want config error", err)
	}
}

func TestNewBeaconMessage(t *testing.T) {
	ev := notify.NewEvent(notify.KindLifecycle, notify.SeverityDanger, "Miner stopped", nil, time.Now()).
		WithEnvelope("Simulated Cryptominer Report", "Instance: i-1 | ID: abc")
	a := NewBeaconMessage("fakeminer", ev)
	b := NewBeaconMessage("fakeminer", ev)

	if a.EventID == "" || a.EventID == b.EventID {
		t.Errorf("event ids should be unique, got %q and %q", a.EventID, b.EventID)
	}
	if a.Fields == nil {
		t.Error("fields should encode as an empty list")
	}
	if a.Severity != "danger" || a.Title != "Simulated Cryptominer Report" {
		t.Errorf("unexpected message %+v", a)
	}
}
