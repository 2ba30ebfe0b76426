// Package notify defines the outbound notification event and its transports.
// The webhook is the primary sink; mirrors (Kafka, ZeroMQ, Redis) receive
// the same events on a best-effort basis.
package notify

import (
	"context"
	"slices"
	"time"
)

// Severity of an event; it maps to the attachment colour
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityDanger
)

// String returns the severity name used in logs
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityDanger:
		return "danger"
	default:
		return "unknown"
	}
}

// Color returns the Slack attachment colour for the severity
func (s Severity) Color() string {
	switch s {
	case SeverityWarn:
		return "warning"
	case SeverityDanger:
		return "danger"
	default:
		return "good"
	}
}

// Kind classifies where in the run an event was produced
type Kind string

const (
	KindLifecycle      Kind = "lifecycle"
	KindCycleStarted   Kind = "cycle_started"
	KindStageStarted   Kind = "stage_started"
	KindStageCompleted Kind = "stage_completed"
	KindStatus         Kind = "status"
	KindCycleCompleted Kind = "cycle_completed"
	KindDecoration     Kind = "decoration"
)

// Field is one labelled value in a report
type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// Event is one outbound notification. Construct it with NewEvent and
// treat it as read-only afterwards.
type Event struct {
	Kind      Kind
	Message   string
	Severity  Severity
	Fields    []Field
	Title     string
	Footer    string
	Timestamp time.Time
}

// NewEvent builds an event, copying fields so later changes to the
// caller's slice don't leak in
func NewEvent(kind Kind, severity Severity, message string, fields []Field, ts time.Time) Event {
	return Event{
		Kind:      kind,
		Message:   message,
		Severity:  severity,
		Fields:    slices.Clone(fields),
		Timestamp: ts,
	}
}

// WithEnvelope returns a copy carrying a title and footer
func (e Event) WithEnvelope(title, footer string) Event {
	e.Fields = slices.Clone(e.Fields)
	e.Title = title
	e.Footer = footer
	return e
}

// Notifier delivers one event. Delivery is atomic per call: it either
// succeeded or returned an error.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, event Event) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, event Event) error {
	return f(ctx, event)
}
