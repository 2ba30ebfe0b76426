package notify

import (
	"context"
	"time"

	"github.com/bardlex/cryptodecoy/pkg/log"
)

// Mirror is a named best-effort copy of the event stream
type Mirror struct {
	Name     string
	Notifier Notifier
}

// Fanout delivers to a primary notifier and then to every mirror. Only the
// primary's result is returned; mirror failures are logged at warn.
type Fanout struct {
	primary       Notifier
	mirrors       []Mirror
	mirrorTimeout time.Duration
	logger        *log.Logger
}

// NewFanout creates a fanout around primary
func NewFanout(primary Notifier, logger *log.Logger, mirrors ...Mirror) *Fanout {
	return &Fanout{
		primary:       primary,
		mirrors:       mirrors,
		mirrorTimeout: 5 * time.Second,
		logger:        logger.WithComponent("fanout"),
	}
}

// AddMirror registers another mirror
func (f *Fanout) AddMirror(name string, n Notifier) {
	f.mirrors = append(f.mirrors, Mirror{Name: name, Notifier: n})
}

// Mirrors returns the names of the registered mirrors
func (f *Fanout) Mirrors() []string {
	names := make([]string, 0, len(f.mirrors))
	for _, m := range f.mirrors {
		names = append(names, m.Name)
	}
	return names
}

// Notify implements Notifier
func (f *Fanout) Notify(ctx context.Context, event Event) error {
	err := f.primary.Notify(ctx, event)

	for _, m := range f.mirrors {
		mctx, cancel := context.WithTimeout(ctx, f.mirrorTimeout)
		if mErr := m.Notifier.Notify(mctx, event); mErr != nil {
			f.logger.Warn("mirror delivery failed",
				"mirror", m.Name,
				"message", event.Message,
				"error", mErr.Error(),
			)
		}
		cancel()
	}

	return err
}
