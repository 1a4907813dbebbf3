// Package notify distributes operator-facing events. The lifecycle manager,
// build pipeline and worker pool publish here; sinks fan the events out to
// logs and to connected operator websockets.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// EventType identifies what happened.
type EventType string

const (
	EventProvisioned      EventType = "subscription.provisioned"
	EventSuspended        EventType = "subscription.suspended"
	EventTerminated       EventType = "subscription.terminated"
	EventContainerError   EventType = "container.error"
	EventBuildCompleted   EventType = "image.build_completed"
	EventBuildFailed      EventType = "image.build_failed"
	EventRetriesExhausted EventType = "task.retries_exhausted"
	EventBackupFailed     EventType = "backup.failed"
	EventZoneSyncFailed   EventType = "dns.sync_failed"
)

// Event is one operator notification.
type Event struct {
	Type           EventType `json:"type"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	ContainerID    string    `json:"container_id,omitempty"`
	ImageID        string    `json:"image_id,omitempty"`
	Message        string    `json:"message"`
	At             time.Time `json:"at"`
}

// Notifier receives events. Implementations must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, event Event) {
	n.logger.Info("event",
		"type", event.Type,
		"subscription_id", event.SubscriptionID,
		"container_id", event.ContainerID,
		"image_id", event.ImageID,
		"message", event.Message,
	)
}

// Multi fans one event out to several notifiers.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	for _, n := range m {
		n.Notify(ctx, event)
	}
}
