package notifier

import (
	"context"
	"time"
)

// Notification is one rendered message.
type Notification struct {
	Repo  string
	Title string
	Body  string
	// Icon is a hint for sinks that can show one (freedesktop icon name).
	Icon string
}

// Sink shows notifications to the user.
type Sink interface {
	Name() string
	Show(ctx context.Context, n Notification) error
}

// Config controls the async notification pipeline.
type Config struct {
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// SendTimeout bounds a single sink call.
	SendTimeout time.Duration
}

type HistoryItem struct {
	At    time.Time
	Repo  string
	Title string
}

// NotificationEvent is published on the event bus for notifier lifecycle events.
type NotificationEvent struct {
	Repo  string    `json:"repo"`
	Title string    `json:"title"`
	Sink  string    `json:"sink,omitempty"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
