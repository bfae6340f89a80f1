package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "file" (default), "sqlite", "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// CycleRecord is one journal line describing a finished discovery cycle.
// Keep it compact and schema-stable.
type CycleRecord struct {
	At       time.Time `json:"at"`
	Repo     string    `json:"repo"`
	From     int64     `json:"from"`
	To       int64     `json:"to"`
	Found    int       `json:"found"`
	Shown    int       `json:"shown"`
	Overflow int       `json:"overflow"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
}
