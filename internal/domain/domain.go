package domain

import "encoding/json"

// Task is one work item. Timestamps are epoch millis; zero means unset.
// Elapsed accumulates active (started and not paused) duration in millis.
// CurrentAt marks where the running active interval began.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Project     string `json:"project,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   int64  `json:"started_at"`
	CurrentAt   int64  `json:"current_at"`
	PausedAt    int64  `json:"paused_at"`
	CompletedAt int64  `json:"completed_at"`
	Elapsed     int64  `json:"elapsed"`
}

// Started reports whether the task entered its active lifecycle.
func (t Task) Started() bool { return t.StartedAt != 0 }

// Paused reports whether the task is currently paused.
func (t Task) Paused() bool { return t.PausedAt != 0 }

// Completed reports whether the task was completed.
func (t Task) Completed() bool { return t.CompletedAt != 0 }

// Message is the wire envelope used in both directions.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IdentityStats is one row of the server status report.
type IdentityStats struct {
	Token       string `json:"token"`
	Connections int    `json:"connections"`
	Tasks       int    `json:"tasks"`
}
