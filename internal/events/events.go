// Package events defines pipeline lifecycle events and the publisher contract.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TypeStageCompleted = "stage_completed"
	TypeStageFailed    = "stage_failed"
)

// Event is published after every job run reaches a terminal state.
type Event struct {
	Type        string          `json:"type"`
	JobID       uuid.UUID       `json:"job_id"`
	JobType     string          `json:"job_type"`
	WorkspaceID *uuid.UUID      `json:"workspace_id,omitempty"`
	Stage       string          `json:"stage"`
	Attempt     int             `json:"attempt"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	At          time.Time       `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Recorder keeps published events in memory. Used by tests and when no bus is configured.
type Recorder struct {
	ch chan Event
}

func NewRecorder(buffer int) *Recorder {
	return &Recorder{ch: make(chan Event, buffer)}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

// C delivers published events; events beyond the buffer are dropped.
func (r *Recorder) C() <-chan Event { return r.ch }
