// Package trace records network message traffic for projects that have
// requested a recording.
package trace

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NetworkTrace is one recording window for a project. A trace with a nil
// EndTime is open and still capturing messages.
type NetworkTrace struct {
	ID        uuid.UUID  `json:"id"`
	ProjectID uuid.UUID  `json:"projectId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Open reports whether the trace is still recording.
func (t *NetworkTrace) Open() bool { return t.EndTime == nil }

// Window returns the time span the trace covers. An open trace extends to now.
func (t *NetworkTrace) Window(now time.Time) (time.Time, time.Time) {
	if t.EndTime != nil {
		return t.StartTime, *t.EndTime
	}
	return t.StartTime, now
}

// SentMessage is one captured message. Source and Recipients hold the client
// states as they were at send time; Content is the raw message payload.
type SentMessage struct {
	ID         uuid.UUID       `json:"id"`
	ProjectID  uuid.UUID       `json:"projectId"`
	Recipients json.RawMessage `json:"recipients"`
	SentAt     time.Time       `json:"time"`
	Source     json.RawMessage `json:"source"`
	Content    json.RawMessage `json:"content"`
}
