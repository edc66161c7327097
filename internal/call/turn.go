package call

import (
	"time"

	"github.com/call-voice-lab/internal/audio"
)

// Speaker discriminates who produced a turn.
type Speaker int

const (
	SpeakerAgent Speaker = iota
	SpeakerUser
)

func (s Speaker) String() string {
	switch s {
	case SpeakerAgent:
		return "agent"
	case SpeakerUser:
		return "user"
	default:
		return "unknown"
	}
}

// Turn is one contribution to the conversation. Turns are append-only once
// added: nothing mutates them afterwards except attaching audio when a
// background synthesis completes, and advancing the UI word cursor.
type Turn struct {
	ID        int64
	Speaker   Speaker
	Text      string
	Timestamp time.Time
	IsError   bool
	IsSilent  bool

	Audio *audio.Segment

	// WordIndex is the approximate word-boundary cursor during playback.
	// It exists for UI highlighting only and never drives control decisions.
	WordIndex int
}

// TurnSnapshot is the immutable view handed to subscribers and collaborators.
type TurnSnapshot struct {
	ID        int64     `json:"id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"is_error,omitempty"`
	IsSilent  bool      `json:"is_silent,omitempty"`
	HasAudio  bool      `json:"has_audio,omitempty"`
}

func (t *Turn) snapshot() TurnSnapshot {
	return TurnSnapshot{
		ID:        t.ID,
		Speaker:   t.Speaker.String(),
		Text:      t.Text,
		Timestamp: t.Timestamp,
		IsError:   t.IsError,
		IsSilent:  t.IsSilent,
		HasAudio:  t.Audio != nil,
	}
}
