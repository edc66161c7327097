package call

import "github.com/call-voice-lab/internal/audio"

// State names the turn-controller states. LISTENING, PROCESSING and
// SPEAKING are mutually exclusive at any instant; the event loop enforces
// one transition at a time.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateListening
	StateProcessing
	StateSpeaking
	StateEnded
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfiguring:
		return "configuring"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is anything the session event loop consumes: capture and playback
// component events plus control commands. Events arriving while a transition
// is in progress queue up and are handled strictly in arrival order.
type Event interface {
	eventName() string
}

// -- capture events --

// SpeechOnset fires when the recognition primitive detects the start of a
// user utterance, whether or not a listening window is open. While the
// session is SPEAKING this is a barge-in.
type SpeechOnset struct{}

// InterimTranscript is a best-effort hypothesis; repeats and extensions are
// expected. Emitted only during an open listening window.
type InterimTranscript struct {
	Text  string
	Epoch uint64
}

// FinalTranscript is emitted once speech has stopped for the silence
// timeout. Epoch ties it to the listening window that produced it so a late
// final cannot leak into a newer window.
type FinalTranscript struct {
	Text       string
	Confidence float64
	Epoch      uint64
}

// InactivityTimeout fires when no speech at all began after listening
// started.
type InactivityTimeout struct {
	Epoch uint64
}

// CaptureFailed reports a microphone/recognizer failure. The session
// continues text-only.
type CaptureFailed struct {
	Err error
}

// -- playback events --

// SynthesisDone carries decoded synthesis audio for attachment to its turn.
type SynthesisDone struct {
	TurnID  int64
	Segment *audio.Segment
}

// SynthesisFailed means the utterance stays unspoken; the turn keeps its
// text and the session degrades to listening.
type SynthesisFailed struct {
	TurnID int64
	Err    error
}

// PlaybackStarted marks the audible start of an agent turn.
type PlaybackStarted struct {
	TurnID int64
}

// PlaybackEnded marks the end of an agent turn, Cancelled when playback was
// halted by barge-in or end-of-call cleanup.
type PlaybackEnded struct {
	TurnID    int64
	Cancelled bool
}

// WordCursor is the interpolated word-boundary position, UI only.
type WordCursor struct {
	TurnID    int64
	WordIndex int
}

func (SpeechOnset) eventName() string       { return "speech_onset" }
func (InterimTranscript) eventName() string { return "interim_transcript" }
func (FinalTranscript) eventName() string   { return "final_transcript" }
func (InactivityTimeout) eventName() string { return "inactivity_timeout" }
func (CaptureFailed) eventName() string     { return "capture_failed" }
func (SynthesisDone) eventName() string     { return "synthesis_done" }
func (SynthesisFailed) eventName() string   { return "synthesis_failed" }
func (PlaybackStarted) eventName() string   { return "playback_started" }
func (PlaybackEnded) eventName() string     { return "playback_ended" }
func (WordCursor) eventName() string        { return "word_cursor" }

// -- control commands --

type cmdConfigure struct{ cfg Config }
type cmdStart struct{}
type cmdSubmitText struct{ text string }
type cmdEnd struct{}
type cmdReset struct{}

// policyResult carries an asynchronous dialogue-policy decision back onto
// the loop. Gen guards against results from before a reset or end.
type policyResult struct {
	gen      uint64
	action   PolicyAction
	decision PolicyDecision
	err      error
}

// graphResult carries the asynchronous recording-graph setup outcome.
type graphResult struct {
	gen uint64
	err error
}

func (cmdConfigure) eventName() string  { return "cmd_configure" }
func (cmdStart) eventName() string      { return "cmd_start" }
func (cmdSubmitText) eventName() string { return "cmd_submit_text" }
func (cmdEnd) eventName() string        { return "cmd_end" }
func (cmdReset) eventName() string      { return "cmd_reset" }
func (policyResult) eventName() string  { return "policy_result" }
func (graphResult) eventName() string   { return "graph_result" }

// NotificationKind names the presentation-layer event kinds.
const (
	NotifyStateChanged = "state_changed"
	NotifyTurnAppended = "turn_appended"
	NotifyTurnUpdated  = "turn_updated"
	NotifyInterim      = "interim_transcript"
	NotifyWordCursor   = "word_cursor"
	NotifyError        = "error"
	NotifyCallEnded    = "call_ended"
	NotifyScoreReady   = "score_ready"
)

// Notification is the JSON-friendly event surface for the presentation
// layer (websocket bridge, dashboards).
type Notification struct {
	Kind      string        `json:"kind"`
	SessionID string        `json:"session_id"`
	State     string        `json:"state,omitempty"`
	PrevState string        `json:"prev_state,omitempty"`
	Turn      *TurnSnapshot `json:"turn,omitempty"`
	Text      string        `json:"text,omitempty"`
	WordIndex int           `json:"word_index,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Message   string        `json:"message,omitempty"`
	Record    *CallRecord   `json:"record,omitempty"`
	Score     *ScoreReport  `json:"score,omitempty"`
}

// CallRecord is the final session export handed to an external log: the
// session does not own its persistence format.
type CallRecord struct {
	SessionID string         `json:"session_id"`
	Status    string         `json:"status"`
	Turns     []TurnSnapshot `json:"turns"`
	AudioRef  string         `json:"audio_ref,omitempty"`
	AudioLen  int            `json:"audio_len,omitempty"`
	ScoreRef  string         `json:"score_ref,omitempty"`
}
