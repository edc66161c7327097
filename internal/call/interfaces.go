package call

import "context"

// PolicyAction tells the dialogue policy why it is being consulted.
type PolicyAction string

const (
	ActionBegin   PolicyAction = "begin"
	ActionRespond PolicyAction = "respond"
	ActionEnd     PolicyAction = "end"
)

// PolicyRequest is the full context the dialogue policy decides from.
type PolicyRequest struct {
	Action PolicyAction
	Config Config
	Turns  []TurnSnapshot
}

// PolicyDecision is the policy's next move: utterance text (may be empty,
// meaning "stay quiet and listen") and an end-of-call signal.
type PolicyDecision struct {
	Utterance string
	EndCall   bool
}

// DialoguePolicy is the external decision logic choosing the agent's next
// utterance. Failures are surfaced, never silently retried.
type DialoguePolicy interface {
	Decide(ctx context.Context, req PolicyRequest) (PolicyDecision, error)
}

// ScoreReport is the structured output of the call-quality collaborator.
type ScoreReport struct {
	Overall  float64  `json:"overall"`
	Clarity  float64  `json:"clarity,omitempty"`
	Fit      float64  `json:"fit,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Flags    []string `json:"flags,omitempty"`
	ScoreRef string   `json:"score_ref,omitempty"`
}

// Scorer grades the final transcript against the product context. It is
// invoked only after the session has reached StateEnded.
type Scorer interface {
	Score(ctx context.Context, transcript string, productContext string) (*ScoreReport, error)
}

// CaptureService is the session-facing surface of the speech capture
// component. Run opens the underlying recognition stream for the whole
// call; Start/Stop bracket one listening window. Start returns the window
// epoch used to fence stale transcript and timeout events.
type CaptureService interface {
	Run(ctx context.Context) error
	Start() uint64
	Stop()
	Active() bool
}

// PlaybackQueue is the session-facing surface of the synthesis playback
// component. Cancel halts current playback synchronously and clears the
// queue; it returns only after no audio can still be produced.
type PlaybackQueue interface {
	Enqueue(turnID int64, text, voiceProfile string)
	Cancel()
}

// RecordingGraph is the session-facing surface of the live mixed recording.
// Setup is idempotent and session-scoped; Teardown stops the recorder,
// flushes one encoded artifact and releases the input stream. A zero-length
// artifact tells the session to fall back to post-call stitching.
type RecordingGraph interface {
	Setup(ctx context.Context) error
	Teardown() ([]byte, error)
	Active() bool
}
