package call

import "fmt"

// ErrorKind discriminates session error events so handlers can switch
// exhaustively instead of string-matching.
type ErrorKind int

const (
	// ErrValidation blocks session start; configuration is incomplete.
	ErrValidation ErrorKind = iota
	// ErrCapture means the microphone is unavailable; the session proceeds
	// text-only.
	ErrCapture
	// ErrSynthesis means one utterance went unspoken; non-fatal.
	ErrSynthesis
	// ErrPolicy is fatal to the current turn; repeated occurrences move the
	// session to StateError.
	ErrPolicy
	// ErrRecordingGraph means live recording is unavailable; the post-call
	// assembler is the fallback.
	ErrRecordingGraph
	// ErrAssembly means no stitched audio; export omits audio.
	ErrAssembly
)

func (k ErrorKind) String() string {
	switch k {
	case ErrValidation:
		return "validation"
	case ErrCapture:
		return "capture"
	case ErrSynthesis:
		return "synthesis"
	case ErrPolicy:
		return "policy"
	case ErrRecordingGraph:
		return "recording_graph"
	case ErrAssembly:
		return "assembly"
	default:
		return "unknown"
	}
}

// CallError pairs an ErrorKind with the underlying cause. Every failure in
// the session produces one observable CallError event; none are silent.
type CallError struct {
	Kind ErrorKind
	Err  error
}

func (e *CallError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }
