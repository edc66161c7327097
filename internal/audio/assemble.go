package audio

import (
	"errors"

	"github.com/call-voice-lab/internal/logging"
)

// ErrNoAudio is returned by Assemble when no input yields a decodable
// segment. Callers treat it as "export without audio", not as a failure.
var ErrNoAudio = errors.New("no audio available")

// Input is one per-turn contribution to the stitched recording: either an
// already-decoded segment (microphone capture) or an encoded WAV payload
// (synthesis output). Segment wins when both are set.
type Input struct {
	Segment *Segment
	Encoded []byte
}

// Assemble reconstructs one continuous mono recording from per-turn audio,
// in turn order. The target rate is the rate of the first decodable input;
// inputs at other rates are resampled, preserving duration. Inputs that fail
// to decode are skipped so the remaining segments still stitch: completeness
// is sacrificed before continuity. The result is a self-contained WAV byte
// sequence, or ErrNoAudio when nothing decoded.
func Assemble(inputs []Input) ([]byte, error) {
	segments := make([]*Segment, 0, len(inputs))
	for i, in := range inputs {
		seg := in.Segment
		if seg == nil && len(in.Encoded) > 0 {
			decoded, err := DecodeWAV(in.Encoded)
			if err != nil {
				logging.Warnw("assemble: skipping undecodable segment", "index", i, "err", err)
				continue
			}
			seg = decoded
		}
		if seg == nil || len(seg.Samples) == 0 || seg.Rate <= 0 {
			continue
		}
		segments = append(segments, seg)
	}
	if len(segments) == 0 {
		return nil, ErrNoAudio
	}

	targetRate := segments[0].Rate
	total := 0
	resampled := make([][]float32, len(segments))
	for i, seg := range segments {
		if seg.Rate != targetRate {
			resampled[i] = Resample(seg.Samples, seg.Rate, targetRate)
		} else {
			resampled[i] = seg.Samples
		}
		total += len(resampled[i])
	}

	out := make([]float32, 0, total)
	for _, samples := range resampled {
		out = append(out, samples...)
	}
	logging.Debugw("assemble: stitched recording", logging.SegmentFields(len(out), targetRate)...)
	return EncodeWAV(out, targetRate), nil
}
