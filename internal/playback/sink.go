package playback

import (
	"context"
	"time"

	"github.com/call-voice-lab/internal/audio"
)

// PacedSink is the default output device: it paces a segment out in 20ms
// frames at wall-clock speed, handing each frame to an optional tap (the
// recording graph's agent-audio input). The playback output sink is a
// single shared resource; only the queue ever drives it.
type PacedSink struct {
	Tap func(*audio.Segment)
}

func (p *PacedSink) Play(ctx context.Context, seg *audio.Segment) error {
	if seg == nil || seg.Rate <= 0 || len(seg.Samples) == 0 {
		return nil
	}
	frame := seg.Rate / 50
	if frame <= 0 {
		frame = len(seg.Samples)
	}
	frameDur := time.Duration(float64(frame) / float64(seg.Rate) * float64(time.Second))
	timer := time.NewTimer(frameDur)
	defer timer.Stop()
	for off := 0; off < len(seg.Samples); off += frame {
		end := off + frame
		if end > len(seg.Samples) {
			end = len(seg.Samples)
		}
		if p.Tap != nil {
			p.Tap(&audio.Segment{Samples: seg.Samples[off:end], Rate: seg.Rate})
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		timer.Reset(frameDur)
	}
	return nil
}
