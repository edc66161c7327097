package audio

import "time"

// Segment holds one mono buffer of raw samples at a native rate. Segments
// are produced when synthesis output is decoded or when microphone audio is
// captured, and are consumed by the post-call assembler.
type Segment struct {
	Samples []float32
	Rate    int
}

// Duration returns the play time of the segment.
func (s *Segment) Duration() time.Duration {
	if s == nil || s.Rate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / float64(s.Rate) * float64(time.Second))
}
