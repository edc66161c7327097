package audio

// Resample converts mono samples from one rate to another using linear
// interpolation, preserving duration. The input is returned unchanged (as a
// copy) when the rates match or either rate is non-positive.
func Resample(in []float32, fromRate, toRate int) []float32 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		out := make([]float32, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 {
		return nil
	}

	n := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < n; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		if srcIdx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		s0 := float64(in[srcIdx])
		s1 := float64(in[srcIdx+1])
		out[i] = float32(s0 + frac*(s1-s0))
	}
	return out
}
