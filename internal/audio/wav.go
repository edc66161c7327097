package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeWAV wraps mono float samples in a 44-byte RIFF/WAVE header followed
// by interleaved 16-bit little-endian PCM. Samples are clamped to [-1,1] and
// scaled by 32767 for values >= 0 and 32768 for values < 0; the asymmetric
// scaling avoids overflow exactly at +1.0.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	const channels = 1
	const bitsPerSample = 16
	byteRate := uint32(sampleRate * channels * bitsPerSample / 8)
	blockAlign := uint16(channels * bitsPerSample / 8)
	dataLen := uint32(len(samples) * 2)
	riffSize := uint32(4 + (8 + 16) + (8 + dataLen))

	buf := &bytes.Buffer{}
	buf.Grow(44 + int(dataLen))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, riffSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, byteRate)
	binary.Write(buf, binary.LittleEndian, blockAlign)
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, dataLen)

	pcm := make([]byte, dataLen)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s >= 0 {
			v = int16(s * 32767)
		} else {
			v = int16(s * 32768)
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV parses a RIFF/WAVE byte sequence containing 16-bit PCM and
// returns a mono Segment at the container's sample rate. Multi-channel data
// is downmixed by averaging. Chunks other than fmt/data are skipped.
func DecodeWAV(b []byte) (*Segment, error) {
	if len(b) < 44 {
		return nil, fmt.Errorf("wav: too short (%d bytes)", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, fmt.Errorf("wav: missing RIFF/WAVE magic")
	}

	var (
		sampleRate    int
		channels      int
		bitsPerSample int
		haveFmt       bool
		data          []byte
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			// tolerate a truncated final chunk
			size = len(b) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav: fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(b[body:])
			if format != 1 {
				return nil, fmt.Errorf("wav: unsupported format %d (want PCM)", format)
			}
			channels = int(binary.LittleEndian.Uint16(b[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4:]))
			bitsPerSample = int(binary.LittleEndian.Uint16(b[body+14:]))
			haveFmt = true
		case "data":
			data = b[body : body+size]
		}
		// chunk bodies are word-aligned
		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt || data == nil {
		return nil, fmt.Errorf("wav: missing fmt or data chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("wav: unsupported bit depth %d", bitsPerSample)
	}
	if channels <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("wav: invalid fmt (channels=%d rate=%d)", channels, sampleRate)
	}

	frames := len(data) / (2 * channels)
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			v := int16(binary.LittleEndian.Uint16(data[(i*channels+c)*2:]))
			sum += pcmToFloat(v)
		}
		samples[i] = sum / float32(channels)
	}
	return &Segment{Samples: samples, Rate: sampleRate}, nil
}

// pcmToFloat inverts the asymmetric encode scaling.
func pcmToFloat(v int16) float32 {
	if v >= 0 {
		return float32(v) / 32767
	}
	return float32(v) / 32768
}
