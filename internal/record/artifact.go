package record

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hraban/opus"
)

// Artifact layout: an 8-byte magic, a uint32 little-endian sample rate,
// then a run of [uint16 length][opus packet] entries, each packet holding
// one 20 ms mono frame.
const artifactMagic = "OPUSREC1"

// ArtifactKind distinguishes live-recorded output from stitched WAV so
// callers can pick a file extension.
func ArtifactKind(b []byte) string {
	if len(b) >= len(artifactMagic) && string(b[:len(artifactMagic)]) == artifactMagic {
		return "opusrec"
	}
	return "wav"
}

func encodeArtifact(samples []int16, rate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	enc, err := opus.NewEncoder(rate, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}

	frame := rate / 50
	var buf bytes.Buffer
	buf.WriteString(artifactMagic)
	if err := binary.Write(&buf, binary.LittleEndian, uint32(rate)); err != nil {
		return nil, err
	}

	packet := make([]byte, 4000)
	scratch := make([]int16, frame)
	for off := 0; off < len(samples); off += frame {
		chunk := samples[off:]
		if len(chunk) >= frame {
			chunk = chunk[:frame]
		} else {
			// pad the trailing partial frame with silence
			copy(scratch, chunk)
			for i := len(chunk); i < frame; i++ {
				scratch[i] = 0
			}
			chunk = scratch
		}
		n, err := enc.Encode(chunk, packet)
		if err != nil {
			return nil, fmt.Errorf("encode frame at %d: %w", off, err)
		}
		if err := binary.Write(&buf, binary.LittleEndian, uint16(n)); err != nil {
			return nil, err
		}
		buf.Write(packet[:n])
	}
	return buf.Bytes(), nil
}

// DecodeArtifact expands a recorded artifact back to PCM, mostly for tests
// and offline inspection.
func DecodeArtifact(b []byte) ([]int16, int, error) {
	if len(b) < len(artifactMagic)+4 || string(b[:len(artifactMagic)]) != artifactMagic {
		return nil, 0, errors.New("not a recorded artifact")
	}
	rate := int(binary.LittleEndian.Uint32(b[len(artifactMagic):]))
	dec, err := opus.NewDecoder(rate, 1)
	if err != nil {
		return nil, 0, err
	}

	var out []int16
	rest := b[len(artifactMagic)+4:]
	buf := make([]int16, rate/50)
	for len(rest) >= 2 {
		n := int(binary.LittleEndian.Uint16(rest))
		rest = rest[2:]
		if n > len(rest) {
			return nil, 0, errors.New("truncated artifact packet")
		}
		got, err := dec.Decode(rest[:n], buf)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, buf[:got]...)
		rest = rest[n:]
	}
	return out, rate, nil
}
