// Package synth is the text-to-speech HTTP client used by the playback
// queue. The service takes {text, voice} and answers with a WAV body.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/call-voice-lab/internal/httputil"
	"github.com/call-voice-lab/internal/logging"
)

type Client struct {
	URL       string
	AuthToken string
	HTTP      *http.Client
	TimeoutMs int
}

func NewClientFromEnv() *Client {
	timeout := 10000
	if v := os.Getenv("TTS_TIMEOUT_MS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeout = parsed
		}
	}
	return &Client{
		URL:       os.Getenv("TTS_URL"),
		AuthToken: os.Getenv("TTS_AUTH_TOKEN"),
		TimeoutMs: timeout,
	}
}

// Synthesize posts text to the TTS service and returns the WAV bytes.
func (c *Client) Synthesize(ctx context.Context, text, voiceProfile string) ([]byte, error) {
	if c == nil || c.URL == "" {
		return nil, fmt.Errorf("tts client not configured")
	}
	body, _ := json.Marshal(map[string]string{"text": text, "voice": voiceProfile})
	resp, err := httputil.PostJSONWithRetries(c.HTTP, c.URL, body, c.AuthToken, c.TimeoutMs, 2, "")
	if err != nil {
		logging.Debugw("tts: POST failed", "err", err)
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		_, _ = io.ReadAll(resp.Body)
		logging.Warnw("tts: returned non-2xx", "status", resp.StatusCode)
		return nil, fmt.Errorf("tts returned status %d", resp.StatusCode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return io.ReadAll(resp.Body)
}
