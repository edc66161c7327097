// Package score grades a finished call's transcript via an external
// scoring service. Scoring never runs while a call is live.
package score

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/call-voice-lab/internal/call"
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
	return &Client{
		URL:       os.Getenv("SCORER_URL"),
		AuthToken: os.Getenv("SCORER_AUTH_TOKEN"),
		TimeoutMs: 30000,
	}
}

// Score posts the transcript and product context and decodes the report.
func (c *Client) Score(ctx context.Context, transcript, productContext string) (*call.ScoreReport, error) {
	if c == nil || c.URL == "" {
		return nil, fmt.Errorf("scorer not configured")
	}
	body, _ := json.Marshal(map[string]string{
		"transcript":      transcript,
		"product_context": productContext,
	})
	resp, err := httputil.PostJSONWithRetries(c.HTTP, c.URL, body, c.AuthToken, c.TimeoutMs, 2, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logging.Warnw("score: returned non-2xx", "status", resp.StatusCode)
		return nil, fmt.Errorf("scorer returned status %d", resp.StatusCode)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var report call.ScoreReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("decode score report: %w", err)
	}
	return &report, nil
}
