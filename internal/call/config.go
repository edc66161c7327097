package call

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything a session needs before Start is allowed:
// identity, product context, voice profile, and the capture/turn-taking
// tunables.
type Config struct {
	AgentName      string
	ProductName    string
	ProductContext string
	CohortName     string
	VoiceProfile   string

	// SilenceTimeout is how long speech must stop before the capture
	// service emits a final transcript.
	SilenceTimeout time.Duration
	// InactivityTimeout fires only when no speech at all begins after
	// listening starts.
	InactivityTimeout time.Duration
	// MinFinalLen and MinConfidence gate noise: shorter or less confident
	// finals are discarded, not forwarded.
	MinFinalLen   int
	MinConfidence float64
	// MaxSilentTurns bounds consecutive synthetic silent turns before the
	// session asks the policy for a wrap-up and ends the call.
	MaxSilentTurns int
}

// ApplyDefaults fills zero-valued tunables with the shipped defaults.
func (c *Config) ApplyDefaults() {
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = 250 * time.Millisecond
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = 8 * time.Second
	}
	if c.MinFinalLen <= 0 {
		c.MinFinalLen = 2
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.4
	}
	if c.MaxSilentTurns <= 0 {
		c.MaxSilentTurns = 3
	}
}

// Validate reports the first missing required field. A session with an
// invalid config stays in StateConfiguring.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AgentName) == "" {
		return fmt.Errorf("agent name is required")
	}
	if strings.TrimSpace(c.ProductName) == "" {
		return fmt.Errorf("product name is required")
	}
	if strings.TrimSpace(c.VoiceProfile) == "" {
		return fmt.Errorf("voice profile is required")
	}
	return nil
}

// ConfigFromEnv builds a Config from CALL_* environment variables, leaving
// tunables at defaults unless overridden.
func ConfigFromEnv() Config {
	c := Config{
		AgentName:      strings.TrimSpace(os.Getenv("CALL_AGENT_NAME")),
		ProductName:    strings.TrimSpace(os.Getenv("CALL_PRODUCT_NAME")),
		ProductContext: strings.TrimSpace(os.Getenv("CALL_PRODUCT_CONTEXT")),
		CohortName:     strings.TrimSpace(os.Getenv("CALL_COHORT")),
		VoiceProfile:   strings.TrimSpace(os.Getenv("CALL_VOICE_PROFILE")),
	}
	if v := envMs("CALL_SILENCE_TIMEOUT_MS"); v > 0 {
		c.SilenceTimeout = v
	}
	if v := envMs("CALL_INACTIVITY_TIMEOUT_MS"); v > 0 {
		c.InactivityTimeout = v
	}
	if v, err := strconv.Atoi(os.Getenv("CALL_MAX_SILENT_TURNS")); err == nil && v > 0 {
		c.MaxSilentTurns = v
	}
	c.ApplyDefaults()
	return c
}

func envMs(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Millisecond
}

// SaveAudioDir returns the configured directory for persisting the final
// call recording, or empty string if saving is disabled.
func SaveAudioDir() string {
	enabled := strings.ToLower(strings.TrimSpace(os.Getenv("SAVE_AUDIO_ENABLED")))
	if enabled != "true" {
		return ""
	}
	return strings.TrimSpace(os.Getenv("SAVE_AUDIO_DIR"))
}
