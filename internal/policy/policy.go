// Package policy decides what the agent says next by asking an
// OpenAI-compatible chat endpoint, with a one-shot fallback model for
// transient failures.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/call-voice-lab/internal/call"
	"github.com/call-voice-lab/internal/logging"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// endCallMarker in a completion tells the controller this utterance is the
// agent's last. It is stripped before the text reaches a turn.
const endCallMarker = "[END_CALL]"

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client implements call.DialoguePolicy against a chat-completions API.
type Client struct {
	BaseURL       string
	APIKey        string
	Model         string
	FallbackModel string
	MaxTokens     int
	HTTP          *http.Client
}

func NewClientFromEnv() *Client {
	base := os.Getenv("OPENAI_BASE_URL")
	if base == "" {
		base = "http://127.0.0.1:8000/v1"
	}
	maxTokens := 512
	if mt := os.Getenv("LLM_MAX_TOKENS"); mt != "" {
		var parsed int
		fmt.Sscanf(mt, "%d", &parsed)
		if parsed > 0 {
			maxTokens = parsed
		}
	}
	return &Client{
		BaseURL:       strings.TrimRight(base, "/"),
		APIKey:        os.Getenv("OPENAI_API_KEY"),
		Model:         os.Getenv("OPENAI_MODEL"),
		FallbackModel: os.Getenv("OPENAI_FALLBACK_MODEL"),
		MaxTokens:     maxTokens,
		HTTP:          &http.Client{Timeout: 20 * time.Second},
	}
}

// Decide maps the conversation so far to the agent's next utterance.
func (c *Client) Decide(ctx context.Context, req call.PolicyRequest) (call.PolicyDecision, error) {
	messages := buildMessages(req)

	model := c.Model
	if model == "" {
		model = "local"
	}
	content, err := c.complete(ctx, model, messages)
	if err != nil {
		if errors.Is(err, ErrTransient) && c.FallbackModel != "" && c.FallbackModel != model {
			logging.Warnw("policy: primary model failed, trying fallback",
				"model", model, "fallback", c.FallbackModel, "err", err)
			time.Sleep(250 * time.Millisecond)
			content, err = c.complete(ctx, c.FallbackModel, messages)
		}
		if err != nil {
			return call.PolicyDecision{}, err
		}
	}

	dec := call.PolicyDecision{Utterance: content}
	if idx := strings.Index(content, endCallMarker); idx >= 0 {
		dec.EndCall = true
		dec.Utterance = strings.TrimSpace(content[:idx] + content[idx+len(endCallMarker):])
	}
	dec.Utterance = strings.TrimSpace(dec.Utterance)
	return dec, nil
}

func (c *Client) complete(ctx context.Context, model string, messages []chatMessage) (string, error) {
	payload := map[string]interface{}{
		"model":       model,
		"messages":    messages,
		"max_tokens":  c.MaxTokens,
		"temperature": 0.7,
	}
	bodyBytes, _ := json.Marshal(payload)

	url := fmt.Sprintf("%s/chat/completions", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(string(bodyBytes)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var out struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
		}
		if len(out.Choices) == 0 {
			return "", nil
		}
		return out.Choices[0].Message.Content, nil
	}

	if resp.StatusCode >= 500 || resp.StatusCode == 429 {
		return "", fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	// 4xx are permanent; retrying the same prompt cannot help
	return "", fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}

// buildMessages turns scenario config and the turn history into a chat
// transcript. For ActionBegin there is no history yet and the system prompt
// alone elicits the greeting.
func buildMessages(req call.PolicyRequest) []chatMessage {
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, a voice agent discussing %s with a caller.\n", req.Config.AgentName, req.Config.ProductName)
	if req.Config.ProductContext != "" {
		fmt.Fprintf(&sys, "Product context: %s\n", req.Config.ProductContext)
	}
	if req.Config.CohortName != "" {
		fmt.Fprintf(&sys, "The caller belongs to the %s cohort.\n", req.Config.CohortName)
	}
	sys.WriteString("Keep replies short and conversational. ")
	sys.WriteString("When the conversation has reached a natural close, append " + endCallMarker + " to your reply.")

	messages := []chatMessage{{Role: "system", Content: sys.String()}}
	switch req.Action {
	case call.ActionBegin:
		messages = append(messages, chatMessage{Role: "user", Content: "The call has just connected. Greet the caller."})
	case call.ActionEnd:
		messages = append(messages, historyMessages(req.Turns)...)
		messages = append(messages, chatMessage{
			Role:    "user",
			Content: "The caller has gone quiet. Say a brief goodbye and append " + endCallMarker + ".",
		})
	default:
		messages = append(messages, historyMessages(req.Turns)...)
	}
	return messages
}

func historyMessages(turns []call.TurnSnapshot) []chatMessage {
	out := make([]chatMessage, 0, len(turns))
	for _, t := range turns {
		if t.IsError {
			continue
		}
		role := "user"
		if t.Speaker == call.SpeakerAgent.String() {
			role = "assistant"
		}
		text := t.Text
		if t.IsSilent {
			text = "(the caller said nothing)"
		}
		out = append(out, chatMessage{Role: role, Content: text})
	}
	return out
}
