package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"receipt-proxy/api/internal/receipt"
)

const (
	DefaultURL  = "https://api.openai.com/v1/chat/completions"
	Model       = "gpt-4o-mini"
	ImageDetail = "low"
)

type Engine struct {
	URL   string
	httpc *http.Client
}

func New(url string) *Engine {
	if url == "" {
		url = DefaultURL
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	return &Engine{
		URL: url,
		// no client timeout: the inbound request context is the only deadline
		httpc: &http.Client{Transport: tr},
	}
}

// WithHTTPClient overrides the internal HTTP client (e.g., for tests or tracing).
func (e *Engine) WithHTTPClient(c *http.Client) *Engine {
	if c != nil {
		e.httpc = c
	}
	return e
}

func (e *Engine) Name() string     { return "gpt" }
func (e *Engine) GetModel() string { return Model }

type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail"`
}

// BuildRequest composes the chat-completions body for one receipt image.
func BuildRequest(imageDataURL string) ChatRequest {
	return ChatRequest{
		Model: Model,
		Messages: []Message{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: receipt.Instruction},
				{Type: "image_url", ImageURL: &ImageURL{URL: imageDataURL, Detail: ImageDetail}},
			},
		}},
		MaxTokens:   receipt.MaxOutputTokens,
		Temperature: receipt.Temperature,
	}
}

// Complete performs exactly one call. apiKey is used for this request only.
func (e *Engine) Complete(ctx context.Context, apiKey, imageDataURL string) (receipt.Completion, error) {
	payload, err := json.Marshal(BuildRequest(imageDataURL))
	if err != nil {
		return receipt.Completion{}, fmt.Errorf("openai: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader(payload))
	if err != nil {
		return receipt.Completion{}, fmt.Errorf("openai: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := e.httpc.Do(req)
	if err != nil {
		return receipt.Completion{}, fmt.Errorf("openai: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return receipt.Completion{}, fmt.Errorf("openai: read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		zerolog.Ctx(ctx).Error().
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("openai api error")
		return receipt.Completion{}, receipt.UpstreamError("OpenAI", resp.StatusCode, string(body))
	}

	if !json.Valid(body) {
		return receipt.Completion{}, errors.New("openai: response body is not JSON")
	}
	msg, usage, ok := firstMessage(body)
	if !ok {
		zerolog.Ctx(ctx).Error().Str("body", string(body)).Msg("openai response has no choices[0].message")
		return receipt.Completion{}, receipt.ErrUnexpectedUpstreamShape
	}

	var m struct {
		Content json.RawMessage `json:"content"`
	}
	var content string
	if json.Unmarshal(msg, &m) != nil || len(m.Content) == 0 || string(m.Content) == "null" ||
		json.Unmarshal(m.Content, &content) != nil {
		return receipt.Completion{}, errors.New("openai: message content is not a string")
	}
	return receipt.Completion{Content: content, Usage: usage}, nil
}

// firstMessage walks body.choices[0].message without decoding the other choices.
// ok is false when any step of that path is missing, null or of the wrong kind.
func firstMessage(body []byte) (msg, usage json.RawMessage, ok bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, nil, false
	}
	var choices []json.RawMessage
	if err := json.Unmarshal(top["choices"], &choices); err != nil || len(choices) == 0 {
		return nil, nil, false
	}
	var first map[string]json.RawMessage
	if err := json.Unmarshal(choices[0], &first); err != nil {
		return nil, nil, false
	}
	msg, found := first["message"]
	if !found || string(msg) == "null" {
		return nil, nil, false
	}
	return msg, top["usage"], true
}
