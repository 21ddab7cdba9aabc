package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"receipt-proxy/api/internal/receipt"
	"receipt-proxy/api/internal/util"
)

const DefaultModel = "gemini-2.5-flash"

type Engine struct {
	Model string
	opts  []option.ClientOption
}

// New builds an engine; extra options are appended after the per-call API key.
func New(model string, opts ...option.ClientOption) *Engine {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultModel
	}
	return &Engine{Model: model, opts: opts}
}

func (e *Engine) Name() string     { return "gemini" }
func (e *Engine) GetModel() string { return e.Model }

func (e *Engine) Complete(ctx context.Context, apiKey, imageDataURL string) (receipt.Completion, error) {
	img, mimeFromDataURL, err := util.DecodeBase64MaybeDataURL(imageDataURL)
	if err != nil {
		return receipt.Completion{}, fmt.Errorf("gemini: bad base64: %w", err)
	}

	opts := append([]option.ClientOption{option.WithAPIKey(apiKey)}, e.opts...)
	cl, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return receipt.Completion{}, fmt.Errorf("gemini: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(e.Model)
	m.SetTemperature(receipt.Temperature)
	m.SetMaxOutputTokens(receipt.MaxOutputTokens)

	resp, err := m.GenerateContent(ctx,
		genai.Text(receipt.Instruction),
		&genai.Blob{MIMEType: util.PickMIME(mimeFromDataURL, img), Data: img},
	)
	if err != nil {
		return receipt.Completion{}, classifyError(ctx, err)
	}
	return completionFromResponse(ctx, resp)
}

// classifyError maps provider HTTP failures to an upstream error with the provider's status.
func classifyError(ctx context.Context, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= http.StatusBadRequest {
		body := gerr.Body
		if body == "" {
			body = gerr.Message
		}
		zerolog.Ctx(ctx).Error().Int("status", gerr.Code).Str("body", body).Msg("gemini api error")
		return receipt.UpstreamError("Gemini", gerr.Code, body)
	}
	return fmt.Errorf("gemini: %w", err)
}

type usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

func completionFromResponse(ctx context.Context, resp *genai.GenerateContentResponse) (receipt.Completion, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		ev := zerolog.Ctx(ctx).Error()
		if resp != nil && resp.PromptFeedback != nil {
			ev = ev.Str("block_reason", resp.PromptFeedback.BlockReason.String())
		}
		ev.Msg("gemini response has no candidates[0].content")
		return receipt.Completion{}, receipt.ErrUnexpectedUpstreamShape
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}

	var u json.RawMessage
	if md := resp.UsageMetadata; md != nil {
		raw, err := json.Marshal(usage{
			PromptTokens:     md.PromptTokenCount,
			CompletionTokens: md.CandidatesTokenCount,
			TotalTokens:      md.TotalTokenCount,
		})
		if err != nil {
			return receipt.Completion{}, fmt.Errorf("gemini: encode usage: %w", err)
		}
		u = raw
	}
	return receipt.Completion{Content: b.String(), Usage: u}, nil
}
