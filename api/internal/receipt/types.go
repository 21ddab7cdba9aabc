package receipt

import (
	"context"
	"encoding/json"
	"time"
)

// ExpenseItem is one categorized line of a receipt as returned by the model.
type ExpenseItem struct {
	Category Category `json:"category"`
	Amount   int      `json:"amount"`
	Items    []string `json:"items"`
}

// AnalysisRequest is the inbound payload. APIKey is forwarded to the provider as is.
type AnalysisRequest struct {
	APIKey      string `json:"apiKey"`
	ImageBase64 string `json:"imageBase64"` // data:image/<subtype>;base64,...
}

// AnalysisResult is the success body. Data is the parsed array exactly as the model produced it.
type AnalysisResult struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Usage   json.RawMessage `json:"usage,omitempty"`
}

// Expenses decodes Data into typed items. Elements with unexpected shapes make it fail,
// the raw Data stays valid regardless.
func (r *AnalysisResult) Expenses() ([]ExpenseItem, error) {
	var out []ExpenseItem
	if err := json.Unmarshal(r.Data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Completion is the model reply reduced to what the extractor needs.
type Completion struct {
	Content string
	Usage   json.RawMessage
}

// Engine sends one image to a vision model and returns its text reply.
type Engine interface {
	Name() string
	GetModel() string
	Complete(ctx context.Context, apiKey, imageDataURL string) (Completion, error)
}

// AnalysisEvent describes the outcome of one analysis. It never carries the credential or the image.
type AnalysisEvent struct {
	RequestID        string
	Engine           string
	Model            string
	Status           int
	Kind             Kind // empty on success
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ItemCount        int
	TotalAmount      int
	RawContent       string // failures only
	Duration         time.Duration
	CreatedAt        time.Time
}

// Recorder receives one event per analysis.
type Recorder interface {
	Record(ctx context.Context, ev AnalysisEvent) error
}
