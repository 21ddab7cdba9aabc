package handle

import (
	"encoding/json"
	"net/http"

	"receipt-proxy/api/internal/receipt"
)

// DefaultMaxBodyBytes bounds the inbound JSON (the image travels inside it).
const DefaultMaxBodyBytes = 20 << 20

type Handle struct {
	svc     *receipt.Service
	maxBody int64
}

func New(svc *receipt.Service, maxBody int64) *Handle {
	if maxBody <= 0 {
		maxBody = DefaultMaxBodyBytes
	}
	return &Handle{
		svc:     svc,
		maxBody: maxBody,
	}
}

type errorBody struct {
	Error      string  `json:"error"`
	Details    *string `json:"details,omitempty"`
	RawContent *string `json:"rawContent,omitempty"`
	ParseError string  `json:"parseError,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders any error as the JSON error body with its classified status.
func WriteError(w http.ResponseWriter, err error) {
	e := receipt.Classify(err)
	writeJSON(w, e.Status, errorBody{
		Error:      e.Message,
		Details:    e.Details,
		RawContent: e.RawContent,
		ParseError: e.ParseError,
	})
}
