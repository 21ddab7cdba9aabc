package handle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"receipt-proxy/api/internal/receipt"
)

// AnalyzeReceipt is the receipt endpoint. CORS headers are set by the router, not here.
func (h *Handle) AnalyzeReceipt(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		WriteError(w, receipt.ErrMethodNotAllowed)
		return
	}

	req, err := h.decodeRequest(w, r)
	if err != nil {
		WriteError(w, err)
		return
	}

	res, err := h.svc.Analyze(r.Context(), req)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeRequest treats an empty body as a request without fields.
func (h *Handle) decodeRequest(w http.ResponseWriter, r *http.Request) (receipt.AnalysisRequest, error) {
	log := zerolog.Ctx(r.Context())

	var req receipt.AnalysisRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		log.Error().Err(err).Int64("limit", h.maxBody).Msg("request body read failed")
		return req, receipt.Internal(fmt.Errorf("read body: %w", err))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		log.Error().Err(err).Msg("request body decode failed")
		return req, receipt.Internal(fmt.Errorf("decode body: %w", err))
	}
	return req, nil
}
