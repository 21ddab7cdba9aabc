package handle

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-proxy/api/internal/receipt"
	"receipt-proxy/api/internal/receipt/openai"
)

const validBody = `{"apiKey":"sk-test","imageBase64":"data:image/png;base64,iVBORw0KGgo="}`

// newTestHandle points the real OpenAI engine at a fake upstream and counts its calls.
func newTestHandle(t *testing.T, upstream http.HandlerFunc, maxBody int64) (*Handle, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		upstream(w, r)
	}))
	t.Cleanup(srv.Close)

	eng := openai.New(srv.URL).WithHTTPClient(srv.Client())
	return New(receipt.NewService(eng), maxBody), &calls
}

func replyWith(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
			"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

func do(h *Handle, method, body string) *httptest.ResponseRecorder {
	return doLogged(h, method, body, zerolog.Nop())
}

func doLogged(h *Handle, method, body string, log zerolog.Logger) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/analyze-receipt", strings.NewReader(body))
	req = req.WithContext(log.WithContext(req.Context()))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.AnalyzeReceipt(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestAnalyzeReceipt_Preflight(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("[]"), 0)

	rec := do(h, http.MethodOptions, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestAnalyzeReceipt_MethodNotAllowed(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("[]"), 0)

	for _, m := range []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		rec := do(h, m, validBody)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, m)
		assert.Equal(t, map[string]any{"error": "Method not allowed"}, decode(t, rec))
	}
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestAnalyzeReceipt_ValidationErrors(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("[]"), 0)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "APIキーまたは画像データが不足しています"},
		{"missing api key", `{"imageBase64":"data:image/png;base64,AAAA"}`, "APIキーまたは画像データが不足しています"},
		{"missing image", `{"apiKey":"sk-test"}`, "APIキーまたは画像データが不足しています"},
		{"empty strings", `{"apiKey":"","imageBase64":""}`, "APIキーまたは画像データが不足しています"},
		{"raw base64", `{"apiKey":"sk-test","imageBase64":"iVBORw0KGgo="}`, "Invalid image format"},
		{"bmp", `{"apiKey":"sk-test","imageBase64":"data:image/bmp;base64,Qk0="}`, "Unsupported image format. Please use PNG, JPEG, GIF, or WEBP."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, map[string]any{"error": tt.want}, decode(t, rec))
		})
	}
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestAnalyzeReceipt_Success(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("Here is the result:\n[{\"category\":\"食費\",\"amount\":500,\"items\":[\"coffee\"]}]\nThanks"), 0)

	rec := do(h, http.MethodPost, validBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"success": true,
		"data": [{"category":"食費","amount":500,"items":["coffee"]}],
		"usage": {"prompt_tokens":100,"completion_tokens":20,"total_tokens":120}
	}`, rec.Body.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestAnalyzeReceipt_AllowedPrefixWithArbitraryTail(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("[]"), 0)

	rec := do(h, http.MethodPost, `{"apiKey":"sk-test","imageBase64":"data:image/png not really base64"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestAnalyzeReceipt_ExtractionFailure(t *testing.T) {
	h, _ := newTestHandle(t, replyWith("No items found."), 0)

	rec := do(h, http.MethodPost, validBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{
		"error":      "JSONデータが見つかりません",
		"rawContent": "No items found.",
	}, decode(t, rec))
}

func TestAnalyzeReceipt_ParseFailure(t *testing.T) {
	h, _ := newTestHandle(t, replyWith("[{bad json}]"), 0)

	rec := do(h, http.MethodPost, validBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "JSON解析エラー", body["error"])
	assert.Equal(t, "[{bad json}]", body["rawContent"])
	assert.NotEmpty(t, body["parseError"])
}

func TestAnalyzeReceipt_UpstreamError(t *testing.T) {
	h, _ := newTestHandle(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
	}, 0)

	rec := do(h, http.MethodPost, validBody)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, map[string]any{
		"error":   "OpenAI API Error: 401",
		"details": `{"error":{"message":"Incorrect API key provided"}}`,
	}, decode(t, rec))
}

func TestAnalyzeReceipt_UnexpectedUpstreamShape(t *testing.T) {
	h, _ := newTestHandle(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}, 0)

	rec := do(h, http.MethodPost, validBody)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, map[string]any{"error": "予期しないAPIレスポンス形式"}, decode(t, rec))
}

func TestAnalyzeReceipt_MalformedBody(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("[]"), 0)

	var logs bytes.Buffer
	rec := doLogged(h, http.MethodPost, `{"apiKey":`, zerolog.New(&logs))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "サーバー内部エラー", body["error"])
	assert.NotEmpty(t, body["details"])
	assert.Zero(t, atomic.LoadInt32(calls))
	assert.Contains(t, logs.String(), "request body decode failed")
	assert.Contains(t, logs.String(), `"level":"error"`)
}

func TestAnalyzeReceipt_BodyTooLarge(t *testing.T) {
	h, calls := newTestHandle(t, replyWith("[]"), 32)

	var logs bytes.Buffer
	rec := doLogged(h, http.MethodPost, validBody, zerolog.New(&logs))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "サーバー内部エラー", decode(t, rec)["error"])
	assert.Zero(t, atomic.LoadInt32(calls))
	assert.Contains(t, logs.String(), "request body read failed")
}
