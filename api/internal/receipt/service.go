package receipt

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"receipt-proxy/api/internal/requestid"
)

// Service runs validation, the engine call and extraction for one request.
type Service struct {
	engine   Engine
	recorder Recorder
	now      func() time.Time
}

type Option func(*Service)

// WithRecorder attaches an analysis log. Recorder errors are logged and otherwise ignored.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(engine Engine, opts ...Option) *Service {
	s := &Service{engine: engine, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Engine() Engine { return s.engine }

// Analyze returns either a full result or a *Error, never both.
func (s *Service) Analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, error) {
	started := s.now()
	res, content, err := s.analyze(ctx, req)
	s.record(ctx, started, res, content, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) analyze(ctx context.Context, req AnalysisRequest) (*AnalysisResult, string, error) {
	log := zerolog.Ctx(ctx)

	if err := Validate(req); err != nil {
		return nil, "", err
	}

	c, err := s.engine.Complete(ctx, req.APIKey, req.ImageBase64)
	if err != nil {
		e := Classify(err)
		if e.Kind == KindInternal {
			log.Error().Err(err).Str("engine", s.engine.Name()).Msg("engine call failed")
		}
		return nil, "", e
	}

	res, err := Extract(c)
	if err != nil {
		e := Classify(err)
		log.Error().
			Str("kind", string(e.Kind)).
			Str("raw_content", c.Content).
			Str("parse_error", e.ParseError).
			Msg("model reply not extractable")
		return nil, c.Content, e
	}

	if items, err := res.Expenses(); err == nil {
		if unknown := UnknownCategories(items); len(unknown) > 0 {
			log.Warn().Interface("categories", unknown).Msg("model used categories outside the taxonomy")
		}
	}
	return res, c.Content, nil
}

func (s *Service) record(ctx context.Context, started time.Time, res *AnalysisResult, content string, err error) {
	if s.recorder == nil {
		return
	}
	ev := AnalysisEvent{
		RequestID: requestid.From(ctx),
		Engine:    s.engine.Name(),
		Model:     s.engine.GetModel(),
		Status:    http.StatusOK,
		Duration:  s.now().Sub(started),
		CreatedAt: started,
	}
	if err != nil {
		e := Classify(err)
		ev.Status = e.Status
		ev.Kind = e.Kind
		if e.RawContent != nil {
			ev.RawContent = *e.RawContent
		} else {
			ev.RawContent = content
		}
	}
	if res != nil {
		ev.PromptTokens, ev.CompletionTokens, ev.TotalTokens = usageTokens(res.Usage)
		ev.ItemCount, ev.TotalAmount = summarize(res)
	}
	if rerr := s.recorder.Record(ctx, ev); rerr != nil {
		zerolog.Ctx(ctx).Warn().Err(rerr).Msg("analysis log write failed")
	}
}

func usageTokens(raw json.RawMessage) (prompt, completion, total int) {
	if len(raw) == 0 {
		return 0, 0, 0
	}
	var u struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}
	if err := json.Unmarshal(raw, &u); err != nil {
		return 0, 0, 0
	}
	return u.PromptTokens, u.CompletionTokens, u.TotalTokens
}

func summarize(res *AnalysisResult) (count, amount int) {
	if items, err := res.Expenses(); err == nil {
		for _, it := range items {
			amount += it.Amount
		}
		return len(items), amount
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(res.Data, &elems); err == nil {
		return len(elems), 0
	}
	return 0, 0
}
