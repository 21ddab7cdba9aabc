package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"receipt-proxy/api/internal/receipt"
	"receipt-proxy/api/internal/util"
)

const maxImageBytes = 20 << 20

func (r *Router) analyzeFile(ctx context.Context, chatID int64, fileID, mimeHint string) {
	log := zerolog.Ctx(ctx)

	url, err := r.Bot.GetFileDirectURL(fileID)
	if err != nil {
		log.Error().Err(err).Msg("telegram getFile failed")
		r.send(chatID, "画像を取得できませんでした。")
		return
	}
	img, err := r.download(ctx, url)
	if err != nil {
		log.Error().Err(err).Msg("image download failed")
		r.send(chatID, "画像をダウンロードできませんでした。")
		return
	}

	r.send(chatID, "レシートを解析しています…")

	name, b := r.EngManager.Get(chatID)
	res, err := b.Service.Analyze(ctx, receipt.AnalysisRequest{
		APIKey:      b.APIKey,
		ImageBase64: util.MakeDataURL(util.PickMIME(mimeHint, img), img),
	})
	if err != nil {
		log.Warn().Err(err).Str("engine", name).Msg("receipt analysis failed")
		r.send(chatID, FormatError(err))
		return
	}
	r.send(chatID, FormatResult(res))
}

func (r *Router) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(b))
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, r.imageLimit()+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > r.imageLimit() {
		return nil, fmt.Errorf("image exceeds %d bytes", r.imageLimit())
	}
	return b, nil
}

func (r *Router) imageLimit() int64 {
	if r.MaxImageBytes > 0 {
		return r.MaxImageBytes
	}
	return maxImageBytes
}

func (r *Router) httpClient() *http.Client {
	if r.HTTP != nil {
		return r.HTTP
	}
	return &http.Client{Timeout: 60 * time.Second}
}
