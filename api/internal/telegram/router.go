package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"receipt-proxy/api/internal/requestid"
	"receipt-proxy/api/internal/store"
)

const maxMessageLen = 3900

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// StatsSource is satisfied by *store.AnalysisRepo.
type StatsSource interface {
	Summary(ctx context.Context, since time.Time) (store.Summary, error)
}

type Router struct {
	Bot        BotAPI
	EngManager *Manager
	Stats      StatsSource // nil when the analysis log is off
	Log        zerolog.Logger
	HTTP       *http.Client

	MaxImageBytes int64 // 0 means 20 MiB
}

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	msg := upd.Message
	cid := msg.Chat.ID

	log := r.Log.With().Int64("chat_id", cid).Int("update_id", upd.UpdateID).Logger()
	ctx = log.WithContext(requestid.With(ctx, requestid.New()))

	if msg.IsCommand() {
		r.handleCommand(ctx, msg)
		return
	}

	switch {
	case len(msg.Photo) > 0:
		ph := msg.Photo[len(msg.Photo)-1]
		r.analyzeFile(ctx, cid, ph.FileID, "")
	case msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/"):
		r.analyzeFile(ctx, cid, msg.Document.FileID, msg.Document.MimeType)
	case msg.Text != "":
		r.send(cid, "レシートの写真を送ってください。")
	}
}

func (r *Router) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, "レシートの写真を送ると、カテゴリ別の支出に分けて返します。\nコマンド: /health, /engine, /stats")
	case "health":
		name, b := r.EngManager.Get(cid)
		r.send(cid, fmt.Sprintf("✅ OK (%s / %s)", name, b.Service.Engine().GetModel()))
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	case "stats":
		r.handleStats(ctx, cid)
	default:
		r.send(cid, "不明なコマンドです")
	}
}

func (r *Router) handleEngineCommand(chatID int64, args string) {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		cur, _ := r.EngManager.Get(chatID)
		r.send(chatID, "現在のエンジン: "+cur+"\n使い方: /engine {"+strings.Join(r.EngManager.Names(), "|")+"}")
		return
	}
	if name == "openai" {
		name = "gpt"
	}
	if !r.EngManager.Set(chatID, name) {
		r.send(chatID, "未設定のエンジンです。利用可能: "+strings.Join(r.EngManager.Names(), " | "))
		return
	}
	r.send(chatID, "✅ エンジン: "+name)
}

func (r *Router) handleStats(ctx context.Context, chatID int64) {
	if r.Stats == nil {
		r.send(chatID, "分析ログは無効です。")
		return
	}
	s, err := r.Stats.Summary(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("stats query failed")
		r.send(chatID, "統計を取得できませんでした。")
		return
	}
	r.send(chatID, fmt.Sprintf("直近24時間: %d件（失敗 %d件）\nトークン: %d\n合計金額: %d円",
		s.Total, s.Failed, s.TotalTokens, s.TotalAmount))
}

func (r *Router) send(chatID int64, text string) {
	if len(text) > maxMessageLen {
		text = truncateUTF8(text, maxMessageLen) + "…"
	}
	if _, err := r.Bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.Log.Warn().Err(err).Int64("chat_id", chatID).Msg("telegram send failed")
	}
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
