package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"receipt-proxy/api/internal/receipt"
	"receipt-proxy/api/internal/store"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []string
	fileURL string
	fileErr error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetFileDirectURL(string) (string, error) { return b.fileURL, b.fileErr }

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

type stubEngine struct {
	name    string
	content string
	err     error

	gotKey, gotImage string
}

func (e *stubEngine) Name() string     { return e.name }
func (e *stubEngine) GetModel() string { return e.name + "-model" }

func (e *stubEngine) Complete(_ context.Context, apiKey, imageDataURL string) (receipt.Completion, error) {
	e.gotKey, e.gotImage = apiKey, imageDataURL
	return receipt.Completion{Content: e.content}, e.err
}

type fakeStats struct {
	s   store.Summary
	err error
}

func (f fakeStats) Summary(context.Context, time.Time) (store.Summary, error) { return f.s, f.err }

func newTestRouter(bot *fakeBot, engines ...*stubEngine) *Router {
	backends := map[string]Backend{}
	for _, e := range engines {
		backends[e.name] = Backend{Service: receipt.NewService(e), APIKey: "key-" + e.name}
	}
	return &Router{
		Bot:        bot,
		EngManager: NewManager(engines[0].name, backends),
		Log:        zerolog.Nop(),
	}
}

func command(chatID int64, text string) tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func imageServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHandleUpdate_PhotoAnalyzed(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10}
	srv := imageServer(t, jpeg)

	bot := &fakeBot{fileURL: srv.URL + "/photo.jpg"}
	eng := &stubEngine{name: "gpt", content: `[{"category":"食費","amount":500,"items":["coffee"]}]`}
	r := newTestRouter(bot, eng)
	r.HTTP = srv.Client()

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: 7},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
	}})

	assert.Equal(t, "key-gpt", eng.gotKey)
	assert.True(t, strings.HasPrefix(eng.gotImage, "data:image/jpeg;base64,"), eng.gotImage)
	assert.Equal(t, []string{
		"レシートを解析しています…",
		"🧾 解析結果\n• 食費: 500円（coffee）\n合計: 500円",
	}, bot.texts())
}

func TestHandleUpdate_DocumentUsesDeclaredMIME(t *testing.T) {
	srv := imageServer(t, []byte("RIFF....WEBP"))

	bot := &fakeBot{fileURL: srv.URL}
	eng := &stubEngine{name: "gpt", content: `[]`}
	r := newTestRouter(bot, eng)
	r.HTTP = srv.Client()

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: 7},
		Document: &tgbotapi.Document{FileID: "doc", MimeType: "image/webp"},
	}})

	assert.True(t, strings.HasPrefix(eng.gotImage, "data:image/webp;base64,"), eng.gotImage)
	assert.Equal(t, "レシートから商品が見つかりませんでした。", bot.texts()[1])
}

func TestHandleUpdate_AnalysisFailure(t *testing.T) {
	srv := imageServer(t, []byte{0xFF, 0xD8})

	bot := &fakeBot{fileURL: srv.URL}
	eng := &stubEngine{name: "gpt", err: receipt.UpstreamError("OpenAI", http.StatusUnauthorized, "bad key")}
	r := newTestRouter(bot, eng)
	r.HTTP = srv.Client()

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 7},
		Photo: []tgbotapi.PhotoSize{{FileID: "p"}},
	}})

	assert.Equal(t, "⚠️ 解析に失敗しました: OpenAI API Error: 401", bot.texts()[1])
}

func TestHandleUpdate_GetFileError(t *testing.T) {
	bot := &fakeBot{fileErr: errors.New("file is too big")}
	eng := &stubEngine{name: "gpt"}
	r := newTestRouter(bot, eng)

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 7},
		Photo: []tgbotapi.PhotoSize{{FileID: "p"}},
	}})

	assert.Equal(t, []string{"画像を取得できませんでした。"}, bot.texts())
	assert.Empty(t, eng.gotImage)
}

func TestHandleUpdate_OversizedImageRejected(t *testing.T) {
	srv := imageServer(t, append([]byte{0xFF, 0xD8}, make([]byte, 64)...))

	bot := &fakeBot{fileURL: srv.URL}
	eng := &stubEngine{name: "gpt", content: `[]`}
	r := newTestRouter(bot, eng)
	r.HTTP = srv.Client()
	r.MaxImageBytes = 32

	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Chat:  &tgbotapi.Chat{ID: 7},
		Photo: []tgbotapi.PhotoSize{{FileID: "p"}},
	}})

	assert.Equal(t, []string{"画像をダウンロードできませんでした。"}, bot.texts())
	assert.Empty(t, eng.gotImage)
}

func TestDownload_AtLimit(t *testing.T) {
	img := append([]byte{0xFF, 0xD8}, make([]byte, 30)...)
	srv := imageServer(t, img)

	r := &Router{HTTP: srv.Client(), MaxImageBytes: int64(len(img))}
	got, err := r.download(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, img, got)

	r.MaxImageBytes--
	_, err = r.download(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "exceeds")
}

func TestHandleUpdate_TextAndIgnored(t *testing.T) {
	bot := &fakeBot{}
	r := newTestRouter(bot, &stubEngine{name: "gpt"})

	r.HandleUpdate(context.Background(), tgbotapi.Update{})
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Text: "no chat"}})
	r.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hello"}})

	assert.Equal(t, []string{"レシートの写真を送ってください。"}, bot.texts())
}

func TestCommands(t *testing.T) {
	bot := &fakeBot{}
	r := newTestRouter(bot, &stubEngine{name: "gpt"}, &stubEngine{name: "gemini"})
	ctx := context.Background()

	r.HandleUpdate(ctx, command(1, "/health"))
	r.HandleUpdate(ctx, command(1, "/engine gemini"))
	r.HandleUpdate(ctx, command(1, "/health"))
	r.HandleUpdate(ctx, command(1, "/engine claude"))
	r.HandleUpdate(ctx, command(1, "/engine"))
	r.HandleUpdate(ctx, command(2, "/health"))
	r.HandleUpdate(ctx, command(1, "/nope"))

	assert.Equal(t, []string{
		"✅ OK (gpt / gpt-model)",
		"✅ エンジン: gemini",
		"✅ OK (gemini / gemini-model)",
		"未設定のエンジンです。利用可能: gpt | gemini",
		"現在のエンジン: gemini\n使い方: /engine {gpt|gemini}",
		"✅ OK (gpt / gpt-model)",
		"不明なコマンドです",
	}, bot.texts())
}

func TestCommand_EngineOpenAIAlias(t *testing.T) {
	bot := &fakeBot{}
	r := newTestRouter(bot, &stubEngine{name: "gemini"}, &stubEngine{name: "gpt"})

	r.HandleUpdate(context.Background(), command(1, "/engine OpenAI"))

	assert.Equal(t, []string{"✅ エンジン: gpt"}, bot.texts())
	name, _ := r.EngManager.Get(1)
	assert.Equal(t, "gpt", name)
}

func TestCommand_Start(t *testing.T) {
	bot := &fakeBot{}
	r := newTestRouter(bot, &stubEngine{name: "gpt"})

	r.HandleUpdate(context.Background(), command(1, "/start"))

	require.Len(t, bot.texts(), 1)
	assert.Contains(t, bot.texts()[0], "/engine")
}

func TestCommand_Stats(t *testing.T) {
	bot := &fakeBot{}
	r := newTestRouter(bot, &stubEngine{name: "gpt"})
	ctx := context.Background()

	r.HandleUpdate(ctx, command(1, "/stats"))

	r.Stats = fakeStats{s: store.Summary{Total: 3, Failed: 1, TotalTokens: 360, TotalAmount: 1230}}
	r.HandleUpdate(ctx, command(1, "/stats"))

	r.Stats = fakeStats{err: errors.New("db down")}
	r.HandleUpdate(ctx, command(1, "/stats"))

	assert.Equal(t, []string{
		"分析ログは無効です。",
		"直近24時間: 3件（失敗 1件）\nトークン: 360\n合計金額: 1230円",
		"統計を取得できませんでした。",
	}, bot.texts())
}

func TestSend_TruncatesLongMessages(t *testing.T) {
	bot := &fakeBot{}
	r := newTestRouter(bot, &stubEngine{name: "gpt"})

	r.send(1, strings.Repeat("あ", 2000))

	got := bot.texts()[0]
	assert.LessOrEqual(t, len(got), maxMessageLen+len("…"))
	assert.True(t, strings.HasSuffix(got, "…"))
	assert.True(t, strings.HasPrefix(got, "あああ"))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 10))
	assert.Equal(t, "ab", truncateUTF8("abc", 2))
	// "あ" is three bytes; cutting inside it drops the whole rune
	assert.Equal(t, "a", truncateUTF8("aあ", 2))
	assert.Equal(t, "aあ", truncateUTF8("aあい", 5))
}
