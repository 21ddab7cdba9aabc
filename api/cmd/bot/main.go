package main

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"receipt-proxy/api/internal/config"
	"receipt-proxy/api/internal/httpserver"
	"receipt-proxy/api/internal/logger"
	"receipt-proxy/api/internal/receipt"
	"receipt-proxy/api/internal/receipt/gemini"
	"receipt-proxy/api/internal/receipt/openai"
	"receipt-proxy/api/internal/store"
	"receipt-proxy/api/internal/telegram"
)

var envFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the receipt Telegram bot",
		RunE:  runBot,
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(envFile)
	if err := cfg.ValidateBot(); err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	// --- analysis log (optional) ---
	var (
		opts  []receipt.Option
		stats telegram.StatsSource
	)
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("analysis log: %w", err)
		}
		defer db.Close()
		repo := store.NewAnalysisRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("analysis log schema: %w", err)
		}
		opts = append(opts, receipt.WithRecorder(repo))
		stats = repo
	}

	// --- engines ---
	backends := map[string]telegram.Backend{}
	if cfg.OpenAIAPIKey != "" {
		backends["gpt"] = telegram.Backend{
			Service: receipt.NewService(openai.New(cfg.OpenAIBaseURL), opts...),
			APIKey:  cfg.OpenAIAPIKey,
		}
	}
	if cfg.GeminiAPIKey != "" {
		backends["gemini"] = telegram.Backend{
			Service: receipt.NewService(gemini.New(cfg.GeminiModel), opts...),
			APIKey:  cfg.GeminiAPIKey,
		}
	}
	def := cfg.BotEngine
	if def == "openai" {
		def = "gpt"
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return err
	}
	bot.Debug = false

	r := &telegram.Router{
		Bot:        bot,
		EngManager: telegram.NewManager(def, backends),
		Stats:      stats,
		Log:        log,
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.WebhookURL != "" {
		if err := registerWebhook(ctx, bot, r, router, cfg.WebhookURL); err != nil {
			return err
		}
	} else {
		go runPolling(ctx, bot, func(upd tgbotapi.Update) { r.HandleUpdate(ctx, upd) })
	}

	return httpserver.New(log, httpserver.Config{Addr: "0.0.0.0:" + cfg.Port}, router).Start(ctx)
}

// ---------------- Webhook -----------------

func registerWebhook(ctx context.Context, bot *tgbotapi.BotAPI, r *telegram.Router, router chi.Router, baseURL string) error {
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return err
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return err
	}

	router.Post(path, func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("bad webhook update")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
		go r.HandleUpdate(ctx, *upd)
	})
	zerolog.Ctx(ctx).Info().Str("path", path).Msg("webhook registered")
	return nil
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") { // HTTP 429 from Telegram
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 1 * time.Second
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update)) {
	log := zerolog.Ctx(ctx)
	offset := 0
	baseDelay := 1 * time.Second
	maxDelay := 15 * time.Second

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := retryDelayFromError(err)
			if d < baseDelay {
				d = baseDelay
			}
			if d > maxDelay {
				d = maxDelay
			}
			log.Warn().Err(err).Dur("retry_in", d).Msg("polling error")
			sleep(ctx, d)
			continue
		}

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 {
			sleep(ctx, 200*time.Millisecond)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// shortHash is FNV-1a of the token, used to keep the webhook path unguessable.
func shortHash(s string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}
