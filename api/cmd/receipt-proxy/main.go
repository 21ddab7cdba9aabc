package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"receipt-proxy/api/internal/config"
	"receipt-proxy/api/internal/handle"
	"receipt-proxy/api/internal/httpserver"
	"receipt-proxy/api/internal/logger"
	"receipt-proxy/api/internal/receipt"
	"receipt-proxy/api/internal/receipt/openai"
	"receipt-proxy/api/internal/store"
)

var (
	envFile string
	addr    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "receipt-proxy",
		Short: "Serve the receipt analysis endpoint",
		RunE:  runServer,
	}
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (default :$PORT)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg := config.Load(envFile)
	log := logger.New(cfg.LogLevel, os.Stdout)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	var opts []receipt.Option
	if cfg.DatabaseURL != "" {
		repo, closeDB, err := openAnalysisLog(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer closeDB()
		opts = append(opts, receipt.WithRecorder(repo))
		log.Info().Msg("analysis log enabled")
	}

	svc := receipt.NewService(openai.New(cfg.OpenAIBaseURL), opts...)
	router := httpserver.NewRouter(log, handle.New(svc, cfg.MaxBodyBytes))

	if addr == "" {
		addr = ":" + cfg.Port
	}
	return httpserver.New(log, httpserver.Config{Addr: addr}, router).Start(ctx)
}

func openAnalysisLog(ctx context.Context, dsn string) (*store.AnalysisRepo, func(), error) {
	db, err := store.Open(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("analysis log: %w", err)
	}
	repo := store.NewAnalysisRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("analysis log schema: %w", err)
	}
	return repo, func() {
		if err := db.Close(); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("db close failed")
		}
	}, nil
}
