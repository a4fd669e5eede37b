package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mathqa/backend/internal/chat"
	"mathqa/backend/internal/config"
	"mathqa/backend/internal/db"
	"mathqa/backend/internal/httpapi"
	"mathqa/backend/internal/llm"
	"mathqa/backend/internal/logger"
	"mathqa/backend/internal/metrics"
	"mathqa/backend/internal/ocr"
	"mathqa/backend/internal/relay"
	"mathqa/backend/internal/session"
	"mathqa/backend/internal/store"

	"github.com/joho/godotenv"
)

const sessionPurgeInterval = time.Hour

func main() {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{Level: "info", Pretty: true}).Fatal().Err(err).Msg("load config")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})

	database, err := db.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx, database); err != nil {
		log.Fatal().Err(err).Msg("migrate db")
	}

	m := metrics.New()
	st := store.New(database)
	sessions := session.NewStore(database)

	streamer := relay.New(&http.Client{}, cfg.UpstreamTimeout, m, log)
	router := llm.NewRouter(streamer, cfg.LLMAPIURL, cfg.TOTAPIURL)
	chatService := chat.NewService(st, router, log)

	ocrClient, ocrErr := newOCRClient(ctx, cfg, m, log)

	handler := httpapi.NewRouter(httpapi.NewHandler(httpapi.Deps{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Chat:     chatService,
		OCR:      ocrClient,
		OCRErr:   ocrErr,
		Metrics:  m,
		Logger:   log,
	}))

	// Streams may legitimately run for the whole upstream timeout.
	srv := &http.Server{
		Addr:              cfg.ListenAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.UpstreamTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go purgeSessions(ctx, sessions, log)

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddress()).
			Str("dialect", string(database.Dialect)).
			Bool("ocr", ocrClient != nil).
			Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

// newOCRClient returns a nil client and the reason when OCR is unavailable.
// The server still starts; the OCR endpoints report the error.
func newOCRClient(ctx context.Context, cfg config.Config, m *metrics.Metrics, log *logger.Logger) (*ocr.Client, error) {
	var opts []ocr.Option
	if cfg.OCRArchiveBucket != "" {
		archive, err := ocr.NewGCSArchive(ctx, cfg.OCRArchiveBucket)
		if err != nil {
			log.Warn().Err(err).Str("bucket", cfg.OCRArchiveBucket).Msg("ocr archive disabled")
		} else {
			opts = append(opts, ocr.WithArchive(archive, cfg.OCRArchivePrefix))
		}
	}

	client, err := ocr.NewClient(cfg, m, log, opts...)
	if err != nil {
		log.Warn().Err(err).Msg("ocr disabled")
		return nil, err
	}
	return client, nil
}

func purgeSessions(ctx context.Context, sessions session.Store, log *logger.Logger) {
	ticker := time.NewTicker(sessionPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := sessions.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge expired sessions")
				continue
			}
			if purged > 0 {
				log.Info().Int64("purged", purged).Msg("expired sessions removed")
			}
		}
	}
}
