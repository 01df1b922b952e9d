package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/api"
	"github.com/kdimtricp/sitewatch/internal/config"
	"github.com/kdimtricp/sitewatch/internal/cooldown"
	"github.com/kdimtricp/sitewatch/internal/database"
	"github.com/kdimtricp/sitewatch/internal/eventbus"
	"github.com/kdimtricp/sitewatch/internal/evidence"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/monitoring"
	"github.com/kdimtricp/sitewatch/internal/storage"
	"github.com/kdimtricp/sitewatch/internal/supervisor"
	"github.com/kdimtricp/sitewatch/internal/tickets"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	files, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize storage")
	}

	db, err := database.NewDB(ctx, database.Config{
		Type:       cfg.Database.Type,
		Host:       cfg.Database.Host,
		Port:       cfg.Database.Port,
		User:       cfg.Database.User,
		Password:   cfg.Database.Password,
		Name:       cfg.Database.Name,
		SQLitePath: cfg.Database.SQLitePath,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, cfg.MigrationsPath); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}
	store := database.NewMonitoringStore(db)

	extractor, err := ai.NewFrameExtractor()
	if err != nil {
		logging.Fatal().Err(err).Msg("ffmpeg is required for monitoring")
	}

	aiConfig := ai.NewConfig()
	aiConfig.APIURL = cfg.AI.APIURL
	aiConfig.APIKey = cfg.AI.APIKey
	aiConfig.VisionModel = cfg.AI.VisionModel
	aiConfig.MappingModel = cfg.AI.MappingModel
	aiConfig.FrameSize = cfg.AI.FrameSize
	if aiConfig.APIKey == "" {
		logging.Warn().Msg("VISION_API_KEY not set; every frame will be skipped as analysis unavailable")
	}
	client := ai.NewOpenAIClient(aiConfig)

	deps := monitoring.Deps{
		OpenSource: func(ctx context.Context, path string) (monitoring.Source, error) {
			return ai.OpenVideoSource(ctx, extractor, path, aiConfig.FrameSize)
		},
		Analyzer: analyzer.NewService(client, client, cfg.AI.AnalysisTimeout),
		Evidence: evidence.NewStore(files, cfg.Monitor.EvidenceTimeout),
		Store:    store,
	}

	if cfg.Tickets.URL != "" {
		deps.Filer = tickets.NewHTTPFiler(cfg.Tickets.URL, cfg.Tickets.APIKey, cfg.Tickets.Timeout)
		logging.Info().Str("url", cfg.Tickets.URL).Msg("filing tickets over HTTP")
	} else {
		deps.Filer = &tickets.SimulatedFiler{Delay: cfg.Tickets.SimulatedDelay}
		logging.Info().Msg("TICKET_URL not set; using simulated ticket filing")
	}

	if cfg.Redis.Addr != "" {
		auditor, err := cooldown.NewRedisAuditor(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logging.Warn().Err(err).Msg("redis unavailable; cooldown audit disabled")
		} else {
			defer auditor.Close()
			deps.Auditor = auditor
		}
	}

	if cfg.NatsURL != "" {
		publisher, err := eventbus.NewPublisher(cfg.NatsURL)
		if err != nil {
			logging.Warn().Err(err).Msg("nats unavailable; event mirroring disabled")
		} else {
			defer publisher.Close()
			deps.Mirror = publisher
		}
	}

	registry := monitoring.NewRegistry(deps, monitoring.Options{
		PlaybackRate:     cfg.Monitor.PlaybackRate,
		TicketTimeout:    cfg.Tickets.Timeout,
		SubscriberBuffer: cfg.Monitor.SubscriberBuffer,
	})
	if _, err := registry.Restore(ctx, store); err != nil {
		logging.Fatal().Err(err).Msg("failed to restore monitoring history")
	}

	app := &api.App{
		Sessions:      registry,
		Storage:       files,
		MaxUploadSize: cfg.MaxUploadSize,
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.New(supervisor.DefaultConfig())
	tree.AddMonitoringService(supervisor.NewRegistryService(registry, 20*time.Second))
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))

	logging.Info().
		Str("port", cfg.Port).
		Str("upload_dir", cfg.UploadDir).
		Str("db_type", cfg.Database.Type).
		Int64("max_upload_size", cfg.MaxUploadSize).
		Float64("playback_rate", cfg.Monitor.PlaybackRate).
		Msg("server starting")

	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	logging.Info().Msg("server stopped")
}
