package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/config"
	"github.com/kdimtricp/sitewatch/internal/evidence"
	"github.com/kdimtricp/sitewatch/internal/logging"
	"github.com/kdimtricp/sitewatch/internal/models"
	"github.com/kdimtricp/sitewatch/internal/monitoring"
	"github.com/kdimtricp/sitewatch/internal/storage"
	"github.com/kdimtricp/sitewatch/internal/tickets"
)

func main() {
	var (
		videoPath = flag.String("video", "", "Video file to monitor")
		interval  = flag.Float64("interval", models.DefaultAnalysisInterval, "Seconds of video between analyzed frames")
		rate      = flag.Float64("rate", 0, "Playback rate (0 uses PLAYBACK_RATE)")
		noTickets = flag.Bool("no-tickets", false, "Disable automatic ticket filing")
		outDir    = flag.String("out", "./monitor-output", "Directory for evidence files")
	)
	flag.Parse()

	if *videoPath == "" {
		logging.Fatal().Msg("please provide a video with -video")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: "console", Output: os.Stderr})

	if cfg.AI.APIKey == "" {
		logging.Fatal().Msg("VISION_API_KEY is required")
	}

	absPath, err := filepath.Abs(*videoPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid video path")
	}

	files, err := storage.NewLocalStorage(*outDir)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize evidence storage")
	}

	extractor, err := ai.NewFrameExtractor()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize frame extractor")
	}

	aiConfig := ai.NewConfig()
	aiConfig.APIURL = cfg.AI.APIURL
	aiConfig.APIKey = cfg.AI.APIKey
	aiConfig.VisionModel = cfg.AI.VisionModel
	aiConfig.MappingModel = cfg.AI.MappingModel
	aiConfig.FrameSize = cfg.AI.FrameSize
	client := ai.NewOpenAIClient(aiConfig)

	playback := cfg.Monitor.PlaybackRate
	if *rate > 0 {
		playback = *rate
	}

	registry := monitoring.NewRegistry(monitoring.Deps{
		OpenSource: func(ctx context.Context, path string) (monitoring.Source, error) {
			return ai.OpenVideoSource(ctx, extractor, path, aiConfig.FrameSize)
		},
		Analyzer: analyzer.NewService(client, client, cfg.AI.AnalysisTimeout),
		Evidence: evidence.NewStore(files, cfg.Monitor.EvidenceTimeout),
		Filer:    &tickets.SimulatedFiler{Delay: cfg.Tickets.SimulatedDelay},
	}, monitoring.Options{
		PlaybackRate:  playback,
		TicketTimeout: cfg.Tickets.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	autoTicket := !*noTickets
	session, err := registry.Create(ctx, monitoring.CreateRequest{
		VideoPath:        absPath,
		OriginalFilename: filepath.Base(absPath),
		Interval:         *interval,
		AutoTicket:       &autoTicket,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to start monitoring")
	}

	sub, err := registry.Subscribe(session.ID)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to subscribe")
	}
	defer sub.Close()

	fmt.Printf("Monitoring %s (session %s)\n", session.OriginalFilename, session.ID)

loop:
	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				break loop
			}
			printEvent(ev.Type, ev.Data)
		case <-ctx.Done():
			if err := registry.Stop(session.ID); err != nil {
				logging.Warn().Err(err).Msg("failed to stop session")
			}
			break loop
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("shutdown incomplete")
	}

	final, err := registry.Get(session.ID)
	if err != nil {
		logging.Fatal().Err(err).Msg("session lost")
	}
	fmt.Printf("\nSession %s: %s, %d violation(s)\n", final.ID, final.Status, final.ViolationsDetectedCount)
	if final.ErrorMessage != "" {
		fmt.Printf("Error: %s\n", final.ErrorMessage)
	}
}

func printEvent(eventType string, data any) {
	switch d := data.(type) {
	case models.ProgressData:
		fmt.Printf("[%6.1fs/%.1fs] frame %d (%.0f%%)\n", d.CurrentTime, d.TotalTime, d.Frame, d.ProgressPercent)
	case models.ViolationAlert:
		fmt.Printf("⚠️  %.1fs %s [%s] %s\n", d.Timestamp, d.HazardType, d.Severity, d.Location)
		if d.RegulationCode != "" {
			fmt.Printf("    %s %s\n", d.RegulationCode, d.RegulationTitle)
		}
		if d.TicketID != "" {
			fmt.Printf("    ticket %s\n", d.TicketID)
		}
		if d.FramePath != "" {
			fmt.Printf("    evidence %s\n", d.FramePath)
		}
	case models.CompletedData:
		fmt.Printf("✅ completed with %d violation(s)\n", d.ViolationsCount)
	case models.ErrorData:
		fmt.Printf("❌ %s\n", d.Error)
	default:
		fmt.Printf("%s: %v\n", eventType, data)
	}
}
