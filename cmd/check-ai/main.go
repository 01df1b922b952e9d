package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/kdimtricp/sitewatch/internal/ai"
	"github.com/kdimtricp/sitewatch/internal/analyzer"
	"github.com/kdimtricp/sitewatch/internal/config"
	"github.com/kdimtricp/sitewatch/internal/database"
	"github.com/kdimtricp/sitewatch/internal/logging"
)

func main() {
	var (
		videoPath = flag.String("video", "", "Optional video to probe and analyze one frame of")
		at        = flag.Float64("at", 1.5, "Timestamp in seconds of the frame to analyze")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: "warn", Format: "console", Output: os.Stderr})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fmt.Println("🔍 Checking monitoring setup")
	fmt.Println("============================")

	extractor, err := ai.NewFrameExtractor()
	if err != nil {
		fmt.Printf("❌ ffmpeg: %v\n", err)
	} else {
		fmt.Println("✅ ffmpeg available")
	}

	if cfg.AI.APIKey == "" {
		fmt.Println("⚠️  WARNING: VISION_API_KEY not set, every frame will be skipped")
	} else {
		fmt.Printf("✅ Vision API configured: %s (vision=%s, mapping=%s)\n",
			cfg.AI.APIURL, cfg.AI.VisionModel, cfg.AI.MappingModel)
	}

	if cfg.Tickets.URL == "" {
		fmt.Println("ℹ️  Tickets: simulated")
	} else {
		fmt.Printf("✅ Tickets: %s\n", cfg.Tickets.URL)
	}
	fmt.Println()

	reportHistory(ctx, cfg)

	if *videoPath == "" || extractor == nil {
		return
	}
	fmt.Println()
	checkVideo(ctx, cfg, extractor, *videoPath, *at)
}

func reportHistory(ctx context.Context, cfg *config.Config) {
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
		fmt.Printf("❌ Database: %v\n", err)
		return
	}
	defer db.Close()

	store := database.NewMonitoringStore(db)
	sessions, err := store.ListSessions(ctx)
	if err != nil {
		fmt.Println("❌ No monitoring tables found (run cmd/migrate first)")
		return
	}
	fmt.Printf("📹 Total sessions: %d\n", len(sessions))

	limit := min(len(sessions), 5)
	if limit == 0 {
		fmt.Println("No sessions yet. Upload a video to test!")
		return
	}

	fmt.Println("📊 Recent sessions:")
	fmt.Println("-------------------")
	for _, s := range sessions[:limit] {
		violations, err := store.ListViolations(ctx, s.ID)
		if err != nil {
			fmt.Printf("   %s: %v\n", s.ID, err)
			continue
		}
		fmt.Printf("\n🎬 %s (%s)\n", s.OriginalFilename, s.Status)
		fmt.Printf("   Position: %.1fs / %.1fs\n", s.CurrentTimestamp, s.DurationSeconds)
		fmt.Printf("   Violations: %d\n", len(violations))
		for _, v := range violations {
			fmt.Printf("   ⚠️  %.1fs %s [%s] %s\n", v.Timestamp, v.HazardType, v.Severity, v.Status)
		}
		if s.ErrorMessage != "" {
			fmt.Printf("   ❌ %s\n", s.ErrorMessage)
		}
	}
}

func checkVideo(ctx context.Context, cfg *config.Config, extractor *ai.FrameExtractor, path string, at float64) {
	source, err := ai.OpenVideoSource(ctx, extractor, path, cfg.AI.FrameSize)
	if err != nil {
		fmt.Printf("❌ Video: %v\n", err)
		return
	}
	info := source.Info()
	fmt.Printf("🎞️  %s: %.2f fps, %d frames, %.1fs\n", path, info.FrameRate, info.TotalFrames, info.Duration)

	frame, err := source.FrameAt(ctx, at)
	if err != nil {
		fmt.Printf("❌ Frame at %.1fs: %v\n", at, err)
		return
	}
	fmt.Printf("🖼️  Frame %d extracted (%d bytes)\n", frame.Index, len(frame.Data))

	if cfg.AI.APIKey == "" {
		return
	}

	aiConfig := ai.NewConfig()
	aiConfig.APIURL = cfg.AI.APIURL
	aiConfig.APIKey = cfg.AI.APIKey
	aiConfig.VisionModel = cfg.AI.VisionModel
	aiConfig.MappingModel = cfg.AI.MappingModel
	aiConfig.FrameSize = cfg.AI.FrameSize
	client := ai.NewOpenAIClient(aiConfig)

	candidates, err := analyzer.NewService(client, client, cfg.AI.AnalysisTimeout).Analyze(ctx, frame)
	if err != nil {
		fmt.Printf("❌ Analysis: %v\n", err)
		return
	}
	fmt.Printf("✅ Analysis returned %d candidate(s)\n", len(candidates))
	for _, c := range candidates {
		fmt.Printf("   - %s [%s] at %s: %s %s\n", c.HazardType, c.Severity, c.Location, c.RegulationCode, c.RegulationTitle)
	}
}
