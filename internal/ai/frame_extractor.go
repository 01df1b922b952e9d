package ai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/kdimtricp/sitewatch/internal/logging"
)

// ErrSourceUnreadable means the video can no longer be opened or probed.
var ErrSourceUnreadable = errors.New("video source unreadable")

// VideoInfo is the probed shape of a video file.
type VideoInfo struct {
	FrameRate   float64
	TotalFrames int
	Duration    float64
}

type FrameExtractor struct {
	ffmpegPath  string
	ffprobePath string
}

func NewFrameExtractor() (*FrameExtractor, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	logging.Info().Str("path", ffmpegPath).Msg("found ffmpeg")

	// ffprobe is optional; without it we parse the ffmpeg banner.
	ffprobePath, _ := exec.LookPath("ffprobe")

	return &FrameExtractor{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// Probe reads frame rate, frame count and duration of a video.
func (fe *FrameExtractor) Probe(ctx context.Context, videoPath string) (VideoInfo, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	var info VideoInfo
	var err error
	if fe.ffprobePath != "" {
		info, err = fe.probeWithFFprobe(ctx, videoPath)
	}
	if fe.ffprobePath == "" || err != nil {
		info, err = fe.probeWithFFmpeg(ctx, videoPath)
	}
	if err != nil {
		return VideoInfo{}, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	if info.Duration <= 0 || info.FrameRate <= 0 {
		return VideoInfo{}, fmt.Errorf("%w: invalid video metadata (fps=%f, duration=%f)",
			ErrSourceUnreadable, info.FrameRate, info.Duration)
	}
	if info.TotalFrames <= 0 {
		info.TotalFrames = int(math.Round(info.Duration * info.FrameRate))
	}

	return info, nil
}

type ffprobeOutput struct {
	Streams []struct {
		RFrameRate string `json:"r_frame_rate"`
		NbFrames   string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (fe *FrameExtractor) probeWithFFprobe(ctx context.Context, videoPath string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, fe.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=r_frame_rate,nb_frames:format=duration",
		"-of", "json",
		videoPath)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return parseFFprobeOutput(stdout.Bytes())
}

func parseFFprobeOutput(data []byte) (VideoInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream found")
	}

	fps, err := parseFrameRate(out.Streams[0].RFrameRate)
	if err != nil {
		return VideoInfo{}, err
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("invalid duration %q: %w", out.Format.Duration, err)
	}

	frames, _ := strconv.Atoi(out.Streams[0].NbFrames)

	return VideoInfo{FrameRate: fps, TotalFrames: frames, Duration: duration}, nil
}

// parseFrameRate accepts "30000/1001" or "25".
func parseFrameRate(raw string) (float64, error) {
	num, den, found := strings.Cut(strings.TrimSpace(raw), "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid frame rate %q", raw)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0, fmt.Errorf("invalid frame rate %q", raw)
	}
	return n / d, nil
}

var fpsPattern = regexp.MustCompile(`(\d+(?:\.\d+)?) fps`)

func (fe *FrameExtractor) probeWithFFmpeg(ctx context.Context, videoPath string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, fe.ffmpegPath, "-i", videoPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	// ffmpeg exits non-zero without an output file; the banner is all we need.
	_ = cmd.Run()

	return parseFFmpegBanner(stderr.String())
}

func parseFFmpegBanner(output string) (VideoInfo, error) {
	durationPrefix := "Duration: "
	startIndex := strings.Index(output, durationPrefix)
	if startIndex == -1 {
		return VideoInfo{}, fmt.Errorf("duration not found in ffmpeg output")
	}

	startIndex += len(durationPrefix)
	endIndex := strings.Index(output[startIndex:], ",")
	if endIndex == -1 {
		return VideoInfo{}, fmt.Errorf("invalid duration format")
	}

	durationStr := output[startIndex : startIndex+endIndex]
	parts := strings.Split(durationStr, ":")
	if len(parts) != 3 {
		return VideoInfo{}, fmt.Errorf("invalid duration format: %s", durationStr)
	}

	var duration float64
	for i, unit := range []float64{3600, 60, 1} {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return VideoInfo{}, fmt.Errorf("invalid duration format: %s", durationStr)
		}
		duration += v * unit
	}

	match := fpsPattern.FindStringSubmatch(output)
	if match == nil {
		return VideoInfo{}, fmt.Errorf("frame rate not found in ffmpeg output")
	}
	fps, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("invalid frame rate %q", match[1])
	}

	return VideoInfo{FrameRate: fps, Duration: duration}, nil
}

// FrameAt decodes the frame at timestamp (seconds) as a JPEG no wider than size.
func (fe *FrameExtractor) FrameAt(ctx context.Context, videoPath string, timestamp float64, size int) ([]byte, error) {
	if _, err := os.Stat(videoPath); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}

	args := []string{
		"-ss", fmt.Sprintf("%.3f", timestamp),
		"-i", videoPath,
		"-vframes", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", size),
		"-q:v", "2",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"pipe:1",
	}

	cmd := exec.CommandContext(ctx, fe.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		logging.Debug().Str("stderr", stderr.String()).Msg("ffmpeg frame extraction failed")
		return nil, fmt.Errorf("failed to extract frame at %.3f: %w", timestamp, err)
	}

	if stdout.Len() == 0 {
		return nil, fmt.Errorf("no frame decoded at %.3f", timestamp)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(stdout.Bytes())); err != nil {
		return nil, fmt.Errorf("failed to decode frame at %.3f: %w", timestamp, err)
	}

	return stdout.Bytes(), nil
}

// ExtractClip copies [start, start+length) of the video into outPath without re-encoding.
func (fe *FrameExtractor) ExtractClip(ctx context.Context, videoPath, outPath string, start, length float64) error {
	if _, err := os.Stat(videoPath); err != nil {
		return fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if length <= 0 {
		return fmt.Errorf("invalid clip length %.3f", length)
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("failed to create clip directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, fe.ffmpegPath,
		"-y",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", videoPath,
		"-t", fmt.Sprintf("%.3f", length),
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outPath)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		logging.Debug().Str("stderr", stderr.String()).Msg("ffmpeg clip extraction failed")
		return fmt.Errorf("failed to extract clip at %.3f: %w", start, err)
	}

	return nil
}
