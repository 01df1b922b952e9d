package ai

import (
	"context"
	"math"
)

// Frame is one decoded sample of a video.
type Frame struct {
	Index     int
	Timestamp float64
	Data      []byte
}

// VideoSource binds a FrameExtractor to one probed video file.
type VideoSource struct {
	extractor *FrameExtractor
	path      string
	info      VideoInfo
	frameSize int
}

func OpenVideoSource(ctx context.Context, extractor *FrameExtractor, path string, frameSize int) (*VideoSource, error) {
	info, err := extractor.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	if frameSize <= 0 {
		frameSize = 1024
	}
	return &VideoSource{extractor: extractor, path: path, info: info, frameSize: frameSize}, nil
}

func (s *VideoSource) Info() VideoInfo {
	return s.info
}

func (s *VideoSource) Path() string {
	return s.path
}

// FrameAt returns the frame shown at timestamp. Seeking is clamped to the last
// decodable frame so that sampling exactly at the duration still yields an image.
func (s *VideoSource) FrameAt(ctx context.Context, timestamp float64) (Frame, error) {
	index := FrameIndex(s.info, timestamp)

	seek := math.Min(timestamp, s.info.Duration-1/s.info.FrameRate)
	if seek < 0 {
		seek = 0
	}

	data, err := s.extractor.FrameAt(ctx, s.path, seek, s.frameSize)
	if err != nil {
		return Frame{}, err
	}

	return Frame{Index: index, Timestamp: timestamp, Data: data}, nil
}

func (s *VideoSource) ExtractClip(ctx context.Context, outPath string, start, length float64) error {
	return s.extractor.ExtractClip(ctx, s.path, outPath, start, length)
}

// FrameIndex maps a timestamp onto a frame number within [0, TotalFrames-1].
func FrameIndex(info VideoInfo, timestamp float64) int {
	index := int(math.Floor(timestamp * info.FrameRate))
	if info.TotalFrames > 0 && index > info.TotalFrames-1 {
		index = info.TotalFrames - 1
	}
	if index < 0 {
		index = 0
	}
	return index
}
