package storage

import (
	"io"
	"path/filepath"
	"strings"
)

type FileInfo struct {
	Filename    string
	ContentType string
	Size        int64
}

// Storage holds uploaded videos and per-session evidence under one root.
// All paths passed in and returned are relative to that root.
type Storage interface {
	SaveUpload(r io.Reader, info FileInfo) (string, error)
	WriteFile(rel string, data []byte) error
	Path(rel string) (string, error)
	Open(rel string) (io.ReadSeekCloser, error)
	Delete(rel string) error
}

var videoTypes = map[string]bool{
	"video/mp4":       true,
	"video/quicktime": true,
	"video/x-msvideo": true,
	"video/avi":       true,
}

var videoExts = map[string]bool{
	".mp4": true,
	".mov": true,
	".avi": true,
}

// IsVideo accepts a known video content type or, failing that, a known extension.
func IsVideo(info FileInfo) bool {
	ct, _, _ := strings.Cut(info.ContentType, ";")
	if videoTypes[strings.ToLower(strings.TrimSpace(ct))] {
		return true
	}
	return videoExts[strings.ToLower(filepath.Ext(info.Filename))]
}
