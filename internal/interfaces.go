package internal

import "context"

// FileResolver turns a cloud-share link into downloadable file metadata
type FileResolver interface {
	ResolveFile(ctx context.Context, rawURL string) (*FileMetadata, error)
}

// DownloadEngine manages multi-threaded downloads
type DownloadEngine interface {
	Download(ctx context.Context, meta *FileMetadata, config *DownloadConfig) error
	Resume(ctx context.Context, partialPath string, config *DownloadConfig) error
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}
