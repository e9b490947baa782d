package internal

import (
	"time"
)

// FileMetadata describes a resolved cloud-share file ready for download
type FileMetadata struct {
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	DirectURL string    `json:"direct_url"`
	ShareID   string    `json:"share_id"`
	SourceURL string    `json:"source_url,omitempty"`
	FsID      string    `json:"fs_id,omitempty"`
	IsVideo   bool      `json:"is_video,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// DownloadConfig contains configuration for download operations
type DownloadConfig struct {
	OutputPath string
	Threads    int
	RateLimit  int64 // bytes per second
	MaxRetries int
	Quiet      bool
	ResumeData *ResumeMetadata
}

// SegmentInfo represents a download segment for multi-threaded downloads
type SegmentInfo struct {
	Index     int   `json:"index"`
	Start     int64 `json:"start"`
	End       int64 `json:"end"`
	Completed bool  `json:"completed"`
	Retries   int   `json:"retries"`
}

// ResumeMetadata contains information needed to resume interrupted downloads
type ResumeMetadata struct {
	FileMetadata *FileMetadata `json:"file_metadata"`
	Segments     []SegmentInfo `json:"segments"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUpdate   time.Time     `json:"last_update"`
}
