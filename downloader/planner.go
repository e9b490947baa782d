package downloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"linkfetch/internal"
	"linkfetch/utils"
)

const (
	// MinSegmentSize is the smallest segment worth its own connection (1MB)
	MinSegmentSize = 1024 * 1024
	// MaxThreads bounds the segment worker count
	MaxThreads = 32
	// ResumeMetadataExt is appended to the output path for resume metadata
	ResumeMetadataExt = ".linkfetch.json"
	// MaxResumeAge is how long an interrupted download stays resumable
	MaxResumeAge = 7 * 24 * time.Hour
)

// DownloadPlanner splits files into segments and persists their progress
type DownloadPlanner struct {
	minSegmentSize int64
	maxThreads     int

	mu sync.Mutex
}

// NewDownloadPlanner creates a planner with the default limits
func NewDownloadPlanner() *DownloadPlanner {
	return &DownloadPlanner{
		minSegmentSize: MinSegmentSize,
		maxThreads:     MaxThreads,
	}
}

// MetadataPath returns where resume metadata for outputPath lives
func MetadataPath(outputPath string) string {
	return outputPath + ResumeMetadataExt
}

// PlanDownload returns the segments for meta, reusing config.ResumeData when
// it describes the same file
func (p *DownloadPlanner) PlanDownload(meta *internal.FileMetadata, config *internal.DownloadConfig) ([]internal.SegmentInfo, error) {
	if meta == nil {
		return nil, errors.New("file metadata cannot be nil")
	}
	if config == nil {
		return nil, errors.New("download config cannot be nil")
	}

	if config.ResumeData != nil {
		if err := p.ValidateResumeCompatibility(config.ResumeData, meta); err != nil {
			return nil, err
		}
		return config.ResumeData.Segments, nil
	}

	threads := p.determineOptimalThreads(meta.Size, config.Threads)
	return p.CalculateSegments(meta.Size, threads), nil
}

// CalculateSegments splits fileSize into at most threadCount contiguous
// segments of at least the minimum segment size. The last segment absorbs
// the remainder.
func (p *DownloadPlanner) CalculateSegments(fileSize int64, threadCount int) []internal.SegmentInfo {
	if fileSize <= 0 {
		return []internal.SegmentInfo{}
	}

	threadCount = p.determineOptimalThreads(fileSize, threadCount)
	segmentSize := fileSize / int64(threadCount)

	segments := make([]internal.SegmentInfo, 0, threadCount)
	for i := 0; i < threadCount; i++ {
		start := int64(i) * segmentSize
		end := start + segmentSize - 1
		if i == threadCount-1 {
			end = fileSize - 1
		}
		segments = append(segments, internal.SegmentInfo{Index: i, Start: start, End: end})
	}
	return segments
}

func (p *DownloadPlanner) determineOptimalThreads(fileSize int64, requested int) int {
	threads := requested
	if threads <= 0 {
		threads = 1
	}
	if threads > p.maxThreads {
		threads = p.maxThreads
	}

	maxBySize := int(fileSize / p.minSegmentSize)
	if maxBySize < 1 {
		maxBySize = 1
	}
	if threads > maxBySize {
		threads = maxBySize
	}
	return threads
}

// ValidateResumeCompatibility rejects resume data for a different file or
// older than MaxResumeAge
func (p *DownloadPlanner) ValidateResumeCompatibility(resumeData *internal.ResumeMetadata, current *internal.FileMetadata) error {
	if resumeData.FileMetadata == nil {
		return errors.New("resume metadata missing file information")
	}
	if resumeData.FileMetadata.Size != current.Size {
		return fmt.Errorf("file size changed: resume=%d, current=%d", resumeData.FileMetadata.Size, current.Size)
	}
	if resumeData.FileMetadata.ShareID != "" && current.ShareID != "" && resumeData.FileMetadata.ShareID != current.ShareID {
		return fmt.Errorf("share changed: resume=%s, current=%s", resumeData.FileMetadata.ShareID, current.ShareID)
	}
	if time.Since(resumeData.LastUpdate) > MaxResumeAge {
		return fmt.Errorf("resume data is too old (last update: %s)", resumeData.LastUpdate.Format(time.RFC3339))
	}
	return nil
}

// SaveResumeMetadata writes fresh resume metadata for outputPath
func (p *DownloadPlanner) SaveResumeMetadata(outputPath string, meta *internal.FileMetadata, segments []internal.SegmentInfo) error {
	now := time.Now()
	return p.store(outputPath, &internal.ResumeMetadata{
		FileMetadata: meta,
		Segments:     segments,
		CreatedAt:    now,
		LastUpdate:   now,
	})
}

// LoadResumeMetadata reads the resume metadata stored next to outputPath
func (p *DownloadPlanner) LoadResumeMetadata(outputPath string) (*internal.ResumeMetadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.load(outputPath)
}

func (p *DownloadPlanner) load(outputPath string) (*internal.ResumeMetadata, error) {
	path := MetadataPath(outputPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("resume metadata not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read resume metadata: %w", err)
	}

	var resumeData internal.ResumeMetadata
	if err := json.Unmarshal(data, &resumeData); err != nil {
		return nil, internal.NewResumeDataCorruptedError(path, "invalid JSON").WithCause(err)
	}
	if resumeData.FileMetadata == nil || resumeData.FileMetadata.DirectURL == "" {
		return nil, internal.NewResumeDataCorruptedError(path, "missing file information")
	}
	for i, seg := range resumeData.Segments {
		if seg.Index != i || seg.Start > seg.End || seg.End >= resumeData.FileMetadata.Size {
			return nil, internal.NewResumeDataCorruptedError(path, fmt.Sprintf("segment %d out of range", i))
		}
	}
	return &resumeData, nil
}

func (p *DownloadPlanner) store(outputPath string, resumeData *internal.ResumeMetadata) error {
	path := MetadataPath(outputPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(resumeData, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume metadata: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write resume metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

// UpdateSegment applies fn to segment index and persists the result
func (p *DownloadPlanner) UpdateSegment(outputPath string, index int, fn func(*internal.SegmentInfo)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	resumeData, err := p.load(outputPath)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(resumeData.Segments) {
		return fmt.Errorf("invalid segment index: %d", index)
	}

	fn(&resumeData.Segments[index])
	resumeData.LastUpdate = time.Now()
	return p.store(outputPath, resumeData)
}

// MarkSegmentComplete records that a segment has been fully written
func (p *DownloadPlanner) MarkSegmentComplete(outputPath string, index int) error {
	return p.UpdateSegment(outputPath, index, func(s *internal.SegmentInfo) { s.Completed = true })
}

// IncrementSegmentRetries records one more failed attempt on a segment
func (p *DownloadPlanner) IncrementSegmentRetries(outputPath string, index int) error {
	return p.UpdateSegment(outputPath, index, func(s *internal.SegmentInfo) { s.Retries++ })
}

// CleanupResumeMetadata removes resume metadata after a finished download
func (p *DownloadPlanner) CleanupResumeMetadata(outputPath string) error {
	if err := os.Remove(MetadataPath(outputPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to cleanup resume metadata: %w", err)
	}
	return nil
}

// DetectResumableDownload returns the resume state of outputPath, or nil when
// there is none. Stale or inconsistent state is removed.
func (p *DownloadPlanner) DetectResumableDownload(outputPath string) (*internal.ResumeMetadata, error) {
	metadataPath := MetadataPath(outputPath)
	partPath := utils.PartPath(outputPath)

	if !utils.FileExists(metadataPath) {
		return nil, nil
	}
	if !utils.FileExists(partPath) {
		os.Remove(metadataPath)
		return nil, nil
	}

	resumeData, err := p.LoadResumeMetadata(outputPath)
	if err != nil {
		os.Remove(metadataPath)
		os.Remove(partPath)
		return nil, err
	}

	if err := utils.ValidatePartialFile(partPath, resumeData.FileMetadata.Size); err != nil {
		os.Remove(metadataPath)
		os.Remove(partPath)
		return nil, internal.NewResumeDataCorruptedError(metadataPath, err.Error())
	}
	return resumeData, nil
}

// IsDownloadComplete reports whether every segment is done
func (p *DownloadPlanner) IsDownloadComplete(segments []internal.SegmentInfo) bool {
	for _, s := range segments {
		if !s.Completed {
			return false
		}
	}
	return len(segments) > 0
}

// GetIncompleteSegments returns the segments still to fetch
func (p *DownloadPlanner) GetIncompleteSegments(segments []internal.SegmentInfo) []internal.SegmentInfo {
	var incomplete []internal.SegmentInfo
	for _, s := range segments {
		if !s.Completed {
			incomplete = append(incomplete, s)
		}
	}
	return incomplete
}

// CompletedBytes sums the sizes of finished segments
func (p *DownloadPlanner) CompletedBytes(segments []internal.SegmentInfo) int64 {
	var n int64
	for _, s := range segments {
		if s.Completed {
			n += s.End - s.Start + 1
		}
	}
	return n
}

// CalculateResumeProgress returns the completed percentage of segments
func (p *DownloadPlanner) CalculateResumeProgress(segments []internal.SegmentInfo) float64 {
	var total int64
	for _, s := range segments {
		total += s.End - s.Start + 1
	}
	if total == 0 {
		return 0
	}
	return float64(p.CompletedBytes(segments)) / float64(total) * 100
}
