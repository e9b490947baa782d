package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"linkfetch/internal"
	"linkfetch/utils"
)

const copyBufferSize = 32 * 1024

// SessionSource hands out transport sessions for segment requests
type SessionSource interface {
	NewSession() (*utils.Session, error)
}

// segmentJob is one segment queued for a worker
type segmentJob struct {
	segment internal.SegmentInfo
	url     string
}

type segmentResult struct {
	index int
	err   error
}

// MultiThreadEngine downloads a resolved file with parallel Range requests
// into a .part file, persisting segment progress so it can be resumed.
type MultiThreadEngine struct {
	sessions SessionSource
	resolver internal.FileResolver
	planner  *DownloadPlanner
	logger   *internal.SecureLogger
	out      io.Writer

	// backoff returns the delay before retry attempt n (0-based)
	backoff func(attempt int) time.Duration
}

var _ internal.DownloadEngine = (*MultiThreadEngine)(nil)

// NewMultiThreadEngine creates an engine. resolver may be nil, in which
// case Resume cannot refresh an expired direct URL.
func NewMultiThreadEngine(sessions SessionSource, resolver internal.FileResolver, logger *internal.SecureLogger) *MultiThreadEngine {
	if logger == nil {
		logger = internal.GetLogger()
	}
	return &MultiThreadEngine{
		sessions: sessions,
		resolver: resolver,
		planner:  NewDownloadPlanner(),
		logger:   logger,
		out:      os.Stderr,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<uint(attempt)) * time.Second
		},
	}
}

// SetOutput redirects the progress bar and summary
func (e *MultiThreadEngine) SetOutput(w io.Writer) {
	e.out = w
}

// Planner exposes the engine's segment planner
func (e *MultiThreadEngine) Planner() *DownloadPlanner {
	return e.planner
}

// DownloadURL resolves rawURL and downloads the file it points at
func (e *MultiThreadEngine) DownloadURL(ctx context.Context, rawURL string, config *internal.DownloadConfig) error {
	if e.resolver == nil {
		return internal.NewDownloadError("no resolver configured", nil)
	}
	meta, err := e.resolver.ResolveFile(ctx, rawURL)
	if err != nil {
		return err
	}
	return e.Download(ctx, meta, config)
}

// Download fetches meta.DirectURL to config.OutputPath, picking up an
// existing compatible .part file when there is one
func (e *MultiThreadEngine) Download(ctx context.Context, meta *internal.FileMetadata, config *internal.DownloadConfig) error {
	if meta == nil {
		return errors.New("file metadata cannot be nil")
	}
	if config == nil {
		return errors.New("download config cannot be nil")
	}
	if meta.DirectURL == "" {
		return internal.NewMissingFieldError("download_url", "Download link not available")
	}
	if meta.Size <= 0 {
		return internal.NewDownloadError(fmt.Sprintf("unknown file size %d for %s", meta.Size, meta.Filename), nil).
			WithContext("size", meta.Size)
	}

	outputPath := config.OutputPath
	if outputPath == "" {
		outputPath = utils.SafeFilename(meta.Filename)
	} else if info, err := os.Stat(outputPath); err == nil && info.IsDir() {
		outputPath = filepath.Join(outputPath, utils.SafeFilename(meta.Filename))
	}
	if err := utils.EnsureDir(outputPath); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	partPath := utils.PartPath(outputPath)
	logger := e.logger.With("file", filepath.Base(outputPath))

	resumeData := config.ResumeData
	if resumeData == nil {
		detected, err := e.planner.DetectResumableDownload(outputPath)
		if err != nil {
			logger.Warn("discarding resume state: %v", err)
		}
		resumeData = detected
	}
	if resumeData != nil {
		if err := e.planner.ValidateResumeCompatibility(resumeData, meta); err != nil {
			logger.Warn("cannot resume, starting fresh: %v", err)
			e.planner.CleanupResumeMetadata(outputPath)
			os.Remove(partPath)
			resumeData = nil
		}
	}

	var segments []internal.SegmentInfo
	if resumeData != nil {
		logger.Info("resuming download from %.1f%%", e.planner.CalculateResumeProgress(resumeData.Segments))
		segments = resumeData.Segments
		if err := utils.ValidatePartialFile(partPath, meta.Size); err != nil {
			return internal.NewResumeDataCorruptedError(MetadataPath(outputPath), err.Error())
		}
	} else {
		planned, err := e.planner.PlanDownload(meta, &internal.DownloadConfig{Threads: config.Threads})
		if err != nil {
			return fmt.Errorf("failed to plan download: %w", err)
		}
		segments = planned
		if err := utils.CreatePartialFile(partPath, meta.Size); err != nil {
			return err
		}
	}

	if err := e.planner.SaveResumeMetadata(outputPath, meta, segments); err != nil {
		return err
	}

	if err := e.run(ctx, meta, segments, outputPath, partPath, config, logger); err != nil {
		return err
	}

	size, err := utils.FileSize(partPath)
	if err != nil {
		return fmt.Errorf("failed to stat part file: %w", err)
	}
	if size != meta.Size {
		return internal.NewDownloadError(fmt.Sprintf("file size mismatch: expected %d bytes, got %d bytes", meta.Size, size), nil)
	}
	if err := os.Rename(partPath, outputPath); err != nil {
		return fmt.Errorf("failed to rename part file: %w", err)
	}
	if err := e.planner.CleanupResumeMetadata(outputPath); err != nil {
		logger.Warn("%v", err)
	}

	logger.Info("download complete: %s", outputPath)
	return nil
}

// Resume continues the interrupted download whose .part or output path is
// given. When a resolver is configured the direct URL is refreshed from the
// original share link first, since direct links expire.
func (e *MultiThreadEngine) Resume(ctx context.Context, partialPath string, config *internal.DownloadConfig) error {
	if config == nil {
		config = &internal.DownloadConfig{}
	}
	outputPath := utils.OutputFromPart(partialPath)

	resumeData, err := e.planner.LoadResumeMetadata(outputPath)
	if err != nil {
		return err
	}

	meta := resumeData.FileMetadata
	if e.resolver != nil && meta.SourceURL != "" {
		fresh, err := e.resolver.ResolveFile(ctx, meta.SourceURL)
		if err != nil {
			e.logger.Warn("could not refresh download link, using the stored one: %v", err)
		} else {
			refreshed := *meta
			refreshed.DirectURL = fresh.DirectURL
			refreshed.Timestamp = fresh.Timestamp
			meta = &refreshed
		}
	}

	resumeConfig := *config
	resumeConfig.OutputPath = outputPath
	resumeConfig.ResumeData = resumeData
	return e.Download(ctx, meta, &resumeConfig)
}

func (e *MultiThreadEngine) run(ctx context.Context, meta *internal.FileMetadata, segments []internal.SegmentInfo, outputPath, partPath string, config *internal.DownloadConfig, logger *internal.SecureLogger) error {
	pending := e.planner.GetIncompleteSegments(segments)
	if len(pending) == 0 {
		return nil
	}

	file, err := os.OpenFile(partPath, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open part file: %w", err)
	}
	defer file.Close()

	session, err := e.sessions.NewSession()
	if err != nil {
		return internal.NewTransportError("failed to create session", err)
	}

	progress := utils.NewProgressTrackerTo(e.out, meta.Size, config.Quiet)
	progress.SetFilename(outputPath)
	progress.Add(e.planner.CompletedBytes(segments))

	var limiter internal.RateLimiter
	if config.RateLimit > 0 {
		limiter = utils.NewBandwidthLimiter(config.RateLimit)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := config.Threads
	if workers <= 0 {
		workers = 1
	}
	if workers > len(pending) {
		workers = len(pending)
	}

	jobs := make(chan segmentJob)
	results := make(chan segmentResult, len(pending))
	w := &worker{
		engine:     e,
		session:    session,
		file:       file,
		limiter:    limiter,
		progress:   progress,
		outputPath: outputPath,
		maxRetries: config.MaxRetries,
		logger:     logger,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				results <- segmentResult{index: job.segment.Index, err: w.fetch(ctx, job)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, seg := range pending {
			select {
			case jobs <- segmentJob{segment: seg, url: meta.DirectURL}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		if err := e.planner.MarkSegmentComplete(outputPath, res.index); err != nil {
			logger.Warn("failed to record segment %d: %v", res.index, err)
		}
	}

	if firstErr != nil {
		if !config.Quiet {
			fmt.Fprintln(e.out)
		}
		return firstErr
	}
	progress.Finish()
	return nil
}

// worker holds the state shared by every segment goroutine of one download
type worker struct {
	engine     *MultiThreadEngine
	session    *utils.Session
	file       *os.File
	limiter    internal.RateLimiter
	progress   *utils.ProgressTracker
	outputPath string
	maxRetries int
	logger     *internal.SecureLogger
}

// fetch downloads one segment, retrying transient failures with backoff.
// A retry resumes from the last byte written.
func (w *worker) fetch(ctx context.Context, job segmentJob) error {
	seg := job.segment
	offset := seg.Start

	for attempt := 0; ; attempt++ {
		written, err := w.fetchRange(ctx, job.url, offset, seg.End)
		offset += written
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) || attempt >= w.maxRetries {
			return internal.NewDownloadError(fmt.Sprintf("segment %d failed", seg.Index), err).
				WithContext("attempts", attempt+1)
		}

		if rerr := w.engine.planner.IncrementSegmentRetries(w.outputPath, seg.Index); rerr != nil {
			w.logger.Debug("failed to record retry: %v", rerr)
		}
		delay := w.engine.backoff(attempt)
		w.logger.Debug("segment %d attempt %d failed: %v; retrying in %v", seg.Index, attempt+1, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// statusError is a non-success HTTP status on a segment request
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status: %d %s", e.code, http.StatusText(e.code))
}

func (w *worker) fetchRange(ctx context.Context, url string, start, end int64) (int64, error) {
	resp, err := w.session.Open(ctx, url, map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", start, end),
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
	case resp.StatusCode == http.StatusOK && start == 0:
		// server ignored Range; only usable from the first byte
	case resp.StatusCode == http.StatusOK:
		return 0, errors.New("server does not support range requests")
	default:
		return 0, &statusError{code: resp.StatusCode}
	}

	return w.copyAt(ctx, resp.Body, start, end-start+1)
}

// copyAt writes up to n bytes from src at offset, honouring the bandwidth
// limit
func (w *worker) copyAt(ctx context.Context, src io.Reader, offset, n int64) (int64, error) {
	buf := make([]byte, copyBufferSize)
	var total int64

	for total < n {
		chunk := buf
		if remaining := n - total; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		read, rerr := src.Read(chunk)
		if read > 0 {
			if w.limiter != nil {
				if err := w.limiter.Wait(ctx, read); err != nil {
					return total, err
				}
			}
			if _, err := w.file.WriteAt(chunk[:read], offset+total); err != nil {
				return total, fmt.Errorf("write part file: %w", err)
			}
			total += int64(read)
			w.progress.Add(int64(read))
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return total, rerr
		}
	}

	if total < n {
		return total, io.ErrUnexpectedEOF
	}
	return total, nil
}

// isRetryable reports whether a segment failure is worth another attempt
func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
