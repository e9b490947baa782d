package utils

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
)

const progressTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// ProgressTracker renders download progress and keeps the statistics for
// the final summary. It is safe for concurrent use by segment workers.
type ProgressTracker struct {
	mu sync.Mutex

	bar   *pb.ProgressBar
	out   io.Writer
	quiet bool

	filename  string
	total     int64
	current   int64
	started   time.Time
	lastTick  time.Time
	lastBytes int64
	peak      float64
}

// DownloadSummary contains final download statistics
type DownloadSummary struct {
	Filename     string
	TotalBytes   int64
	TotalTime    time.Duration
	AverageSpeed float64
	PeakSpeed    float64
}

// NewProgressTracker creates a tracker for total bytes. In quiet mode no bar
// is drawn and no summary is printed.
func NewProgressTracker(total int64, quiet bool) *ProgressTracker {
	return NewProgressTrackerTo(os.Stderr, total, quiet)
}

// NewProgressTrackerTo is NewProgressTracker writing to out
func NewProgressTrackerTo(out io.Writer, total int64, quiet bool) *ProgressTracker {
	now := time.Now()
	p := &ProgressTracker{out: out, quiet: quiet, total: total, started: now, lastTick: now}
	if !quiet {
		bar := pb.New64(total).SetTemplate(pb.ProgressBarTemplate(progressTemplate))
		bar.SetWriter(out)
		bar.Set(pb.Bytes, true)
		bar.Set(pb.SIBytesPrefix, true)
		bar.Set("prefix", "Downloading: ")
		p.bar = bar.Start()
	}
	return p
}

// SetFilename names the destination in the bar prefix and the summary
func (p *ProgressTracker) SetFilename(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filename = name
	if p.bar != nil {
		p.bar.Set("prefix", name+": ")
	}
}

// Add records n more bytes
func (p *ProgressTracker) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(p.current + n)
}

// Update sets the absolute byte count
func (p *ProgressTracker) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setLocked(current)
}

func (p *ProgressTracker) setLocked(current int64) {
	p.current = current
	if p.bar != nil {
		p.bar.SetCurrent(current)
	}

	now := time.Now()
	if elapsed := now.Sub(p.lastTick).Seconds(); elapsed >= 0.1 {
		if speed := float64(current-p.lastBytes) / elapsed; speed > p.peak {
			p.peak = speed
		}
		p.lastTick = now
		p.lastBytes = current
	}
}

// Current returns the bytes recorded so far
func (p *ProgressTracker) Current() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Percent returns completion in the range 0-100
func (p *ProgressTracker) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total <= 0 {
		return 0
	}
	return float64(p.current) / float64(p.total) * 100
}

// Finish stops the bar and returns the summary
func (p *ProgressTracker) Finish() *DownloadSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.bar != nil {
		p.bar.Finish()
	}

	elapsed := time.Since(p.started)
	summary := &DownloadSummary{
		Filename:   p.filename,
		TotalBytes: p.current,
		TotalTime:  elapsed,
		PeakSpeed:  p.peak,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		summary.AverageSpeed = float64(p.current) / secs
	}

	if !p.quiet {
		summary.Print(p.out)
	}
	return summary
}

// Print writes the human-readable summary
func (s *DownloadSummary) Print(w io.Writer) {
	fmt.Fprintf(w, "\nDownload completed successfully!\n")
	fmt.Fprintf(w, "Total size: %s\n", formatBytes(s.TotalBytes))
	fmt.Fprintf(w, "Total time: %v\n", s.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(w, "Average speed: %s/s\n", formatBytes(int64(s.AverageSpeed)))
	if s.PeakSpeed > 0 {
		fmt.Fprintf(w, "Peak speed: %s/s\n", formatBytes(int64(s.PeakSpeed)))
	}
	if s.Filename != "" {
		fmt.Fprintf(w, "Saved to: %s\n", s.Filename)
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
