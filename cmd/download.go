package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"linkfetch/downloader"
	"linkfetch/internal"
	"linkfetch/resolver"
	"linkfetch/utils"
)

type downloadOptions struct {
	outputPath string
	threads    int
	rateLimit  string
	retries    int
}

func addDownloadFlags(cmd *cobra.Command, opts *downloadOptions) {
	cmd.Flags().IntVarP(&opts.threads, "threads", "t", 0, "Number of download threads, 1-32 (default 8) (env: LINKFETCH_THREADS)")
	cmd.Flags().StringVarP(&opts.rateLimit, "limit-rate", "r", "", "Bandwidth limit, e.g. 5M for 5MB/s (env: LINKFETCH_RATE_LIMIT)")
	cmd.Flags().IntVar(&opts.retries, "retries", 0, "Retries per segment on transient errors (default 3)")
}

func newDownloadCommand(a *app) *cobra.Command {
	opts := &downloadOptions{}
	cmd := &cobra.Command{
		Use:   "download [OPTIONS] <URL>",
		Short: "Resolve a cloud-share link and download the file",
		Long: `Resolve a Terabox-class cloud-share link and download the file with
parallel HTTP Range requests. Progress is kept next to the output so an
interrupted download can be continued with "linkfetch resume".

Examples:
  linkfetch download https://terabox.com/s/1AbC123
  linkfetch download -o /path/to/file.zip -t 16 -r 5M https://terabox.com/s/1AbC123`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rawURL := strings.TrimSpace(args[0])
			if err := utils.ValidateInputURL(rawURL); err != nil {
				return err
			}

			config, err := a.downloadConfig(cmd, opts)
			if err != nil {
				return err
			}
			config.OutputPath = opts.outputPath

			router, err := a.router()
			if err != nil {
				return err
			}
			route, ok := router.Classify(rawURL)
			if !ok {
				return internal.NewUnsupportedServiceError(router.Supported())
			}
			if route.Provider != resolver.ProviderTerabox {
				return fmt.Errorf("%s links resolve to a web page, not a file; use \"linkfetch %s\" instead", route.Name, rawURL)
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}

			a.logger.Info("downloading %s with %d threads", rawURL, config.Threads)
			if err := engine.DownloadURL(cmd.Context(), rawURL, config); err != nil {
				return a.downloadFailed(cmd, err, opts.outputPath)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.outputPath, "output", "o", "", "Output file or directory (default: the shared file name)")
	addDownloadFlags(cmd, opts)
	return cmd
}

func newResumeCommand(a *app) *cobra.Command {
	opts := &downloadOptions{}
	cmd := &cobra.Command{
		Use:   "resume [OPTIONS] <PARTIAL_FILE_PATH>",
		Short: "Resume an interrupted download",
		Long: `Resume an interrupted download from a .part file.

The resume metadata stored next to the output is used to skip completed
segments. An expired download link is refreshed from the original share.

Examples:
  linkfetch resume /path/to/file.zip.part
  linkfetch resume -t 16 -r 5M /path/to/file.zip.part`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partialPath := args[0]
			if !strings.HasSuffix(partialPath, utils.PartExt) {
				return fmt.Errorf("file must have %s extension, got: %s", utils.PartExt, partialPath)
			}
			if _, err := os.Stat(partialPath); os.IsNotExist(err) {
				return fmt.Errorf("partial file not found: %s", partialPath)
			}

			config, err := a.downloadConfig(cmd, opts)
			if err != nil {
				return err
			}

			engine, err := a.engine()
			if err != nil {
				return err
			}

			a.logger.Info("resuming %s", utils.OutputFromPart(partialPath))
			if err := engine.Resume(cmd.Context(), partialPath, config); err != nil {
				return a.downloadFailed(cmd, err, utils.OutputFromPart(partialPath))
			}
			return nil
		},
	}
	addDownloadFlags(cmd, opts)
	return cmd
}

// downloadConfig merges download flags over the loaded configuration
func (a *app) downloadConfig(cmd *cobra.Command, opts *downloadOptions) (*internal.DownloadConfig, error) {
	threads := a.config.Download.Threads
	if cmd.Flags().Changed("threads") {
		threads = opts.threads
	}
	if threads < 1 || threads > downloader.MaxThreads {
		return nil, internal.NewValidationErrorWithValue("threads", fmt.Sprintf("thread count must be between 1 and %d", downloader.MaxThreads), threads)
	}

	retries := a.config.Download.MaxRetries
	if cmd.Flags().Changed("retries") {
		retries = opts.retries
	}
	if retries < 0 {
		return nil, internal.NewValidationErrorWithValue("retries", "retries cannot be negative", retries)
	}

	rateStr := a.config.Download.RateLimit
	if cmd.Flags().Changed("limit-rate") {
		rateStr = opts.rateLimit
	}
	var rate int64
	if rateStr != "" {
		parsed, err := utils.ParseRateLimit(rateStr)
		if err != nil {
			return nil, err
		}
		rate = parsed
		a.logger.Debug("rate limit %s = %d bytes/sec", rateStr, rate)
	}

	return &internal.DownloadConfig{
		Threads:    threads,
		RateLimit:  rate,
		MaxRetries: retries,
		Quiet:      a.config.QuietMode,
	}, nil
}

// engine builds a download engine that resolves share links through the
// cloud-share adapter and streams segments over dedicated sessions
func (a *app) engine() (*downloader.MultiThreadEngine, error) {
	resolveSessions, err := a.sessions(false)
	if err != nil {
		return nil, err
	}
	streamSessions, err := a.sessions(true)
	if err != nil {
		return nil, err
	}

	share := resolver.NewCloudShareAdapter(resolver.DefaultCloudShareConfig(a.config), resolveSessions, a.logger)
	engine := downloader.NewMultiThreadEngine(streamSessions, share, a.logger)
	engine.SetOutput(os.Stderr)
	return engine, nil
}

func (a *app) downloadFailed(cmd *cobra.Command, err error, outputPath string) error {
	if cmd.Context().Err() != nil {
		a.logger.Info("download interrupted; resume data has been saved")
		if outputPath != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Download interrupted. Continue with: linkfetch resume %s\n", utils.PartPath(outputPath))
		}
		return fmt.Errorf("download cancelled: %w", cmd.Context().Err())
	}
	var re *internal.ResolveError
	if errors.As(err, &re) {
		internal.LogResolveError(a.logger, re)
	}
	return fmt.Errorf("download failed: %w", err)
}
