package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"linkfetch/api/handler"
	"linkfetch/api/middleware"
	"linkfetch/internal"
)

// Serve runs the API on cfg.Addr until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, r handler.Resolver, cfg internal.ServerConfig, version string, logger *internal.SecureLogger) error {
	if logger == nil {
		logger = internal.GetLogger()
	}

	opts := Options{Version: version, StartTime: time.Now(), Logger: logger}
	done := make(chan struct{})
	defer close(done)
	if cfg.RequestsPerSecond > 0 {
		opts.Limiter = middleware.NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst)
		go opts.Limiter.Run(done, 5*time.Minute, time.Hour)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(r, cfg, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API listening on %s", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
