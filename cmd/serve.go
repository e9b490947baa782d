package cmd

import (
	"github.com/spf13/cobra"

	"linkfetch/api"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		addr    string
		apiKeys []string
		rps     float64
		burst   int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the resolver as a JSON API",
		Long: `Serve the resolver over HTTP.

Endpoints:
  GET  /api/v1/health
  POST /api/v1/resolve   {"url": "..."}
  GET  /api/v1/resolve?url=...
  GET  /api/v1/providers

With API keys configured, requests must carry X-API-Key or
Authorization: Bearer. The server shuts down gracefully on SIGINT/SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server := a.config.Server
			if cmd.Flags().Changed("addr") {
				server.Addr = addr
			}
			if cmd.Flags().Changed("api-key") {
				server.APIKeys = apiKeys
			}
			if cmd.Flags().Changed("rps") {
				server.RequestsPerSecond = rps
			}
			if cmd.Flags().Changed("burst") {
				server.Burst = burst
			}

			router, err := a.router()
			if err != nil {
				return err
			}
			if len(server.APIKeys) == 0 {
				a.logger.Warn("no API keys configured, the API is open")
			}
			return api.Serve(cmd.Context(), router, server, Version, a.logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default :8080) (env: LINKFETCH_SERVER_ADDR)")
	cmd.Flags().StringSliceVar(&apiKeys, "api-key", nil, "Accepted API key, repeatable (env: LINKFETCH_API_KEYS)")
	cmd.Flags().Float64Var(&rps, "rps", 0, "Requests per second per API key or client IP, 0 disables (default 5)")
	cmd.Flags().IntVar(&burst, "burst", 0, "Rate limit burst (default 10)")
	return cmd
}
