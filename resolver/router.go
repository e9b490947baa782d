package resolver

import (
	"context"
	"strings"
	"time"

	"linkfetch/internal"
)

// Route binds an ordered set of case-insensitive URL substrings to an adapter
type Route struct {
	Name       string
	Provider   Provider
	Signatures []string
	Adapter    Adapter
}

// Router classifies input URLs and dispatches them to adapters. Routes are
// checked in declaration order, so more specific signatures must come first.
type Router struct {
	routes []Route
	logger *internal.SecureLogger
}

// NewRouter creates a router over routes
func NewRouter(logger *internal.SecureLogger, routes ...Route) *Router {
	if logger == nil {
		logger = internal.GetLogger()
	}
	normalized := make([]Route, len(routes))
	for i, r := range routes {
		sigs := make([]string, len(r.Signatures))
		for j, s := range r.Signatures {
			sigs[j] = strings.ToLower(s)
		}
		r.Signatures = sigs
		normalized[i] = r
	}
	return &Router{routes: normalized, logger: logger}
}

// Classify returns the first route whose signature occurs in rawURL
func (r *Router) Classify(rawURL string) (Route, bool) {
	lower := strings.ToLower(rawURL)
	for _, route := range r.routes {
		for _, sig := range route.Signatures {
			if strings.Contains(lower, sig) {
				return route, true
			}
		}
	}
	return Route{}, false
}

// Routes returns the routing table in priority order
func (r *Router) Routes() []Route {
	out := make([]Route, len(r.routes))
	copy(out, r.routes)
	return out
}

// Supported lists the distinct provider names in priority order
func (r *Router) Supported() []string {
	var names []string
	seen := make(map[string]bool)
	for _, route := range r.routes {
		if !seen[route.Name] {
			seen[route.Name] = true
			names = append(names, route.Name)
		}
	}
	return names
}

// Resolve classifies rawURL and runs the matching adapter. Unsupported input
// fails without any network access.
func (r *Router) Resolve(ctx context.Context, rawURL string) Result {
	route, ok := r.Classify(rawURL)
	if !ok {
		r.logger.Debug("no provider matches %s", rawURL)
		return FailureFrom(internal.NewUnsupportedServiceError(r.Supported()))
	}

	req := NewRequest(rawURL, route.Provider)
	logger := r.logger.With("request_id", req.ID)
	logger.Info("resolving %s via %s", rawURL, route.Name)

	start := time.Now()
	res := safeResolve(ctx, route.Adapter, req)
	res.Provider = route.Provider
	res.RequestID = req.ID

	if res.Success {
		logger.Info("resolved via %s in %s", route.Name, time.Since(start).Round(time.Millisecond))
	} else {
		logger.Warn("%s failed (%s): %s", route.Name, res.Kind, res.Reason)
	}
	return res
}
