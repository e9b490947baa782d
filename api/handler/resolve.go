package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"linkfetch/internal"
	"linkfetch/resolver"
)

// Resolver is the part of the resolution router the API needs
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) resolver.Result
	Routes() []resolver.Route
}

// ResolveRequest is the body of POST /api/v1/resolve
type ResolveRequest struct {
	URL string `json:"url" binding:"required"`
}

// StatusFor maps a Result onto an HTTP status: 200 on success, 400 when
// the input itself was rejected, 502 for anything that went wrong upstream.
func StatusFor(res resolver.Result) int {
	if res.Success {
		return http.StatusOK
	}
	switch res.Kind {
	case internal.ErrInvalidInputFormat.String(), internal.ErrUnsupportedService.String():
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

// ResolvePost returns a handler for POST /api/v1/resolve.
func ResolvePost(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badInput(c, "request body must be JSON with a \"url\" field: "+err.Error())
			return
		}
		respond(c, r, req.URL)
	}
}

// ResolveGet returns a handler for GET /api/v1/resolve?url=
func ResolveGet(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawURL := c.Query("url")
		if strings.TrimSpace(rawURL) == "" {
			badInput(c, "missing url query parameter")
			return
		}
		respond(c, r, rawURL)
	}
}

func respond(c *gin.Context, r Resolver, rawURL string) {
	res := r.Resolve(c.Request.Context(), strings.TrimSpace(rawURL))
	c.JSON(StatusFor(res), res)
}

func badInput(c *gin.Context, reason string) {
	c.JSON(http.StatusBadRequest, resolver.Result{
		Reason: reason,
		Kind:   internal.ErrInvalidInputFormat.String(),
	})
}
