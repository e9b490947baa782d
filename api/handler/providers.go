package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ProviderInfo describes one routing table entry
type ProviderInfo struct {
	Name       string   `json:"name"`
	Provider   string   `json:"provider"`
	Signatures []string `json:"signatures"`
}

// Providers returns a handler for GET /api/v1/providers, listing routes in
// the order they are matched.
func Providers(r Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		routes := r.Routes()
		out := make([]ProviderInfo, 0, len(routes))
		for _, route := range routes {
			out = append(out, ProviderInfo{
				Name:       route.Name,
				Provider:   string(route.Provider),
				Signatures: route.Signatures,
			})
		}
		c.JSON(http.StatusOK, gin.H{"providers": out})
	}
}
