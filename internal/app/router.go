package app

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"bazaar.dev/realtime/internal/app/modules"
	"bazaar.dev/realtime/internal/config"
	"bazaar.dev/realtime/internal/pkg/logger"
)

// defaultCORSOrigins is used when no explicit origin survives filtering.
var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

const healthCheckTimeout = 2 * time.Second

type healthCheck func(ctx context.Context) error

func newRouter(cfg *config.Config, checks map[string]healthCheck, mods []modules.Module) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestID(), accessLog(), exceptWebSocket(cors.New(buildCORSConfig(cfg))))

	router.GET("/healthz", healthHandler(checks))

	level := gin.WrapH(logger.LevelHandler())
	router.GET("/log/level", level)
	router.PUT("/log/level", level)

	for _, mod := range mods {
		if registrar, ok := mod.(modules.RouteRegistrar); ok {
			registrar.RegisterRoutes(router)
		}
	}
	return router
}

// buildCORSConfig drops "*" unless the unsafe flag is on. Allowing every
// origin turns credentials off.
func buildCORSConfig(cfg *config.Config) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{http.MethodGet, http.MethodPut, http.MethodOptions}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}

	if cfg.Server.UnsafeAllowAllOrigins {
		c.AllowAllOrigins = true
		c.AllowCredentials = false
		return c
	}

	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		o = strings.TrimSpace(o)
		if o == "" || o == "*" {
			continue
		}
		origins = append(origins, o)
	}
	if len(origins) == 0 {
		origins = slices.Clone(defaultCORSOrigins)
	}
	c.AllowOrigins = origins
	c.AllowCredentials = cfg.Server.AllowCredentials
	return c
}

// healthHandler handles GET /healthz: 200 when every dependency answers,
// 503 otherwise.
func healthHandler(checks map[string]healthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		results := make(map[string]string, len(checks))
		healthy := true
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = "error"
				healthy = false
				continue
			}
			results[name] = "ok"
		}

		status, httpStatus := "ok", http.StatusOK
		if !healthy {
			status, httpStatus = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(httpStatus, gin.H{"status": status, "checks": results})
	}
}
