// Package api exposes the Newznab-compatible HTTP surface.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/datallboy/nzbidx/internal/api/controllers"
	"github.com/datallboy/nzbidx/internal/app"
)

// NewServer builds the echo instance with the Newznab routes mounted.
func NewServer(appCtx *app.Context) *echo.Echo {
	e := echo.New()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			appCtx.Logger.Info("http_request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.String())
			return nil
		},
	}))

	limiter := NewRateLimiter(appCtx.Config.API.RateLimit, appCtx.Config.API.RateWindow)
	ctrl := &controllers.NewznabController{App: appCtx}

	guard := accessGuard(appCtx, limiter)
	e.GET("/api", ctrl.Handle, guard)
	e.GET("/getnzb/:id", ctrl.HandleDownload, guard)

	return e
}

// accessGuard checks the api key and applies the per-key rate limit. caps is
// open so download clients can discover the indexer before configuring keys.
func accessGuard(appCtx *app.Context, limiter *RateLimiter) echo.MiddlewareFunc {
	keys := make(map[string]struct{}, len(appCtx.Config.API.APIKeys))
	for _, k := range appCtx.Config.API.APIKeys {
		keys[k] = struct{}{}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if c.QueryParam("t") == "caps" {
				return next(c)
			}

			apikey := c.QueryParam("apikey")
			if len(keys) > 0 {
				if _, ok := keys[apikey]; !ok {
					return controllers.Fail(c, http.StatusUnauthorized, "unauthorized", "bad or missing apikey")
				}
			}

			limitKey := apikey
			if limitKey == "" {
				limitKey = c.Request().RemoteAddr
			}
			if !limiter.Allow(limitKey) {
				appCtx.Logger.Warn("rate_limited_total", "key", limitKey)
				return controllers.Fail(c, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			}
			return next(c)
		}
	}
}
