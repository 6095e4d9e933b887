package api

import (
	"net/http"

	"adbdesk/models"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type RouteOptions struct {
	// RateLimit is requests per second on the mutating routes. Zero disables it.
	RateLimit float64
	RateBurst int
}

// NewEngine returns a bare gin engine with recovery, request logging and CORS.
// It leaves gin's mode alone; the serve command selects release mode.
func NewEngine() *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(Recovery(), RequestLogger(), CORSMiddleware())
	return router
}

func SetupRoutes(router *gin.Engine, h *Handlers, hub *WebSocketHub, opts RouteOptions) {
	limit := RateLimit(rate.Limit(opts.RateLimit), opts.RateBurst)

	router.GET("/health", h.Health)

	api := router.Group("/api")
	{
		api.GET("/devices", h.GetDevices)
		api.GET("/devices/cached", h.GetCachedDevices)
		api.GET("/devices/:id", h.GetDevice)
		api.GET("/devices/:id/details", h.GetDeviceDetails)
		api.GET("/devices/:id/screenshot", h.GetScreenshot)

		api.POST("/execute", limit, h.Execute)
		api.POST("/actions", limit, h.DispatchAction)

		api.GET("/scripts", h.ListScripts)
		api.POST("/scripts/run", limit, h.RunScript)
		api.POST("/scripts/:id/terminate", h.TerminateScript)
		api.GET("/python", h.PythonInfo)

		api.GET("/plugins", h.ListPlugins)
		api.GET("/plugins/:id", h.GetPlugin)
		api.POST("/plugins/load", limit, h.LoadPlugin)
		api.POST("/plugins/scan", limit, h.ScanPlugins)
		api.POST("/plugins/:id/unload", h.UnloadPlugin)
		api.POST("/plugins/:id/execute", limit, h.ExecutePluginScript)

		api.GET("/history", h.GetHistory)
	}

	if hub != nil {
		router.GET("/ws", hub.Handle)
	}

	// Unmatched paths and method mismatches alike.
	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, models.NotFound)
	})
}

// CORSMiddleware allows any origin. Preflight requests end here with 204,
// whether or not the path exists.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
