package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"github.com/urmzd/plugd/pkg/api/handlers"
	"github.com/urmzd/plugd/pkg/device"
	"github.com/urmzd/plugd/pkg/device/schema"
	"github.com/urmzd/plugd/pkg/server"
)

// Options wires the router to its dependencies. Server and Bridge are
// optional; their websocket routes are only registered when set.
type Options struct {
	Controller device.Controller
	Events     device.EventSubscriber
	Validator  *schema.Validator
	Server     *server.Server
	Bridge     http.Handler
}

// Router holds the Gin engine and dependencies
type Router struct {
	engine *gin.Engine
	opts   Options
}

// NewRouter creates a new API router
func NewRouter(opts Options) *Router {
	gin.SetMode(gin.ReleaseMode)

	if opts.Validator == nil {
		opts.Validator = schema.NewValidator()
	}

	engine := gin.New()
	SetupMiddleware(engine)

	router := &Router{
		engine: engine,
		opts:   opts,
	}

	router.setupRoutes()

	return router
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	// Swagger UI
	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.engine.GET("/docs", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})

	// Health check at root
	healthHandler := handlers.NewHealthHandler(r.opts.Controller)
	r.engine.GET("/health", healthHandler.Health)

	// Websockets
	if r.opts.Server != nil {
		r.engine.GET("/ws", handlers.NewClientHandler(r.opts.Server).Serve)
	}
	if r.opts.Bridge != nil {
		r.engine.GET("/ws/device", gin.WrapH(r.opts.Bridge))
	}

	// API v1 routes
	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/health", healthHandler.Health)

		discoveryHandler := handlers.NewDiscoveryHandler(r.opts.Controller, r.opts.Events)
		v1.GET("/events", discoveryHandler.Events)
		scanning := v1.Group("/scanning")
		{
			scanning.POST("/start", discoveryHandler.StartScanning)
			scanning.POST("/stop", discoveryHandler.StopScanning)
		}

		devicesHandler := handlers.NewDevicesHandler(r.opts.Controller)
		controlHandler := handlers.NewControlHandler(r.opts.Controller, r.opts.Validator)
		devices := v1.Group("/devices")
		{
			devices.GET("", devicesHandler.ListDevices)
			devices.POST("/stop", devicesHandler.StopAllDevices)
			devices.GET("/:index", devicesHandler.GetDevice)
			devices.POST("/:index/stop", devicesHandler.StopDevice)
			devices.POST("/:index/output", controlHandler.Output)
			devices.GET("/:index/features/:feature/input/:type", controlHandler.ReadInput)
		}
	}
}

// Handler returns the router as an http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// Run starts the HTTP server
func (r *Router) Run(addr string) error {
	return r.engine.Run(addr)
}
