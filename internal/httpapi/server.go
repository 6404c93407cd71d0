// Package httpapi is the gateway's HTTP front-end: the stable relay
// surface (/v1/chat/completions, /v1/responses, /v1/messages), health and
// shutdown, the Prometheus scrape endpoint, and the admin read/override
// surface for the quota daemon.
package httpapi

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/routecodex/routecodex/common/config"
	"github.com/routecodex/routecodex/common/logger"
	"github.com/routecodex/routecodex/internal/executor"
	"github.com/routecodex/routecodex/internal/pipeline"
	"github.com/routecodex/routecodex/internal/quota"
	"github.com/routecodex/routecodex/internal/router"
	"github.com/routecodex/routecodex/middleware"
)

// Deps is everything the HTTP surface needs, injected by main() so this
// package owns no process-wide state of its own.
type Deps struct {
	Pipeline *pipeline.Pipeline
	Executor *executor.Executor
	Daemon   *quota.Daemon
	Router   *router.Router
	// Shutdown triggers a graceful stop; it must return promptly (the
	// actual teardown happens elsewhere). Nil disables /shutdown.
	Shutdown func()
}

// Server holds the relay handlers' shared state.
type Server struct {
	deps  Deps
	store *responseStore
}

// NewEngine builds the gin engine with every route registered.
func NewEngine(deps Deps) *gin.Engine {
	s := &Server{deps: deps, store: newResponseStore(responseStoreCapacity)}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(glogLevel()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
	)
	engine.Use(middleware.RelayPanicRecover())
	engine.Use(middleware.RequestId())

	engine.GET("/health", s.health)
	engine.POST("/shutdown", s.shutdown)
	if config.EnablePrometheusMetrics {
		engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	relay := engine.Group("/v1")
	relay.Use(middleware.APIKeyAuth())
	relay.POST("/chat/completions", s.relayChatCompletions)
	relay.POST("/messages", s.relayAnthropicMessages)
	relay.POST("/responses", s.relayResponses)
	relay.POST("/responses/:id/submit_tool_outputs", s.submitToolOutputs)

	admin := engine.Group("/admin")
	admin.Use(middleware.APIKeyAuth())
	admin.GET("/providers", s.adminProviders)
	admin.GET("/quota", s.adminQuota)
	admin.POST("/providers/disable", s.adminDisable)
	admin.POST("/providers/recover", s.adminRecover)
	admin.POST("/providers/reset", s.adminReset)

	return engine
}

func glogLevel() string {
	if config.DebugEnabled {
		return "debug"
	}
	return "info"
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// shutdown handles POST /shutdown: the stop-caller headers are carried
// for audit only, then the injected shutdown hook runs asynchronously so
// this response still reaches the caller.
func (s *Server) shutdown(c *gin.Context) {
	if s.deps.Shutdown == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"status": "shutdown disabled"})
		return
	}
	logger.Logger.Info("shutdown requested over http",
		zap.String("caller_name", c.GetHeader("x-routecodex-stop-caller-name")),
		zap.String("caller_pid", c.GetHeader("x-routecodex-stop-caller-pid")),
		zap.String("remote_addr", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
	go s.deps.Shutdown()
}
