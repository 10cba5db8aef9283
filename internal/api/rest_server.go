package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/annel0/place3d/internal/auth"
	"github.com/annel0/place3d/internal/broadcast"
	"github.com/annel0/place3d/internal/clock"
	"github.com/annel0/place3d/internal/logging"
	"github.com/annel0/place3d/internal/middleware"
	"github.com/annel0/place3d/internal/placement"
	"github.com/annel0/place3d/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// worldIDPattern совпадает с допустимыми именами subject-токена NATS и ключей Redis.
var worldIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidWorldID проверяет идентификатор мира.
func ValidWorldID(id string) bool {
	return worldIDPattern.MatchString(id)
}

// RestServer представляет REST API сервер
type RestServer struct {
	router     *gin.Engine
	httpServer *http.Server
	service    *placement.Service
	sessions   session.Sessions
	issuer     *auth.Issuer
	metrics    *ServerMetrics
	outbound   *OutboundWebhookManager
	logger     *logging.Logger
	gzipJSON   http.Handler
	cfg        Config
}

// Config содержит конфигурацию для REST сервера
type Config struct {
	Port     int
	NodeID   string
	Service  *placement.Service
	Sessions session.Sessions
	Issuer   *auth.Issuer

	// Bus — шина обновлений; её состояние отдаётся в /health. nil — не проверяется.
	Bus broadcast.Bus

	// Clock задаёт время создания сроков миров; nil — системные часы.
	Clock clock.Clock

	// DevTokens разрешает POST /api/auth/token без внешнего провайдера.
	DevTokens bool

	// WorldDuration — срок мира по умолчанию; 0 — без срока.
	WorldDuration time.Duration

	// Registry — регистр HTTP-метрик; nil — дефолтный.
	Registry *prometheus.Registry

	InboundWebhookSecret string
	Outbound             *OutboundWebhookManager
}

// NewRestServer создает новый REST API сервер
func NewRestServer(cfg Config) (*RestServer, error) {
	if cfg.Service == nil || cfg.Sessions == nil || cfg.Issuer == nil {
		return nil, errors.New("api: service, sessions and issuer are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8088
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("place3d_api"))
	router.Use(middleware.NewRequestLogger().Handler())

	promMw := middleware.NewPrometheusMiddleware("place3d", cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	rs := &RestServer{
		router:   router,
		service:  cfg.Service,
		sessions: cfg.Sessions,
		issuer:   cfg.Issuer,
		metrics:  NewServerMetrics(),
		outbound: cfg.Outbound,
		logger:   logging.GetNetworkLogger(),
		gzipJSON: gzhttp.GzipHandler(http.HandlerFunc(servePayload)),
		cfg:      cfg,
	}
	rs.setupRoutes()

	rs.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return rs, nil
}

// Router отдаёт gin.Engine для регистрации дополнительных маршрутов (websocket).
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// setupRoutes настраивает маршруты REST API
func (rs *RestServer) setupRoutes() {
	// Middleware для CORS
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	api := rs.router.Group("/api")

	if rs.cfg.DevTokens {
		api.POST("/auth/token", rs.handleIssueToken)
	}

	worlds := api.Group("/worlds")
	{
		worlds.GET("", rs.handleListWorlds)
		worlds.POST("", rs.jwtMiddleware(), rs.adminMiddleware(), rs.handleCreateWorld)
		worlds.GET("/:worldID", rs.handleGetWorld)
		worlds.POST("/:worldID/end", rs.jwtMiddleware(), rs.adminMiddleware(), rs.handleEndWorld)
		worlds.GET("/:worldID/snapshot", rs.handleSnapshot)
		worlds.GET("/:worldID/leaderboard", rs.handleLeaderboard)
		worlds.POST("/:worldID/placements", rs.jwtMiddleware(), rs.handlePlacement)
	}

	api.GET("/server", rs.handleServerInfo)

	if rs.cfg.InboundWebhookSecret != "" {
		api.POST("/webhook", rs.HandleWebhook)
	}

	// Health check
	rs.router.GET("/health", rs.handleHealth)
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, GenericResponse{Success: false, Message: message})
}

func (rs *RestServer) handleServerInfo(c *gin.Context) {
	memoryMB, _ := rs.metrics.GetMemoryUsage()
	cpuPercent, _ := rs.metrics.GetCPUUsage()

	info := map[string]interface{}{
		"name":        "place3d",
		"node_id":     rs.cfg.NodeID,
		"status":      "running",
		"uptime":      rs.metrics.GetUptime(),
		"memory_mb":   fmt.Sprintf("%.1f", memoryMB),
		"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
		"goroutines":  rs.metrics.Goroutines(),
		"grid_extent": rs.service.Codec().Extent(),
		"cooldown_s":  int(rs.service.Config().Window / time.Second),
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о сервере",
		Data:    info,
	})
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	busState := "n/a"
	if rs.cfg.Bus != nil {
		busState = "connected"
		if !rs.cfg.Bus.Connected() {
			busState = "disconnected"
			status, code = "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{
		"status": status,
		"node":   rs.cfg.NodeID,
		"bus":    busState,
		"time":   time.Now().Unix(),
	})
}

// Start блокирует до остановки сервера.
func (rs *RestServer) Start() error {
	rs.logger.Info("🌐 REST API listening on %s", rs.httpServer.Addr)
	if err := rs.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop корректно завершает HTTP сервер.
func (rs *RestServer) Stop(ctx context.Context) error {
	return rs.httpServer.Shutdown(ctx)
}
