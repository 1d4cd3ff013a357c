package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"buildingops/internal/automation"
	"buildingops/internal/realtime"
	"buildingops/internal/services"
	"buildingops/internal/utils"
	"buildingops/internal/web/api"
	"buildingops/internal/web/middleware"

	"github.com/gin-gonic/gin"
)

// Dependencies are the services exposed over HTTP. Metrics and Recorder may
// be nil.
type Dependencies struct {
	Auth        middleware.TokenValidator
	Devices     *services.DeviceService
	Energy      *services.EnergyService
	Automations *automation.Service
	Engine      api.Executor
	Hub         *realtime.Hub
	Transport   api.Transport
	Metrics     http.Handler
	Recorder    middleware.RequestRecorder
	Logger      *slog.Logger
}

type WebServer struct {
	router *gin.Engine
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
}

func NewWebServer(deps Dependencies) *WebServer {
	router := gin.New()
	router.Use(gin.Recovery())

	middlewareManager := middleware.NewMiddlewareManager(deps.Auth, deps.Recorder, deps.Logger)
	router.Use(middlewareManager.RequestLog())

	api.RegisterHealthRoutes(router, deps.Transport, deps.Hub, deps.Metrics)
	api.RegisterDeviceRoutes(router, middlewareManager, deps.Devices)
	api.RegisterEnergyRoutes(router, middlewareManager, deps.Energy)
	api.RegisterAutomationRoutes(router, middlewareManager, deps.Automations, deps.Engine)
	api.RegisterRealtimeRoutes(router, deps.Auth, deps.Hub)

	return &WebServer{router: router, logger: utils.Component(deps.Logger, "web")}
}

// Handler exposes the router, mainly for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves on addr until Shutdown is called.
func (ws *WebServer) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           ws.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ws.mu.Lock()
	ws.server = srv
	ws.mu.Unlock()

	ws.logger.Info("WEB: listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	ws.mu.Lock()
	srv := ws.server
	ws.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
