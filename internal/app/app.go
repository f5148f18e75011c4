package app

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pagecraft/server/internal/module/collaboration"
	"github.com/pagecraft/server/internal/shared/config"
	"github.com/pagecraft/server/internal/shared/metrics"
	"github.com/pagecraft/server/internal/shared/middleware"
)

// App wires configuration, logging, metrics, the HTTP router, and the
// real-time collaboration engine.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	router  *gin.Engine
	hub     *collaboration.Hub
}

// New initializes the application.
func New(cfg *config.Config) (*App, error) {
	logger, err := buildLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	a := &App{
		config: cfg,
		logger: logger,
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New("pagecraft")
	}

	a.router = a.setupRouter()
	a.initCollaboration()

	return a, nil
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Stop shuts down application components.
func (a *App) Stop() {
	if a.hub != nil {
		a.hub.Shutdown()
	}
	_ = a.logger.Sync()
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if a.metrics != nil {
		r.Use(middleware.Metrics(a.metrics))
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

// initCollaboration wires the collaboration engine. Collaboration is an
// optional feature: any failure here degrades it (logged, endpoint skipped)
// instead of aborting startup.
func (a *App) initCollaboration() {
	if !a.config.Collab.Enabled {
		a.logger.Info("collaboration disabled, skipping websocket endpoint")
		return
	}

	log := a.logger.Named("collab")
	store := collaboration.NewStore(log)
	registry := collaboration.NewRegistry()
	hub := collaboration.NewHub(collaboration.HubConfig{
		BaseURL:      a.config.Collab.BaseURL,
		HistoryLimit: a.config.Collab.HistoryLimit,
	}, store, registry, log, a.metrics)

	if a.config.Collab.SeedDemo {
		project, err := store.Create("demo-owner", "Demo Owner", "Demo Project",
			"A shared workspace seeded at startup")
		if err != nil {
			a.logger.Error("seed demo project failed, collaboration disabled", zap.Error(err))
			return
		}
		log.Info("demo project seeded",
			zap.String("project_id", project.ID.String()),
			zap.String("share_link", hub.ShareLink(project.ShareToken)),
		)
	}
	if a.metrics != nil {
		a.metrics.CollabProjects.Set(float64(store.Count()))
	}

	transport := collaboration.NewTransport(hub, a.config.Collab.SendBuffer, log)
	transport.Register(a.router, a.config.Collab.Path)

	handler := collaboration.NewHandler(store, registry, hub)
	handler.RegisterRoutes(a.router.Group("/api/v1"))

	a.hub = hub
}

// buildLogger constructs the application logger from config.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err == nil {
		zapCfg.Level = level
	}

	return zapCfg.Build()
}
