package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"salescrm/internal/analytics"
	"salescrm/internal/audit"
	"salescrm/internal/auth"
	"salescrm/internal/config"
	cronrunner "salescrm/internal/cron"
	"salescrm/internal/db"
	"salescrm/internal/handler"
	"salescrm/internal/logger"
	"salescrm/internal/pipeline"
	gormrepository "salescrm/internal/repository/gorm"

	_ "salescrm/docs"
)

func main() {
	cfgPath := os.Getenv("CRM_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CRM_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	validator := &pipeline.Validator{
		Repo:   store,
		Config: cfg.Pipeline,
		Logger: logger,
	}
	pipelineSvc := &pipeline.Service{
		Repo:      store,
		Validator: validator,
		Logger:    logger,
	}
	forecastEngine := &analytics.ForecastEngine{
		Repo:   store,
		Config: cfg.Forecast,
		Logger: logger,
	}
	pipelineAnalytics := &analytics.PipelineAnalytics{Repo: store, Logger: logger}
	lossEngine := &analytics.LossAnalysisEngine{Repo: store, Logger: logger}
	sourceScorer := &analytics.SourceQualityScorer{Repo: store, Logger: logger}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	auditClient := initAuditClient(cfg.Audit, logger)
	jwt := auth.JWT{Secret: []byte(cfg.Auth.JWTSecret), TokenTTL: cfg.Auth.TokenTTL}
	engine.Use(auth.Middleware(jwt, cfg.Auth.Disabled))
	engine.Use(audit.InjectClientMiddleware(auditClient))
	engine.Use(audit.WriteAuditMiddleware(auditClient, logger))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	oppHandler := &handler.OpportunityHandler{Repo: store, Service: pipelineSvc}
	oppHandler.Register(engine)
	analyticsHandler := &handler.AnalyticsHandler{
		Forecast: forecastEngine,
		Pipeline: pipelineAnalytics,
		Loss:     lossEngine,
		Sources:  sourceScorer,
	}
	analyticsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseCtx := ctx
	if auditClient != nil {
		baseCtx = audit.WithClient(ctx, auditClient)
	}

	cronRunner := cronrunner.New(logger, baseCtx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.OverdueSweep, func(ctx context.Context) {
			n, err := store.CountOverdueOpenOpportunities(ctx, time.Now().UTC())
			if err != nil {
				logger.Warn("overdue sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("open opportunities past expected close", zap.Int64("count", n))
				audit.LogBestEffortCtx(ctx, "crm_overdue_opportunities", "warn", map[string]any{
					"count": n,
				})
			}
		})
		if err != nil {
			logger.Warn("cron register overdue sweep failed", zap.Error(err))
		}

		retention := cfg.Audit.RetentionDays
		_, err = cronRunner.Add(cfg.Cron.AuditRetention, func(ctx context.Context) {
			if retention <= 0 {
				return
			}
			cutoff := time.Now().UTC().AddDate(0, 0, -retention)
			n, err := store.DeleteAuditLogsBefore(ctx, cutoff)
			if err != nil {
				logger.Warn("audit retention sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("pruned audit logs", zap.Int64("count", n))
			}
		})
		if err != nil {
			logger.Warn("cron register audit retention failed", zap.Error(err))
		}

		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func initAuditClient(cfg config.AuditConfig, logger *zap.Logger) *audit.Client {
	base := strings.TrimSpace(cfg.RemoteBaseURL)
	apiKey := strings.TrimSpace(cfg.RemoteAPIKey)
	if base == "" || apiKey == "" {
		return nil
	}

	client := &audit.Client{BaseURL: base, APIKey: apiKey}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Login(ctx); err != nil {
		if logger != nil {
			logger.Warn("audit login failed (remote audit disabled)", zap.Error(err))
		}
		return nil
	}
	if logger != nil {
		logger.Info("audit login ok")
	}
	return client
}
