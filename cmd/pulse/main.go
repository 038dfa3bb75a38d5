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
	"go.uber.org/zap"

	"marketpulse/internal/automation"
	"marketpulse/internal/config"
	"marketpulse/internal/db"
	"marketpulse/internal/handler"
	"marketpulse/internal/logger"
	"marketpulse/internal/notify"
	"marketpulse/internal/output"
	"marketpulse/internal/ranking"
	gormrepository "marketpulse/internal/repository/gorm"
	"marketpulse/internal/rules"
	"marketpulse/internal/source"
	"marketpulse/internal/upload"
)

func main() {
	cfgPath := os.Getenv("MP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("MP_ENV_ONLY"); envOnlyRaw != "" {
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

	if err := db.SetTimezone(dbConn, cfg.DB); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	ruleEngine := &rules.Engine{Store: store, Logger: logger}
	rankEngine := &ranking.Engine{Logger: logger}
	outputStore := &output.Accumulator{
		Store:        store,
		Logger:       logger,
		KeepOnAppend: cfg.Output.KeepOnAppend,
		MaxTotal:     cfg.Output.MaxTotal,
	}
	uploadSvc := &upload.Service{
		Store:   store,
		Columns: upload.DefaultColumns(),
		Logger:  logger,
		MaxRows: cfg.Upload.MaxRows,
	}
	dataSource := &source.DatabaseSource{Store: store, Logger: logger}

	var notifier notify.Notifier
	if cfg.Notify.Enabled {
		notifier = &notify.LogNotifier{Logger: logger}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	scheduler := automation.NewScheduler(logger, ctx)
	orchestrator := &automation.Orchestrator{
		Store:      store,
		Rules:      ruleEngine,
		Ranking:    rankEngine,
		Output:     outputStore,
		Uploads:    uploadSvc,
		Source:     dataSource,
		Notifier:   notifier,
		Scheduler:  scheduler,
		Logger:     logger,
		GraceDelay: cfg.Automation.GraceDelay,
		LogKeep:    cfg.Automation.ExecutionLogKeep,
	}

	if cfg.Automation.Enabled {
		if err := orchestrator.InitFromStore(ctx); err != nil {
			logger.Warn("job registration from store failed", zap.Error(err))
		}
		scheduler.Start()
		defer scheduler.Shutdown()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	ruleHandler := &handler.RuleHandler{Engine: ruleEngine, Repo: store}
	ruleHandler.Register(engine)
	jobHandler := &handler.JobHandler{Orchestrator: orchestrator, Repo: store}
	jobHandler.Register(engine)
	uploadHandler := &handler.UploadHandler{Service: uploadSvc}
	uploadHandler.Register(engine)
	colorHandler := &handler.ColorHandler{Output: outputStore, Source: dataSource}
	colorHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
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
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization,X-User")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
