package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"salonsite/api/config"
	"salonsite/api/database"
	"salonsite/api/handlers"
	"salonsite/api/logger"
	"salonsite/api/middleware"
	"salonsite/api/reports"
	"salonsite/api/store"
	"salonsite/api/tracking"
	"salonsite/api/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	log = logger.WithService(log, "salonsite-api")
	log.Info("Starting API",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port),
		zap.String("event_store", cfg.EventStore),
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	dbClient, err := database.NewPostgresDB(cfg.Postgres, log)
	if err != nil {
		log.Fatal("Failed to initialize PostgreSQL database", zap.Error(err))
	}
	defer dbClient.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = dbClient.Migrate(migrateCtx, cfg.EventStore == config.EventStorePostgres)
	cancelMigrate()
	if err != nil {
		log.Fatal("Failed to migrate PostgreSQL schema", zap.Error(err))
	}

	visitStore, closeVisitStore, err := newVisitStore(cfg, dbClient, log)
	if err != nil {
		log.Fatal("Failed to initialize visit store", zap.Error(err))
	}
	defer closeVisitStore()

	userStore := store.NewUserStore(dbClient.DB, log)
	tokens := utils.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	recorder := tracking.NewRecorder(cfg.Tracking, visitStore, log.Named("tracking"))

	authHandlers := handlers.NewAuthHandlers(userStore, tokens, cfg.Environment == "production", log)
	reportHandlers := handlers.NewReportHandlers(reports.New(visitStore), visitStore, cfg.Report.Timeout, log)

	r := gin.New()
	r.Use(
		middleware.Recovery(log),
		middleware.RequestLogger(log),
		middleware.CORSMiddleware(cfg.FEOrigins),
		middleware.Sessions(log),
		middleware.Authenticate(tokens, cfg.Auth.ServiceKey, log),
		recorder.Middleware(),
	)

	r.GET("/healthz", handlers.HealthCheck(map[string]handlers.Pinger{
		"users":  userStore,
		"visits": visitStore,
	}, log))

	api := r.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/signup", authHandlers.Signup)
			auth.POST("/login", authHandlers.Login)
			auth.POST("/logout", authHandlers.Logout)
			auth.GET("/me", middleware.AuthRequired(), authHandlers.Me)
		}

		trackingGroup := api.Group("/tracking")
		trackingGroup.Use(middleware.AdminRequired())
		{
			trackingGroup.GET("/overview", reportHandlers.Overview)
			trackingGroup.GET("/visits", reportHandlers.ListVisits)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down gracefully")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	recorder.Close()
	log.Info("Server exiting")
}

// newVisitStore opens the configured event store. The returned func releases
// any connection the store owns.
func newVisitStore(cfg *config.Config, pg *database.DBClient, log *zap.Logger) (store.VisitStore, func(), error) {
	switch cfg.EventStore {
	case config.EventStoreClickHouse:
		ch, err := database.NewClickHouseDB(cfg.ClickHouse, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewClickHouseVisitStore(ch, log), ch.Close, nil
	case config.EventStorePostgres:
		return store.NewPostgresVisitStore(pg.DB, log), func() {}, nil
	case config.EventStoreMemory:
		log.Warn("Using in-memory visit store; visits are lost on restart")
		return store.NewMemoryVisitStore(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown event store %q", cfg.EventStore)
	}
}
