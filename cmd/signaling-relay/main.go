package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vozconnect/internal/config"
	"vozconnect/internal/database"
	"vozconnect/internal/middleware"
	"vozconnect/internal/relay"
	"vozconnect/pkg/constants"
	"vozconnect/pkg/jwt"
	"vozconnect/pkg/logger"
	"vozconnect/pkg/metrics"
	"vozconnect/pkg/response"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize logger
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// 3. Connect to Redis when configured; the relay runs single-instance
	// without it.
	var redisDB *database.RedisClient
	if cfg.Redis.Enabled() {
		database.InitRedisMetrics()

		redisDB, err = database.NewRedisDB(&database.RedisConfig{
			Host:     cfg.Redis.Host,
			Port:     cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redisDB.Close()

		go redisDB.StartHealthCheck(context.Background(), 10*time.Second)
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))
	} else {
		logger.Info("Redis not configured, running single-instance")
	}

	// 4. Initialize the relay hub
	var hub *relay.Hub
	if redisDB != nil {
		hub = relay.NewHub(redisDB.Client, cfg.Signaling.MaxConnections)
	} else {
		hub = relay.NewHub(nil, cfg.Signaling.MaxConnections)
	}

	// 5. Initialize metrics
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	// 6. Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(prometheusMiddleware.Handler())

	router.GET("/health", func(c *gin.Context) {
		status := gin.H{
			"status":  "healthy",
			"service": cfg.Server.ServiceName,
		}
		if redisDB != nil {
			status["redis_degraded"] = redisDB.IsDegraded()
		}
		response.Success(c, http.StatusOK, status)
	})

	router.GET("/metrics", middleware.MetricsHandler())

	router.NoRoute(func(c *gin.Context) {
		response.NotFound(c, "route not found")
	})

	// Token auth guards the relay endpoint whenever a secret is configured;
	// without one the relay is open, for local development only.
	ws := router.Group("/ws")
	if cfg.JWT.Secret != "" {
		jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, constants.AccessTokenExpiry)
		ws.Use(relay.AuthMiddleware(jwtManager))
	} else {
		logger.Warn("JWT_SECRET not set, relay connections are unauthenticated")
	}
	ws.GET("", hub.ServeWS)

	// 7. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info("Signaling relay starting",
			zap.String("addr", addr),
			zap.Int("max_connections", cfg.Signaling.MaxConnections))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
