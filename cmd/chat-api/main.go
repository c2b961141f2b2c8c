package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/account"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/archive"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/history"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/database"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/jwt"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/middleware"
)

func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "chat-api"})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat-api")

	// Database
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	models := []interface{}{&account.StudentModel{}}
	if cfg.History.Store != "cassandra" {
		models = append(models, &history.MessageModel{})
	}
	if err := database.AutoMigrate(db, models...); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}

	// Tokens
	tokens, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}
	authMiddleware := middleware.NewAuthMiddleware(tokens)

	accounts := account.NewService(account.NewGormRepository(db), tokens)

	// History store
	var repo history.Repository
	switch cfg.History.Store {
	case "cassandra":
		repo, err = history.NewCassandraRepository(cfg.Cassandra)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cassandra repository")
		}
	case "gorm", "":
		repo = history.NewGormRepository(db)
	default:
		logger.Fatal().Str("store", cfg.History.Store).Msg("unsupported history store")
	}
	defer repo.Close()

	var cache history.Cache
	if cfg.Cache.Enabled {
		rc, err := history.NewRedisCache(cfg.Redis, cfg.Cache)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create redis cache")
		}
		defer rc.Close()
		cache = rc
	}

	historySvc := history.NewService(repo, cache, accounts, history.ServiceConfig{
		Retention:    cfg.History.Retention,
		GlobalLimit:  cfg.History.GlobalLimit,
		PrivateLimit: cfg.History.PrivateLimit,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		history.RunSweeper(ctx, historySvc, cfg.History.SweepInterval)
	}()

	var consumer *archive.Consumer
	consumerDone := make(chan struct{})
	if cfg.Kafka.Enabled {
		consumer, err = archive.NewConsumer(cfg.Kafka, historySvc)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create archive consumer")
		}
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("archive consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
	}

	// HTTP
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(pkglog.GinMiddleware(logger))

	account.NewHandler(accounts, authMiddleware).RegisterRoutes(router)
	history.NewHandler(historySvc, historySvc).RegisterRoutes(router, authMiddleware)
	archive.NewIngestHandler(historySvc).RegisterRoutes(router, authMiddleware)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("chat-api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down chat-api")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	cancel()
	<-consumerDone
	if consumer != nil {
		_ = consumer.Close()
	}
	<-sweeperDone

	logger.Info().Msg("chat-api stopped")
}
