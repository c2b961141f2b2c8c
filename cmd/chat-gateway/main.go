package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sangam-gaddi/becbilldeskbeta/internal/archive"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/config"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/gateway"
	"github.com/sangam-gaddi/becbilldeskbeta/internal/handler"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/jwt"
	pkglog "github.com/sangam-gaddi/becbilldeskbeta/pkg/log"
	"github.com/sangam-gaddi/becbilldeskbeta/pkg/middleware"
)

const serviceName = "chat-gateway"

func main() {
	cfg, err := config.LoadGateway()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	pkglog.Init(pkglog.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: serviceName})
	logger := pkglog.L()

	logger.Info().Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat-gateway")

	// Session tokens
	var validator middleware.TokenValidator
	var manager *jwt.Manager
	if cfg.Auth.JWTSecret != "" {
		manager, err = jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create token manager")
		}
		validator = manager
	} else if cfg.Auth.RequireToken {
		logger.Fatal().Msg("auth.require_token is set but auth.jwt_secret is empty")
	} else {
		logger.Warn().Msg("no jwt secret configured, joins are trusted as claimed")
	}

	// Archive pipeline
	opts := []gateway.Option{}
	var producer *archive.Producer
	var sink *archive.HTTPSink
	switch {
	case cfg.Kafka.Enabled:
		producer, err = archive.NewProducer(cfg.Kafka)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create archive producer")
		}
		opts = append(opts, gateway.WithArchiver(producer))
		logger.Info().Str("topic", cfg.Kafka.Topic).Msg("archiving messages to kafka")
	case cfg.Archive.APIURL != "" && manager != nil:
		sink = archive.NewHTTPSink(cfg.Archive, manager)
		opts = append(opts, gateway.WithArchiver(sink))
		logger.Info().Str("api_url", cfg.Archive.APIURL).Msg("archiving messages to chat-api")
	default:
		logger.Warn().Msg("message archiving disabled, history will not include live chat")
	}

	gw := gateway.New(gateway.Config{
		EventBuffer:     cfg.Gateway.EventBuffer,
		CloseSuperseded: cfg.Gateway.CloseSuperseded,
		RequireToken:    cfg.Auth.RequireToken,
	}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go gw.Run(ctx)

	// HTTP
	router := mux.NewRouter()
	wsHandler := handler.NewWSHandler(gw, validator, cfg.WebSocket)
	handler.NewHTTPHandler(gw).RegisterRoutes(router, wsHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      pkglog.HTTPMiddleware(logger)(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("chat-gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// gRPC health
	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(pkglog.UnaryServerInterceptor(logger)),
		grpc.StreamInterceptor(pkglog.StreamServerInterceptor(logger)),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	grpcAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		logger.Fatal().Str("addr", grpcAddr).Err(err).Msg("failed to listen")
	}
	go func() {
		logger.Info().Str("addr", grpcAddr).Msg("grpc health listening")
		if err := grpcServer.Serve(listener); err != nil {
			logger.Error().Err(err).Msg("grpc server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat-gateway")

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)

		healthServer.Shutdown() // 1. report NOT_SERVING

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil { // 2. stop accepting upgrades
			logger.Error().Err(err).Msg("server shutdown error")
		}

		cancel() // 3. close every chat connection and stop the event loop
		<-gw.Done()

		if producer != nil {
			_ = producer.Close() // 4. flush archived messages
		}
		if sink != nil {
			_ = sink.Close()
		}

		grpcServer.GracefulStop()
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("chat-gateway stopped")
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("shutdown timed out after 30s")
	}
}
