package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/smtp"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh"
	"github.com/shadowmesh/shadowmesh/httpapi"
	"github.com/shadowmesh/shadowmesh/internal/config"
	"github.com/shadowmesh/shadowmesh/mail"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback, _ := zap.NewProduction()
		fallback.Fatal("config", zap.Error(err))
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("redis unreachable", zap.Error(err))
	}
	defer client.Close()

	engineCfg := shadowmesh.DefaultConfig()
	engineCfg.Token.Secret = []byte(cfg.TokenSecret)
	engineCfg.Derive.AppSalt = cfg.AppSalt

	engine, err := shadowmesh.New().
		WithConfig(engineCfg).
		WithRedis(client).
		WithMailer(newMailer(cfg)).
		WithLogger(logger).
		WithPublicBaseURL(cfg.PublicBaseURL).
		Build()
	if err != nil {
		logger.Fatal("engine", zap.Error(err))
	}
	defer engine.Close()

	handler := httpapi.NewHandler(engine, logger)
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.NewRouter(handler, logger),
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var logger *zap.Logger
	var err error
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}

func newMailer(cfg *config.Config) mail.Sender {
	if cfg.SMTPAddr == "" {
		return mail.Discard{}
	}
	sender := &mail.SMTPSender{
		Addr: cfg.SMTPAddr,
		From: cfg.SMTPFrom,
	}
	if cfg.SMTPUsername != "" {
		host, _, err := net.SplitHostPort(cfg.SMTPAddr)
		if err != nil {
			host = cfg.SMTPAddr
		}
		sender.Auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, host)
	}
	return sender
}
