// server runs the account-auth JSON API and the gRPC health endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"account-auth/internal/config"
	"account-auth/internal/db"
	"account-auth/internal/devotp"
	healthhandler "account-auth/internal/health/handler"
	"account-auth/internal/identity/service"
	"account-auth/internal/logging"
	"account-auth/internal/notify"
	"account-auth/internal/notify/kafka"
	"account-auth/internal/notify/logsink"
	"account-auth/internal/notify/sms"
	"account-auth/internal/security"
	"account-auth/internal/server"
	telemetryotel "account-auth/internal/telemetry/otel"
	"account-auth/internal/user/repository"
)

const (
	shutdownTimeout = 10 * time.Second
	redisKeyPrefix  = "account-auth"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateSigning(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	var bridge slog.Handler
	if cfg.OTLPEndpoint != "" {
		if h := telemetryotel.NewSlogHandler(providers.LoggerProvider, cfg.ServiceName, level); h != nil {
			bridge = h
		}
	}
	logger, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		Format:  cfg.LogFormat,
		Service: cfg.ServiceName,
		Bridge:  bridge,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	users, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	tokens, err := newTokenProvider(cfg)
	if err != nil {
		return fmt.Errorf("session signing: %w", err)
	}
	logger.Info("session signing", slog.String("alg", tokens.Algorithm()), slog.Duration("ttl", tokens.TTL()))

	var smsSender notify.SMSSender
	if cfg.SMSAPIKey != "" {
		smsSender = sms.NewClient(cfg.SMSAPIKey, cfg.SMSBaseURL, cfg.SMSSender)
	} else {
		logger.Warn("SMS_API_KEY not set; OTP dispatch will report failure")
	}

	var emailSender notify.EmailSender
	if pub := kafka.NewEmailPublisher(cfg.KafkaBrokersList(), cfg.NotifyKafkaTopic); pub != nil {
		emailSender = pub
		defer func() { _ = pub.Close() }()
	} else {
		emailSender = logsink.New(logger, cfg.OTPReturnToClient)
	}

	var devStore devotp.Store
	if cfg.OTPReturnToClient {
		devStore = devotp.NewMemoryStore()
		logger.Warn("testing mode enabled: OTPs and reset links may be returned to clients; GET /dev/otp is served")
	}

	auth := service.NewAuthService(users, security.NewHasher(cfg.BcryptCost), tokens, smsSender, emailSender, service.Options{
		OTPTTL:        cfg.OTPTTL(),
		ResetTokenTTL: cfg.ResetTokenTTL(),
		ResetURL:      cfg.ResetURL,
		TestingMode:   cfg.OTPReturnToClient,
		DevOTP:        devStore,
		Logger:        logger,
	})
	health := healthhandler.NewServer(users)

	httpSrv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: server.NewHTTPHandler(server.Deps{
			Auth:       auth,
			Health:     health,
			DevOTP:     devStore,
			Logger:     logger,
			CORSOrigin: cfg.CORSOrigin,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr), slog.String("store", cfg.StoreBackend))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		grpcSrv = server.NewGRPCServer(health)
		go func() {
			logger.Info("gRPC health server listening", slog.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("server failed", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.Any("error", err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	logger.Info("stopped")
	return runErr
}

// openStore connects the configured credential store and returns it with its close function.
func openStore(ctx context.Context, cfg *config.Config) (repository.Repository, func(), error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		return repository.NewPostgresRepository(sqlDB), func() { _ = sqlDB.Close() }, nil
	case config.StoreRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		rdb := redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("redis: %w", err)
		}
		return repository.NewRedisRepository(rdb, redisKeyPrefix), func() { _ = rdb.Close() }, nil
	default:
		slog.Warn("using in-memory credential store; accounts are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}
}

// newTokenProvider builds the session issuer from the key pair when configured, else from JWT_SECRET.
func newTokenProvider(cfg *config.Config) (*security.TokenProvider, error) {
	if cfg.UsesKeyPair() {
		signer, pub, err := security.LoadKeyPair(cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, err
		}
		return security.NewTokenProvider(signer, pub, cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL())
	}
	return security.NewHMACTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL())
}
