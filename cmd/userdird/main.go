// Command userdird serves a user directory over gRPC: password login,
// bearer-token resolution and health reporting for the backing store.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/reflection"

	"github.com/thecodingmachine/security.userfiledao/internal/config"
	"github.com/thecodingmachine/security.userfiledao/internal/limiter"
	"github.com/thecodingmachine/security.userfiledao/internal/logging"
	"github.com/thecodingmachine/security.userfiledao/internal/migrate"
	"github.com/thecodingmachine/security.userfiledao/internal/repository"
	"github.com/thecodingmachine/security.userfiledao/internal/repository/file"
	"github.com/thecodingmachine/security.userfiledao/internal/repository/postgres"
	grpcserver "github.com/thecodingmachine/security.userfiledao/internal/server/grpc"
	"github.com/thecodingmachine/security.userfiledao/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "userdird:", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "userdird:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
		zap.String("backend", cfg.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := limiter.Policy{Window: limiter.DefaultPolicy.Window, MaxFails: cfg.MaxFails, BlockFor: cfg.BlockFor}

	var (
		dir repository.Directory
		lim limiter.Limiter
	)
	switch cfg.Backend {
	case config.BackendPostgres:
		if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		db, err := postgres.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("pgxpool.New", zap.Error(err))
		}
		defer db.Close()
		dir = postgres.NewUserDirectory(db)
		lim = limiter.NewPG(db.Pool, policy)
	default:
		fd, err := file.New(cfg.UserFile)
		if err != nil {
			logger.Fatal("user file", zap.Error(err))
		}
		logger.Info("user file", zap.String("path", fd.Path()))
		dir = repository.NewSynchronized(fd)
		lim = limiter.NewMemory(policy)
	}

	authSvc := service.NewAuthService(dir, []byte(cfg.JWTKey), cfg.AccessTTL, lim, logger)

	var opts []grpc.ServerOption
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled; serving plaintext")
	}

	hs := health.NewServer()
	s := grpcserver.NewGRPCServer(logger, authSvc, hs, opts...)
	if cfg.Dev {
		reflection.Register(s)
	}

	watcher := grpcserver.NewHealthWatcher(hs, dir, cfg.HealthInterval, logger)
	go watcher.Run(ctx)

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- s.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
