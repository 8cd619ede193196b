package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/e2b-dev/infra/packages/block-transfer/internal/cfg"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/ctl"
	e2bLogger "github.com/e2b-dev/infra/packages/block-transfer/internal/logger"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/session"
	"github.com/e2b-dev/infra/packages/block-transfer/internal/telemetry"
)

const (
	serviceName = "block-transfer"
	version     = "1.0.0"
)

var commitSHA string

func main() {
	os.Exit(run())
}

func run() int {
	ctx, ctxCancel := context.WithCancel(context.Background())
	defer ctxCancel()

	config, err := cfg.Parse()
	if err != nil {
		log.Printf("failed to parse config: %v\n", err)

		return 1
	}

	logger := zap.Must(e2bLogger.NewLogger(ctx, e2bLogger.LoggerConfig{
		ServiceName: serviceName,
		IsDebug:     config.Debug,
	}))
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("logger sync error: %v\n", err)
		}
	}()

	zap.ReplaceGlobals(logger)

	tel, err := telemetry.New(ctx, config.OtelCollectorGRPCEndpoint, serviceName, version+"-"+commitSHA)
	if err != nil {
		logger.Error("failed to create metrics exporter", zap.Error(err))

		return 1
	}
	defer func() {
		if err := tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("telemetry shutdown", zap.Error(err))
		}
	}()

	sess, err := session.Open(ctx, config, tel.MeterProvider)
	if err != nil {
		logger.Error("failed to open session", zap.Error(err))

		return 1
	}
	defer func() {
		if err := sess.Close(); err != nil {
			logger.Error("failed to close session", zap.Error(err))
		}
	}()

	logger.Info("starting block transfer daemon",
		zap.String("commit", commitSHA),
		e2bLogger.WithSessionID(sess.ID),
		zap.String("socket", config.ControlSocketPath),
	)

	signalCtx, sigCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer sigCancel()

	server := ctl.NewServer(config.ControlSocketPath, sess.Engine, uint32(config.MaxTransferSize))

	g, gctx := errgroup.WithContext(signalCtx)
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("control server stopped", zap.Error(err))

		return 1
	}

	logger.Info("shutdown complete", zap.Uint64("cursor", sess.Engine.Position()))

	return 0
}
