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

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/szibis/log-archiver/internal/archiver"
	"github.com/szibis/log-archiver/internal/buffer"
	"github.com/szibis/log-archiver/internal/compression"
	"github.com/szibis/log-archiver/internal/config"
	"github.com/szibis/log-archiver/internal/format"
	"github.com/szibis/log-archiver/internal/health"
	"github.com/szibis/log-archiver/internal/logging"
	"github.com/szibis/log-archiver/internal/receiver"
	"github.com/szibis/log-archiver/internal/store"
	"github.com/szibis/log-archiver/internal/telemetry"
)

const (
	shutdownTimeout   = 30 * time.Second
	storeCheckCaching = 15 * time.Second
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
		config.PrintUsage(os.Stderr)
		os.Exit(2)
	}
	if cfg.ShowHelp {
		config.PrintUsage(os.Stdout)
		os.Exit(0)
	}
	if cfg.ShowVersion {
		config.PrintVersion()
		os.Exit(0)
	}

	logging.SetResource(map[string]string{
		"service.name":    telemetry.ServiceName,
		"service.version": config.Version(),
	})

	if cfg.MemoryLimitRatio > 0 {
		limit, err := memlimit.SetGoMemLimitWithOpts(
			memlimit.WithRatio(cfg.MemoryLimitRatio),
			memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
		)
		if err != nil {
			logging.Warn("failed to set memory limit", logging.F("error", err.Error()))
		} else {
			logging.Info("memory limit set", logging.F("gomemlimit_bytes", limit, "ratio", cfg.MemoryLimitRatio))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.Validate(ctx); err != nil {
		logging.Fatal("invalid configuration", logging.F("error", err.Error()))
	}

	tel, err := telemetry.Init(ctx, cfg.TelemetryConfig(), config.Version())
	if err != nil {
		logging.Fatal("failed to initialize telemetry", logging.F("error", err.Error()))
	}
	if hook := tel.NewLogHook(); hook != nil {
		logging.SetHook(hook)
	}
	logger := logging.Default()

	st, err := newStore(ctx, cfg)
	if err != nil {
		logging.Fatal("failed to create object store", logging.F("error", err.Error(), "backend", cfg.StorageBackend))
	}
	if err := store.Prepare(ctx, st, cfg.PrepareOptions(), logger); err != nil {
		logging.Fatal("object store is not usable", logging.F("error", err.Error(), "bucket", cfg.S3Bucket))
	}

	serializer, err := format.NewSerializer(cfg.SerializerConfig())
	if err != nil {
		logging.Fatal("failed to create serializer", logging.F("error", err.Error()))
	}
	hostname, err := os.Hostname()
	if err != nil {
		logging.Warn("failed to read hostname", logging.F("error", err.Error()))
	}
	archCfg, err := cfg.ArchiverConfig(hostname)
	if err != nil {
		logging.Fatal("invalid key template", logging.F("error", err.Error()))
	}
	arch := archiver.New(archCfg, serializer, compression.NewPipeline(cfg.CompressionConfig()), st, logger)

	bufOpts := []buffer.BufferOption{
		buffer.WithConcurrency(cfg.EmitConcurrency),
		buffer.WithLogger(logger),
	}
	if cfg.FailoverEnabled() {
		bufOpts = append(bufOpts,
			buffer.WithFailoverQueue(buffer.NewMemoryQueue(cfg.FailoverMaxBatches, cfg.FailoverMaxBytes)),
			buffer.WithDrainInterval(cfg.DrainInterval),
		)
	}
	buf, err := buffer.New(cfg.BufferConfig(), arch, bufOpts...)
	if err != nil {
		logging.Fatal("failed to create buffer", logging.F("error", err.Error()))
	}

	bufCtx, stopBuffer := context.WithCancel(context.Background())
	defer stopBuffer()
	go buf.Start(bufCtx)

	var (
		httpReceiver *receiver.HTTPReceiver
		grpcReceiver *receiver.GRPCReceiver
	)
	if cfg.HTTPListenAddr != "" {
		httpReceiver = receiver.NewHTTP(cfg.HTTPReceiverConfig(), buf, logger)
		go func() {
			if err := httpReceiver.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Fatal("HTTP receiver error", logging.F("error", err.Error()))
			}
		}()
	}
	if cfg.GRPCListenAddr != "" {
		grpcReceiver, err = receiver.NewGRPC(cfg.GRPCReceiverConfig(), buf, logger)
		if err != nil {
			logging.Fatal("failed to create gRPC receiver", logging.F("error", err.Error()))
		}
		go func() {
			if err := grpcReceiver.Start(); err != nil {
				logging.Fatal("gRPC receiver error", logging.F("error", err.Error()))
			}
		}()
	}

	checker := health.New()
	checker.RegisterReadiness("store", health.Cached(func(ctx context.Context) error {
		exists, err := st.BucketExists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return errors.New("bucket does not exist")
		}
		return nil
	}, storeCheckCaching))
	if cfg.FailoverEnabled() {
		checker.RegisterReadiness("failover_queue", health.BacklogCheck("failover queue", buf.FailoverLen, cfg.FailoverMaxBatches))
	}
	if cfg.MaxPendingRecords > 0 {
		checker.RegisterReadiness("buffer", health.BacklogCheck("buffer", buf.Pending, cfg.MaxPendingRecords))
	}

	statsMux := http.NewServeMux()
	statsMux.Handle("/metrics", promhttp.Handler())
	statsMux.HandleFunc("/live", checker.LiveHandler())
	statsMux.HandleFunc("/ready", checker.ReadyHandler())
	statsServer := &http.Server{
		Addr:              cfg.StatsAddr,
		Handler:           statsMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logging.Info("stats endpoint started", logging.F("addr", cfg.StatsAddr, "path", "/metrics"))
		if err := statsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("stats server error", logging.F("error", err.Error()))
		}
	}()

	logging.Info("log-archiver started", logging.F(
		"http_addr", cfg.HTTPListenAddr,
		"grpc_addr", cfg.GRPCListenAddr,
		"stats_addr", cfg.StatsAddr,
		"backend", cfg.StorageBackend,
		"bucket", cfg.S3Bucket,
		"key_format", cfg.KeyFormat,
		"format", cfg.Format,
		"compression", cfg.Compression,
		"telemetry", tel.Enabled(),
	))

	<-ctx.Done()
	logging.Info("shutting down")
	checker.SetShuttingDown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Stop intake first so the final flush sees every accepted record.
	if grpcReceiver != nil {
		grpcReceiver.Stop()
	}
	if httpReceiver != nil {
		if err := httpReceiver.Stop(shutdownCtx); err != nil {
			logging.Warn("HTTP receiver shutdown error", logging.F("error", err.Error()))
		}
	}
	stopBuffer()
	buf.Wait()

	if err := statsServer.Shutdown(shutdownCtx); err != nil {
		logging.Warn("stats server shutdown error", logging.F("error", err.Error()))
	}
	telCtx, telCancel := context.WithTimeout(context.Background(), tel.ShutdownTimeout())
	defer telCancel()
	if err := tel.Shutdown(telCtx); err != nil {
		logging.Warn("telemetry shutdown error", logging.F("error", err.Error()))
	}

	logging.Info("shutdown complete")
}

func newStore(ctx context.Context, cfg *config.Config) (store.BucketStore, error) {
	if cfg.StorageBackend == config.BackendMemory {
		logging.Warn("using in-memory object store; archived objects are lost on exit")
		return store.NewMemoryStore(), nil
	}
	return store.NewS3Store(ctx, cfg.S3Config())
}
