// Command room runs a single room server standalone, outside of a cluster.
// This mirrors the source's GameServer.main(): useful for manual testing,
// not how rooms are normally brought up (the cluster spawns them lazily via
// internal/v1/cluster.NewRoomFactory) (spec.md §6, "Room CLI (testing only)").
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"roomcluster/internal/v1/config"
	"roomcluster/internal/v1/durability"
	"roomcluster/internal/v1/engine"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/ratelimit"
	"roomcluster/internal/v1/server"
)

func main() {
	port := flag.Int("port", 0, "stream protocol port (0 picks an ephemeral one)")
	gui := flag.Bool("gui", false, "accepted for source compatibility; this build has no curses front end")
	logFile := flag.String("log_file", "", "optional path to additionally log to")
	loggingLevel := flag.String("logging_level", "info", "debug for development logging; any other value logs at info level")
	quiet := flag.Bool("quiet", false, "disable logging entirely")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: room [flags] project_name")
		os.Exit(2)
	}
	projectName := flag.Arg(0)

	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, relying on process environment")
	}

	if err := logging.Initialize(*loggingLevel == "debug"); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		os.Exit(1)
	}
	log := logging.GetLogger()
	if *quiet {
		log = zap.NewNop()
	}
	if *logFile != "" {
		if core, closeFn, err := fileLogCore(*logFile); err != nil {
			log.Warn("failed to open log file, continuing without it", zap.Error(err), zap.String("path", *logFile))
		} else {
			defer closeFn()
			log = logging.WithFileCore(log, core)
		}
	}

	if *gui {
		log.Warn("--gui was requested but this build has no curses front end; continuing headless")
	}

	cfg := config.ValidateEnv()

	eng := engine.New(engine.DefaultConfig())
	store, err := durability.Open(eng, fmt.Sprintf("%s.log", projectName), fmt.Sprintf("%s.ckpt", projectName), durability.DefaultCheckpointThreshold)
	if err != nil {
		log.Error("failed to open durability store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	var limit *ratelimit.CommandLimiter
	if cfg.RateLimitCommandsPerClient != "" {
		limit, err = ratelimit.New(cfg.RateLimitCommandsPerClient, redisClient)
		if err != nil {
			log.Warn("failed to build rate limiter, running unlimited", zap.Error(err))
			limit = nil
		}
	}

	srv, err := server.New(projectName, fmt.Sprintf(":%d", *port), store, limit, false, "", log)
	if err != nil {
		log.Error("failed to bind room listener", zap.Error(err))
		os.Exit(1)
	}
	log.Info("room listening", zap.Int("port", srv.Port()), zap.String("project", projectName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		srv.Serve(ctx)
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	log.Info("room shutting down")
}

func fileLogCore(path string) (zapcore.Core, func(), error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, func() {}, err
	}
	encoder := zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, zapcore.AddSync(f), zapcore.DebugLevel)
	return core, func() { f.Close() }, nil
}
