// Command cluster runs the cluster coordinator: it registers new clients,
// lazily spawns room servers, reaps them on shutdown, and (optionally)
// announces itself to an external catalog (spec.md §4.5, §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"roomcluster/internal/v1/admin"
	"roomcluster/internal/v1/catalog"
	"roomcluster/internal/v1/cluster"
	"roomcluster/internal/v1/config"
	"roomcluster/internal/v1/logging"
	"roomcluster/internal/v1/tracing"
)

func main() {
	port := flag.Int("port", 0, "stream protocol port (0 picks an ephemeral one)")
	gui := flag.Bool("gui", false, "accepted for source compatibility; this build has no curses front end")
	logFile := flag.String("log_file", "", "optional path to additionally log to")
	useUDP := flag.Bool("use_udp", false, "enable UDP room-state broadcast for spawned rooms")
	loggingLevel := flag.String("logging_level", "info", "debug for development logging; any other value logs at info level")
	verbose := flag.Bool("verbose", false, "enable logging (disabled by default, matching the source's logging.disable(CRITICAL))")
	adminAddr := flag.String("admin_addr", ":8090", "address for /healthz, /metrics, /debug/rooms")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: cluster [flags] project_name")
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
	if !*verbose {
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "roomcluster-cluster", cfg.OtelCollectorAddr)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tp.Shutdown(ctx)
		}
	}

	host := localHost()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", *port))
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to bind cluster listener:", err)
		os.Exit(1)
	}
	boundPort := ln.Addr().(*net.TCPAddr).Port
	clusterAddr := fmt.Sprintf("%s:%d", host, boundPort)

	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
	}

	limiterRate := ""
	if cfg.RateLimitCommandsPerClient != "" {
		limiterRate = cfg.RateLimitCommandsPerClient
	}
	factory := cluster.NewRoomFactory(host, os.TempDir(), clusterAddr, *useUDP, limiterRate, redisClient, log)
	c := cluster.New(host, factory, log)
	log.Info("cluster listening", zap.Int("port", boundPort), zap.String("project", projectName))

	go c.Serve(ctx, ln)

	router := admin.NewRouter(c, nil, nil)
	go func() {
		if err := router.Run(*adminAddr); err != nil {
			log.Warn("admin surface stopped", zap.Error(err))
		}
	}()

	beaconInterval := 30 * time.Second
	beacon := catalog.New(catalog.Config{
		CatalogAddr: cfg.CatalogAddr,
		Type:        "game_server",
		Owner:       os.Getenv("CATALOG_OWNER"),
		Port:        boundPort,
		Project:     projectName,
		Interval:    beaconInterval,
	}, redisClient, log)
	go beacon.Run(ctx)

	<-ctx.Done()
	log.Info("cluster shutting down")
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

func localHost() string {
	if h := os.Getenv("CLUSTER_HOST"); h != "" {
		return h
	}
	return "127.0.0.1"
}
