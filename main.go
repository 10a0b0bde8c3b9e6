package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/config"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/detect"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/health"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/logger"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/runs"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/service"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/state"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/storage"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/telemetry"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/video"
	"github.com/vzahanych/view-guard-meta/edge/tracker/internal/web"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", config.GetEnvWithDefault("TRACKER_CONFIG", ""), "Path to configuration file")
	flag.StringVar(&configPath, "c", config.GetEnvWithDefault("TRACKER_CONFIG", ""), "Path to configuration file (short)")
	flag.Parse()

	// The configuration service logs reloads; it starts on a stderr logger
	// until the configured one exists.
	bootLog, err := logger.New(logger.LogConfig{Level: "info", Format: "text", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfgSvc, err := config.NewService(configPath, bootLog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	// Initialize logger
	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting object tracker",
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	if err := run(cfgSvc, log); err != nil {
		log.Error("Tracker exited with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	// Create main context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateMgr, err := state.NewManager(cfg.Storage.DBPath, log)
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer stateMgr.Close()

	ffmpeg, err := video.NewFFmpegWrapper(cfg.Video.FFmpegPath, cfg.Video.FFprobePath, log)
	if err != nil {
		return err
	}
	source, err := video.OpenFile(ctx, ffmpeg, cfg.Video.Path, cfg.Video.FrameTimeout, log)
	if err != nil {
		return fmt.Errorf("failed to open video: %w", err)
	}
	defer source.Close()

	model, err := detect.NewONNXModel(cfg.Model.ONNXConfig(), log)
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	defer model.Close()

	svcMgr := service.NewManager(log)

	runMgr := runs.NewManager(runs.Config{
		Pipeline:  cfg.PipelineConfig(),
		VideoPath: cfg.Video.Path,
		Labels:    cfg.Model.Labels,
	}, model, source, stateMgr, log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr.GetDB(), cfg.Storage.DBPath))
	healthMgr.RegisterChecker(health.NewFFmpegChecker(ffmpeg))
	healthMgr.RegisterChecker(health.NewFileChecker("model", cfg.Model.Path))
	healthMgr.RegisterChecker(health.NewFileChecker("video", cfg.Video.Path))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Storage.DataDir))

	disk := storage.NewDiskMonitor(cfg.Storage.DataDir, cfg.Storage.MaxDiskUsage, log)
	healthMgr.RegisterChecker(disk)

	retention := storage.NewRetention(storage.RetentionConfig{
		MaxAge:   time.Duration(cfg.Storage.RetentionDays) * 24 * time.Hour,
		MaxRuns:  cfg.Storage.MaxRuns,
		Interval: cfg.Storage.RetentionInterval,
	}, runMgr, disk, log)

	collector := telemetry.NewCollector(&cfg.Telemetry, log, runMgr, disk)

	webSrv := web.NewServer(&cfg.Web, log)
	webSrv.SetVersion(version)
	webSrv.SetRunService(runMgr)
	webSrv.SetStatusProvider(svcMgr)
	webSrv.SetHealthReporter(healthMgr)
	webSrv.SetMetricsProvider(collector)

	// Registration order is start order; shutdown runs in reverse so the API
	// stops accepting requests before active runs are cancelled.
	svcMgr.Register(runMgr)
	svcMgr.Register(retention)
	svcMgr.Register(collector)
	svcMgr.Register(webSrv)

	cfgSvc.Watch(func(ctx context.Context, oldCfg, newCfg *config.Config) error {
		if oldCfg.Model.Path != newCfg.Model.Path || oldCfg.Video.Path != newCfg.Video.Path {
			log.Warn("Model or video changed, restart to apply",
				"model", newCfg.Model.Path,
				"video", newCfg.Video.Path,
			)
		}
		return nil
	})

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Error("Failed to reload configuration", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}
	signal.Stop(sigChan)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
