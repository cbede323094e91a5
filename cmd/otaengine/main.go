package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bingooyong/ota-engine/internal/api"
	"github.com/bingooyong/ota-engine/internal/config"
	"github.com/bingooyong/ota-engine/internal/engine"
	"github.com/bingooyong/ota-engine/internal/logger"
	"github.com/bingooyong/ota-engine/internal/statemachine"
	"github.com/bingooyong/ota-engine/internal/version"
	"github.com/bingooyong/ota-engine/pkg/database"
	"go.uber.org/zap"
)

var (
	configFile       = flag.String("config", "/etc/ota-engine/engine.yaml", "path to config file")
	embeddedManifest = flag.String("embedded-manifest", "", "manifest of the update shipped with the host binary")
	embeddedDir      = flag.String("embedded-dir", "", "directory holding the embedded update's files (default: manifest directory)")
	showVersion      = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("otaengine " + version.Get().String())
		os.Exit(0)
	}

	// 加载配置
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, level, err := logger.Init(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync() // 忽略日志同步错误，程序退出时无法处理
	}()

	logger.Info("starting ota engine",
		zap.String("config", *configFile),
		zap.String("version", version.Version))

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	e, err := engine.New(cfg, db, log)
	if err != nil {
		log.Fatal("failed to create engine", zap.Error(err))
	}

	if *embeddedManifest != "" {
		if err := registerEmbedded(e, *embeddedManifest, *embeddedDir); err != nil {
			log.Fatal("failed to register embedded update", zap.Error(err))
		}
	}

	// 状态变化写入日志，宿主可替换为自己的观察者
	e.Gateway().Attach(func(s statemachine.Snapshot) error {
		log.Info("update state changed",
			zap.String("event", string(s.Type)),
			zap.String("state", string(s.State)),
			zap.Bool("is_update_available", s.IsUpdateAvailable),
			zap.Bool("is_update_pending", s.IsUpdatePending))
		return nil
	})

	if err := e.Start(); err != nil {
		log.Fatal("failed to start engine", zap.Error(err))
	}

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(&cfg.Server, e, log)
		server.Start()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher := config.NewWatcher(*configFile, func(newCfg *config.Config) {
		level.SetLevel(logger.ParseLevel(newCfg.Log.Level))
		if err := e.ApplyConfig(newCfg); err != nil {
			log.Error("failed to apply config", zap.Error(err))
		}
	}, log)
	if err := watcher.Start(ctx); err != nil {
		log.Warn("config watcher disabled", zap.Error(err))
	}

	waitForSignal(log)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("control API shutdown failed", zap.Error(err))
		}
		shutdownCancel()
	}
	e.Close()

	logger.Info("ota engine exited")
}

// registerEmbedded 登记随宿主发布的更新，文件按 key+扩展名 在目录中查找
func registerEmbedded(e *engine.Engine, manifestPath, dir string) error {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read embedded manifest: %w", err)
	}
	if dir == "" {
		dir = filepath.Dir(manifestPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	_, err = e.RegisterEmbedded(ctx, raw, os.DirFS(dir))
	return err
}

func waitForSignal(log *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal", zap.String("signal", sig.String()))
}

