package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gomaillist/gml/internal/api"
	"github.com/gomaillist/gml/internal/config"
	"github.com/gomaillist/gml/internal/logger"
	"github.com/gomaillist/gml/internal/metrics"
	"github.com/gomaillist/gml/internal/storage"
	"github.com/gomaillist/gml/internal/watcher"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	var (
		configPath = flag.String("c", "gml.yml", "配置文件路径")
		version    = flag.Bool("version", false, "显示版本信息")
	)
	flag.Parse()

	if *version {
		fmt.Printf("gml version %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger.Init(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Msg("GoMailList 启动")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化存储
	var storageDriver storage.Driver
	if cfg.Storage.Driver == "sqlite" {
		storageDriver, err = storage.NewSQLiteDriver(cfg.Storage.DSN)
		if err != nil {
			log.Fatal().Err(err).Msg("初始化存储失败")
		}
		defer storageDriver.Close()
	} else {
		log.Fatal().Str("driver", cfg.Storage.Driver).Msg("不支持的存储驱动")
	}

	// 指标导出器供看守进程和指标服务器共用
	var exporter *metrics.Exporter
	if cfg.Metrics.Enabled {
		exporter = metrics.NewExporter()

		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, exporter.Handler())

		metricsServer := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second, // 防止 Slowloris 攻击
		}

		go func() {
			log.Info().Int("port", cfg.Metrics.Port).Str("path", cfg.Metrics.Path).Msg("指标服务器启动")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("指标服务器错误")
			}
		}()
	}

	// 创建看守进程管理器
	supervisor := watcher.NewSupervisor(watcher.SupervisorConfig{
		Storage:     storageDriver,
		Metrics:     exporter,
		IMAPServer:  cfg.IMAP.Server,
		IMAPPort:    cfg.IMAP.Port,
		KeepAlive:   time.Duration(cfg.IMAP.KeepAlive) * time.Second,
		SMTPServer:  cfg.SMTP.Server,
		SMTPPort:    cfg.SMTP.Port,
		HelloName:   cfg.SMTP.HelloName,
		SendTimeout: time.Duration(cfg.SMTP.SendTimeout) * time.Second,
	})

	// 启动 API 服务器
	apiServer := api.NewServer(&api.Config{
		Port:      cfg.API.Port,
		JWTSecret: cfg.API.JWTSecret,
		JWTIssuer: cfg.API.JWTIssuer,
		Storage:   storageDriver,
		Watchers:  supervisor,
	})

	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("API 服务器启动失败")
		}
	}()

	log.Info().Msg("所有服务已启动")

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("收到退出信号")
	case <-ctx.Done():
		log.Info().Msg("上下文取消")
	}

	// 先停外部入口，再停看守进程
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("关闭 API 服务器失败")
	}
	supervisor.StopAll()

	log.Info().Msg("GoMailList 关闭")
}
