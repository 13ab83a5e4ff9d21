package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koopa0/box-relay/internal"
)

func main() {
	// 解析命令行參數（覆蓋配置檔）
	var (
		configPath = flag.String("config", "config.yaml", "配置檔路徑")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 載入配置
	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		config.Server.Port = *port
	}
	if *logLevel != "" {
		config.Log.Level = *logLevel
	}
	if *logFormat != "" {
		config.Log.Format = *logFormat
	}

	// 設置日誌
	logger := setupLogger(config.Log.Level, config.Log.Format)

	// 創建房間註冊表
	registry := internal.NewRegistry(config.Room.OverflowPrefix, logger)

	// 創建事件投遞器
	router := internal.NewRouter(registry, logger)

	// 創建 WebSocket Hub
	hub := internal.NewHub(registry, router, logger)

	// 創建 HTTP 處理器
	handler := internal.NewHandler(registry, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("/ws/game/{room_name}", hub.ServeWS)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Server.Port),
		Handler:      mux,
		ReadTimeout:  config.Server.ReadTimeout.Std(),
		WriteTimeout: config.Server.WriteTimeout.Std(),
		IdleTimeout:  config.Server.IdleTimeout.Std(),
	}

	// 啟動服務器
	go func() {
		logger.Info("配對服務器啟動",
			"port", config.Server.Port,
			"overflow_prefix", config.Room.OverflowPrefix,
			"log_level", config.Log.Level,
			"log_format", config.Log.Format)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	// 優雅關閉
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	// 停止 WebSocket Hub
	hub.Stop()

	logger.Info("服務器已關閉")
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
