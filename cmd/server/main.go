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

	"github.com/koopa0/flight-relay/internal"
)

func main() {
	// 解析命令行參數
	var (
		port      = flag.Int("port", 8080, "服務器端口")
		logLevel  = flag.String("log-level", "info", "日誌級別 (debug, info, warn, error)")
		logFormat = flag.String("log-format", "text", "日誌格式 (text, json)")
	)
	flag.Parse()

	// 設置日誌
	logger := setupLogger(*logLevel, *logFormat)

	// 創建遊戲目錄
	manager := internal.NewManager(logger)

	// 創建 WebSocket 接入層
	hub := internal.NewHub(manager, logger)

	// 唯一入口：根路徑的 WebSocket 升級，協議全部走訊息分發
	mux := http.NewServeMux()
	mux.HandleFunc("/", hub.ServeWS)

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", *port),
		Handler:     mux,
		IdleTimeout: 60 * time.Second,
	}

	// 啟動服務器
	go func() {
		logger.Info("多人遊戲中繼服務器啟動",
			"port", *port,
			"log_level", *logLevel,
			"log_format", *logFormat)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// 綁定失敗是唯一致命路徑
			logger.Error("服務器啟動失敗", "error", err)
			os.Exit(1)
		}
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("收到關閉信號，開始優雅關閉...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("服務器關閉失敗", "error", err)
	}

	manager.Stop()

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
		AddSource: level == "debug",
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
