// Package main はAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"dovecot-keyhandler/config"
	"dovecot-keyhandler/internal/handler"
	"dovecot-keyhandler/internal/infra"
	"dovecot-keyhandler/internal/repository"
	"dovecot-keyhandler/internal/usecase"
)

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	tp, err := infra.InitTracer(ctx, cfg)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	if tp != nil {
		defer func() {
			if err := tp.Shutdown(ctx); err != nil {
				slog.Error("failed to shutdown tracer", "error", err)
			}
		}()
	}

	// トレース情報付きロガーを設定
	infra.SetupLogger(os.Stdout, cfg)

	// 監査DB（任意）
	var audit handler.AuditRecorder
	if cfg.AuditDatabaseURL != "" {
		db, err := infra.NewDB(cfg.AuditDatabaseURL, cfg)
		if err != nil {
			slog.Error("failed to init audit database", "error", err)
			os.Exit(1)
		}
		audit = repository.NewAuditRepository(db)
	} else {
		slog.Info("AUDIT_DATABASE_URL is not set, audit events are only logged")
	}

	if _, err := os.Stat(cfg.DoveadmBin); err != nil {
		slog.Warn("doveadm binary not found, requests will fail until it exists", "path", cfg.DoveadmBin)
	}

	// DI
	auth := usecase.NewAuthService(cfg.PasswordHash, cfg.AuthDelay)
	doveadm := infra.NewDoveadmClient(cfg, nil)
	service := usecase.NewKeyService(auth, doveadm)
	h := handler.NewKeyHandler(service, audit)
	router := handler.NewRouter(h, cfg)

	// サーバー起動
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, cfg.CommandTimeout+cfg.AuthDelay)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server", "port", cfg.Port, "hash_endpoint", cfg.EnableHashEndpoint, "audit_db", audit != nil)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
