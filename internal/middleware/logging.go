// Package middleware はHTTPミドルウェアと監査ログを提供する。
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"dovecot-keyhandler/internal/domain"
)

// WriteAuditLog は監査ログを出力する。失敗はError、成功はDebugレベル。
// パスワード類やdoveadmの引数は出力しない。
func WriteAuditLog(ctx context.Context, event *domain.AuditEvent) {
	level := slog.LevelError
	if event.Outcome.Succeeded() {
		level = slog.LevelDebug
	}

	attrs := []any{
		"endpoint", string(event.Endpoint),
		"email", event.Email,
		"outcome", string(event.Outcome),
		"request_id", event.RequestID,
		"timestamp", event.CreatedAt.UTC().Format(time.RFC3339),
	}
	if event.Field != "" {
		attrs = append(attrs, "field", event.Field)
	}
	slog.Log(ctx, level, "key operation completed", attrs...)
}

// LimitBody はリクエストボディの最大サイズを制限する。
func LimitBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// AccessLog はアクセスログをslogで出力する。
// クエリ文字列に秘密情報が含まれ得るため、記録するのはパスのみ。
func AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			slog.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
