// Package httputil はHTTPレスポンス生成のユーティリティを提供する。
package httputil

import (
	"io"
	"log/slog"
	"net/http"
)

// Text はプレーンテキストのレスポンスを返す。
func Text(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		// ヘッダーは送信済みのためログのみ
		slog.Warn("failed to write response body", "error", err)
	}
}

// MethodNotAllowed は405を返す。リクエストボディは読まない。
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	Text(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
}
