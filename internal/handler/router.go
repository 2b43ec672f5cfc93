package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dovecot-keyhandler/config"
	"dovecot-keyhandler/internal/middleware"
	"dovecot-keyhandler/pkg/httputil"
)

// maxBodyBytes はフォームボディの上限。
const maxBodyBytes = 64 << 10

// NewRouter はルーターを生成する。POST以外は405を返す。
func NewRouter(h *KeyHandler, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	// ミドルウェア
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.LimitBody(maxBodyBytes))

	r.MethodNotAllowed(httputil.MethodNotAllowed)

	// ルート定義
	r.Post("/create_key", h.CreateKey)
	r.Post("/change_password_on_key", h.ChangePasswordOnKey)
	if cfg.EnableHashEndpoint {
		r.Post("/hash_data", h.HashData)
	}

	if cfg.OtelEnabled {
		return otelhttp.NewHandler(r, "dovecot-keyhandler")
	}
	return r
}
