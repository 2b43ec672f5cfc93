// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"dovecot-keyhandler/internal/domain"
	"dovecot-keyhandler/internal/middleware"
	"dovecot-keyhandler/internal/usecase"
	"dovecot-keyhandler/internal/validation"
	"dovecot-keyhandler/pkg/httputil"
)

// レスポンス本文。既存クライアントが文字列一致で判定するため変更しない。
const (
	bodyDone            = "done"
	bodyWrongPassword   = "error: wrong password"
	bodyBinaryMissing   = "error: doveadm binary location is wrong"
	bodyCommandFailed   = "error: returncode of cmd doveadm is non zero"
	bodyCreateKeyFault  = "error: unkown exception running subprocess"
	bodyChangeKeyFault  = "error: unkonwn exception running subprocess"
	bodyHashDataMissing = "error: data is none"
	bodyHashDataInvalid = "error: validation of data failed"
	bodyHashDataFailed  = "error: hashing failed"
)

// AuditRecorder は監査記録の保存先。
type AuditRecorder interface {
	Create(ctx context.Context, event *domain.AuditEvent) error
}

// KeyHandler はHTTPハンドラを提供する。
type KeyHandler struct {
	service *usecase.KeyService
	audit   AuditRecorder
}

// NewKeyHandler は新しいKeyHandlerを生成する。auditはnilでもよい。
func NewKeyHandler(service *usecase.KeyService, audit AuditRecorder) *KeyHandler {
	return &KeyHandler{service: service, audit: audit}
}

// CreateKey はメールボックスの暗号鍵を生成する。
func (h *KeyHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	form := postForm(r)
	req := &domain.CreateKeyRequest{
		Email:       formField(form, "email", domain.RuleEmail),
		KeyPassword: formField(form, "key_password", domain.RuleKeyPassword),
		Password:    formField(form, "password", domain.RuleAdminPassword),
	}

	err := h.service.CreateKey(r.Context(), req)
	h.respond(w, r, domain.EndpointCreateKey, req.Email.Value, err, bodyCreateKeyFault)
}

// ChangePasswordOnKey はメールボックス鍵のパスワードを変更する。
func (h *KeyHandler) ChangePasswordOnKey(w http.ResponseWriter, r *http.Request) {
	form := postForm(r)
	req := &domain.ChangeKeyPasswordRequest{
		Email:              formField(form, "email", domain.RuleEmail),
		CurrentKeyPassword: formField(form, "current_key_password", domain.RuleKeyPassword),
		NewKeyPassword:     formField(form, "new_key_password", domain.RuleKeyPassword),
		Password:           formField(form, "password", domain.RuleAdminPassword),
	}

	err := h.service.ChangeKeyPassword(r.Context(), req)
	h.respond(w, r, domain.EndpointChangePasswordOnKey, req.Email.Value, err, bodyChangeKeyFault)
}

// HashData は管理者パスワード用のハッシュを返す。
func (h *KeyHandler) HashData(w http.ResponseWriter, r *http.Request) {
	form := postForm(r)
	hash, err := h.service.HashData(r.Context(), formField(form, "data", domain.RuleAdminPassword))

	event := h.newEvent(r, domain.EndpointHashData, "")
	var body string
	var fe *domain.FieldError
	switch {
	case err == nil:
		event.Outcome = domain.OutcomeDone
		body = hash
	case errors.As(err, &fe) && errors.Is(err, domain.ErrMissingField):
		event.Outcome, event.Field = domain.OutcomeMissingField, fe.Field
		body = bodyHashDataMissing
	case errors.As(err, &fe):
		event.Outcome, event.Field = domain.OutcomeInvalidFormat, fe.Field
		body = bodyHashDataInvalid
	default:
		slog.ErrorContext(r.Context(), "failed to hash data", "error", err)
		event.Outcome = domain.OutcomeInvocationFault
		body = bodyHashDataFailed
	}

	h.record(r.Context(), event)
	httputil.Text(w, http.StatusOK, body)
}

// respond はエラーを分類してレスポンス本文と監査記録に変換する。
// 論理エラーも含め常に200を返す。
func (h *KeyHandler) respond(w http.ResponseWriter, r *http.Request, endpoint domain.Endpoint, email string, err error, faultBody string) {
	event := h.newEvent(r, endpoint, email)
	body := classify(err, faultBody, event)

	if errors.Is(err, domain.ErrVerification) {
		slog.ErrorContext(r.Context(), "admin password verification fault", "endpoint", string(endpoint))
	}

	h.record(r.Context(), event)
	httputil.Text(w, http.StatusOK, body)
}

// classify はerrに対応する本文を返し、eventのOutcomeとFieldを設定する。
// 本文にはリクエスト由来の値を含めない。
func classify(err error, faultBody string, event *domain.AuditEvent) string {
	var fe *domain.FieldError
	switch {
	case err == nil:
		event.Outcome = domain.OutcomeDone
		return bodyDone
	case errors.As(err, &fe):
		event.Field = fe.Field
		if errors.Is(err, domain.ErrMissingField) {
			event.Outcome = domain.OutcomeMissingField
			return "error: " + fe.Field + " is none"
		}
		event.Outcome = domain.OutcomeInvalidFormat
		return "error: " + fe.Field + " validation failed"
	case errors.Is(err, domain.ErrWrongPassword), errors.Is(err, domain.ErrVerification):
		event.Outcome = domain.OutcomeWrongPassword
		return bodyWrongPassword
	case errors.Is(err, domain.ErrBinaryMissing):
		event.Outcome = domain.OutcomeBinaryMissing
		return bodyBinaryMissing
	case errors.Is(err, domain.ErrCommandFailed):
		event.Outcome = domain.OutcomeCommandFailed
		return bodyCommandFailed
	default:
		event.Outcome = domain.OutcomeInvocationFault
		return faultBody
	}
}

func (h *KeyHandler) newEvent(r *http.Request, endpoint domain.Endpoint, email string) *domain.AuditEvent {
	// 形式チェックを通らないメールアドレスはログに残さない
	if !validation.IsEmailAllowed(email) {
		email = ""
	}
	return &domain.AuditEvent{
		Endpoint:  endpoint,
		Email:     email,
		RequestID: chimiddleware.GetReqID(r.Context()),
		CreatedAt: time.Now(),
	}
}

// record は監査ログを出力し、保存先があれば永続化する。
// 保存の失敗はレスポンスに影響させない。
func (h *KeyHandler) record(ctx context.Context, event *domain.AuditEvent) {
	middleware.WriteAuditLog(ctx, event)
	if h.audit == nil {
		return
	}
	if err := h.audit.Create(context.WithoutCancel(ctx), event); err != nil {
		slog.WarnContext(ctx, "failed to persist audit event", "endpoint", string(event.Endpoint), "error", err)
	}
}

// postForm はリクエストボディのフォーム値を返す。urlencodedとmultipartの
// 両方を受け付け、解析に失敗した場合は空を返す。
func postForm(r *http.Request) url.Values {
	// ParseMultipartFormは先にParseFormを行うため、multipart以外でもPostFormは埋まる
	err := r.ParseMultipartForm(maxBodyBytes)
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		slog.WarnContext(r.Context(), "failed to parse form", "error", err)
		return url.Values{}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	return r.PostForm
}

// formField はフォーム値を取り出す。キーが無い場合はPresent=falseとなり、
// 空文字列は存在するが形式チェックで拒否される。
func formField(form url.Values, name string, rule domain.Rule) domain.Field {
	values, ok := form[name]
	if !ok || len(values) == 0 {
		return domain.Field{Name: name, Rule: rule}
	}
	return domain.Field{Name: name, Value: values[0], Present: true, Rule: rule}
}
