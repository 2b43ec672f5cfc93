// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"dovecot-keyhandler/internal/domain"
	"dovecot-keyhandler/internal/validation"
	"dovecot-keyhandler/pkg/passhash"
)

// Authenticator は管理者パスワード検証のインターフェース。
type Authenticator interface {
	Authenticate(ctx context.Context, password string) error
}

// KeyInvoker はメールボックス鍵を操作する特権コマンドのインターフェース。
type KeyInvoker interface {
	CreateKey(ctx context.Context, email, keyPassword string) (*domain.CommandResult, error)
	RotateKeyPassword(ctx context.Context, email, currentKeyPassword, newKeyPassword string) (*domain.CommandResult, error)
}

// KeyService は鍵操作リクエストの検証・認証・実行を提供する。
type KeyService struct {
	validate *validator.Validate
	auth     Authenticator
	invoker  KeyInvoker
}

// NewKeyService は新しいKeyServiceを生成する。
func NewKeyService(auth Authenticator, invoker KeyInvoker) *KeyService {
	return &KeyService{
		validate: validation.New(),
		auth:     auth,
		invoker:  invoker,
	}
}

// CreateKey はメールボックスに新しい暗号鍵を生成する。
func (s *KeyService) CreateKey(ctx context.Context, req *domain.CreateKeyRequest) error {
	return s.run(ctx, domain.EndpointCreateKey, req.Fields(), req.Password.Value, func(ctx context.Context) error {
		_, err := s.invoker.CreateKey(ctx, req.Email.Value, req.KeyPassword.Value)
		return err
	})
}

// ChangeKeyPassword はメールボックス鍵のパスワードを変更する。
func (s *KeyService) ChangeKeyPassword(ctx context.Context, req *domain.ChangeKeyPasswordRequest) error {
	return s.run(ctx, domain.EndpointChangePasswordOnKey, req.Fields(), req.Password.Value, func(ctx context.Context) error {
		_, err := s.invoker.RotateKeyPassword(ctx, req.Email.Value, req.CurrentKeyPassword.Value, req.NewKeyPassword.Value)
		return err
	})
}

// HashData は管理者パスワード用のArgon2idハッシュを生成する。
func (s *KeyService) HashData(ctx context.Context, data domain.Field) (string, error) {
	if err := s.check([]domain.Field{data}); err != nil {
		return "", err
	}
	hash, err := passhash.Hash(data.Value)
	if err != nil {
		return "", fmt.Errorf("hashing data: %w", err)
	}
	return hash, nil
}

// run は両エンドポイント共通の処理順序を実装する。
// 存在確認 → 形式チェック → 認証 → コマンド実行 の順で、最初の失敗で打ち切る。
func (s *KeyService) run(ctx context.Context, endpoint domain.Endpoint, fields []domain.Field, password string, invoke func(context.Context) error) error {
	ctx, span := otel.Tracer("dovecot-keyhandler/usecase").Start(ctx, string(endpoint))
	defer span.End()

	if err := s.check(fields); err != nil {
		span.SetAttributes(attribute.String("keyhandler.rejected", err.Error()))
		return err
	}

	if err := s.auth.Authenticate(ctx, password); err != nil {
		return err
	}

	return invoke(ctx)
}

// check は全フィールドの存在を確認した後、宣言順に形式チェックを行う。
func (s *KeyService) check(fields []domain.Field) error {
	for _, f := range fields {
		if !f.Present {
			return &domain.FieldError{Field: f.Name, Err: domain.ErrMissingField}
		}
	}
	for _, f := range fields {
		if err := s.validate.Var(f.Value, string(f.Rule)); err != nil {
			return &domain.FieldError{Field: f.Name, Err: domain.ErrInvalidFormat}
		}
	}
	return nil
}
