package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dovecot-keyhandler/internal/domain"
	"dovecot-keyhandler/pkg/passhash"
)

// AuthService は共有管理者パスワードの検証を提供する。
type AuthService struct {
	passwordHash string
	delay        time.Duration
	verify       func(encoded, candidate string) (bool, error)
	now          func() time.Time
}

// NewAuthService は新しいAuthServiceを生成する。
// delay は認証試行ごとに最低限かける時間で、成功・失敗を問わず適用される。
func NewAuthService(passwordHash string, delay time.Duration) *AuthService {
	return &AuthService{
		passwordHash: passwordHash,
		delay:        delay,
		verify:       passhash.Verify,
		now:          time.Now,
	}
}

// Authenticate は管理者パスワードを検証する。
// 不一致はErrWrongPassword、検証処理の障害はErrVerificationを返す。
func (s *AuthService) Authenticate(ctx context.Context, password string) error {
	start := s.now()
	defer s.pad(ctx, start)

	ok, err := s.verify(s.passwordHash, password)
	if err != nil {
		if errors.Is(err, passhash.ErrVerification) {
			slog.ErrorContext(ctx, "admin password verification fault", "error", err)
		}
		return domain.ErrVerification
	}
	if !ok {
		return domain.ErrWrongPassword
	}
	return nil
}

// pad はstartからdelayが経過するまで待機する。待機はこのリクエストの
// goroutineだけをブロックする。
func (s *AuthService) pad(ctx context.Context, start time.Time) {
	remaining := s.delay - s.now().Sub(start)
	if remaining <= 0 {
		return
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
