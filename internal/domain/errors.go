package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingField は必須フィールドがリクエストに含まれない場合のエラー。
	ErrMissingField = errors.New("field is missing")

	// ErrInvalidFormat はフィールドが形式チェックに通らない場合のエラー。
	ErrInvalidFormat = errors.New("field validation failed")

	// ErrWrongPassword は管理者パスワードがハッシュと一致しない場合のエラー。
	ErrWrongPassword = errors.New("wrong password")

	// ErrVerification はパスワード検証処理そのものが失敗した場合のエラー。
	ErrVerification = errors.New("password verification error")

	// ErrBinaryMissing は設定されたdoveadmバイナリが存在しない場合のエラー。
	ErrBinaryMissing = errors.New("doveadm binary location is wrong")

	// ErrCommandFailed はdoveadmが実行されたが非ゼロで終了した場合のエラー。
	ErrCommandFailed = errors.New("doveadm returned non zero exit code")

	// ErrInvocationFault はdoveadmを起動できない、またはタイムアウトした場合のエラー。
	ErrInvocationFault = errors.New("doveadm invocation fault")

	// ErrMigrationFailed はマイグレーション実行時のエラー。
	ErrMigrationFailed = errors.New("migration failed")

	// ErrInvalidMigrationFile はマイグレーションファイルのフォーマットが不正な場合のエラー。
	ErrInvalidMigrationFile = errors.New("invalid migration file")
)

// FieldError はどのフォームフィールドで失敗したかを保持する。
type FieldError struct {
	Field string
	Err   error // ErrMissingField または ErrInvalidFormat
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}
