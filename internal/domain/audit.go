package domain

import "time"

// Endpoint は監査対象のエンドポイント名。
type Endpoint string

const (
	EndpointCreateKey           Endpoint = "create_key"
	EndpointChangePasswordOnKey Endpoint = "change_password_on_key"
	EndpointHashData            Endpoint = "hash_data"
)

// Outcome はリクエストの終端状態を表す。
type Outcome string

const (
	OutcomeDone            Outcome = "done"
	OutcomeMissingField    Outcome = "missing_field"
	OutcomeInvalidFormat   Outcome = "invalid_format"
	OutcomeWrongPassword   Outcome = "wrong_password"
	OutcomeBinaryMissing   Outcome = "binary_missing"
	OutcomeCommandFailed   Outcome = "command_failed"
	OutcomeInvocationFault Outcome = "invocation_fault"
)

// Succeeded は成功した終端かどうかを返す。
func (o Outcome) Succeeded() bool {
	return o == OutcomeDone
}

// AuditEvent は1リクエスト分の監査記録。パスワード類は含まない。
type AuditEvent struct {
	ID        string
	Endpoint  Endpoint
	Email     string
	Field     string // 失敗したフィールド名（該当する場合）
	Outcome   Outcome
	RequestID string
	CreatedAt time.Time
}
