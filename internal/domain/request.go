// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import "time"

// Rule はフィールドに適用する検証ルール名。validatorのタグとして登録される。
type Rule string

const (
	RuleEmail         Rule = "mailbox_email"
	RuleKeyPassword   Rule = "key_password"
	RuleAdminPassword Rule = "admin_password"
)

// Field はフォームから取り出した1つの入力値を表す。
type Field struct {
	Name    string
	Value   string
	Present bool
	Rule    Rule
}

// CreateKeyRequest はメールボックス鍵生成リクエストを表す。
type CreateKeyRequest struct {
	Email       Field
	KeyPassword Field // Base64
	Password    Field // 管理者パスワード
}

// Fields は宣言順（検証順）にフィールドを返す。
func (r *CreateKeyRequest) Fields() []Field {
	return []Field{r.Email, r.KeyPassword, r.Password}
}

// ChangeKeyPasswordRequest は鍵パスワード変更リクエストを表す。
type ChangeKeyPasswordRequest struct {
	Email              Field
	CurrentKeyPassword Field // Base64
	NewKeyPassword     Field // Base64
	Password           Field // 管理者パスワード
}

// Fields は宣言順（検証順）にフィールドを返す。
func (r *ChangeKeyPasswordRequest) Fields() []Field {
	return []Field{r.Email, r.CurrentKeyPassword, r.NewKeyPassword, r.Password}
}

// CommandResult はdoveadmの実行結果を表す。
type CommandResult struct {
	ExitCode int
	Duration time.Duration
}
