// Package validation はフォーム入力の許可リスト方式による形式チェックを提供する。
//
// ここでの判定は純粋に構文的なもので、doveadm呼び出しへのインジェクションを
// 防ぐことが目的である。曖昧な入力はすべて拒否する。
package validation

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"dovecot-keyhandler/internal/domain"
)

const (
	maxEmailLength    = 254
	minPasswordLength = 1
	maxPasswordLength = 256
	maxBase64Length   = 1024
	maxPadding        = 2
)

// IsEmailAllowed はメールアドレスが保守的な文法に合致するか判定する。
func IsEmailAllowed(s string) bool {
	if s == "" || len(s) > maxEmailLength {
		return false
	}

	local, host, ok := strings.Cut(s, "@")
	if !ok || strings.Contains(host, "@") {
		return false
	}
	if !labelsAllowed(local) || !labelsAllowed(host) {
		return false
	}

	// ドメインは最低2ラベル、TLDは2文字以上
	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	return len(labels[len(labels)-1]) >= 2
}

// labelsAllowed はドット区切りの各ラベルが [A-Za-z0-9-] のみで構成され、
// 空ラベル・先頭末尾のハイフン・連続ハイフンを含まないことを確認する。
func labelsAllowed(part string) bool {
	if part == "" {
		return false
	}
	for _, label := range strings.Split(part, ".") {
		if label == "" {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' || strings.Contains(label, "--") {
			return false
		}
		for i := 0; i < len(label); i++ {
			if !isAlnum(label[i]) && label[i] != '-' {
				return false
			}
		}
	}
	return true
}

// IsPasswordAllowed は管理者パスワードが許可文字のみで構成されるか判定する。
// '=' は末尾のパディングとしてのみ許可する。
func IsPasswordAllowed(s string) bool {
	if len(s) < minPasswordLength || len(s) > maxPasswordLength {
		return false
	}
	body := trimPadding(s)
	if body == "" {
		return false
	}
	return base64Body(body)
}

// IsBase64Allowed はBase64アルファベットと末尾0〜2個の '=' のみで構成され、
// 長さが4の倍数であるか判定する。
func IsBase64Allowed(s string) bool {
	if s == "" || len(s) > maxBase64Length || len(s)%4 != 0 {
		return false
	}
	body := trimPadding(s)
	if body == "" {
		return false
	}
	return base64Body(body)
}

func trimPadding(s string) string {
	for i := 0; i < maxPadding && strings.HasSuffix(s, "="); i++ {
		s = s[:len(s)-1]
	}
	return s
}

func base64Body(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isAlnum(c) && c != '+' && c != '/' {
			return false
		}
	}
	return true
}

func isAlnum(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}

// New は各ルールをタグとして登録したvalidatorを返す。
func New() *validator.Validate {
	v := validator.New()
	register(v, domain.RuleEmail, IsEmailAllowed)
	register(v, domain.RuleKeyPassword, IsBase64Allowed)
	register(v, domain.RuleAdminPassword, IsPasswordAllowed)
	return v
}

func register(v *validator.Validate, rule domain.Rule, allowed func(string) bool) {
	err := v.RegisterValidation(string(rule), func(fl validator.FieldLevel) bool {
		return allowed(fl.Field().String())
	}, true)
	if err != nil {
		// タグ名は定数なので登録失敗はプログラミングエラー
		panic(err)
	}
}
