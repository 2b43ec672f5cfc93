// Package passhash はArgon2idによるパスワードハッシュの生成と検証を提供する。
//
// 出力はPHC文字列形式（$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>）で、
// パラメータを含むため単独で検証できる。argon2-cffiが出力するハッシュとも互換。
package passhash

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrVerification は検証処理中の想定外の障害を表す。
var ErrVerification = errors.New("argon2 verification fault")

// Params はArgon2idのパラメータ。
type Params struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultParams はargon2-cffiの既定値に合わせたパラメータ。
var DefaultParams = Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

var b64 = base64.RawStdEncoding

// Hash はDefaultParamsでsecretをハッシュ化する。
func Hash(secret string) (string, error) {
	return HashWithParams(secret, DefaultParams)
}

// HashWithParams は指定パラメータでsecretをハッシュ化する。
func HashWithParams(secret string, p Params) (string, error) {
	if p.Parallelism == 0 || p.Iterations == 0 || p.KeyLength == 0 {
		return "", fmt.Errorf("invalid argon2 params: %+v", p)
	}

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generating salt: %w", err)
	}

	key := argon2.IDKey([]byte(secret), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify はcandidateがencodedと一致するか検証する。
// 不正な形式や別方式のハッシュは不一致（false, nil）として扱い、
// KDF内部のpanicのみErrVerificationとして返す。
func Verify(encoded, candidate string) (ok bool, err error) {
	p, salt, want, perr := decode(encoded)
	if perr != nil {
		return false, nil
	}

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("%w: %v", ErrVerification, r)
		}
	}()

	got := argon2.IDKey([]byte(candidate), salt, p.Iterations, p.Memory, p.Parallelism, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// decode はPHC文字列を分解する。
func decode(encoded string) (Params, []byte, []byte, error) {
	var p Params

	parts := strings.Split(encoded, "$")
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, hash
	if len(parts) != 6 || parts[0] != "" {
		return p, nil, nil, errors.New("malformed hash")
	}
	if parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("unsupported variant %q", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return p, nil, nil, fmt.Errorf("parsing version: %w", err)
	}
	if version != argon2.Version {
		return p, nil, nil, fmt.Errorf("unsupported version %d", version)
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return p, nil, nil, fmt.Errorf("parsing params: %w", err)
	}

	salt, err := b64.Strict().DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return p, nil, nil, errors.New("malformed salt")
	}
	key, err := b64.Strict().DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, errors.New("malformed key")
	}

	p.SaltLength = uint32(len(salt))
	p.KeyLength = uint32(len(key))
	return p, salt, key, nil
}
