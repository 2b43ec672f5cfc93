package infra

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"dovecot-keyhandler/config"
	"dovecot-keyhandler/internal/domain"
)

// maxOutputBytes はコマンド出力を保持する上限。
const maxOutputBytes = 4 << 10

// outputExcerptBytes はログに出す出力の上限。
const outputExcerptBytes = 512

// CommandRunner は外部コマンドを実行し、終了コードと出力（stdout+stderr）を返す。
// プロセスが起動できなかった場合などはerrを返す。
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (exitCode int, output []byte, err error)
}

// ExecRunner はos/execによるCommandRunner実装。シェルは経由しない。
type ExecRunner struct{}

// Run はコマンドを実行する。出力はmaxOutputBytesまで保持する。
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (int, []byte, error) {
	out := &boundedBuffer{limit: maxOutputBytes}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, out.Bytes(), fmt.Errorf("command aborted: %w", ctxErr)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.Exited() {
			return exitErr.ExitCode(), out.Bytes(), nil
		}
		return -1, out.Bytes(), err
	}
	return 0, out.Bytes(), nil
}

// boundedBuffer は上限を超えた書き込みを捨てるio.Writer。
// 子プロセスを止めないようWriteは常に成功させる。
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// DoveadmClient はdoas経由でdoveadm mailbox cryptokeyを実行する。
type DoveadmClient struct {
	runner     CommandRunner
	escalation string
	binary     string
	timeout    time.Duration
}

// NewDoveadmClient は設定からDoveadmClientを生成する。
func NewDoveadmClient(cfg *config.Config, runner CommandRunner) *DoveadmClient {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &DoveadmClient{
		runner:     runner,
		escalation: cfg.DoasBin,
		binary:     cfg.DoveadmBin,
		timeout:    cfg.CommandTimeout,
	}
}

// CreateKey はメールボックスの鍵をkeyPassword（Base64）で生成する。
func (c *DoveadmClient) CreateKey(ctx context.Context, email, keyPassword string) (*domain.CommandResult, error) {
	return c.run(ctx, "generate", []string{keyPassword},
		c.binary,
		"-o", "plugin/mail_crypt_private_password="+keyPassword,
		"mailbox", "cryptokey", "generate",
		"-u", email,
		"-U",
	)
}

// RotateKeyPassword はメールボックス鍵のパスワードを変更する。
func (c *DoveadmClient) RotateKeyPassword(ctx context.Context, email, currentKeyPassword, newKeyPassword string) (*domain.CommandResult, error) {
	return c.run(ctx, "password", []string{currentKeyPassword, newKeyPassword},
		c.binary,
		"mailbox", "cryptokey", "password",
		"-u", email,
		"-n", newKeyPassword,
		"-o", currentKeyPassword,
	)
}

// run はバイナリの存在を確認した上でコマンドを1回だけ実行し、結果を分類する。
// 引数にはパスワードが含まれるためログには出さない。出力中のsecretsは伏せる。
func (c *DoveadmClient) run(ctx context.Context, operation string, secrets []string, args ...string) (res *domain.CommandResult, err error) {
	if _, statErr := os.Stat(c.binary); statErr != nil {
		return nil, domain.ErrBinaryMissing
	}

	ctx, span := otel.Tracer("dovecot-keyhandler/doveadm").Start(ctx, "doveadm."+operation)
	defer span.End()
	span.SetAttributes(attribute.String("doveadm.operation", operation))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while running doveadm", "operation", operation, "panic", fmt.Sprint(r))
			span.SetStatus(codes.Error, "panic")
			res, err = nil, domain.ErrInvocationFault
		}
	}()

	start := time.Now()
	exitCode, output, runErr := c.runner.Run(ctx, c.escalation, args...)
	elapsed := time.Since(start)

	if runErr != nil {
		slog.ErrorContext(ctx, "failed to run doveadm",
			"operation", operation,
			"duration_ms", elapsed.Milliseconds(),
			"error", runErr,
		)
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "invocation fault")
		return nil, fmt.Errorf("%w: %v", domain.ErrInvocationFault, runErr)
	}

	span.SetAttributes(attribute.Int("doveadm.exit_code", exitCode))
	if exitCode != 0 {
		slog.ErrorContext(ctx, "doveadm exited with non zero code",
			"operation", operation,
			"exit_code", exitCode,
			"duration_ms", elapsed.Milliseconds(),
			"output_bytes", len(output),
			"output", outputExcerpt(output, secrets),
		)
		span.SetStatus(codes.Error, "non zero exit code")
		return &domain.CommandResult{ExitCode: exitCode, Duration: elapsed}, domain.ErrCommandFailed
	}
	return &domain.CommandResult{ExitCode: 0, Duration: elapsed}, nil
}

// outputExcerpt はログ用に出力を切り詰め、secretsを伏せる。
func outputExcerpt(output []byte, secrets []string) string {
	excerpt := string(output)
	// 長いものから置換し、部分一致で一部だけ残らないようにする
	secrets = slices.Clone(secrets)
	slices.SortFunc(secrets, func(a, b string) int { return len(b) - len(a) })
	for _, secret := range secrets {
		if secret != "" {
			excerpt = strings.ReplaceAll(excerpt, secret, "[REDACTED]")
		}
	}
	if len(excerpt) > outputExcerptBytes {
		excerpt = excerpt[:outputExcerptBytes] + "..."
	}
	return strings.TrimSpace(excerpt)
}
