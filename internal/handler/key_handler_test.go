package handler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dovecot-keyhandler/config"
	"dovecot-keyhandler/internal/domain"
	"dovecot-keyhandler/internal/infra"
	"dovecot-keyhandler/internal/usecase"
	"dovecot-keyhandler/pkg/passhash"
)

const adminPassword = "validPassword123"

// mockRunner はdoveadmの実行を置き換える。
type mockRunner struct {
	exitCode int
	err      error
	calls    int
}

func (m *mockRunner) Run(ctx context.Context, name string, args ...string) (int, []byte, error) {
	m.calls++
	return m.exitCode, nil, m.err
}

// mockAuditRecorder は保存された監査記録を保持する。
type mockAuditRecorder struct {
	events []*domain.AuditEvent
	err    error
}

func (m *mockAuditRecorder) Create(ctx context.Context, event *domain.AuditEvent) error {
	m.events = append(m.events, event)
	return m.err
}

type testEnv struct {
	router http.Handler
	runner *mockRunner
	audit  *mockAuditRecorder
}

// fakeBinary はdoveadmの代わりに存在確認だけ通るファイルを作る。
func fakeBinary(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doveadm")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("failed to write fake binary: %v", err)
	}
	return path
}

func setupRouter(t *testing.T, binary string, delay time.Duration, runner *mockRunner) *testEnv {
	t.Helper()

	hash, err := passhash.HashWithParams(adminPassword, passhash.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("failed to hash admin password: %v", err)
	}

	cfg := &config.Config{
		PasswordHash:       hash,
		DoveadmBin:         binary,
		DoasBin:            "/usr/bin/doas",
		CommandTimeout:     5 * time.Second,
		AuthDelay:          delay,
		EnableHashEndpoint: true,
	}

	audit := &mockAuditRecorder{}
	auth := usecase.NewAuthService(cfg.PasswordHash, cfg.AuthDelay)
	client := infra.NewDoveadmClient(cfg, runner)
	h := NewKeyHandler(usecase.NewKeyService(auth, client), audit)

	return &testEnv{router: NewRouter(h, cfg), runner: runner, audit: audit}
}

func post(t *testing.T, router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// postMultipart はフォームをmultipart/form-dataで送信する。
func postMultipart(t *testing.T, router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, values := range form {
		for _, v := range values {
			if err := mw.WriteField(name, v); err != nil {
				t.Fatalf("failed to write field %s: %v", name, err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func assertBody(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Errorf("want status 200, got %d", rec.Code)
	}
	if got := rec.Body.String(); got != want {
		t.Errorf("want body %q, got %q", want, got)
	}
}

func createKeyForm() url.Values {
	return url.Values{
		"email":        {"test@test.se"},
		"key_password": {"validBase64Key=="},
		"password":     {adminPassword},
	}
}

func changePasswordForm() url.Values {
	return url.Values{
		"email":                {"test@test.se"},
		"current_key_password": {"currentValidBase64=="},
		"new_key_password":     {"newValidBase64=="},
		"password":             {adminPassword},
	}
}

func TestCreateKey_MissingFields(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	for _, name := range []string{"email", "key_password", "password"} {
		t.Run(name, func(t *testing.T) {
			form := createKeyForm()
			form.Del(name)
			rec := post(t, env.router, "/create_key", form)
			assertBody(t, rec, "error: "+name+" is none")
		})
	}
	if env.runner.calls != 0 {
		t.Error("doveadm must not run for missing fields")
	}
}

func TestCreateKey_MissingIsReportedBeforeInvalid(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	form := createKeyForm()
	form.Set("email", "te\"st@test.se")
	form.Del("password")

	rec := post(t, env.router, "/create_key", form)
	assertBody(t, rec, "error: password is none")
}

func TestCreateKey_ValidationFailures(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	tests := []struct {
		name  string
		field string
		value string
		want  string
	}{
		{name: "illegal char email", field: "email", value: "te\"st@test.se", want: "error: email validation failed"},
		{name: "empty email", field: "email", value: "", want: "error: email validation failed"},
		{name: "illegal char key_password", field: "key_password", value: "p<assword", want: "error: key_password validation failed"},
		{name: "illegal char password", field: "password", value: ".password", want: "error: password validation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := createKeyForm()
			form.Set(tt.field, tt.value)
			rec := post(t, env.router, "/create_key", form)
			assertBody(t, rec, tt.want)
		})
	}
}

func TestCreateKey_ValidationFailureIsNotDelayed(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), time.Second, &mockRunner{})

	form := createKeyForm()
	form.Set("key_password", "p<assword")

	start := time.Now()
	rec := post(t, env.router, "/create_key", form)
	assertBody(t, rec, "error: key_password validation failed")
	if elapsed := time.Since(start); elapsed >= time.Second {
		t.Errorf("validation failure took %v, must not sleep", elapsed)
	}
}

func TestCreateKey_Success(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{exitCode: 0})

	rec := post(t, env.router, "/create_key", createKeyForm())
	assertBody(t, rec, "done")

	if env.runner.calls != 1 {
		t.Errorf("want 1 doveadm run, got %d", env.runner.calls)
	}
	if len(env.audit.events) != 1 {
		t.Fatalf("want 1 audit event, got %d", len(env.audit.events))
	}
	ev := env.audit.events[0]
	if ev.Outcome != domain.OutcomeDone || ev.Email != "test@test.se" || ev.Endpoint != domain.EndpointCreateKey {
		t.Errorf("unexpected audit event: %+v", ev)
	}
	if ev.RequestID == "" {
		t.Error("request id should be recorded")
	}
}

func TestCreateKey_WrongPassword(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), time.Second, &mockRunner{})

	form := createKeyForm()
	form.Set("password", "adFrd34fd34rFDert4edFTRE")

	start := time.Now()
	rec := post(t, env.router, "/create_key", form)
	elapsed := time.Since(start)

	assertBody(t, rec, "error: wrong password")
	if elapsed < time.Second {
		t.Errorf("wrong password answered after %v, want >= 1s", elapsed)
	}
	if env.runner.calls != 0 {
		t.Error("doveadm must not run after failed authentication")
	}
	if env.audit.events[0].Outcome != domain.OutcomeWrongPassword {
		t.Errorf("unexpected outcome %s", env.audit.events[0].Outcome)
	}
}

func TestCreateKey_BinaryMissing(t *testing.T) {
	env := setupRouter(t, "/nonexistent/path/to/doveadm", 0, &mockRunner{})

	rec := post(t, env.router, "/create_key", createKeyForm())
	assertBody(t, rec, "error: doveadm binary location is wrong")
	if env.runner.calls != 0 {
		t.Error("doveadm must not run when binary is missing")
	}
}

func TestCreateKey_CommandFailed(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{exitCode: 1})

	rec := post(t, env.router, "/create_key", createKeyForm())
	assertBody(t, rec, "error: returncode of cmd doveadm is non zero")
}

func TestCreateKey_InvocationFault(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{exitCode: -1, err: errors.New("unknown error")})

	rec := post(t, env.router, "/create_key", createKeyForm())
	assertBody(t, rec, "error: unkown exception running subprocess")
}

func TestChangePasswordOnKey_Success(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	rec := post(t, env.router, "/change_password_on_key", changePasswordForm())
	assertBody(t, rec, "done")
}

func TestChangePasswordOnKey_Failures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(url.Values)
		runner *mockRunner
		want   string
	}{
		{name: "missing email", mutate: func(f url.Values) { f.Del("email") }, runner: &mockRunner{}, want: "error: email is none"},
		{name: "missing current key password", mutate: func(f url.Values) { f.Del("current_key_password") }, runner: &mockRunner{}, want: "error: current_key_password is none"},
		{name: "missing new key password", mutate: func(f url.Values) { f.Del("new_key_password") }, runner: &mockRunner{}, want: "error: new_key_password is none"},
		{name: "missing password", mutate: func(f url.Values) { f.Del("password") }, runner: &mockRunner{}, want: "error: password is none"},
		{name: "illegal char email", mutate: func(f url.Values) { f.Set("email", "test@te--st.se") }, runner: &mockRunner{}, want: "error: email validation failed"},
		{name: "illegal char current key password", mutate: func(f url.Values) { f.Set("current_key_password", "p<assword") }, runner: &mockRunner{}, want: "error: current_key_password validation failed"},
		{name: "illegal char new key password", mutate: func(f url.Values) { f.Set("new_key_password", "pas%sword") }, runner: &mockRunner{}, want: "error: new_key_password validation failed"},
		{name: "illegal char password", mutate: func(f url.Values) { f.Set("password", "aSdfrGf345fdrtGFrdFR54.2") }, runner: &mockRunner{}, want: "error: password validation failed"},
		{name: "wrong password", mutate: func(f url.Values) { f.Set("password", "A3D4fEf3D3F45gFds23F4gfR") }, runner: &mockRunner{}, want: "error: wrong password"},
		{name: "non zero exit", mutate: func(f url.Values) {}, runner: &mockRunner{exitCode: 1}, want: "error: returncode of cmd doveadm is non zero"},
		{name: "invocation fault", mutate: func(f url.Values) {}, runner: &mockRunner{exitCode: -1, err: errors.New("unknown error")}, want: "error: unkonwn exception running subprocess"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, fakeBinary(t), 0, tt.runner)
			form := changePasswordForm()
			tt.mutate(form)
			rec := post(t, env.router, "/change_password_on_key", form)
			assertBody(t, rec, tt.want)
		})
	}
}

func TestChangePasswordOnKey_BinaryMissing(t *testing.T) {
	env := setupRouter(t, "/nonexistent/path/to/doveadm", 0, &mockRunner{})

	rec := post(t, env.router, "/change_password_on_key", changePasswordForm())
	assertBody(t, rec, "error: doveadm binary location is wrong")
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	for _, path := range []string{"/create_key", "/change_password_on_key", "/hash_data"} {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, path, nil)
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, req)
			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("%s %s: want 405, got %d", method, path, rec.Code)
			}
		}
	}
	if len(env.audit.events) != 0 {
		t.Error("405 responses must not produce audit events")
	}
}

func TestAuditFailureDoesNotChangeResponse(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})
	env.audit.err = errors.New("database is down")

	rec := post(t, env.router, "/create_key", createKeyForm())
	assertBody(t, rec, "done")
}

func TestAuditEvent_InvalidEmailNotRecorded(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	form := createKeyForm()
	form.Set("email", "<script>@test.se")
	rec := post(t, env.router, "/create_key", form)
	assertBody(t, rec, "error: email validation failed")

	ev := env.audit.events[0]
	if ev.Email != "" {
		t.Errorf("invalid email must not be recorded, got %q", ev.Email)
	}
	if ev.Field != "email" || ev.Outcome != domain.OutcomeInvalidFormat {
		t.Errorf("unexpected audit event: %+v", ev)
	}
}

func TestHashData(t *testing.T) {
	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	rec := post(t, env.router, "/hash_data", url.Values{"data": {"validPassword123"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("want status 200, got %d", rec.Code)
	}
	ok, err := passhash.Verify(rec.Body.String(), "validPassword123")
	if err != nil || !ok {
		t.Errorf("returned hash does not verify: %q", rec.Body.String())
	}

	rec = post(t, env.router, "/hash_data", url.Values{})
	assertBody(t, rec, "error: data is none")

	rec = post(t, env.router, "/hash_data", url.Values{"data": {"p<assword"}})
	assertBody(t, rec, "error: validation of data failed")
}

func TestHashData_DisabledByDefault(t *testing.T) {
	h := NewKeyHandler(usecase.NewKeyService(nil, nil), nil)
	router := NewRouter(h, &config.Config{})

	rec := post(t, router, "/hash_data", url.Values{"data": {"validPassword123"}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("want 404 when hash endpoint disabled, got %d", rec.Code)
	}
}

func TestMultipartForm(t *testing.T) {
	t.Run("create key", func(t *testing.T) {
		env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})
		rec := postMultipart(t, env.router, "/create_key", createKeyForm())
		assertBody(t, rec, "done")
		if env.runner.calls != 1 {
			t.Errorf("want 1 doveadm run, got %d", env.runner.calls)
		}
	})

	t.Run("change password", func(t *testing.T) {
		env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})
		rec := postMultipart(t, env.router, "/change_password_on_key", changePasswordForm())
		assertBody(t, rec, "done")
	})

	t.Run("missing field", func(t *testing.T) {
		env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})
		form := createKeyForm()
		form.Del("key_password")
		rec := postMultipart(t, env.router, "/create_key", form)
		assertBody(t, rec, "error: key_password is none")
	})
}

func TestRouter_AccessLogOmitsQueryString(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	env := setupRouter(t, fakeBinary(t), 0, &mockRunner{})

	req := httptest.NewRequest(http.MethodPost, "/create_key?password=queryAdminSecret1", strings.NewReader(createKeyForm().Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assertBody(t, rec, "done")

	if strings.Contains(buf.String(), "queryAdminSecret1") {
		t.Errorf("query string leaked into logs: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"path":"/create_key"`) {
		t.Errorf("access log entry missing: %s", buf.String())
	}
}
