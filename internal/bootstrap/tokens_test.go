package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vault-gateway/internal/security/audit"
)

// newTestManager 建立指向臨時目錄的測試管理器
func newTestManager(t *testing.T, cfg Config) *Manager {
	t.Helper()

	m, err := NewManager(t.TempDir(), cfg, audit.NewLog(100, true))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	return m
}

func TestPairingTokenOneTimeUse(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	token, expiresAt, err := m.GeneratePairingToken()
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Error("pairing token already expired at issue time")
	}

	result, err := m.Validate(ctx, token)
	if err != nil {
		t.Fatalf("first validation failed: %v", err)
	}
	if !result.Valid || result.Kind != KindPairing {
		t.Errorf("unexpected result: %+v", result)
	}

	// 第二次提交同一 token 必須失敗
	if _, err := m.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken on reuse, got %v", err)
	}
}

func TestPairingTokenExpires(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{PairingTokenLifetime: 20 * time.Millisecond})

	token, _, err := m.GeneratePairingToken()
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := m.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired pairing token, got %v", err)
	}
}

// TestStartupTokenRotation 啟動 token 用後即換：舊的作廢，結果攜帶新 token
func TestStartupTokenRotation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewManager(dir, Config{}, audit.NewLog(100, true))
	if err != nil {
		t.Fatal(err)
	}

	token, err := m.GenerateStartupToken(ctx)
	if err != nil {
		t.Fatal(err)
	}

	result, err := m.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if result.Kind != KindStartup {
		t.Fatalf("expected startup kind, got %s", result.Kind)
	}
	if result.RotatedToken == "" || result.RotatedToken == token {
		t.Fatal("rotation did not issue a replacement token")
	}
	if result.UnlockDuration <= 0 {
		t.Error("startup validation should carry an unlock duration")
	}

	// 舊 token 作廢
	if _, err := m.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for consumed startup token, got %v", err)
	}

	// 頂替的新 token 有效，且持久化在磁盤上
	data, err := os.ReadFile(filepath.Join(dir, "startup.token"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(data)) != result.RotatedToken {
		t.Error("persisted startup token does not match the rotated token")
	}

	result2, err := m.Validate(ctx, result.RotatedToken)
	if err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
	if result2.Kind != KindStartup {
		t.Errorf("unexpected kind: %s", result2.Kind)
	}
}

// TestStartupTokenSurvivesRestart 啟動 token 重啟後仍然有效
func TestStartupTokenSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	auditLog := audit.NewLog(100, true)

	m1, err := NewManager(dir, Config{}, auditLog)
	if err != nil {
		t.Fatal(err)
	}
	token, err := m1.GenerateStartupToken(ctx)
	if err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(dir, Config{}, auditLog)
	if err != nil {
		t.Fatal(err)
	}
	if !m2.HasStartupToken() {
		t.Fatal("startup token not loaded after restart")
	}

	result, err := m2.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validation after restart failed: %v", err)
	}
	if result.Kind != KindStartup {
		t.Errorf("unexpected kind: %s", result.Kind)
	}
}

func TestRecoveryCodes(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	codes, err := m.GenerateRecoveryCodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 10 {
		t.Fatalf("expected 10 recovery codes, got %d", len(codes))
	}
	for _, code := range codes {
		if !recoveryCodePattern.MatchString(code) {
			t.Errorf("code %q does not match XXXX-XXXX-XXXX format", code)
		}
	}
	if m.RemainingRecoveryCodes() != 10 {
		t.Errorf("expected 10 remaining codes, got %d", m.RemainingRecoveryCodes())
	}

	result, err := m.Validate(ctx, codes[3])
	if err != nil {
		t.Fatalf("recovery validation failed: %v", err)
	}
	if result.Kind != KindRecovery {
		t.Fatalf("expected recovery kind, got %s", result.Kind)
	}
	if result.UnlockDuration <= 0 {
		t.Error("recovery validation should carry an unlock duration")
	}
	if m.RemainingRecoveryCodes() != 9 {
		t.Errorf("expected 9 remaining codes, got %d", m.RemainingRecoveryCodes())
	}

	// 同一恢復碼不能用第二次
	if _, err := m.Validate(ctx, codes[3]); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken on code reuse, got %v", err)
	}

	// 其他碼不受影響
	if _, err := m.Validate(ctx, codes[7]); err != nil {
		t.Errorf("unrelated code rejected: %v", err)
	}
}

// TestRecoveryCodeCountFromConfig 恢復碼批量大小跟隨配置
func TestRecoveryCodeCountFromConfig(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{RecoveryCodeCount: 4})

	codes, err := m.GenerateRecoveryCodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(codes) != 4 {
		t.Fatalf("expected 4 recovery codes, got %d", len(codes))
	}
	if m.RemainingRecoveryCodes() != 4 {
		t.Errorf("expected 4 remaining codes, got %d", m.RemainingRecoveryCodes())
	}
}

// TestValidateKindRestriction 指定種類時只匹配該種類的憑證
func TestValidateKindRestriction(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	token, err := m.GenerateStartupToken(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// 種類不符時拒絕，且啟動 token 不被消耗（不輪換）
	if _, err := m.Validate(ctx, token, KindPairing); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for kind mismatch, got %v", err)
	}
	if _, err := m.Validate(ctx, token, KindRecovery); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for kind mismatch, got %v", err)
	}

	result, err := m.Validate(ctx, token, KindStartup)
	if err != nil {
		t.Fatalf("validation with matching kind failed: %v", err)
	}
	if result.Kind != KindStartup {
		t.Errorf("unexpected kind: %s", result.Kind)
	}

	// 未知種類直接拒絕
	if _, err := m.Validate(ctx, result.RotatedToken, Kind("bogus")); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for unknown kind, got %v", err)
	}
}

// TestRecoveryCodeUseSurvivesRestart 已用恢復碼重啟後仍然作廢
func TestRecoveryCodeUseSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	auditLog := audit.NewLog(100, true)

	m1, err := NewManager(dir, Config{}, auditLog)
	if err != nil {
		t.Fatal(err)
	}
	codes, err := m1.GenerateRecoveryCodes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m1.Validate(ctx, codes[0]); err != nil {
		t.Fatal(err)
	}

	m2, err := NewManager(dir, Config{}, auditLog)
	if err != nil {
		t.Fatal(err)
	}
	if m2.RemainingRecoveryCodes() != 9 {
		t.Errorf("expected 9 remaining codes after restart, got %d", m2.RemainingRecoveryCodes())
	}
	if _, err := m2.Validate(ctx, codes[0]); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("used code accepted after restart: %v", err)
	}
	if _, err := m2.Validate(ctx, codes[1]); err != nil {
		t.Errorf("unused code rejected after restart: %v", err)
	}
}

// TestRecoveryCodeCaseInsensitive 恢復碼提交時大小寫不敏感
func TestRecoveryCodeCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	codes, err := m.GenerateRecoveryCodes(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Validate(ctx, strings.ToLower(codes[0])); err != nil {
		t.Errorf("lowercase recovery code rejected: %v", err)
	}
}

func TestInvalidTokens(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{})

	testCases := []struct {
		name  string
		token string
	}{
		{"Empty", ""},
		{"Whitespace", "   "},
		{"Random string", "not-a-real-token"},
		{"Recovery format but unknown", "AAAA-BBBB-CCCC"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := m.Validate(ctx, tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
