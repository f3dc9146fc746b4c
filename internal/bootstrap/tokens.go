package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/platform/logger"
	"vault-gateway/internal/security/audit"
)

// ErrInvalidToken 提交的 token 不匹配任何已知憑證
var ErrInvalidToken = errors.New("invalid bootstrap token")

// 磁盤文件名（相對保險庫目錄）
const (
	startupTokenFile = "startup.token"
	recoveryFile     = "recovery.json"
)

// Kind 憑證種類
type Kind string

const (
	KindPairing  Kind = "pairing"
	KindStartup  Kind = "startup"
	KindRecovery Kind = "recovery"
)

// Config 啟動引導配置
type Config struct {
	PairingTokenLifetime   time.Duration
	StartupTokenLifetime   time.Duration
	StartupUnlockDuration  time.Duration // 啟動 token 驗證成功後授予的核准時長
	RecoveryUnlockDuration time.Duration // 恢復碼驗證成功後授予的核准時長
	RecoveryCodeCount      int           // 一批恢復碼的數量
}

// ValidationResult 憑證驗證結果
// 啟動 token 用後即換，RotatedToken 攜帶頂替的新 token，呼叫方必須保存
type ValidationResult struct {
	Valid          bool          `json:"valid"`
	Kind           Kind          `json:"kind,omitempty"`
	RotatedToken   string        `json:"rotatedToken,omitempty"`
	UnlockDuration time.Duration `json:"-"`
}

// Manager 啟動引導憑證管理器
// 配對 token 只存內存（重啟即失效）；啟動 token 與恢復碼持久化在保險庫目錄
type Manager struct {
	mu  sync.Mutex
	dir string
	cfg Config

	pairing       map[string]time.Time // token → 過期時間
	startupToken  string
	startupIssued time.Time
	recoveryCodes *recoveryStore
	audit         *audit.Log
}

// NewManager 創建管理器並載入磁盤上的既有憑證
func NewManager(dir string, cfg Config, auditLog *audit.Log) (*Manager, error) {
	if cfg.PairingTokenLifetime <= 0 {
		cfg.PairingTokenLifetime = constants.DefaultPairingTokenLifetimeMin * time.Minute
	}
	if cfg.StartupTokenLifetime <= 0 {
		cfg.StartupTokenLifetime = constants.DefaultStartupTokenLifetimeHours * time.Hour
	}
	if cfg.StartupUnlockDuration <= 0 {
		cfg.StartupUnlockDuration = constants.DefaultStartupUnlockDuration * time.Second
	}
	if cfg.RecoveryUnlockDuration <= 0 {
		cfg.RecoveryUnlockDuration = constants.DefaultRecoveryUnlockDuration * time.Second
	}
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = constants.DefaultRecoveryCodeCount
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create bootstrap dir: %w", err)
	}

	m := &Manager{
		dir:     dir,
		cfg:     cfg,
		pairing: make(map[string]time.Time),
		audit:   auditLog,
	}

	if err := m.loadStartupToken(); err != nil {
		return nil, err
	}
	codes, err := loadRecoveryStore(filepath.Join(dir, recoveryFile))
	if err != nil {
		return nil, err
	}
	m.recoveryCodes = codes

	return m, nil
}

// GeneratePairingToken 生成一次性配對 token
// 只存內存，有效期內未使用即作廢；生成時順帶清理已過期的舊 token
func (m *Manager) GeneratePairingToken() (string, time.Time, error) {
	token, err := randomToken()
	if err != nil {
		return "", time.Time{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for t, exp := range m.pairing {
		if now.After(exp) {
			delete(m.pairing, t)
		}
	}

	expiresAt := now.Add(m.cfg.PairingTokenLifetime)
	m.pairing[token] = expiresAt
	return token, expiresAt, nil
}

// GenerateStartupToken 生成新的啟動 token 並持久化（頂替舊的）
func (m *Manager) GenerateStartupToken(ctx context.Context) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.saveStartupTokenLocked(token); err != nil {
		return "", err
	}

	logger.Info(ctx, "startup token generated")
	return token, nil
}

// Validate 驗證一個憑證
// 未指定種類時依次嘗試：配對 token → 啟動 token → 恢復碼；
// 指定種類時只匹配該種類。全部不匹配回傳 ErrInvalidToken
func (m *Manager) Validate(ctx context.Context, token string, kind ...Kind) (*ValidationResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	var want Kind
	if len(kind) > 0 {
		want = kind[0]
		switch want {
		case "", KindPairing, KindStartup, KindRecovery:
		default:
			return nil, fmt.Errorf("%w: unknown token kind %q", ErrInvalidToken, want)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if want == "" || want == KindPairing {
		if result := m.validatePairingLocked(token); result != nil {
			m.auditValidation(ctx, result.Kind, true)
			return result, nil
		}
	}

	if want == "" || want == KindStartup {
		result, err := m.validateStartupLocked(token)
		if err != nil {
			return nil, err
		}
		if result != nil {
			m.auditValidation(ctx, result.Kind, true)
			return result, nil
		}
	}

	if want == "" || want == KindRecovery {
		result, err := m.validateRecoveryLocked(token)
		if err != nil {
			return nil, err
		}
		if result != nil {
			m.auditValidation(ctx, result.Kind, true)
			return result, nil
		}
	}

	m.auditValidation(ctx, "", false)
	return nil, ErrInvalidToken
}

// validatePairingLocked 配對 token 精確匹配，命中即銷毀（一次性）
func (m *Manager) validatePairingLocked(token string) *ValidationResult {
	expiresAt, ok := m.pairing[token]
	if !ok {
		return nil
	}
	delete(m.pairing, token)
	if time.Now().After(expiresAt) {
		return nil
	}
	return &ValidationResult{Valid: true, Kind: KindPairing}
}

// validateStartupLocked 啟動 token 常數時間比較，命中後輪換
func (m *Manager) validateStartupLocked(token string) (*ValidationResult, error) {
	if m.startupToken == "" {
		return nil, nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(m.startupToken)) != 1 {
		return nil, nil
	}
	if time.Now().After(m.startupIssued.Add(m.cfg.StartupTokenLifetime)) {
		return nil, nil
	}

	// 用後即換：生成頂替 token 並持久化，新 token 隨結果帶回
	replacement, err := randomToken()
	if err != nil {
		return nil, err
	}
	if err := m.saveStartupTokenLocked(replacement); err != nil {
		return nil, err
	}

	return &ValidationResult{
		Valid:          true,
		Kind:           KindStartup,
		RotatedToken:   replacement,
		UnlockDuration: m.cfg.StartupUnlockDuration,
	}, nil
}

// auditValidation 記錄一次憑證驗證
func (m *Manager) auditValidation(ctx context.Context, kind Kind, success bool) {
	if m.audit == nil {
		return
	}
	eventType := audit.EventAccessDenied
	reason := "invalid bootstrap token"
	if success {
		eventType = audit.EventVaultUnlocked
		reason = fmt.Sprintf("bootstrap token accepted: %s", kind)
	}
	m.audit.Record(ctx, eventType, success, audit.WithReason(reason))
}

// loadStartupToken 從磁盤載入啟動 token（文件不存在不算錯）
func (m *Manager) loadStartupToken() error {
	path := filepath.Join(m.dir, startupTokenFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read startup token: %w", err)
	}
	m.startupToken = strings.TrimSpace(string(data))

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat startup token: %w", err)
	}
	m.startupIssued = info.ModTime()
	return nil
}

// saveStartupTokenLocked 原子寫入啟動 token
func (m *Manager) saveStartupTokenLocked(token string) error {
	path := filepath.Join(m.dir, startupTokenFile)
	if err := writeFileAtomic(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("failed to persist startup token: %w", err)
	}
	m.startupToken = token
	m.startupIssued = time.Now()
	return nil
}

// HasStartupToken 是否已配置啟動 token
func (m *Manager) HasStartupToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startupToken != ""
}

// PendingPairingTokens 未過期的配對 token 數量
func (m *Manager) PendingPairingTokens() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	now := time.Now()
	for _, exp := range m.pairing {
		if now.Before(exp) {
			count++
		}
	}
	return count
}

// randomToken 生成 32 bytes 隨機 token，hex 編碼
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// writeFileAtomic 先寫臨時文件再改名，避免半寫狀態
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
