package bootstrap

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"vault-gateway/internal/platform/logger"
)

// 恢復碼派生參數
const (
	recoveryPBKDF2Iterations = 4096
	recoveryHashLength       = 32
	recoverySaltLength       = 16
	recoveryStoreVersion     = 1
)

// 恢復碼字符集，排除易混淆的 0/O/1/I
const recoveryCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// recoveryCodePattern 恢復碼格式: XXXX-XXXX-XXXX
var recoveryCodePattern = regexp.MustCompile(`^[A-Z2-9]{4}-[A-Z2-9]{4}-[A-Z2-9]{4}$`)

// recoveryEntry 單個恢復碼的持久化形態（只存鹽與雜湊，明文不落盤）
type recoveryEntry struct {
	Salt   string     `json:"salt"`
	Hash   string     `json:"hash"`
	Used   bool       `json:"used"`
	UsedAt *time.Time `json:"usedAt,omitempty"`
}

// recoveryStore recovery.json 的文件格式
type recoveryStore struct {
	Version     int              `json:"version"`
	GeneratedAt time.Time        `json:"generatedAt"`
	Codes       []*recoveryEntry `json:"codes"`
}

// loadRecoveryStore 載入恢復碼文件（不存在時回傳空存儲）
func loadRecoveryStore(path string) (*recoveryStore, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &recoveryStore{Version: recoveryStoreVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read recovery codes: %w", err)
	}

	var store recoveryStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("failed to parse recovery codes: %w", err)
	}
	return &store, nil
}

// GenerateRecoveryCodes 生成一批新的恢復碼並持久化（頂替舊的一批）
// 明文只在回傳值中出現一次，磁盤上只保留鹽與 PBKDF2 雜湊
func (m *Manager) GenerateRecoveryCodes(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.cfg.RecoveryCodeCount
	codes := make([]string, 0, count)
	entries := make([]*recoveryEntry, 0, count)

	for i := 0; i < count; i++ {
		code, err := randomRecoveryCode()
		if err != nil {
			return nil, err
		}

		salt := make([]byte, recoverySaltLength)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}

		entries = append(entries, &recoveryEntry{
			Salt: base64.StdEncoding.EncodeToString(salt),
			Hash: base64.StdEncoding.EncodeToString(hashRecoveryCode(code, salt)),
		})
		codes = append(codes, code)
	}

	store := &recoveryStore{
		Version:     recoveryStoreVersion,
		GeneratedAt: time.Now(),
		Codes:       entries,
	}
	if err := m.saveRecoveryStoreLocked(store); err != nil {
		return nil, err
	}
	m.recoveryCodes = store

	logger.Info(ctx, "recovery codes generated",
		logger.WithDetails(map[string]interface{}{"count": count}))
	return codes, nil
}

// validateRecoveryLocked 匹配未使用的恢復碼，命中即標記已用並持久化
func (m *Manager) validateRecoveryLocked(token string) (*ValidationResult, error) {
	code := strings.ToUpper(strings.TrimSpace(token))
	if !recoveryCodePattern.MatchString(code) {
		return nil, nil
	}

	for _, entry := range m.recoveryCodes.Codes {
		if entry.Used {
			continue
		}
		salt, err := base64.StdEncoding.DecodeString(entry.Salt)
		if err != nil {
			continue
		}
		want, err := base64.StdEncoding.DecodeString(entry.Hash)
		if err != nil {
			continue
		}
		if subtle.ConstantTimeCompare(hashRecoveryCode(code, salt), want) != 1 {
			continue
		}

		now := time.Now()
		entry.Used = true
		entry.UsedAt = &now
		if err := m.saveRecoveryStoreLocked(m.recoveryCodes); err != nil {
			// 標記回滾，下次還能用；寧可拒絕也不讓單次碼變多次
			entry.Used = false
			entry.UsedAt = nil
			return nil, err
		}

		return &ValidationResult{
			Valid:          true,
			Kind:           KindRecovery,
			UnlockDuration: m.cfg.RecoveryUnlockDuration,
		}, nil
	}
	return nil, nil
}

// RemainingRecoveryCodes 尚未使用的恢復碼數量
func (m *Manager) RemainingRecoveryCodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := 0
	for _, entry := range m.recoveryCodes.Codes {
		if !entry.Used {
			remaining++
		}
	}
	return remaining
}

// saveRecoveryStoreLocked 原子寫入 recovery.json
func (m *Manager) saveRecoveryStoreLocked(store *recoveryStore) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal recovery codes: %w", err)
	}
	path := m.recoveryPath()
	if err := writeFileAtomic(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to persist recovery codes: %w", err)
	}
	return nil
}

func (m *Manager) recoveryPath() string {
	return filepath.Join(m.dir, recoveryFile)
}

// hashRecoveryCode PBKDF2-SHA256 派生恢復碼雜湊
func hashRecoveryCode(code string, salt []byte) []byte {
	return pbkdf2.Key([]byte(code), salt, recoveryPBKDF2Iterations, recoveryHashLength, sha256.New)
}

// randomRecoveryCode 生成 XXXX-XXXX-XXXX 格式的恢復碼
func randomRecoveryCode() (string, error) {
	groups := make([]string, 3)
	max := big.NewInt(int64(len(recoveryCharset)))

	for g := range groups {
		chars := make([]byte, 4)
		for i := range chars {
			n, err := rand.Int(rand.Reader, max)
			if err != nil {
				return "", fmt.Errorf("failed to generate recovery code: %w", err)
			}
			chars[i] = recoveryCharset[n.Int64()]
		}
		groups[g] = string(chars)
	}
	return strings.Join(groups, "-"), nil
}
