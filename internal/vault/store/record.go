package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"vault-gateway/internal/constants"
)

// 錯誤類型
var (
	// ErrValidation 鍵名或值不符合格式/大小限制
	ErrValidation = errors.New("validation failed")
	// ErrNotFound 秘密不存在
	ErrNotFound = errors.New("secret not found")
	// ErrAlreadyExists 重複新增
	ErrAlreadyExists = errors.New("secret already exists")
	// ErrNotInitialized 保險庫尚未初始化（缺少主密鑰）
	ErrNotInitialized = errors.New("vault not initialized")
	// ErrPersistence 讀寫保險庫檔案失敗
	ErrPersistence = errors.New("persistence failure")
)

// SecretRecord 秘密記錄
// Key 為不可變的唯一身份；Ciphertext 為 nonce+authTag+密文 的 base64 封裝
type SecretRecord struct {
	Key        string     `json:"key"`
	Ciphertext string     `json:"ciphertext"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	AccessedAt *time.Time `json:"accessed_at,omitempty"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
}

// Metadata 秘密的元數據（不含任何明文或密文）
type Metadata struct {
	Key        string     `json:"key"`
	CreatedAt  time.Time  `json:"created_at"`
	ModifiedAt time.Time  `json:"modified_at"`
	AccessedAt *time.Time `json:"accessed_at,omitempty"`
	RotatedAt  *time.Time `json:"rotated_at,omitempty"`
	Size       int        `json:"size"` // 密文長度（bytes）
}

// 鍵名限制：字母、數字、底線、連字號，1-255 字元
var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// validateKey 驗證秘密鍵名
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrValidation)
	}
	if len(key) > constants.MaxSecretKeyLength {
		return fmt.Errorf("%w: key exceeds %d characters", ErrValidation, constants.MaxSecretKeyLength)
	}
	// 拒絕路徑穿越字元（鍵名會出現在檔案與日誌中）
	if strings.Contains(key, "..") || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("%w: key contains path traversal characters", ErrValidation)
	}
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("%w: key may only contain letters, digits, '_' and '-'", ErrValidation)
	}
	return nil
}

// validateValue 驗證秘密值
func validateValue(value []byte) error {
	if len(value) == 0 {
		return fmt.Errorf("%w: value cannot be empty", ErrValidation)
	}
	if len(value) > constants.MaxSecretValueSize {
		return fmt.Errorf("%w: value exceeds %d bytes", ErrValidation, constants.MaxSecretValueSize)
	}
	return nil
}

// metadataOf 從記錄導出元數據
func metadataOf(rec *SecretRecord) *Metadata {
	return &Metadata{
		Key:        rec.Key,
		CreatedAt:  rec.CreatedAt,
		ModifiedAt: rec.ModifiedAt,
		AccessedAt: rec.AccessedAt,
		RotatedAt:  rec.RotatedAt,
		Size:       len(rec.Ciphertext),
	}
}
