package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"vault-gateway/internal/constants"
)

// 密文格式: "aes256gcm:" + base64(nonce + authTag + ciphertext)
// GCM 模式特點：
// - 認證加密（AEAD），密文被篡改時解密直接失敗
// - nonce 每次加密隨機生成，同一密鑰下不可重用
// - 密鑰由呼叫方顯式傳入，密鑰輪換時可同時持有新舊兩把密鑰
const (
	blobPrefix = "aes256gcm:"

	// KeySize 密鑰長度（256 bits）
	KeySize = constants.MasterKeyLength
	// NonceSize nonce 長度
	NonceSize = constants.GCMNonceLength
	// TagSize 認證標籤長度
	TagSize = constants.GCMTagLength
)

// Encrypt 加密數據
// 每次呼叫生成新的隨機 nonce，輸出 nonce、認證標籤與密文的組合
func Encrypt(plaintext, key []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("plaintext cannot be empty")
	}

	aead, err := newAEAD(key)
	if err != nil {
		return "", err
	}

	// 生成隨機 nonce
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal 的輸出為 密文 + 認證標籤，重排為 nonce + 標籤 + 密文
	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ciphertext := sealed[:len(sealed)-TagSize]
	tag := sealed[len(sealed)-TagSize:]

	result := make([]byte, 0, NonceSize+TagSize+len(ciphertext))
	result = append(result, nonce...)
	result = append(result, tag...)
	result = append(result, ciphertext...)

	// 使用完後清零臨時緩衝區（安全增強）
	defer func() {
		for i := range sealed {
			sealed[i] = 0
		}
	}()

	return blobPrefix + base64.StdEncoding.EncodeToString(result), nil
}

// Decrypt 解密數據
// 認證標籤驗證失敗或格式錯誤時直接返回錯誤，絕不返回部分明文
func Decrypt(blob string, key []byte) ([]byte, error) {
	if blob == "" {
		return nil, fmt.Errorf("encrypted blob cannot be empty")
	}

	// 檢查格式前綴
	if len(blob) < len(blobPrefix) || blob[:len(blobPrefix)] != blobPrefix {
		return nil, fmt.Errorf("invalid ciphertext format: missing %q prefix", blobPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(blob[len(blobPrefix):])
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	// 至少要有 nonce 和認證標籤
	if len(data) < NonceSize+TagSize {
		return nil, fmt.Errorf("ciphertext too short: must be at least %d bytes", NonceSize+TagSize)
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := data[:NonceSize]
	tag := data[NonceSize : NonceSize+TagSize]
	ciphertext := data[NonceSize+TagSize:]

	// 還原為 Open 期望的 密文 + 標籤 排列
	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}

	return plaintext, nil
}

// IsEncrypted 檢查文本是否為本引擎的密文格式
func IsEncrypted(text string) bool {
	return len(text) >= len(blobPrefix) && text[:len(blobPrefix)] == blobPrefix
}

// newAEAD 創建 AES-256-GCM AEAD 實例
func newAEAD(key []byte) (cipher.AEAD, error) {
	// 驗證密鑰長度必須是 32 bytes (256 bits)
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes (256 bits), got %d bytes", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return aead, nil
}
