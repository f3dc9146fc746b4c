package notify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/security/encryption"
)

// HKDF info 標籤，簽名與載荷加密各自派生獨立密鑰
const (
	signingKeyInfo = "vault-gateway/channel/signing"
	payloadKeyInfo = "vault-gateway/channel/payload"
)

// channelSecurity 通道訊息的簽名驗證、重放防護與載荷加密
// 簽名密鑰與加密密鑰由共享秘密經 HKDF 派生，互不重用
type channelSecurity struct {
	signingKey []byte
	payloadKey []byte

	seenNonces map[string]struct{}
	maxNonces  int
	staleAfter time.Duration
}

// newChannelSecurity 從共享秘密派生通道密鑰
// signing 或 encryption 任一啟用時 secret 不得為空
func newChannelSecurity(secret string, signing, encryption bool) (*channelSecurity, error) {
	cs := &channelSecurity{
		seenNonces: make(map[string]struct{}),
		maxNonces:  constants.MaxSeenNonces,
		staleAfter: constants.MessageStaleAfterSeconds * time.Second,
	}

	if !signing && !encryption {
		return cs, nil
	}
	if secret == "" {
		return nil, fmt.Errorf("channel secret is required when signing or encryption is enabled")
	}

	if signing {
		key, err := deriveKey(secret, signingKeyInfo)
		if err != nil {
			return nil, err
		}
		cs.signingKey = key
	}
	if encryption {
		key, err := deriveKey(secret, payloadKeyInfo)
		if err != nil {
			return nil, err
		}
		cs.payloadKey = key
	}
	return cs, nil
}

// deriveKey HKDF-SHA256 派生 32 bytes 密鑰
func deriveKey(secret, info string) ([]byte, error) {
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(info))
	key := make([]byte, constants.MasterKeyLength)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive channel key: %w", err)
	}
	return key, nil
}

func (cs *channelSecurity) signingEnabled() bool {
	return cs.signingKey != nil
}

func (cs *channelSecurity) encryptionEnabled() bool {
	return cs.payloadKey != nil
}

// sign HMAC-SHA256 簽名，hex 編碼
func (cs *channelSecurity) sign(payload string) string {
	mac := hmac.New(sha256.New, cs.signingKey)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify 常數時間驗證簽名
func (cs *channelSecurity) verify(payload, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, cs.signingKey)
	mac.Write([]byte(payload))
	return hmac.Equal(got, mac.Sum(nil))
}

// checkReplay 記錄 nonce，重複出現回傳 false
// 集合達到上限時整體清空重建；防護窗口因此是近似的
func (cs *channelSecurity) checkReplay(nonce string) bool {
	if _, seen := cs.seenNonces[nonce]; seen {
		return false
	}
	if len(cs.seenNonces) >= cs.maxNonces {
		cs.seenNonces = make(map[string]struct{})
	}
	cs.seenNonces[nonce] = struct{}{}
	return true
}

// isStale 時間戳超過容許窗口（含時鐘偏移的未來訊息也算過期）
func (cs *channelSecurity) isStale(unixTimestamp int64) bool {
	age := time.Since(time.Unix(unixTimestamp, 0))
	if age < 0 {
		age = -age
	}
	return age > cs.staleAfter
}

// encryptBody 加密信封正文
func (cs *channelSecurity) encryptBody(body string) (string, error) {
	return encryption.Encrypt([]byte(body), cs.payloadKey)
}

// decryptBody 解密信封正文
func (cs *channelSecurity) decryptBody(blob string) (string, error) {
	plaintext, err := encryption.Decrypt(blob, cs.payloadKey)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func (cs *channelSecurity) nonceCount() int {
	return len(cs.seenNonces)
}
