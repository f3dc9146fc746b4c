package encryption

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	// 生成測試密鑰 (256 bits = 32 bytes)
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey(t)

	testCases := []struct {
		name      string
		plaintext string
	}{
		{"Simple text", "Hello, World!"},
		{"Unicode", "你好世界！🔐"},
		{"Long text", strings.Repeat("This is a long message. ", 100)},
		{"Special chars", "!@#$%^&*()_+-=[]{}|;':\",./<>?"},
		{"Newlines", "Line 1\nLine 2\nLine 3"},
		{"Single byte", "x"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// 測試加密
			blob, err := Encrypt([]byte(tc.plaintext), key)
			if err != nil {
				t.Fatalf("Encryption failed: %v", err)
			}

			// 驗證格式
			if !strings.HasPrefix(blob, "aes256gcm:") {
				t.Errorf("Invalid ciphertext format: missing prefix")
			}

			// 測試解密
			decrypted, err := Decrypt(blob, key)
			if err != nil {
				t.Fatalf("Decryption failed: %v", err)
			}

			// 驗證解密結果逐字節相同
			if string(decrypted) != tc.plaintext {
				t.Errorf("Decryption mismatch.\nWant: %s\nGot: %s", tc.plaintext, decrypted)
			}
		})
	}
}

func TestEncryptNonceUniqueness(t *testing.T) {
	key := testKey(t)

	// 同一明文加密兩次，密文必須不同（nonce 隨機）
	blob1, err := Encrypt([]byte("same plaintext"), key)
	if err != nil {
		t.Fatal(err)
	}
	blob2, err := Encrypt([]byte("same plaintext"), key)
	if err != nil {
		t.Fatal(err)
	}
	if blob1 == blob2 {
		t.Error("two encryptions of the same plaintext produced identical blobs")
	}
}

func TestDecryptFailsClosed(t *testing.T) {
	key := testKey(t)

	blob, err := Encrypt([]byte("sensitive data"), key)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("Tampered ciphertext", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(blob[len("aes256gcm:"):])
		// 翻轉密文的最後一個 byte
		raw[len(raw)-1] ^= 0xFF
		tampered := "aes256gcm:" + base64.StdEncoding.EncodeToString(raw)

		if _, err := Decrypt(tampered, key); err == nil {
			t.Error("expected decryption of tampered blob to fail")
		}
	})

	t.Run("Wrong key", func(t *testing.T) {
		otherKey := testKey(t)
		if _, err := Decrypt(blob, otherKey); err == nil {
			t.Error("expected decryption with wrong key to fail")
		}
	})

	t.Run("Missing prefix", func(t *testing.T) {
		if _, err := Decrypt("not-a-blob", key); err == nil {
			t.Error("expected decryption of malformed blob to fail")
		}
	})

	t.Run("Truncated blob", func(t *testing.T) {
		short := "aes256gcm:" + base64.StdEncoding.EncodeToString([]byte("short"))
		if _, err := Decrypt(short, key); err == nil {
			t.Error("expected decryption of truncated blob to fail")
		}
	})
}

func TestInvalidKeySizes(t *testing.T) {
	testCases := []struct {
		name    string
		keySize int
	}{
		{"128 bits", 16},
		{"192 bits", 24},
		{"384 bits", 48},
		{"Empty", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			key := make([]byte, tc.keySize)
			if _, err := Encrypt([]byte("data"), key); err == nil {
				t.Errorf("expected error for key size %d", tc.keySize)
			}
		})
	}
}

func TestIsEncrypted(t *testing.T) {
	key := testKey(t)
	blob, err := Encrypt([]byte("data"), key)
	if err != nil {
		t.Fatal(err)
	}

	if !IsEncrypted(blob) {
		t.Error("expected IsEncrypted to return true for a valid blob")
	}
	if IsEncrypted("plain text") {
		t.Error("expected IsEncrypted to return false for plain text")
	}
}
