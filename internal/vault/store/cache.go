package store

import (
	"sync"
	"time"
)

// decryptedCache 解密快取
// SecretRecord 的短命投影：只存在於記憶體，任何核准撤銷（含過期與一次性消耗）
// 都會整個清空，限制明文在記憶體中的存活時間
type decryptedCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	plaintext []byte
	cachedAt  time.Time
}

func newDecryptedCache(ttl time.Duration) *decryptedCache {
	return &decryptedCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

// get 取得未過期的快取明文（回傳副本）
func (c *decryptedCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Since(entry.cachedAt) >= c.ttl {
		// 過期條目就地清除
		zeroBytes(entry.plaintext)
		delete(c.entries, key)
		return nil, false
	}

	value := make([]byte, len(entry.plaintext))
	copy(value, entry.plaintext)
	return value, true
}

// put 寫入快取（保存副本）
func (c *decryptedCache) put(key string, plaintext []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value := make([]byte, len(plaintext))
	copy(value, plaintext)
	c.entries[key] = &cacheEntry{
		plaintext: value,
		cachedAt:  time.Now(),
	}
}

// invalidate 移除單一鍵的快取
func (c *decryptedCache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[key]; ok {
		zeroBytes(entry.plaintext)
		delete(c.entries, key)
	}
}

// clear 清空整個快取
func (c *decryptedCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		zeroBytes(entry.plaintext)
		delete(c.entries, key)
	}
}

// size 當前快取條目數
func (c *decryptedCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// zeroBytes 清零緩衝區（安全增強）
func zeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
