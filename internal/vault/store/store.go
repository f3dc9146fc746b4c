package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/platform/logger"
	"vault-gateway/internal/security/audit"
	"vault-gateway/internal/security/encryption"
	"vault-gateway/internal/vault/approval"
)

// Options 秘密存儲配置
type Options struct {
	Dir      string        // 保險庫目錄
	AutoSave bool          // 每次變更後自動持久化
	CacheTTL time.Duration // 解密快取有效期（0 使用默認 60 秒）
}

// Store 秘密存儲
// 加密落盤的記錄表；讀取受核准控制器把關，寫入不需要核准
type Store struct {
	mu        sync.RWMutex
	secrets   map[string]*SecretRecord
	masterKey []byte
	cache     *decryptedCache
	persist   *persister
	approvals *approval.Controller
	audit     *audit.Log
	autoSave  bool
}

// New 創建秘密存儲
// 載入（或生成）主密鑰後載入記錄表；記錄表缺失或損壞時以空表啟動，不視為致命錯誤
func New(opts Options, approvals *approval.Controller, auditLog *audit.Log) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: vault dir is required", ErrValidation)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = constants.DefaultCacheTTL * time.Second
	}

	p := newPersister(opts.Dir)
	if err := p.ensureDirs(); err != nil {
		return nil, err
	}

	masterKey, err := p.loadOrCreateMasterKey()
	if err != nil {
		return nil, err
	}

	secrets, err := p.loadSecrets()
	if err != nil {
		// 非致命：降級為空存儲
		logger.Warningf(context.Background(), "載入秘密檔案失敗，以空存儲啟動: %v", err)
	}

	s := &Store{
		secrets:   secrets,
		masterKey: masterKey,
		cache:     newDecryptedCache(ttl),
		persist:   p,
		approvals: approvals,
		audit:     auditLog,
		autoSave:  opts.AutoSave,
	}

	// 任何撤銷（含過期與一次性消耗）都清空解密快取
	if approvals != nil {
		approvals.OnRevoke(s.cache.clear)
	}

	return s, nil
}

// Add 新增秘密
func (s *Store) Add(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.masterKey) == 0 {
		return ErrNotInitialized
	}
	if _, exists := s.secrets[key]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, key)
	}

	blob, err := encryption.Encrypt(value, s.masterKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	now := time.Now()
	s.secrets[key] = &SecretRecord{
		Key:        key,
		Ciphertext: blob,
		CreatedAt:  now,
		ModifiedAt: now,
	}

	if err := s.autoSaveLocked(); err != nil {
		return err
	}

	s.audit.Record(ctx, audit.EventSecretAdded, true, audit.WithKey(key))
	return nil
}

// Get 讀取秘密明文
// 核准控制器回報未核准時以 ErrApprovalRequired 失敗；成功讀取後若當前核准為
// 一次性則立即撤銷（單次使用語義綁定在讀取成功上，而非請求接收上）
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	if !s.approvals.IsApproved() {
		s.audit.Record(ctx, audit.EventAccessDenied, false,
			audit.WithKey(key), audit.WithReason("approval required"))
		return nil, approval.ErrApprovalRequired
	}

	value, err := s.readSecret(key)
	if err != nil {
		return nil, err
	}

	// 一次性核准在讀取成功後消耗（會經由撤銷回調清空快取）
	s.approvals.ConsumeOneTime()

	s.audit.Record(ctx, audit.EventAccessGranted, true, audit.WithKey(key))
	return value, nil
}

// readSecret 解密並回傳秘密值，優先使用未過期的快取
func (s *Store) readSecret(key string) ([]byte, error) {
	if value, ok := s.cache.get(key); ok {
		s.stampAccessed(key)
		return value, nil
	}

	s.mu.Lock()
	rec, exists := s.secrets[key]
	if !exists {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	blob := rec.Ciphertext
	now := time.Now()
	rec.AccessedAt = &now
	s.mu.Unlock()

	value, err := encryption.Decrypt(blob, s.masterKey)
	if err != nil {
		// 解密失敗必須 fail closed，絕不回傳部分明文
		return nil, fmt.Errorf("failed to decrypt secret %s: %w", key, err)
	}

	s.cache.put(key, value)
	return value, nil
}

// stampAccessed 更新存取時間戳
func (s *Store) stampAccessed(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, exists := s.secrets[key]; exists {
		now := time.Now()
		rec.AccessedAt = &now
	}
}

// Update 更新秘密值
func (s *Store) Update(ctx context.Context, key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	s.mu.Lock()
	rec, exists := s.secrets[key]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	blob, err := encryption.Encrypt(value, s.masterKey)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	rec.Ciphertext = blob
	rec.ModifiedAt = time.Now()

	if err := s.autoSaveLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	// 舊明文的快取條目立即失效
	s.cache.invalidate(key)

	s.audit.Record(ctx, audit.EventSecretUpdated, true, audit.WithKey(key))
	return nil
}

// Delete 刪除秘密
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	if _, exists := s.secrets[key]; !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(s.secrets, key)

	if err := s.autoSaveLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.cache.invalidate(key)

	s.audit.Record(ctx, audit.EventSecretDeleted, true, audit.WithKey(key))
	return nil
}

// List 列出所有鍵名（排序後），不需要核准
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.secrets))
	for key := range s.secrets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Has 檢查秘密是否存在，不需要核准
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.secrets[key]
	return exists
}

// GetMetadata 取得秘密元數據（不含明文），不需要核准
func (s *Store) GetMetadata(key string) (*Metadata, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.secrets[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return metadataOf(rec), nil
}

// RotateKey 輪換主密鑰
// 概念上全有或全無：先把每筆記錄用舊密鑰解密、新密鑰重加密，全部成功後
// 才替換記憶體中的記錄表並落盤；任何一筆解密失敗則整個操作不提交
func (s *Store) RotateKey(ctx context.Context) error {
	if !s.approvals.IsApproved() {
		s.audit.Record(ctx, audit.EventKeyRotated, false,
			audit.WithReason("approval required"))
		return approval.ErrApprovalRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.masterKey) == 0 {
		return ErrNotInitialized
	}

	// 輪換前建立檔案備份
	backupPath, err := s.persist.backupSecrets(s.secrets)
	if err != nil {
		return err
	}

	// 生成新主密鑰
	newKey := make([]byte, constants.MasterKeyLength)
	if _, err := rand.Read(newKey); err != nil {
		return fmt.Errorf("failed to generate new master key: %w", err)
	}

	// 全部重加密到暫存表，任何一筆失敗都不得部分提交
	now := time.Now()
	staged := make(map[string]*SecretRecord, len(s.secrets))
	for key, rec := range s.secrets {
		plaintext, err := encryption.Decrypt(rec.Ciphertext, s.masterKey)
		if err != nil {
			return fmt.Errorf("rotation aborted, failed to decrypt %s: %w", key, err)
		}

		blob, err := encryption.Encrypt(plaintext, newKey)
		zeroBytes(plaintext)
		if err != nil {
			return fmt.Errorf("rotation aborted, failed to re-encrypt %s: %w", key, err)
		}

		rotated := *rec
		rotated.Ciphertext = blob
		rotated.RotatedAt = &now
		staged[key] = &rotated
	}

	// 全部成功後才替換並持久化
	s.secrets = staged
	s.masterKey = newKey

	if err := s.persist.saveMasterKey(newKey); err != nil {
		return err
	}
	if err := s.persist.saveSecrets(s.secrets); err != nil {
		return err
	}

	s.cache.clear()

	s.audit.Record(ctx, audit.EventKeyRotated, true,
		audit.WithDetails(map[string]interface{}{
			"secret_count": len(s.secrets),
			"backup":       backupPath,
		}))
	logger.Info(ctx, "主密鑰輪換完成", logger.WithDetails(map[string]interface{}{
		"secret_count": len(s.secrets),
	}))
	return nil
}

// Export 導出全部記錄（仍為密文）
// 與讀取一樣受核准把關
func (s *Store) Export(ctx context.Context) (map[string]*SecretRecord, error) {
	if !s.approvals.IsApproved() {
		s.audit.Record(ctx, audit.EventExportRequested, false,
			audit.WithReason("approval required"))
		return nil, approval.ErrApprovalRequired
	}

	s.mu.RLock()
	result := make(map[string]*SecretRecord, len(s.secrets))
	for key, rec := range s.secrets {
		copied := *rec
		result[key] = &copied
	}
	s.mu.RUnlock()

	s.audit.Record(ctx, audit.EventExportRequested, true,
		audit.WithDetails(map[string]interface{}{"secret_count": len(result)}))
	return result, nil
}

// Save 手動持久化記錄表
func (s *Store) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist.saveSecrets(s.secrets)
}

// Load 重新載入記錄表
// 載入失敗降級為空存儲，錯誤只記錄不傳播
func (s *Store) Load(ctx context.Context) error {
	secrets, err := s.persist.loadSecrets()
	if err != nil {
		logger.Warningf(ctx, "重新載入秘密檔案失敗，以空存儲繼續: %v", err)
	}

	s.mu.Lock()
	s.secrets = secrets
	s.mu.Unlock()

	s.cache.clear()
	return nil
}

// MasterKeyHash 主密鑰的 SHA-256 雜湊（hex），用於輪換前後的驗證
func (s *Store) MasterKeyHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := sha256.Sum256(s.masterKey)
	return hex.EncodeToString(sum[:])
}

// Count 秘密數量
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

// CacheSize 當前解密快取條目數
func (s *Store) CacheSize() int {
	return s.cache.size()
}

// VaultSize 所有密文的總長度（bytes）
func (s *Store) VaultSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, rec := range s.secrets {
		total += int64(len(rec.Ciphertext))
	}
	return total
}

// autoSaveLocked 啟用自動保存時持久化（呼叫方須持有寫鎖）
func (s *Store) autoSaveLocked() error {
	if !s.autoSave {
		return nil
	}
	return s.persist.saveSecrets(s.secrets)
}
