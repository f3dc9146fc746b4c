package vault

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/security/audit"
	"vault-gateway/internal/vault/approval"
	"vault-gateway/internal/vault/store"
)

// EventType 領域事件類型
type EventType string

const (
	EventSecretAdded     EventType = "secret_added"
	EventSecretUpdated   EventType = "secret_updated"
	EventSecretDeleted   EventType = "secret_deleted"
	EventApprovalGranted EventType = "approval_granted"
	EventApprovalRevoked EventType = "approval_revoked"
	EventKeyRotated      EventType = "key_rotated"
	EventExportRequested EventType = "export_requested"
)

// Event 領域事件
type Event struct {
	Type      EventType              `json:"type"`
	Key       string                 `json:"key,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Observer 領域事件觀察者
type Observer func(Event)

// Vault 保險庫門面
// 組合秘密存儲、核准控制器與審計日誌，對外提供 HTTP 層消費的全部操作；
// 各組件由呼叫方顯式構造注入，不依賴任何全域狀態
type Vault struct {
	store     *store.Store
	approvals *approval.Controller
	audit     *audit.Log

	mu        sync.RWMutex
	observers []Observer
}

// New 創建保險庫門面
func New(s *store.Store, approvals *approval.Controller, auditLog *audit.Log) *Vault {
	return &Vault{
		store:     s,
		approvals: approvals,
		audit:     auditLog,
	}
}

// OnEvent 註冊領域事件觀察者
// 事件在觸發操作的呼叫線程內同步、按註冊順序分發
func (v *Vault) OnEvent(fn Observer) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observers = append(v.observers, fn)
}

// emit 分發領域事件
func (v *Vault) emit(eventType EventType, key string, details map[string]interface{}) {
	v.mu.RLock()
	observers := make([]Observer, len(v.observers))
	copy(observers, v.observers)
	v.mu.RUnlock()

	event := Event{
		Type:      eventType,
		Key:       key,
		Timestamp: time.Now(),
		Details:   details,
	}
	for _, fn := range observers {
		fn(event)
	}
}

// AddSecret 新增秘密
func (v *Vault) AddSecret(ctx context.Context, key string, value []byte) error {
	if err := v.store.Add(ctx, key, value); err != nil {
		return err
	}
	v.emit(EventSecretAdded, key, nil)
	return nil
}

// GetSecret 讀取秘密明文（受核准把關）
func (v *Vault) GetSecret(ctx context.Context, key string) ([]byte, error) {
	return v.store.Get(ctx, key)
}

// UpdateSecret 更新秘密
func (v *Vault) UpdateSecret(ctx context.Context, key string, value []byte) error {
	if err := v.store.Update(ctx, key, value); err != nil {
		return err
	}
	v.emit(EventSecretUpdated, key, nil)
	return nil
}

// DeleteSecret 刪除秘密
func (v *Vault) DeleteSecret(ctx context.Context, key string) error {
	if err := v.store.Delete(ctx, key); err != nil {
		return err
	}
	v.emit(EventSecretDeleted, key, nil)
	return nil
}

// HasSecret 檢查秘密是否存在
func (v *Vault) HasSecret(key string) bool {
	return v.store.Has(key)
}

// ListSecrets 列出所有鍵名
func (v *Vault) ListSecrets() []string {
	return v.store.List()
}

// GetSecretMetadata 取得秘密元數據
func (v *Vault) GetSecretMetadata(key string) (*store.Metadata, error) {
	return v.store.GetMetadata(key)
}

// GrantApproval 授予核准
// duration 以秒為單位，限制在 1..86400；oneTime 為真時忽略 duration
func (v *Vault) GrantApproval(durationSeconds int, oneTime bool) error {
	if !oneTime {
		if durationSeconds < constants.MinApprovalDuration || durationSeconds > constants.MaxApprovalDuration {
			return fmt.Errorf("%w: duration must be between %d and %d seconds",
				store.ErrValidation, constants.MinApprovalDuration, constants.MaxApprovalDuration)
		}
	}

	v.approvals.Grant(time.Duration(durationSeconds)*time.Second, oneTime)
	v.emit(EventApprovalGranted, "", map[string]interface{}{
		"duration_seconds": durationSeconds,
		"one_time":         oneTime,
	})
	return nil
}

// RevokeApproval 撤銷核准
func (v *Vault) RevokeApproval() {
	v.approvals.Revoke()
	v.emit(EventApprovalRevoked, "", nil)
}

// Lock 鎖定保險庫（撤銷核准的別名，HTTP 層語義）
func (v *Vault) Lock() {
	v.RevokeApproval()
}

// IsApproved 查詢核准狀態
func (v *Vault) IsApproved() bool {
	return v.approvals.IsApproved()
}

// GetApprovalStatus 取得核准狀態快照
func (v *Vault) GetApprovalStatus() approval.Status {
	return v.approvals.Status()
}

// RotateKey 輪換主密鑰（受核准把關）
func (v *Vault) RotateKey(ctx context.Context) error {
	if err := v.store.RotateKey(ctx); err != nil {
		return err
	}
	v.emit(EventKeyRotated, "", map[string]interface{}{
		"secret_count": v.store.Count(),
	})
	return nil
}

// GetMasterKeyHash 主密鑰雜湊
func (v *Vault) GetMasterKeyHash() string {
	return v.store.MasterKeyHash()
}

// Export 導出全部記錄（仍為密文，受核准把關）
func (v *Vault) Export(ctx context.Context) (map[string]*store.SecretRecord, error) {
	records, err := v.store.Export(ctx)
	if err != nil {
		return nil, err
	}
	v.emit(EventExportRequested, "", map[string]interface{}{
		"secret_count": len(records),
	})
	return records, nil
}

// Save 手動持久化
func (v *Vault) Save(ctx context.Context) error {
	return v.store.Save(ctx)
}

// Load 重新載入
func (v *Vault) Load(ctx context.Context) error {
	return v.store.Load(ctx)
}

// GetAuditLog 查詢審計日誌
func (v *Vault) GetAuditLog(filter audit.Filter) []*audit.Entry {
	return v.audit.Entries(filter)
}

// GetSecretCount 秘密數量
func (v *Vault) GetSecretCount() int {
	return v.store.Count()
}

// GetCacheSize 解密快取條目數
func (v *Vault) GetCacheSize() int {
	return v.store.CacheSize()
}

// GetVaultSize 密文總長度（bytes）
func (v *Vault) GetVaultSize() int64 {
	return v.store.VaultSize()
}
