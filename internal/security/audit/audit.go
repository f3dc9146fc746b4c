package audit

import (
	"context"
	"sync"
	"time"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/platform/logger"

	"github.com/google/uuid"
)

// EventType 審計事件類型
type EventType string

const (
	EventAccessGranted   EventType = "access_granted"
	EventAccessDenied    EventType = "access_denied"
	EventSecretAdded     EventType = "secret_added"
	EventSecretUpdated   EventType = "secret_updated"
	EventSecretDeleted   EventType = "secret_deleted"
	EventKeyRotated      EventType = "key_rotated"
	EventVaultLocked     EventType = "vault_locked"
	EventVaultUnlocked   EventType = "vault_unlocked"
	EventExportRequested EventType = "export_requested"
)

// Entry 審計事件條目
type Entry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	EventType EventType              `json:"event_type"`
	Success   bool                   `json:"success"`
	Key       string                 `json:"key,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Filter 審計日誌查詢條件
type Filter struct {
	EventType EventType // 空值表示不過濾
	Key       string
	Success   *bool
	Since     time.Time
	Limit     int // 0 表示不限制
}

// Log 審計日誌
// 僅保留最近 N 筆的環形緩衝區，超過上限時淘汰最舊的條目
type Log struct {
	mu         sync.RWMutex
	entries    []*Entry
	maxEntries int
	enabled    bool
}

// NewLog 創建審計日誌
func NewLog(maxEntries int, enabled bool) *Log {
	if maxEntries <= 0 {
		maxEntries = constants.DefaultAuditMaxSize
	}
	return &Log{
		entries:    make([]*Entry, 0),
		maxEntries: maxEntries,
		enabled:    enabled,
	}
}

// Option 審計條目選項
type Option func(*Entry)

// WithKey 添加秘密鍵名
func WithKey(key string) Option {
	return func(e *Entry) {
		e.Key = key
	}
}

// WithReason 添加原因
func WithReason(reason string) Option {
	return func(e *Entry) {
		e.Reason = reason
	}
}

// WithIPAddress 添加來源 IP
func WithIPAddress(ip string) Option {
	return func(e *Entry) {
		e.IPAddress = ip
	}
}

// WithUserAgent 添加 User-Agent
func WithUserAgent(ua string) Option {
	return func(e *Entry) {
		e.UserAgent = ua
	}
}

// WithDetails 添加詳細信息
func WithDetails(details map[string]interface{}) Option {
	return func(e *Entry) {
		e.Details = details
	}
}

// Record 記錄一筆審計事件
func (l *Log) Record(ctx context.Context, eventType EventType, success bool, opts ...Option) {
	if !l.enabled {
		return
	}

	entry := &Entry{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		EventType: eventType,
		Success:   success,
	}
	for _, opt := range opts {
		opt(entry)
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	// 淘汰最舊的條目
	if len(l.entries) > l.maxEntries {
		l.entries = l.entries[len(l.entries)-l.maxEntries:]
	}
	l.mu.Unlock()

	// 同步寫入結構化日誌，便於外部蒐集
	logger.Info(ctx, "audit: "+string(eventType),
		logger.WithVaultKey(entry.Key),
		logger.WithAction(string(eventType)),
		logger.WithDetails(map[string]interface{}{
			"audit_id": entry.ID,
			"success":  entry.Success,
			"reason":   entry.Reason,
		}))
}

// Entries 查詢審計日誌（最新的在前）
func (l *Log) Entries(f Filter) []*Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]*Entry, 0)
	// 從最新往回掃
	for i := len(l.entries) - 1; i >= 0; i-- {
		e := l.entries[i]
		if f.EventType != "" && e.EventType != f.EventType {
			continue
		}
		if f.Key != "" && e.Key != f.Key {
			continue
		}
		if f.Success != nil && e.Success != *f.Success {
			continue
		}
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		result = append(result, e)
		if f.Limit > 0 && len(result) >= f.Limit {
			break
		}
	}

	return result
}

// Size 當前保留的條目數
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
