package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"vault-gateway/internal/security/audit"
)

// ErrApprovalRequired 保險庫處於鎖定狀態，讀取前需要核准
var ErrApprovalRequired = errors.New("approval required")

// Status 核准狀態快照
type Status struct {
	Approved  bool       `json:"approved"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"` // nil 表示核准期間無期限
	OneTime   bool       `json:"one_time"`
	GrantedAt *time.Time `json:"granted_at,omitempty"`
}

// Controller 核准狀態機
// 兩個狀態：Locked（approved=false）與 Unlocked（approved=true，帶期限/一次性標記）。
// 整個保險庫進程只存在一個實例，秘密讀取與密鑰輪換只能經由它的狀態轉換變為可能。
type Controller struct {
	mu          sync.Mutex
	approved    bool
	expiresAt   *time.Time
	oneTime     bool
	grantedAt   *time.Time
	expiryTimer *time.Timer
	timerGen    uint64 // 遞增代數，讓被取代的舊計時器失效
	audit       *audit.Log
	onRevoke    []func()
}

// NewController 創建核准控制器（初始為 Locked）
func NewController(auditLog *audit.Log) *Controller {
	return &Controller{
		audit: auditLog,
	}
}

// OnRevoke 註冊撤銷回調（如清空解密快取）
// 回調在每次 Unlocked → Locked 轉換後同步執行
func (c *Controller) OnRevoke(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRevoke = append(c.onRevoke, fn)
}

// Grant 授予核准：Locked 或 Unlocked → Unlocked
// duration 與 oneTime 只有一個有意義：一次性核准在首次成功使用時被消耗，
// 不受牆鐘期限約束；帶時長的核准會武裝一個自動撤銷計時器。
// 先取消任何先前武裝的計時器，同一時間最多只有一個計時器待命。
func (c *Controller) Grant(duration time.Duration, oneTime bool) {
	c.mu.Lock()

	c.cancelTimerLocked()

	now := time.Now()
	c.approved = true
	c.oneTime = oneTime
	c.grantedAt = &now
	c.expiresAt = nil

	if !oneTime && duration > 0 {
		deadline := now.Add(duration)
		c.expiresAt = &deadline

		// 捕獲代數，舊計時器醒來時若已被取代則不做任何事
		gen := c.timerGen
		c.expiryTimer = time.AfterFunc(duration, func() {
			c.expireTimer(gen)
		})
	}

	c.mu.Unlock()

	if c.audit != nil {
		c.audit.Record(context.Background(), audit.EventVaultUnlocked, true,
			audit.WithDetails(map[string]interface{}{
				"one_time":         oneTime,
				"duration_seconds": int(duration.Seconds()),
			}))
	}
}

// Revoke 撤銷核准：Unlocked → Locked（從 Locked 呼叫為冪等操作）
func (c *Controller) Revoke() {
	c.mu.Lock()
	changed, callbacks := c.revokeLocked()
	c.mu.Unlock()

	c.afterRevoke(changed, callbacks, "revoked")
}

// IsApproved 查詢核准狀態，惰性評估期限
// 若 expiresAt 已過，先轉換到 Locked 再回答；重複查詢不會消耗一次性核准
func (c *Controller) IsApproved() bool {
	c.mu.Lock()
	changed, callbacks := c.lazyExpireLocked()
	approved := c.approved
	c.mu.Unlock()

	c.afterRevoke(changed, callbacks, "expired")
	return approved
}

// ConsumeOneTime 消耗一次性核准
// 僅在一次 *成功* 的讀取之後由存儲層呼叫；若當前核准為一次性則立即撤銷
func (c *Controller) ConsumeOneTime() bool {
	c.mu.Lock()
	if !c.approved || !c.oneTime {
		c.mu.Unlock()
		return false
	}
	changed, callbacks := c.revokeLocked()
	c.mu.Unlock()

	c.afterRevoke(changed, callbacks, "one-time grant consumed")
	return true
}

// Status 取得狀態快照（先惰性評估期限）
func (c *Controller) Status() Status {
	c.mu.Lock()
	changed, callbacks := c.lazyExpireLocked()
	s := Status{
		Approved:  c.approved,
		OneTime:   c.oneTime,
		GrantedAt: c.grantedAt,
		ExpiresAt: c.expiresAt,
	}
	c.mu.Unlock()

	c.afterRevoke(changed, callbacks, "expired")
	return s
}

// lazyExpireLocked 期限已過時就地轉換到 Locked（呼叫方須持有鎖）
func (c *Controller) lazyExpireLocked() (bool, []func()) {
	if c.approved && c.expiresAt != nil && !time.Now().Before(*c.expiresAt) {
		return c.revokeLocked()
	}
	return false, nil
}

// revokeLocked 執行實際的撤銷轉換（呼叫方須持有鎖）
// 回傳是否發生轉換以及要在鎖外執行的回調
func (c *Controller) revokeLocked() (bool, []func()) {
	c.cancelTimerLocked()

	if !c.approved {
		return false, nil
	}

	c.approved = false
	c.oneTime = false
	c.expiresAt = nil
	c.grantedAt = nil

	callbacks := make([]func(), len(c.onRevoke))
	copy(callbacks, c.onRevoke)
	return true, callbacks
}

// cancelTimerLocked 取消待命的期限計時器（呼叫方須持有鎖）
func (c *Controller) cancelTimerLocked() {
	c.timerGen++
	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}
}

// expireTimer 計時器觸發的自動撤銷
func (c *Controller) expireTimer(gen uint64) {
	c.mu.Lock()
	// 計時器已被後續的 Grant/Revoke 取代
	if gen != c.timerGen {
		c.mu.Unlock()
		return
	}
	changed, callbacks := c.revokeLocked()
	c.mu.Unlock()

	c.afterRevoke(changed, callbacks, "expired")
}

// afterRevoke 在鎖外執行撤銷回調並記錄審計
func (c *Controller) afterRevoke(changed bool, callbacks []func(), reason string) {
	if !changed {
		return
	}
	for _, fn := range callbacks {
		fn()
	}
	if c.audit != nil {
		c.audit.Record(context.Background(), audit.EventVaultLocked, true,
			audit.WithReason(reason))
	}
}
