package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/platform/logger"
	"vault-gateway/internal/platform/metrics"
)

// ErrTimeout 徵詢在截止時間內沒有等到核准者回應
var ErrTimeout = errors.New("approval request timed out")

// Conn 核准者連接
// 通道一次只持有一條連接（單槽位），新連接頂替舊連接
type Conn interface {
	// Send 向核准者推送一條訊息
	Send(env *Envelope) error
	// Close 關閉連接
	Close() error
}

// Dialer 出站撥號器，斷線後由重連計時器呼叫
type Dialer func() (Conn, error)

// Config 通道配置
type Config struct {
	Hostname            string
	SolicitationTimeout time.Duration // 等待核准回應的截止時間
	ReconnectInterval   time.Duration
	QueueSize           int
	RateLimitEnabled    bool
	RateLimitPerWindow  int
	RateWindow          time.Duration
	SigningEnabled      bool
	EncryptionEnabled   bool
	Secret              string
}

// Stats 通道狀態快照
type Stats struct {
	Connected       bool `json:"connected"`
	QueueLength     int  `json:"queueLength"`
	PendingRequests int  `json:"pendingRequests"`
	SeenNonces      int  `json:"seenNonces"`
}

// Channel 核准通知通道
// 持有單一核准者連接，負責核准徵詢的配對、離線佇列、重連與入站訊息的安全檢查
type Channel struct {
	cfg      Config
	security *channelSecurity

	mu        sync.Mutex
	conn      Conn
	pending   map[string]chan Decision
	queue     *messageQueue
	dialer    Dialer
	reconnect *time.Timer
	armed     bool

	// 速率限制：固定窗口計數
	windowStart time.Time
	sendCount   int

	onUnhandled func(MessageType, json.RawMessage)
	onRejected  func(reason string)
}

// NewChannel 創建通知通道
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.SolicitationTimeout <= 0 {
		cfg.SolicitationTimeout = constants.DefaultSolicitationTimeout * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = constants.DefaultReconnectInterval * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = constants.DefaultQueueSize
	}
	if cfg.RateLimitPerWindow <= 0 {
		cfg.RateLimitPerWindow = constants.DefaultChannelRateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}

	security, err := newChannelSecurity(cfg.Secret, cfg.SigningEnabled, cfg.EncryptionEnabled)
	if err != nil {
		return nil, err
	}

	return &Channel{
		cfg:      cfg,
		security: security,
		pending:  make(map[string]chan Decision),
		queue:    newMessageQueue(cfg.QueueSize),
	}, nil
}

// SetDialer 設置重連撥號器（未設置時斷線後只排隊不重連）
func (c *Channel) SetDialer(d Dialer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialer = d
}

// OnUnhandled 註冊未知訊息類型的回調
func (c *Channel) OnUnhandled(fn func(MessageType, json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnhandled = fn
}

// OnRejected 註冊入站訊息被拒（簽名/重放/過期）的回調
func (c *Channel) OnRejected(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRejected = fn
}

// Attach 接入核准者連接（頂替現有連接），並按先進先出順序沖刷離線佇列
func (c *Channel) Attach(conn Conn) {
	c.mu.Lock()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.armed = false

	old := c.conn
	c.conn = conn
	queued := c.queue.drain()
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	for i, env := range queued {
		if err := conn.Send(env); err != nil {
			logger.Warning(context.Background(), "failed to flush queued message",
				logger.WithDetails(map[string]interface{}{"type": string(env.Type), "error": err.Error()}))
			c.handleFlushFailure(conn, queued[i:])
			return
		}
		metrics.ChannelMessages.WithLabelValues("outbound", string(env.Type)).Inc()
	}

	logger.Info(context.Background(), "approver connection attached",
		logger.WithDetails(map[string]interface{}{"flushed": len(queued)}))
}

// Detach 移除當前連接；設置了撥號器時安排重連
func (c *Channel) Detach() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.armReconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// DetachIf 僅當指定連接仍是當前連接時才移除
// 被新連接頂替的舊連接在自己的讀循環結束時呼叫，避免誤斷新連接
func (c *Channel) DetachIf(conn Conn) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.armReconnectLocked()
	c.mu.Unlock()

	_ = conn.Close()
}

// IsConnected 是否有活躍的核准者連接
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// armReconnectLocked 安排一次重連嘗試
// 已有待觸發的計時器時不重複安排，避免計時器風暴
func (c *Channel) armReconnectLocked() {
	if c.armed || c.dialer == nil {
		return
	}
	c.armed = true
	c.reconnect = time.AfterFunc(c.cfg.ReconnectInterval, c.attemptReconnect)
}

// attemptReconnect 計時器到期後的重連嘗試，失敗時重新安排
func (c *Channel) attemptReconnect() {
	c.mu.Lock()
	c.armed = false
	if c.conn != nil || c.dialer == nil {
		c.mu.Unlock()
		return
	}
	dialer := c.dialer
	c.mu.Unlock()

	metrics.ChannelReconnects.Inc()

	conn, err := dialer()
	if err != nil {
		logger.Warning(context.Background(), "reconnect attempt failed",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		c.mu.Lock()
		c.armReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.Attach(conn)
}

// RequestApproval 發出核准徵詢並等待核准者決定
// 截止時間內無回應回傳 ErrTimeout；ctx 取消時提前返回
func (c *Channel) RequestApproval(ctx context.Context, spec RequestSpec) (Decision, error) {
	id := uuid.New().String()

	if spec.Hostname == "" {
		spec.Hostname = c.cfg.Hostname
	}

	metadata := map[string]interface{}{
		"requestType": string(spec.Type),
		"hostname":    spec.Hostname,
	}
	if spec.SecretKey != "" {
		metadata["secretKey"] = spec.SecretKey
	}
	if spec.IPAddress != "" {
		metadata["ipAddress"] = spec.IPAddress
	}
	for k, v := range spec.Metadata {
		metadata[k] = v
	}

	env := &Envelope{
		Type:     TypeApprovalRequest,
		ID:       id,
		Title:    renderTitle(spec.Type),
		Body:     renderBody(spec),
		Metadata: metadata,
	}

	// 先註冊等待槽再發送，避免回應先於註冊到達
	waiter := make(chan Decision, 1)
	c.mu.Lock()
	c.pending[id] = waiter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(env); err != nil {
		metrics.ApprovalRequests.WithLabelValues(string(spec.Type), "error").Inc()
		return Decision{}, err
	}

	logger.Info(ctx, "approval solicitation sent",
		logger.WithApprovalID(id),
		logger.WithDetails(map[string]interface{}{"requestType": string(spec.Type)}))

	deadline := time.NewTimer(c.cfg.SolicitationTimeout)
	defer deadline.Stop()

	select {
	case decision := <-waiter:
		outcome := "denied"
		if decision.Approved {
			outcome = "approved"
		}
		metrics.ApprovalRequests.WithLabelValues(string(spec.Type), outcome).Inc()
		return decision, nil
	case <-deadline.C:
		metrics.ApprovalRequests.WithLabelValues(string(spec.Type), "timeout").Inc()
		logger.Warning(ctx, "approval solicitation timed out", logger.WithApprovalID(id))
		return Decision{}, fmt.Errorf("%w: no response within %s", ErrTimeout, c.cfg.SolicitationTimeout)
	case <-ctx.Done():
		metrics.ApprovalRequests.WithLabelValues(string(spec.Type), "canceled").Inc()
		return Decision{}, ctx.Err()
	}
}

// HandleInbound 處理一條來自核准者的原始訊息
// 檢查順序：格式 → 簽名 → 重放 → 過期 → 分發
func (c *Channel) HandleInbound(raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.reject("malformed")
		return
	}

	metrics.ChannelMessages.WithLabelValues("inbound", string(msg.Type)).Inc()

	c.mu.Lock()
	if c.security.signingEnabled() {
		if msg.Signature == "" || !c.security.verify(msg.signingPayload(), msg.Signature) {
			c.mu.Unlock()
			c.reject("signature")
			return
		}
	}
	if msg.Nonce != "" && !c.security.checkReplay(msg.Nonce) {
		c.mu.Unlock()
		c.reject("replay")
		return
	}
	if msg.Timestamp > 0 && c.security.isStale(msg.Timestamp) {
		c.mu.Unlock()
		c.reject("stale")
		return
	}
	onUnhandled := c.onUnhandled
	c.mu.Unlock()

	switch msg.Type {
	case TypeApprovalResponse:
		c.resolvePending(&msg)
	case TypeHeartbeat:
		// 心跳只用於保活
	default:
		if onUnhandled != nil {
			onUnhandled(msg.Type, raw)
		} else {
			logger.Warning(context.Background(), "unhandled inbound message type",
				logger.WithDetails(map[string]interface{}{"type": string(msg.Type)}))
		}
	}
}

// resolvePending 用核准回應喚醒等待中的徵詢
// 對應徵詢已超時或不存在時靜默忽略（遲到回應是 no-op）
func (c *Channel) resolvePending(msg *inboundMessage) {
	c.mu.Lock()
	waiter, ok := c.pending[msg.RequestID]
	if ok {
		delete(c.pending, msg.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		logger.Info(context.Background(), "late or unknown approval response ignored",
			logger.WithApprovalID(msg.RequestID))
		return
	}

	decision := Decision{
		OneTime:     msg.OneTime,
		Reason:      msg.Reason,
		RespondedAt: time.Now(),
	}
	if msg.Approved != nil {
		decision.Approved = *msg.Approved
	}
	if msg.Duration > 0 {
		decision.Duration = time.Duration(msg.Duration) * time.Second
	}
	waiter <- decision
}

// reject 記錄一條被拒的入站訊息
func (c *Channel) reject(reason string) {
	metrics.ChannelRejections.WithLabelValues(reason).Inc()
	logger.Warning(context.Background(), "inbound channel message rejected",
		logger.WithDetails(map[string]interface{}{"reason": reason}))

	c.mu.Lock()
	fn := c.onRejected
	c.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// send 出站發送：蓋時間戳與 nonce、按配置加密與簽名，離線或超速時入隊
func (c *Channel) send(env *Envelope) error {
	env.Timestamp = time.Now().Unix()
	env.Nonce = uuid.New().String()

	if c.security.encryptionEnabled() && env.Body != "" {
		encrypted, err := c.security.encryptBody(env.Body)
		if err != nil {
			return fmt.Errorf("failed to encrypt message body: %w", err)
		}
		env.Body = encrypted
		env.Encrypted = true
	}
	if c.security.signingEnabled() {
		env.Signature = c.security.sign(env.signingPayload())
	}

	c.mu.Lock()
	if c.conn == nil {
		if evicted := c.queue.push(env); evicted {
			logger.Warning(context.Background(), "offline queue full, oldest message evicted")
		}
		c.armReconnectLocked()
		c.mu.Unlock()
		metrics.ChannelMessages.WithLabelValues("queued", string(env.Type)).Inc()
		return nil
	}

	// 固定窗口速率限制；超速訊息進佇列而非丟棄
	if c.cfg.RateLimitEnabled {
		now := time.Now()
		if now.Sub(c.windowStart) >= c.cfg.RateWindow {
			c.windowStart = now
			c.sendCount = 0
		}
		if c.sendCount >= c.cfg.RateLimitPerWindow {
			c.queue.push(env)
			c.mu.Unlock()
			metrics.ChannelMessages.WithLabelValues("queued", string(env.Type)).Inc()
			return nil
		}
		c.sendCount++
	}

	conn := c.conn
	c.mu.Unlock()

	if err := conn.Send(env); err != nil {
		logger.Warning(context.Background(), "send to approver failed",
			logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		c.handleSendFailure(env)
		return nil
	}

	metrics.ChannelMessages.WithLabelValues("outbound", string(env.Type)).Inc()
	return nil
}

// handleSendFailure 發送失敗後斷開連接並把訊息放回佇列
func (c *Channel) handleSendFailure(env *Envelope) {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.queue.push(env)
	c.armReconnectLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// handleFlushFailure 沖刷中斷後斷開連接，把失敗的與尚未送出的訊息按原順序放回隊頭
// 排在沖刷期間新入隊的訊息之前，整體先進先出順序不變
func (c *Channel) handleFlushFailure(conn Conn, remaining []*Envelope) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.armReconnectLocked()
	}
	if evicted := c.queue.requeueFront(remaining); evicted > 0 {
		logger.Warning(context.Background(), "offline queue full, oldest messages evicted",
			logger.WithDetails(map[string]interface{}{"evicted": evicted}))
	}
	c.mu.Unlock()

	_ = conn.Close()
}

// Notify 發送指定級別的通知
func (c *Channel) Notify(level MessageType, title, body string) error {
	switch level {
	case TypeInfo, TypeWarning, TypeError, TypeSuccess:
	default:
		return fmt.Errorf("invalid notification level: %s", level)
	}
	return c.send(&Envelope{Type: level, Title: title, Body: body})
}

// SendInfo 一般通知
func (c *Channel) SendInfo(title, body string) error {
	return c.Notify(TypeInfo, title, body)
}

// SendWarning 警告通知
func (c *Channel) SendWarning(title, body string) error {
	return c.Notify(TypeWarning, title, body)
}

// SendError 錯誤通知
func (c *Channel) SendError(title, body string) error {
	return c.Notify(TypeError, title, body)
}

// SendSuccess 成功通知
func (c *Channel) SendSuccess(title, body string) error {
	return c.Notify(TypeSuccess, title, body)
}

// SendHeartbeat 心跳（由串流層按固定間隔呼叫）
func (c *Channel) SendHeartbeat() error {
	return c.send(&Envelope{Type: TypeHeartbeat})
}

// Stats 通道狀態快照
func (c *Channel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:       c.conn != nil,
		QueueLength:     c.queue.size(),
		PendingRequests: len(c.pending),
		SeenNonces:      c.security.nonceCount(),
	}
}

// Close 關閉通道：停止重連計時器並斷開連接
func (c *Channel) Close() {
	c.mu.Lock()
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	c.armed = false
	c.dialer = nil
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}
