package notify

import (
	"fmt"
	"time"
)

// MessageType 線上協議訊息類型
type MessageType string

const (
	// TypeApprovalRequest 核准請求（服務端 → 核准者）
	TypeApprovalRequest MessageType = "approval_request"
	// TypeApprovalResponse 核准回應（核准者 → 服務端）
	TypeApprovalResponse MessageType = "approval_response"
	// 一般通知級別
	TypeInfo    MessageType = "info"
	TypeWarning MessageType = "warning"
	TypeError   MessageType = "error"
	TypeSuccess MessageType = "success"
	// TypeHeartbeat 內部心跳
	TypeHeartbeat MessageType = "heartbeat"
)

// RequestType 核准請求的操作類型
type RequestType string

const (
	RequestSecretAccess  RequestType = "secret-access"
	RequestKeyRotation   RequestType = "key-rotation"
	RequestVaultExport   RequestType = "vault-export"
	RequestBulkOperation RequestType = "bulk-operation"
)

// Envelope JSON 線上協議信封（出站）
// nonce、signature、encrypted 欄位在對應安全特性啟用時才會出現
type Envelope struct {
	Type      MessageType            `json:"type"`
	ID        string                 `json:"id,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Body      string                 `json:"body,omitempty"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Nonce     string                 `json:"nonce,omitempty"`
	Signature string                 `json:"signature,omitempty"`
	Encrypted bool                   `json:"encrypted,omitempty"`
}

// signingPayload 參與簽名的欄位的固定排列
func (e *Envelope) signingPayload() string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", e.Type, e.ID, e.Timestamp, e.Nonce, e.Body)
}

// inboundMessage 入站訊息的統一視圖
// 核准回應攜帶 requestId/approved/...；其他類型只用到公共欄位
type inboundMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"requestId,omitempty"`
	Approved  *bool       `json:"approved,omitempty"`
	Duration  int         `json:"duration,omitempty"` // 秒，1..86400
	OneTime   bool        `json:"oneTime,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Timestamp int64       `json:"timestamp,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
	Signature string      `json:"signature,omitempty"`
}

// signingPayload 與出站信封使用相同的排列（回應沒有 body）
func (m *inboundMessage) signingPayload() string {
	return fmt.Sprintf("%s|%s|%d|%s|%s", m.Type, m.RequestID, m.Timestamp, m.Nonce, "")
}

// RequestSpec 一次核准徵詢的描述
type RequestSpec struct {
	Type      RequestType
	Hostname  string
	SecretKey string                 // 僅 secret-access 有意義
	IPAddress string                 // 觸發請求的外部呼叫方 IP（可選）
	Metadata  map[string]interface{} // 附加上下文
}

// Decision 核准者的決定
type Decision struct {
	Approved    bool
	Duration    time.Duration // 0 表示未指定
	OneTime     bool
	Reason      string
	RespondedAt time.Time
}

// renderTitle 生成給核准者看的標題
func renderTitle(t RequestType) string {
	switch t {
	case RequestSecretAccess:
		return "秘密存取請求"
	case RequestKeyRotation:
		return "主密鑰輪換請求"
	case RequestVaultExport:
		return "保險庫導出請求"
	case RequestBulkOperation:
		return "批量操作請求"
	default:
		return "核准請求"
	}
}

// renderBody 生成給核准者看的描述文字
func renderBody(spec RequestSpec) string {
	body := fmt.Sprintf("主機 %s 請求執行 %s", spec.Hostname, spec.Type)
	if spec.SecretKey != "" {
		body += fmt.Sprintf("（秘密: %s）", spec.SecretKey)
	}
	if spec.IPAddress != "" {
		body += fmt.Sprintf("，來源 IP: %s", spec.IPAddress)
	}
	return body
}
