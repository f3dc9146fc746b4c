package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/httputil"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/config"
)

// 入站回應體上限，核准回應遠小於此
const maxRespondBodySize = 64 << 10

// sseConn 把 SSE 長連接包裝成通知通道的連接
// Send 只投遞到緩衝通道，實際寫出由串流處理循環負責
type sseConn struct {
	ch   chan *notify.Envelope
	done chan struct{}
	once sync.Once
}

func newSSEConn(buffer int) *sseConn {
	return &sseConn{
		ch:   make(chan *notify.Envelope, buffer),
		done: make(chan struct{}),
	}
}

// Send 投遞一條出站訊息
// 客戶端消費太慢導致緩衝滿時回傳錯誤，由通道層放回佇列
func (s *sseConn) Send(env *notify.Envelope) error {
	select {
	case <-s.done:
		return errors.New("stream closed")
	case s.ch <- env:
		return nil
	default:
		return errors.New("stream buffer full")
	}
}

// Close 關閉連接（幂等）
func (s *sseConn) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return nil
}

// setupSSEHeaders 設置 SSE headers
func setupSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("connected", gin.H{"status": "ok"})
	c.Writer.Flush()
}

// approverStream 核准者長連接：接入通知通道並流式推送信封
func (h *handlers) approverStream(c *gin.Context) {
	setupSSEHeaders(c)

	cfg := config.Get()
	buffer := constants.StreamChannelBuffer
	if cfg != nil && cfg.Limits.Stream.MessageChannelBuffer > 0 {
		buffer = cfg.Limits.Stream.MessageChannelBuffer
	}
	heartbeatInterval := constants.DefaultHeartbeatInterval
	if cfg != nil && cfg.Limits.Stream.HeartbeatInterval > 0 {
		heartbeatInterval = cfg.Limits.Stream.HeartbeatInterval
	}

	conn := newSSEConn(buffer)
	h.channel.Attach(conn)

	ticker := time.NewTicker(time.Duration(heartbeatInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			// 客戶端斷線；若這條連接已被新連接頂替則是 no-op
			h.channel.DetachIf(conn)
			return

		case <-conn.done:
			// 被新的核准者連接頂替
			return

		case <-ticker.C:
			// 心跳走通道層：計入出站指標，並沿用簽名配置
			_ = h.channel.SendHeartbeat()

		case env := <-conn.ch:
			c.SSEvent("message", env)
			c.Writer.Flush()
		}
	}
}

// approverRespond 核准者的上行入口：核准回應與其他入站訊息走這裡
// 簽名、重放、過期檢查都在通道層完成；被拒的訊息不回饋細節
func (h *handlers) approverRespond(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRespondBodySize))
	if err != nil {
		httputil.BadRequest(c, "無法讀取請求體")
		return
	}
	if len(body) == 0 {
		httputil.BadRequest(c, "請求體不能為空")
		return
	}

	h.channel.HandleInbound(body)
	c.JSON(http.StatusAccepted, httputil.Success("Response accepted"))
}
