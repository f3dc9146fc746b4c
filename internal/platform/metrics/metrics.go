package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VaultOperations 保險庫操作計數（add、get、rotate 等）
	VaultOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgw_operations_total",
			Help: "Total number of vault operations",
		},
		[]string{"operation", "status"},
	)
	// ApprovalRequests 核准請求計數（按類型與決定）
	ApprovalRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgw_approval_requests_total",
			Help: "Total number of approval solicitations",
		},
		[]string{"type", "decision"},
	)
	// ChannelMessages 通知通道訊息計數（按方向與類型）
	ChannelMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgw_channel_messages_total",
			Help: "Total number of notification channel messages",
		},
		[]string{"direction", "type"},
	)
	// ChannelRejections 通道入站訊息被拒計數（簽名/重放/過期）
	ChannelRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultgw_channel_rejections_total",
			Help: "Total number of rejected inbound channel messages",
		},
		[]string{"reason"},
	)
	// ChannelReconnects 通道重連嘗試計數
	ChannelReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultgw_channel_reconnects_total",
			Help: "Total number of channel reconnect attempts",
		},
	)
	// RequestDuration HTTP 請求延遲
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vaultgw_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
