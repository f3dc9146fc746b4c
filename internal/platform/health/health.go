package health

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"

	"vault-gateway/internal/bootstrap"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/config"
	"vault-gateway/internal/vault"
)

const (
	// 健康狀態常數.
	statusHealthy = "healthy"
	statusWarning = "warning"

	// 記憶體相關常數.
	memoryMB        = 1024 * 1024
	memoryThreshold = 1024 // 1GB
)

// Handler 健康檢查處理器.
type Handler struct {
	vault   *vault.Vault
	channel *notify.Channel
	tokens  *bootstrap.Manager
}

// NewHealthHandler 創建新的健康檢查處理器.
func NewHealthHandler(v *vault.Vault, ch *notify.Channel, tokens *bootstrap.Manager) *Handler {
	return &Handler{
		vault:   v,
		channel: ch,
		tokens:  tokens,
	}
}

// HealthCheck 健康檢查端點.
func (h *Handler) HealthCheck(c *gin.Context) {
	cfg := config.Get()

	// 檢查系統資源.
	systemStatus := h.checkSystemResources()

	// 從環境變數讀取版本，沒有則用預設值
	appVersion := os.Getenv("APP_VERSION")
	if appVersion == "" {
		appVersion = "NO_VERSION_SET"
	}

	channelStats := h.channel.Stats()

	// 回應格式.
	response := gin.H{
		"status":    statusHealthy,
		"timestamp": time.Now().Unix(),
		"app": gin.H{
			"name":    cfg.App.Name,
			"version": appVersion,
			"debug":   cfg.App.Debug,
		},
		"vault": gin.H{
			"secret_count": h.vault.GetSecretCount(),
			"approved":     h.vault.IsApproved(),
			"cache_size":   h.vault.GetCacheSize(),
		},
		"channel": gin.H{
			"connected":        channelStats.Connected,
			"queue_length":     channelStats.QueueLength,
			"pending_requests": channelStats.PendingRequests,
		},
		"bootstrap": gin.H{
			"startup_token_set":        h.tokens.HasStartupToken(),
			"remaining_recovery_codes": h.tokens.RemainingRecoveryCodes(),
		},
		"system": gin.H{
			"status":  systemStatus.Status,
			"details": systemStatus.Details,
			"uptime":  time.Since(startTime).String(),
		},
	}

	// 核准者離線時服務仍可用（請求會排隊），標記為 degraded 供監控參考.
	if !channelStats.Connected && channelStats.QueueLength > 0 {
		response["status"] = "degraded"
	}

	c.JSON(http.StatusOK, response)
}

// SystemStatus 系統狀態.
type SystemStatus struct {
	Status  string                 `json:"status"`
	Details map[string]interface{} `json:"details"`
}

// checkSystemResources 檢查系統資源.
func (h *Handler) checkSystemResources() SystemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	details := map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"memory": gin.H{
			"alloc":       fmt.Sprintf("%.2f MB", float64(m.Alloc)/memoryMB),
			"total_alloc": fmt.Sprintf("%.2f MB", float64(m.TotalAlloc)/memoryMB),
			"sys":         fmt.Sprintf("%.2f MB", float64(m.Sys)/memoryMB),
			"num_gc":      m.NumGC,
		},
		"cpu": gin.H{
			"num_cpu": runtime.NumCPU(),
		},
	}

	// 檢查記憶體使用是否過高（超過 1GB 視為警告）
	memoryUsage := m.Sys / memoryMB // MB
	status := statusHealthy
	if memoryUsage > memoryThreshold {
		status = statusWarning
		details["memory_warning"] = "Memory usage is high"
	}

	return SystemStatus{
		Status:  status,
		Details: details,
	}
}

// 記錄服務啟動時間.
var startTime = time.Now()
