package httputil

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"vault-gateway/internal/bootstrap"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/logger"
	"vault-gateway/internal/platform/middleware"
	"vault-gateway/internal/vault/approval"
	"vault-gateway/internal/vault/store"

	"github.com/gin-gonic/gin"
)

// MapError 把領域錯誤翻譯成 HTTP 回應
// 已知的哨兵錯誤映射到對應狀態碼，其餘一律走 500 並隱藏詳情
func MapError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		SafeError(c, http.StatusBadRequest, err, InvalidParameter)
	case errors.Is(err, approval.ErrApprovalRequired):
		SafeError(c, http.StatusForbidden, err, ApprovalNeeded)
	case errors.Is(err, store.ErrNotFound):
		SafeError(c, http.StatusNotFound, err, NotFound)
	case errors.Is(err, store.ErrAlreadyExists):
		SafeError(c, http.StatusConflict, err, "Secret already exists")
	case errors.Is(err, bootstrap.ErrInvalidToken):
		SafeError(c, http.StatusUnauthorized, err, "Invalid or expired token")
	case errors.Is(err, notify.ErrTimeout):
		SafeError(c, http.StatusGatewayTimeout, err, "Approval request timed out")
	default:
		InternalServerError(c, err)
	}
}

// SafeError 安全的錯誤響應（不洩露內部信息）
func SafeError(c *gin.Context, statusCode int, err error, userMessage string) {
	requestID := middleware.GetRequestID(c)

	// 記錄真實錯誤到日誌（用於調試）
	logger.Error(c.Request.Context(), fmt.Sprintf("API Error: %v", err),
		logger.WithDetails(map[string]interface{}{
			"request_id": requestID,
			"path":       c.Request.URL.Path,
			"method":     c.Request.Method,
			"status":     statusCode,
		}))

	// 根據錯誤類型決定是否顯示詳情
	message := userMessage
	if shouldShowError(err) {
		message = err.Error()
	}

	c.JSON(statusCode, gin.H{
		"error":      message,
		"success":    false,
		"request_id": requestID, // 返回 request ID 便於追蹤
	})
}

// shouldShowError 判斷是否可以向用戶顯示錯誤詳情
func shouldShowError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// 不應顯示的錯誤關鍵字（可能洩露敏感信息）
	dangerousKeywords := []string{
		"master",
		"key",
		"cipher",
		"decrypt",
		"encrypt",
		"password",
		"token",
		"secret",
		"credential",
		"recovery",
		"internal",
		"stack",
		"panic",
	}

	lowerMsg := strings.ToLower(errMsg)
	for _, keyword := range dangerousKeywords {
		if strings.Contains(lowerMsg, keyword) {
			return false
		}
	}

	return true
}

// InternalServerError 內部服務器錯誤
func InternalServerError(c *gin.Context, err error) {
	SafeError(c, http.StatusInternalServerError, err, "服務器內部錯誤，請稍後再試")
}

// BadRequest 錯誤的請求
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// Unauthorized 未授權
func Unauthorized(c *gin.Context, message string) {
	if message == "" {
		message = "未授權訪問"
	}
	c.JSON(http.StatusUnauthorized, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// Forbidden 禁止訪問
func Forbidden(c *gin.Context, message string) {
	if message == "" {
		message = "禁止訪問"
	}
	c.JSON(http.StatusForbidden, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// NotFoundError 資源不存在
func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = "資源不存在"
	}
	c.JSON(http.StatusNotFound, gin.H{
		"error":      message,
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// RateLimitExceeded 速率限制超過
func RateLimitExceeded(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"error":      "請求過於頻繁，請稍後再試",
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}

// ValidationError 驗證錯誤
func ValidationError(c *gin.Context, field string, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":      fmt.Sprintf("%s: %s", field, message),
		"success":    false,
		"request_id": middleware.GetRequestID(c),
	})
}
