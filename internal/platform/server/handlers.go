package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"vault-gateway/internal/bootstrap"
	"vault-gateway/internal/constants"
	"vault-gateway/internal/httputil"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/config"
	"vault-gateway/internal/platform/metrics"
	"vault-gateway/internal/platform/middleware"
	"vault-gateway/internal/security/audit"
	vaultpkg "vault-gateway/internal/vault"
)

// handlers HTTP 處理器集合
type handlers struct {
	vault   *vaultpkg.Vault
	channel *notify.Channel
	tokens  *bootstrap.Manager
}

func newHandlers(deps *Dependencies) *handlers {
	return &handlers{
		vault:   deps.Vault,
		channel: deps.Channel,
		tokens:  deps.Tokens,
	}
}

// 新增秘密
func (h *handlers) addSecret(c *gin.Context) {
	var req struct {
		Key   string `json:"key" binding:"required"`
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := h.vault.AddSecret(c.Request.Context(), req.Key, []byte(req.Value)); err != nil {
		metrics.VaultOperations.WithLabelValues("add", "error").Inc()
		httputil.MapError(c, err)
		return
	}

	metrics.VaultOperations.WithLabelValues("add", "ok").Inc()
	c.JSON(http.StatusCreated, httputil.Success(httputil.SecretCreated))
}

// 列出秘密鍵名（鍵名不是機密，不受核准把關）
func (h *handlers) listSecrets(c *gin.Context) {
	keys := h.vault.ListSecrets()
	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataRetrieved,
		"data":    keys,
		"count":   len(keys),
	})
}

// 讀取秘密明文（受核准把關）
func (h *handlers) getSecret(c *gin.Context) {
	key := c.Param("key")

	value, err := h.vault.GetSecret(c.Request.Context(), key)
	if err != nil {
		metrics.VaultOperations.WithLabelValues("get", "error").Inc()
		httputil.MapError(c, err)
		return
	}

	metrics.VaultOperations.WithLabelValues("get", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataRetrieved,
		"data": gin.H{
			"key":   key,
			"value": string(value),
		},
	})
}

// 更新秘密
func (h *handlers) updateSecret(c *gin.Context) {
	key := c.Param("key")

	var req struct {
		Value string `json:"value" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	if err := h.vault.UpdateSecret(c.Request.Context(), key, []byte(req.Value)); err != nil {
		metrics.VaultOperations.WithLabelValues("update", "error").Inc()
		httputil.MapError(c, err)
		return
	}

	metrics.VaultOperations.WithLabelValues("update", "ok").Inc()
	c.JSON(http.StatusOK, httputil.Success(httputil.SecretUpdated))
}

// 刪除秘密
func (h *handlers) deleteSecret(c *gin.Context) {
	key := c.Param("key")

	if err := h.vault.DeleteSecret(c.Request.Context(), key); err != nil {
		metrics.VaultOperations.WithLabelValues("delete", "error").Inc()
		httputil.MapError(c, err)
		return
	}

	metrics.VaultOperations.WithLabelValues("delete", "ok").Inc()
	c.JSON(http.StatusOK, httputil.Success(httputil.SecretDeleted))
}

// 查詢秘密元數據（不含值，不受核准把關）
func (h *handlers) getSecretMetadata(c *gin.Context) {
	meta, err := h.vault.GetSecretMetadata(c.Param("key"))
	if err != nil {
		httputil.MapError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.NewSuccessResponse(httputil.DataRetrieved, meta))
}

// 查詢核准狀態
func (h *handlers) approvalStatus(c *gin.Context) {
	status := h.vault.GetApprovalStatus()
	c.JSON(http.StatusOK, gin.H{
		"approved":  status.Approved,
		"oneTime":   status.OneTime,
		"expiresAt": status.ExpiresAt,
		"grantedAt": status.GrantedAt,
	})
}

// 本地直接授予核准（不經過核准者通道）
func (h *handlers) grantApproval(c *gin.Context) {
	var req struct {
		Duration int  `json:"duration"`
		OneTime  bool `json:"oneTime"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}
	if req.Duration == 0 && !req.OneTime {
		req.Duration = h.defaultApprovalDuration()
	}

	if err := h.vault.GrantApproval(req.Duration, req.OneTime); err != nil {
		httputil.MapError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Success(httputil.ApprovalGranted))
}

// 撤銷核准
func (h *handlers) revokeApproval(c *gin.Context) {
	h.vault.RevokeApproval()
	c.JSON(http.StatusOK, httputil.Success(httputil.ApprovalRevoked))
}

// 向核准者徵詢核准；核准者同意後授予對應的核准
func (h *handlers) requestApproval(c *gin.Context) {
	var req struct {
		Type      string `json:"type"`
		SecretKey string `json:"secretKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	requestType := notify.RequestType(req.Type)
	switch requestType {
	case notify.RequestSecretAccess, notify.RequestKeyRotation,
		notify.RequestVaultExport, notify.RequestBulkOperation:
	case "":
		requestType = notify.RequestSecretAccess
	default:
		httputil.BadRequest(c, "未知的請求類型")
		return
	}

	meta := middleware.GetRequestMetadataFromGin(c)
	decision, err := h.channel.RequestApproval(c.Request.Context(), notify.RequestSpec{
		Type:      requestType,
		SecretKey: req.SecretKey,
		IPAddress: meta.IPAddress,
	})
	if err != nil {
		httputil.MapError(c, err)
		return
	}

	if !decision.Approved {
		c.JSON(http.StatusForbidden, gin.H{
			"approved": false,
			"reason":   decision.Reason,
			"success":  false,
		})
		return
	}

	seconds := int(decision.Duration.Seconds())
	if seconds <= 0 && !decision.OneTime {
		seconds = h.defaultApprovalDuration()
	}
	if err := h.vault.GrantApproval(seconds, decision.OneTime); err != nil {
		httputil.MapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"approved": true,
		"duration": seconds,
		"oneTime":  decision.OneTime,
		"reason":   decision.Reason,
	})
}

// defaultApprovalDuration 配置的默認核准時長
func (h *handlers) defaultApprovalDuration() int {
	cfg := config.Get()
	if cfg != nil && cfg.Approval.DefaultDurationSeconds > 0 {
		return cfg.Approval.DefaultDurationSeconds
	}
	return constants.DefaultApprovalDuration
}

// 輪換主密鑰
func (h *handlers) rotateKey(c *gin.Context) {
	if err := h.vault.RotateKey(c.Request.Context()); err != nil {
		metrics.VaultOperations.WithLabelValues("rotate_key", "error").Inc()
		httputil.MapError(c, err)
		return
	}

	metrics.VaultOperations.WithLabelValues("rotate_key", "ok").Inc()
	c.JSON(http.StatusOK, gin.H{
		"message":       httputil.KeyRotated,
		"masterKeyHash": h.vault.GetMasterKeyHash(),
	})
}

// 導出全部記錄（密文形態，受核准把關）
func (h *handlers) exportVault(c *gin.Context) {
	records, err := h.vault.Export(c.Request.Context())
	if err != nil {
		httputil.MapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataRetrieved,
		"data":    records,
		"count":   len(records),
	})
}

// 鎖定保險庫
func (h *handlers) lockVault(c *gin.Context) {
	h.vault.Lock()
	c.JSON(http.StatusOK, httputil.Success(httputil.VaultLocked))
}

// 手動持久化
func (h *handlers) saveVault(c *gin.Context) {
	if err := h.vault.Save(c.Request.Context()); err != nil {
		httputil.MapError(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Success(httputil.VaultSaved))
}

// 查詢審計日誌
func (h *handlers) auditLog(c *gin.Context) {
	filter := audit.Filter{
		EventType: audit.EventType(c.Query("type")),
		Key:       c.Query("key"),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			filter.Limit = limit
		}
	}
	if successStr := c.Query("success"); successStr != "" {
		success := successStr == "true"
		filter.Success = &success
	}
	// since 接受 RFC3339 或 Unix 秒
	if sinceStr := c.Query("since"); sinceStr != "" {
		if ts, err := time.Parse(time.RFC3339, sinceStr); err == nil {
			filter.Since = ts
		} else if unix, err := strconv.ParseInt(sinceStr, 10, 64); err == nil {
			filter.Since = time.Unix(unix, 0)
		} else {
			httputil.BadRequest(c, "無效的 since 參數")
			return
		}
	}

	entries := h.vault.GetAuditLog(filter)
	c.JSON(http.StatusOK, gin.H{
		"message": httputil.DataRetrieved,
		"data":    entries,
		"count":   len(entries),
	})
}

// 保險庫統計
func (h *handlers) vaultStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"secretCount":   h.vault.GetSecretCount(),
		"vaultSize":     h.vault.GetVaultSize(),
		"cacheSize":     h.vault.GetCacheSize(),
		"approved":      h.vault.IsApproved(),
		"masterKeyHash": h.vault.GetMasterKeyHash(),
	})
}

// 生成一次性配對 token
func (h *handlers) generatePairingToken(c *gin.Context) {
	token, expiresAt, err := h.tokens.GeneratePairingToken()
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   httputil.TokenGenerated,
		"token":     token,
		"expiresAt": expiresAt,
	})
}

// 生成啟動 token
func (h *handlers) generateStartupToken(c *gin.Context) {
	token, err := h.tokens.GenerateStartupToken(c.Request.Context())
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": httputil.TokenGenerated,
		"token":   token,
	})
}

// 生成一批恢復碼（頂替舊的一批）
func (h *handlers) generateRecoveryCodes(c *gin.Context) {
	codes, err := h.tokens.GenerateRecoveryCodes(c.Request.Context())
	if err != nil {
		httputil.InternalServerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": httputil.CodesGenerated,
		"codes":   codes,
		"count":   len(codes),
	})
}

// 驗證引導憑證；啟動 token 與恢復碼驗證成功後授予對應的解鎖核准
// kind 可選，指定時只匹配該種類的憑證
func (h *handlers) validateToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
		Kind  string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return
	}

	kind := bootstrap.Kind(req.Kind)
	switch kind {
	case "", bootstrap.KindPairing, bootstrap.KindStartup, bootstrap.KindRecovery:
	default:
		httputil.BadRequest(c, "未知的憑證種類")
		return
	}

	result, err := h.tokens.Validate(c.Request.Context(), req.Token, kind)
	if err != nil {
		httputil.MapError(c, err)
		return
	}

	if result.UnlockDuration > 0 {
		if err := h.vault.GrantApproval(int(result.UnlockDuration/time.Second), false); err != nil {
			httputil.MapError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":          result.Valid,
		"kind":           result.Kind,
		"rotatedToken":   result.RotatedToken,
		"unlockDuration": int(result.UnlockDuration / time.Second),
	})
}

// 通道狀態
func (h *handlers) channelStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.channel.Stats())
}
