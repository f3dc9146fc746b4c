package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vault-gateway/internal/constants"
	"vault-gateway/internal/platform/config"
	"vault-gateway/internal/platform/health"
	"vault-gateway/internal/platform/middleware"
)

// securityHeadersMiddleware 添加安全標頭
func securityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// 防止點擊劫持
		c.Header("X-Frame-Options", "DENY")

		// 防止 MIME 類型嗅探
		c.Header("X-Content-Type-Options", "nosniff")

		// 啟用 XSS 保護
		c.Header("X-XSS-Protection", "1; mode=block")

		// 內容安全策略
		c.Header("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none';")

		// 秘密明文絕不允許進入任何中間緩存
		c.Header("Cache-Control", "no-store")

		// 推薦政策
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		c.Next()
	}
}

// Router 設定路由
func Router(deps *Dependencies) *gin.Engine {
	cfg := config.Get()

	if cfg != nil && !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// 添加請求 ID 中間件（最優先）
	r.Use(middleware.RequestIDMiddleware())

	// 添加安全標頭中間件
	r.Use(securityHeadersMiddleware())

	// 添加請求元數據中間件（提取 IP、User-Agent）
	r.Use(middleware.RequestMetadataMiddleware())

	// 添加請求延遲指標中間件
	r.Use(middleware.MetricsMiddleware())

	// 創建 Rate Limiter
	defaultLimit := constants.DefaultRateLimitPerMinute
	if cfg != nil && cfg.Limits.RateLimiting.DefaultPerMinute > 0 {
		defaultLimit = cfg.Limits.RateLimiting.DefaultPerMinute
	}
	rateLimiter := middleware.NewPerEndpointRateLimiter(defaultLimit, time.Minute)

	// 為不同端點設置不同的速率限制
	if cfg != nil && cfg.Limits.RateLimiting.Enabled {
		if cfg.Limits.RateLimiting.SecretsPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/secrets", cfg.Limits.RateLimiting.SecretsPerMin, time.Minute)
		}
		if cfg.Limits.RateLimiting.BootstrapPerMin > 0 {
			rateLimiter.SetLimit("/api/v1/bootstrap/validate", cfg.Limits.RateLimiting.BootstrapPerMin, time.Minute)
		}
	}

	// 應用 Rate Limiting 中間件
	r.Use(rateLimiter.Middleware())

	// 創建核准者串流連接限制器
	streamMaxPerIP := constants.DefaultStreamMaxConnectionsPerIP
	streamInterval := constants.DefaultStreamMinConnectionInterval
	streamMaxTotal := constants.DefaultStreamMaxTotalConnections
	if cfg != nil {
		if cfg.Limits.Stream.MaxConnectionsPerIP > 0 {
			streamMaxPerIP = cfg.Limits.Stream.MaxConnectionsPerIP
		}
		if cfg.Limits.Stream.MinConnectionInterval > 0 {
			streamInterval = cfg.Limits.Stream.MinConnectionInterval
		}
	}
	streamLimiter := middleware.NewStreamConnectionLimiter(
		streamMaxPerIP, time.Duration(streamInterval)*time.Second, streamMaxTotal)

	// 創建處理器
	h := newHandlers(deps)
	healthHandler := health.NewHealthHandler(deps.Vault, deps.Channel, deps.Tokens)

	// health check 與指標
	r.GET("/health", healthHandler.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		// 秘密存儲
		v1.POST("/secrets", h.addSecret)
		v1.GET("/secrets", h.listSecrets)
		v1.GET("/secrets/:key", h.getSecret)
		v1.PUT("/secrets/:key", h.updateSecret)
		v1.DELETE("/secrets/:key", h.deleteSecret)
		v1.GET("/secrets/:key/metadata", h.getSecretMetadata)

		// 核准控制
		v1.GET("/approval/status", h.approvalStatus)
		v1.POST("/approval/grant", h.grantApproval)
		v1.POST("/approval/revoke", h.revokeApproval)
		v1.POST("/approval/request", h.requestApproval)

		// 保險庫控制
		v1.POST("/vault/rotate-key", h.rotateKey)
		v1.GET("/vault/export", h.exportVault)
		v1.POST("/vault/lock", h.lockVault)
		v1.POST("/vault/save", h.saveVault)
		v1.GET("/vault/audit", h.auditLog)
		v1.GET("/vault/stats", h.vaultStats)

		// 啟動引導
		v1.POST("/bootstrap/pairing-token", h.generatePairingToken)
		v1.POST("/bootstrap/startup-token", h.generateStartupToken)
		v1.POST("/bootstrap/recovery-codes", h.generateRecoveryCodes)
		v1.POST("/bootstrap/validate", h.validateToken)

		// 核准者通道 - 串流端點應用額外的連接限制
		v1.GET("/approver/stream", streamLimiter.Middleware(), h.approverStream)
		v1.POST("/approver/respond", h.approverRespond)
		v1.GET("/approver/stats", h.channelStats)
	}

	return r
}
