package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"vault-gateway/internal/bootstrap"
	"vault-gateway/internal/constants"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/config"
	"vault-gateway/internal/platform/logger"
	"vault-gateway/internal/platform/server"
	"vault-gateway/internal/security/audit"
	"vault-gateway/internal/vault"
	"vault-gateway/internal/vault/approval"
	"vault-gateway/internal/vault/store"
)

func main() {
	if err := mainNoExit(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// mainNoExit 分離主要邏輯以避免 exitAfterDefer 問題，確保 defer 函數正常執行.
func mainNoExit() error {
	// 初始化日誌.
	if err := logger.InitLogger(); err != nil {
		return err
	}
	defer logger.CloseLogger()

	ctx := context.Background()

	// 載入配置.
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Get()

	// 審計日誌（環形緩衝）.
	auditMax := cfg.Vault.AuditMaxEntries
	if auditMax <= 0 {
		auditMax = constants.DefaultAuditMaxSize
	}
	auditLog := audit.NewLog(auditMax, cfg.Vault.AuditEnabled)

	// 核准控制器.
	approvals := approval.NewController(auditLog)

	// 秘密存儲（載入或初始化保險庫目錄）.
	s, err := store.New(store.Options{
		Dir:      cfg.Vault.Dir,
		AutoSave: cfg.Vault.AutoSave,
		CacheTTL: time.Duration(cfg.Vault.CacheTTLSeconds) * time.Second,
	}, approvals, auditLog)
	if err != nil {
		logger.Error(ctx, "保險庫初始化失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("vault initialization failed")
	}

	v := vault.New(s, approvals, auditLog)
	logger.Info(ctx, "保險庫初始化完成", logger.WithDetails(map[string]interface{}{
		"dir":          cfg.Vault.Dir,
		"secret_count": v.GetSecretCount(),
	}))

	// 核准通知通道.
	hostname, _ := os.Hostname()
	channel, err := notify.NewChannel(notify.Config{
		Hostname:            hostname,
		SolicitationTimeout: time.Duration(cfg.Approval.SolicitationTimeoutSeconds) * time.Second,
		ReconnectInterval:   time.Duration(cfg.Channel.ReconnectIntervalSeconds) * time.Second,
		QueueSize:           cfg.Channel.QueueSize,
		RateLimitEnabled:    cfg.Channel.RateLimitEnabled,
		RateLimitPerWindow:  cfg.Channel.RateLimitPerMinute,
		RateWindow:          time.Minute,
		SigningEnabled:      cfg.Channel.SigningEnabled,
		EncryptionEnabled:   cfg.Channel.EncryptionEnabled,
		Secret:              cfg.Channel.Secret,
	})
	if err != nil {
		logger.Error(ctx, "通知通道創建失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("channel initialization failed")
	}

	// 保險庫領域事件推送給核准者.
	v.OnEvent(func(e vault.Event) {
		switch e.Type {
		case vault.EventApprovalGranted:
			_ = channel.SendSuccess("保險庫已解鎖", "核准已授予，秘密讀取已開放")
		case vault.EventApprovalRevoked:
			_ = channel.SendInfo("保險庫已鎖定", "核准已撤銷")
		case vault.EventKeyRotated:
			_ = channel.SendSuccess("主密鑰已輪換", "所有記錄已用新密鑰重新加密")
		case vault.EventExportRequested:
			_ = channel.SendWarning("保險庫導出", "全部加密記錄已被導出")
		}
	})

	// 啟動引導憑證管理器（與保險庫共用目錄）.
	tokens, err := bootstrap.NewManager(cfg.Vault.Dir, bootstrap.Config{
		PairingTokenLifetime:   time.Duration(cfg.Bootstrap.PairingTokenLifetimeMinutes) * time.Minute,
		StartupTokenLifetime:   time.Duration(cfg.Bootstrap.StartupTokenLifetimeHours) * time.Hour,
		StartupUnlockDuration:  time.Duration(cfg.Bootstrap.StartupUnlockDurationSeconds) * time.Second,
		RecoveryUnlockDuration: time.Duration(cfg.Bootstrap.RecoveryUnlockDurationSeconds) * time.Second,
		RecoveryCodeCount:      cfg.Bootstrap.RecoveryCodeCount,
	}, auditLog)
	if err != nil {
		logger.Error(ctx, "引導憑證管理器創建失敗", logger.WithDetails(map[string]interface{}{"error": err.Error()}))
		return fmt.Errorf("bootstrap initialization failed")
	}

	// 啟動 HTTP 伺服器（阻塞直到收到關閉信號）.
	return server.Start(&server.Dependencies{
		Vault:   v,
		Channel: channel,
		Tokens:  tokens,
	})
}
