package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config 應用程式配置結構.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Vault     VaultConfig     `mapstructure:"vault"`
	Approval  ApprovalConfig  `mapstructure:"approval"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
	Log       LogConfig       `mapstructure:"log"`
	Limits    LimitsConfig    `mapstructure:"limits"`
}

// AppConfig 應用程式基本配置.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Debug   bool   `mapstructure:"debug"`
}

// ServerConfig 伺服器配置.
type ServerConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Timeout  int    `mapstructure:"timeout"`
	UseHTTPS bool   `mapstructure:"use_https"`
	CertPath string `mapstructure:"cert_path"`
	KeyPath  string `mapstructure:"key_path"`
}

// VaultConfig 保險庫配置.
type VaultConfig struct {
	Dir             string `mapstructure:"dir"`               // 保險庫目錄（master.key、secrets.json、backups/ 等）
	AutoSave        bool   `mapstructure:"auto_save"`         // 每次變更後自動持久化
	CacheTTLSeconds int    `mapstructure:"cache_ttl_seconds"` // 解密快取有效期
	AuditEnabled    bool   `mapstructure:"audit_enabled"`
	AuditMaxEntries int    `mapstructure:"audit_max_entries"` // 審計環形緩衝區上限
}

// ApprovalConfig 核准配置.
type ApprovalConfig struct {
	DefaultDurationSeconds     int `mapstructure:"default_duration_seconds"`
	MaxDurationSeconds         int `mapstructure:"max_duration_seconds"`
	SolicitationTimeoutSeconds int `mapstructure:"solicitation_timeout_seconds"` // 等待核准者回應的截止時間
}

// ChannelConfig 通知通道配置.
type ChannelConfig struct {
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
	ReconnectIntervalSeconds int    `mapstructure:"reconnect_interval_seconds"`
	QueueSize                int    `mapstructure:"queue_size"`
	RateLimitEnabled         bool   `mapstructure:"rate_limit_enabled"`
	RateLimitPerMinute       int    `mapstructure:"rate_limit_per_minute"`
	SigningEnabled           bool   `mapstructure:"signing_enabled"`
	EncryptionEnabled        bool   `mapstructure:"encryption_enabled"`
	Secret                   string `mapstructure:"secret"` // 通道共享密鑰（簽名/加密密鑰由此派生）
}

// BootstrapConfig 啟動引導配置.
type BootstrapConfig struct {
	PairingTokenLifetimeMinutes   int `mapstructure:"pairing_token_lifetime_minutes"`
	StartupTokenLifetimeHours     int `mapstructure:"startup_token_lifetime_hours"`
	RecoveryCodeCount             int `mapstructure:"recovery_code_count"`
	StartupUnlockDurationSeconds  int `mapstructure:"startup_unlock_duration_seconds"`
	RecoveryUnlockDurationSeconds int `mapstructure:"recovery_unlock_duration_seconds"`
}

// LogConfig 日誌配置.
type LogConfig struct {
	RotationTimeHours int `mapstructure:"rotation_time_hours"` // 日誌輪轉時間 (小時).
	MaxAgeDays        int `mapstructure:"max_age_days"`        // 日誌保留天數.
	MaxSizeMB         int `mapstructure:"max_size_mb"`         // 單個日誌檔案最大大小 (MB).
}

// LimitsConfig 限制配置.
type LimitsConfig struct {
	Request      RequestLimitsConfig `mapstructure:"request"`
	RateLimiting RateLimitingConfig  `mapstructure:"rate_limiting"`
	Stream       StreamLimitsConfig  `mapstructure:"stream"`
}

// RequestLimitsConfig 請求限制配置.
type RequestLimitsConfig struct {
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// RateLimitingConfig Rate Limiting 配置.
type RateLimitingConfig struct {
	Enabled          bool `mapstructure:"enabled"`
	DefaultPerMinute int  `mapstructure:"default_per_minute"`
	SecretsPerMin    int  `mapstructure:"secrets_per_minute"`
	BootstrapPerMin  int  `mapstructure:"bootstrap_per_minute"`
	CleanupInterval  int  `mapstructure:"cleanup_interval_minutes"`
}

// StreamLimitsConfig 核准者串流限制配置.
type StreamLimitsConfig struct {
	MaxConnectionsPerIP   int `mapstructure:"max_connections_per_ip"`
	MinConnectionInterval int `mapstructure:"min_connection_interval_seconds"`
	HeartbeatInterval     int `mapstructure:"heartbeat_interval_seconds"`
	MessageChannelBuffer  int `mapstructure:"message_channel_buffer"`
}

var (
	config *Config
	// ENV 當前環境變數.
	ENV string = "local"
)

// Load 載入設定檔.
func Load(testCfg ...*Config) error {
	// 如果直接傳入配置（主要用於測試），設定並驗證
	if len(testCfg) > 0 && testCfg[0] != nil {
		config = testCfg[0]
		// 驗證配置
		if err := validateConfig(config); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}
		return nil
	}

	// 初始化 Viper
	v := viper.New()

	// 檢查是否有 CONFIG_PATH 環境變數
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		// 使用 CONFIG_PATH 指定的檔案
		v.SetConfigFile(configPath)
		// 從檔案名稱推斷環境
		baseName := filepath.Base(configPath)
		ENV = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	} else {
		// 使用預設的環境配置檔案
		v.SetConfigName(ENV)
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
	}

	// 讀取配置檔案
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("讀取配置檔案失敗: %w", err)
	}

	// 將配置綁定到結構體
	config = &Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("解析配置失敗: %w", err)
	}

	// 驗證配置
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("配置驗證失敗: %w", err)
	}

	return nil
}

// Get 取得設定.
func Get() *Config {
	return config
}

// SetEnv 設定環境.
func SetEnv(env string) {
	ENV = env
}

// GetEnv 取得當前環境.
func GetEnv() string {
	return ENV
}

// validateConfig 驗證配置的有效性
func validateConfig(cfg *Config) error {
	// 驗證應用程式配置
	if cfg.App.Name == "" {
		return fmt.Errorf("應用程式名稱不能為空")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("應用程式版本不能為空")
	}

	// 驗證伺服器配置
	if cfg.Server.Host == "" {
		return fmt.Errorf("伺服器主機不能為空")
	}
	if cfg.Server.Port == "" {
		return fmt.Errorf("伺服器端口不能為空")
	}
	if cfg.Server.Timeout <= 0 {
		return fmt.Errorf("伺服器超時時間必須大於 0")
	}

	// 驗證保險庫配置
	if cfg.Vault.Dir == "" {
		return fmt.Errorf("保險庫目錄不能為空")
	}
	if cfg.Vault.CacheTTLSeconds < 0 {
		return fmt.Errorf("解密快取有效期不能為負數")
	}

	// 驗證核准配置
	if cfg.Approval.MaxDurationSeconds > 0 &&
		cfg.Approval.DefaultDurationSeconds > cfg.Approval.MaxDurationSeconds {
		return fmt.Errorf("默認核准時長不能大於最大核准時長")
	}

	// 驗證通道配置
	if (cfg.Channel.SigningEnabled || cfg.Channel.EncryptionEnabled) && cfg.Channel.Secret == "" {
		return fmt.Errorf("啟用簽名或加密時必須設置通道密鑰")
	}

	// 驗證日誌配置
	if cfg.Log.RotationTimeHours <= 0 {
		return fmt.Errorf("日誌輪轉時間必須大於 0")
	}
	if cfg.Log.MaxAgeDays <= 0 {
		return fmt.Errorf("日誌保留天數必須大於 0")
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("日誌檔案最大大小必須大於 0")
	}

	return nil
}

// IsDebug 檢查是否為除錯模式
func IsDebug() bool {
	if config != nil {
		return config.App.Debug
	}
	return false
}

// GetServerAddr 取得伺服器地址
func GetServerAddr() string {
	if config != nil {
		return fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)
	}
	return "localhost:8080"
}

// GetVaultDir 取得保險庫目錄
func GetVaultDir() string {
	if config != nil {
		return config.Vault.Dir
	}
	return ""
}
