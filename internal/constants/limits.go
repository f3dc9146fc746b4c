package constants

// HTTP 請求相關常數
const (
	// 默認值（可被配置覆蓋）
	DefaultMaxRequestBodySize = 2 << 20 // 2MB（秘密值上限 1MiB + JSON/base64 膨脹）
	DefaultRequestTimeout     = 30      // 秒
)

// 秘密存儲相關常數
const (
	MaxSecretKeyLength  = 255
	MaxSecretValueSize  = 1 << 20 // 1MiB
	DefaultCacheTTL     = 60      // 解密快取有效期（秒）
	DefaultAuditMaxSize = 1000    // 審計日誌環形緩衝區上限
	SecretsFileVersion  = 1       // secrets.json 格式版本
)

// 核准相關常數
const (
	DefaultApprovalDuration    = 300   // 默認核准時長（秒）
	MaxApprovalDuration        = 86400 // 最大核准時長（秒）
	MinApprovalDuration        = 1     // 最小核准時長（秒）
	DefaultSolicitationTimeout = 300   // 等待核准者回應的截止時間（秒）
)

// 通知通道相關常數
const (
	DefaultHeartbeatInterval = 15   // 秒
	DefaultReconnectInterval = 5    // 秒
	DefaultQueueSize         = 100  // 離線訊息佇列上限
	DefaultChannelRateLimit  = 60   // 每個時間窗口允許的出站訊息數
	MaxSeenNonces            = 1000 // 重放保護 nonce 集合上限
	MessageStaleAfterSeconds = 60   // 超過此秒數的入站訊息視為過期
)

// 啟動引導相關常數
const (
	DefaultPairingTokenLifetimeMin   = 5   // 配對 token 有效期（分鐘）
	DefaultStartupTokenLifetimeHours = 720 // 啟動 token 有效期（小時）
	DefaultRecoveryCodeCount         = 10  // 一批恢復碼的數量
	DefaultStartupUnlockDuration     = 300 // 啟動解鎖核准時長（秒）
	DefaultRecoveryUnlockDuration    = 900 // 緊急恢復核准時長（秒）
)

// Rate Limiting 默認值
const (
	DefaultRateLimitPerMinute   = 100
	DefaultSecretsRateLimit     = 30
	DefaultBootstrapRateLimit   = 10
	RateLimitCleanupIntervalMin = 10 // 分鐘
)

// 核准者串流連接相關常數
const (
	DefaultStreamMaxConnectionsPerIP   = 1
	DefaultStreamMaxTotalConnections   = 4
	DefaultStreamMinConnectionInterval = 5  // 秒
	StreamConnectionCleanupIntervalMin = 10 // 分鐘
	StreamChannelBuffer                = 16 // 出站訊息通道緩衝
)

// 加密相關常數
const (
	MasterKeyLength = 32 // 256 bits
	GCMNonceLength  = 16 // bytes
	GCMTagLength    = 16 // bytes
)
