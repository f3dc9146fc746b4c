package server

import "crypto/tls"

// NewTLSConfig HTTPS 伺服器的 TLS 配置
// 憑證與私鑰路徑由 ListenAndServeTLS 傳入，這裡只收緊協議參數
func NewTLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS13, // 只接受 TLS 1.3
	}
}
