package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vault-gateway/internal/bootstrap"
	"vault-gateway/internal/notify"
	"vault-gateway/internal/platform/config"
	"vault-gateway/internal/platform/logger"
	"vault-gateway/internal/vault"
)

// Dependencies 伺服器依賴的領域組件
type Dependencies struct {
	Vault   *vault.Vault
	Channel *notify.Channel
	Tokens  *bootstrap.Manager
}

// Start 啟動伺服器.
// 阻塞直到收到關閉信號；關閉前沖刷保險庫並斷開核准者通道
func Start(deps *Dependencies) error {
	cfg := config.Get()
	ctx := context.Background()

	logger.LogInfof("正在啟動 VaultGateway API 伺服器，環境: %s", config.GetEnv())

	// setting router
	router := Router(deps)

	// create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.Timeout) * time.Second,
		WriteTimeout: 0, // 核准者串流需要長連接，設為 0 表示不超時
		IdleTimeout:  120 * time.Second,
	}

	// start server
	go func() {
		logger.LogInfof("伺服器正在監聽埠口: %s", cfg.Server.Port)

		var err error
		if cfg.Server.UseHTTPS {
			server.TLSConfig = NewTLSConfig()
			err = server.ListenAndServeTLS(cfg.Server.CertPath, cfg.Server.KeyPath)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.LogErrorf("伺服器啟動失敗: %v", err)
			os.Exit(1)
		}
	}()

	// 等待關閉信號
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.LogInfof("收到關閉信號，正在優雅關閉伺服器...")

	// 優雅關閉
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogErrorf("伺服器關閉失敗: %v", err)
		return err
	}

	// 斷開核准者通道並落盤
	deps.Channel.Close()
	if err := deps.Vault.Save(ctx); err != nil {
		logger.LogErrorf("關閉前保存保險庫失敗: %v", err)
	}

	logger.LogInfof("伺服器已優雅關閉")
	return nil
}
