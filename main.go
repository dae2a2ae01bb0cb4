package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/U0001F3A2/polymarket-copy/api"
	"github.com/U0001F3A2/polymarket-copy/clob"
	"github.com/U0001F3A2/polymarket-copy/config"
	"github.com/U0001F3A2/polymarket-copy/copytrade"
	"github.com/U0001F3A2/polymarket-copy/logger"
	"github.com/U0001F3A2/polymarket-copy/notify"
	"github.com/U0001F3A2/polymarket-copy/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("❌ 配置加载失败: %v", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logger.Errorf("❌ 日志初始化失败: %v", err)
		os.Exit(1)
	}

	db, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Errorf("❌ 数据库初始化失败: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	provider := copytrade.NewPolymarketProvider(cfg.DataAPIBase, cfg.RequestLimit, cfg.FetchTimeout)

	// 实盘才需要真实执行器，纸面模式不会触发下单调用
	var executor copytrade.OrderExecutor
	if !cfg.DryRun {
		client, err := clob.New(cfg.CLOBAPIBase, cfg.PrivateKey, cfg.FunderAddress, cfg.FetchTimeout)
		if err != nil {
			logger.Errorf("❌ CLOB 客户端初始化失败: %v", err)
			os.Exit(1)
		}
		logger.Infof("🔑 签名地址: %s", client.Address())
		executor = client
	}

	manager := copytrade.NewManager(cfg, db, provider, executor)

	if cfg.Telegram.Enabled {
		notifier, err := notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warnf("⚠️ Telegram 初始化失败，通知停用: %v", err)
		} else {
			manager.SetNotifier(notifier)
		}
	}

	if err := manager.Start(); err != nil {
		logger.Errorf("❌ 引擎启动失败: %v", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, db, manager)
	httpSrv := &http.Server{
		Addr:              cfg.APIListen,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("🌐 管理接口监听 %s", cfg.APIListen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("❌ HTTP 服务异常: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("🛑 收到退出信号，优雅关闭中...")
	manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		logger.Warnf("⚠️ HTTP 关闭超时: %v", err)
	}
	logger.Infof("✅ 已退出")
}
