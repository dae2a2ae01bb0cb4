package copytrade

import (
	"context"
	"fmt"
	"sync"

	"github.com/U0001F3A2/polymarket-copy/config"
	"github.com/U0001F3A2/polymarket-copy/logger"
	"github.com/U0001F3A2/polymarket-copy/store"
)

// Manager 引擎生命周期管理
// 负责装配与启停，API 层通过它操作引擎而不直接持有内部组件
type Manager struct {
	mu       sync.Mutex
	cfg      *config.Config
	db       *store.Store
	provider TradeProvider
	executor OrderExecutor
	notifier Notifier

	engine *Engine
	cancel context.CancelFunc
}

// NewManager 创建管理器
func NewManager(cfg *config.Config, db *store.Store, provider TradeProvider, executor OrderExecutor) *Manager {
	return &Manager{cfg: cfg, db: db, provider: provider, executor: executor}
}

// SetNotifier 注册通知器，对后续启动的引擎生效
func (m *Manager) SetNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifier = n
	if m.engine != nil {
		m.engine.SetNotifier(n)
	}
}

// Start 装配并启动引擎
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine != nil {
		return fmt.Errorf("引擎已在运行")
	}

	// 初始跟踪列表写入数据库（幂等）
	for _, addr := range m.cfg.TrackedTraders {
		if err := m.db.UpsertTrader(addr, TraderActive); err != nil {
			return fmt.Errorf("初始化跟踪列表失败: %w", err)
		}
	}

	engine, err := NewEngine(m.cfg, m.provider, m.executor, m.db)
	if err != nil {
		return err
	}
	if m.notifier != nil {
		engine.SetNotifier(m.notifier)
	}
	if m.cfg.WSEnabled {
		engine.SetStream(NewTradeStream(m.cfg.WSURL))
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Start(ctx); err != nil {
		cancel()
		return err
	}

	m.engine = engine
	m.cancel = cancel
	return nil
}

// Stop 停止引擎
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return
	}
	m.cancel()
	m.engine.Stop()
	m.engine = nil
	m.cancel = nil
}

// Restart 重启引擎（配置热更后调用）
func (m *Manager) Restart() error {
	m.Stop()
	logger.Infof("🔄 引擎重启中...")
	return m.Start()
}

// Running 引擎是否在运行
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine != nil
}

// Engine 当前引擎实例，未运行返回 nil
func (m *Manager) Engine() *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engine
}
