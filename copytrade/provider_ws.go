package copytrade

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/U0001F3A2/polymarket-copy/logger"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Polymarket 实时成交推送（事件驱动模式）
// ============================================================================

const (
	// 心跳间隔（服务端要求保持活跃，用 30 秒）
	wsHeartbeatInterval = 30 * time.Second
	// 重连延迟
	wsReconnectDelay = 3 * time.Second
)

// TradeStream Polymarket 实时成交流
// 推送只用来触发即时轮询，成交事实仍以 REST 全量历史为准，
// 避免推送乱序或丢包影响盈亏重放
type TradeStream struct {
	wsURL          string
	reconnectDelay time.Duration
	conn           *websocket.Conn
	connMu         sync.Mutex

	// 关注的钱包地址（小写），服务端按 topic 广播，本地过滤
	watched   map[string]struct{}
	watchedMu sync.RWMutex

	// 回调函数
	onTrade func(Trade)

	// 控制
	stopCh    chan struct{}
	running   bool
	runningMu sync.RWMutex
}

// NewTradeStream 创建实时成交流
func NewTradeStream(wsURL string) *TradeStream {
	return &TradeStream{
		wsURL:          wsURL,
		reconnectDelay: wsReconnectDelay,
		watched:        make(map[string]struct{}),
		stopCh:         make(chan struct{}),
	}
}

// SetOnTrade 注册成交回调
func (s *TradeStream) SetOnTrade(callback func(Trade)) {
	s.onTrade = callback
}

// Watch 添加关注地址
func (s *TradeStream) Watch(address string) {
	s.watchedMu.Lock()
	s.watched[strings.ToLower(address)] = struct{}{}
	s.watchedMu.Unlock()
}

// Unwatch 移除关注地址
func (s *TradeStream) Unwatch(address string) {
	s.watchedMu.Lock()
	delete(s.watched, strings.ToLower(address))
	s.watchedMu.Unlock()
}

// Connect 连接并订阅成交频道
func (s *TradeStream) Connect() error {
	if err := s.connect(); err != nil {
		return err
	}

	go s.readLoop()
	go s.heartbeatLoop()

	s.runningMu.Lock()
	s.running = true
	s.runningMu.Unlock()

	logger.Infof("🔌 [PM-WS] 实时成交流已连接: %s", s.wsURL)
	return nil
}

// Close 关闭连接
func (s *TradeStream) Close() error {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return nil
	}
	s.running = false
	s.runningMu.Unlock()

	close(s.stopCh)

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// ============================================================================
// 连接管理
// ============================================================================

func (s *TradeStream) connect() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	s.conn = conn

	// 订阅全站成交活动，地址过滤在本地做
	msg := map[string]interface{}{
		"action": "subscribe",
		"subscriptions": []map[string]string{
			{"topic": "activity", "type": "trades"},
		},
	}
	data, _ := json.Marshal(msg)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("subscribe trades failed: %w", err)
	}

	logger.Infof("🔌 [PM-WS] WebSocket 连接成功，已订阅 activity/trades")
	return nil
}

func (s *TradeStream) reconnect() {
	s.runningMu.RLock()
	running := s.running
	s.runningMu.RUnlock()
	if !running {
		return
	}

	logger.Warnf("⚠️ [PM-WS] 连接断开，%v 后重连...", s.reconnectDelay)
	time.Sleep(s.reconnectDelay)

	for {
		s.runningMu.RLock()
		running := s.running
		s.runningMu.RUnlock()
		if !running {
			return
		}

		if err := s.connect(); err != nil {
			logger.Warnf("⚠️ [PM-WS] 重连失败: %v，%v 后重试...", err, s.reconnectDelay)
			time.Sleep(s.reconnectDelay)
			continue
		}

		logger.Infof("✅ [PM-WS] 重连成功")
		// 旧读循环在断开时已退出，必须重新拉起
		go s.readLoop()
		return
	}
}

// ============================================================================
// 消息处理
// ============================================================================

func (s *TradeStream) readLoop() {
	for {
		s.runningMu.RLock()
		running := s.running
		s.runningMu.RUnlock()
		if !running {
			return
		}

		s.connMu.Lock()
		conn := s.conn
		s.connMu.Unlock()

		if conn == nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Warnf("⚠️ [PM-WS] 读取消息失败: %v", err)
			go s.reconnect()
			return
		}

		s.handleMessage(message)
	}
}

func (s *TradeStream) handleMessage(message []byte) {
	var msg struct {
		Topic   string          `json:"topic"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	switch {
	case msg.Topic == "activity" && msg.Type == "trades":
		s.handleTradeEvent(msg.Payload)
	case msg.Type == "pong":
		// 心跳响应，忽略
	default:
		logger.Debugf("📡 [PM-WS] 未知消息: topic=%s type=%s", msg.Topic, msg.Type)
	}
}

func (s *TradeStream) handleTradeEvent(payload json.RawMessage) {
	var raw rawTrade
	if err := json.Unmarshal(payload, &raw); err != nil {
		logger.Warnf("⚠️ [PM-WS] 解析成交推送失败: %v", err)
		return
	}

	addr := strings.ToLower(raw.ProxyWallet)
	s.watchedMu.RLock()
	_, interested := s.watched[addr]
	s.watchedMu.RUnlock()
	if !interested {
		return
	}

	trade, ok := normalizeTrade(&raw, addr)
	if !ok {
		return
	}

	if s.onTrade != nil {
		logger.Infof("📡 [PM-WS] 收到成交推送 | %s %s %s | 价格=%.4f 金额=%.2f",
			shortAddr(addr), trade.Side, trade.MarketTitle, trade.Price, trade.AmountUSDC)
		s.onTrade(trade)
	}
}

// ============================================================================
// 心跳保活
// ============================================================================

func (s *TradeStream) heartbeatLoop() {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.connMu.Lock()
			conn := s.conn
			s.connMu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"ping"}`)); err != nil {
				logger.Warnf("⚠️ [PM-WS] 心跳发送失败: %v", err)
			}
		}
	}
}

// shortAddr 地址缩写展示 (0x1234..abcd)
func shortAddr(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
