// Package copytrade Polymarket 跟单决策核心
// 指标计算 → 综合评分准入 → 仓位计算 → 跟单执行编排
package copytrade

import (
	"time"
)

// TradeSide 交易方向
type TradeSide string

const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// Opposite 返回相反方向
func (s TradeSide) Opposite() TradeSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Trade 成交记录（标准化结构，来自 Data API，观测后不可变）
type Trade struct {
	ID            string    `json:"id"`             // 唯一标识 (txHash_timestamp)
	TraderAddress string    `json:"trader_address"` // 钱包地址 (0x 前缀)
	MarketID      string    `json:"market_id"`      // 市场 conditionId
	MarketTitle   string    `json:"market_title"`   // 市场标题（展示用）
	Side          TradeSide `json:"side"`           // "BUY" | "SELL"
	Outcome       string    `json:"outcome"`        // 结果代币 ("Yes" | "No" | 具体结果名)
	Size          float64   `json:"size"`           // 成交数量（结果代币）
	Price         float64   `json:"price"`          // 成交价格 (0~1, USDC)
	AmountUSDC    float64   `json:"amount_usdc"`    // 成交价值 (USDC)
	Timestamp     time.Time `json:"timestamp"`      // 成交时间
	TxHash        string    `json:"tx_hash"`        // 链上交易哈希
	RealizedPnL   Metric    `json:"realized_pnl"`   // 已实现盈亏（未平仓时 Valid=false）
}

// Closed 该笔成交是否已有确定盈亏
func (t *Trade) Closed() bool {
	return t.RealizedPnL.Valid
}

// Position 持仓信息（Data API 快照）
type Position struct {
	TraderAddress string    `json:"trader_address"`
	MarketID      string    `json:"market_id"`
	MarketTitle   string    `json:"market_title"`
	Outcome       string    `json:"outcome"`
	Size          float64   `json:"size"`
	AvgPrice      float64   `json:"avg_price"`
	CurrentPrice  float64   `json:"current_price"`
	CurrentValue  float64   `json:"current_value"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Metric 带缺失语义的指标值
// 分母为零、样本不足等情况下 Valid=false，绝不与 0 混淆
type Metric struct {
	Value float64 `json:"value"`
	Valid bool    `json:"valid"`
}

// Defined 构造有效指标
func Defined(v float64) Metric {
	return Metric{Value: v, Valid: true}
}

// Undefined 构造缺失指标
func Undefined() Metric {
	return Metric{}
}

// Or 取值，缺失时返回 fallback
func (m Metric) Or(fallback float64) float64 {
	if m.Valid {
		return m.Value
	}
	return fallback
}

// PerformanceMetrics 交易员表现快照
// 由完整成交历史按需重算，历史才是事实源，快照只是缓存
type PerformanceMetrics struct {
	Address      string    `json:"address"`
	CalculatedAt time.Time `json:"calculated_at"`

	// 基础统计
	TotalTrades  int     `json:"total_trades"`
	ClosedTrades int     `json:"closed_trades"`
	TotalVolume  float64 `json:"total_volume"`
	TotalPnL     float64 `json:"total_pnl"`

	// 胜负统计
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       Metric  `json:"win_rate"` // [0,1]，无已平仓成交时缺失
	AvgWin        float64 `json:"avg_win"`  // 无盈利成交时为 0
	AvgLoss       float64 `json:"avg_loss"` // 亏损绝对值均值，无亏损成交时为 0
	ProfitFactor  Metric  `json:"profit_factor"`
	Expectancy    Metric  `json:"expectancy"`

	// 风险指标
	MaxDrawdown     float64 `json:"max_drawdown"` // 权益曲线最大回撤比例 [0,1]
	MaxDrawdownUSDC float64 `json:"max_drawdown_usdc"`
	PeakEquity      float64 `json:"peak_equity"`
	Sharpe          Metric  `json:"sharpe"`        // 年化，<2 笔已平仓或零方差时缺失
	Sortino         Metric  `json:"sortino"`       // 无负收益时缺失
	Calmar          Metric  `json:"calmar"`        // 回撤为 0 时缺失
	ReturnStdDev    Metric  `json:"return_stddev"` // 单笔收益标准差（风险平价用）

	// 时间维度
	TradesPerDay float64 `json:"trades_per_day"`
	Momentum7d   float64 `json:"momentum_7d"` // 最近 7 天已实现盈亏（相对最新成交时间）
	PnL30d       float64 `json:"pnl_30d"`
}

// AdmissionVerdict 准入判定结果
// 按固定顺序检查，记录第一个未通过的条件
type AdmissionVerdict struct {
	Passed          bool   `json:"passed"`
	FailedCriterion string `json:"failed_criterion,omitempty"`
}

// 准入条件标识（固定检查顺序：笔数 → 胜率 → 回撤 → 夏普 → 盈利）
const (
	CriterionTradeCount = "trade_count"
	CriterionWinRate    = "win_rate"
	CriterionDrawdown   = "drawdown"
	CriterionSharpe     = "sharpe"
	CriterionProfit     = "profit"
)

// TrackedTrader 被跟踪的交易员
type TrackedTrader struct {
	Address         string    `json:"address"`
	Status          string    `json:"status"`           // "active" | "paused"
	WatermarkTime   time.Time `json:"watermark_time"`   // 已处理成交的时间水位
	WatermarkTrade  string    `json:"watermark_trade"`  // 水位处的成交 ID
	AdmissionPassed bool      `json:"admission_passed"` // 最近一次准入结果（展示用，每笔决策都会重算）
	FailedCriterion string    `json:"failed_criterion"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

const (
	TraderActive = "active"
	TraderPaused = "paused"
)

// EngineStats 引擎统计
type EngineStats struct {
	CyclesCompleted int64     `json:"cycles_completed"`
	TradesObserved  int64     `json:"trades_observed"`
	TradesCopied    int64     `json:"trades_copied"`
	TradesSkipped   int64     `json:"trades_skipped"`
	TradesFailed    int64     `json:"trades_failed"`
	LastCycleAt     time.Time `json:"last_cycle_at"`
	StartTime       time.Time `json:"start_time"`
}
