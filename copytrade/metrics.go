package copytrade

import (
	"math"
	"sort"
	"time"
)

// MetricsCalculator 表现指标计算器
// 每次都从完整成交历史重算，不做增量更新，避免快照与历史不一致
type MetricsCalculator struct{}

// NewMetricsCalculator 创建指标计算器
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate 由成交历史计算表现快照
// 输入顺序不限，内部按时间升序排序；所有时间窗口相对最新成交时间，保证可重放
func (c *MetricsCalculator) Calculate(address string, trades []Trade) *PerformanceMetrics {
	m := &PerformanceMetrics{
		Address:      address,
		CalculatedAt: time.Now(),
	}
	if len(trades) == 0 {
		return m
	}

	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	m.TotalTrades = len(sorted)
	latest := sorted[len(sorted)-1].Timestamp
	earliest := sorted[0].Timestamp

	// ========== 胜负与盈亏统计（只统计已平仓成交）==========
	var (
		returns    []float64 // 单笔已实现盈亏序列（时间升序）
		grossWin   float64
		grossLoss  float64 // 绝对值
		cutoff7d   = latest.Add(-7 * 24 * time.Hour)
		cutoff30d  = latest.Add(-30 * 24 * time.Hour)
	)
	for i := range sorted {
		t := &sorted[i]
		m.TotalVolume += t.AmountUSDC
		if !t.RealizedPnL.Valid {
			continue
		}
		pnl := t.RealizedPnL.Value
		m.ClosedTrades++
		m.TotalPnL += pnl
		returns = append(returns, pnl)
		if pnl > 0 {
			m.WinningTrades++
			grossWin += pnl
		} else if pnl < 0 {
			m.LosingTrades++
			grossLoss += -pnl
		}
		if !t.Timestamp.Before(cutoff7d) {
			m.Momentum7d += pnl
		}
		if !t.Timestamp.Before(cutoff30d) {
			m.PnL30d += pnl
		}
	}

	if m.ClosedTrades > 0 {
		m.WinRate = Defined(float64(m.WinningTrades) / float64(m.ClosedTrades))
	}
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss / float64(m.LosingTrades)
	}
	if grossLoss > 0 {
		m.ProfitFactor = Defined(grossWin / grossLoss)
	}
	if m.ClosedTrades > 0 {
		m.Expectancy = Defined(m.TotalPnL / float64(m.ClosedTrades))
	}

	// ========== 权益曲线与最大回撤 ==========
	// 从 0 起步按时间累加已实现盈亏，峰值用包含起点的最高水位
	var equity, peak, maxDDPct, maxDDUSD float64
	for _, r := range returns {
		equity += r
		if equity > peak {
			peak = equity
		}
		dd := peak - equity
		if dd > maxDDUSD {
			maxDDUSD = dd
		}
		if peak > 0 {
			if pct := dd / peak; pct > maxDDPct {
				maxDDPct = pct
			}
		}
	}
	m.MaxDrawdown = maxDDPct
	m.MaxDrawdownUSDC = maxDDUSD
	m.PeakEquity = peak

	// ========== 交易频率 ==========
	spanDays := latest.Sub(earliest).Hours() / 24
	if spanDays < 1 {
		spanDays = 1 // 不足一天按一天算，避免频率虚高
	}
	m.TradesPerDay = float64(m.TotalTrades) / spanDays

	// ========== 风险调整收益 ==========
	if len(returns) >= 2 {
		mean := m.TotalPnL / float64(len(returns))
		var variance float64
		for _, r := range returns {
			variance += (r - mean) * (r - mean)
		}
		variance /= float64(len(returns) - 1)
		std := math.Sqrt(variance)
		m.ReturnStdDev = Defined(std)

		// 按交易频率年化：sqrt(每日笔数 × 365)
		annual := math.Sqrt(m.TradesPerDay * 365)
		if std > 0 {
			m.Sharpe = Defined(mean / std * annual)
		}

		// Sortino 只惩罚下行波动
		var downVar float64
		var downN int
		for _, r := range returns {
			if r < 0 {
				downVar += r * r
				downN++
			}
		}
		if downN > 0 {
			downStd := math.Sqrt(downVar / float64(downN))
			if downStd > 0 {
				m.Sortino = Defined(mean / downStd * annual)
			}
		}
	}

	if m.MaxDrawdownUSDC > 0 {
		m.Calmar = Defined(m.TotalPnL / m.MaxDrawdownUSDC)
	}

	return m
}
