package copytrade

import (
	"github.com/U0001F3A2/polymarket-copy/config"
)

// CompositeScore 综合评分明细 (0~100)
// 各分量已乘权重，Total 为分量之和
type CompositeScore struct {
	Address       string  `json:"address"`
	Total         float64 `json:"total"`
	WinRateScore  float64 `json:"win_rate_score"`  // 权重 25
	SharpeScore   float64 `json:"sharpe_score"`    // 权重 25
	DrawdownScore float64 `json:"drawdown_score"`  // 权重 25
	PnLScore      float64 `json:"pnl_score"`       // 权重 15
	MomentumScore float64 `json:"momentum_score"`  // 权重 10
}

// 评分权重，总和 100
const (
	weightWinRate  = 25.0
	weightSharpe   = 25.0
	weightDrawdown = 25.0
	weightPnL      = 15.0
	weightMomentum = 10.0
)

// CompositeScorer 交易员综合评分器
// 先做硬性准入，通过后再计算加权评分用于排序展示
type CompositeScorer struct {
	thresholds config.Thresholds
	norms      config.ScoreNorms
}

// NewCompositeScorer 创建评分器
func NewCompositeScorer(thresholds config.Thresholds, norms config.ScoreNorms) *CompositeScorer {
	return &CompositeScorer{thresholds: thresholds, norms: norms}
}

// CheckAdmission 准入判定
// 固定顺序检查：笔数 → 胜率 → 回撤 → 夏普 → 盈利，返回第一个未通过项
// 指标缺失视为未通过（样本不足不给钱）
func (s *CompositeScorer) CheckAdmission(m *PerformanceMetrics) AdmissionVerdict {
	if m.ClosedTrades < s.thresholds.MinTrades {
		return AdmissionVerdict{FailedCriterion: CriterionTradeCount}
	}
	if !m.WinRate.Valid || m.WinRate.Value < s.thresholds.MinWinRate {
		return AdmissionVerdict{FailedCriterion: CriterionWinRate}
	}
	if m.MaxDrawdown > s.thresholds.MaxDrawdown {
		return AdmissionVerdict{FailedCriterion: CriterionDrawdown}
	}
	if !m.Sharpe.Valid || m.Sharpe.Value < s.thresholds.MinSharpe {
		return AdmissionVerdict{FailedCriterion: CriterionSharpe}
	}
	if m.TotalPnL < s.thresholds.MinProfitUSD {
		return AdmissionVerdict{FailedCriterion: CriterionProfit}
	}
	return AdmissionVerdict{Passed: true}
}

// Score 计算综合评分
// 缺失指标按该分量 0 分处理，不影响其他分量
func (s *CompositeScorer) Score(m *PerformanceMetrics) CompositeScore {
	cs := CompositeScore{Address: m.Address}

	if m.WinRate.Valid {
		cs.WinRateScore = clamp01(m.WinRate.Value/s.norms.WinRateFull) * weightWinRate
	}
	if m.Sharpe.Valid {
		span := s.norms.SharpeCeil - s.norms.SharpeFloor
		cs.SharpeScore = clamp01((m.Sharpe.Value-s.norms.SharpeFloor)/span) * weightSharpe
	}
	if m.TotalPnL > 0 {
		cs.PnLScore = clamp01(m.TotalPnL/s.norms.PnLFull) * weightPnL
	}
	// 回撤越小分越高
	cs.DrawdownScore = clamp01(1-m.MaxDrawdown) * weightDrawdown
	if m.Momentum7d > 0 {
		cs.MomentumScore = clamp01(m.Momentum7d/s.norms.MomentumFull) * weightMomentum
	}

	cs.Total = cs.WinRateScore + cs.SharpeScore + cs.PnLScore + cs.DrawdownScore + cs.MomentumScore
	return cs
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
