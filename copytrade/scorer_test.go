package copytrade

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/U0001F3A2/polymarket-copy/config"
)

func testThresholds() config.Thresholds {
	return config.Thresholds{
		MinTrades:    20,
		MinWinRate:   0.55,
		MaxDrawdown:  0.40,
		MinSharpe:    0.5,
		MinProfitUSD: 100,
	}
}

func testNorms() config.ScoreNorms {
	return config.ScoreNorms{
		WinRateFull:  0.60,
		SharpeFloor:  -1,
		SharpeCeil:   3,
		PnLFull:      5000,
		MomentumFull: 500,
	}
}

// passingMetrics 全部阈值都通过的指标
func passingMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		Address:      "0xabc",
		ClosedTrades: 30,
		WinRate:      Defined(0.60),
		MaxDrawdown:  0.20,
		Sharpe:       Defined(1.5),
		TotalPnL:     800,
		Momentum7d:   100,
	}
}

func TestAdmissionPass(t *testing.T) {
	s := NewCompositeScorer(testThresholds(), testNorms())
	v := s.CheckAdmission(passingMetrics())
	assert.True(t, v.Passed)
	assert.Empty(t, v.FailedCriterion)
}

func TestAdmissionFixedOrder(t *testing.T) {
	s := NewCompositeScorer(testThresholds(), testNorms())

	// 胜率和回撤同时不达标时，先报靠前的胜率
	m := passingMetrics()
	m.WinRate = Defined(0.40)
	m.MaxDrawdown = 0.90
	v := s.CheckAdmission(m)
	assert.False(t, v.Passed)
	assert.Equal(t, CriterionWinRate, v.FailedCriterion)

	// 笔数不足优先于一切
	m.ClosedTrades = 5
	v = s.CheckAdmission(m)
	assert.Equal(t, CriterionTradeCount, v.FailedCriterion)
}

func TestAdmissionEachCriterion(t *testing.T) {
	s := NewCompositeScorer(testThresholds(), testNorms())

	cases := []struct {
		name     string
		mutate   func(*PerformanceMetrics)
		expected string
	}{
		{"回撤超限", func(m *PerformanceMetrics) { m.MaxDrawdown = 0.50 }, CriterionDrawdown},
		{"夏普不足", func(m *PerformanceMetrics) { m.Sharpe = Defined(0.1) }, CriterionSharpe},
		{"夏普缺失", func(m *PerformanceMetrics) { m.Sharpe = Undefined() }, CriterionSharpe},
		{"盈利不足", func(m *PerformanceMetrics) { m.TotalPnL = 50 }, CriterionProfit},
		{"胜率缺失", func(m *PerformanceMetrics) { m.WinRate = Undefined() }, CriterionWinRate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := passingMetrics()
			tc.mutate(m)
			v := s.CheckAdmission(m)
			assert.False(t, v.Passed)
			assert.Equal(t, tc.expected, v.FailedCriterion)
		})
	}
}

func TestScoreWeights(t *testing.T) {
	s := NewCompositeScorer(testThresholds(), testNorms())

	// 所有分量打满
	m := &PerformanceMetrics{
		WinRate:     Defined(0.80),
		Sharpe:      Defined(5),
		TotalPnL:    10000,
		MaxDrawdown: 0,
		Momentum7d:  1000,
	}
	cs := s.Score(m)
	assert.InDelta(t, 25, cs.WinRateScore, 1e-9)
	assert.InDelta(t, 25, cs.SharpeScore, 1e-9)
	assert.InDelta(t, 25, cs.DrawdownScore, 1e-9)
	assert.InDelta(t, 15, cs.PnLScore, 1e-9)
	assert.InDelta(t, 10, cs.MomentumScore, 1e-9)
	assert.InDelta(t, 100, cs.Total, 1e-9)
}

func TestScoreMissingMetricWorstComponent(t *testing.T) {
	s := NewCompositeScorer(testThresholds(), testNorms())

	m := &PerformanceMetrics{
		WinRate:     Undefined(),
		Sharpe:      Undefined(),
		TotalPnL:    0,
		MaxDrawdown: 1,
		Momentum7d:  -50,
	}
	cs := s.Score(m)
	// 缺失指标取该分量最差分，不会因为巧合的 0 被抬高
	assert.Zero(t, cs.WinRateScore)
	assert.Zero(t, cs.SharpeScore)
	assert.Zero(t, cs.PnLScore)
	assert.Zero(t, cs.DrawdownScore)
	assert.Zero(t, cs.MomentumScore)
	assert.Zero(t, cs.Total)
}

func TestScorePartialNormalization(t *testing.T) {
	s := NewCompositeScorer(testThresholds(), testNorms())

	m := &PerformanceMetrics{
		WinRate:     Defined(0.30), // 一半满分值
		Sharpe:      Defined(1),    // (1-(-1))/(3-(-1)) = 0.5
		TotalPnL:    2500,          // 一半
		MaxDrawdown: 0.40,
		Momentum7d:  250, // 一半
	}
	cs := s.Score(m)
	assert.InDelta(t, 12.5, cs.WinRateScore, 1e-9)
	assert.InDelta(t, 12.5, cs.SharpeScore, 1e-9)
	assert.InDelta(t, 7.5, cs.PnLScore, 1e-9)
	assert.InDelta(t, 15, cs.DrawdownScore, 1e-9)
	assert.InDelta(t, 5, cs.MomentumScore, 1e-9)
}
