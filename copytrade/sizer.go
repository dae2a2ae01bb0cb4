package copytrade

import (
	"math"

	"github.com/U0001F3A2/polymarket-copy/config"
)

// 仓位计算方法
const (
	MethodKelly      = "kelly"
	MethodFixed      = "fixed_fraction"
	MethodRiskParity = "risk_parity"
)

// 跳过原因
const (
	SkipNoEdge       = "no_edge"       // Kelly 无优势或波动率缺失
	SkipBelowMinimum = "below_minimum" // 封顶后低于最小下单金额
)

// 封顶标识（审计用，记录实际生效的约束）
const (
	CapSourceNotional = "source_notional"
	CapSinglePosition = "single_position"
	CapPortfolioAlloc = "portfolio_allocation"
	CapMaxTrade       = "max_trade"
)

// SizingDecision 单笔仓位决策
type SizingDecision struct {
	Method      string   `json:"method"`
	RawFraction float64  `json:"raw_fraction"` // 封顶前的资金比例
	FinalSize   float64  `json:"final_size"`   // 最终下单金额 (USDC)，Skip 时为 0
	BindingCaps []string `json:"binding_caps"` // 实际生效的封顶项
	Skip        bool     `json:"skip"`
	SkipReason  string   `json:"skip_reason,omitempty"`
}

// SizingInput 仓位计算输入
// 只读快照，计算器不修改任何组合状态
type SizingInput struct {
	Metrics         *PerformanceMetrics
	SourceNotional  float64   // 被跟单成交的名义金额 (USDC)
	Equity          float64   // 本组合权益
	CurrentExposure float64   // 当前已分配敞口
	PeerVols        []float64 // 同组交易员的收益标准差（风险平价用）
}

// PositionSizer 仓位计算器
// 纯计算，敞口的读取与提交由引擎在临界区内完成
type PositionSizer struct {
	cfg    config.Sizing
	method string
}

// NewPositionSizer 创建仓位计算器
func NewPositionSizer(cfg config.Sizing, method string) *PositionSizer {
	switch method {
	case MethodKelly, MethodFixed, MethodRiskParity:
	default:
		method = MethodKelly
	}
	return &PositionSizer{cfg: cfg, method: method}
}

// Size 计算单笔跟单金额
// 方法算出比例后按固定顺序封顶：单仓上限 → 总敞口上限 → [最小,最大] 下单区间
// 封顶后低于最小金额直接跳过，绝不向上取整
func (s *PositionSizer) Size(in SizingInput) SizingDecision {
	d := SizingDecision{Method: s.method}

	var fraction float64
	switch s.method {
	case MethodKelly:
		frac, ok := s.kellyFraction(in.Metrics)
		if !ok {
			d.Skip = true
			d.SkipReason = SkipNoEdge
			return d
		}
		fraction = frac
	case MethodFixed:
		fraction = s.cfg.MaxSinglePosition
	case MethodRiskParity:
		frac, ok := s.riskParityFraction(in.Metrics, in.PeerVols)
		if !ok {
			d.Skip = true
			d.SkipReason = SkipNoEdge
			return d
		}
		fraction = frac
	}
	d.RawFraction = fraction

	size := fraction * in.Equity

	// 不超过被跟单者的实际下注额
	if in.SourceNotional > 0 && size > in.SourceNotional {
		size = in.SourceNotional
		d.BindingCaps = append(d.BindingCaps, CapSourceNotional)
	}

	// (1) 单仓上限
	if singleCap := in.Equity * s.cfg.MaxSinglePosition; size > singleCap {
		size = singleCap
		d.BindingCaps = append(d.BindingCaps, CapSinglePosition)
	}

	// (2) 总敞口上限
	remaining := in.Equity*s.cfg.MaxPortfolioAlloc - in.CurrentExposure
	if remaining < 0 {
		remaining = 0
	}
	if size > remaining {
		size = remaining
		d.BindingCaps = append(d.BindingCaps, CapPortfolioAlloc)
	}

	// (3) 下单金额区间
	if size > s.cfg.MaxTradeUSD {
		size = s.cfg.MaxTradeUSD
		d.BindingCaps = append(d.BindingCaps, CapMaxTrade)
	}
	if size < s.cfg.MinTradeUSD || size <= 0 {
		d.Skip = true
		d.SkipReason = SkipBelowMinimum
		return d
	}

	d.FinalSize = size
	return d
}

// kellyFraction Kelly 公式 f* = (p·b − q)/b
// p 为胜率，b 为盈亏比；无优势 (f* ≤ 0) 或比率缺失时不下注
// 折减后再乘 (1 − 回撤) 作为回撤惩罚
func (s *PositionSizer) kellyFraction(m *PerformanceMetrics) (float64, bool) {
	if m == nil || !m.WinRate.Valid || m.AvgLoss <= 0 || m.AvgWin <= 0 {
		return 0, false
	}
	p := m.WinRate.Value
	q := 1 - p
	b := m.AvgWin / m.AvgLoss

	kelly := (p*b - q) / b
	if kelly <= 0 {
		return 0, false
	}

	fraction := kelly * s.cfg.KellyFraction
	fraction *= 1 - math.Min(m.MaxDrawdown, 0.9)
	return fraction, true
}

// riskParityFraction 风险平价：比例与波动率成反比
// 以同组交易员的均值波动为基准，波动低者放大、波动高者缩小，倍率封顶 2 倍
func (s *PositionSizer) riskParityFraction(m *PerformanceMetrics, peerVols []float64) (float64, bool) {
	if m == nil || !m.ReturnStdDev.Valid || m.ReturnStdDev.Value <= 0 {
		return 0, false
	}

	multiplier := 1.0
	if len(peerVols) >= s.cfg.RiskParityLookback {
		var sum float64
		var n int
		for _, v := range peerVols {
			if v > 0 {
				sum += v
				n++
			}
		}
		if n > 0 {
			avg := sum / float64(n)
			multiplier = math.Min(avg/m.ReturnStdDev.Value, 2.0)
		}
	}

	return s.cfg.MaxSinglePosition * multiplier, true
}
