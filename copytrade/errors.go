package copytrade

import "errors"

// 错误分类：瞬时错误重试，终态错误记录后放弃
var (
	// ErrRateLimited 数据源或交易所限流（瞬时，退避后重试）
	ErrRateLimited = errors.New("rate limited")
	// ErrFeedUnavailable 数据源不可用（瞬时）
	ErrFeedUnavailable = errors.New("feed unavailable")
	// ErrTimeout 请求超时（瞬时）
	ErrTimeout = errors.New("request timeout")
	// ErrRejected 订单被交易所拒绝（终态，不重试）
	ErrRejected = errors.New("order rejected")
	// ErrInsufficientData 历史样本不足，无法计算指标（终态）
	ErrInsufficientData = errors.New("insufficient trade history")
)

// IsTransient 是否可重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrFeedUnavailable) ||
		errors.Is(err, ErrTimeout)
}
