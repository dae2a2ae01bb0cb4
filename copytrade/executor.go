package copytrade

import "context"

// OrderRequest 下单请求
type OrderRequest struct {
	MarketID   string    `json:"market_id"`
	Outcome    string    `json:"outcome"`
	Side       TradeSide `json:"side"`
	Price      float64   `json:"price"`       // 限价（跟随源成交价）
	AmountUSDC float64   `json:"amount_usdc"` // 下单金额
	ClientID   string    `json:"client_id"`   // 幂等标识，透传跟单记录 ID
}

// OrderResult 下单结果
type OrderResult struct {
	OrderID    string  `json:"order_id"`
	TxHash     string  `json:"tx_hash"`
	FilledSize float64 `json:"filled_size"`
}

// OrderExecutor 订单执行器
// 实盘实现对接交易所，测试注入假实现
// 错误约定：限流/超时返回可被 IsTransient 识别的错误，拒单返回 ErrRejected
type OrderExecutor interface {
	SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
}
