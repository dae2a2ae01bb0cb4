package copytrade

import (
	"sync"
)

// ExposureBook 全局敞口账本
// 所有交易员的仓位计算共用一把锁：读敞口 → 算仓位 → 预留敞口必须原子完成，
// 否则两个并发准入的成交会联手突破总敞口上限。临界区内不做任何网络调用
type ExposureBook struct {
	mu        sync.Mutex
	allocated float64
}

// NewExposureBook 创建敞口账本
func NewExposureBook(initial float64) *ExposureBook {
	if initial < 0 {
		initial = 0
	}
	return &ExposureBook{allocated: initial}
}

// Allocated 当前已分配敞口
func (b *ExposureBook) Allocated() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.allocated
}

// Reserve 在临界区内执行仓位计算并预留敞口
// size 回调拿到的是锁内一致的当前敞口；决策未跳过时立即把金额计入敞口
func (b *ExposureBook) Reserve(size func(currentExposure float64) SizingDecision) SizingDecision {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := size(b.allocated)
	if !d.Skip && d.FinalSize > 0 {
		b.allocated += d.FinalSize
	}
	return d
}

// Release 释放敞口（执行失败后的补偿更新）
func (b *ExposureBook) Release(amount float64) {
	if amount <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allocated -= amount
	if b.allocated < 0 {
		b.allocated = 0
	}
}
