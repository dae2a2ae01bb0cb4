package copytrade

import (
	"context"
	"time"

	"github.com/U0001F3A2/polymarket-copy/logger"
)

// retryTransient 有界指数退避重试
// 只重试瞬时错误（限流/超时/数据源不可用），终态错误立即返回
func retryTransient(ctx context.Context, attempts int, baseWait time.Duration, op string, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	wait := baseWait
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		logger.Warnf("⚠️ %s 失败 (第 %d/%d 次): %v，%v 后重试", op, i+1, attempts, err, wait)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
