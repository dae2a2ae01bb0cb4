package copytrade

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/U0001F3A2/polymarket-copy/config"
)

func TestBookReserveAndRelease(t *testing.T) {
	book := NewExposureBook(0)

	d := book.Reserve(func(current float64) SizingDecision {
		assert.Zero(t, current)
		return SizingDecision{FinalSize: 100}
	})
	assert.InDelta(t, 100, d.FinalSize, 1e-9)
	assert.InDelta(t, 100, book.Allocated(), 1e-9)

	book.Release(100)
	assert.Zero(t, book.Allocated())
}

func TestBookSkippedDecisionNotReserved(t *testing.T) {
	book := NewExposureBook(50)

	book.Reserve(func(current float64) SizingDecision {
		assert.InDelta(t, 50, current, 1e-9)
		return SizingDecision{Skip: true, SkipReason: SkipBelowMinimum}
	})
	assert.InDelta(t, 50, book.Allocated(), 1e-9)
}

func TestBookReleaseNeverNegative(t *testing.T) {
	book := NewExposureBook(10)
	book.Release(100)
	assert.Zero(t, book.Allocated())
}

// 两个并发准入的成交不能联手突破总敞口上限
func TestBookConcurrentReserveRespectsCap(t *testing.T) {
	cfg := config.Sizing{
		Bankroll:          1000,
		KellyFraction:     1,
		MaxSinglePosition: 0.40,
		MaxPortfolioAlloc: 0.50,
		MinTradeUSD:       1,
		MaxTradeUSD:       1000,
	}
	sizer := NewPositionSizer(cfg, MethodFixed)
	book := NewExposureBook(0)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			book.Reserve(func(current float64) SizingDecision {
				return sizer.Size(SizingInput{
					SourceNotional:  1e6,
					Equity:          cfg.Bankroll,
					CurrentExposure: current,
				})
			})
		}()
	}
	wg.Wait()

	// 上限 500：400 + 100，第三笔起低于最小金额被跳过
	assert.LessOrEqual(t, book.Allocated(), cfg.Bankroll*cfg.MaxPortfolioAlloc+1e-9)
}
