package copytrade

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/U0001F3A2/polymarket-copy/config"
	"github.com/U0001F3A2/polymarket-copy/store"
)

// ========== 测试替身 ==========

// fakeProvider 返回固定历史的假数据源
type fakeProvider struct {
	mu          sync.Mutex
	history     map[string][]Trade
	leaderboard []LeaderboardEntry
	err         error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{history: make(map[string][]Trade)}
}

func (p *fakeProvider) FetchTrades(ctx context.Context, address string, since time.Time) ([]Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	var out []Trade
	for _, t := range p.history[address] {
		if since.IsZero() || !t.Timestamp.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *fakeProvider) FetchPositions(ctx context.Context, address string) ([]Position, error) {
	return nil, nil
}

func (p *fakeProvider) PortfolioValue(ctx context.Context, address string) (float64, error) {
	return 10000, nil
}

func (p *fakeProvider) Leaderboard(ctx context.Context, period string, limit, offset int) ([]LeaderboardEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	if offset >= len(p.leaderboard) {
		return nil, nil
	}
	end := offset + limit
	if end > len(p.leaderboard) {
		end = len(p.leaderboard)
	}
	return p.leaderboard[offset:end], nil
}

// fakeExecutor 可编排失败序列的假执行器
type fakeExecutor struct {
	mu       sync.Mutex
	calls    int
	failures []error // 依次返回的错误，耗尽后成功
}

func (e *fakeExecutor) SubmitOrder(ctx context.Context, req OrderRequest) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if len(e.failures) > 0 {
		err := e.failures[0]
		e.failures = e.failures[1:]
		return nil, err
	}
	return &OrderResult{OrderID: fmt.Sprintf("order-%d", e.calls), FilledSize: req.AmountUSDC}, nil
}

// ========== 夹具 ==========

const testAddr = "0x1111111111111111111111111111111111111111"

func engineConfig(dryRun bool) *config.Config {
	return &config.Config{
		PollInterval:  30 * time.Second,
		RetryAttempts: 2,
		RetryBaseWait: time.Millisecond,
		Thresholds: config.Thresholds{
			MinTrades:    20,
			MinWinRate:   0.55,
			MaxDrawdown:  0.40,
			MinSharpe:    0.5,
			MinProfitUSD: 100,
		},
		Sizing: config.Sizing{
			Method:            MethodKelly,
			Bankroll:          1000,
			KellyFraction:     0.25,
			MaxSinglePosition: 0.10,
			MaxPortfolioAlloc: 0.50,
			MinTradeUSD:       1,
			MaxTradeUSD:       1000,
		},
		Norms: config.ScoreNorms{
			WinRateFull:  0.60,
			SharpeFloor:  -1,
			SharpeCeil:   3,
			PnLFull:      5000,
			MomentumFull: 500,
		},
		DryRun: dryRun,
	}
}

// admittedHistory 30 笔已平仓成交（胜率 2/3，回撤约 0.25），全部阈值通过
func admittedHistory(base time.Time) []Trade {
	var out []Trade
	pnls := []float64{20, 20, -10}
	for i := 0; i < 30; i++ {
		t := closedTrade(fmt.Sprintf("h%02d", i), pnls[i%3], base.Add(time.Duration(i)*24*time.Hour))
		t.TraderAddress = testAddr
		out = append(out, t)
	}
	return out
}

// newBuyTrade 水位之后待跟的买入成交
func newBuyTrade(id string, amount float64, at time.Time) Trade {
	return Trade{
		ID:            id,
		TraderAddress: testAddr,
		MarketID:      "0xcondition1",
		MarketTitle:   "Will it rain tomorrow?",
		Side:          SideBuy,
		Outcome:       "Yes",
		Size:          amount * 2,
		Price:         0.5,
		AmountUSDC:    amount,
		Timestamp:     at,
	}
}

type engineFixture struct {
	engine   *Engine
	provider *fakeProvider
	executor *fakeExecutor
	db       *store.Store
}

func newEngineFixture(t *testing.T, cfg *config.Config) *engineFixture {
	t.Helper()
	db, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.UpsertTrader(testAddr, TraderActive))

	provider := newFakeProvider()
	executor := &fakeExecutor{}
	engine, err := NewEngine(cfg, provider, executor, db)
	require.NoError(t, err)

	return &engineFixture{engine: engine, provider: provider, executor: executor, db: db}
}

// seed 写入历史并把水位推到 watermark 这笔成交，之后的才算新成交
func (f *engineFixture) seed(t *testing.T, trades []Trade, watermark *Trade) {
	t.Helper()
	f.provider.mu.Lock()
	f.provider.history[testAddr] = trades
	f.provider.mu.Unlock()
	if watermark != nil {
		require.NoError(t, f.db.AdvanceWatermark(testAddr, watermark.Timestamp, watermark.ID))
	}
}

// ========== 用例 ==========

func TestEngineDryRunCopiesNewTrade(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, append(history, buy), &history[len(history)-1])

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, store.StatusFilled, rec.Status)
	assert.True(t, rec.DryRun)
	assert.Equal(t, "new1", rec.SourceTradeID)
	assert.Equal(t, MethodKelly, rec.SizingMethod)
	// Kelly 建议超过源金额 50，被源金额封顶
	assert.InDelta(t, 50, rec.FinalSize, 1e-9)
	assert.Contains(t, rec.BindingCaps, CapSourceNotional)
	// 纸面模式不会触碰执行器
	assert.Zero(t, f.executor.calls)
	// 敞口已占用
	assert.InDelta(t, 50, f.engine.Book().Allocated(), 1e-9)

	// 水位推进到新成交
	trader, err := f.db.GetTrader(testAddr)
	require.NoError(t, err)
	assert.Equal(t, "new1", trader.WatermarkTrade)
}

func TestEngineIdempotentAcrossCycles(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, append(history, buy), &history[len(history)-1])

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)

	// 第二轮：水位已过，无新成交
	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	// 人为回拨水位模拟重启丢水位，幂等键兜底不产生第二条记录
	require.NoError(t, f.db.AdvanceWatermark(testAddr, history[len(history)-1].Timestamp, history[len(history)-1].ID))
	records, err = f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)

	all, err := f.db.ListRecords(testAddr, 100)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestEngineLiveExecutionFillsRecord(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(false))
	f.seed(t, append(history, buy), &history[len(history)-1])

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, store.StatusFilled, rec.Status)
	assert.False(t, rec.DryRun)
	assert.Equal(t, "order-1", rec.OrderID)
	assert.Equal(t, 1, f.executor.calls)
}

func TestEngineRejectedReleasesExposure(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(false))
	f.executor.failures = []error{fmt.Errorf("%w: insufficient liquidity", ErrRejected)}
	f.seed(t, append(history, buy), &history[len(history)-1])

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Equal(t, "rejected", rec.Reason)
	// 拒单是终态，不重试
	assert.Equal(t, 1, f.executor.calls)
	// 预留的敞口必须补偿释放
	assert.Zero(t, f.engine.Book().Allocated())

	// 失败也是终态，水位照常推进
	trader, err := f.db.GetTrader(testAddr)
	require.NoError(t, err)
	assert.Equal(t, "new1", trader.WatermarkTrade)
}

func TestEngineTransientErrorRetried(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(false))
	f.executor.failures = []error{fmt.Errorf("%w: 429", ErrRateLimited)}
	f.seed(t, append(history, buy), &history[len(history)-1])

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	// 限流重试一次后成交
	assert.Equal(t, store.StatusFilled, records[0].Status)
	assert.Equal(t, 2, f.executor.calls)
	assert.InDelta(t, 50, f.engine.Book().Allocated(), 1e-9)
}

func TestEngineAdmissionFailureSkips(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	// 只有 5 笔已平仓，笔数不达标
	var history []Trade
	for i := 0; i < 5; i++ {
		tr := closedTrade(fmt.Sprintf("h%d", i), 50, base.Add(time.Duration(i)*24*time.Hour))
		tr.TraderAddress = testAddr
		history = append(history, tr)
	}
	buy := newBuyTrade("new1", 50, base.Add(10*24*time.Hour))

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, append(history, buy), &history[len(history)-1])

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, store.StatusSkipped, rec.Status)
	assert.Equal(t, "admission:"+CriterionTradeCount, rec.Reason)
	assert.Zero(t, f.engine.Book().Allocated())

	// 准入结果回写展示字段
	trader, err := f.db.GetTrader(testAddr)
	require.NoError(t, err)
	assert.False(t, trader.AdmissionPassed)
	assert.Equal(t, CriterionTradeCount, trader.FailedCriterion)
}

func TestEngineSellSideNotCopied(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	sell := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))
	sell.Side = SideSell

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, append(history, sell), &history[len(history)-1])

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, store.StatusSkipped, records[0].Status)
	assert.Equal(t, "sell_side", records[0].Reason)
}

func TestEngineFeedFailureDoesNotAdvanceWatermark(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, history, &history[0])
	f.provider.mu.Lock()
	f.provider.err = fmt.Errorf("%w: down", ErrFeedUnavailable)
	f.provider.mu.Unlock()

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err) // 单个交易员失败不让整个周期报错
	assert.Empty(t, records)

	trader, err := f.db.GetTrader(testAddr)
	require.NoError(t, err)
	assert.Equal(t, history[0].ID, trader.WatermarkTrade)
}

func TestEnginePausedTraderIgnored(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, append(history, buy), &history[len(history)-1])
	require.NoError(t, f.db.SetTraderStatus(testAddr, TraderPaused))

	records, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestEngineRestartRestoresExposure(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	cfg := engineConfig(true)
	f := newEngineFixture(t, cfg)
	f.seed(t, append(history, buy), &history[len(history)-1])

	_, err := f.engine.RunCycle(context.Background())
	require.NoError(t, err)
	require.InDelta(t, 50, f.engine.Book().Allocated(), 1e-9)

	// 重建引擎（模拟进程重启），敞口从数据库恢复
	engine2, err := NewEngine(cfg, f.provider, f.executor, f.db)
	require.NoError(t, err)
	assert.InDelta(t, 50, engine2.Book().Allocated(), 1e-9)
}

func TestInsertRecordReportsDuplicate(t *testing.T) {
	f := newEngineFixture(t, engineConfig(false))

	first := &store.CopyTradeRecord{
		SourceTrader:  testAddr,
		SourceTradeID: "dup1",
		MarketID:      "0xcondition1",
		Side:          string(SideBuy),
		Status:        store.StatusFilled,
	}
	require.NoError(t, f.db.InsertRecord(first))

	// 同幂等键再插一条，必须报告未插入而不是装作成功
	dup := &store.CopyTradeRecord{
		SourceTrader:  testAddr,
		SourceTradeID: "dup1",
		MarketID:      "0xcondition1",
		Side:          string(SideBuy),
		Status:        store.StatusPending,
	}
	inserted, err := f.engine.insertRecord(dup)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestEngineConcurrentCyclesExecuteOnce(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	// 两个引擎共用数据库和执行器，模拟重叠周期同时处理同一笔成交
	f := newEngineFixture(t, engineConfig(false))
	f.seed(t, append(history, buy), &history[len(history)-1])
	engine2, err := NewEngine(engineConfig(false), f.provider, f.executor, f.db)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, e := range []*Engine{f.engine, engine2} {
		wg.Add(1)
		go func(e *Engine) {
			defer wg.Done()
			_, err := e.RunCycle(context.Background())
			assert.NoError(t, err)
		}(e)
	}
	wg.Wait()

	// 无论两轮怎样交错，这笔成交只允许执行一次、落一条记录
	assert.Equal(t, 1, f.executor.calls)
	all, err := f.db.ListRecords(testAddr, 100)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	// 输掉竞争的一方必须退还预留敞口
	assert.InDelta(t, 50, f.engine.Book().Allocated()+engine2.Book().Allocated(), 1e-9)
}

// blockingNotifier 阻塞到 release 关闭才返回的通知器
type blockingNotifier struct {
	called  chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) NotifyRecord(r *store.CopyTradeRecord) {
	close(n.called)
	<-n.release
}

func TestEngineNotifierDoesNotBlockCycle(t *testing.T) {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	history := admittedHistory(base)
	buy := newBuyTrade("new1", 50, base.Add(31*24*time.Hour))

	f := newEngineFixture(t, engineConfig(true))
	f.seed(t, append(history, buy), &history[len(history)-1])

	n := &blockingNotifier{called: make(chan struct{}), release: make(chan struct{})}
	f.engine.SetNotifier(n)
	defer close(n.release)

	// 通知通道卡死时周期必须照常完成
	done := make(chan struct{})
	go func() {
		_, err := f.engine.RunCycle(context.Background())
		assert.NoError(t, err)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("通知器阻塞拖住了轮询周期")
	}

	// 通知确有发出
	select {
	case <-n.called:
	case <-time.After(5 * time.Second):
		t.Fatal("跟单记录没有触发通知")
	}
}

func TestEngineDiscoverTraders(t *testing.T) {
	f := newEngineFixture(t, engineConfig(true))
	f.provider.mu.Lock()
	f.provider.leaderboard = []LeaderboardEntry{
		{Rank: "1", Address: "0xaaa", Name: "whale", PnL: 250000},
		{Rank: "2", Address: "0xbbb", Name: "shark", PnL: 80000},
		{Rank: "3", Address: "0xccc", Name: "fish", PnL: 500},
	}
	f.provider.mu.Unlock()

	// 盈亏门槛过滤掉尾部条目
	entries, err := f.engine.DiscoverTraders(context.Background(), 10000, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "0xaaa", entries[0].Address)
	assert.Equal(t, "0xbbb", entries[1].Address)

	// limit 截断
	entries, err = f.engine.DiscoverTraders(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestIsTransientClassification(t *testing.T) {
	assert.True(t, IsTransient(fmt.Errorf("wrap: %w", ErrRateLimited)))
	assert.True(t, IsTransient(ErrTimeout))
	assert.True(t, IsTransient(ErrFeedUnavailable))
	assert.False(t, IsTransient(ErrRejected))
	assert.False(t, IsTransient(errors.New("other")))
}
