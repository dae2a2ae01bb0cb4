package copytrade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/U0001F3A2/polymarket-copy/config"
	"github.com/U0001F3A2/polymarket-copy/logger"
	"github.com/U0001F3A2/polymarket-copy/store"
)

// Notifier 跟单结果通知
type Notifier interface {
	NotifyRecord(r *store.CopyTradeRecord)
}

// Engine 跟单引擎
// 每个轮询周期：拉取跟踪交易员的完整成交历史 → 重算指标与准入 →
// 对水位之后的新成交逐笔决策（评分准入 → 仓位计算 → 下单/记录）→ 推进水位
type Engine struct {
	cfg        *config.Config
	provider   TradeProvider
	executor   OrderExecutor
	calculator *MetricsCalculator
	scorer     *CompositeScorer
	sizer      *PositionSizer
	book       *ExposureBook
	db         *store.Store
	notifier   Notifier
	stream     *TradeStream // 可选，推送只用于触发即时轮询

	// 运行状态
	stopCh    chan struct{}
	nudgeCh   chan struct{} // 收到推送后立即发起一轮
	running   bool
	runningMu sync.RWMutex

	stats   EngineStats
	statsMu sync.Mutex
}

// NewEngine 创建跟单引擎
// 启动前用数据库里的未了结敞口恢复账本，重启不会重复占用额度
func NewEngine(cfg *config.Config, provider TradeProvider, executor OrderExecutor, db *store.Store) (*Engine, error) {
	openExposure, err := db.OpenExposure()
	if err != nil {
		return nil, fmt.Errorf("恢复敞口失败: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		provider:   provider,
		executor:   executor,
		calculator: NewMetricsCalculator(),
		scorer:     NewCompositeScorer(cfg.Thresholds, cfg.Norms),
		sizer:      NewPositionSizer(cfg.Sizing, cfg.Sizing.Method),
		book:       NewExposureBook(openExposure),
		db:         db,
		stopCh:     make(chan struct{}),
		nudgeCh:    make(chan struct{}, 1),
	}
	e.stats.StartTime = time.Now()
	return e, nil
}

// SetNotifier 注册通知器
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetStream 注册实时成交流
func (e *Engine) SetStream(s *TradeStream) {
	e.stream = s
	s.SetOnTrade(func(t Trade) {
		// 推送不直接进决策管线，只是提前触发下一轮 REST 对账
		select {
		case e.nudgeCh <- struct{}{}:
		default:
		}
	})
}

// Book 敞口账本（API 展示用）
func (e *Engine) Book() *ExposureBook {
	return e.book
}

// Stats 引擎统计快照
func (e *Engine) Stats() EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	return e.stats
}

// ============================================================
// 生命周期
// ============================================================

// Start 启动轮询循环
func (e *Engine) Start(ctx context.Context) error {
	e.runningMu.Lock()
	if e.running {
		e.runningMu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.runningMu.Unlock()

	if e.stream != nil {
		traders, err := e.db.ListTraders()
		if err == nil {
			for _, t := range traders {
				e.stream.Watch(t.Address)
			}
		}
		if err := e.stream.Connect(); err != nil {
			logger.Warnf("⚠️ 实时成交流连接失败，仅靠轮询: %v", err)
		}
	}

	logger.Infof("🚀 跟单引擎启动 | 轮询间隔=%v 资金=%.2f 模式=%s",
		e.cfg.PollInterval, e.cfg.Sizing.Bankroll, e.modeLabel())

	go e.pollLoop(ctx)
	return nil
}

// Stop 停止引擎，在途评估允许走到终态
func (e *Engine) Stop() {
	e.runningMu.Lock()
	if !e.running {
		e.runningMu.Unlock()
		return
	}
	e.running = false
	e.runningMu.Unlock()

	close(e.stopCh)
	if e.stream != nil {
		e.stream.Close()
	}
	logger.Infof("🛑 跟单引擎已停止")
}

func (e *Engine) modeLabel() string {
	if e.cfg.DryRun {
		return "纸面"
	}
	return "实盘"
}

func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	// 启动先跑一轮
	e.runCycleLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.runCycleLogged(ctx)
		case <-e.nudgeCh:
			e.runCycleLogged(ctx)
		}
	}
}

func (e *Engine) runCycleLogged(ctx context.Context) {
	if _, err := e.RunCycle(ctx); err != nil {
		logger.Errorf("❌ 轮询周期失败: %v", err)
	}
}

// ============================================================
// 轮询周期
// ============================================================

// traderSnapshot 单个交易员的周期内快照
type traderSnapshot struct {
	trader  *store.TrackedTrader
	history []Trade
	metrics *PerformanceMetrics
	err     error
}

// RunCycle 执行一个完整轮询周期，返回本周期产生的跟单记录
// 两阶段：先并发取全量历史并重算所有人的指标（风险平价需要同组波动率），
// 再并发逐交易员处理新成交；仓位计算共用账本临界区
func (e *Engine) RunCycle(ctx context.Context) ([]*store.CopyTradeRecord, error) {
	traders, err := e.db.ListTraders()
	if err != nil {
		return nil, fmt.Errorf("读取跟踪列表失败: %w", err)
	}

	active := traders[:0]
	for _, t := range traders {
		if t.Status == TraderActive {
			active = append(active, t)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	// ========== 阶段一：并发拉历史、算指标 ==========
	snapshots := make([]*traderSnapshot, len(active))
	var wg sync.WaitGroup
	for i, t := range active {
		wg.Add(1)
		go func(i int, t *store.TrackedTrader) {
			defer wg.Done()
			snap := &traderSnapshot{trader: t}
			snap.err = retryTransient(ctx, e.cfg.RetryAttempts, e.cfg.RetryBaseWait,
				"拉取成交历史 "+shortAddr(t.Address), func() error {
					history, err := e.provider.FetchTrades(ctx, t.Address, time.Time{})
					if err != nil {
						return err
					}
					snap.history = history
					return nil
				})
			if snap.err == nil {
				snap.metrics = e.calculator.Calculate(t.Address, snap.history)
			}
			snapshots[i] = snap
		}(i, t)
	}
	wg.Wait()

	// 同组波动率（风险平价用）
	var peerVols []float64
	for _, snap := range snapshots {
		if snap.err == nil && snap.metrics.ReturnStdDev.Valid {
			peerVols = append(peerVols, snap.metrics.ReturnStdDev.Value)
		}
	}

	// ========== 阶段二：并发处理新成交 ==========
	var (
		recordsMu sync.Mutex
		records   []*store.CopyTradeRecord
	)
	for _, snap := range snapshots {
		if snap.err != nil {
			logger.Warnf("⚠️ 交易员 %s 本周期跳过: %v", shortAddr(snap.trader.Address), snap.err)
			continue
		}
		wg.Add(1)
		go func(snap *traderSnapshot) {
			defer wg.Done()
			rs := e.processTrader(ctx, snap, peerVols)
			if len(rs) > 0 {
				recordsMu.Lock()
				records = append(records, rs...)
				recordsMu.Unlock()
			}
		}(snap)
	}
	wg.Wait()

	e.statsMu.Lock()
	e.stats.CyclesCompleted++
	e.stats.LastCycleAt = time.Now()
	e.statsMu.Unlock()

	// 周期末采样权益曲线
	allocated := e.book.Allocated()
	if err := e.db.AppendEquityPoint(e.cfg.Sizing.Bankroll, allocated, 0); err != nil {
		logger.Warnf("⚠️ 写入权益曲线失败: %v", err)
	}

	return records, nil
}

// processTrader 处理单个交易员水位之后的新成交
// 每笔成交只有到达终态才推进水位，持久化失败就地中止，下周期重放（幂等键兜底）
func (e *Engine) processTrader(ctx context.Context, snap *traderSnapshot, peerVols []float64) []*store.CopyTradeRecord {
	t := snap.trader
	verdict := e.scorer.CheckAdmission(snap.metrics)
	if err := e.db.UpdateAdmission(t.Address, verdict.Passed, verdict.FailedCriterion); err != nil {
		logger.Warnf("⚠️ 更新准入状态失败 %s: %v", shortAddr(t.Address), err)
	}

	newTrades := e.newTradesSince(snap.history, t)
	if len(newTrades) == 0 {
		return nil
	}
	logger.Infof("📊 %s 发现 %d 笔新成交 | 准入=%v 评分=%.1f",
		shortAddr(t.Address), len(newTrades), verdict.Passed, e.scorer.Score(snap.metrics).Total)

	var out []*store.CopyTradeRecord
	for i := range newTrades {
		select {
		case <-ctx.Done():
			return out
		case <-e.stopCh:
			return out
		default:
		}

		trade := &newTrades[i]
		e.statsMu.Lock()
		e.stats.TradesObserved++
		e.statsMu.Unlock()

		rec, err := e.decide(ctx, trade, snap.metrics, verdict, peerVols)
		if err != nil {
			// 持久化失败：不推进水位，本周期就此中止，交给下周期重放
			logger.Errorf("❌ %s 成交 %s 处理失败: %v", shortAddr(t.Address), trade.ID, err)
			return out
		}
		if rec != nil {
			out = append(out, rec)
			if e.notifier != nil {
				// 通知走独立协程，慢通道不拖慢决策管线
				go e.notifier.NotifyRecord(rec)
			}
		}

		if err := e.advanceWatermark(t.Address, trade); err != nil {
			logger.Errorf("❌ 推进水位失败 %s: %v", shortAddr(t.Address), err)
			return out
		}
	}
	return out
}

// newTradesSince 过滤出水位之后的新成交（升序）
func (e *Engine) newTradesSince(history []Trade, t *store.TrackedTrader) []Trade {
	var out []Trade
	for _, trade := range history {
		if !t.WatermarkTime.IsZero() {
			if trade.Timestamp.Before(t.WatermarkTime) {
				continue
			}
			// 同一时间戳靠成交 ID 去重边界
			if trade.Timestamp.Equal(t.WatermarkTime) && trade.ID <= t.WatermarkTrade {
				continue
			}
		}
		out = append(out, trade)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

func (e *Engine) advanceWatermark(address string, trade *Trade) error {
	var err error
	for i := 0; i < 3; i++ {
		if err = e.db.AdvanceWatermark(address, trade.Timestamp, trade.ID); err == nil {
			return nil
		}
	}
	return err
}

// ============================================================
// 单笔决策
// ============================================================

// decide 对一笔源成交做完整决策：幂等检查 → 准入 → 仓位 → 执行 → 落库
// 返回 (nil, nil) 表示该成交已有记录（重复观测）
func (e *Engine) decide(ctx context.Context, trade *Trade, metrics *PerformanceMetrics,
	verdict AdmissionVerdict, peerVols []float64) (*store.CopyTradeRecord, error) {

	// 任何副作用之前先做幂等检查
	exists, err := e.db.HasRecord(trade.TraderAddress, trade.ID)
	if err != nil {
		return nil, fmt.Errorf("幂等检查失败: %w", err)
	}
	if exists {
		logger.Debugf("🔧 成交 %s 已有记录，跳过", trade.ID)
		return nil, nil
	}

	// 只跟开仓方向；跟踪对象的卖出是它自己的离场，不是我们的信号
	if trade.Side != SideBuy {
		return e.insertSkipped(trade, "sell_side")
	}

	if !verdict.Passed {
		return e.insertSkipped(trade, "admission:"+verdict.FailedCriterion)
	}

	score := e.scorer.Score(metrics)

	// 读敞口 → 算仓位 → 预留敞口在账本临界区内原子完成
	decision := e.book.Reserve(func(currentExposure float64) SizingDecision {
		return e.sizer.Size(SizingInput{
			Metrics:         metrics,
			SourceNotional:  trade.AmountUSDC,
			Equity:          e.cfg.Sizing.Bankroll,
			CurrentExposure: currentExposure,
			PeerVols:        peerVols,
		})
	})

	if decision.Skip {
		rec := e.newRecord(trade, score.Total, decision)
		rec.Status = store.StatusSkipped
		rec.Reason = decision.SkipReason
		inserted, err := e.insertRecord(rec)
		if err != nil {
			return nil, err
		}
		if !inserted {
			return nil, nil
		}
		e.statsMu.Lock()
		e.stats.TradesSkipped++
		e.statsMu.Unlock()
		logger.Infof("⏭️ 跳过 %s | %s | 原因=%s", shortAddr(trade.TraderAddress),
			trade.MarketTitle, decision.SkipReason)
		return rec, nil
	}

	rec := e.newRecord(trade, score.Total, decision)
	rec.Status = store.StatusPending
	inserted, err := e.insertRecord(rec)
	if err != nil {
		// 落库失败必须释放预留敞口
		e.book.Release(decision.FinalSize)
		return nil, err
	}
	if !inserted {
		// 幂等检查之后被并发周期抢先落库，放弃执行并退还敞口
		e.book.Release(decision.FinalSize)
		logger.Warnf("⚠️ 成交 %s 已被并发周期记录，放弃执行", trade.ID)
		return nil, nil
	}

	// 执行在临界区外进行，敞口已预留
	e.execute(ctx, trade, rec, decision)
	return rec, nil
}

// execute 提交订单并推进记录状态
// 失败（含重试耗尽）释放预留敞口做补偿
func (e *Engine) execute(ctx context.Context, trade *Trade, rec *store.CopyTradeRecord, decision SizingDecision) {
	if e.cfg.DryRun {
		// 纸面模式走与实盘相同的状态机，只是不真正下单
		rec.Status = store.StatusFilled
		rec.Reason = "dry_run"
		rec.DryRun = true
		e.updateRecord(rec)
		e.statsMu.Lock()
		e.stats.TradesCopied++
		e.statsMu.Unlock()
		logger.Infof("🎯 [纸面] 跟单 %s | %s %s | 金额=%.2f 封顶=%v",
			shortAddr(trade.TraderAddress), trade.Side, trade.MarketTitle,
			decision.FinalSize, decision.BindingCaps)
		return
	}

	rec.Status = store.StatusSubmitted
	e.updateRecord(rec)

	var result *OrderResult
	err := retryTransient(ctx, e.cfg.RetryAttempts, e.cfg.RetryBaseWait, "提交订单", func() error {
		var err error
		result, err = e.executor.SubmitOrder(ctx, OrderRequest{
			MarketID:   trade.MarketID,
			Outcome:    trade.Outcome,
			Side:       trade.Side,
			Price:      trade.Price,
			AmountUSDC: decision.FinalSize,
			ClientID:   rec.ID,
		})
		return err
	})

	if err != nil {
		e.book.Release(decision.FinalSize)
		rec.Status = store.StatusFailed
		rec.Reason = failureReason(err)
		e.updateRecord(rec)
		e.statsMu.Lock()
		e.stats.TradesFailed++
		e.statsMu.Unlock()
		logger.Errorf("❌ 跟单失败 %s | %s | %v", shortAddr(trade.TraderAddress), trade.MarketTitle, err)
		return
	}

	rec.Status = store.StatusFilled
	rec.OrderID = result.OrderID
	rec.TxHash = result.TxHash
	e.updateRecord(rec)
	e.statsMu.Lock()
	e.stats.TradesCopied++
	e.statsMu.Unlock()
	logger.Infof("🎯 跟单成交 %s | %s %s | 金额=%.2f order=%s",
		shortAddr(trade.TraderAddress), trade.Side, trade.MarketTitle,
		decision.FinalSize, result.OrderID)
}

// ============================================================
// 记录辅助
// ============================================================

func (e *Engine) newRecord(trade *Trade, score float64, decision SizingDecision) *store.CopyTradeRecord {
	return &store.CopyTradeRecord{
		SourceTrader:   trade.TraderAddress,
		SourceTradeID:  trade.ID,
		MarketID:       trade.MarketID,
		MarketTitle:    trade.MarketTitle,
		Side:           string(trade.Side),
		Outcome:        trade.Outcome,
		SourcePrice:    trade.Price,
		SourceNotional: trade.AmountUSDC,
		SizingMethod:   decision.Method,
		RawFraction:    decision.RawFraction,
		FinalSize:      decision.FinalSize,
		BindingCaps:    decision.BindingCaps,
		CompositeScore: score,
		DryRun:         e.cfg.DryRun,
	}
}

func (e *Engine) insertSkipped(trade *Trade, reason string) (*store.CopyTradeRecord, error) {
	rec := e.newRecord(trade, 0, SizingDecision{})
	rec.Status = store.StatusSkipped
	rec.Reason = reason
	inserted, err := e.insertRecord(rec)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, nil
	}
	e.statsMu.Lock()
	e.stats.TradesSkipped++
	e.statsMu.Unlock()
	logger.Debugf("⏭️ 跳过 %s | %s | 原因=%s", shortAddr(trade.TraderAddress), trade.MarketTitle, reason)
	return rec, nil
}

// insertRecord 落库，有界重试瞬时失败
// 幂等键冲突返回 inserted=false，调用方必须放弃后续副作用
func (e *Engine) insertRecord(rec *store.CopyTradeRecord) (bool, error) {
	var err error
	for i := 0; i < 3; i++ {
		err = e.db.InsertRecord(rec)
		if err == nil {
			return true, nil
		}
		if errors.Is(err, store.ErrDuplicateRecord) {
			return false, nil
		}
	}
	return false, fmt.Errorf("写入跟单记录失败: %w", err)
}

func (e *Engine) updateRecord(rec *store.CopyTradeRecord) {
	var err error
	for i := 0; i < 3; i++ {
		if err = e.db.UpdateRecordStatus(rec.ID, rec.Status, rec.Reason, rec.OrderID, rec.TxHash); err == nil {
			return
		}
	}
	logger.Errorf("❌ 更新记录状态失败 id=%s status=%s: %v", rec.ID, rec.Status, err)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrFeedUnavailable):
		return "unavailable"
	default:
		return strings.SplitN(err.Error(), "\n", 2)[0]
	}
}

// ============================================================
// 跟踪对象管理
// ============================================================

// TrackTrader 添加跟踪交易员
func (e *Engine) TrackTrader(address string) error {
	if err := e.db.UpsertTrader(address, TraderActive); err != nil {
		return err
	}
	if e.stream != nil {
		e.stream.Watch(address)
	}
	logger.Infof("✅ 开始跟踪 %s", shortAddr(address))
	return nil
}

// PauseTrader 暂停跟踪，在途评估允许走完
func (e *Engine) PauseTrader(address string) error {
	if err := e.db.SetTraderStatus(address, TraderPaused); err != nil {
		return err
	}
	if e.stream != nil {
		e.stream.Unwatch(address)
	}
	logger.Infof("⏸️ 暂停跟踪 %s", shortAddr(address))
	return nil
}

// ResumeTrader 恢复跟踪
func (e *Engine) ResumeTrader(address string) error {
	if err := e.db.SetTraderStatus(address, TraderActive); err != nil {
		return err
	}
	if e.stream != nil {
		e.stream.Watch(address)
	}
	logger.Infof("▶️ 恢复跟踪 %s", shortAddr(address))
	return nil
}

// UntrackTrader 取消跟踪，历史记录保留
func (e *Engine) UntrackTrader(address string) error {
	if err := e.db.RemoveTrader(address); err != nil {
		return err
	}
	if e.stream != nil {
		e.stream.Unwatch(address)
	}
	logger.Infof("🧹 取消跟踪 %s", shortAddr(address))
	return nil
}

// DiscoverTraders 从排行榜筛选候选交易员（只读，不自动加入跟踪）
// 按盈亏降序翻页，盈亏低于 minPnL 的条目丢弃，凑满 limit 或翻完为止
func (e *Engine) DiscoverTraders(ctx context.Context, minPnL float64, limit int) ([]LeaderboardEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	const pageSize = 50

	var out []LeaderboardEntry
	for offset := 0; len(out) < limit; offset += pageSize {
		var page []LeaderboardEntry
		err := retryTransient(ctx, e.cfg.RetryAttempts, e.cfg.RetryBaseWait, "拉取排行榜", func() error {
			var err error
			page, err = e.provider.Leaderboard(ctx, "MONTH", pageSize, offset)
			return err
		})
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		for _, entry := range page {
			if entry.PnL < minPnL {
				continue
			}
			out = append(out, entry)
			if len(out) >= limit {
				break
			}
		}
	}
	logger.Infof("🌐 排行榜发现 %d 个候选交易员 | 最低盈亏=%.0f", len(out), minPnL)
	return out, nil
}

// EvaluateTrader 单独评估一个地址（API 预览用，不产生任何副作用）
func (e *Engine) EvaluateTrader(ctx context.Context, address string) (*PerformanceMetrics, CompositeScore, AdmissionVerdict, error) {
	var history []Trade
	err := retryTransient(ctx, e.cfg.RetryAttempts, e.cfg.RetryBaseWait, "拉取成交历史", func() error {
		var err error
		history, err = e.provider.FetchTrades(ctx, address, time.Time{})
		return err
	})
	if err != nil {
		return nil, CompositeScore{}, AdmissionVerdict{}, err
	}
	metrics := e.calculator.Calculate(address, history)
	return metrics, e.scorer.Score(metrics), e.scorer.CheckAdmission(metrics), nil
}
