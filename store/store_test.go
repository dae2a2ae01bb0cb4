package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRecord(tradeID string) *CopyTradeRecord {
	return &CopyTradeRecord{
		SourceTrader:   "0xABC",
		SourceTradeID:  tradeID,
		MarketID:       "0xcond1",
		MarketTitle:    "Test market",
		Side:           "BUY",
		Outcome:        "Yes",
		SourcePrice:    0.5,
		SourceNotional: 100,
		SizingMethod:   "kelly",
		RawFraction:    0.09,
		FinalSize:      50,
		BindingCaps:    []string{"source_notional"},
		CompositeScore: 72.5,
		Status:         StatusPending,
	}
}

func TestTraderLifecycle(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.UpsertTrader("0xAbC", "active"))
	// 地址统一小写
	trader, err := s.GetTrader("0xABC")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", trader.Address)
	assert.Equal(t, "active", trader.Status)
	assert.True(t, trader.WatermarkTime.IsZero())

	require.NoError(t, s.SetTraderStatus("0xabc", "paused"))
	trader, err = s.GetTrader("0xabc")
	require.NoError(t, err)
	assert.Equal(t, "paused", trader.Status)

	traders, err := s.ListTraders()
	require.NoError(t, err)
	assert.Len(t, traders, 1)

	require.NoError(t, s.RemoveTrader("0xabc"))
	traders, err = s.ListTraders()
	require.NoError(t, err)
	assert.Empty(t, traders)
}

func TestWatermarkRoundTrip(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.UpsertTrader("0xabc", "active"))

	ts := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	require.NoError(t, s.AdvanceWatermark("0xabc", ts, "trade-9"))

	trader, err := s.GetTrader("0xabc")
	require.NoError(t, err)
	assert.True(t, trader.WatermarkTime.Equal(ts))
	assert.Equal(t, "trade-9", trader.WatermarkTrade)
}

func TestRecordIdempotencyKey(t *testing.T) {
	s := newTestStore(t)

	rec := sampleRecord("trade-1")
	require.NoError(t, s.InsertRecord(rec))
	assert.NotEmpty(t, rec.ID)

	// 同一源成交再插直接报重复
	dup := sampleRecord("trade-1")
	err := s.InsertRecord(dup)
	assert.ErrorIs(t, err, ErrDuplicateRecord)

	exists, err := s.HasRecord("0xabc", "trade-1")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.HasRecord("0xabc", "trade-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecordStatusAndCapsRoundTrip(t *testing.T) {
	s := newTestStore(t)

	rec := sampleRecord("trade-1")
	require.NoError(t, s.InsertRecord(rec))
	require.NoError(t, s.UpdateRecordStatus(rec.ID, StatusFilled, "", "order-1", "0xhash"))

	list, err := s.ListRecords("0xabc", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	got := list[0]
	assert.Equal(t, StatusFilled, got.Status)
	assert.Equal(t, "order-1", got.OrderID)
	assert.Equal(t, []string{"source_notional"}, got.BindingCaps)
	assert.InDelta(t, 72.5, got.CompositeScore, 1e-9)
}

func TestRecordStatsAndOpenExposure(t *testing.T) {
	s := newTestStore(t)

	filled := sampleRecord("t1")
	filled.Status = StatusFilled
	require.NoError(t, s.InsertRecord(filled))

	failed := sampleRecord("t2")
	failed.Status = StatusFailed
	failed.FinalSize = 30
	require.NoError(t, s.InsertRecord(failed))

	skipped := sampleRecord("t3")
	skipped.Status = StatusSkipped
	skipped.FinalSize = 0
	require.NoError(t, s.InsertRecord(skipped))

	stats, err := s.GetRecordStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Filled)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Skipped)
	assert.InDelta(t, 50, stats.TotalSize, 1e-9)

	// 失败和跳过不占敞口
	exposure, err := s.OpenExposure()
	require.NoError(t, err)
	assert.InDelta(t, 50, exposure, 1e-9)
}

func TestEquityPoints(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.AppendEquityPoint(1000, 0, 0))
	require.NoError(t, s.AppendEquityPoint(1050, 100, 50))

	points, err := s.ListEquityPoints(10)
	require.NoError(t, err)
	require.Len(t, points, 2)
	// 升序返回
	assert.InDelta(t, 1000, points[0].Equity, 1e-9)
	assert.InDelta(t, 1050, points[1].Equity, 1e-9)
	assert.InDelta(t, 100, points[1].Allocated, 1e-9)
}
