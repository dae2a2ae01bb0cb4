package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 跟单记录状态机：pending → submitted → {filled | failed}，或直接 skipped
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusFilled    = "filled"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// CopyTradeRecord 跟单决策记录
// 幂等键 (source_trader, source_trade_id)：同一笔源成交只会有一条记录，
// 终态后不可变，是资金决策的审计事实
type CopyTradeRecord struct {
	ID             string    `json:"id"`
	SourceTrader   string    `json:"source_trader"`
	SourceTradeID  string    `json:"source_trade_id"`
	MarketID       string    `json:"market_id"`
	MarketTitle    string    `json:"market_title"`
	Side           string    `json:"side"`
	Outcome        string    `json:"outcome"`
	SourcePrice    float64   `json:"source_price"`
	SourceNotional float64   `json:"source_notional"`
	SizingMethod   string    `json:"sizing_method"`
	RawFraction    float64   `json:"raw_fraction"`
	FinalSize      float64   `json:"final_size"`
	BindingCaps    []string  `json:"binding_caps"`
	CompositeScore float64   `json:"composite_score"`
	Status         string    `json:"status"`
	Reason         string    `json:"reason"`
	OrderID        string    `json:"order_id"`
	TxHash         string    `json:"tx_hash"`
	DryRun         bool      `json:"dry_run"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ErrDuplicateRecord 同一源成交已有记录
var ErrDuplicateRecord = errors.New("copy trade record already exists")

// HasRecord 该源成交是否已有记录（任何副作用前的幂等检查）
func (s *Store) HasRecord(sourceTrader, sourceTradeID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(1) FROM copy_trades WHERE source_trader = ? AND source_trade_id = ?
	`, strings.ToLower(sourceTrader), sourceTradeID).Scan(&n)
	return n > 0, err
}

// InsertRecord 写入跟单记录，自动分配 ID
// 幂等键冲突返回 ErrDuplicateRecord
func (s *Store) InsertRecord(r *CopyTradeRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	caps, _ := json.Marshal(r.BindingCaps)
	_, err := s.db.Exec(`
		INSERT INTO copy_trades
			(id, source_trader, source_trade_id, market_id, market_title, side, outcome,
			 source_price, source_notional, sizing_method, raw_fraction, final_size,
			 binding_caps, composite_score, status, reason, order_id, tx_hash, dry_run)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, strings.ToLower(r.SourceTrader), r.SourceTradeID, r.MarketID, r.MarketTitle,
		r.Side, r.Outcome, r.SourcePrice, r.SourceNotional, r.SizingMethod, r.RawFraction,
		r.FinalSize, string(caps), r.CompositeScore, r.Status, r.Reason, r.OrderID,
		r.TxHash, r.DryRun)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateRecord
	}
	return err
}

// UpdateRecordStatus 推进记录状态
func (s *Store) UpdateRecordStatus(id, status, reason, orderID, txHash string) error {
	_, err := s.db.Exec(`
		UPDATE copy_trades SET status = ?, reason = ?, order_id = ?, tx_hash = ?
		WHERE id = ?
	`, status, reason, orderID, txHash, id)
	return err
}

// ListRecords 按时间倒序列出跟单记录
func (s *Store) ListRecords(sourceTrader string, limit int) ([]*CopyTradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, source_trader, source_trade_id, market_id, market_title, side, outcome,
		       source_price, source_notional, sizing_method, raw_fraction, final_size,
		       binding_caps, composite_score, status, reason, order_id, tx_hash, dry_run,
		       created_at, updated_at
		FROM copy_trades`
	args := []interface{}{}
	if sourceTrader != "" {
		query += ` WHERE source_trader = ?`
		args = append(args, strings.ToLower(sourceTrader))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CopyTradeRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordStats 跟单记录汇总
type RecordStats struct {
	Total     int     `json:"total"`
	Filled    int     `json:"filled"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Pending   int     `json:"pending"`
	TotalSize float64 `json:"total_size"` // 已成交总金额
}

// GetRecordStats 统计各状态记录数
func (s *Store) GetRecordStats() (*RecordStats, error) {
	rows, err := s.db.Query(`
		SELECT status, COUNT(1), COALESCE(SUM(final_size), 0)
		FROM copy_trades GROUP BY status
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &RecordStats{}
	for rows.Next() {
		var status string
		var n int
		var size float64
		if err := rows.Scan(&status, &n, &size); err != nil {
			return nil, err
		}
		stats.Total += n
		switch status {
		case StatusFilled:
			stats.Filled = n
			stats.TotalSize += size
		case StatusFailed:
			stats.Failed = n
		case StatusSkipped:
			stats.Skipped = n
		case StatusPending, StatusSubmitted:
			stats.Pending += n
		}
	}
	return stats, rows.Err()
}

// OpenExposure 汇总未释放的敞口（已成交 + 进行中），引擎重启时恢复账本用
func (s *Store) OpenExposure() (float64, error) {
	var total float64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(final_size), 0) FROM copy_trades
		WHERE status IN (?, ?, ?)
	`, StatusPending, StatusSubmitted, StatusFilled).Scan(&total)
	return total, err
}

func scanRecord(rows *sql.Rows) (*CopyTradeRecord, error) {
	var r CopyTradeRecord
	var caps string
	var createdAt, updatedAt sql.NullString
	err := rows.Scan(&r.ID, &r.SourceTrader, &r.SourceTradeID, &r.MarketID, &r.MarketTitle,
		&r.Side, &r.Outcome, &r.SourcePrice, &r.SourceNotional, &r.SizingMethod,
		&r.RawFraction, &r.FinalSize, &caps, &r.CompositeScore, &r.Status, &r.Reason,
		&r.OrderID, &r.TxHash, &r.DryRun, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if caps != "" {
		json.Unmarshal([]byte(caps), &r.BindingCaps)
	}
	r.CreatedAt = parseDBTime(createdAt.String)
	r.UpdatedAt = parseDBTime(updatedAt.String)
	return &r, nil
}
