package store

import (
	"database/sql"
	"time"
)

// EquityPoint 本组合权益曲线采样点
type EquityPoint struct {
	ID          int64     `json:"id"`
	Equity      float64   `json:"equity"`
	Allocated   float64   `json:"allocated"`
	RealizedPnL float64   `json:"realized_pnl"`
	CreatedAt   time.Time `json:"created_at"`
}

// AppendEquityPoint 追加权益采样
func (s *Store) AppendEquityPoint(equity, allocated, realizedPnL float64) error {
	_, err := s.db.Exec(`
		INSERT INTO equity_points (equity, allocated, realized_pnl) VALUES (?, ?, ?)
	`, equity, allocated, realizedPnL)
	return err
}

// ListEquityPoints 按时间升序返回最近 limit 个采样点
func (s *Store) ListEquityPoints(limit int) ([]*EquityPoint, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.Query(`
		SELECT id, equity, allocated, realized_pnl, created_at FROM (
			SELECT id, equity, allocated, realized_pnl, created_at
			FROM equity_points ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EquityPoint
	for rows.Next() {
		var p EquityPoint
		var createdAt sql.NullString
		if err := rows.Scan(&p.ID, &p.Equity, &p.Allocated, &p.RealizedPnL, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = parseDBTime(createdAt.String)
		out = append(out, &p)
	}
	return out, rows.Err()
}
