package store

import (
	"database/sql"
	"strings"
	"time"
)

// TrackedTrader 跟踪交易员行
type TrackedTrader struct {
	Address         string    `json:"address"`
	Status          string    `json:"status"`
	WatermarkTime   time.Time `json:"watermark_time"`
	WatermarkTrade  string    `json:"watermark_trade"`
	AdmissionPassed bool      `json:"admission_passed"`
	FailedCriterion string    `json:"failed_criterion"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// UpsertTrader 添加或恢复跟踪交易员
func (s *Store) UpsertTrader(address, status string) error {
	_, err := s.db.Exec(`
		INSERT INTO tracked_traders (address, status)
		VALUES (?, ?)
		ON CONFLICT(address) DO UPDATE SET status = excluded.status
	`, strings.ToLower(address), status)
	return err
}

// SetTraderStatus 更新交易员状态 (active/paused)
func (s *Store) SetTraderStatus(address, status string) error {
	_, err := s.db.Exec(`UPDATE tracked_traders SET status = ? WHERE address = ?`,
		status, strings.ToLower(address))
	return err
}

// RemoveTrader 取消跟踪（历史跟单记录保留）
func (s *Store) RemoveTrader(address string) error {
	_, err := s.db.Exec(`DELETE FROM tracked_traders WHERE address = ?`, strings.ToLower(address))
	return err
}

// GetTrader 查询单个交易员
func (s *Store) GetTrader(address string) (*TrackedTrader, error) {
	row := s.db.QueryRow(`
		SELECT address, status, watermark_time, watermark_trade,
		       admission_passed, failed_criterion, created_at, updated_at
		FROM tracked_traders WHERE address = ?
	`, strings.ToLower(address))
	return scanTrader(row)
}

// ListTraders 列出全部跟踪交易员
func (s *Store) ListTraders() ([]*TrackedTrader, error) {
	rows, err := s.db.Query(`
		SELECT address, status, watermark_time, watermark_trade,
		       admission_passed, failed_criterion, created_at, updated_at
		FROM tracked_traders ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TrackedTrader
	for rows.Next() {
		t, err := scanTrader(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// AdvanceWatermark 推进成交水位
// 只有成交到达终态后才调用，引擎重启后从水位继续，不重复处理
func (s *Store) AdvanceWatermark(address string, ts time.Time, tradeID string) error {
	_, err := s.db.Exec(`
		UPDATE tracked_traders SET watermark_time = ?, watermark_trade = ?
		WHERE address = ?
	`, ts.UTC().Format("2006-01-02 15:04:05"), tradeID, strings.ToLower(address))
	return err
}

// UpdateAdmission 记录最近一次准入结果（展示用）
func (s *Store) UpdateAdmission(address string, passed bool, failedCriterion string) error {
	_, err := s.db.Exec(`
		UPDATE tracked_traders SET admission_passed = ?, failed_criterion = ?
		WHERE address = ?
	`, passed, failedCriterion, strings.ToLower(address))
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrader(row rowScanner) (*TrackedTrader, error) {
	var t TrackedTrader
	var watermarkTime, createdAt, updatedAt sql.NullString
	err := row.Scan(&t.Address, &t.Status, &watermarkTime, &t.WatermarkTrade,
		&t.AdmissionPassed, &t.FailedCriterion, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	t.WatermarkTime = parseDBTime(watermarkTime.String)
	t.CreatedAt = parseDBTime(createdAt.String)
	t.UpdatedAt = parseDBTime(updatedAt.String)
	return &t, nil
}

// parseDBTime sqlite DATETIME 解析，空值返回零时间
func parseDBTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", v); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
