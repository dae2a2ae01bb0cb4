// Package store sqlite 持久化层
// 跟踪交易员、跟单记录、权益曲线
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store 数据库入口
type Store struct {
	db *sql.DB
}

// New 打开数据库并初始化表结构
func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	// WAL 模式下单写多读，写连接收敛到 1 避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.initTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("初始化表结构失败: %w", err)
	}
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tracked_traders (
			address TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'active',
			watermark_time DATETIME,
			watermark_trade TEXT DEFAULT '',
			admission_passed BOOLEAN DEFAULT 0,
			failed_criterion TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TRIGGER IF NOT EXISTS update_tracked_traders_updated_at
		AFTER UPDATE ON tracked_traders
		BEGIN
			UPDATE tracked_traders SET updated_at = CURRENT_TIMESTAMP WHERE address = NEW.address;
		END`,
		`CREATE TABLE IF NOT EXISTS copy_trades (
			id TEXT PRIMARY KEY,
			source_trader TEXT NOT NULL,
			source_trade_id TEXT NOT NULL,
			market_id TEXT NOT NULL,
			market_title TEXT DEFAULT '',
			side TEXT NOT NULL,
			outcome TEXT DEFAULT '',
			source_price REAL DEFAULT 0,
			source_notional REAL DEFAULT 0,
			sizing_method TEXT DEFAULT '',
			raw_fraction REAL DEFAULT 0,
			final_size REAL DEFAULT 0,
			binding_caps TEXT DEFAULT '[]',
			composite_score REAL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT DEFAULT '',
			order_id TEXT DEFAULT '',
			tx_hash TEXT DEFAULT '',
			dry_run BOOLEAN DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_trader, source_trade_id)
		)`,
		`CREATE TRIGGER IF NOT EXISTS update_copy_trades_updated_at
		AFTER UPDATE ON copy_trades
		BEGIN
			UPDATE copy_trades SET updated_at = CURRENT_TIMESTAMP WHERE id = NEW.id;
		END`,
		`CREATE INDEX IF NOT EXISTS idx_copy_trades_trader ON copy_trades(source_trader, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_copy_trades_status ON copy_trades(status)`,
		`CREATE TABLE IF NOT EXISTS equity_points (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			equity REAL NOT NULL,
			allocated REAL NOT NULL,
			realized_pnl REAL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
