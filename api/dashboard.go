package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/U0001F3A2/polymarket-copy/copytrade"
	"github.com/U0001F3A2/polymarket-copy/store"
)

// ========== 缓存结构 ==========

// DashboardSummary 大屏汇总数据
type DashboardSummary struct {
	Running   bool                  `json:"running"`
	DryRun    bool                  `json:"dry_run"`
	Bankroll  float64               `json:"bankroll"`
	Allocated float64               `json:"allocated"`
	Traders   int                   `json:"traders"`
	Records   *store.RecordStats    `json:"records"`
	Engine    copytrade.EngineStats `json:"engine"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// dashboardCache 大屏数据缓存，30 秒内直接返回旧值
type dashboardCache struct {
	sync.RWMutex
	summary     *DashboardSummary
	summaryTime time.Time
	ttl         time.Duration
}

var dbCache = &dashboardCache{ttl: 30 * time.Second}

func (c *dashboardCache) get() *DashboardSummary {
	c.RLock()
	defer c.RUnlock()
	if c.summary == nil || time.Since(c.summaryTime) >= c.ttl {
		return nil
	}
	return c.summary
}

func (c *dashboardCache) set(s *DashboardSummary) {
	c.Lock()
	defer c.Unlock()
	c.summary = s
	c.summaryTime = time.Now()
}

// ========== Handler ==========

// Dashboard 汇总大屏数据
func (s *Server) Dashboard(c *gin.Context) {
	if cached := dbCache.get(); cached != nil {
		c.JSON(http.StatusOK, cached)
		return
	}

	stats, err := s.db.GetRecordStats()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	traders, err := s.db.ListTraders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	summary := &DashboardSummary{
		Running:   s.manager.Running(),
		DryRun:    s.cfg.DryRun,
		Bankroll:  s.cfg.Sizing.Bankroll,
		Traders:   len(traders),
		Records:   stats,
		UpdatedAt: time.Now(),
	}
	if engine := s.manager.Engine(); engine != nil {
		summary.Allocated = engine.Book().Allocated()
		summary.Engine = engine.Stats()
	}

	dbCache.set(summary)
	c.JSON(http.StatusOK, summary)
}
