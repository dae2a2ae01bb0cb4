// Package api 管理接口
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ethereum/go-ethereum/common"

	"github.com/U0001F3A2/polymarket-copy/config"
	"github.com/U0001F3A2/polymarket-copy/copytrade"
	"github.com/U0001F3A2/polymarket-copy/logger"
	"github.com/U0001F3A2/polymarket-copy/store"
)

// Server HTTP 管理接口
type Server struct {
	cfg     *config.Config
	db      *store.Store
	manager *copytrade.Manager
}

// NewServer 创建 API Server
func NewServer(cfg *config.Config, db *store.Store, manager *copytrade.Manager) *Server {
	return &Server{cfg: cfg, db: db, manager: manager}
}

// Router 构建路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/login", s.Login)
	r.GET("/api/health", s.Health)

	auth := r.Group("/api", s.authRequired())
	{
		auth.GET("/traders", s.ListTraders)
		auth.POST("/traders", s.AddTrader)
		auth.DELETE("/traders/:address", s.RemoveTrader)
		auth.POST("/traders/:address/pause", s.PauseTrader)
		auth.POST("/traders/:address/resume", s.ResumeTrader)
		auth.GET("/traders/:address/evaluate", s.EvaluateTrader)
		auth.GET("/discover", s.DiscoverTraders)

		auth.GET("/records", s.ListRecords)
		auth.GET("/dashboard", s.Dashboard)
		auth.GET("/equity", s.EquityCurve)

		auth.POST("/engine/start", s.StartEngine)
		auth.POST("/engine/stop", s.StopEngine)
		auth.POST("/engine/restart", s.RestartEngine)
	}

	return r
}

// Health 健康检查
func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"running": s.manager.Running(),
		"dry_run": s.cfg.DryRun,
	})
}

// ========== 跟踪对象管理 ==========

// ListTraders 列出跟踪交易员
func (s *Server) ListTraders(c *gin.Context) {
	traders, err := s.db.ListTraders()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"traders": traders})
}

// AddTraderRequest 添加跟踪请求
type AddTraderRequest struct {
	Address string `json:"address" binding:"required"`
}

// AddTrader 添加跟踪交易员
func (s *Server) AddTrader(c *gin.Context) {
	var req AddTraderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	engine := s.manager.Engine()
	if engine != nil {
		if err := engine.TrackTrader(req.Address); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else {
		if err := s.db.UpsertTrader(req.Address, copytrade.TraderActive); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "tracking started"})
}

// RemoveTrader 取消跟踪
func (s *Server) RemoveTrader(c *gin.Context) {
	address := c.Param("address")
	engine := s.manager.Engine()
	var err error
	if engine != nil {
		err = engine.UntrackTrader(address)
	} else {
		err = s.db.RemoveTrader(address)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "tracking removed"})
}

// PauseTrader 暂停跟踪
func (s *Server) PauseTrader(c *gin.Context) {
	s.setTraderStatus(c, copytrade.TraderPaused)
}

// ResumeTrader 恢复跟踪
func (s *Server) ResumeTrader(c *gin.Context) {
	s.setTraderStatus(c, copytrade.TraderActive)
}

func (s *Server) setTraderStatus(c *gin.Context, status string) {
	address := c.Param("address")
	engine := s.manager.Engine()
	var err error
	switch {
	case engine != nil && status == copytrade.TraderPaused:
		err = engine.PauseTrader(address)
	case engine != nil && status == copytrade.TraderActive:
		err = engine.ResumeTrader(address)
	default:
		err = s.db.SetTraderStatus(address, status)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "status updated", "status": status})
}

// EvaluateTrader 预览某地址的指标、评分与准入（无副作用）
func (s *Server) EvaluateTrader(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}
	engine := s.manager.Engine()
	if engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
		return
	}

	metrics, score, verdict, err := engine.EvaluateTrader(c.Request.Context(), address)
	if err != nil {
		logger.Warnf("⚠️ 评估交易员失败 %s: %v", address, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"metrics":   metrics,
		"score":     score,
		"admission": verdict,
	})
}

// DiscoverTraders 从排行榜发现候选交易员（只读，不自动加入跟踪）
func (s *Server) DiscoverTraders(c *gin.Context) {
	engine := s.manager.Engine()
	if engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine not running"})
		return
	}

	minPnL, _ := strconv.ParseFloat(c.DefaultQuery("min_pnl", "10000"), 64)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	entries, err := engine.DiscoverTraders(c.Request.Context(), minPnL, limit)
	if err != nil {
		logger.Warnf("⚠️ 排行榜发现失败: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"traders": entries})
}

// ========== 记录查询 ==========

// ListRecords 查询跟单记录
func (s *Server) ListRecords(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	records, err := s.db.ListRecords(c.Query("trader"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// EquityCurve 权益曲线
func (s *Server) EquityCurve(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	points, err := s.db.ListEquityPoints(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"points": points})
}

// ========== 引擎控制 ==========

// StartEngine 启动引擎
func (s *Server) StartEngine(c *gin.Context) {
	if err := s.manager.Start(); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "engine started"})
}

// StopEngine 停止引擎
func (s *Server) StopEngine(c *gin.Context) {
	s.manager.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "engine stopped"})
}

// RestartEngine 重启引擎
func (s *Server) RestartEngine(c *gin.Context) {
	if err := s.manager.Restart(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "engine restarted"})
}
