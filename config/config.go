// Package config 全局配置
// 启动时从环境变量加载（支持 .env），校验失败立即退出，不带默认兜底跑错参数
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Thresholds 交易员准入阈值
type Thresholds struct {
	MinTrades    int     // 最少已平仓笔数
	MinWinRate   float64 // 最低胜率 [0,1]
	MaxDrawdown  float64 // 最大可容忍回撤比例 [0,1]
	MinSharpe    float64 // 最低年化夏普
	MinProfitUSD float64 // 最低累计盈利 (USDC)
}

// Sizing 仓位计算参数
type Sizing struct {
	Method             string  // "kelly" | "fixed_fraction" | "risk_parity"
	Bankroll           float64 // 跟单资金总额 (USDC)
	KellyFraction      float64 // Kelly 折减系数 (四分之一 Kelly = 0.25)
	MaxSinglePosition  float64 // 单笔仓位占资金上限比例
	MaxPortfolioAlloc  float64 // 总敞口占资金上限比例
	MinTradeUSD        float64 // 最小下单金额，低于则跳过
	MaxTradeUSD        float64 // 最大下单金额硬顶
	RiskParityLookback int     // 风险平价参考的同组交易员数下限
}

// ScoreNorms 综合评分归一化边界
type ScoreNorms struct {
	WinRateFull  float64 // 胜率达到该值记满分
	SharpeFloor  float64 // 夏普归一化下界
	SharpeCeil   float64 // 夏普归一化上界
	PnLFull      float64 // 累计盈利满分值 (USDC)
	MomentumFull float64 // 7 天动量满分值 (USDC)
}

// Telegram 通知配置
type Telegram struct {
	Enabled bool
	Token   string
	ChatID  int64
}

// Config 应用配置
type Config struct {
	// 数据源
	DataAPIBase   string // Polymarket Data API
	CLOBAPIBase   string // CLOB 下单接口
	WSURL         string // 实时成交推送
	WSEnabled     bool
	RequestLimit  int // 单次拉取成交条数
	PollInterval  time.Duration
	FetchTimeout  time.Duration
	RetryAttempts int
	RetryBaseWait time.Duration

	// 跟单对象
	TrackedTraders []string // 初始跟踪的钱包地址

	// 决策参数
	Thresholds Thresholds
	Sizing     Sizing
	Norms      ScoreNorms

	// 执行
	DryRun         bool
	PrivateKey     string // CLOB 签名私钥（实盘必填）
	FunderAddress  string

	// 存储与接口
	DBPath    string
	APIListen string
	JWTSecret string
	AdminUser string
	AdminPass string // bcrypt hash

	// 通知
	Telegram Telegram

	// 日志
	LogLevel string
	LogFile  string
}

// Load 加载配置（.env 可选，环境变量优先）
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DataAPIBase:   getenv("PM_DATA_API", "https://data-api.polymarket.com"),
		CLOBAPIBase:   getenv("PM_CLOB_API", "https://clob.polymarket.com"),
		WSURL:         getenv("PM_WS_URL", "wss://ws-live-data.polymarket.com"),
		WSEnabled:     getbool("PM_WS_ENABLED", false),
		RequestLimit:  getint("PM_FETCH_LIMIT", 500),
		PollInterval:  getdur("PM_POLL_INTERVAL", 30*time.Second),
		FetchTimeout:  getdur("PM_FETCH_TIMEOUT", 15*time.Second),
		RetryAttempts: getint("PM_RETRY_ATTEMPTS", 3),
		RetryBaseWait: getdur("PM_RETRY_BASE_WAIT", 500*time.Millisecond),

		TrackedTraders: getlist("COPY_TRADERS"),

		Thresholds: Thresholds{
			MinTrades:    getint("COPY_MIN_TRADES", 20),
			MinWinRate:   getfloat("COPY_MIN_WIN_RATE", 0.55),
			MaxDrawdown:  getfloat("COPY_MAX_DRAWDOWN", 0.40),
			MinSharpe:    getfloat("COPY_MIN_SHARPE", 0.5),
			MinProfitUSD: getfloat("COPY_MIN_PROFIT", 100),
		},
		Sizing: Sizing{
			Method:             getenv("COPY_SIZING_METHOD", "kelly"),
			Bankroll:           getfloat("COPY_BANKROLL", 1000),
			KellyFraction:      getfloat("COPY_KELLY_FRACTION", 0.25),
			MaxSinglePosition:  getfloat("COPY_MAX_SINGLE_POSITION", 0.10),
			MaxPortfolioAlloc:  getfloat("COPY_MAX_PORTFOLIO_ALLOC", 0.50),
			MinTradeUSD:        getfloat("COPY_MIN_TRADE", 1),
			MaxTradeUSD:        getfloat("COPY_MAX_TRADE", 1000),
			RiskParityLookback: getint("COPY_RISK_PARITY_MIN_PEERS", 2),
		},
		Norms: ScoreNorms{
			WinRateFull:  getfloat("SCORE_WIN_RATE_FULL", 0.60),
			SharpeFloor:  getfloat("SCORE_SHARPE_FLOOR", -1),
			SharpeCeil:   getfloat("SCORE_SHARPE_CEIL", 3),
			PnLFull:      getfloat("SCORE_PNL_FULL", 5000),
			MomentumFull: getfloat("SCORE_MOMENTUM_FULL", 500),
		},

		DryRun:        getbool("COPY_DRY_RUN", true),
		PrivateKey:    os.Getenv("PM_PRIVATE_KEY"),
		FunderAddress: os.Getenv("PM_FUNDER_ADDRESS"),

		DBPath:    getenv("DB_PATH", "data/copytrade.db"),
		APIListen: getenv("API_LISTEN", ":8090"),
		JWTSecret: os.Getenv("JWT_SECRET"),
		AdminUser: getenv("ADMIN_USER", "admin"),
		AdminPass: os.Getenv("ADMIN_PASSWORD_HASH"),

		Telegram: Telegram{
			Enabled: getbool("TG_ENABLED", false),
			Token:   os.Getenv("TG_BOT_TOKEN"),
			ChatID:  int64(getint("TG_CHAT_ID", 0)),
		},

		LogLevel: getenv("LOG_LEVEL", "info"),
		LogFile:  getenv("LOG_FILE", "logs/copytrade.log"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 配置校验，任何一项非法直接报错退出
func (c *Config) Validate() error {
	switch c.Sizing.Method {
	case "kelly", "fixed_fraction", "risk_parity":
	default:
		return fmt.Errorf("COPY_SIZING_METHOD 非法: %q", c.Sizing.Method)
	}
	if c.Sizing.Bankroll <= 0 {
		return fmt.Errorf("COPY_BANKROLL 必须为正数: %v", c.Sizing.Bankroll)
	}
	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		return fmt.Errorf("COPY_KELLY_FRACTION 必须在 (0,1] 区间: %v", c.Sizing.KellyFraction)
	}
	if c.Sizing.MaxSinglePosition <= 0 || c.Sizing.MaxSinglePosition > 1 {
		return fmt.Errorf("COPY_MAX_SINGLE_POSITION 必须在 (0,1] 区间: %v", c.Sizing.MaxSinglePosition)
	}
	if c.Sizing.MaxPortfolioAlloc <= 0 || c.Sizing.MaxPortfolioAlloc > 1 {
		return fmt.Errorf("COPY_MAX_PORTFOLIO_ALLOC 必须在 (0,1] 区间: %v", c.Sizing.MaxPortfolioAlloc)
	}
	if c.Sizing.MinTradeUSD < 0 || c.Sizing.MaxTradeUSD <= 0 || c.Sizing.MinTradeUSD > c.Sizing.MaxTradeUSD {
		return fmt.Errorf("下单金额区间非法: min=%v max=%v", c.Sizing.MinTradeUSD, c.Sizing.MaxTradeUSD)
	}
	if c.Thresholds.MinWinRate < 0 || c.Thresholds.MinWinRate > 1 {
		return fmt.Errorf("COPY_MIN_WIN_RATE 必须在 [0,1] 区间: %v", c.Thresholds.MinWinRate)
	}
	if c.Thresholds.MaxDrawdown <= 0 || c.Thresholds.MaxDrawdown > 1 {
		return fmt.Errorf("COPY_MAX_DRAWDOWN 必须在 (0,1] 区间: %v", c.Thresholds.MaxDrawdown)
	}
	if c.Thresholds.MinTrades < 1 {
		return fmt.Errorf("COPY_MIN_TRADES 必须 >= 1: %d", c.Thresholds.MinTrades)
	}
	if c.Norms.SharpeCeil <= c.Norms.SharpeFloor {
		return fmt.Errorf("夏普归一化边界非法: floor=%v ceil=%v", c.Norms.SharpeFloor, c.Norms.SharpeCeil)
	}
	if c.Norms.WinRateFull <= 0 || c.Norms.PnLFull <= 0 || c.Norms.MomentumFull <= 0 {
		return fmt.Errorf("评分归一化满分值必须为正数")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("PM_POLL_INTERVAL 过短: %v", c.PollInterval)
	}
	for _, addr := range c.TrackedTraders {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("COPY_TRADERS 包含非法地址: %s", addr)
		}
	}
	if !c.DryRun && c.PrivateKey == "" {
		return fmt.Errorf("实盘模式必须配置 PM_PRIVATE_KEY")
	}
	return nil
}

// ========== 环境变量读取辅助 ==========

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getdur(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getlist(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
