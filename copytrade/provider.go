package copytrade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/U0001F3A2/polymarket-copy/logger"
)

// TradeProvider 交易员数据源
// 实现方负责把各家接口的原始返回标准化为统一结构
type TradeProvider interface {
	// FetchTrades 拉取 since 之后的成交（含边界），按时间升序返回，已平仓成交带 RealizedPnL
	FetchTrades(ctx context.Context, address string, since time.Time) ([]Trade, error)
	// FetchPositions 拉取当前持仓快照
	FetchPositions(ctx context.Context, address string) ([]Position, error)
	// PortfolioValue 查询组合总价值 (USDC)
	PortfolioValue(ctx context.Context, address string) (float64, error)
	// Leaderboard 拉取一页盈亏排行榜（period: DAY/WEEK/MONTH/ALL）
	Leaderboard(ctx context.Context, period string, limit, offset int) ([]LeaderboardEntry, error)
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank     string  `json:"rank"`
	Address  string  `json:"address"`
	Name     string  `json:"name"`
	PnL      float64 `json:"pnl"`
	Volume   float64 `json:"volume"`
	Verified bool    `json:"verified"`
}

// ============================================================
// Polymarket Data API 实现
// ============================================================

// PolymarketProvider 基于官方 Data API 的数据源
type PolymarketProvider struct {
	baseURL    string
	fetchLimit int
	httpClient *http.Client
}

// NewPolymarketProvider 创建 Data API 数据源
func NewPolymarketProvider(baseURL string, fetchLimit int, timeout time.Duration) *PolymarketProvider {
	if fetchLimit <= 0 {
		fetchLimit = 500
	}
	return &PolymarketProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		fetchLimit: fetchLimit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// rawTrade Data API /trades 原始返回
type rawTrade struct {
	ProxyWallet     string      `json:"proxyWallet"`
	Side            string      `json:"side"`
	ConditionID     string      `json:"conditionId"`
	Size            interface{} `json:"size"`
	Price           interface{} `json:"price"`
	Timestamp       interface{} `json:"timestamp"`
	Title           string      `json:"title"`
	Outcome         string      `json:"outcome"`
	TransactionHash string      `json:"transactionHash"`
}

// rawPosition Data API /positions 原始返回
type rawPosition struct {
	ProxyWallet   string      `json:"proxyWallet"`
	ConditionID   string      `json:"conditionId"`
	Title         string      `json:"title"`
	Outcome       string      `json:"outcome"`
	Size          interface{} `json:"size"`
	AvgPrice      interface{} `json:"avgPrice"`
	CurPrice      interface{} `json:"curPrice"`
	CurrentValue  interface{} `json:"currentValue"`
	CashPnL       interface{} `json:"cashPnl"`
}

// rawValue Data API /value 原始返回
type rawValue struct {
	User  string      `json:"user"`
	Value interface{} `json:"value"`
}

// rawLeaderboardEntry Data API /v1/leaderboard 原始返回
type rawLeaderboardEntry struct {
	Rank          string      `json:"rank"`
	ProxyWallet   string      `json:"proxyWallet"`
	UserName      string      `json:"userName"`
	Vol           interface{} `json:"vol"`
	Pnl           interface{} `json:"pnl"`
	VerifiedBadge bool        `json:"verifiedBadge"`
}

// FetchTrades 分页拉取全部成交并标准化
// 盈亏在本地按均价成本重放推导：BUY 摊入成本，SELL 以 (卖价 − 均价) × 数量 落袋
func (p *PolymarketProvider) FetchTrades(ctx context.Context, address string, since time.Time) ([]Trade, error) {
	var all []rawTrade
	offset := 0
	for {
		q := url.Values{}
		q.Set("user", strings.ToLower(address))
		q.Set("takerOnly", "true")
		q.Set("limit", strconv.Itoa(p.fetchLimit))
		q.Set("offset", strconv.Itoa(offset))

		var page []rawTrade
		if err := p.getJSON(ctx, "/trades?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < p.fetchLimit {
			break
		}
		offset += p.fetchLimit
	}

	trades := make([]Trade, 0, len(all))
	for i := range all {
		t, ok := normalizeTrade(&all[i], address)
		if !ok {
			continue
		}
		trades = append(trades, t)
	}

	// 升序重放均价成本，推导每笔卖出的已实现盈亏
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Timestamp.Equal(trades[j].Timestamp) {
			return trades[i].ID < trades[j].ID
		}
		return trades[i].Timestamp.Before(trades[j].Timestamp)
	})
	attachRealizedPnL(trades)

	// 水位过滤放在盈亏重放之后，成本基础必须用完整历史算
	if !since.IsZero() {
		filtered := trades[:0]
		for _, t := range trades {
			if !t.Timestamp.Before(since) {
				filtered = append(filtered, t)
			}
		}
		trades = filtered
	}
	return trades, nil
}

// FetchPositions 拉取持仓快照
func (p *PolymarketProvider) FetchPositions(ctx context.Context, address string) ([]Position, error) {
	q := url.Values{}
	q.Set("user", strings.ToLower(address))

	var raws []rawPosition
	if err := p.getJSON(ctx, "/positions?"+q.Encode(), &raws); err != nil {
		return nil, err
	}

	positions := make([]Position, 0, len(raws))
	now := time.Now()
	for i := range raws {
		r := &raws[i]
		positions = append(positions, Position{
			TraderAddress: strings.ToLower(address),
			MarketID:      r.ConditionID,
			MarketTitle:   r.Title,
			Outcome:       r.Outcome,
			Size:          parseFloat(r.Size),
			AvgPrice:      parseFloat(r.AvgPrice),
			CurrentPrice:  parseFloat(r.CurPrice),
			CurrentValue:  parseFloat(r.CurrentValue),
			UnrealizedPnL: parseFloat(r.CashPnL),
			UpdatedAt:     now,
		})
	}
	return positions, nil
}

// PortfolioValue 查询组合总价值
func (p *PolymarketProvider) PortfolioValue(ctx context.Context, address string) (float64, error) {
	q := url.Values{}
	q.Set("user", strings.ToLower(address))

	var raws []rawValue
	if err := p.getJSON(ctx, "/value?"+q.Encode(), &raws); err != nil {
		return 0, err
	}
	if len(raws) == 0 {
		return 0, nil
	}
	return parseFloat(raws[0].Value), nil
}

// Leaderboard 拉取一页排行榜，按盈亏降序
// 接口单页上限 50 条
func (p *PolymarketProvider) Leaderboard(ctx context.Context, period string, limit, offset int) ([]LeaderboardEntry, error) {
	if limit <= 0 || limit > 50 {
		limit = 50
	}
	q := url.Values{}
	q.Set("category", "OVERALL")
	q.Set("timePeriod", period)
	q.Set("orderBy", "PNL")
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))

	var raws []rawLeaderboardEntry
	if err := p.getJSON(ctx, "/v1/leaderboard?"+q.Encode(), &raws); err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(raws))
	for i := range raws {
		r := &raws[i]
		if r.ProxyWallet == "" {
			continue
		}
		entries = append(entries, LeaderboardEntry{
			Rank:     r.Rank,
			Address:  strings.ToLower(r.ProxyWallet),
			Name:     r.UserName,
			PnL:      parseFloat(r.Pnl),
			Volume:   parseFloat(r.Vol),
			Verified: r.VerifiedBadge,
		})
	}
	return entries, nil
}

// normalizeTrade 原始成交 → 标准结构
func normalizeTrade(r *rawTrade, address string) (Trade, bool) {
	size := parseFloat(r.Size)
	price := parseFloat(r.Price)
	ts := parseInt(r.Timestamp)
	if size <= 0 || price <= 0 || ts <= 0 {
		logger.Debugf("🔧 丢弃无法解析的成交: tx=%s size=%v price=%v", r.TransactionHash, r.Size, r.Price)
		return Trade{}, false
	}

	side := SideBuy
	if strings.EqualFold(r.Side, "SELL") {
		side = SideSell
	}

	return Trade{
		ID:            fmt.Sprintf("%s_%d", r.TransactionHash, ts),
		TraderAddress: strings.ToLower(address),
		MarketID:      r.ConditionID,
		MarketTitle:   r.Title,
		Side:          side,
		Outcome:       r.Outcome,
		Size:          size,
		Price:         price,
		AmountUSDC:    size * price,
		Timestamp:     time.Unix(ts, 0).UTC(),
		TxHash:        r.TransactionHash,
	}, true
}

// attachRealizedPnL 按 (市场, 结果) 分组做均价成本重放
// trades 必须已按时间升序
func attachRealizedPnL(trades []Trade) {
	type basis struct {
		size float64 // 持有数量
		cost float64 // 累计成本 (USDC)
	}
	book := make(map[string]*basis)

	for i := range trades {
		t := &trades[i]
		key := t.MarketID + "|" + t.Outcome
		b := book[key]
		if b == nil {
			b = &basis{}
			book[key] = b
		}

		switch t.Side {
		case SideBuy:
			b.size += t.Size
			b.cost += t.AmountUSDC
		case SideSell:
			if b.size <= 0 {
				// 没有可对应的买入（历史截断），盈亏不可知
				continue
			}
			avg := b.cost / b.size
			closed := t.Size
			if closed > b.size {
				closed = b.size
			}
			t.RealizedPnL = Defined((t.Price - avg) * closed)
			b.size -= closed
			b.cost -= avg * closed
			if b.size < 1e-9 {
				b.size, b.cost = 0, 0
			}
		}
	}
}

// getJSON 带错误分类的 GET 请求
func (p *PolymarketProvider) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: GET %s", ErrTimeout, path)
		}
		return fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: GET %s", ErrRateLimited, path)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: GET %s 返回 %d", ErrFeedUnavailable, path, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("GET %s 返回 %d: %s", path, resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// ========== 安全解析辅助 ==========
// Data API 的数值字段有时是字符串有时是数字，统一兜底解析

func parseFloat(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		f, _ := strconv.ParseFloat(x, 64)
		return f
	case json.Number:
		f, _ := x.Float64()
		return f
	}
	return 0
}

func parseInt(v interface{}) int64 {
	switch x := v.(type) {
	case float64:
		return int64(x)
	case string:
		n, _ := strconv.ParseInt(x, 10, 64)
		return n
	case json.Number:
		n, _ := x.Int64()
		return n
	}
	return 0
}
