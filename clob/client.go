// Package clob Polymarket CLOB 下单客户端
package clob

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/U0001F3A2/polymarket-copy/copytrade"
	"github.com/U0001F3A2/polymarket-copy/logger"
)

// Client CLOB 下单客户端，实现 copytrade.OrderExecutor
type Client struct {
	baseURL    string
	funder     string
	privateKey *ecdsa.PrivateKey
	address    string
	httpClient *http.Client
}

// New 创建 CLOB 客户端
// privateKeyHex 用于请求签名，地址由私钥推导
func New(baseURL, privateKeyHex, funder string, timeout time.Duration) (*Client, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("解析私钥失败: %w", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	if funder == "" {
		funder = addr
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		funder:     funder,
		privateKey: key,
		address:    addr,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// Address 签名地址
func (c *Client) Address() string {
	return c.address
}

// orderPayload 下单请求体
type orderPayload struct {
	Market    string  `json:"market"`
	Outcome   string  `json:"outcome"`
	Side      string  `json:"side"`
	Price     float64 `json:"price"`
	Amount    float64 `json:"amount"`
	OrderType string  `json:"orderType"`
	ClientID  string  `json:"clientId"`
	Funder    string  `json:"funder"`
}

// orderResponse 下单返回体
type orderResponse struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderID"`
	TxHash  string `json:"transactionHash"`
	Filled  string `json:"makingAmount"`
	Error   string `json:"errorMsg"`
}

// SubmitOrder 提交限价单
// 限流/超时/服务不可用映射为瞬时错误交给上层重试，拒单立即终态
func (c *Client) SubmitOrder(ctx context.Context, req copytrade.OrderRequest) (*copytrade.OrderResult, error) {
	payload := orderPayload{
		Market:    req.MarketID,
		Outcome:   req.Outcome,
		Side:      string(req.Side),
		Price:     req.Price,
		Amount:    req.AmountUSDC,
		OrderType: "FOK",
		ClientID:  req.ClientID,
		Funder:    c.funder,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/order", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := c.signRequest(httpReq, http.MethodPost, "/order"); err != nil {
		return nil, fmt.Errorf("请求签名失败: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: POST /order", copytrade.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: %v", copytrade.ErrFeedUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: POST /order", copytrade.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: POST /order 返回 %d", copytrade.ErrFeedUnavailable, resp.StatusCode)
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var out orderResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("解析下单返回失败: %v (%s)", err, string(raw))
	}

	if resp.StatusCode != http.StatusOK || !out.Success {
		reason := out.Error
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		logger.Warnf("❌ [CLOB] 订单被拒: %s | market=%s amount=%.2f", reason, req.MarketID, req.AmountUSDC)
		return nil, fmt.Errorf("%w: %s", copytrade.ErrRejected, reason)
	}

	filled, _ := strconv.ParseFloat(out.Filled, 64)
	logger.Infof("✅ [CLOB] 下单成功 | order=%s market=%s amount=%.2f", out.OrderID, req.MarketID, req.AmountUSDC)
	return &copytrade.OrderResult{
		OrderID:    out.OrderID,
		TxHash:     out.TxHash,
		FilledSize: filled,
	}, nil
}

// signRequest L1 签名认证头
// 对 时间戳+方法+路径 做 keccak 哈希后用私钥签名
func (c *Client) signRequest(req *http.Request, method, path string) error {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	msg := []byte("POLY" + ts + method + path)
	hash := crypto.Keccak256(msg)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return err
	}

	req.Header.Set("POLY_ADDRESS", c.address)
	req.Header.Set("POLY_TIMESTAMP", ts)
	req.Header.Set("POLY_SIGNATURE", hexutil.Encode(sig))
	return nil
}
