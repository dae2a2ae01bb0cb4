// Package notify 跟单结果通知
package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/U0001F3A2/polymarket-copy/logger"
	"github.com/U0001F3A2/polymarket-copy/store"
)

// TelegramNotifier Telegram 推送
// 引擎在独立协程里调用，发送耗时和失败都不影响决策管线，失败只记日志
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegramNotifier 创建 Telegram 通知器
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("初始化 Telegram Bot 失败: %w", err)
	}
	logger.Infof("📨 Telegram 通知已启用: @%s", bot.Self.UserName)
	return &TelegramNotifier{bot: bot, chatID: chatID}, nil
}

// NotifyRecord 推送一条跟单记录
func (n *TelegramNotifier) NotifyRecord(r *store.CopyTradeRecord) {
	var text string
	switch r.Status {
	case store.StatusFilled:
		mode := ""
		if r.DryRun {
			mode = " [纸面]"
		}
		text = fmt.Sprintf("🎯 跟单成交%s\n市场: %s\n方向: %s %s\n金额: %.2f USDC\n评分: %.1f",
			mode, r.MarketTitle, r.Side, r.Outcome, r.FinalSize, r.CompositeScore)
	case store.StatusFailed:
		text = fmt.Sprintf("❌ 跟单失败\n市场: %s\n原因: %s", r.MarketTitle, r.Reason)
	case store.StatusSkipped:
		// 跳过太频繁，不推送
		return
	default:
		return
	}

	msg := tgbotapi.NewMessage(n.chatID, text)
	if _, err := n.bot.Send(msg); err != nil {
		logger.Warnf("⚠️ Telegram 推送失败: %v", err)
	}
}
