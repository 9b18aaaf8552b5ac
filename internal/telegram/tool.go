package telegram

import (
	"fmt"

	"github.com/kimdaeho/sevensplit/internal/models"
	"github.com/valyala/fasttemplate"
	"go.uber.org/zap"
)

const tradeClosedTemplate = `*{name}* {ticker} 平仓
买入: {buy_price}
卖出: {sell_price}
净收益: {net_profit} ({profit_rate}%)`

const eventTemplate = `*{name}* {ticker}
[{event_type}] {message}`

// Notifier 交易通知。未配置时bot为nil，所有方法安全降级为no-op，
// 发送失败只记日志，绝不影响tick流程。
type Notifier struct {
	bot    *Telegram
	chatID string
	logger *zap.Logger
}

// NewNotifier 创建通知器，bot可为nil（未启用telegram）
func NewNotifier(bot *Telegram, chatID string, logger *zap.Logger) *Notifier {
	return &Notifier{bot: bot, chatID: chatID, logger: logger}
}

// TradeClosed 分仓平仓通知
func (n *Notifier) TradeClosed(st *models.Strategy, trade *models.Trade) {
	if n.bot == nil {
		return
	}
	msg := fasttemplate.ExecuteString(tradeClosedTemplate, "{", "}", map[string]interface{}{
		"name":        st.Name,
		"ticker":      st.Ticker,
		"buy_price":   fmt.Sprintf("%.8g", trade.BuyPrice),
		"sell_price":  fmt.Sprintf("%.8g", trade.SellPrice),
		"net_profit":  fmt.Sprintf("%.2f", trade.NetProfit),
		"profit_rate": fmt.Sprintf("%.2f", trade.ProfitRate*100),
	})
	n.send(msg)
}

// Event 风控与状态事件通知，只推送warn及以上
func (n *Notifier) Event(st *models.Strategy, level models.EventLevel, eventType, message string) {
	if n.bot == nil || level == models.EventLevelInfo {
		return
	}
	msg := fasttemplate.ExecuteString(eventTemplate, "{", "}", map[string]interface{}{
		"name":       st.Name,
		"ticker":     st.Ticker,
		"event_type": eventType,
		"message":    message,
	})
	n.send(msg)
}

func (n *Notifier) send(msg string) {
	go func() {
		if err := n.bot.Notify(n.chatID, msg); err != nil {
			n.logger.Warn("failed to send telegram notification", zap.Error(err))
		}
	}()
}
