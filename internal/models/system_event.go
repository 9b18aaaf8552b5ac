package models

import "time"

// EventLevel 事件级别
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// 事件类型
const (
	EventTypeBuyPlaced    = "buy_placed"
	EventTypeBuyFilled    = "buy_filled"
	EventTypeSellPlaced   = "sell_placed"
	EventTypeTradeClosed  = "trade_closed"
	EventTypeWatchEnter   = "watch_enter"
	EventTypeWatchExit    = "watch_exit"
	EventTypeRebuyTrigger = "rebuy_trigger"
	EventTypeRiskSkip     = "risk_skip"
	EventTypeStopLoss     = "stop_loss"
	EventTypeReset        = "reset"
	EventTypeStopped      = "stopped"
)

// SystemEvent 审计事件，只追加不修改
type SystemEvent struct {
	ID         string     `gorm:"primaryKey;size:26" json:"id"`
	StrategyID string     `gorm:"size:26;not null;index" json:"strategy_id"`
	Level      EventLevel `gorm:"size:10;not null" json:"level"`
	EventType  string     `gorm:"size:30;not null" json:"event_type"`
	Message    string     `gorm:"size:500" json:"message"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
}

// TableName 指定表名
func (SystemEvent) TableName() string {
	return "system_event"
}
