package config

type Config struct {
	Auth     AuthConf     `json:"auth"`
	Telegram TelegramConf `json:"telegram"`
	Binance  BinanceConf  `json:"binance"`
	Exchange ExchangeConf `json:"exchange"`
}

type AuthConf struct {
	JWTSecret string `json:"jwt_secret"`
}

type TelegramConf struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
}

type BinanceConf struct {
	APIKey   string `json:"api_key"`
	Secret   string `json:"secret"`
	ProxyURL string `json:"proxy_url"` // 代理地址，例如: http://127.0.0.1:7890
	Testnet  bool   `json:"testnet"`   // 是否使用测试网
}

type ExchangeConf struct {
	Mode           string  `json:"mode"`            // mock 或 real，默认mock
	QuoteCurrency  string  `json:"quote_currency"`  // 计价货币，默认USDT
	FeeRate        float64 `json:"fee_rate"`        // 模拟撮合手续费率，默认0.0005
	RefreshSeconds int     `json:"refresh_seconds"` // 模拟盘价格刷新周期（秒），默认5
	InitialBalance float64 `json:"initial_balance"` // 模拟账户初始余额（计价货币），首次启动时注入
}

// IsMock 是否模拟盘模式
func (c ExchangeConf) IsMock() bool {
	return c.Mode != "real"
}
