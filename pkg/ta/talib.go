package ta

import (
	"github.com/markcheno/go-talib"
)

// RSI 计算RSI序列（Wilder平滑，与交易所官方算法一致）
func RSI(closes []float64, period int) []float64 {
	return talib.Rsi(closes, period)
}

// EMA 计算指数移动平均序列
func EMA(closes []float64, period int) []float64 {
	return talib.Ema(closes, period)
}

// MACD 计算MACD序列
func MACD(closes []float64, fast, slow, signal int) ([]float64, []float64, []float64) {
	return talib.Macd(closes, fast, slow, signal)
}

// ATR 计算平均真实波幅序列
func ATR(highs, lows, closes []float64, period int) []float64 {
	return talib.Atr(highs, lows, closes, period)
}

// RSIValue 返回最新的RSI值。数据不足指标预热窗口（period+1根K线）时返回nil，
// 调用方必须把nil当作“指标不可用”处理，不能当作0或中性值。
func RSIValue(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	series := talib.Rsi(closes, period)
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	return &v
}
