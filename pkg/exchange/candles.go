package exchange

// K线时间与聚合工具。回测与指标计算共用这里的归一化逻辑，
// 保证毫秒/秒两种时间戳输入产生完全一致的结果。

// 秒级Unix时间戳的合理上限。超过它的值只可能是毫秒时间戳，
// 必须先除以1000再参与任何间隔运算，否则日线/分钟线判定会差出1000倍。
const msTimestampThreshold = 10_000_000_000

// 连续两根K线间隔达到该值（秒）即判定为日线数据。
// 取 80000 而不是 86400，容忍夏令时和交易所的对齐误差。
const dailyIntervalThreshold = 80_000

// NormalizeTimestamp 把时间戳归一化为秒
func NormalizeTimestamp(ts int64) int64 {
	if ts > msTimestampThreshold {
		return ts / 1000
	}
	return ts
}

// NormalizeKlines 原地归一化K线时间戳，返回原切片
func NormalizeKlines(klines []*Kline) []*Kline {
	for _, k := range klines {
		k.Time = NormalizeTimestamp(k.Time)
	}
	return klines
}

// IsDaily 根据相邻K线的时间间隔判断是否为日线数据。
// 必须在归一化之后调用。
func IsDaily(klines []*Kline) bool {
	if len(klines) < 2 {
		return false
	}
	diff := klines[1].Time - klines[0].Time
	if diff < 0 {
		diff = -diff
	}
	return diff >= dailyIntervalThreshold
}

// Resample 把每 factor 根K线聚合为一根粗粒度K线：
// open取首、high取最大、low取最小、close取末、volume求和。
// 只聚合完整分组，调用方传入的切片不能包含当前模拟步之后的K线，避免前视偏差。
func Resample(klines []*Kline, factor int) []*Kline {
	if factor <= 1 || len(klines) == 0 {
		return klines
	}
	out := make([]*Kline, 0, len(klines)/factor)
	for i := 0; i+factor <= len(klines); i += factor {
		group := klines[i : i+factor]
		agg := &Kline{
			Time: group[0].Time,
			Open: group[0].Open,
			High: group[0].High,
			Low:  group[0].Low,
		}
		for _, k := range group {
			if k.High > agg.High {
				agg.High = k.High
			}
			if k.Low < agg.Low {
				agg.Low = k.Low
			}
			agg.Volume += k.Volume
		}
		agg.Close = group[factor-1].Close
		out = append(out, agg)
	}
	return out
}

// ExpandDailyToHourly 把日线K线插值展开为24根小时K线，
// 使日内规则（追踪买入、盘中RSI）可以在只有日线数据时照常回测。
// 阳线按 开->低->高->收 的路径走，阴线按 开->高->低->收。
func ExpandDailyToHourly(daily []*Kline) []*Kline {
	const (
		phase1End = 4.0  // 0-3h: 冲向第一个极值
		phase2End = 20.0 // 4-19h: 走向第二个极值
	)
	hourly := make([]*Kline, 0, len(daily)*24)
	for _, day := range daily {
		o, h, l, c := day.Open, day.High, day.Low, day.Close
		bullish := c >= o
		for hour := 0; hour < 24; hour++ {
			var price float64
			fh := float64(hour)
			if bullish {
				switch {
				case fh < phase1End:
					price = o + (l-o)*(fh/phase1End)
				case fh < phase2End:
					price = l + (h-l)*((fh-phase1End)/(phase2End-phase1End))
				default:
					price = h + (c-h)*((fh-phase2End)/(24-phase2End))
				}
			} else {
				switch {
				case fh < phase1End:
					price = o + (h-o)*(fh/phase1End)
				case fh < phase2End:
					price = h + (l-h)*((fh-phase1End)/(phase2End-phase1End))
				default:
					price = l + (c-l)*((fh-phase2End)/(24-phase2End))
				}
			}
			hourly = append(hourly, &Kline{
				Time:   day.Time + int64(hour)*3600,
				Open:   price,
				High:   price,
				Low:    price,
				Close:  price,
				Volume: day.Volume / 24,
			})
		}
	}
	return hourly
}

// Closes 提取收盘价序列
func Closes(klines []*Kline) []float64 {
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	return closes
}
