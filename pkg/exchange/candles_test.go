package exchange

import (
	"testing"

	"github.com/kimdaeho/sevensplit/pkg/ta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTimestampMillisecondsAndSeconds(t *testing.T) {
	// 同一时刻的毫秒与秒输入必须归一化为同一个值
	assert.Equal(t, int64(1_765_638_000), NormalizeTimestamp(1_765_638_000_000))
	assert.Equal(t, int64(1_765_638_000), NormalizeTimestamp(1_765_638_000))
}

func TestIsDailyClassification(t *testing.T) {
	daily := []*Kline{
		{Time: 1_765_638_000},
		{Time: 1_765_638_000 + 86_400},
	}
	assert.True(t, IsDaily(daily))

	hourly := []*Kline{
		{Time: 1_765_638_000},
		{Time: 1_765_638_000 + 3_600},
	}
	assert.False(t, IsDaily(hourly))

	// 毫秒时间戳必须先归一化，否则小时线会被误判为日线
	msHourly := NormalizeKlines([]*Kline{
		{Time: 1_765_638_000_000},
		{Time: 1_765_638_000_000 + 3_600_000},
	})
	assert.False(t, IsDaily(msHourly))
}

func TestIsDailyMsAndSecondsAgree(t *testing.T) {
	base := int64(1_765_638_000)
	seconds := []*Kline{{Time: base}, {Time: base + 86_400}}
	millis := NormalizeKlines([]*Kline{{Time: base * 1000}, {Time: (base + 86_400) * 1000}})
	assert.Equal(t, IsDaily(seconds), IsDaily(millis))
	assert.Equal(t, seconds[0].Time, millis[0].Time)
}

func TestResampleAggregation(t *testing.T) {
	src := []*Kline{
		{Time: 0, Open: 10, High: 12, Low: 9, Close: 11, Volume: 1},
		{Time: 300, Open: 11, High: 15, Low: 10, Close: 14, Volume: 2},
		{Time: 600, Open: 14, High: 14, Low: 8, Close: 9, Volume: 3},
		// 不完整分组，必须被丢弃
		{Time: 900, Open: 9, High: 20, Low: 9, Close: 19, Volume: 4},
	}
	out := Resample(src, 3)
	require.Len(t, out, 1)
	assert.Equal(t, int64(0), out[0].Time)
	assert.Equal(t, 10.0, out[0].Open)
	assert.Equal(t, 15.0, out[0].High)
	assert.Equal(t, 8.0, out[0].Low)
	assert.Equal(t, 9.0, out[0].Close)
	assert.Equal(t, 6.0, out[0].Volume)
}

func TestResampledRSIMatchesDirectCoarseCandles(t *testing.T) {
	// 构造30根15分钟收盘价，再把每根拆成3根5分钟K线（末根收盘价一致）。
	// 聚合后的RSI必须与直接提供15分钟K线的RSI一致。
	closes15 := make([]float64, 30)
	price := 100.0
	for i := range closes15 {
		if i%3 == 0 {
			price *= 1.01
		} else {
			price *= 0.997
		}
		closes15[i] = price
	}

	var direct []*Kline
	var fine []*Kline
	for i, c := range closes15 {
		ts := int64(i) * 900
		direct = append(direct, &Kline{Time: ts, Open: c, High: c, Low: c, Close: c})
		for j := 0; j < 3; j++ {
			v := c * (1 + float64(j-2)*0.0001) // 末根(j=2)收盘价等于c
			fine = append(fine, &Kline{Time: ts + int64(j)*300, Open: v, High: v, Low: v, Close: v})
		}
	}

	resampled := Resample(fine, 3)
	require.Len(t, resampled, len(direct))

	directRSI := ta.RSIValue(Closes(direct), 14)
	resampledRSI := ta.RSIValue(Closes(resampled), 14)
	require.NotNil(t, directRSI)
	require.NotNil(t, resampledRSI)
	assert.InDelta(t, *directRSI, *resampledRSI, 1e-6)
}

func TestExpandDailyToHourly(t *testing.T) {
	bullish := []*Kline{{Time: 0, Open: 100, High: 120, Low: 90, Close: 115, Volume: 24}}
	hourly := ExpandDailyToHourly(bullish)
	require.Len(t, hourly, 24)

	// 阳线路径：开 -> 低(4h) -> 高(20h) -> 收
	assert.Equal(t, 100.0, hourly[0].Close)
	assert.Equal(t, 90.0, hourly[4].Close)
	assert.Equal(t, 120.0, hourly[20].Close)
	assert.Equal(t, int64(3600), hourly[1].Time)
	assert.InDelta(t, 1.0, hourly[0].Volume, 1e-9)

	bearish := []*Kline{{Time: 0, Open: 100, High: 110, Low: 80, Close: 85, Volume: 24}}
	hourly = ExpandDailyToHourly(bearish)
	require.Len(t, hourly, 24)

	// 阴线路径：开 -> 高(4h) -> 低(20h) -> 收
	assert.Equal(t, 110.0, hourly[4].Close)
	assert.Equal(t, 80.0, hourly[20].Close)
}
