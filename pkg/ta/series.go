package ta

func Last(s []float64, position int) float64 {
	return s[len(s)-1-position]
}

func LastValues(s []float64, size int) []float64 {
	if l := len(s); l > size {
		return s[l-size:]
	}
	return s
}

// Lowest 计算最近 n 个值中的最低值
func Lowest(values []float64, period int) float64 {
	arr := LastValues(values, period)
	minVal := arr[0]
	for _, value := range arr {
		if value < minVal {
			minVal = value
		}
	}
	return minVal
}

// Highest 计算最近 n 个值中的最高值
func Highest(values []float64, period int) float64 {
	arr := LastValues(values, period)
	maxVal := arr[0]
	for _, value := range arr {
		if value > maxVal {
			maxVal = value
		}
	}
	return maxVal
}
