package utils

import (
	"sort"
)

// 浮点统计的小工具，空输入一律返回-1

func Max(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := data[0]
	for _, datum := range data {
		if datum > res {
			res = datum
		}
	}
	return res
}

func Min(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := data[0]
	for _, datum := range data {
		if datum < res {
			res = datum
		}
	}
	return res
}

// Mean 中位数，会对输入排序
func Mean(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	sort.Float64s(data)
	mid := len(data) / 2
	if len(data)%2 == 1 {
		return data[mid]
	}
	return (data[mid-1] + data[mid]) / 2
}

// Avg 算术平均
func Avg(data ...float64) float64 {
	if len(data) == 0 {
		return -1.0
	}

	res := 0.0
	for _, datum := range data {
		res += datum
	}
	return res / float64(len(data))
}
