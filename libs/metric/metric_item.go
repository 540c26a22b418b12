package metric

// MetricItem - 一个独立的metric模块对应一个MetricItem
// 各模块自己负责并发安全，JSONString返回当前快照
type MetricItem interface {
	JSONString() string
}

type mockMetricItem struct {
	name string
}

func (mock *mockMetricItem) JSONString() string {
	return mock.name
}
