package consensus

import (
	"math"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

func newConsensusMetric() *consensusMetric {
	return &consensusMetric{
		CommittedHeight: 0,
		HQCHeight:       0,
		VHeight:         0,
	}
}

// consensusMetric rpc可读的共识运行快照
type consensusMetric struct {
	mtx sync.RWMutex

	CommittedHeight uint64 `json:"committed_height"`
	HQCHeight       uint64 `json:"hqc_height"`
	VHeight         uint64 `json:"vheight"`
	ReceiveProposal bool   `json:"receive_proposal"`
	IsProposer      bool   `json:"is_proposer"`
	View            uint32 `json:"view"`
}

func (cm *consensusMetric) JSONString() string {
	cm.mtx.RLock()
	defer cm.mtx.RUnlock()
	s, _ := jsoniter.MarshalToString(cm)
	return s
}

func (cm *consensusMetric) MarkCommitted(height uint64) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	if height > cm.CommittedHeight {
		cm.CommittedHeight = height
	}
}

func (cm *consensusMetric) MarkHQCHeight(height uint64) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.HQCHeight = height
}

func (cm *consensusMetric) MarkVHeight(height uint64) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.VHeight = height
}

func (cm *consensusMetric) MarkReceiveProposal(v bool) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.ReceiveProposal = v
}

func (cm *consensusMetric) MarkIsProposer(v bool) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.IsProposer = v
}

func (cm *consensusMetric) MarkView(view uint32) {
	cm.mtx.Lock()
	defer cm.mtx.Unlock()
	cm.View = view
}

// stats 事件循环内部的运行计数，part*是10s窗口
type stats struct {
	fetched   uint64
	delivered uint64

	partFetched         uint64
	partDelivered       uint64
	partDecided         uint64
	partGened           uint64
	partParentSize      int
	partDeliveryTime    float64
	partDeliveryTimeMin float64
	partDeliveryTimeMax float64
}

func (s *stats) markDeliveryTime(sec float64) {
	s.partDeliveryTime += sec
	if s.partDeliveryTimeMin == 0 || sec < s.partDeliveryTimeMin {
		s.partDeliveryTimeMin = sec
	}
	if sec > s.partDeliveryTimeMax {
		s.partDeliveryTimeMax = sec
	}
}

func (s *stats) avgDeliveryTime() float64 {
	if s.partDelivered == 0 {
		return 0
	}
	return s.partDeliveryTime / float64(s.partDelivered)
}

func (s *stats) resetPartial() {
	s.partFetched = 0
	s.partDelivered = 0
	s.partDecided = 0
	s.partGened = 0
	s.partParentSize = 0
	s.partDeliveryTime = 0
	s.partDeliveryTimeMin = math.Inf(1)
	s.partDeliveryTimeMax = 0
}
