package consensus

import (
	"time"

	"hotstuff_demo/types"
)

// loopTimer 一次性定时器
// arm在事件循环上做，到期回调也回到事件循环跑；
// cancelled标志保证Stop之后已经在途的到期回调变成空操作，取消是同步的
type loopTimer struct {
	timer     *time.Timer
	cancelled bool
}

func (h *HotStuffBase) newLoopTimer(d time.Duration, fn func()) *loopTimer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		h.post(func() {
			if t.cancelled {
				return
			}
			fn()
		})
	})
	return t
}

func (t *loopTimer) stop() {
	if t == nil {
		return
	}
	t.cancelled = true
	t.timer.Stop()
}

// -------------------- commit timers --------------------

// setCommitTimer 同步提交路径：2Δ内没人blame就乐观提交
// 正常三链提交先到的话timer会被stopCommitTimer清掉
func (h *HotStuffBase) setCommitTimer(blk *types.Block, d time.Duration) {
	height := blk.Height
	h.stopCommitTimer(height)
	h.commitTimers[height] = h.newLoopTimer(d, func() {
		delete(h.commitTimers, height)
		h.OnCommitTimeout(blk)
	})
}

func (h *HotStuffBase) stopCommitTimer(height uint64) {
	if t, ok := h.commitTimers[height]; ok {
		t.stop()
		delete(h.commitTimers, height)
	}
}

func (h *HotStuffBase) StopCommitTimerAll() {
	for height, t := range h.commitTimers {
		t.stop()
		delete(h.commitTimers, height)
	}
}

// -------------------- blame timer --------------------

func (h *HotStuffBase) setBlameTimer(d time.Duration) {
	h.stopBlameTimer()
	h.blameTimer = h.newLoopTimer(d, func() {
		h.blameTimer = nil
		h.onBlameTimeout()
	})
}

func (h *HotStuffBase) stopBlameTimer() {
	h.blameTimer.stop()
	h.blameTimer = nil
}

func (h *HotStuffBase) resetBlameTimer(d time.Duration) {
	h.stopBlameTimer()
	h.setBlameTimer(d)
}

// onBlameTimeout leader迟迟不推进，签一张blame广播出去
func (h *HotStuffBase) onBlameTimeout() {
	vc, ok := h.pmaker.(viewChanger)
	if !ok {
		return
	}
	blame := &types.Blame{View: vc.View()}
	if err := h.privVal.SignBlame(blame); err != nil {
		h.Logger.Error("sign blame failed", "err", err)
		return
	}
	h.Logger.Info("blame timeout", "view", blame.View)
	h.evsw.FireEvent(EventBroadcastMsg, types.NewMsgBlame(blame))
	h.onReceiveBlame(blame)
}

// -------------------- view transition timer --------------------

func (h *HotStuffBase) setViewtransTimer(d time.Duration) {
	h.stopViewtransTimer()
	h.viewtransTimer = h.newLoopTimer(d, func() {
		h.viewtransTimer = nil
		h.onViewtransTimeout()
	})
}

func (h *HotStuffBase) stopViewtransTimer() {
	h.viewtransTimer.stop()
	h.viewtransTimer = nil
}

// onViewtransTimeout 新视图迟迟没有动静，继续blame下一任leader
func (h *HotStuffBase) onViewtransTimeout() {
	h.Logger.Info("view transition timeout")
	h.onBlameTimeout()
}

// -------------------- status timer --------------------

func (h *HotStuffBase) setStatusTimer(d time.Duration) {
	h.stopStatusTimer()
	h.statusTimer = h.newLoopTimer(d, func() {
		h.statusTimer = nil
		h.onStatusTimeout()
	})
}

func (h *HotStuffBase) stopStatusTimer() {
	h.statusTimer.stop()
	h.statusTimer = nil
}

// onStatusTimeout 周期性向下一个proposer宣告hqc，顺带打印统计
func (h *HotStuffBase) onStatusTimeout() {
	hqcBlk, hqc := h.HQC()
	status := &types.Status{
		HQCBlockHash: hqcBlk.Hash(),
		HQC:          hqc,
	}
	if vc, ok := h.pmaker.(viewChanger); ok {
		status.View = vc.View()
	}
	if err := h.privVal.SignStatus(status); err != nil {
		h.Logger.Error("sign status failed", "err", err)
	} else {
		h.doStatus(status)
	}

	h.PrintStat()
	if h.cmdWait == nil && h.pmaker.GetProposer() == h.ID() {
		h.cmdWait = h.cmdPool.CmdsWaitChan()
	}
	h.setStatusTimer(defaultStatusTimeout)
}
