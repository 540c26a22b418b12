package consensus

import (
	"sync"

	"hotstuff_demo/types"
)

// verifyPool 签名验证的worker池
// 验证本身在worker协程做，结果一律post回事件循环再触发后续动作，
// 共识状态永远不会被worker碰到
type verifyPool struct {
	jobs chan verifyJob
	quit chan struct{}
	post func(func())

	wg       sync.WaitGroup
	quitOnce sync.Once
}

type verifyJob struct {
	check func() bool
	done  func(bool)
}

func newVerifyPool(nworker int, post func(func())) *verifyPool {
	if nworker <= 0 {
		nworker = 1
	}
	vp := &verifyPool{
		jobs: make(chan verifyJob, nworker*4),
		quit: make(chan struct{}),
		post: post,
	}
	vp.wg.Add(nworker)
	for i := 0; i < nworker; i++ {
		go vp.worker()
	}
	return vp
}

func (vp *verifyPool) worker() {
	defer vp.wg.Done()
	for {
		select {
		case job := <-vp.jobs:
			ok := job.check()
			done := job.done
			vp.post(func() { done(ok) })
		case <-vp.quit:
			return
		}
	}
}

// Submit check在worker跑，done回到事件循环跑
func (vp *verifyPool) Submit(check func() bool, done func(bool)) {
	select {
	case vp.jobs <- verifyJob{check: check, done: done}:
	case <-vp.quit:
	}
}

func (vp *verifyPool) Stop() {
	vp.quitOnce.Do(func() { close(vp.quit) })
	vp.wg.Wait()
}

// VerifyBlockQC 验证区块携带的QC的门限签名；不带QC的区块直接通过（genesis QC由调用方跳过）
func (vp *verifyPool) VerifyBlockQC(rs *types.ReplicaSet, blk *types.Block, done func(bool)) {
	qc := blk.QC
	if qc == nil {
		vp.post(func() { done(true) })
		return
	}
	vp.Submit(func() bool {
		return qc.VerifySignature(rs) == nil
	}, done)
}

// VerifyVote 验证投票里的部分签名
func (vp *verifyPool) VerifyVote(rs *types.ReplicaSet, vote *types.Vote, done func(bool)) {
	vp.Submit(func() bool {
		return vote.Verify(rs) == nil
	}, done)
}

// VerifyStatus 验证Status/NewView的签名和里面的QC
func (vp *verifyPool) VerifyStatus(rs *types.ReplicaSet, status *types.Status, done func(bool)) {
	vp.Submit(func() bool {
		return status.Verify(rs) == nil
	}, done)
}

// VerifyBlame 验证blame签名
func (vp *verifyPool) VerifyBlame(rs *types.ReplicaSet, blame *types.Blame, done func(bool)) {
	vp.Submit(func() bool {
		return blame.Verify(rs) == nil
	}, done)
}

// VerifyBlameNotify 验证blame quorum
func (vp *verifyPool) VerifyBlameNotify(rs *types.ReplicaSet, bn *types.BlameNotify, done func(bool)) {
	vp.Submit(func() bool {
		return bn.Verify(rs) == nil
	}, done)
}

// VerifyNotify 验证notify携带的QC
func (vp *verifyPool) VerifyNotify(rs *types.ReplicaSet, n *types.Notify, done func(bool)) {
	vp.Submit(func() bool {
		return n.Verify(rs) == nil
	}, done)
}
