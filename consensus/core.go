package consensus

import (
	"errors"
	"fmt"

	"hotstuff_demo/store"
	"hotstuff_demo/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"
)

var (
	ErrNotDelivered = errors.New("block not delivered")
	ErrDupDeliver   = errors.New("attempt to deliver a block twice")
)

// HotStuffCore 链式三段提交协议的纯状态机
// 所有方法都只能在HotStuffBase的事件循环协程里调用，不加锁
//
// 三个单调量构成安全性的全部依据：
//   vheight     最近一次投票的高度
//   hqc         已观察到的最高QC
//   bexec       最高的已提交区块
type HotStuffCore struct {
	logger log.Logger

	id      types.ReplicaID
	privVal types.PrivValidator
	config  *types.ReplicaSet
	storage *store.BlockStore

	b0      *types.Block
	bexec   *types.Block
	vheight uint64
	hqc     hqcPair
	tails   map[string]*types.Block

	negVote bool // 测试/故障注入用：抑制投票

	// oneshot观察者：每类至多一个挂起等待，唤醒时原子替换
	qcWaiting              map[string]chan struct{}
	proposeWaiting         chan *types.Proposal
	receiveProposalWaiting chan *types.Proposal
	hqcUpdateWaiting       chan *types.Block

	// 出站动作，由HotStuffBase接线
	doBroadcastProposal func(*types.Proposal)
	doVote              func(types.ReplicaID, *types.Vote)
	doDecide            func(types.Finality)
}

type hqcPair struct {
	blk *types.Block
	qc  *types.QuorumCert
}

func NewHotStuffCore(
	id types.ReplicaID,
	privVal types.PrivValidator,
	config *types.ReplicaSet,
	storage *store.BlockStore,
) *HotStuffCore {
	b0 := types.MakeGenesisBlock()
	core := &HotStuffCore{
		logger:                 log.NewNopLogger(),
		id:                     id,
		privVal:                privVal,
		config:                 config,
		storage:                storage,
		b0:                     b0,
		bexec:                  b0,
		vheight:                0,
		tails:                  make(map[string]*types.Block),
		qcWaiting:              make(map[string]chan struct{}),
		proposeWaiting:         make(chan *types.Proposal, 1),
		receiveProposalWaiting: make(chan *types.Proposal, 1),
		hqcUpdateWaiting:       make(chan *types.Block, 1),
		doBroadcastProposal:    func(*types.Proposal) {},
		doVote:                 func(types.ReplicaID, *types.Vote) {},
		doDecide:               func(types.Finality) {},
	}
	core.storage.AddBlock(b0)
	core.tails[string(b0.Hash())] = b0
	return core
}

func (core *HotStuffCore) SetLogger(logger log.Logger) {
	core.logger = logger
}

func (core *HotStuffCore) ID() types.ReplicaID { return core.id }

func (core *HotStuffCore) Config() *types.ReplicaSet { return core.config }

func (core *HotStuffCore) Genesis() *types.Block { return core.b0 }

func (core *HotStuffCore) BExec() *types.Block { return core.bexec }

func (core *HotStuffCore) VHeight() uint64 { return core.vheight }

func (core *HotStuffCore) HQC() (*types.Block, *types.QuorumCert) { return core.hqc.blk, core.hqc.qc }

// SetNegVote 抑制后续所有投票
func (core *HotStuffCore) SetNegVote(v bool) { core.negVote = v }

// OnInit genesis自带一张完整的QC，hqc从genesis起步
// nmajority由config显式给出，不从节点数推导
func (core *HotStuffCore) OnInit() {
	for _, r := range core.config.Replicas {
		core.b0.Voted[r.ID] = struct{}{}
	}
	core.hqc = hqcPair{blk: core.b0, qc: core.b0.QC.Clone()}
	core.logger.Info("core initialized",
		"id", core.id, "nmajority", core.config.NMajority(), "genesis", core.b0.Hash())
}

// AddReplica 注册副本并把它计入genesis的投票者，genesis视作被全体认可
func (core *HotStuffCore) AddReplica(r *types.Replica) error {
	if err := core.config.AddReplica(r); err != nil {
		return err
	}
	core.b0.Voted[r.ID] = struct{}{}
	return nil
}

// Tails 当前没有后继的区块，pacemaker从这里挑提案的parent
func (core *HotStuffCore) Tails() []*types.Block {
	out := make([]*types.Block, 0, len(core.tails))
	for _, blk := range core.tails {
		out = append(out, blk)
	}
	return out
}

func (core *HotStuffCore) sanityCheckDelivered(blk *types.Block) error {
	if !blk.Delivered {
		return ErrNotDelivered
	}
	return nil
}

func (core *HotStuffCore) getDeliveredBlock(hash tmbytes.HexBytes) (*types.Block, error) {
	blk := core.storage.FindBlock(hash)
	if blk == nil || !blk.Delivered {
		return nil, ErrNotDelivered
	}
	return blk, nil
}

// OnDeliverBlock 把一个字节齐全、祖先齐全、验签通过的区块接入DAG：
// 解析parent指针、补高度、解析QC引用、更新tails
func (core *HotStuffCore) OnDeliverBlock(blk *types.Block) error {
	if blk.Delivered {
		core.logger.Info("attempt to deliver a block twice", "block", blk)
		return ErrDupDeliver
	}
	blk.Parents = blk.Parents[:0]
	for _, hash := range blk.ParentHashes {
		parent, err := core.getDeliveredBlock(hash)
		if err != nil {
			return fmt.Errorf("parent %X: %w", tmbytes.Fingerprint(hash), err)
		}
		blk.Parents = append(blk.Parents, parent)
	}
	blk.Height = blk.Parents[0].Height + 1

	if blk.QC != nil {
		ref := core.storage.FindBlock(blk.QCRefHash())
		if ref == nil {
			// deliver流程保证QC引用的区块先fetch到位，走到这里只能是bug
			panic(fmt.Sprintf("block referred by qc not fetched: %v", blk))
		}
		blk.QCRef = ref
	}

	for _, parent := range blk.Parents {
		delete(core.tails, string(parent.Hash()))
	}
	core.tails[string(blk.Hash())] = blk

	blk.Delivered = true
	core.logger.Debug("deliver", "block", blk)
	return nil
}

// updateHQC 只接受更高的QC，单调不回退
func (core *HotStuffCore) updateHQC(blk *types.Block, qc *types.QuorumCert) {
	if blk.Height > core.hqc.blk.Height {
		core.hqc = hqcPair{blk: blk, qc: qc.Clone()}
		core.onHQCUpdate(blk)
	}
}

// update 提交内核，每个deliver过的出入区块都要过一遍
// 三段规则：blk1 <- qc - blk2 <- qc - blk3，且qc都指向直接parent，
// 第三段出现时blk1及其未提交祖先按从老到新提交
func (core *HotStuffCore) update(nblk *types.Block) {
	blk := nblk.QCRef
	if blk == nil {
		return
	}
	core.updateHQC(blk, nblk.QC)

	if blk.QCRef == nil {
		return
	}
	// 被prune截断的老区块可能已经不完整
	if blk.Decision != types.DecisionNone {
		return
	}
	p := blk.Parents[0]
	if p.Decision != types.DecisionNone {
		return
	}
	// 提交要求QC指向直接parent
	if p != blk.QCRef {
		return
	}

	commitQueue := []*types.Block{}
	b := p
	for ; b.Height > core.bexec.Height; b = b.Parents[0] {
		commitQueue = append(commitQueue, b)
	}
	if b != core.bexec {
		panic(fmt.Sprintf("safety breached: %v does not extend %v", p, core.bexec))
	}
	for i := len(commitQueue) - 1; i >= 0; i-- {
		core.commitBlock(commitQueue[i])
	}
	core.bexec = p
}

func (core *HotStuffCore) commitBlock(blk *types.Block) {
	blk.Decision = types.DecisionCommitted
	core.logger.Info("commit", "block", blk)
	for idx, cmd := range blk.Cmds {
		core.doDecide(types.Finality{
			ReplicaID:   core.id,
			Decision:    types.DecisionCommitted,
			CmdIdx:      idx,
			BlockHeight: blk.Height,
			CmdHash:     cmd,
			BlockHash:   blk.Hash(),
		})
	}
}

// OnCommitTimeout 乐观提交：commit timer到期后直接提交该区块及其未提交祖先
func (core *HotStuffCore) OnCommitTimeout(blk *types.Block) {
	if blk.Decision != types.DecisionNone {
		return
	}
	commitQueue := []*types.Block{}
	b := blk
	for ; b.Height > core.bexec.Height; b = b.Parents[0] {
		commitQueue = append(commitQueue, b)
	}
	if b != core.bexec {
		panic(fmt.Sprintf("safety breached: %v does not extend %v", blk, core.bexec))
	}
	for i := len(commitQueue) - 1; i >= 0; i-- {
		core.commitBlock(commitQueue[i])
	}
	core.bexec = blk
}

// OnPropose 打一个新区块：parent有quorum就带上它的QC，
// deliver到本地DAG，自投一票，然后全网广播
func (core *HotStuffCore) OnPropose(cmds []tmbytes.HexBytes, parents []*types.Block, extra []byte) *types.Proposal {
	if len(parents) == 0 {
		panic("empty parents")
	}
	for _, parent := range parents {
		delete(core.tails, string(parent.Hash()))
	}
	p := parents[0]

	// 区块可以不带QC
	var qc *types.QuorumCert
	if len(p.Voted) >= core.config.NMajority() {
		qc = p.SelfQC.Clone()
	}

	bnew := core.storage.AddBlock(types.NewBlock(parents, cmds, qc, extra))
	bnew.SelfQC = types.NewQuorumCert(bnew.Hash())

	if err := core.OnDeliverBlock(bnew); err != nil {
		panic(fmt.Sprintf("self-proposed block failed to deliver: %v", err))
	}
	core.update(bnew)

	prop := types.NewProposal(core.id, bnew)
	core.logger.Info("propose", "block", bnew)

	if bnew.Height <= core.vheight {
		panic(fmt.Sprintf("new block height %d <= vheight %d", bnew.Height, core.vheight))
	}
	core.vheight = bnew.Height

	// 自投
	cert, err := core.privVal.SignPartialCert(bnew.Hash())
	if err != nil {
		panic(fmt.Sprintf("sign partial cert: %v", err))
	}
	if err := core.OnReceiveVote(types.NewVote(core.id, bnew.Hash(), cert)); err != nil {
		core.logger.Error("self vote rejected", "err", err)
	}

	core.onProposeEvent(prop)
	core.doBroadcastProposal(prop)
	return prop
}

// OnReceiveProposal 安全规则：区块高于vheight且延伸hqc所在分支才投票
// 不投票也照样update，QC信息不浪费
func (core *HotStuffCore) OnReceiveProposal(prop *types.Proposal) error {
	bnew := prop.Block
	if err := core.sanityCheckDelivered(bnew); err != nil {
		return err
	}
	core.logger.Debug("got proposal", "proposal", prop)
	core.update(bnew)

	opinion := false
	if bnew.Height > core.vheight {
		pref := core.hqc.blk
		b := bnew
		for b.Height > pref.Height {
			b = b.Parents[0]
		}
		if b == pref { // 同一条分支
			opinion = true
			core.vheight = bnew.Height
		}
	}
	core.logger.Debug("now state", "core", core.String())

	if bnew.QCRef != nil {
		core.onQCFinish(bnew.QCRef)
	}
	core.onReceiveProposalEvent(prop)

	if opinion && !core.negVote {
		cert, err := core.privVal.SignPartialCert(bnew.Hash())
		if err != nil {
			return err
		}
		core.doVote(prop.Proposer, types.NewVote(core.id, bnew.Hash(), cert))
	}
	return nil
}

// OnReceiveVote 计票。凑齐nmajority时合成门限签名并更新hqc
// 部分签名的验证在进入这里之前已经完成
func (core *HotStuffCore) OnReceiveVote(vote *types.Vote) error {
	blk, err := core.getDeliveredBlock(vote.BlockHash)
	if err != nil {
		return err
	}
	core.logger.Debug("got vote", "vote", vote)

	qsize := len(blk.Voted)
	if qsize >= core.config.NMajority() {
		// QC已经形成，多余的票静默丢弃
		return nil
	}
	if _, ok := blk.Voted[vote.Voter]; ok {
		core.logger.Info("duplicate vote", "voter", vote.Voter, "block", blk)
		return nil
	}
	blk.Voted[vote.Voter] = struct{}{}

	if blk.SelfQC == nil {
		// 不是自己提的区块还收到投票，容忍但记下来
		core.logger.Info("vote for block not proposed by itself", "block", blk)
		blk.SelfQC = types.NewQuorumCert(blk.Hash())
	}
	if err := blk.SelfQC.AddPart(vote.Voter, vote.Cert.Sig); err != nil {
		return err
	}

	if qsize+1 == core.config.NMajority() {
		if err := blk.SelfQC.Compute(core.config); err != nil {
			return fmt.Errorf("compute qc: %w", err)
		}
		core.onQCFinish(blk)
		core.updateHQC(blk, blk.SelfQC)
	}
	return nil
}

// OnReceiveStatus 吸收对方宣告的hqc，要求引用的区块已deliver
func (core *HotStuffCore) OnReceiveStatus(status *types.Status) error {
	blk, err := core.getDeliveredBlock(status.HQCBlockHash)
	if err != nil {
		return err
	}
	core.updateHQC(blk, status.HQC)
	return nil
}

// OnReceiveNotify 同Status，来源是主动推送
func (core *HotStuffCore) OnReceiveNotify(notify *types.Notify) error {
	blk, err := core.getDeliveredBlock(notify.BlockHash)
	if err != nil {
		return err
	}
	core.updateHQC(blk, notify.QC)
	return nil
}

// Prune 保留bexec以下staleness个区块，更老的从存储剔除
// 边界以下的parent/qc_ref指针被显式切断，防止老分支挂住存储
func (core *HotStuffCore) Prune(staleness uint64) {
	start := core.bexec
	for i := uint64(0); i < staleness; i++ {
		if len(start.Parents) == 0 {
			return
		}
		start = start.Parents[0]
	}

	stack := []*types.Block{start}
	start.QCRef = nil
	for len(stack) > 0 {
		blk := stack[len(stack)-1]
		if len(blk.Parents) == 0 {
			core.storage.TryReleaseBlock(blk)
			stack = stack[:len(stack)-1]
			continue
		}
		blk.QCRef = nil
		last := blk.Parents[len(blk.Parents)-1]
		blk.Parents = blk.Parents[:len(blk.Parents)-1]
		stack = append(stack, last)
	}
}

// -------------------- oneshot观察者 --------------------

var closedCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// AsyncQCFinish 等待某个区块凑齐QC；已经凑齐则立即返回已关闭的channel
func (core *HotStuffCore) AsyncQCFinish(blk *types.Block) <-chan struct{} {
	if len(blk.Voted) >= core.config.NMajority() {
		return closedCh
	}
	key := string(blk.Hash())
	ch, ok := core.qcWaiting[key]
	if !ok {
		ch = make(chan struct{})
		core.qcWaiting[key] = ch
	}
	return ch
}

func (core *HotStuffCore) onQCFinish(blk *types.Block) {
	key := string(blk.Hash())
	if ch, ok := core.qcWaiting[key]; ok {
		close(ch)
		delete(core.qcWaiting, key)
	}
}

// AsyncWaitProposal 等待本地下一次提案
func (core *HotStuffCore) AsyncWaitProposal() <-chan *types.Proposal {
	return core.proposeWaiting
}

func (core *HotStuffCore) onProposeEvent(prop *types.Proposal) {
	taken := core.proposeWaiting
	core.proposeWaiting = make(chan *types.Proposal, 1)
	taken <- prop
	close(taken)
}

// AsyncWaitReceiveProposal 等待下一个外来提案
func (core *HotStuffCore) AsyncWaitReceiveProposal() <-chan *types.Proposal {
	return core.receiveProposalWaiting
}

func (core *HotStuffCore) onReceiveProposalEvent(prop *types.Proposal) {
	taken := core.receiveProposalWaiting
	core.receiveProposalWaiting = make(chan *types.Proposal, 1)
	taken <- prop
	close(taken)
}

// AsyncHQCUpdate 等待hqc下一次抬升
func (core *HotStuffCore) AsyncHQCUpdate() <-chan *types.Block {
	return core.hqcUpdateWaiting
}

func (core *HotStuffCore) onHQCUpdate(blk *types.Block) {
	taken := core.hqcUpdateWaiting
	core.hqcUpdateWaiting = make(chan *types.Block, 1)
	taken <- blk
	close(taken)
}

func (core *HotStuffCore) String() string {
	return fmt.Sprintf("<hotstuff hqc=%X hqc.height=%d bexec=%X vheight=%d tails=%d>",
		tmbytes.Fingerprint(core.hqc.blk.Hash()), core.hqc.blk.Height,
		tmbytes.Fingerprint(core.bexec.Hash()), core.vheight, len(core.tails))
}
