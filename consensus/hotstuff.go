package consensus

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"hotstuff_demo/mempool"
	"hotstuff_demo/state"
	"hotstuff_demo/store"
	"hotstuff_demo/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
)

// 临时配置区
const (
	defaultBlkSize       = 1
	defaultNWorker       = 4
	defaultDelta         = 500 * time.Millisecond // 同步网络的消息延迟上界
	defaultStatusTimeout = 10 * time.Second
	defaultBlameTimeout  = 30 * time.Second
	defaultViewTransWait = 10 * time.Second
)

// reactor监听的出站广播事件
const (
	EventBroadcastMsg = "BroadcastMsg"
	EventUnicastMsg   = "UnicastMsg"
	EventRespondMsg   = "RespondMsg"
)

// UnicastEnvelope 定向发给某个副本的消息
type UnicastEnvelope struct {
	Dest types.ReplicaID
	Msg  types.WireMsg
}

// RespondEnvelope 原路回给来源peer的消息
type RespondEnvelope struct {
	Peer p2p.ID
	Msg  types.WireMsg
}

var errVerifyFailed = errors.New("signature verification failed")

// msgInfo 与reactor之间通信的消息格式
type msgInfo struct {
	Msg    types.WireMsg
	PeerID p2p.ID
}

// HotStuffBase 把纯状态机HotStuffCore接到真实世界：
// 消息分发、fetch/deliver流水线、命令队列、定时器、验签worker池
//
// 所有共识状态只在receiveRoutine一个协程上变化；
// worker池和定时器的结果一律通过internalMsgQueue回到该协程
type HotStuffBase struct {
	service.BaseService
	*HotStuffCore

	blkSize   int
	delta     time.Duration
	storage   *store.BlockStore
	cmdPool   mempool.CmdPool
	executor  state.Executor
	pmaker    Pacemaker
	evsw      events.EventSwitch
	vpool     *verifyPool
	nworker   int

	peerMsgQueue     chan msgInfo
	internalMsgQueue chan func()

	// fetch/deliver等待表，每个hash至多一个条目
	blkFetchWaiting    map[string]*fetchContext
	blkDeliveryWaiting map[string]*deliveryContext

	// cmd hash -> 提交回调
	decisionWaiting  map[string]types.CommitCallback
	cmdPendingBuffer []tmbytes.HexBytes
	cmdWait          <-chan struct{}

	// 定时器（都只在事件循环上armed/cancelled）
	commitTimers   map[uint64]*loopTimer
	blameTimer     *loopTimer
	viewtransTimer *loopTimer
	statusTimer    *loopTimer

	// view -> voter -> blame
	blameVotes map[uint32]map[types.ReplicaID]*types.Blame

	metric *consensusMetric
	stats  stats
}

type fetchContext struct {
	hash      tmbytes.HexBytes
	callbacks []func(*types.Block)
	requested map[types.ReplicaID]struct{}
}

type deliveryContext struct {
	hash      tmbytes.HexBytes
	callbacks []func(*types.Block, error)
	started   time.Time
}

// String 消歧BaseService和HotStuffCore都实现的String()，满足service.Service接口
func (h *HotStuffBase) String() string {
	return h.BaseService.String()
}

type HotStuffOption func(*HotStuffBase)

func SetBlockSize(blkSize int) HotStuffOption {
	return func(h *HotStuffBase) { h.blkSize = blkSize }
}

func SetDelta(delta time.Duration) HotStuffOption {
	return func(h *HotStuffBase) { h.delta = delta }
}

func SetNWorker(nworker int) HotStuffOption {
	return func(h *HotStuffBase) { h.nworker = nworker }
}

func NewHotStuffBase(
	id types.ReplicaID,
	privVal types.PrivValidator,
	config *types.ReplicaSet,
	storage *store.BlockStore,
	cmdPool mempool.CmdPool,
	executor state.Executor,
	pmaker Pacemaker,
	options ...HotStuffOption,
) *HotStuffBase {
	h := &HotStuffBase{
		HotStuffCore:       NewHotStuffCore(id, privVal, config, storage),
		blkSize:            defaultBlkSize,
		delta:              defaultDelta,
		nworker:            defaultNWorker,
		storage:            storage,
		cmdPool:            cmdPool,
		executor:           executor,
		pmaker:             pmaker,
		evsw:               events.NewEventSwitch(),
		peerMsgQueue:       make(chan msgInfo, 64),
		internalMsgQueue:   make(chan func(), 64),
		blkFetchWaiting:    make(map[string]*fetchContext),
		blkDeliveryWaiting: make(map[string]*deliveryContext),
		decisionWaiting:    make(map[string]types.CommitCallback),
		commitTimers:       make(map[uint64]*loopTimer),
		blameVotes:         make(map[uint32]map[types.ReplicaID]*types.Blame),
		metric:             newConsensusMetric(),
	}
	h.BaseService = *service.NewBaseService(nil, "HOTSTUFF", h)

	for _, option := range options {
		option(h)
	}

	// core的出站动作接到base
	h.doBroadcastProposal = h.broadcastProposal
	h.doVote = h.sendVote
	h.doDecide = h.onDecide

	return h
}

// SetLogger 同时设置base和core的logger，消解两个嵌入体的歧义
func (h *HotStuffBase) SetLogger(l log.Logger) {
	h.BaseService.SetLogger(l)
	h.HotStuffCore.SetLogger(l)
}

func (h *HotStuffBase) EventSwitch() events.EventSwitch { return h.evsw }

func (h *HotStuffBase) Pacemaker() Pacemaker { return h.pmaker }

func (h *HotStuffBase) Storage() *store.BlockStore { return h.storage }

func (h *HotStuffBase) Metric() *consensusMetric { return h.metric }

func (h *HotStuffBase) OnStart() error {
	if err := h.evsw.Start(); err != nil {
		return err
	}
	h.vpool = newVerifyPool(h.nworker, h.post)
	h.OnInit()
	h.executor.MarkHQC(h.Genesis().Hash())
	h.pmaker.Init(h)
	h.cmdWait = h.cmdPool.CmdsWaitChan()

	go h.receiveRoutine()
	h.post(func() { h.setStatusTimer(defaultStatusTimeout) })
	h.Logger.Info("hotstuff base started", "id", h.ID(), "blk_size", h.blkSize)
	return nil
}

func (h *HotStuffBase) OnStop() {
	if h.vpool != nil {
		h.vpool.Stop()
	}
	if err := h.evsw.Stop(); err != nil {
		h.Logger.Error("failed trying to stop eventSwitch", "error", err)
	}
	h.Logger.Info("hotstuff base stopped.")
}

// ReceiveMessage reactor把解好帧的消息丢进事件循环
func (h *HotStuffBase) ReceiveMessage(msg types.WireMsg, peer p2p.ID) {
	select {
	case h.peerMsgQueue <- msgInfo{Msg: msg, PeerID: peer}:
	case <-h.Quit():
	}
}

// ExecCommand 客户端入口：命令载荷进cmd cache，hash和回调进池子
// 重复提交的命令静默合并（已知限制：decision_waiting按hash去重）
func (h *HotStuffBase) ExecCommand(cmd types.Cmd, cb types.CommitCallback) error {
	h.storage.AddCmd(cmd)
	err := h.cmdPool.CheckCmd(cmd, cb, mempool.CmdInfo{SenderID: mempool.UnknownPeerID})
	if err == mempool.ErrCmdInPool {
		return nil
	}
	return err
}

// post 把闭包送回事件循环执行
// 直接写可能会因为receiveRoutine blocked从而导致本协程block
func (h *HotStuffBase) post(fn func()) {
	select {
	case h.internalMsgQueue <- fn:
	default:
		// NOTE: using the go-routine means our continuations can
		// be processed out of order.
		go func() {
			select {
			case h.internalMsgQueue <- fn:
			case <-h.Quit():
			}
		}()
	}
}

// receiveRoutine 共识的单线程事件循环
// 所有状态转移都在这里发生，core不需要任何锁
func (h *HotStuffBase) receiveRoutine() {
	h.Logger.Debug("hotstuff receive routine starts.")
	for {
		select {
		case <-h.Quit():
			h.Logger.Info("receiveRoutine quit.")
			return

		case mi := <-h.peerMsgQueue:
			h.handleMsg(mi)

		case fn := <-h.internalMsgQueue:
			fn()

		case <-h.cmdWait:
			h.drainCommands()
		}
	}
}

// -------------------- 消息分发 --------------------

func (h *HotStuffBase) handleMsg(mi msgInfo) {
	if mi.PeerID == "" {
		// 没有来源的消息直接丢
		return
	}
	switch msg := mi.Msg.(type) {
	case *types.MsgPropose:
		h.proposeHandler(msg, mi.PeerID)
	case *types.MsgVote:
		h.voteHandler(msg)
	case *types.MsgReqBlock:
		h.reqBlockHandler(msg, mi.PeerID)
	case *types.MsgRespBlock:
		h.respBlockHandler(msg)
	case *types.MsgStatus:
		h.statusHandler(msg, false)
	case *types.MsgNewView:
		h.newViewHandler(msg)
	case *types.MsgBlame:
		h.blameHandler(msg)
	case *types.MsgBlameNotify:
		h.blameNotifyHandler(msg)
	case *types.MsgNotify:
		h.notifyHandler(msg)
	default:
		h.Logger.Error("unhandled wire msg", "opcode", mi.Msg.Opcode())
	}
}

// InternBlock 实现types.BlockInterner：
// wire上解出的区块进storage拿规范实例，顺手唤醒fetch等待者
func (h *HotStuffBase) InternBlock(blk *types.Block) *types.Block {
	canonical := h.storage.AddBlock(blk)
	h.onFetchBlock(canonical)
	return canonical
}

func (h *HotStuffBase) proposeHandler(msg *types.MsgPropose, peer p2p.ID) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed proposal", "peer", peer, "err", err)
		return
	}
	prop := msg.Proposal
	if prop.Block == nil {
		return
	}
	h.asyncDeliverBlock(prop.Block.Hash(), prop.Proposer, func(_ *types.Block, err error) {
		if err != nil {
			h.Logger.Info("dropping proposal, delivery failed", "proposal", prop, "err", err)
			return
		}
		if err := h.OnReceiveProposal(prop); err != nil {
			h.Logger.Info("proposal rejected", "proposal", prop, "err", err)
			return
		}
		h.cmdWait = h.cmdPool.CmdsWaitChan()
		h.metric.MarkReceiveProposal(true)
		h.metric.MarkVHeight(h.VHeight())
		hqcBlk, _ := h.HQC()
		h.metric.MarkHQCHeight(hqcBlk.Height)
	})
}

func (h *HotStuffBase) voteHandler(msg *types.MsgVote) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed vote", "err", err)
		return
	}
	vote := msg.Vote
	if err := vote.ValidateBasic(); err != nil {
		h.Logger.Info("invalid vote", "vote", vote, "err", err)
		return
	}

	pending := 2
	okAll := true
	step := func(ok bool) {
		if !ok {
			okAll = false
		}
		if pending--; pending > 0 {
			return
		}
		if !okAll {
			h.Logger.Info("invalid vote", "voter", vote.Voter)
			return
		}
		if err := h.OnReceiveVote(vote); err != nil {
			h.Logger.Info("vote rejected", "vote", vote, "err", err)
		}
	}
	h.asyncDeliverBlock(vote.BlockHash, vote.Voter, func(_ *types.Block, err error) { step(err == nil) })
	h.vpool.VerifyVote(h.Config(), vote, step)
}

// reqBlockHandler 对方要块：本地fetch到什么就回什么，
// 还没fetch到的hash会挂在fetch表里，到货后一并回复
func (h *HotStuffBase) reqBlockHandler(msg *types.MsgReqBlock, peer p2p.ID) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed req-block", "peer", peer, "err", err)
		return
	}
	total := len(msg.Hashes)
	if total == 0 {
		return
	}
	blocks := make([]*types.Block, total)
	pending := total
	for i, hash := range msg.Hashes {
		i := i
		h.asyncFetchBlock(hash, -1, false, func(blk *types.Block) {
			blocks[i] = blk
			if pending--; pending == 0 {
				h.evsw.FireEvent(EventRespondMsg, RespondEnvelope{
					Peer: peer,
					Msg:  types.NewMsgRespBlock(blocks),
				})
			}
		})
	}
}

func (h *HotStuffBase) respBlockHandler(msg *types.MsgRespBlock) {
	// ParseBody的intern已经把块交给storage并唤醒fetch等待者
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed resp-block", "err", err)
	}
}

func (h *HotStuffBase) statusHandler(msg *types.MsgStatus, fromSelf bool) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed status", "err", err)
		return
	}
	status := msg.Status
	if err := status.ValidateBasic(); err != nil {
		h.Logger.Info("invalid status", "status", status, "err", err)
		return
	}
	pending := 2
	okAll := true
	step := func(ok bool) {
		if !ok {
			okAll = false
		}
		if pending--; pending > 0 {
			return
		}
		if !okAll {
			h.Logger.Info("invalid status message", "from", status.Voter)
			return
		}
		if err := h.OnReceiveStatus(status); err != nil {
			h.Logger.Info("status rejected", "status", status, "err", err)
		}
	}
	h.asyncDeliverBlock(status.HQCBlockHash, status.Voter, func(_ *types.Block, err error) { step(err == nil) })
	if fromSelf {
		step(true)
	} else {
		h.vpool.VerifyStatus(h.Config(), status, step)
	}
}

func (h *HotStuffBase) newViewHandler(msg *types.MsgNewView) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed new-view", "err", err)
		return
	}
	status := msg.Status
	if err := status.ValidateBasic(); err != nil {
		h.Logger.Info("invalid new-view", "status", status, "err", err)
		return
	}
	pending := 2
	okAll := true
	step := func(ok bool) {
		if !ok {
			okAll = false
		}
		if pending--; pending > 0 {
			return
		}
		if !okAll {
			h.Logger.Info("invalid new-view message", "from", status.Voter)
			return
		}
		h.onReceiveNewView(status)
	}
	h.asyncDeliverBlock(status.HQCBlockHash, status.Voter, func(_ *types.Block, err error) { step(err == nil) })
	h.vpool.VerifyStatus(h.Config(), status, step)
}

func (h *HotStuffBase) blameHandler(msg *types.MsgBlame) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed blame", "err", err)
		return
	}
	blame := msg.Blame
	if err := blame.ValidateBasic(); err != nil {
		h.Logger.Info("invalid blame", "blame", blame, "err", err)
		return
	}
	h.vpool.VerifyBlame(h.Config(), blame, func(ok bool) {
		if !ok {
			h.Logger.Info("invalid blame message", "from", blame.Voter)
			return
		}
		h.onReceiveBlame(blame)
	})
}

func (h *HotStuffBase) blameNotifyHandler(msg *types.MsgBlameNotify) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed blame-notify", "err", err)
		return
	}
	bn := msg.BlameNotify
	if err := bn.ValidateBasic(); err != nil {
		h.Logger.Info("invalid blame-notify", "err", err)
		return
	}
	pending := 2
	okAll := true
	step := func(ok bool) {
		if !ok {
			okAll = false
		}
		if pending--; pending > 0 {
			return
		}
		if !okAll {
			h.Logger.Info("invalid blamenotify message", "view", bn.View)
			return
		}
		h.onReceiveBlameNotify(bn)
	}
	h.asyncDeliverBlock(bn.HQCHash, -1, func(_ *types.Block, err error) { step(err == nil) })
	h.vpool.VerifyBlameNotify(h.Config(), bn, step)
}

func (h *HotStuffBase) notifyHandler(msg *types.MsgNotify) {
	if err := msg.ParseBody(h); err != nil {
		h.Logger.Info("malformed notify", "err", err)
		return
	}
	notify := msg.Notify
	if err := notify.ValidateBasic(); err != nil {
		h.Logger.Info("invalid notify", "err", err)
		return
	}
	pending := 2
	okAll := true
	step := func(ok bool) {
		if !ok {
			okAll = false
		}
		if pending--; pending > 0 {
			return
		}
		if !okAll {
			h.Logger.Info("invalid notify message")
			return
		}
		if err := h.OnReceiveNotify(notify); err != nil {
			h.Logger.Info("notify rejected", "err", err)
		}
	}
	h.asyncDeliverBlock(notify.BlockHash, -1, func(_ *types.Block, err error) { step(err == nil) })

	// 指向已提交区块的notify不用再验签
	if blk := h.storage.FindBlock(notify.BlockHash); blk != nil && blk.Decision == types.DecisionCommitted {
		step(true)
	} else {
		h.vpool.VerifyNotify(h.Config(), notify, step)
	}
}

// -------------------- fetch / deliver 流水线 --------------------

// asyncFetchBlock 等区块字节到本地。已在本地立即回调；
// 否则挂进fetch表，每个hash只有一个条目，对同一来源的请求只发一次
func (h *HotStuffBase) asyncFetchBlock(hash tmbytes.HexBytes, from types.ReplicaID, fetchNow bool, cb func(*types.Block)) {
	if blk := h.storage.FindBlock(hash); blk != nil {
		cb(blk)
		return
	}
	key := string(hash)
	fctx, ok := h.blkFetchWaiting[key]
	if !ok {
		fctx = &fetchContext{hash: hash, requested: make(map[types.ReplicaID]struct{})}
		h.blkFetchWaiting[key] = fctx
	}
	if from >= 0 {
		if _, asked := fctx.requested[from]; !asked {
			fctx.requested[from] = struct{}{}
			h.evsw.FireEvent(EventUnicastMsg, UnicastEnvelope{
				Dest: from,
				Msg:  types.NewMsgReqBlock([]tmbytes.HexBytes{hash}),
			})
		}
	}
	fctx.callbacks = append(fctx.callbacks, cb)
}

// onFetchBlock 区块字节到货，唤醒fetch等待者
func (h *HotStuffBase) onFetchBlock(blk *types.Block) {
	key := string(blk.Hash())
	fctx, ok := h.blkFetchWaiting[key]
	if !ok {
		return
	}
	h.stats.fetched++
	h.stats.partFetched++
	h.Logger.Debug("fetched", "block", blk.Hash())
	delete(h.blkFetchWaiting, key)
	for _, cb := range fctx.callbacks {
		cb(blk)
	}
}

// asyncDeliverBlock 等区块deliver：字节到齐、祖先传递闭包deliver、验签通过
// 每个hash至多一个delivery条目，后来者挂在同一条目上
func (h *HotStuffBase) asyncDeliverBlock(hash tmbytes.HexBytes, from types.ReplicaID, cb func(*types.Block, error)) {
	if h.storage.IsBlockDelivered(hash) {
		cb(h.storage.FindBlock(hash), nil)
		return
	}
	key := string(hash)
	if dctx, ok := h.blkDeliveryWaiting[key]; ok {
		dctx.callbacks = append(dctx.callbacks, cb)
		return
	}
	dctx := &deliveryContext{hash: hash, started: time.Now()}
	dctx.callbacks = append(dctx.callbacks, cb)
	h.blkDeliveryWaiting[key] = dctx

	h.asyncFetchBlock(hash, from, true, func(blk *types.Block) {
		pending := 1 // sentinel，防止子任务同步完成时提前收尾
		failed := false
		step := func(ok bool) {
			if !ok {
				failed = true
			}
			if pending--; pending > 0 {
				return
			}
			if failed {
				h.rejectDelivery(blk)
			} else {
				h.completeDelivery(blk)
			}
		}

		// QC引用的区块只要求fetch到位
		if blk.QC != nil {
			pending++
			h.asyncFetchBlock(blk.QCRefHash(), from, true, func(*types.Block) { step(true) })
		}
		// 所有parent要求deliver
		for _, ph := range blk.ParentHashes {
			pending++
			h.asyncDeliverBlock(ph, from, func(_ *types.Block, err error) { step(err == nil) })
		}
		// genesis本身和genesis的合成QC不验签，其余都过验签池
		genesisHash := h.Genesis().Hash()
		if !bytes.Equal(blk.Hash(), genesisHash) &&
			blk.QC != nil && !bytes.Equal(blk.QC.BlockHash, genesisHash) {
			pending++
			h.vpool.VerifyBlockQC(h.Config(), blk, func(ok bool) {
				if !ok {
					h.Logger.Info("block qc verification failed", "block", blk)
				}
				step(ok)
			})
		}
		step(true)
	})
}

func (h *HotStuffBase) completeDelivery(blk *types.Block) {
	key := string(blk.Hash())
	dctx, ok := h.blkDeliveryWaiting[key]
	if !ok {
		return
	}
	delete(h.blkDeliveryWaiting, key)

	if err := h.OnDeliverBlock(blk); err != nil {
		h.Logger.Info("dropping invalid block", "block", blk, "err", err)
		for _, cb := range dctx.callbacks {
			cb(nil, err)
		}
		return
	}

	h.stats.delivered++
	h.stats.partDelivered++
	h.stats.partParentSize += len(blk.ParentHashes)
	h.stats.markDeliveryTime(time.Since(dctx.started).Seconds())

	for _, cb := range dctx.callbacks {
		cb(blk, nil)
	}
}

func (h *HotStuffBase) rejectDelivery(blk *types.Block) {
	key := string(blk.Hash())
	dctx, ok := h.blkDeliveryWaiting[key]
	if !ok {
		return
	}
	delete(h.blkDeliveryWaiting, key)
	for _, cb := range dctx.callbacks {
		cb(nil, errVerifyFailed)
	}
}

// -------------------- 命令队列与提案 --------------------

// drainCommands 只有自己是proposer时才消费命令池
// 攒够blkSize条就向pacemaker要一次beat
func (h *HotStuffBase) drainCommands() {
	if h.pmaker.GetProposer() != h.ID() {
		// 不是proposer，命令留在池子里等轮到自己
		h.cmdWait = nil
		return
	}

	want := h.blkSize - len(h.cmdPendingBuffer)
	if want > 0 {
		for _, entry := range h.cmdPool.Reap(want) {
			key := string(entry.Hash)
			if entry.Callback != nil {
				if _, ok := h.decisionWaiting[key]; !ok {
					h.decisionWaiting[key] = entry.Callback
				}
				// 重复命令的回调静默合并
			}
			h.cmdPendingBuffer = append(h.cmdPendingBuffer, entry.Hash)
		}
	}
	if len(h.cmdPendingBuffer) < h.blkSize {
		// 池子已经抽干，等下一批命令
		h.cmdWait = h.cmdPool.CmdsWaitChan()
		return
	}

	// 攒满一个块，提案落地前暂停消费
	h.cmdWait = nil

	cmds := make([]tmbytes.HexBytes, h.blkSize)
	copy(cmds, h.cmdPendingBuffer[:h.blkSize])
	h.cmdPendingBuffer = h.cmdPendingBuffer[h.blkSize:]

	beat := h.pmaker.Beat()
	go func() {
		proposer, ok := <-beat
		if !ok {
			return
		}
		h.post(func() {
			if proposer == h.ID() {
				h.stats.partGened++
				blk := h.OnPropose(cmds, h.pmaker.GetParents(), nil).Block
				h.setCommitTimer(blk, 2*h.delta)
			} else {
				// beat期间轮换走了，命令退回buffer头部
				h.cmdPendingBuffer = append(cmds, h.cmdPendingBuffer...)
			}
			h.drainCommands()
		})
	}()
}

// -------------------- core出站动作 --------------------

func (h *HotStuffBase) broadcastProposal(prop *types.Proposal) {
	h.evsw.FireEvent(EventBroadcastMsg, types.NewMsgPropose(prop))
}

func (h *HotStuffBase) sendVote(dest types.ReplicaID, vote *types.Vote) {
	if dest == h.ID() {
		if err := h.OnReceiveVote(vote); err != nil {
			h.Logger.Info("self vote rejected", "err", err)
		}
		return
	}
	h.evsw.FireEvent(EventUnicastMsg, UnicastEnvelope{Dest: dest, Msg: types.NewMsgVote(vote)})
}

func (h *HotStuffBase) onDecide(fin types.Finality) {
	h.stats.partDecided++
	hqcBlk, _ := h.HQC()
	h.executor.MarkHQC(hqcBlk.Hash())
	h.executor.StateMachineExecute(fin)
	h.stopCommitTimer(fin.BlockHeight)

	key := string(fin.CmdHash)
	if cb, ok := h.decisionWaiting[key]; ok {
		if cb != nil {
			cb(fin)
		}
		delete(h.decisionWaiting, key)
	}
	h.metric.MarkCommitted(fin.BlockHeight)
}

// doStatus 把status送给下一个proposer；轮到自己就直接消化
func (h *HotStuffBase) doStatus(status *types.Status) {
	next := h.pmaker.GetProposer()
	if next != h.ID() {
		h.evsw.FireEvent(EventUnicastMsg, UnicastEnvelope{Dest: next, Msg: types.NewMsgStatus(status)})
	} else {
		h.statusHandler(types.NewMsgStatus(status), true)
	}
}

// -------------------- 视图切换钩子 --------------------

func (h *HotStuffBase) onReceiveBlame(blame *types.Blame) {
	votes, ok := h.blameVotes[blame.View]
	if !ok {
		votes = make(map[types.ReplicaID]*types.Blame)
		h.blameVotes[blame.View] = votes
	}
	if _, dup := votes[blame.Voter]; dup {
		h.Logger.Info("duplicate blame", "from", blame.Voter, "view", blame.View)
		return
	}
	votes[blame.Voter] = blame
	h.Logger.Info("blame", "view", blame.View, "count", len(votes), "need", h.Config().NMajority())

	if len(votes) == h.Config().NMajority() {
		blames := make([]*types.Blame, 0, len(votes))
		for _, b := range votes {
			blames = append(blames, b)
		}
		hqcBlk, hqc := h.HQC()
		h.evsw.FireEvent(EventBroadcastMsg, types.NewMsgBlameNotify(&types.BlameNotify{
			View:    blame.View,
			HQCHash: hqcBlk.Hash(),
			HQC:     hqc,
			Blames:  blames,
		}))
		h.enterViewTransition(blame.View)
	}
}

func (h *HotStuffBase) onReceiveBlameNotify(bn *types.BlameNotify) {
	h.enterViewTransition(bn.View)
}

// enterViewTransition blame quorum成立，等新视图的status quorum
func (h *HotStuffBase) enterViewTransition(view uint32) {
	vc, ok := h.pmaker.(viewChanger)
	if !ok || vc.View() != view {
		return
	}
	h.stopBlameTimer()
	h.StopCommitTimerAll()
	vc.OnViewChange()
	h.cmdWait = h.cmdPool.CmdsWaitChan()
	h.setViewtransTimer(defaultViewTransWait)

	// 向新leader宣告自己的hqc
	hqcBlk, hqc := h.HQC()
	status := &types.Status{
		HQCBlockHash: hqcBlk.Hash(),
		HQC:          hqc,
		View:         vc.View(),
	}
	if err := h.privVal.SignStatus(status); err != nil {
		h.Logger.Error("sign status failed", "err", err)
		return
	}
	next := h.pmaker.GetProposer()
	if next != h.ID() {
		h.evsw.FireEvent(EventUnicastMsg, UnicastEnvelope{Dest: next, Msg: types.NewMsgNewView(status)})
	} else {
		h.onReceiveNewView(status)
	}
}

func (h *HotStuffBase) onReceiveNewView(status *types.Status) {
	if err := h.OnReceiveStatus(status); err != nil {
		h.Logger.Info("new-view status rejected", "err", err)
		return
	}
	h.stopViewtransTimer()
	h.resetBlameTimer(defaultBlameTimeout)
}

// viewChanger pacemaker可选的视图推进能力
type viewChanger interface {
	View() uint32
	OnViewChange()
}

// -------------------- 快照 --------------------

// BlockInfo DAG里一个区块的只读视图
type BlockInfo struct {
	Hash         tmbytes.HexBytes   `json:"hash"`
	Height       uint64             `json:"height"`
	NumCmds      int                `json:"num_cmds"`
	Delivered    bool               `json:"delivered"`
	Decision     string             `json:"decision"`
	ParentHashes []tmbytes.HexBytes `json:"parent_hashes"`
	QCRefHash    tmbytes.HexBytes   `json:"qc_ref_hash"`
}

// CoreSnapshot 共识核心的只读快照
type CoreSnapshot struct {
	ID          types.ReplicaID  `json:"id"`
	BExecHash   tmbytes.HexBytes `json:"bexec_hash"`
	BExecHeight uint64           `json:"bexec_height"`
	HQCHash     tmbytes.HexBytes `json:"hqc_hash"`
	HQCHeight   uint64           `json:"hqc_height"`
	VHeight     uint64           `json:"vheight"`
	Tails       []BlockInfo      `json:"tails"`
	Committed   []BlockInfo      `json:"committed"`
}

// Snapshot 在事件循环上拍快照，调用方阻塞等结果
func (h *HotStuffBase) Snapshot() CoreSnapshot {
	ch := make(chan CoreSnapshot, 1)
	h.post(func() {
		hqcBlk, _ := h.HQC()
		snap := CoreSnapshot{
			ID:          h.ID(),
			BExecHash:   h.BExec().Hash(),
			BExecHeight: h.BExec().Height,
			HQCHash:     hqcBlk.Hash(),
			HQCHeight:   hqcBlk.Height,
			VHeight:     h.VHeight(),
		}
		for _, blk := range h.Tails() {
			snap.Tails = append(snap.Tails, blockInfo(blk))
		}
		for blk := h.BExec(); ; blk = blk.Parents[0] {
			snap.Committed = append(snap.Committed, blockInfo(blk))
			if len(blk.Parents) == 0 {
				break
			}
		}
		ch <- snap
	})
	select {
	case snap := <-ch:
		return snap
	case <-h.Quit():
		return CoreSnapshot{}
	}
}

func blockInfo(blk *types.Block) BlockInfo {
	return BlockInfo{
		Hash:         blk.Hash(),
		Height:       blk.Height,
		NumCmds:      len(blk.Cmds),
		Delivered:    blk.Delivered,
		Decision:     blk.Decision.String(),
		ParentHashes: blk.ParentHashes,
		QCRefHash:    blk.QCRefHash(),
	}
}

// -------------------- stats --------------------

// PrintStat 周期性输出运行统计，10s窗口的部分计数打完清零
func (h *HotStuffBase) PrintStat() {
	l := h.Logger
	l.Info("===== begin stats =====")
	l.Info("-------- queues -------")
	l.Info("blk_fetch_waiting", "size", len(h.blkFetchWaiting))
	l.Info("blk_delivery_waiting", "size", len(h.blkDeliveryWaiting))
	l.Info("decision_waiting", "size", len(h.decisionWaiting))
	l.Info("commit_timers", "size", len(h.commitTimers))
	l.Info("-------- misc ---------")
	l.Info("fetched", "n", h.stats.fetched)
	l.Info("delivered", "n", h.stats.delivered)
	l.Info("cmd_cache", "size", h.storage.CmdCacheSize())
	l.Info("blk_cache", "size", h.storage.BlkCacheSize())
	l.Info("------ misc (10s) -----")
	l.Info("fetched", "n", h.stats.partFetched)
	l.Info("delivered", "n", h.stats.partDelivered)
	l.Info("decided", "n", h.stats.partDecided)
	l.Info("gened", "n", h.stats.partGened)
	avgParent := 0.0
	if h.stats.partDelivered > 0 {
		avgParent = float64(h.stats.partParentSize) / float64(h.stats.partDelivered)
	}
	l.Info("avg parent_size", "n", fmt.Sprintf("%.3f", avgParent))
	l.Info("delivery time", "avg", h.stats.avgDeliveryTime(),
		"min", h.stats.partDeliveryTimeMin, "max", h.stats.partDeliveryTimeMax)
	l.Info("====== end stats ======")
	h.stats.resetPartial()
}
