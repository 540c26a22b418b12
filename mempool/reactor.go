package mempool

import (
	"fmt"
	"math"
	"sync"
	"time"

	"hotstuff_demo/store"
	"hotstuff_demo/types"

	"github.com/tendermint/tendermint/libs/clist"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
)

const (
	CmdPoolChannel = byte(0x20)

	peerCatchupSleepIntervalMS = 100 // If peer is behind, sleep this amount

	// UnknownPeerID is the peer ID to use when running CheckCmd when there is
	// no peer (e.g. RPC)
	UnknownPeerID uint16 = 0

	maxActiveIDs = math.MaxUint16
)

// Reactor 在副本之间同步命令原始载荷
// 每个副本的cmd cache齐全后才能响应ReqBlock和回放已提交的命令
type Reactor struct {
	p2p.BaseReactor

	mtx sync.Mutex

	pool       *ListCmdPool
	blockStore *store.BlockStore
	ids        *poolIDs
}

type ReactorOption func(*Reactor)

type poolIDs struct {
	mtx       sync.RWMutex
	peerMap   map[p2p.ID]uint16
	nextID    uint16 // nextID指向最后一个可用ID+1的值，但该值不一定可用
	activeIDs map[uint16]struct{}
}

// ReserveForPeer 为peer节点附带一个唯一id
func (ids *poolIDs) ReserveForPeer(peer p2p.Peer) {
	ids.mtx.Lock()
	defer ids.mtx.Unlock()

	curID := ids.nextPeerID()
	ids.peerMap[peer.ID()] = curID
	ids.activeIDs[curID] = struct{}{}
}

// nextPeerID 返回下一个可用的id
// 由caller负责lock/unlock.
func (ids *poolIDs) nextPeerID() uint16 {
	if len(ids.activeIDs) == maxActiveIDs {
		panic(fmt.Sprintf("node has maximum %d active IDs and wanted to get one more", maxActiveIDs))
	}

	_, idExists := ids.activeIDs[ids.nextID]
	for idExists {
		ids.nextID++
		_, idExists = ids.activeIDs[ids.nextID]
	}
	curID := ids.nextID
	ids.nextID++
	return curID
}

// Reclaim 释放peer对应的id.
func (ids *poolIDs) Reclaim(peer p2p.Peer) {
	ids.mtx.Lock()
	defer ids.mtx.Unlock()

	removedID, ok := ids.peerMap[peer.ID()]
	if ok {
		delete(ids.activeIDs, removedID)
		delete(ids.peerMap, peer.ID())
	}
}

// GetForPeer 返回peer的id.
func (ids *poolIDs) GetForPeer(peer p2p.Peer) uint16 {
	ids.mtx.RLock()
	defer ids.mtx.RUnlock()

	return ids.peerMap[peer.ID()]
}

func newPoolIDs() *poolIDs {
	return &poolIDs{
		peerMap:   make(map[p2p.ID]uint16),
		activeIDs: map[uint16]struct{}{0: {}},
		nextID:    1, // 为unknownPeerID保留0，本地客户端提交使用unknownPeerID
	}
}

func NewReactor(pool *ListCmdPool, blockStore *store.BlockStore, options ...ReactorOption) *Reactor {
	reactor := &Reactor{
		pool:       pool,
		blockStore: blockStore,
		ids:        newPoolIDs(),
	}
	reactor.BaseReactor = *p2p.NewBaseReactor("CmdPool", reactor)
	return reactor
}

// InitPeer implements Reactor
// 为peer生成一个唯一的id
func (memR *Reactor) InitPeer(peer p2p.Peer) p2p.Peer {
	memR.ids.ReserveForPeer(peer)
	return peer
}

// SetLogger sets the Logger on the reactor and the underlying pool.
func (memR *Reactor) SetLogger(l log.Logger) {
	memR.Logger = l
	memR.pool.SetLogger(l)
}

// OnStart implements p2p.BaseReactor.
func (memR *Reactor) OnStart() error {
	memR.Logger.Info("CmdPool Reactor started.")
	return nil
}

// GetChannels implements Reactor by returning the list of channels for this
// reactor.
func (memR *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  CmdPoolChannel,
			Priority:            5,
			RecvMessageCapacity: 1024 * 1024,
		},
	}
}

// AddPeer implements Reactor.
// 启动broadcast routine在节点之间同步命令
func (memR *Reactor) AddPeer(peer p2p.Peer) {
	go memR.broadcastCmdRoutine(peer)
}

// RemovePeer implements Reactor.
func (memR *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {
	memR.ids.Reclaim(peer)
	// broadcast routine checks if peer is gone and returns
}

// Receive implements Reactor.
// 收到的命令进cmd cache和池子，远端命令不登记callback
func (memR *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	cmd := types.Cmd(msgBytes)
	memR.Logger.Debug("Receive cmd", "src", src, "chId", chID, "hash", cmd.Hash())

	info := CmdInfo{SenderID: memR.ids.GetForPeer(src)}
	if src != nil {
		info.SenderP2PID = src.ID()
	}
	memR.blockStore.AddCmd(cmd)
	if err := memR.pool.CheckCmd(cmd, nil, info); err != nil {
		memR.Logger.Debug("Could not add cmd", "hash", cmd.Hash(), "err", err)
	}
}

// --------------------------------

func (memR *Reactor) broadcastCmdRoutine(peer p2p.Peer) {
	peerID := memR.ids.GetForPeer(peer)
	var next *clist.CElement

	for {
		if !memR.IsRunning() || !peer.IsRunning() {
			return
		}

		if next == nil {
			select {
			case <-memR.pool.CmdsWaitChan():
				if next = memR.pool.CmdsFront(); next == nil {
					continue
				}
			case <-peer.Quit():
				return
			case <-memR.Quit():
				return
			}
		}

		poolCmd := next.Value.(*poolCmd)

		if !poolCmd.HasSender(peerID) {
			// 对方还没有这条命令，推给它
			if success := peer.Send(CmdPoolChannel, poolCmd.entry.Cmd); !success {
				time.Sleep(peerCatchupSleepIntervalMS * time.Millisecond)
				continue
			}
		}

		select {
		// 当next有下一个元素时，它的nextWaitch关闭，<-会读出来nil，流程继续
		// 如果没有下一个元素，则会在这里block
		case <-next.NextWaitChan():
			next = next.Next()
		case <-peer.Quit():
			return
		case <-memR.Quit():
			return
		}
	}
}
