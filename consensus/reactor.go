package consensus

import (
	"fmt"

	"hotstuff_demo/types"

	"github.com/tendermint/tendermint/libs/cmap"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/p2p"
)

const (
	ConsensusChannel = byte(0x40)

	maxMsgSize = 1048576 // 1MB
)

// Reactor 共识消息的p2p进出口
// 入站：解帧后丢进HotStuffBase的事件循环
// 出站：监听base的广播/单播/应答事件，转成p2p发送
type Reactor struct {
	p2p.BaseReactor

	conS *HotStuffBase

	// replica id -> p2p node id，从genesis里的NetAddr解出来
	peerIDs *cmap.CMap
}

type ReactorOption func(*Reactor)

func NewReactor(conS *HotStuffBase, options ...ReactorOption) *Reactor {
	conR := &Reactor{
		conS:    conS,
		peerIDs: cmap.NewCMap(),
	}
	conR.BaseReactor = *p2p.NewBaseReactor("Consensus", conR)

	for _, r := range conS.Config().Replicas {
		if netAddr, err := p2p.NewNetAddressString(r.NetAddr); err == nil {
			conR.peerIDs.Set(replicaKey(r.ID), netAddr.ID)
		}
	}

	for _, option := range options {
		option(conR)
	}
	return conR
}

func replicaKey(id types.ReplicaID) string {
	return fmt.Sprintf("replica-%d", id)
}

func (conR *Reactor) OnStart() error {
	conR.Logger.Info("Consensus Reactor started.")
	conR.subscribeToBroadcastEvents()
	return nil
}

func (conR *Reactor) OnStop() {
	conR.conS.EventSwitch().RemoveListener(subscriber)
}

func (conR *Reactor) GetChannels() []*p2p.ChannelDescriptor {
	return []*p2p.ChannelDescriptor{
		{
			ID:                  ConsensusChannel,
			Priority:            10,
			SendQueueCapacity:   100,
			RecvBufferCapacity:  maxMsgSize,
			RecvMessageCapacity: maxMsgSize,
		},
	}
}

func (conR *Reactor) InitPeer(peer p2p.Peer) p2p.Peer {
	conR.Logger.Info("new peer", "peer", peer.ID())
	return peer
}

func (conR *Reactor) AddPeer(peer p2p.Peer) {}

func (conR *Reactor) RemovePeer(peer p2p.Peer, reason interface{}) {}

// Receive 第一阶段只解opcode，body进事件循环后再postponed parse
func (conR *Reactor) Receive(chID byte, src p2p.Peer, msgBytes []byte) {
	if !conR.IsRunning() {
		conR.Logger.Debug("Receive while stopped", "src", src, "chID", chID)
		return
	}
	if chID != ConsensusChannel {
		conR.Logger.Error(fmt.Sprintf("Unknown chID %X", chID))
		return
	}
	msg, err := types.DecodeWireMsg(msgBytes)
	if err != nil {
		conR.Logger.Info("failed to decode wire msg", "src", src.ID(), "err", err)
		return
	}
	conR.conS.ReceiveMessage(msg, src.ID())
}

// --------------------------

const subscriber = "consensus-reactor"

// subscribeToBroadcastEvents 监听共识的出站消息事件
func (conR *Reactor) subscribeToBroadcastEvents() {
	evsw := conR.conS.EventSwitch()

	evsw.AddListenerForEvent(subscriber, EventBroadcastMsg, func(data events.EventData) {
		msg := data.(types.WireMsg)
		conR.Switch.Broadcast(ConsensusChannel, msg.Encode())
	})

	evsw.AddListenerForEvent(subscriber, EventUnicastMsg, func(data events.EventData) {
		env := data.(UnicastEnvelope)
		conR.sendToReplica(env.Dest, env.Msg)
	})

	evsw.AddListenerForEvent(subscriber, EventRespondMsg, func(data events.EventData) {
		env := data.(RespondEnvelope)
		peer := conR.Switch.Peers().Get(env.Peer)
		if peer == nil {
			conR.Logger.Info("respond peer gone", "peer", env.Peer)
			return
		}
		peer.Send(ConsensusChannel, env.Msg.Encode())
	})
}

func (conR *Reactor) sendToReplica(dest types.ReplicaID, msg types.WireMsg) {
	v := conR.peerIDs.Get(replicaKey(dest))
	if v == nil {
		conR.Logger.Info("no p2p address for replica", "replica", dest)
		return
	}
	peer := conR.Switch.Peers().Get(v.(p2p.ID))
	if peer == nil {
		conR.Logger.Info("replica not connected", "replica", dest)
		return
	}
	if ok := peer.Send(ConsensusChannel, msg.Encode()); !ok {
		conR.Logger.Info("send to replica failed", "replica", dest, "opcode", msg.Opcode())
	}
}
