package consensus

import (
	"sync"
	"testing"
	"time"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"
	"hotstuff_demo/mempool"
	"hotstuff_demo/privval"
	"hotstuff_demo/state"
	"hotstuff_demo/store"
	"hotstuff_demo/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/libs/events"
	"github.com/tendermint/tendermint/libs/log"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/p2p"
)

// baseHarness 不接p2p的HotStuffBase，出站消息通过event switch截获
type baseHarness struct {
	base  *HotStuffBase
	privs []bls.PrivKey
	rs    *types.ReplicaSet

	mtx      sync.Mutex
	unicasts []UnicastEnvelope
	bcasts   []types.WireMsg
}

func newBaseHarness(t *testing.T, id types.ReplicaID, seed int64) *baseHarness {
	const n, nfaulty = 4, 1

	primary := bls.GenTestPrivKey(seed)
	poly := threshold.Master(primary, 2*nfaulty+1, seed)

	h := &baseHarness{}
	rs := types.NewReplicaSet(poly.PubPoly(), nfaulty)
	h.privs = make([]bls.PrivKey, n)
	for i := 0; i < n; i++ {
		priv, err := poly.GetValue(int64(i))
		require.NoError(t, err)
		h.privs[i] = priv
		require.NoError(t, rs.AddReplica(
			types.NewReplica(types.ReplicaID(i), "", priv.PubKey().(bls.PubKey))))
	}
	h.rs = rs

	storage := store.NewBlockStore()
	pool := mempool.NewListCmdPool()
	exec := state.NewExecutor(nil, storage)
	pv := privval.NewFilePV(h.privs[id], "")

	h.base = NewHotStuffBase(id, pv, rs, storage, pool, exec, NewRRPacemaker(),
		SetBlockSize(1), SetDelta(200*time.Millisecond))
	h.base.SetLogger(log.NewFilter(log.TestingLogger(), log.AllowError()))

	require.NoError(t, h.base.Start())

	h.base.EventSwitch().AddListenerForEvent("test", EventUnicastMsg, func(data events.EventData) {
		h.mtx.Lock()
		h.unicasts = append(h.unicasts, data.(UnicastEnvelope))
		h.mtx.Unlock()
	})
	h.base.EventSwitch().AddListenerForEvent("test", EventBroadcastMsg, func(data events.EventData) {
		h.mtx.Lock()
		h.bcasts = append(h.bcasts, data.(types.WireMsg))
		h.mtx.Unlock()
	})
	return h
}

func (h *baseHarness) takeUnicasts() []UnicastEnvelope {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	out := h.unicasts
	h.unicasts = nil
	return out
}

func (h *baseHarness) takeBroadcasts() []types.WireMsg {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	out := h.bcasts
	h.bcasts = nil
	return out
}

// receiveWire 模拟一条消息从网络进来（完整走两阶段parse）
func (h *baseHarness) receiveWire(t *testing.T, msg types.WireMsg, peer p2p.ID) {
	decoded, err := types.DecodeWireMsg(msg.Encode())
	require.NoError(t, err)
	h.base.ReceiveMessage(decoded, peer)
}

// makeQC 手工凑一张合法的门限证书
func makeQC(t *testing.T, h *baseHarness, hash tmbytes.HexBytes) *types.QuorumCert {
	qc := types.NewQuorumCert(hash)
	for i := 0; i < h.rs.NMajority(); i++ {
		sig, err := h.privs[i].SignShare(hash)
		require.NoError(t, err)
		require.NoError(t, qc.AddPart(types.ReplicaID(i), sig))
	}
	require.NoError(t, qc.Compute(h.rs))
	return qc
}

// S5: 先收到B3的提案，pipeline把B2、B1补齐后才进入共识核心
func TestOutOfOrderDelivery(t *testing.T) {
	h := newBaseHarness(t, 1, 3000) // 副本1，不是proposer
	defer h.base.Stop()

	gen := h.base.Genesis()
	b1 := types.NewBlock([]*types.Block{gen}, []tmbytes.HexBytes{cmdHash(1)}, types.NewGenesisQC(gen.Hash()), nil)
	b2 := types.NewBlock([]*types.Block{b1}, []tmbytes.HexBytes{cmdHash(2)}, makeQC(t, h, b1.Hash()), nil)
	b3 := types.NewBlock([]*types.Block{b2}, []tmbytes.HexBytes{cmdHash(3)}, makeQC(t, h, b2.Hash()), nil)
	byHash := map[string]*types.Block{
		string(b1.Hash()): b1,
		string(b2.Hash()): b2,
		string(b3.Hash()): b3,
	}

	// 只送B3，B2/B1等对方来要
	h.receiveWire(t, types.NewMsgPropose(types.NewProposal(0, b3)), "peer0")

	served := make(map[string]bool)
	require.Eventually(t, func() bool {
		for _, env := range h.takeUnicasts() {
			switch msg := env.Msg.(type) {
			case *types.MsgReqBlock:
				assert.Equal(t, types.ReplicaID(0), env.Dest, "fetches go to the source hint")
				for _, hash := range msg.Hashes {
					blk, ok := byHash[string(hash)]
					require.True(t, ok, "unexpected fetch %X", hash)
					require.False(t, served[string(hash)], "at most one fetch per hash")
					served[string(hash)] = true
					h.receiveWire(t, types.NewMsgRespBlock([]*types.Block{blk}), "peer0")
				}
			case *types.MsgVote:
				// 副本对B3投票，说明B1/B2/B3全部按序deliver完成
				assert.Equal(t, types.ReplicaID(0), env.Dest)
				assert.Equal(t, []byte(b3.Hash()), []byte(msg.Vote.BlockHash))
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	snap := h.base.Snapshot()
	assert.Equal(t, uint64(3), snap.VHeight, "vheight advances once per delivered proposal")
	assert.Equal(t, uint64(2), snap.HQCHeight, "hqc follows B3's QC over B2")

	storage := h.base.Storage()
	for _, blk := range []*types.Block{b1, b2, b3} {
		assert.True(t, storage.IsBlockDelivered(blk.Hash()))
	}
}

// 命令进来 → proposer打包广播 → commit timer乐观提交 → 回调触发
func TestExecCommandProposeAndCommit(t *testing.T) {
	h := newBaseHarness(t, 0, 3001) // 副本0是view 0的proposer
	defer h.base.Stop()

	cmd := types.Cmd("transfer 10 to bob")
	committed := make(chan types.Finality, 1)
	require.NoError(t, h.base.ExecCommand(cmd, func(fin types.Finality) {
		committed <- fin
	}))

	// proposer打出携带该命令的提案
	var prop *types.Proposal
	require.Eventually(t, func() bool {
		for _, msg := range h.takeBroadcasts() {
			if mp, ok := msg.(*types.MsgPropose); ok {
				prop = mp.Proposal
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	require.Len(t, prop.Block.Cmds, 1)
	assert.Equal(t, []byte(cmd.Hash()), []byte(prop.Block.Cmds[0]))

	// 2Δ内无人blame，commit timer把区块乐观提交
	select {
	case fin := <-committed:
		assert.Equal(t, []byte(cmd.Hash()), []byte(fin.CmdHash))
		assert.Equal(t, uint64(1), fin.BlockHeight)
	case <-time.After(5 * time.Second):
		t.Fatal("command was never committed")
	}

	snap := h.base.Snapshot()
	assert.Equal(t, uint64(1), snap.BExecHeight)
}

// 重复提交相同命令不报错（静默合并）
func TestExecCommandDuplicate(t *testing.T) {
	h := newBaseHarness(t, 1, 3002)
	defer h.base.Stop()

	cmd := types.Cmd("dup")
	require.NoError(t, h.base.ExecCommand(cmd, nil))
	require.NoError(t, h.base.ExecCommand(cmd, nil))
}
