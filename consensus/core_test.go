package consensus

import (
	"bytes"
	"fmt"
	"testing"

	"hotstuff_demo/crypto/bls"
	"hotstuff_demo/crypto/threshold"
	"hotstuff_demo/privval"
	"hotstuff_demo/store"
	"hotstuff_demo/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendermint/tendermint/crypto/tmhash"
	"github.com/tendermint/tendermint/libs/log"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// testReplica 一个不接网络的共识核心，出站动作全部截获
type testReplica struct {
	core    *HotStuffCore
	pv      *privval.FilePV
	votes   []*types.Vote
	decided []types.Finality
}

func (tr *testReplica) takeVotes() []*types.Vote {
	votes := tr.votes
	tr.votes = nil
	return votes
}

// newTestCluster n个副本的核心，共享一套门限密钥
func newTestCluster(t *testing.T, n, nfaulty int, seed int64) []*testReplica {
	primary := bls.GenTestPrivKey(seed)
	poly := threshold.Master(primary, 2*nfaulty+1, seed)

	pubs := make([]bls.PubKey, n)
	privs := make([]bls.PrivKey, n)
	for i := 0; i < n; i++ {
		priv, err := poly.GetValue(int64(i))
		require.NoError(t, err)
		privs[i] = priv
		pubs[i] = priv.PubKey().(bls.PubKey)
	}

	cluster := make([]*testReplica, n)
	for i := 0; i < n; i++ {
		rs := types.NewReplicaSet(poly.PubPoly(), nfaulty)
		for j := 0; j < n; j++ {
			require.NoError(t, rs.AddReplica(types.NewReplica(types.ReplicaID(j), "", pubs[j])))
		}

		tr := &testReplica{pv: privval.NewFilePV(privs[i], "")}
		core := NewHotStuffCore(types.ReplicaID(i), tr.pv, rs, store.NewBlockStore())
		core.SetLogger(log.NewFilter(log.TestingLogger(), log.AllowError()))
		core.OnInit()

		core.doVote = func(_ types.ReplicaID, vote *types.Vote) {
			tr.votes = append(tr.votes, vote)
		}
		core.doDecide = func(fin types.Finality) {
			tr.decided = append(tr.decided, fin)
		}
		tr.core = core
		cluster[i] = tr
	}
	return cluster
}

// deliverWire 模拟一个区块从wire到达并完成deliver
func deliverWire(t *testing.T, tr *testReplica, blk *types.Block) *types.Block {
	decoded, err := types.DecodeBlock(bytes.NewReader(blk.EncodeBody()))
	require.NoError(t, err)
	canonical := tr.core.storage.AddBlock(decoded)
	if !canonical.Delivered {
		require.NoError(t, tr.core.OnDeliverBlock(canonical))
	}
	return canonical
}

// propagate 把提案分发给leader之外的副本并把产生的投票喂回leader
func propagate(t *testing.T, cluster []*testReplica, prop *types.Proposal, leader int) {
	for i, tr := range cluster {
		if i == leader {
			continue
		}
		blk := deliverWire(t, tr, prop.Block)
		require.NoError(t, tr.core.OnReceiveProposal(types.NewProposal(prop.Proposer, blk)))
		for _, vote := range tr.takeVotes() {
			require.NoError(t, cluster[leader].core.OnReceiveVote(vote))
		}
	}
}

func cmdHash(i int) tmbytes.HexBytes {
	return tmhash.Sum([]byte(fmt.Sprintf("cmd-%d", i)))
}

// S1: 标准三链。B3到达时每个副本提交B1
func TestHappyThreeChain(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2000)
	leader := cluster[0]

	cmd := tmhash.Sum([]byte{0xAA})
	prop1 := leader.core.OnPropose([]tmbytes.HexBytes{cmd}, []*types.Block{leader.core.Genesis()}, nil)
	propagate(t, cluster, prop1, 0)

	// B1凑齐QC，hqc抬到B1
	hqcBlk, _ := leader.core.HQC()
	assert.Equal(t, []byte(prop1.Block.Hash()), []byte(hqcBlk.Hash()))

	prop2 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(2)}, []*types.Block{prop1.Block}, nil)
	require.NotNil(t, prop2.Block.QC, "B2 must carry QC over B1")
	propagate(t, cluster, prop2, 0)

	prop3 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(3)}, []*types.Block{prop2.Block}, nil)
	require.NotNil(t, prop3.Block.QC, "B3 must carry QC over B2")
	propagate(t, cluster, prop3, 0)

	// 三链成立：所有副本提交B1，commit回调带出cmd 0xAA
	for i, tr := range cluster {
		require.Len(t, tr.decided, 1, "replica %d", i)
		fin := tr.decided[0]
		assert.Equal(t, []byte(cmd), []byte(fin.CmdHash), "replica %d", i)
		assert.Equal(t, []byte(prop1.Block.Hash()), []byte(fin.BlockHash), "replica %d", i)
		assert.Equal(t, uint64(1), tr.core.BExec().Height, "replica %d", i)
	}
}

// S2: QC不指向直接parent时不形成三链，链修复后一起提交
func TestSkippedQCNoCommit(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2001)
	leader := cluster[0]

	prop1 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(1)}, []*types.Block{leader.core.Genesis()}, nil)
	propagate(t, cluster, prop1, 0)
	prop2 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(2)}, []*types.Block{prop1.Block}, nil)
	propagate(t, cluster, prop2, 0)

	// 故障leader：B3的QC指向B1而不是直接parent B2
	qcB1 := prop2.Block.QC.Clone()
	faulty := types.NewBlock([]*types.Block{prop2.Block}, []tmbytes.HexBytes{cmdHash(3)}, qcB1, nil)
	faulty = leader.core.storage.AddBlock(faulty)
	faulty.SelfQC = types.NewQuorumCert(faulty.Hash())
	require.NoError(t, leader.core.OnDeliverBlock(faulty))
	prop3 := types.NewProposal(0, faulty)

	// leader自己也按收到提案处理
	require.NoError(t, leader.core.OnReceiveProposal(prop3))
	for _, vote := range leader.takeVotes() {
		require.NoError(t, leader.core.OnReceiveVote(vote))
	}
	propagate(t, cluster, prop3, 0)

	for i, tr := range cluster {
		assert.Empty(t, tr.decided, "replica %d must not commit through a broken chain", i)
		assert.Equal(t, uint64(0), tr.core.BExec().Height, "replica %d", i)
	}

	// B4(qc=QC(B3))和B5(qc=QC(B4))修复链条，B1..B3一起提交
	prop4 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(4)}, []*types.Block{faulty}, nil)
	require.NotNil(t, prop4.Block.QC)
	propagate(t, cluster, prop4, 0)
	prop5 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(5)}, []*types.Block{prop4.Block}, nil)
	propagate(t, cluster, prop5, 0)

	for i, tr := range cluster {
		require.Len(t, tr.decided, 3, "replica %d commits B1..B3 together", i)
		assert.Equal(t, []byte(cmdHash(1)), []byte(tr.decided[0].CmdHash), "oldest first")
		assert.Equal(t, []byte(cmdHash(3)), []byte(tr.decided[2].CmdHash))
		assert.Equal(t, uint64(3), tr.core.BExec().Height, "replica %d", i)
	}
}

// S3: 高度够但不在hqc分支上的提案不投票，update照常跑
func TestWrongBranchNoVote(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2002)
	leader := cluster[0]
	follower := cluster[1]

	prop1 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(1)}, []*types.Block{leader.core.Genesis()}, nil)
	propagate(t, cluster, prop1, 0)
	prop2 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(2)}, []*types.Block{prop1.Block}, nil)
	propagate(t, cluster, prop2, 0)
	prop3 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(3)}, []*types.Block{prop2.Block}, nil)
	propagate(t, cluster, prop3, 0)

	// follower投过B3：vheight=3，hqc=B2
	assert.Equal(t, uint64(3), follower.core.VHeight())
	hqcBlk, _ := follower.core.HQC()
	assert.Equal(t, uint64(2), hqcBlk.Height)

	// 从B1岔出去的分支F2-F3-F4，高度4 > vheight，但高度2的祖先是F2不是B2
	b1 := follower.core.storage.FindBlock(prop1.Block.Hash())
	require.NotNil(t, b1)
	f2 := deliverWire(t, follower, types.NewBlock([]*types.Block{b1}, []tmbytes.HexBytes{cmdHash(102)}, nil, nil))
	f3 := deliverWire(t, follower, types.NewBlock([]*types.Block{f2}, []tmbytes.HexBytes{cmdHash(103)}, nil, nil))
	f4 := deliverWire(t, follower, types.NewBlock([]*types.Block{f3}, []tmbytes.HexBytes{cmdHash(104)}, nil, nil))

	require.NoError(t, follower.core.OnReceiveProposal(types.NewProposal(0, f4)))

	assert.Empty(t, follower.takeVotes(), "must not vote for the wrong branch")
	assert.Equal(t, uint64(3), follower.core.VHeight(), "vheight must not move")
}

// S4: 重复投票只计一次
func TestDuplicateVote(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2003)
	leader := cluster[0]
	follower := cluster[1]

	prop1 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(1)}, []*types.Block{leader.core.Genesis()}, nil)

	blk := deliverWire(t, follower, prop1.Block)
	require.NoError(t, follower.core.OnReceiveProposal(types.NewProposal(0, blk)))
	votes := follower.takeVotes()
	require.Len(t, votes, 1)

	require.NoError(t, leader.core.OnReceiveVote(votes[0]))
	countAfterFirst := len(prop1.Block.Voted)

	// 同一个voter再投一次
	require.NoError(t, leader.core.OnReceiveVote(votes[0]))
	assert.Equal(t, countAfterFirst, len(prop1.Block.Voted), "duplicate vote must not count")
}

// hqc/vheight/bexec单调不回退
func TestMonotoneCounters(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2004)
	leader := cluster[0]

	var lastVHeight, lastHQC, lastBExec uint64
	parent := leader.core.Genesis()
	for i := 1; i <= 6; i++ {
		prop := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(i)}, []*types.Block{parent}, nil)
		propagate(t, cluster, prop, 0)
		parent = prop.Block

		hqcBlk, _ := leader.core.HQC()
		assert.GreaterOrEqual(t, leader.core.VHeight(), lastVHeight)
		assert.GreaterOrEqual(t, hqcBlk.Height, lastHQC)
		assert.GreaterOrEqual(t, leader.core.BExec().Height, lastBExec)
		lastVHeight, lastHQC, lastBExec = leader.core.VHeight(), hqcBlk.Height, leader.core.BExec().Height
	}
	assert.Equal(t, uint64(4), leader.core.BExec().Height, "B6 commits up to B4")
}

// S6: prune之后边界以下的区块从存储消失，边界以上保留
func TestPruneReleasesOldBlocks(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2005)
	leader := cluster[0]

	blocks := []*types.Block{leader.core.Genesis()}
	parent := leader.core.Genesis()
	for i := 1; i <= 12; i++ {
		prop := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(i)}, []*types.Block{parent}, nil)
		propagate(t, cluster, prop, 0)
		parent = prop.Block
		blocks = append(blocks, prop.Block)
	}
	require.Equal(t, uint64(10), leader.core.BExec().Height)

	leader.core.Prune(3)

	for h := 0; h <= 7; h++ {
		assert.False(t, leader.core.storage.IsBlockFetched(blocks[h].Hash()),
			"height %d should be evicted", h)
	}
	for h := 8; h <= 12; h++ {
		assert.True(t, leader.core.storage.IsBlockFetched(blocks[h].Hash()),
			"height %d should be retained", h)
	}
}

// oneshot观察者：QC形成和hqc抬升各唤醒一次
func TestObservers(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2006)
	leader := cluster[0]

	prop1 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(1)}, []*types.Block{leader.core.Genesis()}, nil)
	qcCh := leader.core.AsyncQCFinish(prop1.Block)
	hqcCh := leader.core.AsyncHQCUpdate()

	select {
	case <-qcCh:
		t.Fatal("qc must not be finished yet")
	default:
	}

	propagate(t, cluster, prop1, 0)

	select {
	case <-qcCh:
	default:
		t.Fatal("qc observer must fire once quorum reached")
	}
	select {
	case blk := <-hqcCh:
		assert.Equal(t, []byte(prop1.Block.Hash()), []byte(blk.Hash()))
	default:
		t.Fatal("hqc observer must fire")
	}

	// 已经凑齐的QC立即resolve
	select {
	case <-leader.core.AsyncQCFinish(prop1.Block):
	default:
		t.Fatal("closed channel expected for a complete qc")
	}
}

// 抑制投票的副本不投票
func TestNegVote(t *testing.T) {
	cluster := newTestCluster(t, 4, 1, 2007)
	leader := cluster[0]
	follower := cluster[1]
	follower.core.SetNegVote(true)

	prop1 := leader.core.OnPropose([]tmbytes.HexBytes{cmdHash(1)}, []*types.Block{leader.core.Genesis()}, nil)
	blk := deliverWire(t, follower, prop1.Block)
	require.NoError(t, follower.core.OnReceiveProposal(types.NewProposal(0, blk)))

	assert.Empty(t, follower.takeVotes())
	assert.Equal(t, uint64(1), follower.core.VHeight(), "vheight still advances")
}
