package mempool

import (
	"os"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/go-kit/kit/log/term"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotstuff_demo/store"
	"hotstuff_demo/types"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/p2p"
)

const (
	timeout = 120 * time.Second // ridiculously high because CircleCI is slow
)

// 按节点编号着色的测试logger
func mempoolLogger() log.Logger {
	return log.TestingLoggerWithColorFn(func(keyvals ...interface{}) term.FgBgColor {
		for i := 0; i < len(keyvals)-1; i += 2 {
			if keyvals[i] == "validator" {
				return term.FgBgColor{Fg: term.Color(uint8(keyvals[i+1].(int) + 1))}
			}
		}
		return term.FgBgColor{}
	})
}

func makeAndConnectReactors(config *cfg.Config, n int) []*Reactor {
	reactors := make([]*Reactor, n)
	logger := mempoolLogger()
	for i := 0; i < n; i++ {
		pool := NewListCmdPool()
		reactors[i] = NewReactor(pool, store.NewBlockStore())
		reactors[i].SetLogger(logger.With("validator", i))
	}

	p2p.MakeConnectedSwitches(config.P2P, n, func(i int, s *p2p.Switch) *p2p.Switch {
		s.AddReactor("CMDPOOL", reactors[i])
		return s
	}, p2p.Connect2Switches)
	return reactors
}

// 测试节点之间的命令同步
// 向节点a的池子加入一条命令，节点b也能收到
func TestReactorBroadcastCmds(t *testing.T) {
	config := cfg.TestConfig()
	defer os.RemoveAll(config.RootDir)

	const N = 2
	reactors := makeAndConnectReactors(config, N)
	defer func() {
		for _, r := range reactors {
			if err := r.Switch.Stop(); err != nil {
				assert.NoError(t, err)
			}
		}
	}()

	cmd := types.Cmd("gossip me")
	require.NoError(t, reactors[0].pool.CheckCmd(cmd, nil, CmdInfo{SenderID: UnknownPeerID}))

	// 期待reactor[1]的池子和cmd cache都收到该命令
	require.Eventually(t, func() bool {
		if reactors[1].pool.Size() != 1 {
			return false
		}
		_, ok := reactors[1].blockStore.GetCmd(cmd.Hash())
		return ok
	}, timeout, 50*time.Millisecond)

	got := reactors[1].pool.Reap(1)
	require.Len(t, got, 1)
	assert.Equal(t, cmd, got[0].Cmd)
}

// 同步过来的命令不会原路弹回造成风暴，池子保持一条
func TestReactorNoEcho(t *testing.T) {
	config := cfg.TestConfig()
	defer os.RemoveAll(config.RootDir)

	const N = 2
	reactors := makeAndConnectReactors(config, N)
	defer func() {
		for _, r := range reactors {
			if err := r.Switch.Stop(); err != nil {
				assert.NoError(t, err)
			}
		}
	}()

	cmd := types.Cmd("once only")
	require.NoError(t, reactors[0].pool.CheckCmd(cmd, nil, CmdInfo{SenderID: UnknownPeerID}))

	require.Eventually(t, func() bool {
		return reactors[1].pool.Size() == 1
	}, timeout, 50*time.Millisecond)

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, reactors[0].pool.Size())
	assert.Equal(t, 1, reactors[1].pool.Size())
}

func TestReactorLeaktest(t *testing.T) {
	defer leaktest.CheckTimeout(t, 10*time.Second)()

	config := cfg.TestConfig()
	defer os.RemoveAll(config.RootDir)

	reactors := makeAndConnectReactors(config, 2)
	for _, r := range reactors {
		require.NoError(t, r.Switch.Stop())
	}
}
