package mempool

import (
	"fmt"
	"testing"

	"hotstuff_demo/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCmdDedup(t *testing.T) {
	pool := NewListCmdPool()
	cmd := types.Cmd("hello")

	require.NoError(t, pool.CheckCmd(cmd, nil, CmdInfo{}))
	assert.Equal(t, ErrCmdInPool, pool.CheckCmd(cmd, nil, CmdInfo{}))
	assert.Equal(t, 1, pool.Size())
	assert.Equal(t, cmd.ComputeSize(), pool.CmdsBytes())
}

// Reap按到达顺序出队，出队后可以重新提交
func TestReapOrder(t *testing.T) {
	pool := NewListCmdPool()
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.CheckCmd(types.Cmd(fmt.Sprintf("cmd-%d", i)), nil, CmdInfo{}))
	}

	first := pool.Reap(2)
	require.Len(t, first, 2)
	assert.Equal(t, types.Cmd("cmd-0"), first[0].Cmd)
	assert.Equal(t, types.Cmd("cmd-1"), first[1].Cmd)
	assert.Equal(t, 3, pool.Size())

	rest := pool.Reap(-1)
	require.Len(t, rest, 3)
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, int64(0), pool.CmdsBytes())

	// 已出队的命令不再算重复
	require.NoError(t, pool.CheckCmd(types.Cmd("cmd-0"), nil, CmdInfo{}))
}

func TestFlush(t *testing.T) {
	pool := NewListCmdPool()
	for i := 0; i < 3; i++ {
		require.NoError(t, pool.CheckCmd(types.Cmd(fmt.Sprintf("f-%d", i)), nil, CmdInfo{}))
	}
	pool.Flush()
	assert.Equal(t, 0, pool.Size())
	require.NoError(t, pool.CheckCmd(types.Cmd("f-0"), nil, CmdInfo{}))
}

func TestCmdsWaitChan(t *testing.T) {
	pool := NewListCmdPool()
	waitCh := pool.CmdsWaitChan()

	select {
	case <-waitCh:
		t.Fatal("wait chan must block while the pool is empty")
	default:
	}

	require.NoError(t, pool.CheckCmd(types.Cmd("wake"), nil, CmdInfo{}))
	select {
	case <-waitCh:
	default:
		t.Fatal("wait chan must fire after a push")
	}
}
