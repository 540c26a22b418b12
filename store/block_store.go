package store

import (
	"sync"

	"hotstuff_demo/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"
)

// BlockStore 内容寻址的区块存储，hash是区块身份的唯一来源
// blkCache保存区块实例并带引用计数，cmdCache保存命令原始载荷
// 用来响应ReqBlock和本地打包
type BlockStore struct {
	mtx    sync.RWMutex
	logger log.Logger

	blkCache map[string]*blockEntry
	cmdCache map[string]types.Cmd
}

type blockEntry struct {
	blk  *types.Block
	refs int
}

func NewBlockStore() *BlockStore {
	return &BlockStore{
		logger:   log.NewNopLogger(),
		blkCache: make(map[string]*blockEntry),
		cmdCache: make(map[string]types.Cmd),
	}
}

func (bs *BlockStore) SetLogger(logger log.Logger) {
	bs.logger = logger
}

// AddBlock 加入区块并返回规范实例；重复加入返回已有实例
func (bs *BlockStore) AddBlock(blk *types.Block) *types.Block {
	key := string(blk.Hash())

	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if entry, ok := bs.blkCache[key]; ok {
		return entry.blk
	}
	bs.blkCache[key] = &blockEntry{blk: blk, refs: 1}
	return blk
}

func (bs *BlockStore) FindBlock(hash tmbytes.HexBytes) *types.Block {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	if entry, ok := bs.blkCache[string(hash)]; ok {
		return entry.blk
	}
	return nil
}

// IsBlockFetched 区块的字节是否已经在本地
func (bs *BlockStore) IsBlockFetched(hash tmbytes.HexBytes) bool {
	return bs.FindBlock(hash) != nil
}

// IsBlockDelivered 区块是否已经完成deliver（祖先齐全且验签通过）
func (bs *BlockStore) IsBlockDelivered(hash tmbytes.HexBytes) bool {
	blk := bs.FindBlock(hash)
	return blk != nil && blk.Delivered
}

// Retain 给区块增加一个外部引用，阻止prune释放
func (bs *BlockStore) Retain(blk *types.Block) {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if entry, ok := bs.blkCache[string(blk.Hash())]; ok {
		entry.refs++
	}
}

// TryReleaseBlock 减一个引用，归零时从存储剔除
// 返回true表示区块已经被释放
func (bs *BlockStore) TryReleaseBlock(blk *types.Block) bool {
	key := string(blk.Hash())

	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	entry, ok := bs.blkCache[key]
	if !ok {
		return true
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(bs.blkCache, key)
		return true
	}
	return false
}

func (bs *BlockStore) BlkCacheSize() int {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return len(bs.blkCache)
}

// AddCmd 缓存命令载荷，幂等
func (bs *BlockStore) AddCmd(cmd types.Cmd) {
	key := string(cmd.Hash())

	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	if _, ok := bs.cmdCache[key]; !ok {
		bs.cmdCache[key] = cmd
	}
}

func (bs *BlockStore) GetCmd(hash tmbytes.HexBytes) (types.Cmd, bool) {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()

	cmd, ok := bs.cmdCache[string(hash)]
	return cmd, ok
}

// ReleaseCmds 提交后清理命令缓存
func (bs *BlockStore) ReleaseCmds(hashes []tmbytes.HexBytes) {
	bs.mtx.Lock()
	defer bs.mtx.Unlock()

	for _, h := range hashes {
		delete(bs.cmdCache, string(h))
	}
}

func (bs *BlockStore) CmdCacheSize() int {
	bs.mtx.RLock()
	defer bs.mtx.RUnlock()
	return len(bs.cmdCache)
}
