package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"hotstuff_demo/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/libs/log"
	tmdb "github.com/tendermint/tm-db"
	"github.com/tendermint/tm-db/goleveldb"
)

// key布局:
// fin/{height:8BE}{idx:4BE} -> cmd hash | block hash
// chk/bexec -> bexec hash | height:8 | hqc hash
var (
	finPrefix     = []byte("fin/")
	checkpointKey = []byte("chk/bexec")

	ErrNoCheckpoint = errors.New("no checkpoint recorded")
)

// CommitDB 提交日志，记录每条命令的Finality和(bexec, hqc)检查点
// 协议本身不要求持久化，这里落盘只为崩溃后检查和测量
type CommitDB struct {
	db     tmdb.DB
	logger log.Logger
}

func NewCommitDB(name, dir string, logger log.Logger) (*CommitDB, error) {
	levelDB, err := goleveldb.NewDB(name, dir)
	if err != nil {
		return nil, err
	}
	return NewCommitDBWithDB(levelDB, logger), nil
}

func NewCommitDBWithDB(db tmdb.DB, logger log.Logger) *CommitDB {
	return &CommitDB{db: db, logger: logger}
}

// SaveFinality 追加一条命令的提交记录
func (cdb *CommitDB) SaveFinality(fin types.Finality) error {
	return cdb.db.Set(finKey(fin.BlockHeight, fin.CmdIdx), finValue(fin))
}

// SaveCheckpoint 记录最新的(bexec, hqc)，崩溃后可检查
func (cdb *CommitDB) SaveCheckpoint(bexecHash, hqcHash tmbytes.HexBytes, height uint64) error {
	return cdb.db.SetSync(checkpointKey, checkpointValue(bexecHash, hqcHash, height))
}

// CommitBlock 把一个区块的全部Finality和新的检查点写成一个batch
func (cdb *CommitDB) CommitBlock(fins []types.Finality, bexecHash, hqcHash tmbytes.HexBytes, height uint64) error {
	batch := cdb.db.NewBatch()
	defer batch.Close()

	for _, fin := range fins {
		if err := batch.Set(finKey(fin.BlockHeight, fin.CmdIdx), finValue(fin)); err != nil {
			return err
		}
	}
	if err := batch.Set(checkpointKey, checkpointValue(bexecHash, hqcHash, height)); err != nil {
		return err
	}
	return batch.WriteSync()
}

// LoadCheckpoint 读取最后记录的(bexec, height, hqc)
func (cdb *CommitDB) LoadCheckpoint() (bexecHash tmbytes.HexBytes, height uint64, hqcHash tmbytes.HexBytes, err error) {
	raw, err := cdb.db.Get(checkpointKey)
	if err != nil {
		return nil, 0, nil, err
	}
	if len(raw) == 0 {
		return nil, 0, nil, ErrNoCheckpoint
	}
	if len(raw) != types.HashSize*2+8 {
		return nil, 0, nil, fmt.Errorf("corrupted checkpoint: %d bytes", len(raw))
	}
	bexecHash = append(tmbytes.HexBytes(nil), raw[:types.HashSize]...)
	height = binary.BigEndian.Uint64(raw[types.HashSize : types.HashSize+8])
	hqcHash = append(tmbytes.HexBytes(nil), raw[types.HashSize+8:]...)
	return bexecHash, height, hqcHash, nil
}

// LoadFinality 按(height, idx)读一条提交记录
func (cdb *CommitDB) LoadFinality(height uint64, idx int) (cmdHash, blockHash tmbytes.HexBytes, err error) {
	raw, err := cdb.db.Get(finKey(height, idx))
	if err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("no finality at %d/%d", height, idx)
	}
	if len(raw) != types.HashSize*2 {
		return nil, nil, fmt.Errorf("corrupted finality record: %d bytes", len(raw))
	}
	cmdHash = append(tmbytes.HexBytes(nil), raw[:types.HashSize]...)
	blockHash = append(tmbytes.HexBytes(nil), raw[types.HashSize:]...)
	return cmdHash, blockHash, nil
}

func (cdb *CommitDB) Close() error {
	return cdb.db.Close()
}

func finKey(height uint64, idx int) []byte {
	key := make([]byte, len(finPrefix)+12)
	copy(key, finPrefix)
	binary.BigEndian.PutUint64(key[len(finPrefix):], height)
	binary.BigEndian.PutUint32(key[len(finPrefix)+8:], uint32(idx))
	return key
}

func finValue(fin types.Finality) []byte {
	val := make([]byte, 0, types.HashSize*2)
	val = append(val, fin.CmdHash...)
	val = append(val, fin.BlockHash...)
	return val
}

func checkpointValue(bexecHash, hqcHash tmbytes.HexBytes, height uint64) []byte {
	val := make([]byte, 0, types.HashSize*2+8)
	val = append(val, bexecHash...)
	var hbuf [8]byte
	binary.BigEndian.PutUint64(hbuf[:], height)
	val = append(val, hbuf[:]...)
	val = append(val, hqcHash...)
	return val
}
