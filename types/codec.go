package types

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tendermint/tendermint/crypto/tmhash"
	tmbytes "github.com/tendermint/tendermint/libs/bytes"
)

// 共识消息统一采用 opcode:1 | length:4 | body 的帧格式
// 整数一律小端，hash定长32字节

const (
	HashSize = tmhash.Size

	// 帧头长度 opcode + body length
	FrameHeaderSize = 5

	// body的长度上限，超过视为非法消息
	MaxBodySize = 4 << 20
)

var (
	ErrShortBuffer  = errors.New("codec: short buffer")
	ErrBadHashSize  = errors.New("codec: wrong hash size")
	ErrBodyTooLarge = errors.New("codec: body too large")
)

func putUint32(w *bytes.Buffer, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	w.Write(buf[:])
}

func putUint64(w *bytes.Buffer, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	w.Write(buf[:])
}

func putHash(w *bytes.Buffer, h tmbytes.HexBytes) {
	if len(h) != HashSize {
		panic(fmt.Sprintf("codec: hash size %d != %d", len(h), HashSize))
	}
	w.Write(h)
}

// putBytes 写入4字节长度前缀的变长数据
func putBytes(w *bytes.Buffer, bz []byte) {
	putUint32(w, uint32(len(bz)))
	w.Write(bz)
}

func getUint32(r *bytes.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func getUint64(r *bytes.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, ErrShortBuffer
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

func getHash(r *bytes.Reader) (tmbytes.HexBytes, error) {
	h := make([]byte, HashSize)
	if _, err := io.ReadFull(r, h); err != nil {
		return nil, ErrShortBuffer
	}
	return h, nil
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	n, err := getUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxBodySize {
		return nil, ErrBodyTooLarge
	}
	bz := make([]byte, n)
	if _, err := io.ReadFull(r, bz); err != nil {
		return nil, ErrShortBuffer
	}
	return bz, nil
}

// EncodeFrame 把body打包成完整的wire帧
func EncodeFrame(opcode byte, body []byte) []byte {
	out := make([]byte, FrameHeaderSize+len(body))
	out[0] = opcode
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(body)))
	copy(out[FrameHeaderSize:], body)
	return out
}

// DecodeFrame 只解帧头，body留给postponed parse
func DecodeFrame(bz []byte) (opcode byte, body []byte, err error) {
	if len(bz) < FrameHeaderSize {
		return 0, nil, ErrShortBuffer
	}
	opcode = bz[0]
	n := binary.LittleEndian.Uint32(bz[1:5])
	if n > MaxBodySize {
		return 0, nil, ErrBodyTooLarge
	}
	if len(bz) != FrameHeaderSize+int(n) {
		return 0, nil, ErrShortBuffer
	}
	return opcode, bz[FrameHeaderSize:], nil
}
