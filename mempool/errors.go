package mempool

import "errors"

var (
	// ErrCmdInPool is returned to the client if we saw the cmd earlier
	ErrCmdInPool = errors.New("cmd already exists in pool")
)
