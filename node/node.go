package node

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"hotstuff_demo/consensus"
	"hotstuff_demo/mempool"
	"hotstuff_demo/privval"
	"hotstuff_demo/rpc"
	"hotstuff_demo/state"
	"hotstuff_demo/store"
	"hotstuff_demo/types"

	cfg "github.com/tendermint/tendermint/config"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
	"github.com/tendermint/tendermint/version"
)

type Provider func(*cfg.Config, log.Logger) (*Node, error)

// Node 一个完整的副本进程：p2p、共识、命令池、提交日志、rpc
type Node struct {
	service.BaseService

	// config
	config     *cfg.Config
	genesisDoc *types.GenesisDoc

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey

	// services
	blockStore       *store.BlockStore
	commitDB         *store.CommitDB
	cmdPool          *mempool.ListCmdPool
	hotstuff         *consensus.HotStuffBase
	consensusReactor *consensus.Reactor
	cmdPoolReactor   *mempool.Reactor

	rpcListeners []net.Listener
}

type Option func(*Node)

func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, err
	}
	pv := privval.LoadFilePV(config.PrivValidatorKeyFile())
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, err
	}
	return NewNode(config, pv, nodeKey, genDoc, logger)
}

func createTransport(
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)
	return transport
}

func createSwitch(config *cfg.Config,
	transport p2p.Transport,
	consensusReactor *consensus.Reactor,
	cmdPoolReactor *mempool.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		config.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("CONSENSUS", consensusReactor)
	sw.AddReactor("CMDPOOL", cmdPoolReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", config.NodeKeyFile())
	return sw
}

func makeNodeInfo(
	config *cfg.Config,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
) (p2p.NodeInfo, error) {
	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			8, // global
			11,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       genDoc.ChainID,
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			consensus.ConsensusChannel,
			mempool.CmdPoolChannel,
		},
		Moniker: config.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    "off",
			RPCAddress: config.RPC.ListenAddress,
		},
	}

	lAddr := config.P2P.ExternalAddress
	if lAddr == "" {
		lAddr = config.P2P.ListenAddress
	}
	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}

func NewNode(
	config *cfg.Config,
	pv types.PrivValidator,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
	logger log.Logger,
	options ...Option,
) (*Node, error) {
	replicaSet, err := genDoc.ReplicaSet()
	if err != nil {
		return nil, err
	}

	blockStore := store.NewBlockStore()
	blockStore.SetLogger(logger.With("module", "store"))

	commitDB, err := store.NewCommitDB("commitlog", config.DBDir(), logger.With("module", "store"))
	if err != nil {
		return nil, fmt.Errorf("open commit db: %w", err)
	}

	cmdPool := mempool.NewListCmdPool()
	cmdPool.SetLogger(logger.With("module", "mempool"))

	executor := state.NewExecutor(commitDB, blockStore)
	executor.SetLogger(logger.With("module", "state"))

	pmaker := consensus.NewRRPacemaker()
	pmaker.SetLogger(logger.With("module", "pacemaker"))

	hotstuff := consensus.NewHotStuffBase(
		pv.GetID(), pv, replicaSet, blockStore, cmdPool, executor, pmaker,
	)
	hotstuff.SetLogger(logger.With("module", "consensus"))

	consensusReactor := consensus.NewReactor(hotstuff)
	consensusReactor.SetLogger(logger.With("module", "consensus"))

	cmdPoolReactor := mempool.NewReactor(cmdPool, blockStore)
	cmdPoolReactor.SetLogger(logger.With("module", "mempool"))

	p2pLogger := logger.With("module", "p2p")

	nodeInfo, err := makeNodeInfo(config, nodeKey, genDoc)
	if err != nil {
		return nil, err
	}

	transport := createTransport(nodeInfo, nodeKey)
	sw := createSwitch(
		config, transport, consensusReactor, cmdPoolReactor, nodeInfo, nodeKey, p2pLogger,
	)

	node := &Node{
		config:     config,
		genesisDoc: genDoc,

		transport: transport,
		sw:        sw,
		nodeInfo:  nodeInfo,
		nodeKey:   nodeKey,

		blockStore:       blockStore,
		commitDB:         commitDB,
		cmdPool:          cmdPool,
		hotstuff:         hotstuff,
		consensusReactor: consensusReactor,
		cmdPoolReactor:   cmdPoolReactor,
	}
	node.BaseService = *service.NewBaseService(logger, "Node", node)

	for _, option := range options {
		option(node)
	}
	return node, nil
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) HotStuff() *consensus.HotStuffBase {
	return n.hotstuff
}

func (n *Node) OnStart() error {
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	if err := n.sw.Start(); err != nil {
		return err
	}

	if err := n.hotstuff.Start(); err != nil {
		return err
	}

	n.Logger.Info("dialing persistent peers", "peers", n.config.P2P.PersistentPeers)
	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}
	return nil
}

func (n *Node) OnStop() {
	for _, l := range n.rpcListeners {
		n.Logger.Info("closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			n.Logger.Error("error closing listener", "listener", l, "err", err)
		}
	}

	if err := n.hotstuff.Stop(); err != nil {
		n.Logger.Error("failed trying to stop hotstuff", "error", err)
	}

	if err := n.sw.Stop(); err != nil {
		n.Logger.Error("failed trying to stop switch", "error", err)
	}

	if err := n.transport.Close(); err != nil {
		n.Logger.Error("failed trying to close transport", "error", err)
	}

	if err := n.commitDB.Close(); err != nil {
		n.Logger.Error("failed trying to close commit db", "error", err)
	}
}

// startRPC 启动jsonrpc服务，客户端从这里exec_command
func (n *Node) startRPC() ([]net.Listener, error) {
	env := &rpc.Environment{
		CmdPool:  n.cmdPool,
		HotStuff: n.hotstuff,
		Logger:   n.Logger.With("module", "rpc"),
	}
	rpc.SetEnvironment(env)

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	listeners := make([]net.Listener, len(listenAddrs))

	for i, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		rpcLogger := n.Logger.With("module", "rpc-server")
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)

		config := rpcserver.DefaultConfig()
		listener, err := rpcserver.Listen(listenAddr, config)
		if err != nil {
			return nil, err
		}
		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
				rpcLogger.Error("rpc server stopped", "err", err)
			}
		}()
		listeners[i] = listener
	}
	return listeners, nil
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
