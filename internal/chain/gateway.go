package chain

import (
	"context"
	stderrors "errors"
	"math/big"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/errors"
)

// Backend 网关依赖的 ethclient 方法子集
type Backend interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// 方法名，用于调用计数与日志
const (
	MethodCodeAt       = "eth_getCode"
	MethodStorageAt    = "eth_getStorageAt"
	MethodReceipt      = "eth_getTransactionReceipt"
	MethodCallContract = "eth_call"
)

// Gateway 只读链网关
type Gateway struct {
	backend Backend
	node    string
	logger  *logrus.Logger
	calls   map[string]*atomic.Int64 // 创建后只读
	closer  func()
}

// NewGateway 创建网关，node 为节点名称，仅用于日志与报告
func NewGateway(backend Backend, node string, logger *logrus.Logger) *Gateway {
	if logger == nil {
		logger = logrus.New()
	}
	calls := make(map[string]*atomic.Int64, 4)
	for _, m := range []string{MethodCodeAt, MethodStorageAt, MethodReceipt, MethodCallContract} {
		calls[m] = new(atomic.Int64)
	}
	g := &Gateway{
		backend: backend,
		node:    node,
		logger:  logger,
		calls:   calls,
	}
	if c, ok := backend.(interface{ Close() }); ok {
		g.closer = c.Close
	}
	return g
}

// Node 返回节点名称
func (g *Gateway) Node() string {
	return g.node
}

// CodeAt 读取地址在指定高度的字节码，blockNumber 为 nil 表示最新区块
func (g *Gateway) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	g.record(MethodCodeAt, blockNumber, account)
	code, err := g.backend.CodeAt(ctx, account, blockNumber)
	if err != nil {
		return nil, g.classify(MethodCodeAt, err)
	}
	return code, nil
}

// StorageAt 读取存储字
func (g *Gateway) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	g.record(MethodStorageAt, blockNumber, account)
	word, err := g.backend.StorageAt(ctx, account, key, blockNumber)
	if err != nil {
		return nil, g.classify(MethodStorageAt, err)
	}
	return word, nil
}

// TransactionReceipt 获取交易回执，交易不存在时返回 ReceiptNotFound
func (g *Gateway) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	g.record(MethodReceipt, nil, common.Address{})
	receipt, err := g.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		if stderrors.Is(err, ethereum.NotFound) {
			return nil, errors.NewReceiptNotFound(txHash.Hex(), err)
		}
		return nil, g.classify(MethodReceipt, err)
	}
	if receipt == nil {
		return nil, errors.NewReceiptNotFound(txHash.Hex(), nil)
	}
	return receipt, nil
}

// CallContract 执行只读调用；合约回滚原样返回，由调用方决定如何处理
func (g *Gateway) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	var to common.Address
	if call.To != nil {
		to = *call.To
	}
	g.record(MethodCallContract, blockNumber, to)
	out, err := g.backend.CallContract(ctx, call, blockNumber)
	if err != nil {
		if IsRevert(err) {
			return nil, err
		}
		return nil, g.classify(MethodCallContract, err)
	}
	return out, nil
}

// Keccak 内容哈希
func (g *Gateway) Keccak(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

// CallCounts 返回各方法的调用次数
func (g *Gateway) CallCounts() map[string]int64 {
	counts := make(map[string]int64, len(g.calls))
	for m, c := range g.calls {
		counts[m] = c.Load()
	}
	return counts
}

// Close 关闭底层客户端
func (g *Gateway) Close() error {
	if g.closer != nil {
		g.closer()
	}
	return nil
}

func (g *Gateway) record(method string, blockNumber *big.Int, account common.Address) {
	g.calls[method].Add(1)

	if g.logger.IsLevelEnabled(logrus.DebugLevel) {
		block := "latest"
		if blockNumber != nil {
			block = blockNumber.String()
		}
		g.logger.WithFields(logrus.Fields{
			"method":  method,
			"node":    g.node,
			"block":   block,
			"account": account.Hex(),
		}).Debug("链上读取")
	}
}

func (g *Gateway) classify(method string, err error) error {
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewConnectivityError("请求被取消或超时", err).
			WithContext("method", method).
			WithContext("node", g.node)
	}
	return errors.NewConnectivityError("节点请求失败", err).
		WithContext("method", method).
		WithContext("node", g.node)
}

// IsRevert 判断错误是否为合约执行回滚
func IsRevert(err error) bool {
	if err == nil {
		return false
	}
	var dataErr rpc.DataError
	if stderrors.As(err, &dataErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "invalid opcode")
}
