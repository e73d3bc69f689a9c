package pool

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/chain"
	"proxyaudit/internal/errors"
	"proxyaudit/internal/logging"
	"proxyaudit/pkg/models"
)

const component = "pool_inspector"

// Caller 交易对查询需要的链上只读能力
type Caller interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Inspector 交易对余额查询器
type Inspector struct {
	caller Caller
	logger *logrus.Logger
	now    func() time.Time
}

// NewInspector 创建查询器
func NewInspector(caller Caller, logger *logrus.Logger) *Inspector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Inspector{caller: caller, logger: logger, now: time.Now}
}

// Inspect 查询交易对两个代币的余额与元数据，读取最新状态
func (i *Inspector) Inspect(ctx context.Context, pair common.Address) (*models.PoolReport, error) {
	entry := logging.NewPoolEntry(i.logger, pair.Hex())

	code, err := i.caller.CodeAt(ctx, pair, nil)
	if err != nil {
		return nil, i.fail(err)
	}
	if len(code) == 0 || bytes.Equal(code, []byte{0x00}) {
		return nil, i.fail(errors.NewPairNotAContract(pair.Hex()))
	}

	token0, err := i.pairToken(ctx, pair, "token0")
	if err != nil {
		return nil, i.fail(err)
	}
	token1, err := i.pairToken(ctx, pair, "token1")
	if err != nil {
		return nil, i.fail(err)
	}
	entry.WithFields(logrus.Fields{"token0": token0.Hex(), "token1": token1.Hex()}).Debug("已解析交易对代币")

	tb0, err := i.tokenBalance(ctx, pair, token0)
	if err != nil {
		return nil, i.fail(err)
	}
	tb1, err := i.tokenBalance(ctx, pair, token1)
	if err != nil {
		return nil, i.fail(err)
	}

	entry.Info("交易对余额查询完成")

	return &models.PoolReport{
		Pair:      pair.Hex(),
		Token0:    tb0,
		Token1:    tb1,
		CheckedAt: i.now().UTC(),
	}, nil
}

func (i *Inspector) pairToken(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	out, err := i.call(ctx, pair, pairABI, method)
	if err != nil {
		if chain.IsRevert(err) {
			return common.Address{}, errors.NewNotAPool(pair.Hex(), err).WithContext("method", method)
		}
		return common.Address{}, err
	}

	values, err := pairABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return common.Address{}, errors.NewNotAPool(pair.Hex(), err).WithContext("method", method)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, errors.NewNotAPool(pair.Hex(), nil).WithContext("method", method)
	}
	return addr, nil
}

func (i *Inspector) tokenBalance(ctx context.Context, pair, token common.Address) (*models.TokenBalance, error) {
	raw, err := i.balanceOf(ctx, token, pair)
	if err != nil {
		return nil, err
	}
	symbol, err := i.symbol(ctx, token)
	if err != nil {
		return nil, err
	}
	decimals, err := i.decimals(ctx, token)
	if err != nil {
		return nil, err
	}
	return models.NewTokenBalance(token.Hex(), symbol, decimals, raw), nil
}

func (i *Inspector) balanceOf(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	out, err := i.call(ctx, token, erc20ABI, "balanceOf", owner)
	if err != nil {
		if chain.IsRevert(err) {
			return nil, errors.NewNotAPool(owner.Hex(), err).WithContext("token", token.Hex())
		}
		return nil, err
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(values) != 1 {
		return nil, errors.NewNotAPool(owner.Hex(), fmt.Errorf("balanceOf 返回值无法解码: %w", err)).
			WithContext("token", token.Hex())
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return nil, errors.NewNotAPool(owner.Hex(), nil).WithContext("token", token.Hex())
	}
	return balance, nil
}

// symbol 回滚、空返回或无法解码时视为缺失，其他错误向上传递
func (i *Inspector) symbol(ctx context.Context, token common.Address) (models.Optional[string], error) {
	out, err := i.call(ctx, token, erc20ABI, "symbol")
	if err != nil {
		if chain.IsRevert(err) {
			return models.Absent[string](), nil
		}
		return models.Absent[string](), err
	}
	if len(out) == 0 {
		return models.Absent[string](), nil
	}

	if values, err := erc20ABI.Unpack("symbol", out); err == nil && len(values) == 1 {
		if s, ok := values[0].(string); ok && utf8.ValidString(s) {
			return models.Present(s), nil
		}
	}

	if values, err := erc20Bytes32ABI.Unpack("symbol", out); err == nil && len(values) == 1 {
		if word, ok := values[0].([32]byte); ok {
			s := string(bytes.TrimRight(word[:], "\x00"))
			if s != "" && utf8.ValidString(s) {
				return models.Present(s), nil
			}
		}
	}

	return models.Absent[string](), nil
}

// decimals 回滚、空返回或无法解码时视为缺失，其他错误向上传递
func (i *Inspector) decimals(ctx context.Context, token common.Address) (models.Optional[uint8], error) {
	out, err := i.call(ctx, token, erc20ABI, "decimals")
	if err != nil {
		if chain.IsRevert(err) {
			return models.Absent[uint8](), nil
		}
		return models.Absent[uint8](), err
	}
	if len(out) == 0 {
		return models.Absent[uint8](), nil
	}

	values, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(values) != 1 {
		return models.Absent[uint8](), nil
	}
	d, ok := values[0].(uint8)
	if !ok {
		return models.Absent[uint8](), nil
	}
	return models.Present(d), nil
}

func (i *Inspector) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...interface{}) ([]byte, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	return i.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
}

func (i *Inspector) fail(err error) error {
	if auditErr, ok := errors.As(err); ok && auditErr.Component == "" {
		auditErr.WithComponent(component)
	}
	return err
}
