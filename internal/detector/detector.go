package detector

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/eip1967"
	"proxyaudit/internal/errors"
	"proxyaudit/internal/logging"
	"proxyaudit/pkg/models"
)

const component = "upgrade_detector"

// ChainReader 检测器需要的链上只读能力
type ChainReader interface {
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Keccak(data []byte) common.Hash
}

// Options 检测选项
type Options struct {
	ParallelReads bool   // 并发读取前后两个高度的实现槽
	Node          string // 节点名称，写入报告
}

// Detector 升级检测器
type Detector struct {
	reader  ChainReader
	options Options
	logger  *logrus.Logger
	now     func() time.Time
}

// New 创建检测器
func New(reader ChainReader, options Options, logger *logrus.Logger) *Detector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Detector{
		reader:  reader,
		options: options,
		logger:  logger,
		now:     time.Now,
	}
}

// Detect 判断交易是否改变了代理的实现地址
//
// 失败时不返回任何部分结论。
func (d *Detector) Detect(ctx context.Context, txHash common.Hash, proxy common.Address) (*models.UpgradeReport, error) {
	entry := logging.NewAuditEntry(d.logger, txHash.Hex(), proxy.Hex())

	pair, err := ResolveBlocks(ctx, d.reader, txHash)
	if err != nil {
		return nil, d.fail(entry, err, txHash)
	}
	entry = entry.WithFields(logrus.Fields{"block_before": pair.Before, "block_after": pair.After})
	entry.Debug("已解析交易区块")

	proxyCode, err := d.reader.CodeAt(ctx, proxy, nil)
	if err != nil {
		return nil, d.fail(entry, err, txHash)
	}
	if len(proxyCode) == 0 {
		return nil, d.fail(entry, errors.NewProxyNotAContract(proxy.Hex()), txHash)
	}

	impl, err := ReadPair(ctx, pair, d.options.ParallelReads, d.implementationAt(proxy))
	if err != nil {
		return nil, d.fail(entry, err, txHash)
	}

	report := &models.UpgradeReport{
		TransactionHash:        txHash.Hex(),
		Proxy:                  proxy.Hex(),
		BlockBefore:            pair.Before,
		BlockAfter:             pair.After,
		PreviousImplementation: impl.Before.Hex(),
		CurrentImplementation:  impl.After.Hex(),
		Node:                   d.options.Node,
		CheckedAt:              d.now().UTC(),
	}

	if !impl.Changed(sameAddress) {
		entry.WithField("implementation", impl.After.Hex()).Info("实现地址未变化")
		report.Verdict = models.NotUpgraded()
		return report, nil
	}

	if impl.After == eip1967.ZeroAddress {
		return nil, d.fail(entry, errors.NewUnexpectedZeroImplementation(proxy.Hex(), pair.After), txHash)
	}

	newCode, err := d.reader.CodeAt(ctx, impl.After, pair.AfterNumber())
	if err != nil {
		return nil, d.fail(entry, err, txHash)
	}
	if len(newCode) == 0 {
		return nil, d.fail(entry, errors.NewImplementationHasNoCode(impl.After.Hex(), pair.After), txHash)
	}

	cmp, err := CompareBytecode(ctx, d.reader, impl.Before, impl.After, pair.AfterNumber())
	if err != nil {
		return nil, d.fail(entry, err, txHash)
	}

	report.Verdict = models.Upgraded(impl.After.Hex(), hexutil.Encode(newCode), cmp.Changed())

	entry.WithFields(logrus.Fields{
		"previous_implementation": impl.Before.Hex(),
		"new_implementation":      impl.After.Hex(),
		"bytecode_changed":        cmp.Changed(),
	}).Info("检测到实现升级")

	return report, nil
}

func (d *Detector) implementationAt(proxy common.Address) ReadFunc[common.Address] {
	return func(ctx context.Context, height *big.Int) (common.Address, error) {
		word, err := d.reader.StorageAt(ctx, proxy, eip1967.ImplementationSlot, height)
		if err != nil {
			return common.Address{}, err
		}
		addr, err := eip1967.DecodeAddress(word)
		if err != nil {
			if auditErr, ok := errors.As(err); ok {
				auditErr.WithBlockNumber(height.Uint64())
			}
			return common.Address{}, err
		}
		return addr, nil
	}
}

func (d *Detector) fail(entry *logrus.Entry, err error, txHash common.Hash) error {
	if auditErr, ok := errors.As(err); ok {
		if auditErr.Component == "" {
			auditErr.WithComponent(component)
		}
		if auditErr.TxHash == nil {
			auditErr.WithTxHash(txHash.Hex())
		}
		entry.WithField("code", auditErr.Code).Debug("检测失败")
		return err
	}
	entry.WithError(err).Debug("检测失败")
	return err
}

// common.Address 的比较基于字节，与文本大小写无关
func sameAddress(a, b common.Address) bool {
	return a == b
}
