package detector

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"proxyaudit/internal/errors"
)

// BlockPair 交易所在区块及其前一区块
type BlockPair struct {
	Before uint64
	After  uint64
}

// BeforeNumber 前一区块高度
func (p BlockPair) BeforeNumber() *big.Int {
	return new(big.Int).SetUint64(p.Before)
}

// AfterNumber 交易所在区块高度
func (p BlockPair) AfterNumber() *big.Int {
	return new(big.Int).SetUint64(p.After)
}

// ResolveBlocks 根据交易回执确定对比的两个区块高度
//
// 高度必须至少为1，否则不存在可对比的前一区块。
func ResolveBlocks(ctx context.Context, reader ChainReader, txHash common.Hash) (BlockPair, error) {
	receipt, err := reader.TransactionReceipt(ctx, txHash)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return BlockPair{}, err
		}
		return BlockPair{}, errors.NewReceiptNotFound(txHash.Hex(), err)
	}
	if receipt == nil {
		return BlockPair{}, errors.NewReceiptNotFound(txHash.Hex(), nil)
	}

	height := receipt.BlockNumber
	if height == nil {
		return BlockPair{}, errors.NewInvalidBlockHeight(txHash.Hex(), 0)
	}
	if height.Sign() <= 0 || !height.IsUint64() {
		return BlockPair{}, errors.NewInvalidBlockHeight(txHash.Hex(), height.Int64())
	}

	h := height.Uint64()
	return BlockPair{Before: h - 1, After: h}, nil
}
