package detector

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BytecodeComparison 新旧实现合约的字节码对比结果
type BytecodeComparison struct {
	BeforeHash common.Hash
	AfterHash  common.Hash
	AfterCode  []byte
}

// Changed 字节码哈希是否不同
func (c BytecodeComparison) Changed() bool {
	return !strings.EqualFold(c.BeforeHash.Hex(), c.AfterHash.Hex())
}

// CompareBytecode 在同一高度读取两个实现地址的字节码并比较内容哈希
func CompareBytecode(ctx context.Context, reader ChainReader, before, after common.Address, height *big.Int) (BytecodeComparison, error) {
	beforeCode, err := reader.CodeAt(ctx, before, height)
	if err != nil {
		return BytecodeComparison{}, err
	}
	afterCode, err := reader.CodeAt(ctx, after, height)
	if err != nil {
		return BytecodeComparison{}, err
	}

	return BytecodeComparison{
		BeforeHash: reader.Keccak(beforeCode),
		AfterHash:  reader.Keccak(afterCode),
		AfterCode:  afterCode,
	}, nil
}
