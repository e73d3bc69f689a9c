package eip1967

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"proxyaudit/internal/errors"
)

// ImplementationLabel 实现槽的标签
const ImplementationLabel = "eip1967.proxy.implementation"

// WordLength 存储字长度
const WordLength = 32

// ImplementationSlot 实现槽位置，进程启动时计算一次
var ImplementationSlot = DeriveSlot(ImplementationLabel)

// ZeroAddress 表示未设置实现合约
var ZeroAddress = common.Address{}

// DeriveSlot 计算 bytes32(uint256(keccak256(label)) - 1)
func DeriveSlot(label string) common.Hash {
	digest := crypto.Keccak256([]byte(label))

	v := new(uint256.Int).SetBytes(digest)
	v.Sub(v, uint256.NewInt(1))

	return common.Hash(v.Bytes32())
}

// DecodeAddress 将存储字解码为地址
//
// 空字或全零字解码为零地址；32字节的字取低20字节；
// 其他长度视为网关或链的缺陷，返回 MalformedStorageWord 错误。
func DecodeAddress(word []byte) (common.Address, error) {
	switch len(word) {
	case 0:
		return ZeroAddress, nil
	case WordLength:
		return common.BytesToAddress(word[WordLength-common.AddressLength:]), nil
	default:
		return ZeroAddress, errors.NewMalformedStorageWord(len(word))
	}
}

// EncodeAddress 将地址左填充为32字节存储字
func EncodeAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), WordLength)
}
