package models

import (
	"math/big"
	"time"
)

// TokenBalance 交易对中单个代币的余额
type TokenBalance struct {
	Address    string           `json:"address"`           // 代币合约地址
	Symbol     Optional[string] `json:"symbol"`            // 代币符号，缺失时为null
	Decimals   Optional[uint8]  `json:"decimals"`          // 精度，缺失时为null
	BalanceRaw string           `json:"balance_raw"`       // 原始余额（十进制字符串）
	Balance    string           `json:"balance,omitempty"` // 按精度换算后的余额，精度缺失时省略
}

// PoolReport 交易对余额报告
type PoolReport struct {
	Pair      string        `json:"pair"`
	Token0    *TokenBalance `json:"token0"`
	Token1    *TokenBalance `json:"token1"`
	CheckedAt time.Time     `json:"checked_at"` // 所有调用均针对最新区块
}

// NewTokenBalance 根据原始余额与精度构造代币余额
func NewTokenBalance(address string, symbol Optional[string], decimals Optional[uint8], raw *big.Int) *TokenBalance {
	if raw == nil {
		raw = new(big.Int)
	}
	tb := &TokenBalance{
		Address:    address,
		Symbol:     symbol,
		Decimals:   decimals,
		BalanceRaw: raw.String(),
	}
	if d, ok := decimals.Get(); ok {
		tb.Balance = ScaleBalance(raw, d)
	}
	return tb
}

// ScaleBalance 将原始余额按精度换算为十进制字符串，不经过浮点数
func ScaleBalance(raw *big.Int, decimals uint8) string {
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return new(big.Rat).SetFrac(raw, denom).FloatString(int(decimals))
}
