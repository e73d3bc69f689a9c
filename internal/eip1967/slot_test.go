package eip1967

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyaudit/internal/errors"
)

func TestImplementationSlot_IsFixedConstant(t *testing.T) {
	expected := common.HexToHash("0x360894a13ba1a3210667c828492db98dca3e2076cc3735a920a3ca505d382bbc")

	assert.Equal(t, expected, ImplementationSlot)
	assert.Equal(t, expected, DeriveSlot(ImplementationLabel))
}

func TestDeriveSlot_OtherLabels(t *testing.T) {
	// 管理员槽与信标槽使用同样的推导规则
	assert.Equal(t,
		common.HexToHash("0xb53127684a568b3173ae13b9f8a6016e243e63b6e8ee1178d6a717850b5d6103"),
		DeriveSlot("eip1967.proxy.admin"))
	assert.Equal(t,
		common.HexToHash("0xa3f0ad74e5423aebfd80d3ef4346578335a9a72aeaee59ff6cb3582b35133d50"),
		DeriveSlot("eip1967.proxy.beacon"))
}

func TestDecodeAddress_RoundTrip(t *testing.T) {
	addresses := []common.Address{
		common.HexToAddress("0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11"),
		common.HexToAddress("0x0000000000000000000000000000000000000001"),
		common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff"),
		common.HexToAddress("0x00000000006c3852cbEf3e08E8df289169ede581"),
	}

	for _, addr := range addresses {
		word := EncodeAddress(addr)
		require.Len(t, word, WordLength)

		got, err := DecodeAddress(word)
		require.NoError(t, err)
		assert.Equal(t, addr, got)
		assert.Equal(t, addr.Hex(), got.Hex())
	}
}

func TestDecodeAddress_ZeroWordPolicy(t *testing.T) {
	got, err := DecodeAddress(nil)
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, got)

	got, err = DecodeAddress([]byte{})
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, got)

	got, err = DecodeAddress(make([]byte, WordLength))
	require.NoError(t, err)
	assert.Equal(t, ZeroAddress, got)
}

func TestDecodeAddress_TakesLowOrderBytes(t *testing.T) {
	word := bytes.Repeat([]byte{0xee}, 12)
	word = append(word, common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes()...)

	got, err := DecodeAddress(word)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), got)
}

func TestDecodeAddress_RejectsOtherLengths(t *testing.T) {
	for _, n := range []int{1, 20, 31, 33, 64} {
		_, err := DecodeAddress(make([]byte, n))
		require.Error(t, err, "长度 %d 应当失败", n)
		assert.True(t, errors.IsType(err, errors.ErrorTypeMalformedStorageWord))
	}
}
