package detector

import (
	"context"
	stderrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyaudit/internal/eip1967"
	"proxyaudit/internal/errors"
)

var (
	testTx    = common.HexToHash("0x5c504ed432cb51138bcf09aa5e8a410dd4a1e204ef84bfed1be16dfba1b22060")
	testProxy = common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")
	implX     = common.HexToAddress("0x43506849d7c04f9138d1a2050bbf3a0c054402dd")
	implY     = common.HexToAddress("0xb7277a6e95992041568d9391d09d0122023778a2")
)

// fakeChain 内存中的链状态
type fakeChain struct {
	mu          sync.Mutex
	receipt     *types.Receipt
	receiptErr  error
	slots       map[uint64][]byte
	code        map[common.Address][]byte
	storageErr  error
	storageRead int
	codeRead    int
}

func newFakeChain(height int64) *fakeChain {
	return &fakeChain{
		receipt: &types.Receipt{BlockNumber: big.NewInt(height)},
		slots:   make(map[uint64][]byte),
		code: map[common.Address][]byte{
			testProxy: {0x60, 0x80, 0x60, 0x40},
		},
	}
}

func (f *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codeRead++
	return f.code[account], nil
}

func (f *fakeChain) StorageAt(ctx context.Context, account common.Address, key common.Hash, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storageRead++
	if f.storageErr != nil {
		return nil, f.storageErr
	}
	if key != eip1967.ImplementationSlot {
		return make([]byte, 32), nil
	}
	return f.slots[blockNumber.Uint64()], nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeChain) Keccak(data []byte) common.Hash {
	return crypto.Keccak256Hash(data)
}

func (f *fakeChain) setImplementation(height uint64, addr common.Address) {
	f.slots[height] = eip1967.EncodeAddress(addr)
}

func newTestDetector(reader ChainReader, parallel bool) *Detector {
	logger, _ := test.NewNullLogger()
	d := New(reader, Options{ParallelReads: parallel, Node: "test"}, logger)
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func TestDetect_NoUpgrade(t *testing.T) {
	for _, parallel := range []bool{false, true} {
		chain := newFakeChain(100)
		chain.setImplementation(99, implX)
		chain.setImplementation(100, implX)

		report, err := newTestDetector(chain, parallel).Detect(context.Background(), testTx, testProxy)
		require.NoError(t, err)

		assert.False(t, report.Verdict.Upgraded)
		assert.Empty(t, report.Verdict.NewImplementationAddress)
		assert.Empty(t, report.Verdict.NewImplementationBytecode)
		assert.Nil(t, report.Verdict.BytecodeChanged)
		assert.Equal(t, uint64(99), report.BlockBefore)
		assert.Equal(t, uint64(100), report.BlockAfter)
		assert.Equal(t, 2, chain.storageRead)
	}
}

func TestDetect_NoUpgradeWhenSlotEmptyAtBothHeights(t *testing.T) {
	chain := newFakeChain(100)

	report, err := newTestDetector(chain, false).Detect(context.Background(), testTx, testProxy)
	require.NoError(t, err)
	assert.False(t, report.Verdict.Upgraded)
	assert.Equal(t, eip1967.ZeroAddress.Hex(), report.CurrentImplementation)
}

func TestDetect_Upgrade(t *testing.T) {
	codeX := []byte{0x60, 0x80, 0x01}
	codeY := []byte{0x60, 0x80, 0x02, 0x03}

	for _, parallel := range []bool{false, true} {
		chain := newFakeChain(100)
		chain.setImplementation(99, implX)
		chain.setImplementation(100, implY)
		chain.code[implX] = codeX
		chain.code[implY] = codeY

		report, err := newTestDetector(chain, parallel).Detect(context.Background(), testTx, testProxy)
		require.NoError(t, err)

		v := report.Verdict
		assert.True(t, v.Upgraded)
		assert.Equal(t, implY.Hex(), v.NewImplementationAddress)
		assert.Equal(t, hexutil.Encode(codeY), v.NewImplementationBytecode)
		require.NotNil(t, v.BytecodeChanged)
		assert.True(t, *v.BytecodeChanged)
		assert.Equal(t, implX.Hex(), report.PreviousImplementation)
		assert.Equal(t, "test", report.Node)
	}
}

func TestDetect_UpgradeWithIdenticalBytecode(t *testing.T) {
	code := []byte{0x60, 0x80, 0x60, 0x40, 0x52}
	chain := newFakeChain(100)
	chain.setImplementation(99, implX)
	chain.setImplementation(100, implY)
	chain.code[implX] = code
	chain.code[implY] = append([]byte(nil), code...)

	report, err := newTestDetector(chain, false).Detect(context.Background(), testTx, testProxy)
	require.NoError(t, err)

	assert.True(t, report.Verdict.Upgraded)
	require.NotNil(t, report.Verdict.BytecodeChanged)
	assert.False(t, *report.Verdict.BytecodeChanged)
}

func TestDetect_InitialImplementationCountsAsUpgrade(t *testing.T) {
	chain := newFakeChain(100)
	chain.setImplementation(100, implY)
	chain.code[implY] = []byte{0x01}

	report, err := newTestDetector(chain, false).Detect(context.Background(), testTx, testProxy)
	require.NoError(t, err)
	assert.True(t, report.Verdict.Upgraded)
	assert.True(t, *report.Verdict.BytecodeChanged)
}

func TestDetect_ZeroHeightFailsBeforeStorageRead(t *testing.T) {
	chain := newFakeChain(0)

	report, err := newTestDetector(chain, false).Detect(context.Background(), testTx, testProxy)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidBlockHeight))
	assert.Equal(t, 0, chain.storageRead)
	assert.Equal(t, 0, chain.codeRead)
}

func TestDetect_ZeroImplementationIsAnomaly(t *testing.T) {
	chain := newFakeChain(100)
	chain.setImplementation(99, implX)
	chain.setImplementation(100, eip1967.ZeroAddress)
	chain.code[implX] = []byte{0x01}

	report, err := newTestDetector(chain, false).Detect(context.Background(), testTx, testProxy)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnexpectedZeroImplementation))
}

func TestDetect_Failures(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*fakeChain)
		wantType errors.ErrorType
		wantCode string
	}{
		{
			name:     "回执不存在",
			setup:    func(c *fakeChain) { c.receipt, c.receiptErr = nil, ethereum.NotFound },
			wantType: errors.ErrorTypeReceiptNotFound,
			wantCode: errors.CodeReceiptNotFound,
		},
		{
			name:     "回执为空",
			setup:    func(c *fakeChain) { c.receipt = nil },
			wantType: errors.ErrorTypeReceiptNotFound,
			wantCode: errors.CodeReceiptNotFound,
		},
		{
			name:     "区块号缺失",
			setup:    func(c *fakeChain) { c.receipt = &types.Receipt{} },
			wantType: errors.ErrorTypeInvalidBlockHeight,
			wantCode: errors.CodeInvalidBlockHeight,
		},
		{
			name:     "负高度",
			setup:    func(c *fakeChain) { c.receipt = &types.Receipt{BlockNumber: big.NewInt(-1)} },
			wantType: errors.ErrorTypeInvalidBlockHeight,
			wantCode: errors.CodeInvalidBlockHeight,
		},
		{
			name:     "代理没有代码",
			setup:    func(c *fakeChain) { delete(c.code, testProxy) },
			wantType: errors.ErrorTypeNotAContract,
			wantCode: errors.CodeProxyNoCode,
		},
		{
			name: "新实现没有代码",
			setup: func(c *fakeChain) {
				c.setImplementation(99, implX)
				c.setImplementation(100, implY)
			},
			wantType: errors.ErrorTypeNotAContract,
			wantCode: errors.CodeImplementationNoCode,
		},
		{
			name:     "存储字长度异常",
			setup:    func(c *fakeChain) { c.slots[100] = make([]byte, 20) },
			wantType: errors.ErrorTypeMalformedStorageWord,
			wantCode: errors.CodeMalformedStorageWord,
		},
		{
			name: "存储读取失败",
			setup: func(c *fakeChain) {
				c.storageErr = errors.NewConnectivityError("节点请求失败", stderrors.New("connection refused"))
			},
			wantType: errors.ErrorTypeConnectivity,
			wantCode: errors.CodeConnectionFailed,
		},
	}

	for _, tt := range tests {
		for _, parallel := range []bool{false, true} {
			t.Run(tt.name, func(t *testing.T) {
				chain := newFakeChain(100)
				tt.setup(chain)

				report, err := newTestDetector(chain, parallel).Detect(context.Background(), testTx, testProxy)
				require.Error(t, err)
				assert.Nil(t, report)

				auditErr, ok := errors.As(err)
				require.True(t, ok)
				assert.Equal(t, tt.wantType, auditErr.Type)
				assert.Equal(t, tt.wantCode, auditErr.Code)
				assert.Equal(t, component, auditErr.Component)
				require.NotNil(t, auditErr.TxHash)
				assert.Equal(t, testTx.Hex(), *auditErr.TxHash)
			})
		}
	}
}

func TestResolveBlocks(t *testing.T) {
	chain := newFakeChain(1)

	pair, err := ResolveBlocks(context.Background(), chain, testTx)
	require.NoError(t, err)
	assert.Equal(t, BlockPair{Before: 0, After: 1}, pair)
	assert.Equal(t, uint64(0), pair.BeforeNumber().Uint64())
	assert.Equal(t, uint64(1), pair.AfterNumber().Uint64())
}

func TestReadPair_PropagatesError(t *testing.T) {
	boom := stderrors.New("boom")
	pair := BlockPair{Before: 9, After: 10}

	for _, parallel := range []bool{false, true} {
		_, err := ReadPair(context.Background(), pair, parallel, func(ctx context.Context, h *big.Int) (int, error) {
			if h.Uint64() == 10 {
				return 0, boom
			}
			return 1, nil
		})
		assert.ErrorIs(t, err, boom)
	}
}

func TestReadPair_ReadsBothHeights(t *testing.T) {
	pair := BlockPair{Before: 9, After: 10}

	for _, parallel := range []bool{false, true} {
		snap, err := ReadPair(context.Background(), pair, parallel, func(ctx context.Context, h *big.Int) (uint64, error) {
			return h.Uint64() * 2, nil
		})
		require.NoError(t, err)
		assert.Equal(t, uint64(18), snap.Before)
		assert.Equal(t, uint64(20), snap.After)
		assert.True(t, snap.Changed(func(a, b uint64) bool { return a == b }))
	}
}

func TestCompareBytecode(t *testing.T) {
	chain := newFakeChain(10)
	chain.code[implX] = []byte{0xaa}
	chain.code[implY] = []byte{0xaa}

	cmp, err := CompareBytecode(context.Background(), chain, implX, implY, big.NewInt(10))
	require.NoError(t, err)
	assert.False(t, cmp.Changed())
	assert.Equal(t, crypto.Keccak256Hash([]byte{0xaa}), cmp.AfterHash)

	chain.code[implY] = []byte{0xab}
	cmp, err = CompareBytecode(context.Background(), chain, implX, implY, big.NewInt(10))
	require.NoError(t, err)
	assert.True(t, cmp.Changed())
	assert.Equal(t, []byte{0xab}, cmp.AfterCode)
}
