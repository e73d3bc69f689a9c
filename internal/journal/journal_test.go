package journal

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyaudit/pkg/models"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	logger, _ := test.NewNullLogger()
	j, err := Open(filepath.Join(t.TempDir(), "nested", "journal.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func report(i int, upgraded bool) *models.UpgradeReport {
	r := &models.UpgradeReport{
		TransactionHash: fmt.Sprintf("0x%064x", i),
		Proxy:           "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		BlockBefore:     uint64(i),
		BlockAfter:      uint64(i + 1),
		CheckedAt:       time.Unix(1700000000+int64(i), 0).UTC(),
		Verdict:         models.NotUpgraded(),
	}
	if upgraded {
		r.Verdict = models.Upgraded("0xB7277a6e95992041568D9391D09d0122023778A2", "0x60", true)
	}
	return r
}

func TestJournal_ListNewestFirst(t *testing.T) {
	j := openTestJournal(t)

	for i := 1; i <= 5; i++ {
		require.NoError(t, j.Record(report(i, i%2 == 0)))
	}

	all, err := j.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, uint64(6), all[0].BlockAfter)
	assert.Equal(t, uint64(2), all[4].BlockAfter)

	latest, err := j.List(2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, report(5, false).TransactionHash, latest[0].TransactionHash)
	assert.Equal(t, report(4, false).TransactionHash, latest[1].TransactionHash)
	assert.True(t, latest[1].Verdict.Upgraded)
}

func TestJournal_Stats(t *testing.T) {
	j := openTestJournal(t)

	stats, err := j.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)

	require.NoError(t, j.Record(report(1, true)))
	require.NoError(t, j.Record(report(2, false)))
	require.NoError(t, j.Record(nil))

	stats, err = j.Stats()
	require.NoError(t, err)
	assert.Equal(t, Stats{Total: 2, Upgraded: 1}, stats)
}

func TestJournal_PersistsAcrossReopen(t *testing.T) {
	logger, _ := test.NewNullLogger()
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, j.Record(report(1, true)))
	require.NoError(t, j.Close())

	j, err = Open(path, logger)
	require.NoError(t, err)
	defer j.Close()

	reports, err := j.List(10)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, path, j.Path())
}

func TestReportKey_OrdersByTime(t *testing.T) {
	earlier := reportKey(report(1, false))
	later := reportKey(report(2, false))
	assert.Less(t, string(earlier), string(later))
}
