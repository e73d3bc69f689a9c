package journal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"proxyaudit/internal/errors"
	"proxyaudit/pkg/models"
)

const (
	// 默认数据库路径
	DefaultDBPath = "./data/journal.db"

	// 存储桶名称
	UpgradeBucket = "upgrade_reports"
	StatsBucket   = "stats"

	// 统计键
	totalKey    = "total"
	upgradedKey = "upgraded"
)

// Stats 审计日志统计
type Stats struct {
	Total    uint64 `json:"total"`
	Upgraded uint64 `json:"upgraded"`
}

// Journal 基于bbolt的审计日志
type Journal struct {
	db     *bolt.DB
	logger *logrus.Logger
	dbPath string
}

// Open 打开或创建审计日志
func Open(dbPath string, logger *logrus.Logger) (*Journal, error) {
	if dbPath == "" {
		dbPath = DefaultDBPath
	}
	if logger == nil {
		logger = logrus.New()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, storageError("创建数据目录失败", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, storageError("打开审计日志失败", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{UpgradeBucket, StatsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("创建存储桶 %s 失败: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, storageError("初始化审计日志失败", err)
	}

	logger.Debugf("审计日志已打开: %s", dbPath)
	return &Journal{db: db, logger: logger, dbPath: dbPath}, nil
}

// reportKey 检测时间（纳秒，大端序）加交易哈希，按时间有序
func reportKey(report *models.UpgradeReport) []byte {
	key := make([]byte, 8, 8+len(report.TransactionHash))
	binary.BigEndian.PutUint64(key, uint64(report.CheckedAt.UnixNano()))
	return append(key, report.TransactionHash...)
}

// Record 追加一条升级检测报告
func (j *Journal) Record(report *models.UpgradeReport) error {
	if report == nil {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return storageError("序列化报告失败", err)
	}

	err = j.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(UpgradeBucket)).Put(reportKey(report), data); err != nil {
			return err
		}
		stats := tx.Bucket([]byte(StatsBucket))
		if err := increment(stats, totalKey); err != nil {
			return err
		}
		if report.Verdict != nil && report.Verdict.Upgraded {
			return increment(stats, upgradedKey)
		}
		return nil
	})
	if err != nil {
		return storageError("写入审计日志失败", err)
	}
	return nil
}

// List 按时间倒序返回最近的报告，limit <= 0 表示全部
func (j *Journal) List(limit int) ([]*models.UpgradeReport, error) {
	var reports []*models.UpgradeReport

	err := j.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(UpgradeBucket)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(reports) >= limit {
				break
			}
			var report models.UpgradeReport
			if err := json.Unmarshal(v, &report); err != nil {
				j.logger.Warnf("跳过无法解析的审计记录: %v", err)
				continue
			}
			reports = append(reports, &report)
		}
		return nil
	})
	if err != nil {
		return nil, storageError("读取审计日志失败", err)
	}
	return reports, nil
}

// Stats 返回统计信息
func (j *Journal) Stats() (Stats, error) {
	var stats Stats
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(StatsBucket))
		stats.Total = readCounter(b, totalKey)
		stats.Upgraded = readCounter(b, upgradedKey)
		return nil
	})
	if err != nil {
		return Stats{}, storageError("读取审计统计失败", err)
	}
	return stats, nil
}

// Path 数据库路径
func (j *Journal) Path() string {
	return j.dbPath
}

// Close 关闭数据库
func (j *Journal) Close() error {
	return j.db.Close()
}

func increment(b *bolt.Bucket, key string) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, readCounter(b, key)+1)
	return b.Put([]byte(key), buf)
}

func readCounter(b *bolt.Bucket, key string) uint64 {
	if data := b.Get([]byte(key)); len(data) == 8 {
		return binary.BigEndian.Uint64(data)
	}
	return 0
}

func storageError(message string, err error) *errors.AuditError {
	return errors.WrapError(err, errors.ErrorTypeStorage, errors.SeverityMedium, errors.CodeJournalFailed, message)
}
