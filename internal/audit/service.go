package audit

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"proxyaudit/internal/detector"
	"proxyaudit/internal/errors"
	"proxyaudit/internal/journal"
	"proxyaudit/internal/output"
	"proxyaudit/internal/pool"
	"proxyaudit/pkg/models"
)

// Reader 检测与交易对查询共同需要的链上只读能力
type Reader interface {
	detector.ChainReader
	pool.Caller
}

// History 审计历史记录
type History interface {
	Record(report *models.UpgradeReport) error
	List(limit int) ([]*models.UpgradeReport, error)
	Stats() (journal.Stats, error)
}

// Options 服务选项
type Options struct {
	Node          string
	ParallelReads bool
	Timeout       time.Duration // 单次操作超时，0表示不限制
}

// Service 审计服务
type Service struct {
	detector  *detector.Detector
	inspector *pool.Inspector
	output    output.Output
	history   History
	errors    *errors.ErrorHandler
	logger    *logrus.Logger
	timeout   time.Duration
}

// NewService 创建审计服务，out 与 history 可以为 nil
func NewService(reader Reader, opts Options, out output.Output, history History, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	if out == nil {
		out = output.NopOutput{}
	}
	return &Service{
		detector:  detector.New(reader, detector.Options{ParallelReads: opts.ParallelReads, Node: opts.Node}, logger),
		inspector: pool.NewInspector(reader, logger),
		output:    out,
		history:   history,
		errors:    errors.NewErrorHandler(logger),
		logger:    logger,
		timeout:   opts.Timeout,
	}
}

// AuditUpgrade 检测交易是否升级了代理的实现合约
//
// 输出与审计日志的失败只记录警告，不影响检测结论。
func (s *Service) AuditUpgrade(ctx context.Context, txHash common.Hash, proxy common.Address) (*models.UpgradeReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	report, err := s.detector.Detect(ctx, txHash, proxy)
	if err != nil {
		s.errors.HandleError(err)
		return nil, err
	}

	if err := s.output.WriteUpgradeReport(report); err != nil {
		s.logger.Warnf("写入升级报告失败: %v", err)
	}
	if s.history != nil {
		if err := s.history.Record(report); err != nil {
			s.logger.Warnf("写入审计日志失败: %v", err)
		}
	}
	return report, nil
}

// InspectPool 查询交易对余额
func (s *Service) InspectPool(ctx context.Context, pair common.Address) (*models.PoolReport, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	report, err := s.inspector.Inspect(ctx, pair)
	if err != nil {
		s.errors.HandleError(err)
		return nil, err
	}

	if err := s.output.WritePoolReport(report); err != nil {
		s.logger.Warnf("写入交易对报告失败: %v", err)
	}
	return report, nil
}

// History 返回最近的审计记录，未启用审计日志时返回 nil
func (s *Service) History(limit int) ([]*models.UpgradeReport, error) {
	if s.history == nil {
		return nil, nil
	}
	return s.history.List(limit)
}

// HistoryStats 审计日志统计，未启用时返回零值
func (s *Service) HistoryStats() (journal.Stats, error) {
	if s.history == nil {
		return journal.Stats{}, nil
	}
	return s.history.Stats()
}

// HistoryEnabled 是否启用了审计日志
func (s *Service) HistoryEnabled() bool {
	return s.history != nil
}

// ErrorStats 错误统计快照
func (s *Service) ErrorStats() errors.ErrorStats {
	return s.errors.GetStats()
}

// OnError 注册失败回调，每次检测或查询失败时调用
func (s *Service) OnError(cb errors.ErrorCallback) {
	s.errors.AddCallback(cb)
}

// ClearErrorStats 清空错误统计
func (s *Service) ClearErrorStats() {
	s.errors.ClearStats()
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(ctx, s.timeout)
	}
	return context.WithCancel(ctx)
}
