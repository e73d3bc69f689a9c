package shutdown

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderStopAcceptingRequests = 10 // 停止接受新请求
	OrderFlushOutputs          = 30 // 关闭结果输出
	OrderCloseJournal          = 50 // 关闭审计日志
	OrderCloseGateway          = 60 // 关闭节点连接
)

// Func 停机处理函数
type Func struct {
	Name  string
	Fn    func(ctx context.Context) error
	Order int
}

// Manager 优雅停机管理器
//
// 收到 SIGINT/SIGTERM 时取消根上下文；Shutdown 按顺序执行已注册的处理函数，只执行一次。
type Manager struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu    sync.Mutex
	funcs []Func
	once  sync.Once
	err   error

	ctx    context.Context
	cancel context.CancelFunc
	stop   context.CancelFunc
}

// NewManager 创建停机管理器并开始监听信号
func NewManager(parent context.Context, timeout time.Duration, logger *logrus.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}

	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithCancel(sigCtx)

	return &Manager{
		logger:  logger,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		stop:    stop,
	}
}

// Context 根上下文，收到停机信号后被取消
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register 注册停机处理函数
func (m *Manager) Register(name string, order int, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.funcs = append(m.funcs, Func{Name: name, Fn: fn, Order: order})
	m.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// RegisterCloser 注册只需要 Close 的资源
func (m *Manager) RegisterCloser(name string, order int, closer interface{ Close() error }) {
	m.Register(name, order, func(context.Context) error { return closer.Close() })
}

// Registered 已注册的处理函数名称，按执行顺序
func (m *Manager) Registered() []string {
	funcs := m.sorted()
	names := make([]string, len(funcs))
	for i, f := range funcs {
		names[i] = f.Name
	}
	return names
}

// Wait 阻塞直到收到停机信号或上下文被取消
func (m *Manager) Wait() {
	<-m.ctx.Done()
	m.logger.Info("收到停机信号")
}

// Shutdown 执行停机流程，返回所有处理函数的错误
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.run()
	})
	return m.err
}

func (m *Manager) sorted() []Func {
	m.mu.Lock()
	defer m.mu.Unlock()

	funcs := make([]Func, len(m.funcs))
	copy(funcs, m.funcs)
	sort.SliceStable(funcs, func(i, j int) bool { return funcs[i].Order < funcs[j].Order })
	return funcs
}

func (m *Manager) run() error {
	defer m.stop()
	defer m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	var errs []error
	for _, f := range m.sorted() {
		if ctx.Err() != nil {
			m.logger.Warnf("停机超时，跳过: %s", f.Name)
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		if err := f.Fn(ctx); err != nil {
			m.logger.Errorf("停机处理 '%s' 失败 (耗时: %v): %v", f.Name, time.Since(start), err)
			errs = append(errs, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}
		m.logger.Debugf("停机处理 '%s' 完成 (耗时: %v)", f.Name, time.Since(start))
	}

	return stderrors.Join(errs...)
}
