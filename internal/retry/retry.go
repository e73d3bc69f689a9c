package retry

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Policy 退避策略
type Policy struct {
	MaxAttempts     int           `json:"max_attempts"`     // 最大尝试次数
	InitialInterval time.Duration `json:"initial_interval"` // 初始间隔
	MaxInterval     time.Duration `json:"max_interval"`     // 最大间隔
	BackoffFactor   float64       `json:"backoff_factor"`   // 退避因子
	Jitter          float64       `json:"jitter"`           // 抖动比例，0表示关闭
}

// DialPolicy 节点拨号探测使用的策略，默认只探测一次
var DialPolicy = Policy{
	MaxAttempts:     1,
	InitialInterval: 250 * time.Millisecond,
	MaxInterval:     5 * time.Second,
	BackoffFactor:   2.0,
	Jitter:          0.2,
}

// PolicyWithAttempts 复制策略并替换尝试次数
func (p Policy) PolicyWithAttempts(attempts int) Policy {
	if attempts > 0 {
		p.MaxAttempts = attempts
	}
	return p
}

// permanentError 标记不可重试的错误
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent 包装错误，使重试立即停止
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"eof",
}

// IsTransient 判断是否为网络类的瞬时错误
//
// 合约回滚等链上确定性错误不属于瞬时错误。
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var perm *permanentError
	if stderrors.As(err, &perm) {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") {
		return false
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	policy Policy
	logger *logrus.Logger
	mu     sync.Mutex
	rand   *rand.Rand
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier 创建重试器
func NewRetrier(policy Policy, logger *logrus.Logger) *Retrier {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retrier{
		policy: policy,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:  sleepContext,
	}
}

// Execute 按策略执行操作，直到成功、遇到不可重试错误或次数耗尽
func (r *Retrier) Execute(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}
		lastErr = err

		if !IsTransient(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			var perm *permanentError
			if stderrors.As(err, &perm) {
				return perm.err
			}
			return err
		}

		if attempt == r.policy.MaxAttempts {
			break
		}

		delay := r.Delay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("操作 '%s' 尝试 %d 次后失败: %w", operation, r.policy.MaxAttempts, lastErr)
}

// Do 执行带返回值的操作
func Do[T any](ctx context.Context, r *Retrier, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, operation, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// Delay 计算第 attempt 次失败后的等待时间
func (r *Retrier) Delay(attempt int) time.Duration {
	delay := float64(r.policy.InitialInterval) * math.Pow(r.policy.BackoffFactor, float64(attempt-1))
	if ceiling := float64(r.policy.MaxInterval); ceiling > 0 && delay > ceiling {
		delay = ceiling
	}

	if r.policy.Jitter > 0 {
		r.mu.Lock()
		f := r.rand.Float64()
		r.mu.Unlock()
		spread := delay * r.policy.Jitter
		delay = delay - spread + f*2*spread
		if delay < 0 {
			delay = float64(r.policy.InitialInterval)
		}
	}

	return time.Duration(delay)
}

// Policy 返回当前策略
func (r *Retrier) Policy() Policy {
	return r.policy
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
