package detector

import (
	"context"
	"math/big"

	"golang.org/x/sync/errgroup"
)

// Snapshot 同一个值在两个区块高度上的读数
type Snapshot[T any] struct {
	Before T
	After  T
}

// Changed 使用给定的比较函数判断前后读数是否不同
func (s Snapshot[T]) Changed(equal func(a, b T) bool) bool {
	return !equal(s.Before, s.After)
}

// ReadFunc 在指定高度读取并解码一个值
type ReadFunc[T any] func(ctx context.Context, height *big.Int) (T, error)

// ReadPair 在前后两个高度分别读取同一个值
//
// parallel 为 true 时两次读取并发进行；任一读取失败则整体失败。
func ReadPair[T any](ctx context.Context, pair BlockPair, parallel bool, read ReadFunc[T]) (Snapshot[T], error) {
	var snap Snapshot[T]

	if !parallel {
		before, err := read(ctx, pair.BeforeNumber())
		if err != nil {
			return snap, err
		}
		after, err := read(ctx, pair.AfterNumber())
		if err != nil {
			return snap, err
		}
		snap.Before, snap.After = before, after
		return snap, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := read(gctx, pair.BeforeNumber())
		snap.Before = v
		return err
	})
	g.Go(func() error {
		v, err := read(gctx, pair.AfterNumber())
		snap.After = v
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot[T]{}, err
	}
	return snap, nil
}
