package store

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ScopeLocks 每个作用域一把锁，更新提交与GC在同一作用域内串行
type ScopeLocks struct {
	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewScopeLocks 创建作用域锁集合
func NewScopeLocks() *ScopeLocks {
	return &ScopeLocks{locks: make(map[string]*semaphore.Weighted)}
}

func (l *ScopeLocks) get(scopeKey string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()

	sem, ok := l.locks[scopeKey]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.locks[scopeKey] = sem
	}
	return sem
}

// Lock 获取作用域锁，ctx取消时放弃等待；返回的unlock可重复调用
func (l *ScopeLocks) Lock(ctx context.Context, scopeKey string) (func(), error) {
	sem := l.get(scopeKey)
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { sem.Release(1) })
	}, nil
}
