package events

import (
	"fmt"
	"sync"

	"github.com/bingooyong/ota-engine/internal/statemachine"
	"go.uber.org/zap"
)

// Observer 宿主应用的事件监听者，返回错误只记录日志
// 投递期间持有网关锁，监听者内不能同步触发新的转换
type Observer func(statemachine.Snapshot) error

// Gateway 事件网关，没有监听者时按到达顺序排队
type Gateway struct {
	mu       sync.Mutex
	observer Observer
	queue    []statemachine.Snapshot
	logger   *zap.Logger
}

// NewGateway 创建事件网关
func NewGateway(logger *zap.Logger) *Gateway {
	return &Gateway{logger: logger}
}

// Notify 实现 statemachine.Notifier
func (g *Gateway) Notify(s statemachine.Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.observer == nil {
		g.queue = append(g.queue, s)
		return
	}
	g.deliver(s)
}

// Attach 挂载监听者并按顺序回放排队的事件，之后同步投递
// 已有监听者时替换
func (g *Gateway) Attach(observer Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.observer = observer
	queued := g.queue
	g.queue = nil
	if len(queued) > 0 {
		g.logger.Info("flushing queued events", zap.Int("count", len(queued)))
	}
	for _, s := range queued {
		g.deliver(s)
	}
}

// Detach 移除监听者，后续事件重新排队
func (g *Gateway) Detach() {
	g.mu.Lock()
	g.observer = nil
	g.mu.Unlock()
}

// Pending 排队中的事件数
func (g *Gateway) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue)
}

func (g *Gateway) deliver(s statemachine.Snapshot) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("event observer panicked",
				zap.String("event", string(s.Type)),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()
	if err := g.observer(s); err != nil {
		g.logger.Warn("event observer failed",
			zap.String("event", string(s.Type)),
			zap.Error(err))
	}
}
