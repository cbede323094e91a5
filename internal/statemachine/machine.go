package statemachine

import (
	"sync"

	"go.uber.org/zap"
)

// Snapshot 推送给宿主应用的事件：上下文加事件类型
type Snapshot struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
	Context
}

// Notifier 接收每次转换后的快照
type Notifier interface {
	Notify(s Snapshot)
}

// Machine 单一游标的状态机，所有转换串行执行
type Machine struct {
	mu      sync.Mutex
	state   State
	context Context

	// notifyMu 保证通知顺序与转换顺序一致
	notifyMu sync.Mutex
	notifier Notifier
	logger   *zap.Logger
}

// New 创建处于 idle 的状态机，notifier 可为 nil
func New(notifier Notifier, logger *zap.Logger) *Machine {
	return &Machine{
		state:    StateIdle,
		notifier: notifier,
		logger:   logger,
	}
}

// Send 执行一次转换并通知；非法转换不修改状态
func (m *Machine) Send(e Event) (Snapshot, error) {
	m.mu.Lock()
	state, ctx, err := Transition(m.state, m.context, e)
	if err != nil {
		current := m.state
		m.mu.Unlock()
		m.logger.Error("illegal state transition",
			zap.String("state", string(current)),
			zap.String("event", string(e.Type)))
		return Snapshot{}, err
	}

	from := m.state
	m.state = state
	m.context = ctx
	snap := Snapshot{Type: e.Type, State: state, Context: ctx}

	m.notifyMu.Lock()
	m.mu.Unlock()
	defer m.notifyMu.Unlock()

	m.logger.Debug("state transition",
		zap.String("from", string(from)),
		zap.String("to", string(state)),
		zap.String("event", string(e.Type)))

	if m.notifier != nil {
		m.notifier.Notify(snap)
	}
	return snap, nil
}

// State 当前状态
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Context 当前上下文的副本
func (m *Machine) Context() Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context
}

// Snapshot 当前状态和上下文，Type 为空
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, Context: m.context}
}
