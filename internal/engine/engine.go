package engine

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/bingooyong/ota-engine/internal/config"
	"github.com/bingooyong/ota-engine/internal/downloader"
	"github.com/bingooyong/ota-engine/internal/events"
	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/statemachine"
	"github.com/bingooyong/ota-engine/internal/store"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"
)

// Engine 更新引擎根对象，持有存储、下载器、状态机和事件网关
type Engine struct {
	mu     sync.RWMutex
	config *config.Config

	db         *gorm.DB
	logger     *zap.Logger
	content    *store.ContentStore
	updates    *store.UpdateStore
	downloader *downloader.Downloader
	gateway    *events.Gateway
	machine    *statemachine.Machine

	// launched 本进程当前运行的更新
	launched *model.Update

	// op 串行化检查和下载；opCancel 取消进行中的操作
	op       *semaphore.Weighted
	opCancel context.CancelFunc

	cron    *cron.Cron
	jobIDs  []cron.EntryID
	started bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Option 引擎选项
type Option func(*options)

type options struct {
	httpClient   *http.Client
	storeOptions []store.ContentStoreOption
	diskFree     func(string) (uint64, error)
}

// WithHTTPClient 替换下载器的HTTP客户端
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithStoreOptions 传递资源存储选项
func WithStoreOptions(opts ...store.ContentStoreOption) Option {
	return func(o *options) {
		o.storeOptions = append(o.storeOptions, opts...)
	}
}

// WithDiskFree 替换磁盘剩余空间查询
func WithDiskFree(fn func(string) (uint64, error)) Option {
	return func(o *options) {
		o.diskFree = fn
	}
}

// New 创建引擎，数据库需已完成迁移
func New(cfg *config.Config, db *gorm.DB, logger *zap.Logger, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	storeOpts := append([]store.ContentStoreOption{
		store.WithCrashLoopThreshold(cfg.Engine.CrashLoopThreshold),
	}, o.storeOptions...)
	content, err := store.NewContentStore(db, cfg.Engine.AssetsDir(), store.NewScopeLocks(), logger.Named("content"), storeOpts...)
	if err != nil {
		return nil, err
	}
	updates := store.NewUpdateStore(db, content, logger.Named("updates"))

	dlOpts := []downloader.Option{downloader.WithStaticHeaders(cfg.Engine.RequestHeaders)}
	if o.httpClient != nil {
		dlOpts = append(dlOpts, downloader.WithHTTPClient(o.httpClient))
	}
	if o.diskFree != nil {
		dlOpts = append(dlOpts, downloader.WithDiskFree(o.diskFree))
	}
	dl := downloader.New(cfg.Download, content, logger.Named("downloader"), dlOpts...)

	gateway := events.NewGateway(logger.Named("events"))
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		config:     cfg,
		db:         db,
		logger:     logger,
		content:    content,
		updates:    updates,
		downloader: dl,
		gateway:    gateway,
		machine:    statemachine.New(gateway, logger.Named("statemachine")),
		op:         semaphore.NewWeighted(1),
		ctx:        ctx,
		cancel:     cancel,
	}
	return e, nil
}

// Start 选出启动更新并开启定时任务
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.started = true
	e.mu.Unlock()

	cfg := e.Config()
	e.logger.Info("starting update engine",
		zap.String("scope_key", cfg.Engine.ScopeKey),
		zap.String("runtime_version", cfg.Engine.RuntimeVersion),
		zap.String("update_url", cfg.Engine.UpdateURL))

	if _, err := e.Launch(e.ctx); err != nil {
		// 没有可启动更新时宿主使用自带包，不中断启动
		e.logger.Warn("no launchable update at startup", zap.Error(err))
	}

	c := cron.New(cron.WithParser(cronParser), cron.WithLogger(newCronLogger(e.logger)))
	e.mu.Lock()
	e.cron = c
	e.mu.Unlock()
	if err := e.schedule(cfg); err != nil {
		return err
	}
	c.Start()

	e.logger.Info("update engine started")
	return nil
}

// Close 停止定时任务并取消进行中的操作
func (e *Engine) Close() {
	e.logger.Info("stopping update engine")
	e.cancel()
	e.mu.RLock()
	c := e.cron
	e.mu.RUnlock()
	if c != nil {
		<-c.Stop().Done()
	}
	e.logger.Info("update engine stopped")
}

// ApplyConfig 配置热更新：静态请求头和定时任务立即生效
// 存储路径和数据库配置需要重启
func (e *Engine) ApplyConfig(cfg *config.Config) error {
	e.mu.Lock()
	old := e.config
	e.config = cfg
	e.mu.Unlock()

	if old.Engine.DataDir != cfg.Engine.DataDir || old.Database.DSN != cfg.Database.DSN {
		e.logger.Warn("data_dir and database changes require a restart")
	}
	e.downloader.SetStaticHeaders(cfg.Engine.RequestHeaders)

	e.mu.RLock()
	running := e.cron != nil
	e.mu.RUnlock()
	if running {
		if err := e.schedule(cfg); err != nil {
			return err
		}
	}

	e.logger.Info("engine config applied",
		zap.String("check_schedule", cfg.Engine.CheckSchedule),
		zap.String("reap_schedule", cfg.Engine.ReapSchedule),
		zap.Int("request_headers", len(cfg.Engine.RequestHeaders)))
	return nil
}

// Config 当前配置
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Gateway 事件网关，宿主应用在此挂载监听者
func (e *Engine) Gateway() *events.Gateway {
	return e.gateway
}

// Snapshot 状态机当前状态
func (e *Engine) Snapshot() statemachine.Snapshot {
	return e.currentMachine().Snapshot()
}

// Updates 更新记录存储
func (e *Engine) Updates() *store.UpdateStore {
	return e.updates
}

// Launched 本进程正在运行的更新
func (e *Engine) Launched() *model.Update {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.launched
}

// Cancel 取消进行中的检查或下载，没有进行中的操作时返回false
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.opCancel == nil {
		return false
	}
	e.opCancel()
	return true
}

func (e *Engine) currentMachine() *statemachine.Machine {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.machine
}

// runtimeClass 宿主运行时版本对应的存储类别
func (e *Engine) runtimeClass() string {
	rv := e.Config().Engine.RuntimeVersion
	if v, ok := manifest.CompatibilityVersion(rv); ok {
		return v
	}
	return rv
}

func (e *Engine) scopeKey() string {
	return e.Config().Engine.ScopeKey
}

// beginOp 排队等待上一个操作结束，返回可被 Cancel 取消的上下文
func (e *Engine) beginOp(ctx context.Context) (context.Context, func(), error) {
	opCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.ctx, cancel)

	if err := e.op.Acquire(opCtx, 1); err != nil {
		stop()
		cancel()
		return nil, nil, err
	}

	e.mu.Lock()
	e.opCancel = cancel
	e.mu.Unlock()

	done := func() {
		e.mu.Lock()
		e.opCancel = nil
		e.mu.Unlock()
		stop()
		cancel()
		e.op.Release(1)
	}
	return opCtx, done, nil
}

func uuidString(u *model.Update) string {
	if u == nil {
		return ""
	}
	return u.ID.String()
}

func idsOf(updates ...*model.Update) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(updates))
	for _, u := range updates {
		if u != nil {
			ids = append(ids, u.ID)
		}
	}
	return ids
}
