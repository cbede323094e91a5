package downloader

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/bingooyong/ota-engine/internal/config"
	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"go.uber.org/zap"
)

// ContentStore 下载器依赖的资源存储
type ContentStore interface {
	Lookup(ctx context.Context, expectedHash, hashType string) (*model.Asset, error)
	AdmitReader(ctx context.Context, r io.Reader, ref manifest.AssetRef) (*model.Asset, error)
	Dir() string
}

// Downloader 拉取清单和资源，资源只在摘要校验通过后交给资源存储
// 下载器不直接写更新记录
type Downloader struct {
	cfg     config.DownloadConfig
	client  *http.Client
	content ContentStore
	logger  *zap.Logger

	mu       sync.RWMutex
	headers  map[string]string // 每个请求都带的静态请求头，配置热更新时整体替换
	diskFree func(path string) (uint64, error)
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option 下载器选项
type Option func(*Downloader)

// WithHTTPClient 替换HTTP客户端
func WithHTTPClient(client *http.Client) Option {
	return func(d *Downloader) {
		d.client = client
	}
}

// WithStaticHeaders 设置静态请求头
func WithStaticHeaders(headers map[string]string) Option {
	return func(d *Downloader) {
		d.headers = copyHeaders(headers)
	}
}

// WithDiskFree 替换磁盘剩余空间查询
func WithDiskFree(fn func(path string) (uint64, error)) Option {
	return func(d *Downloader) {
		d.diskFree = fn
	}
}

// New 创建下载器
func New(cfg config.DownloadConfig, content ContentStore, logger *zap.Logger, opts ...Option) *Downloader {
	d := &Downloader{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		content:  content,
		logger:   logger,
		headers:  map[string]string{},
		diskFree: diskFree,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetStaticHeaders 配置热更新时替换静态请求头
func (d *Downloader) SetStaticHeaders(headers map[string]string) {
	copied := copyHeaders(headers)
	d.mu.Lock()
	d.headers = copied
	d.mu.Unlock()
}

func (d *Downloader) applyStaticHeaders(req *http.Request) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}
}

func copyHeaders(headers map[string]string) map[string]string {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return copied
}
