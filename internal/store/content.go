package store

import (
	"bytes"
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/repository"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tempFilePrefix = ".tmp-"

	// defaultGracePeriod 新入库但尚未关联的资源在该时间内不会被GC回收
	defaultGracePeriod = 10 * time.Minute
)

var extensionPattern = regexp.MustCompile(`^\.[A-Za-z0-9]{1,10}$`)

// ContentStore 内容寻址的资源缓存，文件路径由摘要推导
type ContentStore struct {
	db     *gorm.DB
	dir    string
	locks  *ScopeLocks
	logger *zap.Logger

	// crashLoopThreshold 与更新记录存储共享的崩溃循环判定阈值
	crashLoopThreshold int
	gracePeriod        time.Duration
	now                func() time.Time

	mu     sync.Mutex
	recent map[uint]time.Time // 最近入库或被引用的资源
}

// ContentStoreOption 资源存储选项
type ContentStoreOption func(*ContentStore)

// WithGracePeriod 设置未关联资源的保护期
func WithGracePeriod(d time.Duration) ContentStoreOption {
	return func(s *ContentStore) {
		s.gracePeriod = d
	}
}

// WithCrashLoopThreshold 设置崩溃循环阈值
func WithCrashLoopThreshold(n int) ContentStoreOption {
	return func(s *ContentStore) {
		if n > 0 {
			s.crashLoopThreshold = n
		}
	}
}

// WithClock 替换时钟，用于测试
func WithClock(now func() time.Time) ContentStoreOption {
	return func(s *ContentStore) {
		s.now = now
	}
}

// NewContentStore 创建资源存储并确保目录存在
func NewContentStore(db *gorm.DB, dir string, locks *ScopeLocks, logger *zap.Logger, opts ...ContentStoreOption) (*ContentStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrFileOperation, "创建资源目录失败", err)
	}

	s := &ContentStore{
		db:                 db,
		dir:                dir,
		locks:              locks,
		logger:             logger,
		crashLoopThreshold: 1,
		gracePeriod:        defaultGracePeriod,
		now:                time.Now,
		recent:             make(map[uint]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir 返回资源目录
func (s *ContentStore) Dir() string {
	return s.dir
}

// Path 返回资源文件的绝对路径
func (s *ContentStore) Path(asset *model.Asset) string {
	return filepath.Join(s.dir, asset.RelativePath)
}

// FileExists 资源文件是否在磁盘上
func (s *ContentStore) FileExists(asset *model.Asset) bool {
	info, err := os.Stat(s.Path(asset))
	return err == nil && info.Mode().IsRegular()
}

// Lookup 根据期望摘要查找资源，行存在且文件存在才返回
func (s *ContentStore) Lookup(ctx context.Context, expectedHash, hashType string) (*model.Asset, error) {
	canonical, err := canonicalHash(expectedHash)
	if err != nil {
		return nil, err
	}
	if hashType == "" {
		hashType = manifest.DefaultHashType
	}

	asset, err := repository.NewAssetRepository(s.db).GetByHash(ctx, hashType, canonical)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "查询资源失败", err)
	}
	if !s.FileExists(asset) {
		return nil, nil
	}
	s.touch(asset.ID)
	return asset, nil
}

// Has 判断资源是否已入库，用于跳过重复下载
func (s *ContentStore) Has(ctx context.Context, expectedHash, hashType string) (bool, error) {
	asset, err := s.Lookup(ctx, expectedHash, hashType)
	if err != nil {
		return false, err
	}
	return asset != nil, nil
}

// Admit 校验数据摘要后入库
func (s *ContentStore) Admit(ctx context.Context, data []byte, ref manifest.AssetRef) (*model.Asset, error) {
	return s.AdmitReader(ctx, bytes.NewReader(data), ref)
}

// AdmitReader 边写临时文件边计算摘要，匹配后原子改名到摘要路径；不匹配时丢弃数据
func (s *ContentStore) AdmitReader(ctx context.Context, r io.Reader, ref manifest.AssetRef) (*model.Asset, error) {
	hasher, err := NewHasher(ref.HashType)
	if err != nil {
		return nil, err
	}
	expected, err := canonicalHash(ref.Hash)
	if err != nil {
		return nil, err
	}
	hashType := ref.HashType
	if hashType == "" {
		hashType = manifest.DefaultHashType
	}

	tmp, err := os.CreateTemp(s.dir, tempFilePrefix+"*")
	if err != nil {
		return nil, errors.Wrap(errors.ErrFileOperation, "创建临时文件失败", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	size, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrFileOperation, "写入资源失败", err)
	}

	digest := hasher.Sum(nil)
	actual := EncodeHash(digest)
	if actual != expected {
		return nil, errors.NewWithDetails(errors.ErrHashMismatch, "资源哈希不匹配",
			fmt.Sprintf("key=%s expected=%s actual=%s", ref.Key, expected, actual))
	}

	repo := repository.NewAssetRepository(s.db)
	existing, err := repo.GetByHash(ctx, hashType, expected)
	if err != nil && !stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(errors.ErrDatabase, "查询资源失败", err)
	}

	relativePath := relativePathFor(hashType, actual, ref.FileExtension)
	if existing != nil {
		relativePath = existing.RelativePath
	}
	finalPath := filepath.Join(s.dir, relativePath)

	// 数据已校验，总是覆盖目标文件；相同摘要的并发写入内容一致
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, errors.Wrap(errors.ErrFileOperation, "保存资源文件失败", err)
	}
	committed = true

	if existing != nil {
		s.touch(existing.ID)
		return existing, nil
	}

	asset, err := repo.CreateIfAbsent(ctx, &model.Asset{
		Key:           ref.Key,
		Type:          ref.ContentType,
		FileExtension: ref.FileExtension,
		RelativePath:  relativePath,
		Hash:          hex.EncodeToString(digest),
		HashType:      hashType,
		ExpectedHash:  expected,
		Size:          size,
		URL:           ref.URL,
		DownloadTime:  s.now().UTC(),
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "保存资源记录失败", err)
	}
	s.touch(asset.ID)

	s.logger.Debug("asset admitted",
		zap.String("key", ref.Key),
		zap.String("hash_type", hashType),
		zap.String("path", relativePath),
		zap.Int64("size", size))

	return asset, nil
}

func (s *ContentStore) touch(id uint) {
	s.mu.Lock()
	s.recent[id] = s.now()
	s.mu.Unlock()
}

// protectedRecent 返回保护期内的资源ID，同时清理过期条目
func (s *ContentStore) protectedRecent() map[uint]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.gracePeriod)
	ids := make(map[uint]bool, len(s.recent))
	for id, at := range s.recent {
		if at.Before(cutoff) {
			delete(s.recent, id)
			continue
		}
		ids[id] = true
	}
	return ids
}

func (s *ContentStore) forget(ids []uint) {
	s.mu.Lock()
	for _, id := range ids {
		delete(s.recent, id)
	}
	s.mu.Unlock()
}

func relativePathFor(hashType, encoded, ext string) string {
	name := hashType + "-" + encoded
	if extensionPattern.MatchString(ext) {
		name += ext
	}
	return name
}

// canonicalHash 统一为不带填充的base64url
func canonicalHash(h string) (string, error) {
	b, err := manifest.DecodeHash(h)
	if err != nil {
		return "", errors.NewWithDetails(errors.ErrInvalidParams, "参数错误", "hash is not base64url: "+h)
	}
	return EncodeHash(b), nil
}
