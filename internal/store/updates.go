package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/repository"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UpdateStore 更新记录存储，可启动更新的唯一来源
type UpdateStore struct {
	db      *gorm.DB
	content *ContentStore
	locks   *ScopeLocks
	logger  *zap.Logger
}

// NewUpdateStore 创建更新记录存储，与资源存储共享作用域锁和崩溃阈值
func NewUpdateStore(db *gorm.DB, content *ContentStore, logger *zap.Logger) *UpdateStore {
	return &UpdateStore{
		db:      db,
		content: content,
		locks:   content.locks,
		logger:  logger,
	}
}

// PendingUpdate 进行中的更新，持有作用域锁直到提交或释放
type PendingUpdate struct {
	store    *UpdateStore
	update   *model.Update
	manifest *manifest.Manifest
	unlock   func()

	mu       sync.Mutex
	attached map[string]uint
	closed   bool
}

// ID 返回更新ID
func (p *PendingUpdate) ID() uuid.UUID {
	return p.update.ID
}

// Manifest 返回清单
func (p *PendingUpdate) Manifest() *manifest.Manifest {
	return p.manifest
}

// Missing 返回尚未关联的资源名称
func (p *PendingUpdate) Missing() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var missing []string
	for _, key := range p.manifest.Keys() {
		if _, ok := p.attached[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// IsAttached 资源是否已关联，续传时用于跳过
func (p *PendingUpdate) IsAttached(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.attached[key]
	return ok
}

// Attach 把已校验的资源关联到更新，可并发调用
func (p *PendingUpdate) Attach(ctx context.Context, key string, asset *model.Asset) error {
	var isLaunch bool
	known := false
	for _, ref := range p.manifest.AllAssets() {
		if ref.Key == key {
			known = true
			isLaunch = ref.IsLaunch
			break
		}
	}
	if !known {
		return errors.NewWithDetails(errors.ErrInvalidParams, "参数错误", "asset key not in manifest: "+key)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.NewWithDetails(errors.ErrInvalidParams, "参数错误", "pending update already closed")
	}

	err := p.store.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repository.NewUpdateAssetRepository(tx).Attach(ctx, p.update.ID, key, asset.ID); err != nil {
			return err
		}
		if isLaunch {
			return repository.NewUpdateRepository(tx).SetLaunchAsset(ctx, p.update.ID, asset.ID)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "关联资源失败", err)
	}

	p.attached[key] = asset.ID
	if isLaunch {
		id := asset.ID
		p.update.LaunchAssetID = &id
	}
	p.store.content.touch(asset.ID)
	return nil
}

// Release 放弃提交并释放锁，已关联的资源保留，下次可续传
func (p *PendingUpdate) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.unlock()
}

// BeginUpdate 为清单创建PENDING记录；同ID的PENDING记录会被复用以便续传
func (s *UpdateStore) BeginUpdate(ctx context.Context, scopeKey string, m *manifest.Manifest) (*PendingUpdate, error) {
	// 无法校验的资源不建记录
	for _, ref := range m.AllAssets() {
		if !SupportsHashType(ref.HashType) {
			return nil, errors.NewWithDetails(errors.ErrUnsupportedHashType, "不支持的哈希算法",
				fmt.Sprintf("asset %s uses %s", ref.Key, ref.HashType))
		}
	}

	unlock, err := s.locks.Lock(ctx, scopeKey)
	if err != nil {
		return nil, err
	}

	p, err := s.begin(ctx, scopeKey, m, unlock)
	if err != nil {
		unlock()
		return nil, err
	}
	return p, nil
}

func (s *UpdateStore) begin(ctx context.Context, scopeKey string, m *manifest.Manifest, unlock func()) (*PendingUpdate, error) {
	repo := repository.NewUpdateRepository(s.db)
	p := &PendingUpdate{
		store:    s,
		manifest: m,
		unlock:   unlock,
		attached: make(map[string]uint),
	}

	existing, err := repo.GetByID(ctx, m.ID)
	switch {
	case err == nil:
		if existing.ScopeKey != scopeKey {
			return nil, errors.NewWithDetails(errors.ErrUpdateAlreadyExists, "更新已存在",
				fmt.Sprintf("update %s belongs to scope %s", m.ID, existing.ScopeKey))
		}
		if existing.Status != model.StatusPending {
			return nil, errors.NewWithDetails(errors.ErrUpdateAlreadyExists, "更新已存在", m.ID.String())
		}
		rows, err := repository.NewUpdateAssetRepository(s.db).ListByUpdate(ctx, m.ID)
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "查询资源关联失败", err)
		}
		for _, row := range rows {
			p.attached[row.Key] = row.AssetID
		}
		p.update = existing
		s.logger.Info("resuming pending update",
			zap.String("update_id", m.ID.String()),
			zap.Int("attached", len(rows)))
		return p, nil

	case stderrors.Is(err, gorm.ErrRecordNotFound):
		update := &model.Update{
			ID:             m.ID,
			ScopeKey:       scopeKey,
			CommitTime:     m.CommitTime.UTC(),
			RuntimeVersion: m.RuntimeClass(),
			Manifest:       datatypes.JSON(m.Raw),
			Status:         model.StatusPending,
		}
		if err := repo.Create(ctx, update); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "创建更新记录失败", err)
		}
		p.update = update
		return p, nil

	default:
		return nil, errors.Wrap(errors.ErrDatabase, "查询更新记录失败", err)
	}
}

// CommitUpdate 所有资源关联且文件齐全后标记为READY并释放锁
// 返回IncompleteUpdateError时锁仍然持有，调用方可以继续关联或释放
func (s *UpdateStore) CommitUpdate(ctx context.Context, p *PendingUpdate) (*model.Update, error) {
	return s.commit(ctx, p, model.StatusReady)
}

// CommitEmbedded 以EMBEDDED状态提交内置更新
func (s *UpdateStore) CommitEmbedded(ctx context.Context, p *PendingUpdate) (*model.Update, error) {
	return s.commit(ctx, p, model.StatusEmbedded)
}

func (s *UpdateStore) commit(ctx context.Context, p *PendingUpdate, status model.UpdateStatus) (*model.Update, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.NewWithDetails(errors.ErrInvalidParams, "参数错误", "pending update already closed")
	}

	var committed *model.Update
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updateRepo := repository.NewUpdateRepository(tx)
		assetRepo := repository.NewAssetRepository(tx)

		update, err := updateRepo.GetByID(ctx, p.update.ID)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "查询更新记录失败", err)
		}
		if update.LaunchAssetID == nil {
			return errors.NewWithDetails(errors.ErrIncompleteUpdate, "更新资源不完整", "launch asset not attached")
		}

		rows, err := repository.NewUpdateAssetRepository(tx).ListByUpdate(ctx, update.ID)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "查询资源关联失败", err)
		}
		attached := make(map[string]bool, len(rows))
		for _, row := range rows {
			attached[row.Key] = true
		}
		var missing []string
		for _, key := range p.manifest.Keys() {
			if !attached[key] {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return errors.NewWithDetails(errors.ErrIncompleteUpdate, "更新资源不完整",
				"missing assets: "+strings.Join(missing, ","))
		}

		assets, err := assetRepo.ListByUpdate(ctx, update.ID)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "查询资源失败", err)
		}
		for _, asset := range assets {
			if !s.content.FileExists(asset) {
				return errors.NewWithDetails(errors.ErrIncompleteUpdate, "更新资源不完整",
					"asset file missing: "+asset.RelativePath)
			}
		}

		if status == model.StatusReady {
			err = updateRepo.MarkReady(ctx, update.ID)
		} else {
			err = updateRepo.UpdateStatus(ctx, update.ID, status)
		}
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "更新状态失败", err)
		}

		committed, err = updateRepo.GetByID(ctx, update.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	p.closed = true
	p.unlock()

	s.logger.Info("update committed",
		zap.String("update_id", committed.ID.String()),
		zap.String("scope_key", committed.ScopeKey),
		zap.String("status", string(committed.Status)),
		zap.Time("commit_time", committed.CommitTime))

	return committed, nil
}

// CurrentLaunchableUpdate 返回提交时间最新、未崩溃循环且入口文件存在的更新，没有则返回nil
func (s *UpdateStore) CurrentLaunchableUpdate(ctx context.Context, scopeKey, runtimeVersion string) (*model.Update, error) {
	candidates, err := repository.NewUpdateRepository(s.db).ListLaunchCandidates(ctx, scopeKey, runtimeVersion)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "查询可启动更新失败", err)
	}
	return s.firstLaunchable(ctx, s.db, candidates)
}

func (s *UpdateStore) firstLaunchable(ctx context.Context, db *gorm.DB, candidates []*model.Update) (*model.Update, error) {
	assetRepo := repository.NewAssetRepository(db)
	for _, u := range candidates {
		if u.IsCrashLooped(s.content.crashLoopThreshold) {
			continue
		}
		asset, err := assetRepo.GetByID(ctx, *u.LaunchAssetID)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "查询入口资源失败", err)
		}
		if !s.content.FileExists(asset) {
			s.logger.Warn("launch asset missing on disk, skipping update",
				zap.String("update_id", u.ID.String()),
				zap.String("path", asset.RelativePath))
			continue
		}
		return u, nil
	}
	return nil, nil
}

// RecordLaunchResult 记录启动结果；崩溃循环只影响可启动判定，不删除记录
func (s *UpdateStore) RecordLaunchResult(ctx context.Context, id uuid.UUID, succeeded bool) error {
	err := repository.NewUpdateRepository(s.db).IncrementLaunchCount(ctx, id, succeeded)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NewWithDetails(errors.ErrUpdateNotFound, "更新不存在", id.String())
	}
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "记录启动结果失败", err)
	}
	return nil
}

// MarkLaunched 更新最后访问时间
func (s *UpdateStore) MarkLaunched(ctx context.Context, id uuid.UUID) error {
	err := repository.NewUpdateRepository(s.db).SetLastAccessed(ctx, id, s.content.now().UTC())
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NewWithDetails(errors.ErrUpdateNotFound, "更新不存在", id.String())
	}
	if err != nil {
		return errors.Wrap(errors.ErrDatabase, "更新访问时间失败", err)
	}
	return nil
}

// SetKeep 设置固定标记
func (s *UpdateStore) SetKeep(ctx context.Context, id uuid.UUID, keep bool) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if err := repository.NewUpdateRepository(s.db).SetKeep(ctx, id, keep); err != nil {
		return errors.Wrap(errors.ErrDatabase, "更新固定标记失败", err)
	}
	return nil
}

// Get 获取更新记录
func (s *UpdateStore) Get(ctx context.Context, id uuid.UUID) (*model.Update, error) {
	u, err := repository.NewUpdateRepository(s.db).GetByID(ctx, id)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NewWithDetails(errors.ErrUpdateNotFound, "更新不存在", id.String())
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "查询更新记录失败", err)
	}
	return u, nil
}

// List 获取作用域内所有更新
func (s *UpdateStore) List(ctx context.Context, scopeKey string) ([]*model.Update, error) {
	updates, err := repository.NewUpdateRepository(s.db).ListByScope(ctx, scopeKey)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "查询更新列表失败", err)
	}
	return updates, nil
}

// Embedded 获取作用域内的内置更新，没有则返回nil
func (s *UpdateStore) Embedded(ctx context.Context, scopeKey string) (*model.Update, error) {
	u, err := repository.NewUpdateRepository(s.db).GetEmbedded(ctx, scopeKey)
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "查询内置更新失败", err)
	}
	return u, nil
}

// LaunchAssetPath 返回更新入口资源的文件路径
func (s *UpdateStore) LaunchAssetPath(ctx context.Context, u *model.Update) (string, error) {
	if u.LaunchAssetID == nil {
		return "", errors.NewWithDetails(errors.ErrIncompleteUpdate, "更新资源不完整", "launch asset not attached")
	}
	asset, err := repository.NewAssetRepository(s.db).GetByID(ctx, *u.LaunchAssetID)
	if err != nil {
		return "", errors.Wrap(errors.ErrDatabase, "查询入口资源失败", err)
	}
	return s.content.Path(asset), nil
}

// UnpinSuperseded 取消比已启动更新更旧的READY更新的固定标记，保留其中最新的一个作为回滚目标
func (s *UpdateStore) UnpinSuperseded(ctx context.Context, scopeKey string, launchedID uuid.UUID) (int, error) {
	launched, err := s.Get(ctx, launchedID)
	if err != nil {
		return 0, err
	}

	updates, err := s.List(ctx, scopeKey)
	if err != nil {
		return 0, err
	}

	var older []*model.Update
	for _, u := range updates {
		if u.Status == model.StatusReady && u.ID != launched.ID && u.CommitTime.Before(launched.CommitTime) {
			older = append(older, u)
		}
	}
	if len(older) <= 1 {
		return 0, nil
	}

	// 列表已按提交时间倒序，第一个是最近的回滚目标
	repo := repository.NewUpdateRepository(s.db)
	unpinned := 0
	for _, u := range older[1:] {
		if !u.Keep {
			continue
		}
		if err := repo.SetKeep(ctx, u.ID, false); err != nil {
			return unpinned, errors.Wrap(errors.ErrDatabase, "更新固定标记失败", err)
		}
		unpinned++
	}
	return unpinned, nil
}
