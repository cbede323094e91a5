package store

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"

	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/repository"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GCResult 一次回收的统计
type GCResult struct {
	DeletedUpdateCount int   `json:"deleted_update_count"`
	DeletedAssetCount  int   `json:"deleted_asset_count"`
	FreedBytes         int64 `json:"freed_bytes"`
	OrphanFileCount    int   `json:"orphan_file_count"`
}

// GarbageCollect 删除作用域内被取代且未固定的更新，以及不再被任何更新引用的资源
// 与更新提交持有同一把作用域锁；所有行变更在一个事务内完成，文件在事务提交后删除
func (s *ContentStore) GarbageCollect(ctx context.Context, scopeKey string, keepSet []uuid.UUID) (*GCResult, error) {
	unlock, err := s.locks.Lock(ctx, scopeKey)
	if err != nil {
		return nil, err
	}
	defer unlock()

	keep := make(map[uuid.UUID]bool, len(keepSet))
	for _, id := range keepSet {
		keep[id] = true
	}
	recent := s.protectedRecent()

	result := &GCResult{}
	var doomed []*model.Asset

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updateRepo := repository.NewUpdateRepository(tx)
		assetRepo := repository.NewAssetRepository(tx)
		joinRepo := repository.NewUpdateAssetRepository(tx)

		updates, err := updateRepo.ListByScope(ctx, scopeKey)
		if err != nil {
			return err
		}

		frontier, err := s.launchFrontier(ctx, assetRepo, updates)
		if err != nil {
			return err
		}

		// 本次删除的更新所引用的资源，不受保护期约束
		released := make(map[uint]bool)
		for _, u := range updates {
			if !s.shouldDelete(u, keep, frontier) {
				continue
			}
			rows, err := joinRepo.ListByUpdate(ctx, u.ID)
			if err != nil {
				return err
			}
			for _, row := range rows {
				released[row.AssetID] = true
			}
			if u.LaunchAssetID != nil {
				released[*u.LaunchAssetID] = true
			}
			if _, err := joinRepo.DeleteByUpdate(ctx, u.ID); err != nil {
				return err
			}
			if err := updateRepo.Delete(ctx, u.ID); err != nil {
				return err
			}
			result.DeletedUpdateCount++
			s.logger.Info("update garbage collected",
				zap.String("update_id", u.ID.String()),
				zap.String("status", string(u.Status)),
				zap.Int("failed_launch_count", u.FailedLaunchCount))
		}

		if err := assetRepo.MarkAllForDeletion(ctx); err != nil {
			return err
		}
		if err := assetRepo.UnmarkReferenced(ctx); err != nil {
			return err
		}
		var protected []uint
		for id := range recent {
			if !released[id] {
				protected = append(protected, id)
			}
		}
		if err := assetRepo.UnmarkByIDs(ctx, protected); err != nil {
			return err
		}

		doomed, err = assetRepo.ListMarked(ctx)
		if err != nil {
			return err
		}
		if _, err := assetRepo.DeleteMarked(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "资源回收失败", err)
	}

	ids := make([]uint, 0, len(doomed))
	for _, asset := range doomed {
		ids = append(ids, asset.ID)
		result.DeletedAssetCount++
		result.FreedBytes += asset.Size
		if err := os.Remove(s.Path(asset)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove asset file",
				zap.String("path", asset.RelativePath),
				zap.Error(err))
		}
	}
	s.forget(ids)

	orphans, freed, err := s.sweepOrphans(ctx)
	if err != nil {
		s.logger.Warn("orphan file sweep failed", zap.Error(err))
	}
	result.OrphanFileCount = orphans
	result.FreedBytes += freed

	s.logger.Info("garbage collection finished",
		zap.String("scope_key", scopeKey),
		zap.Int("deleted_updates", result.DeletedUpdateCount),
		zap.Int("deleted_assets", result.DeletedAssetCount),
		zap.Int("orphan_files", result.OrphanFileCount),
		zap.Int64("freed_bytes", result.FreedBytes))

	return result, nil
}

// launchFrontier 每个运行时版本下最新的可启动READY更新
func (s *ContentStore) launchFrontier(ctx context.Context, assetRepo repository.AssetRepository, updates []*model.Update) (map[string]*model.Update, error) {
	frontier := make(map[string]*model.Update)
	for _, u := range updates {
		if u.Status != model.StatusReady || u.LaunchAssetID == nil || u.IsCrashLooped(s.crashLoopThreshold) {
			continue
		}
		if _, ok := frontier[u.RuntimeVersion]; ok {
			continue
		}
		asset, err := assetRepo.GetByID(ctx, *u.LaunchAssetID)
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !s.FileExists(asset) {
			continue
		}
		// updates 已按提交时间倒序
		frontier[u.RuntimeVersion] = u
	}
	return frontier, nil
}

func (s *ContentStore) shouldDelete(u *model.Update, keep map[uuid.UUID]bool, frontier map[string]*model.Update) bool {
	if keep[u.ID] {
		return false
	}
	switch u.Status {
	case model.StatusEmbedded, model.StatusDevelopment:
		return false
	}
	if u.Status == model.StatusReady && u.IsCrashLooped(s.crashLoopThreshold) {
		return true
	}
	if u.Keep {
		return false
	}
	head, ok := frontier[u.RuntimeVersion]
	if !ok {
		return false
	}
	return u.CommitTime.Before(head.CommitTime)
}

// sweepOrphans 删除没有资源行引用的文件，包括崩溃残留的临时文件
func (s *ContentStore) sweepOrphans(ctx context.Context) (int, int64, error) {
	paths, err := repository.NewAssetRepository(s.db).ListRelativePaths(ctx)
	if err != nil {
		return 0, 0, err
	}
	known := make(map[string]bool, len(paths))
	for _, p := range paths {
		known[p] = true
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, err
	}

	cutoff := s.now().Add(-s.gracePeriod)
	count := 0
	var freed int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() || known[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// 正在写入或刚改名、尚未插入资源行的文件
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Warn("failed to remove orphan file", zap.String("name", entry.Name()), zap.Error(err))
			continue
		}
		count++
		freed += info.Size()
	}
	return count, freed, nil
}
