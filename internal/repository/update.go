package repository

import (
	"context"
	"time"

	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UpdateRepository 更新记录数据访问接口
type UpdateRepository interface {
	// Create 创建更新记录
	Create(ctx context.Context, update *model.Update) error
	// GetByID 根据ID获取更新记录
	GetByID(ctx context.Context, id uuid.UUID) (*model.Update, error)
	// Delete 删除更新记录
	Delete(ctx context.Context, id uuid.UUID) error
	// ListByScope 获取作用域内所有更新，按提交时间倒序
	ListByScope(ctx context.Context, scopeKey string) ([]*model.Update, error)
	// ListLaunchCandidates 获取可启动状态的更新，按提交时间倒序
	ListLaunchCandidates(ctx context.Context, scopeKey, runtimeVersion string) ([]*model.Update, error)
	// GetEmbedded 获取作用域内的内置更新
	GetEmbedded(ctx context.Context, scopeKey string) (*model.Update, error)
	// UpdateStatus 更新状态
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.UpdateStatus) error
	// MarkReady 标记为可启动并固定
	MarkReady(ctx context.Context, id uuid.UUID) error
	// SetKeep 设置固定标记
	SetKeep(ctx context.Context, id uuid.UUID, keep bool) error
	// SetLaunchAsset 设置入口资源
	SetLaunchAsset(ctx context.Context, id uuid.UUID, assetID uint) error
	// IncrementLaunchCount 启动计数加一
	IncrementLaunchCount(ctx context.Context, id uuid.UUID, succeeded bool) error
	// SetLastAccessed 更新最后访问时间
	SetLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error
}

// updateRepository 更新记录数据访问实现
type updateRepository struct {
	db *gorm.DB
}

// NewUpdateRepository 创建更新记录数据访问实例
func NewUpdateRepository(db *gorm.DB) UpdateRepository {
	return &updateRepository{db: db}
}

// Create 创建更新记录
func (r *updateRepository) Create(ctx context.Context, update *model.Update) error {
	return r.db.WithContext(ctx).Create(update).Error
}

// GetByID 根据ID获取更新记录
func (r *updateRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Update, error) {
	var update model.Update
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&update).Error
	if err != nil {
		return nil, err
	}
	return &update, nil
}

// Delete 删除更新记录
func (r *updateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Update{}).Error
}

// ListByScope 获取作用域内所有更新
func (r *updateRepository) ListByScope(ctx context.Context, scopeKey string) ([]*model.Update, error) {
	var updates []*model.Update
	err := r.db.WithContext(ctx).
		Where("scope_key = ?", scopeKey).
		Order("commit_time DESC").
		Find(&updates).Error
	return updates, err
}

// ListLaunchCandidates 获取可启动状态的更新
func (r *updateRepository) ListLaunchCandidates(ctx context.Context, scopeKey, runtimeVersion string) ([]*model.Update, error) {
	var updates []*model.Update
	err := r.db.WithContext(ctx).
		Where("scope_key = ? AND runtime_version = ?", scopeKey, runtimeVersion).
		Where("status IN ?", []model.UpdateStatus{model.StatusReady, model.StatusEmbedded}).
		Where("launch_asset_id IS NOT NULL").
		Order("commit_time DESC").
		Find(&updates).Error
	return updates, err
}

// GetEmbedded 获取作用域内的内置更新
func (r *updateRepository) GetEmbedded(ctx context.Context, scopeKey string) (*model.Update, error) {
	var update model.Update
	err := r.db.WithContext(ctx).
		Where("scope_key = ? AND status = ?", scopeKey, model.StatusEmbedded).
		Order("commit_time DESC").
		First(&update).Error
	if err != nil {
		return nil, err
	}
	return &update, nil
}

// UpdateStatus 更新状态
func (r *updateRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.UpdateStatus) error {
	return r.db.WithContext(ctx).
		Model(&model.Update{}).
		Where("id = ?", id).
		Update("status", status).
		Error
}

// MarkReady 标记为可启动并固定，新提交的更新在下一次清理前不会被回收
func (r *updateRepository) MarkReady(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&model.Update{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status": model.StatusReady,
			"keep":   true,
		}).Error
}

// SetKeep 设置固定标记
func (r *updateRepository) SetKeep(ctx context.Context, id uuid.UUID, keep bool) error {
	return r.db.WithContext(ctx).
		Model(&model.Update{}).
		Where("id = ?", id).
		Update("keep", keep).
		Error
}

// SetLaunchAsset 设置入口资源
func (r *updateRepository) SetLaunchAsset(ctx context.Context, id uuid.UUID, assetID uint) error {
	return r.db.WithContext(ctx).
		Model(&model.Update{}).
		Where("id = ?", id).
		Update("launch_asset_id", assetID).
		Error
}

// IncrementLaunchCount 启动计数加一
func (r *updateRepository) IncrementLaunchCount(ctx context.Context, id uuid.UUID, succeeded bool) error {
	column := "failed_launch_count"
	if succeeded {
		column = "successful_launch_count"
	}
	result := r.db.WithContext(ctx).
		Model(&model.Update{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" + ?", 1))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetLastAccessed 更新最后访问时间
func (r *updateRepository) SetLastAccessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Update{}).
		Where("id = ?", id).
		Update("last_accessed", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
