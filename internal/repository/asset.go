package repository

import (
	"context"

	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AssetRepository 资源数据访问接口
type AssetRepository interface {
	// GetByHash 根据摘要获取资源
	GetByHash(ctx context.Context, hashType, expectedHash string) (*model.Asset, error)
	// GetByID 根据ID获取资源
	GetByID(ctx context.Context, id uint) (*model.Asset, error)
	// CreateIfAbsent 摘要不存在时插入，存在时返回已有记录
	CreateIfAbsent(ctx context.Context, asset *model.Asset) (*model.Asset, error)
	// List 获取所有资源
	List(ctx context.Context) ([]*model.Asset, error)
	// ListByUpdate 获取更新关联的资源
	ListByUpdate(ctx context.Context, updateID uuid.UUID) ([]*model.Asset, error)
	// MarkAllForDeletion 标记所有资源待删除
	MarkAllForDeletion(ctx context.Context) error
	// UnmarkReferenced 取消被关联表或入口引用的资源的删除标记
	UnmarkReferenced(ctx context.Context) error
	// UnmarkByIDs 取消指定资源的删除标记
	UnmarkByIDs(ctx context.Context, ids []uint) error
	// ListMarked 获取待删除的资源
	ListMarked(ctx context.Context) ([]*model.Asset, error)
	// DeleteMarked 删除所有待删除资源
	DeleteMarked(ctx context.Context) (int64, error)
	// ListRelativePaths 获取所有资源的存储路径
	ListRelativePaths(ctx context.Context) ([]string, error)
}

// assetRepository 资源数据访问实现
type assetRepository struct {
	db *gorm.DB
}

// NewAssetRepository 创建资源数据访问实例
func NewAssetRepository(db *gorm.DB) AssetRepository {
	return &assetRepository{db: db}
}

// GetByHash 根据摘要获取资源
func (r *assetRepository) GetByHash(ctx context.Context, hashType, expectedHash string) (*model.Asset, error) {
	var asset model.Asset
	err := r.db.WithContext(ctx).
		Where("hash_type = ? AND expected_hash = ?", hashType, expectedHash).
		First(&asset).Error
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

// GetByID 根据ID获取资源
func (r *assetRepository) GetByID(ctx context.Context, id uint) (*model.Asset, error) {
	var asset model.Asset
	if err := r.db.WithContext(ctx).First(&asset, id).Error; err != nil {
		return nil, err
	}
	return &asset, nil
}

// CreateIfAbsent 并发入库同一内容时只保留一行
func (r *assetRepository) CreateIfAbsent(ctx context.Context, asset *model.Asset) (*model.Asset, error) {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "hash_type"}, {Name: "expected_hash"}},
			DoNothing: true,
		}).
		Create(asset).Error
	if err != nil {
		return nil, err
	}
	return r.GetByHash(ctx, asset.HashType, asset.ExpectedHash)
}

// List 获取所有资源
func (r *assetRepository) List(ctx context.Context) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := r.db.WithContext(ctx).Order("id ASC").Find(&assets).Error
	return assets, err
}

// ListByUpdate 获取更新关联的资源
func (r *assetRepository) ListByUpdate(ctx context.Context, updateID uuid.UUID) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := r.db.WithContext(ctx).
		Where("id IN (?)", r.db.Model(&model.UpdateAsset{}).Select("asset_id").Where("update_id = ?", updateID)).
		Order("id ASC").
		Find(&assets).Error
	return assets, err
}

// MarkAllForDeletion 标记所有资源待删除
func (r *assetRepository) MarkAllForDeletion(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Model(&model.Asset{}).
		Where("1 = 1").
		Update("marked_for_deletion", true).
		Error
}

// UnmarkReferenced 取消被引用资源的删除标记
func (r *assetRepository) UnmarkReferenced(ctx context.Context) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&model.Asset{}).
		Where("id IN (?)", r.db.Model(&model.UpdateAsset{}).Select("asset_id")).
		Update("marked_for_deletion", false).Error; err != nil {
		return err
	}
	return db.Model(&model.Asset{}).
		Where("id IN (?)", r.db.Model(&model.Update{}).Select("launch_asset_id").Where("launch_asset_id IS NOT NULL")).
		Update("marked_for_deletion", false).Error
}

// UnmarkByIDs 取消指定资源的删除标记
func (r *assetRepository) UnmarkByIDs(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.Asset{}).
		Where("id IN ?", ids).
		Update("marked_for_deletion", false).
		Error
}

// ListMarked 获取待删除的资源
func (r *assetRepository) ListMarked(ctx context.Context) ([]*model.Asset, error) {
	var assets []*model.Asset
	err := r.db.WithContext(ctx).
		Where("marked_for_deletion = ?", true).
		Find(&assets).Error
	return assets, err
}

// DeleteMarked 删除所有待删除资源
func (r *assetRepository) DeleteMarked(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("marked_for_deletion = ?", true).
		Delete(&model.Asset{})
	return result.RowsAffected, result.Error
}

// ListRelativePaths 获取所有资源的存储路径
func (r *assetRepository) ListRelativePaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := r.db.WithContext(ctx).
		Model(&model.Asset{}).
		Pluck("relative_path", &paths).Error
	return paths, err
}
