package repository

import (
	"context"

	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpdateAssetRepository 更新-资源关联数据访问接口
type UpdateAssetRepository interface {
	// Attach 关联资源，同一更新内相同逻辑名称覆盖旧关联
	Attach(ctx context.Context, updateID uuid.UUID, key string, assetID uint) error
	// ListByUpdate 获取更新的所有关联
	ListByUpdate(ctx context.Context, updateID uuid.UUID) ([]*model.UpdateAsset, error)
	// DeleteByUpdate 删除更新的所有关联
	DeleteByUpdate(ctx context.Context, updateID uuid.UUID) (int64, error)
}

// updateAssetRepository 更新-资源关联数据访问实现
type updateAssetRepository struct {
	db *gorm.DB
}

// NewUpdateAssetRepository 创建更新-资源关联数据访问实例
func NewUpdateAssetRepository(db *gorm.DB) UpdateAssetRepository {
	return &updateAssetRepository{db: db}
}

// Attach 关联资源
func (r *updateAssetRepository) Attach(ctx context.Context, updateID uuid.UUID, key string, assetID uint) error {
	row := &model.UpdateAsset{UpdateID: updateID, Key: key, AssetID: assetID}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "update_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"asset_id"}),
		}).
		Create(row).Error
}

// ListByUpdate 获取更新的所有关联
func (r *updateAssetRepository) ListByUpdate(ctx context.Context, updateID uuid.UUID) ([]*model.UpdateAsset, error) {
	var rows []*model.UpdateAsset
	err := r.db.WithContext(ctx).
		Where("update_id = ?", updateID).
		Order("`key` ASC").
		Find(&rows).Error
	return rows, err
}

// DeleteByUpdate 删除更新的所有关联
func (r *updateAssetRepository) DeleteByUpdate(ctx context.Context, updateID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("update_id = ?", updateID).
		Delete(&model.UpdateAsset{})
	return result.RowsAffected, result.Error
}
