package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bingooyong/ota-engine/internal/model"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JSONDataRepository 辅助键值数据访问接口
type JSONDataRepository interface {
	// Get 获取键值，不存在时返回nil
	Get(ctx context.Context, scopeKey, key string) (datatypes.JSON, error)
	// Set 写入键值
	Set(ctx context.Context, scopeKey, key string, value datatypes.JSON) error
	// Delete 删除键值
	Delete(ctx context.Context, scopeKey, key string) error
}

// jsonDataRepository 辅助键值数据访问实现
type jsonDataRepository struct {
	db *gorm.DB
}

// NewJSONDataRepository 创建辅助键值数据访问实例
func NewJSONDataRepository(db *gorm.DB) JSONDataRepository {
	return &jsonDataRepository{db: db}
}

// Get 获取键值
func (r *jsonDataRepository) Get(ctx context.Context, scopeKey, key string) (datatypes.JSON, error) {
	var row model.JSONData
	err := r.db.WithContext(ctx).
		Where("scope_key = ? AND `key` = ?", scopeKey, key).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.Value, nil
}

// Set 写入键值
func (r *jsonDataRepository) Set(ctx context.Context, scopeKey, key string, value datatypes.JSON) error {
	row := &model.JSONData{
		ScopeKey:    scopeKey,
		Key:         key,
		Value:       value,
		LastUpdated: time.Now().UTC(),
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "scope_key"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "last_updated"}),
		}).
		Create(row).Error
}

// Delete 删除键值
func (r *jsonDataRepository) Delete(ctx context.Context, scopeKey, key string) error {
	return r.db.WithContext(ctx).
		Where("scope_key = ? AND `key` = ?", scopeKey, key).
		Delete(&model.JSONData{}).Error
}
