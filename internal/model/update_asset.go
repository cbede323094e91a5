package model

import (
	"github.com/google/uuid"
)

// UpdateAsset 更新与资源的多对多关联，同一更新内逻辑名称唯一
type UpdateAsset struct {
	UpdateID uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"update_id"`
	Key      string    `gorm:"size:255;primaryKey" json:"key"`
	AssetID  uint      `gorm:"not null;index" json:"asset_id"`
}

// TableName 指定表名
func (UpdateAsset) TableName() string {
	return "updates_assets"
}
