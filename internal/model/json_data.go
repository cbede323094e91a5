package model

import (
	"time"

	"gorm.io/datatypes"
)

// json_data 中使用的键
const (
	JSONKeyServerDefinedHeaders = "serverDefinedHeaders"
	JSONKeyManifestFilters      = "manifestFilters"
	JSONKeyExtraParams          = "extraParams"
	JSONKeyRollbackDirective    = "rollBackToEmbedded"
	JSONKeyClientID             = "easClientID"
)

// JSONData 按作用域隔离的辅助键值数据
type JSONData struct {
	ID          uint           `gorm:"primarykey" json:"id"`
	ScopeKey    string         `gorm:"size:100;not null;uniqueIndex:idx_scope_json_key" json:"scope_key"`
	Key         string         `gorm:"size:100;not null;uniqueIndex:idx_scope_json_key" json:"key"`
	Value       datatypes.JSON `json:"value"`
	LastUpdated time.Time      `gorm:"not null" json:"last_updated"`
}

// TableName 指定表名
func (JSONData) TableName() string {
	return "json_data"
}
