package model

import (
	"time"
)

// Asset 资源模型，按 (hash_type, expected_hash) 内容寻址
type Asset struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	// Key 首次入库时的逻辑名称，同一内容在其他更新中的名称记录在关联表
	Key string `gorm:"size:255;index" json:"key"`

	Type          string `gorm:"size:100" json:"type"`
	FileExtension string `gorm:"size:20" json:"file_extension"`

	// RelativePath 由哈希推导的存储路径，相对资源目录
	RelativePath string `gorm:"size:255;not null" json:"relative_path"`

	// Hash 十六进制摘要
	Hash string `gorm:"size:128;not null" json:"hash"`
	// HashType 摘要算法：sha256, sha512, blake2b-256
	HashType string `gorm:"size:20;not null;uniqueIndex:idx_asset_hash" json:"hash_type"`
	// ExpectedHash 清单中的base64url摘要
	ExpectedHash string `gorm:"size:128;not null;uniqueIndex:idx_asset_hash" json:"expected_hash"`

	Size         int64     `gorm:"not null;default:0" json:"size"`
	URL          string    `gorm:"size:500" json:"url"`
	DownloadTime time.Time `json:"download_time"`

	// MarkedForDeletion GC标记位
	MarkedForDeletion bool `gorm:"not null;default:false;index" json:"marked_for_deletion"`
}

// TableName 指定表名
func (Asset) TableName() string {
	return "assets"
}
