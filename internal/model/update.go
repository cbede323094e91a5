package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// UpdateStatus 更新状态
type UpdateStatus string

const (
	// StatusPending 清单已校验，资源尚未全部就绪
	StatusPending UpdateStatus = "PENDING"
	// StatusReady 所有资源已校验入库，可以启动
	StatusReady UpdateStatus = "READY"
	// StatusEmbedded 随宿主二进制内置的更新
	StatusEmbedded UpdateStatus = "EMBEDDED"
	// StatusDevelopment 开发模式下的更新，不参与GC
	StatusDevelopment UpdateStatus = "DEVELOPMENT"
)

// Update 更新记录模型，一条记录对应一个清单定义的应用版本
type Update struct {
	ID        uuid.UUID `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// ScopeKey 与 CommitTime 共同唯一，同一作用域内按提交时间全序
	ScopeKey   string    `gorm:"size:100;not null;uniqueIndex:idx_scope_commit" json:"scope_key"`
	CommitTime time.Time `gorm:"not null;uniqueIndex:idx_scope_commit" json:"commit_time"`

	// RuntimeVersion 兼容类别，只有宿主运行时版本一致时才可启动
	RuntimeVersion string `gorm:"size:100;not null;index" json:"runtime_version"`

	// LaunchAssetID 入口bundle资源，PENDING时可能为空
	LaunchAssetID *uint `gorm:"index" json:"launch_asset_id"`

	// Manifest 原始清单文档
	Manifest datatypes.JSON `json:"manifest"`

	Status UpdateStatus `gorm:"size:20;not null;default:'PENDING';index" json:"status"`
	Keep   bool         `gorm:"not null;default:false" json:"keep"`

	LastAccessed time.Time `json:"last_accessed"`

	SuccessfulLaunchCount int `gorm:"not null;default:0" json:"successful_launch_count"`
	FailedLaunchCount     int `gorm:"not null;default:0" json:"failed_launch_count"`
}

// TableName 指定表名
func (Update) TableName() string {
	return "updates"
}

// IsLaunchableStatus 状态是否允许启动
func (u *Update) IsLaunchableStatus() bool {
	return u.Status == StatusReady || u.Status == StatusEmbedded
}

// IsCrashLooped 在没有任何成功启动前失败次数达到阈值
func (u *Update) IsCrashLooped(threshold int) bool {
	return u.SuccessfulLaunchCount == 0 && u.FailedLaunchCount >= threshold
}
