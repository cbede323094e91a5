package api

import (
	"context"
	"net/http"

	"github.com/bingooyong/ota-engine/internal/engine"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/statemachine"
	"github.com/bingooyong/ota-engine/internal/store"
	"github.com/bingooyong/ota-engine/internal/version"
	"github.com/bingooyong/ota-engine/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine 控制API依赖的引擎操作
type Engine interface {
	Snapshot() statemachine.Snapshot
	Launched() *model.Update
	CheckForUpdate(ctx context.Context) (*engine.CheckResult, error)
	FetchUpdate(ctx context.Context) (*engine.FetchResult, error)
	Restart(ctx context.Context) (*engine.LaunchInfo, error)
	Cancel() bool
	ListUpdates(ctx context.Context) ([]*model.Update, error)
	LaunchableUpdate(ctx context.Context) (*engine.LaunchInfo, error)
	RecordLaunchResult(ctx context.Context, id uuid.UUID, succeeded bool) error
	SetKeep(ctx context.Context, id uuid.UUID, keep bool) error
	Reap(ctx context.Context) (*store.GCResult, error)
	ExtraParams(ctx context.Context) (map[string]string, error)
	SetExtraParams(ctx context.Context, params map[string]string) (map[string]string, error)
}

// Handler 控制API处理器
type Handler struct {
	engine Engine
	logger *zap.Logger
}

// NewHandler 创建处理器实例
func NewHandler(e Engine, logger *zap.Logger) *Handler {
	return &Handler{engine: e, logger: logger}
}

// StateResponse 状态机快照和当前运行的更新
type StateResponse struct {
	statemachine.Snapshot
	Launched *model.Update `json:"launched,omitempty"`
}

// LaunchResultRequest 启动结果上报
type LaunchResultRequest struct {
	Succeeded *bool `json:"succeeded" binding:"required"`
}

// KeepRequest 固定标记
type KeepRequest struct {
	Keep *bool `json:"keep" binding:"required"`
}

// Health 健康检查
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Get()})
}

// State 获取状态机快照
func (h *Handler) State(c *gin.Context) {
	response.Success(c, StateResponse{
		Snapshot: h.engine.Snapshot(),
		Launched: h.engine.Launched(),
	})
}

// Check 检查更新
func (h *Handler) Check(c *gin.Context) {
	result, err := h.engine.CheckForUpdate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Fetch 下载更新
func (h *Handler) Fetch(c *gin.Context) {
	result, err := h.engine.FetchUpdate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Cancel 取消进行中的检查或下载
func (h *Handler) Cancel(c *gin.Context) {
	response.Success(c, gin.H{"cancelled": h.engine.Cancel()})
}

// Restart 重启到最新的可启动更新
func (h *Handler) Restart(c *gin.Context) {
	info, err := h.engine.Restart(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

// ListUpdates 获取更新列表
func (h *Handler) ListUpdates(c *gin.Context) {
	updates, err := h.engine.ListUpdates(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, updates)
}

// Launchable 获取应该启动的更新
func (h *Handler) Launchable(c *gin.Context) {
	info, err := h.engine.LaunchableUpdate(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, info)
}

// LaunchResult 上报启动结果
func (h *Handler) LaunchResult(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req LaunchResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.engine.RecordLaunchResult(c.Request.Context(), id, *req.Succeeded); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Keep 设置固定标记
func (h *Handler) Keep(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	var req KeepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.engine.SetKeep(c.Request.Context(), id, *req.Keep); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, nil)
}

// Reap 回收旧更新
func (h *Handler) Reap(c *gin.Context) {
	result, err := h.engine.Reap(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// GetExtraParams 获取额外参数
func (h *Handler) GetExtraParams(c *gin.Context) {
	params, err := h.engine.ExtraParams(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, params)
}

// SetExtraParams 合并额外参数，空值删除
func (h *Handler) SetExtraParams(c *gin.Context) {
	var params map[string]string
	if err := c.ShouldBindJSON(&params); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	merged, err := h.engine.SetExtraParams(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, merged)
}

// parseUUIDParam 解析路径参数，失败时已写入响应
func parseUUIDParam(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(key))
	if err != nil {
		response.BadRequest(c, "invalid update id: "+c.Param(key))
		return uuid.Nil, false
	}
	return id, true
}
