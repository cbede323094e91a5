package engine

import (
	"context"
	"io/fs"
	"path"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/statemachine"
	"github.com/bingooyong/ota-engine/internal/store"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LaunchInfo 选出的启动更新
type LaunchInfo struct {
	Update     *model.Update `json:"update"`
	LaunchPath string        `json:"launchPath"`
	// IsEmbedded 使用内置更新，可能是回滚指令或没有其他可启动的更新
	IsEmbedded bool `json:"isEmbedded"`
}

// LaunchableUpdate 选出应该启动的更新；比可启动更新新的回滚指令优先返回内置更新
func (e *Engine) LaunchableUpdate(ctx context.Context) (*LaunchInfo, error) {
	scope := e.scopeKey()

	current, err := e.updates.CurrentLaunchableUpdate(ctx, scope, e.runtimeClass())
	if err != nil {
		return nil, err
	}
	embedded, err := e.updates.Embedded(ctx, scope)
	if err != nil {
		return nil, err
	}
	directive, err := e.rollbackDirective(ctx)
	if err != nil {
		return nil, err
	}

	chosen := current
	if embedded != nil && directive != nil && (current == nil || directive.CommitTime.After(current.CommitTime)) {
		e.logger.Info("rollback directive selects embedded update",
			zap.String("update_id", embedded.ID.String()),
			zap.Time("directive_commit_time", directive.CommitTime))
		chosen = embedded
	}
	if chosen == nil {
		return nil, errors.NewWithDetails(errors.ErrNoUpdateAvailable, "没有可用更新", "no launchable update for scope "+scope)
	}

	launchPath, err := e.updates.LaunchAssetPath(ctx, chosen)
	if err != nil {
		return nil, err
	}
	return &LaunchInfo{
		Update:     chosen,
		LaunchPath: launchPath,
		IsEmbedded: chosen.Status == model.StatusEmbedded,
	}, nil
}

// Launch 选出启动更新并记为本进程运行的更新
func (e *Engine) Launch(ctx context.Context) (*LaunchInfo, error) {
	info, err := e.LaunchableUpdate(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.updates.MarkLaunched(ctx, info.Update.ID); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.launched = info.Update
	e.mu.Unlock()

	e.logger.Info("update launched",
		zap.String("update_id", info.Update.ID.String()),
		zap.String("status", string(info.Update.Status)),
		zap.String("launch_path", info.LaunchPath))
	return info, nil
}

// Restart 进入 restarting 终态后按新进程处理：重新选择启动更新，换一个新的状态机并回收旧更新
func (e *Engine) Restart(ctx context.Context) (*LaunchInfo, error) {
	opCtx, done, err := e.beginOp(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	if _, err := e.currentMachine().Send(statemachine.Event{Type: statemachine.EventRestart}); err != nil {
		return nil, err
	}

	info, err := e.Launch(opCtx)

	e.mu.Lock()
	e.machine = statemachine.New(e.gateway, e.logger.Named("statemachine"))
	e.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if _, err := e.Reap(opCtx); err != nil {
		e.logger.Warn("reap after restart failed", zap.Error(err))
	}
	return info, nil
}

// RecordLaunchResult 记录启动结果，用于崩溃循环判定
func (e *Engine) RecordLaunchResult(ctx context.Context, id uuid.UUID, succeeded bool) error {
	if err := e.updates.RecordLaunchResult(ctx, id, succeeded); err != nil {
		return err
	}
	e.logger.Info("launch result recorded",
		zap.String("update_id", id.String()),
		zap.Bool("succeeded", succeeded))
	return nil
}

// MarkLaunched 更新启动时间
func (e *Engine) MarkLaunched(ctx context.Context, id uuid.UUID) error {
	return e.updates.MarkLaunched(ctx, id)
}

// SetKeep 固定或取消固定更新
func (e *Engine) SetKeep(ctx context.Context, id uuid.UUID, keep bool) error {
	return e.updates.SetKeep(ctx, id, keep)
}

// ListUpdates 作用域内所有更新记录
func (e *Engine) ListUpdates(ctx context.Context) ([]*model.Update, error) {
	return e.updates.List(ctx, e.scopeKey())
}

// Reap 取消被取代更新的固定标记后回收，始终保留运行中和当前可启动的更新
func (e *Engine) Reap(ctx context.Context) (*store.GCResult, error) {
	scope := e.scopeKey()

	launched := e.Launched()
	current, err := e.updates.CurrentLaunchableUpdate(ctx, scope, e.runtimeClass())
	if err != nil {
		return nil, err
	}

	if launched != nil {
		unpinned, err := e.updates.UnpinSuperseded(ctx, scope, launched.ID)
		if err != nil && !errors.IsCode(err, errors.ErrUpdateNotFound) {
			return nil, err
		}
		if unpinned > 0 {
			e.logger.Info("superseded updates unpinned", zap.Int("count", unpinned))
		}
	}

	return e.content.GarbageCollect(ctx, scope, idsOf(launched, current))
}

// RegisterEmbedded 登记随宿主分发的内置更新，资源文件从 fsys 读取并在本地校验摘要
// 文件名为 key 加扩展名；重复登记同一清单直接返回已有记录
func (e *Engine) RegisterEmbedded(ctx context.Context, raw []byte, fsys fs.FS) (*model.Update, error) {
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, err
	}
	scope := e.scopeKey()

	p, err := e.updates.BeginUpdate(ctx, scope, m)
	if errors.IsCode(err, errors.ErrUpdateAlreadyExists) {
		return e.updates.Get(ctx, m.ID)
	}
	if err != nil {
		return nil, err
	}
	defer p.Release()

	for _, ref := range m.AllAssets() {
		if p.IsAttached(ref.Key) {
			continue
		}
		asset, err := e.admitEmbedded(ctx, fsys, ref)
		if err != nil {
			return nil, err
		}
		if err := p.Attach(ctx, ref.Key, asset); err != nil {
			return nil, err
		}
	}

	update, err := e.updates.CommitEmbedded(ctx, p)
	if err != nil {
		return nil, err
	}
	e.logger.Info("embedded update registered",
		zap.String("update_id", update.ID.String()),
		zap.Int("assets", len(m.AllAssets())))
	return update, nil
}

func (e *Engine) admitEmbedded(ctx context.Context, fsys fs.FS, ref manifest.AssetRef) (*model.Asset, error) {
	name := path.Clean(ref.Key + ref.FileExtension)
	f, err := fsys.Open(name)
	if err != nil {
		return nil, errors.Wrap(errors.ErrFileOperation, "读取内置资源失败", err)
	}
	defer f.Close()

	return e.content.AdmitReader(ctx, f, ref)
}
