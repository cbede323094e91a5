package engine

import (
	"context"

	"github.com/bingooyong/ota-engine/internal/downloader"
	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/statemachine"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"go.uber.org/zap"
)

// CheckResult 一次检查的结论
type CheckResult struct {
	IsAvailable          bool               `json:"isAvailable"`
	IsRollBackToEmbedded bool               `json:"isRollBackToEmbedded"`
	Manifest             *manifest.Manifest `json:"manifest,omitempty"`
	Reason               string             `json:"reason,omitempty"`

	directive *manifest.Directive
}

// FetchResult 一次下载的结论
type FetchResult struct {
	IsNew                bool               `json:"isNew"`
	IsRollBackToEmbedded bool               `json:"isRollBackToEmbedded"`
	Manifest             *manifest.Manifest `json:"manifest,omitempty"`
	Update               *model.Update      `json:"update,omitempty"`
}

// CheckForUpdate 请求清单并判断是否有可用更新，结果通过状态机事件通知
func (e *Engine) CheckForUpdate(ctx context.Context) (*CheckResult, error) {
	opCtx, done, err := e.beginOp(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	m := e.currentMachine()
	if _, err := m.Send(statemachine.Event{Type: statemachine.EventCheck}); err != nil {
		return nil, err
	}

	result, err := e.resolve(opCtx)
	if err != nil {
		e.fail(opCtx, m, statemachine.EventCheckError, err)
		return nil, err
	}

	if result.IsAvailable {
		_, err = m.Send(statemachine.Event{
			Type:                 statemachine.EventCheckCompleteAvailable,
			Manifest:             result.Manifest,
			IsRollBackToEmbedded: result.IsRollBackToEmbedded,
		})
	} else {
		_, err = m.Send(statemachine.Event{Type: statemachine.EventCheckCompleteUnavailable})
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchUpdate 重新请求清单并下载可用更新；回滚指令只持久化，不下载
func (e *Engine) FetchUpdate(ctx context.Context) (*FetchResult, error) {
	opCtx, done, err := e.beginOp(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	m := e.currentMachine()
	if _, err := m.Send(statemachine.Event{Type: statemachine.EventDownload}); err != nil {
		return nil, err
	}

	result, err := e.resolve(opCtx)
	if err != nil {
		e.fail(opCtx, m, statemachine.EventDownloadError, err)
		return nil, err
	}

	fetched := &FetchResult{}
	switch {
	case !result.IsAvailable:
	case result.IsRollBackToEmbedded:
		if err := e.saveRollbackDirective(opCtx, result.directive.CommitTime); err != nil {
			e.fail(opCtx, m, statemachine.EventDownloadError, err)
			return nil, err
		}
		fetched.IsRollBackToEmbedded = true
	default:
		update, err := e.download(opCtx, result.Manifest)
		if err != nil {
			e.fail(opCtx, m, statemachine.EventDownloadError, err)
			return nil, err
		}
		fetched.IsNew = true
		fetched.Manifest = result.Manifest
		fetched.Update = update
	}

	if _, err := m.Send(statemachine.Event{
		Type:                 statemachine.EventDownloadComplete,
		Manifest:             fetched.Manifest,
		IsRollBackToEmbedded: fetched.IsRollBackToEmbedded,
	}); err != nil {
		return nil, err
	}
	return fetched, nil
}

// resolve 请求清单并按当前运行的更新判断是否可用
func (e *Engine) resolve(ctx context.Context) (*CheckResult, error) {
	cfg := e.Config()
	scope := cfg.Engine.ScopeKey

	clientID, err := e.ClientID(ctx)
	if err != nil {
		return nil, err
	}
	extra, err := e.ExtraParams(ctx)
	if err != nil {
		return nil, err
	}
	serverHeaders, err := e.stringMap(ctx, model.JSONKeyServerDefinedHeaders)
	if err != nil {
		return nil, err
	}
	current, err := e.comparisonBase(ctx)
	if err != nil {
		return nil, err
	}
	embedded, err := e.updates.Embedded(ctx, scope)
	if err != nil {
		return nil, err
	}

	resp, err := e.downloader.FetchManifest(ctx, downloader.ManifestRequest{
		URL:                  cfg.Engine.UpdateURL,
		RuntimeVersion:       cfg.Engine.RuntimeVersion,
		Platform:             cfg.Engine.Platform,
		CurrentUpdateID:      uuidString(current),
		EmbeddedUpdateID:     uuidString(embedded),
		ClientID:             clientID,
		ExtraParams:          extra,
		ServerDefinedHeaders: serverHeaders,
	})
	if err != nil {
		return nil, err
	}
	if err := e.saveResponseHeaders(ctx, resp.ServerDefinedHeaders, resp.ManifestFilters); err != nil {
		return nil, err
	}

	if resp.NoUpdate() {
		return &CheckResult{Reason: "no update available"}, nil
	}

	if d := resp.Body.Directive; d != nil {
		// 目前只有回滚指令会走到这里
		if embedded == nil {
			return &CheckResult{Reason: "rollback requested but no embedded update registered"}, nil
		}
		if current != nil && current.ID == embedded.ID {
			return &CheckResult{Reason: "already running the embedded update"}, nil
		}
		// 与 LaunchableUpdate 的判断一致，不晚于当前更新的指令不会生效
		if current != nil && !d.CommitTime.After(current.CommitTime) {
			return &CheckResult{Reason: "rollback directive is older than the current update"}, nil
		}
		return &CheckResult{IsAvailable: true, IsRollBackToEmbedded: true, directive: d}, nil
	}

	m := resp.Body.Manifest
	filters := resp.ManifestFilters
	if filters == nil {
		if filters, err = e.stringMap(ctx, model.JSONKeyManifestFilters); err != nil {
			return nil, err
		}
	}

	switch {
	case m.RuntimeClass() != e.runtimeClass():
		e.logger.Warn("manifest runtime version does not match",
			zap.String("manifest_runtime_version", m.RuntimeVersion),
			zap.String("runtime_version", cfg.Engine.RuntimeVersion))
		return &CheckResult{Reason: "runtime version mismatch"}, nil
	case !m.PassesFilters(filters):
		return &CheckResult{Reason: "manifest rejected by filters"}, nil
	case current != nil && (m.ID == current.ID || !m.CommitTime.After(current.CommitTime)):
		return &CheckResult{Reason: "already running the newest update"}, nil
	}

	e.logger.Info("update available",
		zap.String("update_id", m.ID.String()),
		zap.Time("commit_time", m.CommitTime))
	return &CheckResult{IsAvailable: true, Manifest: m}, nil
}

// comparisonBase 判断新旧的基准：本进程运行的更新，否则是当前可启动的更新
func (e *Engine) comparisonBase(ctx context.Context) (*model.Update, error) {
	if launched := e.Launched(); launched != nil {
		return launched, nil
	}
	return e.updates.CurrentLaunchableUpdate(ctx, e.scopeKey(), e.runtimeClass())
}

// download 下载清单中尚未关联的资源并提交更新
func (e *Engine) download(ctx context.Context, m *manifest.Manifest) (*model.Update, error) {
	if err := e.downloader.CheckDiskSpace(); err != nil {
		return nil, err
	}

	p, err := e.updates.BeginUpdate(ctx, e.scopeKey(), m)
	if errors.IsCode(err, errors.ErrUpdateAlreadyExists) {
		existing, getErr := e.updates.Get(ctx, m.ID)
		if getErr == nil && existing.Status == model.StatusReady {
			e.logger.Info("update already downloaded", zap.String("update_id", m.ID.String()))
			return existing, nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	var refs []manifest.AssetRef
	for _, ref := range m.AllAssets() {
		if !p.IsAttached(ref.Key) {
			refs = append(refs, ref)
		}
	}

	err = e.downloader.FetchAssets(ctx, refs, func(ref manifest.AssetRef, asset *model.Asset) error {
		return p.Attach(ctx, ref.Key, asset)
	})
	if err != nil {
		// 已入库的资源保留，下次下载时续传
		e.logger.Warn("update download incomplete",
			zap.String("update_id", m.ID.String()),
			zap.Strings("missing", p.Missing()))
		p.Release()
		return nil, err
	}

	update, err := e.updates.CommitUpdate(ctx, p)
	if err != nil {
		p.Release()
		return nil, err
	}
	return update, nil
}

// fail 取消时只清除进行中标记，其他错误作为错误事件通知
func (e *Engine) fail(ctx context.Context, m *statemachine.Machine, event statemachine.EventType, err error) {
	if ctx.Err() != nil {
		e.logger.Info("operation cancelled", zap.String("event", string(event)))
		if _, sendErr := m.Send(statemachine.Event{Type: statemachine.EventCancel}); sendErr != nil {
			e.logger.Error("failed to record cancellation", zap.Error(sendErr))
		}
		return
	}
	e.logger.Warn("update operation failed", zap.String("event", string(event)), zap.Error(err))
	if _, sendErr := m.Send(statemachine.Event{Type: event, Message: err.Error()}); sendErr != nil {
		e.logger.Error("failed to record failure", zap.Error(sendErr))
	}
}
