package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bingooyong/ota-engine/internal/downloader"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/internal/repository"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// rollbackDirective 持久化的回滚到内置更新指令
type rollbackDirective struct {
	CommitTime time.Time `json:"commitTime"`
}

func (e *Engine) getJSON(ctx context.Context, key string, out any) (bool, error) {
	raw, err := repository.NewJSONDataRepository(e.db).Get(ctx, e.scopeKey(), key)
	if err != nil {
		return false, errors.Wrap(errors.ErrDatabase, "读取元数据失败", err)
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errors.Wrap(errors.ErrInternal, "解析元数据失败", err)
	}
	return true, nil
}

func (e *Engine) setJSON(ctx context.Context, repo repository.JSONDataRepository, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "序列化元数据失败", err)
	}
	if err := repo.Set(ctx, e.scopeKey(), key, datatypes.JSON(data)); err != nil {
		return errors.Wrap(errors.ErrDatabase, "写入元数据失败", err)
	}
	return nil
}

func (e *Engine) stringMap(ctx context.Context, key string) (map[string]string, error) {
	m := map[string]string{}
	if _, err := e.getJSON(ctx, key, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ClientID 返回持久化的客户端ID，首次调用时生成
func (e *Engine) ClientID(ctx context.Context) (string, error) {
	var id string
	found, err := e.getJSON(ctx, model.JSONKeyClientID, &id)
	if err != nil {
		return "", err
	}
	if found && id != "" {
		return id, nil
	}
	id = uuid.New().String()
	if err := e.setJSON(ctx, repository.NewJSONDataRepository(e.db), model.JSONKeyClientID, id); err != nil {
		return "", err
	}
	return id, nil
}

// ExtraParams 返回随清单请求发送的额外参数
func (e *Engine) ExtraParams(ctx context.Context) (map[string]string, error) {
	return e.stringMap(ctx, model.JSONKeyExtraParams)
}

// SetExtraParams 设置额外参数，空值删除对应键；合并结果必须能编码为结构化字段字典
func (e *Engine) SetExtraParams(ctx context.Context, params map[string]string) (map[string]string, error) {
	var merged map[string]string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewJSONDataRepository(tx)
		current := map[string]string{}
		raw, err := repo.Get(ctx, e.scopeKey(), model.JSONKeyExtraParams)
		if err != nil {
			return errors.Wrap(errors.ErrDatabase, "读取元数据失败", err)
		}
		if raw != nil {
			if err := json.Unmarshal(raw, &current); err != nil {
				return errors.Wrap(errors.ErrInternal, "解析元数据失败", err)
			}
		}
		for k, v := range params {
			if v == "" {
				delete(current, k)
				continue
			}
			current[k] = v
		}
		if _, err := downloader.SerializeDictionary(current); err != nil {
			return errors.NewWithDetails(errors.ErrInvalidParams, "参数错误", err.Error())
		}
		merged = current
		return e.setJSON(ctx, repo, model.JSONKeyExtraParams, current)
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// saveResponseHeaders 在一个事务内保存服务端下发的请求头和清单过滤条件
func (e *Engine) saveResponseHeaders(ctx context.Context, serverHeaders, filters map[string]string) error {
	if serverHeaders == nil && filters == nil {
		return nil
	}
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repo := repository.NewJSONDataRepository(tx)
		if serverHeaders != nil {
			if err := e.setJSON(ctx, repo, model.JSONKeyServerDefinedHeaders, serverHeaders); err != nil {
				return err
			}
		}
		if filters != nil {
			if err := e.setJSON(ctx, repo, model.JSONKeyManifestFilters, filters); err != nil {
				return err
			}
		}
		return nil
	})
}

func (e *Engine) rollbackDirective(ctx context.Context) (*rollbackDirective, error) {
	var d rollbackDirective
	found, err := e.getJSON(ctx, model.JSONKeyRollbackDirective, &d)
	if err != nil || !found {
		return nil, err
	}
	return &d, nil
}

func (e *Engine) saveRollbackDirective(ctx context.Context, commitTime time.Time) error {
	return e.setJSON(ctx, repository.NewJSONDataRepository(e.db), model.JSONKeyRollbackDirective,
		rollbackDirective{CommitTime: commitTime.UTC()})
}
