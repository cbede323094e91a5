package downloader

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"go.uber.org/zap"
)

// 清单协议请求头
const (
	HeaderPlatform             = "Expo-Platform"
	HeaderProtocolVersion      = "Expo-Protocol-Version"
	HeaderAPIVersion           = "Expo-API-Version"
	HeaderRuntimeVersion       = "Expo-Runtime-Version"
	HeaderCurrentUpdateID      = "Expo-Current-Update-ID"
	HeaderEmbeddedUpdateID     = "Expo-Embedded-Update-ID"
	HeaderClientID             = "EAS-Client-ID"
	HeaderExtraParams          = "Expo-Extra-Params"
	HeaderServerDefinedHeaders = "expo-server-defined-headers"
	HeaderManifestFilters      = "expo-manifest-filters"

	manifestAccept = "application/expo+json,application/json"

	// maxManifestBytes 清单响应体上限
	maxManifestBytes = 8 << 20
)

// ManifestRequest 一次清单请求的参数
type ManifestRequest struct {
	URL              string
	RuntimeVersion   string
	Platform         string
	CurrentUpdateID  string
	EmbeddedUpdateID string
	ClientID         string
	ExtraParams      map[string]string
	// ServerDefinedHeaders 上次响应下发、需要原样回带的请求头
	ServerDefinedHeaders map[string]string
}

// ManifestResponse 清单响应
// Body 为空表示服务端返回 204
type ManifestResponse struct {
	Body                 *manifest.Body
	ServerDefinedHeaders map[string]string
	ManifestFilters      map[string]string
}

// NoUpdate 是否表示没有可用更新
func (r *ManifestResponse) NoUpdate() bool {
	if r.Body == nil {
		return true
	}
	return r.Body.Directive != nil && r.Body.Directive.Type == manifest.DirectiveNoUpdateAvailable
}

// FetchManifest 拉取并解析清单；网络错误按退避重试，解析错误不重试
func (d *Downloader) FetchManifest(ctx context.Context, req ManifestRequest) (*ManifestResponse, error) {
	var result *ManifestResponse
	err := d.withRetry(ctx, req.URL, func() error {
		resp, err := d.fetchManifestOnce(ctx, req)
		if err != nil {
			return err
		}
		result = resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (d *Downloader) fetchManifestOnce(ctx context.Context, req ManifestRequest) (*ManifestResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidParams, "参数错误", err)
	}
	d.setManifestHeaders(httpReq, req)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.ErrNetwork, "网络错误", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body)
		return &ManifestResponse{
			ServerDefinedHeaders: d.dictionaryHeader(resp, HeaderServerDefinedHeaders),
			ManifestFilters:      d.dictionaryHeader(resp, HeaderManifestFilters),
		}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, statusError(resp)
	}

	if mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil &&
		strings.HasPrefix(mediaType, "multipart/") {
		return nil, errors.NewWithDetails(errors.ErrMalformedManifest, "清单格式错误",
			"multipart manifest responses are not supported")
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes+1))
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "网络错误", err)
	}
	if len(raw) > maxManifestBytes {
		return nil, errors.NewWithDetails(errors.ErrMalformedManifest, "清单格式错误", "manifest body too large")
	}

	body, err := manifest.ParseBody(raw)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("manifest fetched",
		zap.String("url", req.URL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)))

	return &ManifestResponse{
		Body:                 body,
		ServerDefinedHeaders: d.dictionaryHeader(resp, HeaderServerDefinedHeaders),
		ManifestFilters:      d.dictionaryHeader(resp, HeaderManifestFilters),
	}, nil
}

// setManifestHeaders 协议头在前，服务端下发的头其次，静态配置最后覆盖
func (d *Downloader) setManifestHeaders(httpReq *http.Request, req ManifestRequest) {
	h := httpReq.Header
	h.Set("Accept", manifestAccept)
	h.Set(HeaderProtocolVersion, "1")
	h.Set(HeaderAPIVersion, "1")
	if req.Platform != "" {
		h.Set(HeaderPlatform, req.Platform)
	}
	if req.RuntimeVersion != "" {
		h.Set(HeaderRuntimeVersion, req.RuntimeVersion)
	}
	if req.CurrentUpdateID != "" {
		h.Set(HeaderCurrentUpdateID, req.CurrentUpdateID)
	}
	if req.EmbeddedUpdateID != "" {
		h.Set(HeaderEmbeddedUpdateID, req.EmbeddedUpdateID)
	}
	if req.ClientID != "" {
		h.Set(HeaderClientID, req.ClientID)
	}
	if len(req.ExtraParams) > 0 {
		// 不合法的额外参数不发送，避免每次请求都被客户端拒绝
		if extra, err := SerializeDictionary(req.ExtraParams); err != nil {
			d.logger.Warn("dropping invalid extra params header", zap.Error(err))
		} else {
			h.Set(HeaderExtraParams, extra)
		}
	}
	for k, v := range req.ServerDefinedHeaders {
		h.Set(k, v)
	}
	d.applyStaticHeaders(httpReq)
}

// dictionaryHeader 解析失败的字典头忽略，不影响本次清单
func (d *Downloader) dictionaryHeader(resp *http.Response, name string) map[string]string {
	value := resp.Header.Get(name)
	if value == "" {
		return nil
	}
	dict, err := ParseDictionary(value)
	if err != nil {
		d.logger.Warn("ignoring malformed dictionary header",
			zap.String("header", name),
			zap.Error(err))
		return nil
	}
	return dict
}
