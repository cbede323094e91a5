package downloader

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/internal/model"
	"github.com/bingooyong/ota-engine/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var errAssetTooLarge = stderrors.New("asset exceeds max_asset_bytes")

// FetchAsset 下载单个资源并交给资源存储校验入库；已入库的资源直接返回
func (d *Downloader) FetchAsset(ctx context.Context, ref manifest.AssetRef) (*model.Asset, error) {
	existing, err := d.content.Lookup(ctx, ref.Hash, ref.HashType)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		d.logger.Debug("asset already cached", zap.String("key", ref.Key))
		return existing, nil
	}

	if err := d.CheckDiskSpace(); err != nil {
		return nil, err
	}

	var asset *model.Asset
	err = d.withRetry(ctx, ref.URL, func() error {
		a, err := d.fetchAssetOnce(ctx, ref)
		if err != nil {
			return err
		}
		asset = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (d *Downloader) fetchAssetOnce(ctx context.Context, ref manifest.AssetRef) (*model.Asset, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidParams, "参数错误", err)
	}
	httpReq.Header.Set("Accept", "*/*")
	d.applyStaticHeaders(httpReq)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrap(errors.ErrNetwork, "网络错误", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return nil, statusError(resp)
	}
	if d.cfg.MaxAssetBytes > 0 && resp.ContentLength > d.cfg.MaxAssetBytes {
		return nil, errors.NewWithDetails(errors.ErrInvalidParams, "参数错误",
			fmt.Sprintf("asset %s: %v (%d bytes)", ref.Key, errAssetTooLarge, resp.ContentLength))
	}

	body := &trackingReader{r: resp.Body, limit: d.cfg.MaxAssetBytes}
	asset, err := d.content.AdmitReader(ctx, body, ref)
	if err != nil {
		// 读响应体失败属于网络错误，与落盘失败区分开
		switch {
		case stderrors.Is(body.err, errAssetTooLarge):
			return nil, errors.NewWithDetails(errors.ErrInvalidParams, "参数错误",
				fmt.Sprintf("asset %s: %v", ref.Key, errAssetTooLarge))
		case body.err != nil:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(errors.ErrNetwork, "网络错误", body.err)
		}
		return nil, err
	}

	d.logger.Info("asset downloaded",
		zap.String("key", ref.Key),
		zap.String("url", ref.URL),
		zap.Int64("size", asset.Size))
	return asset, nil
}

// FetchAssets 并发下载一组资源，每个资源入库后回调 onAsset
// 单个资源失败不影响其他资源，所有错误合并返回
func (d *Downloader) FetchAssets(ctx context.Context, refs []manifest.AssetRef, onAsset func(manifest.AssetRef, *model.Asset) error) error {
	var (
		mu   sync.Mutex
		errs []error
	)
	record := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				record(err)
				return nil
			}
			asset, err := d.FetchAsset(ctx, ref)
			if err != nil {
				d.logger.Warn("asset download failed",
					zap.String("key", ref.Key),
					zap.String("url", ref.URL),
					zap.Error(err))
				record(fmt.Errorf("asset %s: %w", ref.Key, err))
				return nil
			}
			if onAsset != nil {
				if err := onAsset(ref, asset); err != nil {
					record(fmt.Errorf("asset %s: %w", ref.Key, err))
				}
			}
			return nil
		})
	}
	g.Wait()

	return stderrors.Join(errs...)
}

// trackingReader 记录读取响应体时的错误，并限制总字节数
type trackingReader struct {
	r     io.Reader
	limit int64
	n     int64
	err   error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	t.n += int64(n)
	if t.limit > 0 && t.n > t.limit {
		t.err = errAssetTooLarge
		return n, t.err
	}
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}
