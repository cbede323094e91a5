package downloader

import (
	"context"
	"fmt"

	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"
	"go.uber.org/zap"
)

func diskFree(path string) (uint64, error) {
	usage, err := disk.UsageWithContext(context.Background(), path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// CheckDiskSpace 下载前检查资源目录所在分区的剩余空间
// 查询失败时只记录日志，不阻止下载
func (d *Downloader) CheckDiskSpace() error {
	if d.cfg.MinFreeBytes == 0 || d.diskFree == nil {
		return nil
	}
	free, err := d.diskFree(d.content.Dir())
	if err != nil {
		d.logger.Warn("failed to query disk usage", zap.String("dir", d.content.Dir()), zap.Error(err))
		return nil
	}
	if free < d.cfg.MinFreeBytes {
		return errors.NewWithDetails(errors.ErrInsufficientStorage, "磁盘空间不足",
			fmt.Sprintf("free=%d required=%d", free, d.cfg.MinFreeBytes))
	}
	return nil
}
