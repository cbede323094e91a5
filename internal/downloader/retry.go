package downloader

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/bingooyong/ota-engine/pkg/errors"
	"go.uber.org/zap"
)

// backoff 第attempt次重试前的等待时间，指数增长并封顶
func (d *Downloader) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase
	for i := 0; i < attempt && delay < d.cfg.BackoffMax; i++ {
		delay *= 2
	}
	if delay > d.cfg.BackoffMax {
		delay = d.cfg.BackoffMax
	}
	return delay
}

// withRetry 只对网络错误按退避重试，其他错误直接返回
func (d *Downloader) withRetry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !errors.IsRetryable(err) || attempt >= d.cfg.MaxRetries {
			return err
		}
		var permanent *nonRetryable
		if stderrors.As(err, &permanent) {
			return err
		}

		delay := d.backoff(attempt)
		d.logger.Warn("request failed, retrying",
			zap.String("target", what),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))

		if sleepErr := d.sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
}

// statusError 把非成功状态码转换为错误，5xx和429视为可重试的网络错误
func statusError(resp *http.Response) error {
	details := resp.Request.URL.String() + ": " + resp.Status
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return errors.NewWithDetails(errors.ErrNetwork, "网络错误", details)
	}
	return &nonRetryable{errors.NewWithDetails(errors.ErrNetwork, "网络错误", details)}
}

// nonRetryable 4xx 响应，错误码仍是网络错误但不重试
type nonRetryable struct {
	*errors.EngineError
}

func (e *nonRetryable) Unwrap() error {
	return e.EngineError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
