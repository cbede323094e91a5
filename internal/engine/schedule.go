package engine

import (
	"fmt"

	"github.com/bingooyong/ota-engine/internal/config"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// schedule 按配置重新注册检查和回收任务
func (e *Engine) schedule(cfg *config.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.jobIDs {
		e.cron.Remove(id)
	}
	e.jobIDs = nil

	if cfg.Engine.CheckSchedule != "" {
		id, err := e.cron.AddFunc(cfg.Engine.CheckSchedule, e.scheduledCheck)
		if err != nil {
			return fmt.Errorf("invalid check_schedule: %w", err)
		}
		e.jobIDs = append(e.jobIDs, id)
	}

	id, err := e.cron.AddFunc(cfg.Engine.ReapSchedule, e.scheduledReap)
	if err != nil {
		return fmt.Errorf("invalid reap_schedule: %w", err)
	}
	e.jobIDs = append(e.jobIDs, id)
	return nil
}

func (e *Engine) scheduledCheck() {
	result, err := e.CheckForUpdate(e.ctx)
	if err != nil {
		e.logger.Warn("scheduled update check failed", zap.Error(err))
		return
	}
	if !result.IsAvailable || !e.Config().Engine.AutoDownload {
		return
	}
	if _, err := e.FetchUpdate(e.ctx); err != nil {
		e.logger.Warn("scheduled update download failed", zap.Error(err))
	}
}

func (e *Engine) scheduledReap() {
	if _, err := e.Reap(e.ctx); err != nil {
		e.logger.Warn("scheduled reap failed", zap.Error(err))
	}
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func newCronLogger(logger *zap.Logger) cron.Logger {
	return &cronLogger{sugar: logger.Named("cron").Sugar()}
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
