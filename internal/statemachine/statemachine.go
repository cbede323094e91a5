package statemachine

import (
	"fmt"

	"github.com/bingooyong/ota-engine/internal/manifest"
	"github.com/bingooyong/ota-engine/pkg/errors"
)

// State 状态机状态
type State string

const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateDownloading State = "downloading"
	// StateRestarting 终态，应用需要重新启动才能应用更新
	StateRestarting State = "restarting"
)

// EventType 事件类型，同时是推送给宿主应用的事件名
type EventType string

const (
	EventCheck                    EventType = "check"
	EventCheckCompleteAvailable   EventType = "checkCompleteAvailable"
	EventCheckCompleteUnavailable EventType = "checkCompleteUnavailable"
	EventCheckError               EventType = "checkError"
	EventDownload                 EventType = "download"
	EventDownloadComplete         EventType = "downloadComplete"
	EventDownloadError            EventType = "downloadError"
	EventRestart                  EventType = "restart"
	// EventCancel 宿主取消进行中的检查或下载
	EventCancel EventType = "cancel"
)

// Event 状态机输入
type Event struct {
	Type                 EventType
	Manifest             *manifest.Manifest
	IsRollBackToEmbedded bool
	Message              string
}

// ErrorInfo 检查或下载失败的信息
type ErrorInfo struct {
	Message string `json:"message"`
}

// Context 状态机上下文，每次转换整体重算
type Context struct {
	IsUpdateAvailable  bool               `json:"isUpdateAvailable"`
	IsUpdatePending    bool               `json:"isUpdatePending"`
	IsChecking         bool               `json:"isChecking"`
	IsDownloading      bool               `json:"isDownloading"`
	IsRollback         bool               `json:"isRollback"`
	LatestManifest     *manifest.Manifest `json:"latestManifest,omitempty"`
	DownloadedManifest *manifest.Manifest `json:"downloadedManifest,omitempty"`
	CheckError         *ErrorInfo         `json:"checkError,omitempty"`
	DownloadError      *ErrorInfo         `json:"downloadError,omitempty"`
}

// IllegalTransitionError 当前状态不接受该事件
type IllegalTransitionError struct {
	From  State
	Event EventType
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition: %s on %s", e.Event, e.From)
}

// Unwrap 便于按错误码识别
func (e *IllegalTransitionError) Unwrap() error {
	return errors.NewWithDetails(errors.ErrIllegalTransition, "非法状态转换", e.Error())
}

// Transition 纯函数，所有未列出的 (状态, 事件) 组合都返回 IllegalTransitionError
func Transition(state State, c Context, e Event) (State, Context, error) {
	illegal := &IllegalTransitionError{From: state, Event: e.Type}

	switch state {
	case StateIdle:
		switch e.Type {
		case EventCheck:
			next := c
			next.IsChecking = true
			return StateChecking, next, nil
		case EventDownload:
			next := c
			next.IsDownloading = true
			return StateDownloading, next, nil
		case EventRestart:
			return StateRestarting, c, nil
		}

	case StateChecking:
		switch e.Type {
		case EventCheckCompleteAvailable:
			next := c
			next.IsChecking = false
			next.IsUpdateAvailable = true
			next.LatestManifest = e.Manifest
			next.IsRollback = e.IsRollBackToEmbedded
			next.CheckError = nil
			return StateIdle, next, nil
		case EventCheckCompleteUnavailable:
			next := c
			next.IsChecking = false
			next.IsUpdateAvailable = false
			next.LatestManifest = nil
			next.IsRollback = false
			next.CheckError = nil
			return StateIdle, next, nil
		case EventCheckError:
			next := c
			next.IsChecking = false
			next.CheckError = &ErrorInfo{Message: e.Message}
			return StateIdle, next, nil
		case EventCancel:
			next := c
			next.IsChecking = false
			return StateIdle, next, nil
		}

	case StateDownloading:
		switch e.Type {
		case EventDownloadComplete:
			next := c
			next.IsDownloading = false
			if e.Manifest != nil {
				next.DownloadedManifest = e.Manifest
			}
			// 已持久化的回滚指令同样是待生效的更新
			if next.DownloadedManifest != nil || e.IsRollBackToEmbedded {
				next.IsUpdatePending = true
				next.IsUpdateAvailable = true
			}
			next.DownloadError = nil
			return StateIdle, next, nil
		case EventDownloadError:
			next := c
			next.IsDownloading = false
			next.DownloadError = &ErrorInfo{Message: e.Message}
			return StateIdle, next, nil
		case EventCancel:
			next := c
			next.IsDownloading = false
			return StateIdle, next, nil
		}

	case StateRestarting:
		// 终态
	}

	return state, c, illegal
}
