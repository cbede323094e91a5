package manifest

import (
	"encoding/json"
	"time"
)

// 服务端指令类型
const (
	DirectiveNoUpdateAvailable  = "noUpdateAvailable"
	DirectiveRollBackToEmbedded = "rollBackToEmbedded"
)

// Directive 服务端下发的指令，代替清单返回
type Directive struct {
	Type       string    `json:"type"`
	CommitTime time.Time `json:"commitTime,omitempty"`
}

// Body 清单请求的响应体，Manifest 与 Directive 只有一个非空
type Body struct {
	Manifest  *Manifest
	Directive *Directive
}

// ParseBody 解析响应体，带有已知 type 字段的视为指令
func ParseBody(raw []byte) (*Body, error) {
	var envelope struct {
		Type       string `json:"type"`
		Parameters struct {
			CommitTime json.RawMessage `json:"commitTime"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, malformed("invalid json: %v", err)
	}

	switch envelope.Type {
	case "":
		m, err := Parse(raw)
		if err != nil {
			return nil, err
		}
		return &Body{Manifest: m}, nil
	case DirectiveNoUpdateAvailable:
		return &Body{Directive: &Directive{Type: envelope.Type}}, nil
	case DirectiveRollBackToEmbedded:
		if len(envelope.Parameters.CommitTime) == 0 {
			return nil, malformed("rollBackToEmbedded directive without commitTime")
		}
		t, err := parseTime(envelope.Parameters.CommitTime, "parameters.commitTime")
		if err != nil {
			return nil, err
		}
		return &Body{Directive: &Directive{Type: envelope.Type, CommitTime: t}}, nil
	default:
		return nil, malformed("unknown directive type %q", envelope.Type)
	}
}
