package manifest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/bingooyong/ota-engine/pkg/errors"
	"github.com/google/uuid"
)

// Kind 清单形态
type Kind int

const (
	// KindNew 以 runtimeVersion 标识的清单
	KindNew Kind = iota + 1
	// KindClassic 以 extra.expoClient.sdkVersion 标识的旧清单
	KindClassic
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindClassic:
		return "classic"
	default:
		return "unknown"
	}
}

// DefaultHashType 资源条目未声明 hashType 时使用
const DefaultHashType = "sha256"

// DefaultLaunchAssetKey 旧清单未声明 bundleKey 时使用
const DefaultLaunchAssetKey = "bundle"

var compatVersionPattern = regexp.MustCompile(`^exposdk:(\d+\.\d+\.\d+|UNVERSIONED)$`)

// AssetRef 清单中的资源条目
type AssetRef struct {
	Key           string `json:"key"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
	Hash          string `json:"hash"` // base64url 摘要
	HashType      string `json:"hashType"`
	FileExtension string `json:"fileExtension,omitempty"`
	IsLaunch      bool   `json:"-"`
}

// Manifest 归一化后的清单
type Manifest struct {
	Kind           Kind
	ID             uuid.UUID
	CommitTime     time.Time
	RuntimeVersion string // 原始运行时版本字符串
	LaunchAsset    AssetRef
	Assets         []AssetRef
	Metadata       map[string]any
	Raw            json.RawMessage
}

// MarshalJSON 输出服务器下发的原始清单
func (m *Manifest) MarshalJSON() ([]byte, error) {
	if len(m.Raw) > 0 {
		return m.Raw, nil
	}
	return json.Marshal(map[string]any{
		"id":             m.ID,
		"createdAt":      m.CommitTime,
		"runtimeVersion": m.RuntimeVersion,
		"launchAsset":    m.LaunchAsset,
		"assets":         m.Assets,
		"metadata":       m.Metadata,
	})
}

// CompatibilityVersion 提取SDK兼容版本，不是SDK形式时返回false
func (m *Manifest) CompatibilityVersion() (string, bool) {
	return CompatibilityVersion(m.RuntimeVersion)
}

// RuntimeClass 用于存储和匹配的运行时版本类别
func (m *Manifest) RuntimeClass() string {
	if v, ok := m.CompatibilityVersion(); ok {
		return v
	}
	return m.RuntimeVersion
}

// AllAssets 返回入口资源和依赖资源，入口在前
func (m *Manifest) AllAssets() []AssetRef {
	all := make([]AssetRef, 0, len(m.Assets)+1)
	all = append(all, m.LaunchAsset)
	all = append(all, m.Assets...)
	return all
}

// Keys 返回清单中所有资源的逻辑名称
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Assets)+1)
	for _, a := range m.AllAssets() {
		keys = append(keys, a.Key)
	}
	return keys
}

// PassesFilters metadata 中存在的过滤键必须与过滤值一致
func (m *Manifest) PassesFilters(filters map[string]string) bool {
	for k, want := range filters {
		got, ok := m.Metadata[k]
		if !ok {
			continue
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// CompatibilityVersion 从运行时版本字符串中提取兼容版本
func CompatibilityVersion(runtimeVersion string) (string, bool) {
	match := compatVersionPattern.FindStringSubmatch(runtimeVersion)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// DecodeHash 解码清单中的base64url摘要，兼容带填充的写法
func DecodeHash(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func malformed(format string, args ...any) error {
	return errors.NewWithDetails(errors.ErrMalformedManifest, "清单格式错误", fmt.Sprintf(format, args...))
}
