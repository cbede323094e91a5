package manifest

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// wireAsset 新旧两种清单共用的资源条目
type wireAsset struct {
	Key           string `json:"key"`
	ContentType   string `json:"contentType"`
	URL           string `json:"url"`
	Hash          string `json:"hash"`
	HashType      string `json:"hashType"`
	FileExtension string `json:"fileExtension"`
}

type newShape struct {
	ID             string          `json:"id"`
	CreatedAt      json.RawMessage `json:"createdAt"`
	RuntimeVersion string          `json:"runtimeVersion"`
	LaunchAsset    *wireAsset      `json:"launchAsset"`
	Assets         *[]wireAsset    `json:"assets"`
	Metadata       map[string]any  `json:"metadata"`
}

type classicShape struct {
	ID         string          `json:"id"`
	CommitTime json.RawMessage `json:"commitTime"`
	BundleURL  string          `json:"bundleUrl"`
	BundleKey  string          `json:"bundleKey"`
	BundleHash string          `json:"bundleHash"`
	Assets     *[]wireAsset    `json:"assets"`
	Metadata   map[string]any  `json:"metadata"`
	Extra      struct {
		ExpoClient struct {
			SDKVersion string `json:"sdkVersion"`
		} `json:"expoClient"`
	} `json:"extra"`
}

// Parse 解析并校验清单，先按字段一次性分类再归一化
func Parse(raw []byte) (*Manifest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, malformed("invalid json: %v", err)
	}

	kind, err := classify(fields)
	if err != nil {
		return nil, err
	}

	var m *Manifest
	switch kind {
	case KindNew:
		m, err = parseNew(raw)
	case KindClassic:
		m, err = parseClassic(raw)
	}
	if err != nil {
		return nil, err
	}

	if err := validateAssets(m); err != nil {
		return nil, err
	}

	compact := &bytes.Buffer{}
	if err := json.Compact(compact, raw); err != nil {
		return nil, malformed("invalid json: %v", err)
	}
	m.Raw = compact.Bytes()
	return m, nil
}

func classify(fields map[string]json.RawMessage) (Kind, error) {
	if _, ok := fields["runtimeVersion"]; ok {
		return KindNew, nil
	}
	if extra, ok := fields["extra"]; ok {
		var e struct {
			ExpoClient json.RawMessage `json:"expoClient"`
		}
		if err := json.Unmarshal(extra, &e); err == nil && len(e.ExpoClient) > 0 && string(e.ExpoClient) != "null" {
			return KindClassic, nil
		}
	}
	return 0, malformed("neither runtimeVersion nor extra.expoClient present")
}

func parseNew(raw []byte) (*Manifest, error) {
	var s newShape
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, malformed("invalid manifest: %v", err)
	}

	id, err := parseID(s.ID)
	if err != nil {
		return nil, err
	}
	if s.RuntimeVersion == "" {
		return nil, malformed("runtimeVersion is empty")
	}
	if s.LaunchAsset == nil {
		return nil, malformed("launchAsset is required")
	}
	if s.Assets == nil {
		return nil, malformed("assets is required")
	}
	commitTime, err := parseTime(s.CreatedAt, "createdAt")
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		Kind:           KindNew,
		ID:             id,
		CommitTime:     commitTime,
		RuntimeVersion: s.RuntimeVersion,
		LaunchAsset:    toRef(*s.LaunchAsset, true),
		Metadata:       s.Metadata,
	}
	for _, a := range *s.Assets {
		m.Assets = append(m.Assets, toRef(a, false))
	}
	return m, nil
}

func parseClassic(raw []byte) (*Manifest, error) {
	var s classicShape
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, malformed("invalid manifest: %v", err)
	}

	id, err := parseID(s.ID)
	if err != nil {
		return nil, err
	}
	if s.Extra.ExpoClient.SDKVersion == "" {
		return nil, malformed("extra.expoClient.sdkVersion is empty")
	}
	if s.BundleURL == "" {
		return nil, malformed("bundleUrl is required")
	}
	if s.Assets == nil {
		return nil, malformed("assets is required")
	}
	commitTime, err := parseTime(s.CommitTime, "commitTime")
	if err != nil {
		return nil, err
	}

	key := s.BundleKey
	if key == "" {
		key = DefaultLaunchAssetKey
	}
	m := &Manifest{
		Kind:           KindClassic,
		ID:             id,
		CommitTime:     commitTime,
		RuntimeVersion: "exposdk:" + s.Extra.ExpoClient.SDKVersion,
		LaunchAsset: toRef(wireAsset{
			Key:         key,
			ContentType: "application/javascript",
			URL:         s.BundleURL,
			Hash:        s.BundleHash,
		}, true),
		Metadata: s.Metadata,
	}
	for _, a := range *s.Assets {
		m.Assets = append(m.Assets, toRef(a, false))
	}
	return m, nil
}

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, malformed("id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, malformed("id %q is not a uuid", s)
	}
	return id, nil
}

// parseTime 支持RFC3339字符串和毫秒时间戳，缺失时取当前时间
func parseTime(raw json.RawMessage, field string) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Now().UTC().Truncate(time.Millisecond), nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, malformed("%s %q is not RFC3339", field, s)
		}
		return t.UTC(), nil
	}

	ms, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return time.Time{}, malformed("%s has unsupported format", field)
	}
	return time.UnixMilli(ms).UTC(), nil
}

func toRef(a wireAsset, launch bool) AssetRef {
	hashType := a.HashType
	if hashType == "" {
		hashType = DefaultHashType
	}
	return AssetRef{
		Key:           a.Key,
		ContentType:   a.ContentType,
		URL:           a.URL,
		Hash:          a.Hash,
		HashType:      hashType,
		FileExtension: a.FileExtension,
		IsLaunch:      launch,
	}
}

func validateAssets(m *Manifest) error {
	seen := make(map[string]bool)
	for _, a := range m.AllAssets() {
		if a.Key == "" {
			return malformed("asset without key")
		}
		if seen[a.Key] {
			return malformed("duplicate asset key %q", a.Key)
		}
		seen[a.Key] = true

		if a.URL == "" {
			return malformed("asset %q has no url", a.Key)
		}
		if a.Hash == "" {
			return malformed("asset %q has no hash", a.Key)
		}
		if _, err := DecodeHash(a.Hash); err != nil {
			return malformed("asset %q hash is not base64url", a.Key)
		}
	}
	return nil
}
