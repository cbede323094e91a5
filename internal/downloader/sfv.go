package downloader

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dunglas/httpsfv"
)

// ParseDictionary 解析结构化字段字典（expo-server-defined-headers、expo-manifest-filters）
// 值统一转为字符串，参数被忽略，不支持内部列表
func ParseDictionary(s string) (map[string]string, error) {
	out := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return out, nil
	}

	dict, err := httpsfv.UnmarshalDictionary([]string{s})
	if err != nil {
		return nil, err
	}
	for _, name := range dict.Names() {
		member, _ := dict.Get(name)
		item, ok := member.(httpsfv.Item)
		if !ok {
			return nil, fmt.Errorf("member %q: inner lists are not supported", name)
		}
		out[name] = bareItemString(item.Value)
	}
	return out, nil
}

// SerializeDictionary 序列化为结构化字段字典，值都编码为字符串，键按字典序
// 键必须是小写sf-key，值只能是可打印ASCII
func SerializeDictionary(m map[string]string) (string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dict := httpsfv.NewDictionary()
	for _, k := range keys {
		dict.Add(k, httpsfv.NewItem(m[k]))
	}
	out, err := httpsfv.Marshal(dict)
	if err != nil {
		return "", fmt.Errorf("serialize dictionary: %w", err)
	}
	return out, nil
}

func bareItemString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case httpsfv.Token:
		return string(val)
	case bool:
		return strconv.FormatBool(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []byte:
		return base64.StdEncoding.EncodeToString(val)
	default:
		return fmt.Sprint(val)
	}
}
