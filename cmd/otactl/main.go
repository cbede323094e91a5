package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bingooyong/ota-engine/pkg/jwt"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddress = "http://127.0.0.1:19000"
	defaultTimeout = 5 * time.Minute
)

var (
	address = flag.String("address", defaultAddress, "control API base URL")
	timeout = flag.Duration("timeout", defaultTimeout, "request timeout")
	output  = flag.String("o", "json", "output format: json|yaml")
	secret  = flag.String("secret", "", "jwt secret used to mint a bearer token")
	issuer  = flag.String("issuer", "ota-engine", "jwt issuer")
)

// envelope 控制API统一响应
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `otactl - OTA更新引擎命令行工具

用法:
  otactl [选项] <命令> [参数...]

命令:
  state                          查看状态机快照
  check                          检查更新
  fetch                          下载更新
  cancel                         取消进行中的检查或下载
  restart                        重启到最新的可启动更新
  updates                        列出所有更新
  launchable                     查看应该启动的更新
  reap                           回收旧更新
  launch-result <id> <ok|fail>   上报启动结果
  keep <id> <on|off>             固定或取消固定更新

选项:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(1)
	}

	method, path, body, err := route(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	data, err := call(ctx, method, path, body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
	if err := render(os.Stdout, data, *output); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

// route 把命令映射到控制API
func route(args []string) (method, path string, body any, err error) {
	switch args[0] {
	case "state":
		return http.MethodGet, "/api/v1/state", nil, nil
	case "check", "fetch", "cancel", "restart", "reap":
		return http.MethodPost, "/api/v1/" + args[0], nil, nil
	case "updates":
		return http.MethodGet, "/api/v1/updates", nil, nil
	case "launchable":
		return http.MethodGet, "/api/v1/updates/launchable", nil, nil
	case "launch-result":
		if len(args) < 3 {
			return "", "", nil, fmt.Errorf("launch-result命令需要 <id> <ok|fail> 参数")
		}
		ok, err := parseSwitch(args[2], "ok", "fail")
		if err != nil {
			return "", "", nil, err
		}
		return http.MethodPost, "/api/v1/updates/" + args[1] + "/launch-result", map[string]bool{"succeeded": ok}, nil
	case "keep":
		if len(args) < 3 {
			return "", "", nil, fmt.Errorf("keep命令需要 <id> <on|off> 参数")
		}
		keep, err := parseSwitch(args[2], "on", "off")
		if err != nil {
			return "", "", nil, err
		}
		return http.MethodPost, "/api/v1/updates/" + args[1] + "/keep", map[string]bool{"keep": keep}, nil
	default:
		return "", "", nil, fmt.Errorf("未知命令 '%s'", args[0])
	}
}

func parseSwitch(s, yes, no string) (bool, error) {
	switch strings.ToLower(s) {
	case yes:
		return true, nil
	case no:
		return false, nil
	}
	return false, fmt.Errorf("参数必须是 %s 或 %s: %s", yes, no, s)
}

func call(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(*address, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if *secret != "" {
		token, err := jwt.NewManager(*secret, *issuer, time.Minute).GenerateToken("otactl")
		if err != nil {
			return nil, fmt.Errorf("生成令牌失败: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("无法连接到引擎 (%s): %w", *address, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("解析响应失败 (HTTP %d): %w", resp.StatusCode, err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("[%d] %s: %s", env.Code, env.Message, strings.Trim(string(env.Data), `"`))
	}
	return env.Data, nil
}

// render 按格式输出，yaml 先解成通用结构再编码
func render(w io.Writer, data json.RawMessage, format string) error {
	if len(data) == 0 {
		fmt.Fprintln(w, "ok")
		return nil
	}
	switch format {
	case "yaml":
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err != nil {
			return err
		}
		buf.WriteByte('\n')
		_, err := buf.WriteTo(w)
		return err
	default:
		return fmt.Errorf("不支持的输出格式: %s", format)
	}
}
