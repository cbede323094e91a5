package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config 更新引擎配置结构
type Config struct {
	Engine   EngineConfig   `mapstructure:"engine"`
	Database DatabaseConfig `mapstructure:"database"`
	Download DownloadConfig `mapstructure:"download"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
}

// EngineConfig 引擎基础配置
type EngineConfig struct {
	ScopeKey       string            `mapstructure:"scope_key"`       // 多应用隔离键
	RuntimeVersion string            `mapstructure:"runtime_version"` // 宿主二进制的兼容版本
	Platform       string            `mapstructure:"platform"`        // Expo-Platform 请求头
	UpdateURL      string            `mapstructure:"update_url"`
	DataDir        string            `mapstructure:"data_dir"`
	RequestHeaders map[string]string `mapstructure:"request_headers"`
	CheckSchedule  string            `mapstructure:"check_schedule"` // cron表达式，为空则不自动检查
	AutoDownload   bool              `mapstructure:"auto_download"`
	ReapSchedule   string            `mapstructure:"reap_schedule"`
	// CrashLoopThreshold 在没有任何成功启动前，失败次数达到该值后更新不可启动
	CrashLoopThreshold int `mapstructure:"crash_loop_threshold"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// DownloadConfig 下载配置
type DownloadConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	MaxRetries    int           `mapstructure:"max_retries"`
	BackoffBase   time.Duration `mapstructure:"backoff_base"`
	BackoffMax    time.Duration `mapstructure:"backoff_max"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxAssetBytes int64         `mapstructure:"max_asset_bytes"`
	MinFreeBytes  uint64        `mapstructure:"min_free_bytes"`
}

// ServerConfig 本地控制API配置
type ServerConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Mode      string        `mapstructure:"mode"` // debug, release
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
	JWTExpire time.Duration `mapstructure:"jwt_expire"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"` // debug, info, warn, error
	OutputPath string `mapstructure:"output_path"`
	MaxSize    int    `mapstructure:"max_size"`    // MB
	MaxBackups int    `mapstructure:"max_backups"` // 保留的旧日志文件数
	MaxAge     int    `mapstructure:"max_age"`     // 天
	Compress   bool   `mapstructure:"compress"`
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 启用环境变量支持，OTA_ENGINE_UPDATE_URL 覆盖 engine.update_url
	v.SetEnvPrefix("OTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// 解析配置
	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 设置默认值
	SetDefaults(config)

	// 验证配置
	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// SetDefaults 设置默认值
func SetDefaults(config *Config) {
	// Engine默认值
	if config.Engine.ScopeKey == "" {
		config.Engine.ScopeKey = "default"
	}
	if config.Engine.Platform == "" {
		config.Engine.Platform = "android"
	}
	if config.Engine.DataDir == "" {
		config.Engine.DataDir = "/var/lib/ota"
	}
	if config.Engine.RequestHeaders == nil {
		config.Engine.RequestHeaders = map[string]string{}
	}
	if config.Engine.ReapSchedule == "" {
		config.Engine.ReapSchedule = "@every 1h"
	}
	if config.Engine.CrashLoopThreshold == 0 {
		config.Engine.CrashLoopThreshold = 1
	}

	// Database默认值
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DSN == "" && config.Database.Driver == "sqlite" {
		config.Database.DSN = filepath.Join(config.Engine.DataDir, "updates.db")
	}
	if config.Database.MaxIdleConns == 0 {
		config.Database.MaxIdleConns = 2
	}
	if config.Database.MaxOpenConns == 0 {
		config.Database.MaxOpenConns = 1
	}
	if config.Database.ConnMaxLifetime == 0 {
		config.Database.ConnMaxLifetime = time.Hour
	}
	if config.Database.LogLevel == "" {
		config.Database.LogLevel = "warn"
	}

	// Download默认值
	if config.Download.Concurrency == 0 {
		config.Download.Concurrency = 4
	}
	if config.Download.MaxRetries == 0 {
		config.Download.MaxRetries = 3
	}
	if config.Download.BackoffBase == 0 {
		config.Download.BackoffBase = time.Second
	}
	if config.Download.BackoffMax == 0 {
		config.Download.BackoffMax = 30 * time.Second
	}
	if config.Download.Timeout == 0 {
		config.Download.Timeout = 60 * time.Second
	}
	if config.Download.MaxAssetBytes == 0 {
		config.Download.MaxAssetBytes = 256 << 20
	}
	if config.Download.MinFreeBytes == 0 {
		config.Download.MinFreeBytes = 50 << 20
	}

	// Server默认值
	if config.Server.Host == "" {
		config.Server.Host = "127.0.0.1"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 19000
	}
	if config.Server.Mode == "" {
		config.Server.Mode = "release"
	}
	if config.Server.JWTIssuer == "" {
		config.Server.JWTIssuer = "ota-engine"
	}
	if config.Server.JWTExpire == 0 {
		config.Server.JWTExpire = time.Hour
	}

	// Log默认值
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.OutputPath == "" {
		config.Log.OutputPath = filepath.Join(config.Engine.DataDir, "logs", "engine.log")
	}
	if config.Log.MaxSize == 0 {
		config.Log.MaxSize = 100
	}
	if config.Log.MaxBackups == 0 {
		config.Log.MaxBackups = 10
	}
	if config.Log.MaxAge == 0 {
		config.Log.MaxAge = 30
	}
}

// Validate 验证配置
func Validate(config *Config) error {
	if config.Engine.UpdateURL == "" {
		return fmt.Errorf("engine update_url is required")
	}
	if config.Engine.RuntimeVersion == "" {
		return fmt.Errorf("engine runtime_version is required")
	}
	if config.Engine.CrashLoopThreshold < 1 {
		return fmt.Errorf("invalid crash_loop_threshold: %d", config.Engine.CrashLoopThreshold)
	}

	// 验证cron表达式
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if config.Engine.CheckSchedule != "" {
		if _, err := parser.Parse(config.Engine.CheckSchedule); err != nil {
			return fmt.Errorf("invalid check_schedule %q: %w", config.Engine.CheckSchedule, err)
		}
	}
	if _, err := parser.Parse(config.Engine.ReapSchedule); err != nil {
		return fmt.Errorf("invalid reap_schedule %q: %w", config.Engine.ReapSchedule, err)
	}

	// 验证数据库驱动
	validDrivers := map[string]bool{
		"sqlite": true,
		"mysql":  true,
	}
	if !validDrivers[config.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", config.Database.Driver)
	}
	if config.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if config.Download.Concurrency < 1 {
		return fmt.Errorf("invalid download concurrency: %d", config.Download.Concurrency)
	}
	if config.Download.BackoffMax < config.Download.BackoffBase {
		return fmt.Errorf("download backoff_max must not be less than backoff_base")
	}

	// 验证服务模式
	validModes := map[string]bool{
		"debug":   true,
		"release": true,
		"test":    true,
	}
	if !validModes[config.Server.Mode] {
		return fmt.Errorf("invalid server mode: %s", config.Server.Mode)
	}

	// 验证日志级别
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.Log.Level] {
		return fmt.Errorf("invalid log level: %s", config.Log.Level)
	}

	return nil
}

// AssetsDir 返回资源文件目录
func (c *EngineConfig) AssetsDir() string {
	return filepath.Join(c.DataDir, "assets")
}

// Address 返回控制API监听地址
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
