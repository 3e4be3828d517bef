package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	NodeID  string        `yaml:"node_id" mapstructure:"node_id"`
	WorkDir string        `yaml:"workdir" mapstructure:"workdir"` // 工作目录，所有相对路径基于此目录
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	API     APIConfig     `yaml:"api" mapstructure:"api"`
	IMAP    IMAPConfig    `yaml:"imap" mapstructure:"imap"`
	SMTP    SMTPConfig    `yaml:"smtp" mapstructure:"smtp"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"` // sqlite
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// APIConfig HTTP API 配置
type APIConfig struct {
	Port      int    `yaml:"port" mapstructure:"port"`
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTIssuer string `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
}

// IMAPConfig 收件邮箱（IMAP 客户端）配置
type IMAPConfig struct {
	Server    string `yaml:"server" mapstructure:"server"`       // IMAP 服务器地址
	Port      int    `yaml:"port" mapstructure:"port"`           // 隐式 TLS 端口
	KeepAlive int    `yaml:"keepalive" mapstructure:"keepalive"` // IDLE 保活间隔（秒）
}

// SMTPConfig 外发邮件（SMTP 提交）配置
type SMTPConfig struct {
	Server      string `yaml:"server" mapstructure:"server"`             // SMTP 服务器地址
	Port        int    `yaml:"port" mapstructure:"port"`                 // 提交端口（STARTTLS）
	HelloName   string `yaml:"hello_name" mapstructure:"hello_name"`     // EHLO 客户端标识
	SendTimeout int    `yaml:"send_timeout" mapstructure:"send_timeout"` // 单次发送超时（秒）
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // trace, debug, info, warn, error, fatal
	Format string `yaml:"format" mapstructure:"format"` // json, text
	Output string `yaml:"output" mapstructure:"output"` // stdout, file path
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
	Port    int    `yaml:"port" mapstructure:"port"`
}

// Load 加载配置
func Load(path string) (*Config, error) {
	v := viper.New()

	// 设置配置文件路径
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// 设置环境变量前缀
	v.SetEnvPrefix("GML")
	v.AutomaticEnv()

	// 设置默认值
	setDefaults(v)

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		// 配置文件不存在时使用默认值
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	// 解析工作目录和相对路径
	if err := resolvePaths(&cfg); err != nil {
		return nil, fmt.Errorf("解析路径失败: %w", err)
	}

	// 验证配置
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	return &cfg, nil
}

// resolvePaths 解析工作目录和相对路径
func resolvePaths(cfg *Config) error {
	// 如果没有指定工作目录，使用当前工作目录
	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("获取当前工作目录失败: %w", err)
		}
		cfg.WorkDir = wd
	}

	// 将工作目录转换为绝对路径
	workDir, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return fmt.Errorf("解析工作目录失败: %w", err)
	}
	cfg.WorkDir = workDir

	resolvePath := func(path string) string {
		if path == "" {
			return path
		}
		if filepath.IsAbs(path) {
			return path
		}
		// 相对路径基于工作目录解析
		return filepath.Join(workDir, path)
	}

	// SQLite DSN 如果是相对路径，基于工作目录解析
	if cfg.Storage.DSN != "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = resolvePath(cfg.Storage.DSN)
	}

	// 解析日志输出路径（如果不是 stdout）
	if cfg.Log.Output != "" && cfg.Log.Output != "stdout" && cfg.Log.Output != "stderr" {
		cfg.Log.Output = resolvePath(cfg.Log.Output)
	}

	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	// 基础配置
	v.SetDefault("node_id", "ml1")
	v.SetDefault("workdir", "") // 默认使用当前工作目录

	// 存储配置
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.dsn", "/var/lib/gml/data.db")

	// API 配置
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.jwt_issuer", "gomaillist")

	// IMAP 配置
	v.SetDefault("imap.server", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.keepalive", 300)

	// SMTP 配置
	v.SetDefault("smtp.server", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.hello_name", "localhost")
	v.SetDefault("smtp.send_timeout", 30)

	// 日志配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	// 指标配置
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
}

// validate 验证配置
func validate(cfg *Config) error {
	if cfg.Storage.Driver != "sqlite" {
		return fmt.Errorf("不支持的存储驱动: %s", cfg.Storage.Driver)
	}

	if cfg.IMAP.Server == "" {
		return fmt.Errorf("imap.server 不能为空")
	}

	if cfg.SMTP.Server == "" {
		return fmt.Errorf("smtp.server 不能为空")
	}

	if cfg.IMAP.KeepAlive <= 0 {
		return fmt.Errorf("imap.keepalive 必须大于 0")
	}

	if cfg.SMTP.SendTimeout <= 0 {
		return fmt.Errorf("smtp.send_timeout 必须大于 0")
	}

	return nil
}

// Watch 监听配置文件变化
func Watch(path string, callback func(*Config) error) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("GML")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("读取配置文件失败: %w", err)
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			// 使用标准输出记录错误（避免循环依赖）
			fmt.Fprintf(os.Stderr, "配置热更新失败: 解析错误: %v\n", err)
			return
		}

		if err := validate(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "配置热更新失败: 验证错误: %v\n", err)
			return
		}

		if err := callback(&cfg); err != nil {
			fmt.Fprintf(os.Stderr, "配置热更新失败: 回调错误: %v\n", err)
			return
		}

		fmt.Fprintf(os.Stdout, "配置热更新成功\n")
	})

	return nil
}
