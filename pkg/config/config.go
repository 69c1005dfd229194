package config

import (
	"errors"
	"os"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 表示应用程序的配置
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	FileLimits struct {
		MaxUploadSize int64 `yaml:"max_upload_size"` // MB
		MaxFileSize   int64 `yaml:"max_file_size"`   // MB
	} `yaml:"file_limits"`

	Decode struct {
		Concurrency int `yaml:"concurrency"`
	} `yaml:"decode"`

	Viewer struct {
		DefaultFile  string `yaml:"default_file"`
		RootLabel    string `yaml:"root_label"`
		PreviewStyle string `yaml:"preview_style"`
		LineNumbers  bool   `yaml:"line_numbers"`
	} `yaml:"viewer"`

	Session struct {
		TTLMinutes             int `yaml:"ttl_minutes"`
		CleanupIntervalMinutes int `yaml:"cleanup_interval_minutes"`
	} `yaml:"session"`

	GitHub struct {
		Token      string `yaml:"token"`
		APIBaseURL string `yaml:"api_base_url"`
	} `yaml:"github"`

	Logging struct {
		Level      string `yaml:"level"`       // 日志级别: debug, info, warn, error
		OutputPath string `yaml:"output_path"` // 日志输出路径
	} `yaml:"logging"`

	TextMimeTypes []string `yaml:"text_mime_types"`

	// 运行时缓存
	textMimeMap map[string]struct{}
}

var (
	config *Config
	once   sync.Once
)

// Load 加载配置文件，未出现在文件中的字段保留默认值
func Load(configPath string) error {
	var err error
	once.Do(func() {
		cfg := Default()
		if configPath != "" {
			// 配置文件不存在时使用默认值
			if err = loadConfig(configPath, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
				return
			}
			err = nil
		}
		applyEnv(cfg)
		cfg.init()
		config = cfg
	})
	return err
}

// Get 返回配置实例；未调用 Load 时返回默认配置
func Get() *Config {
	if config == nil {
		return Default()
	}
	return config
}

// Default 返回默认配置
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.FileLimits.MaxUploadSize = 100
	cfg.FileLimits.MaxFileSize = 2
	cfg.Decode.Concurrency = 8
	cfg.Viewer.DefaultFile = "Cargo.toml"
	cfg.Viewer.RootLabel = "zip"
	cfg.Viewer.PreviewStyle = "github"
	cfg.Session.TTLMinutes = 120
	cfg.Session.CleanupIntervalMinutes = 30
	cfg.TextMimeTypes = []string{
		"application/json",
		"application/xml",
		"application/javascript",
		"application/x-javascript",
		"application/ecmascript",
		"application/x-httpd-php",
	}
	cfg.init()
	return cfg
}

// loadConfig 从文件加载配置
func loadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnv 使用环境变量覆盖部分配置
func applyEnv(cfg *Config) {
	if addr := os.Getenv("SOURCE_VIEWER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if level := os.Getenv("SOURCE_VIEWER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if token := os.Getenv("SOURCE_VIEWER_GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if n, err := strconv.Atoi(os.Getenv("SOURCE_VIEWER_DECODE_CONCURRENCY")); err == nil && n > 0 {
		cfg.Decode.Concurrency = n
	}
}

func (c *Config) init() {
	c.textMimeMap = make(map[string]struct{}, len(c.TextMimeTypes))
	for _, mime := range c.TextMimeTypes {
		c.textMimeMap[mime] = struct{}{}
	}
}

// IsTextContentTypeException 检查MIME类型是否为文本类型的例外
func (c *Config) IsTextContentTypeException(contentType string) bool {
	_, isException := c.textMimeMap[contentType]
	return isException
}

// GetAddr 返回监听地址
func (c *Config) GetAddr() string {
	if c.Server.Addr == "" {
		return ":8080"
	}
	return c.Server.Addr
}

// GetMaxUploadSize 返回最大上传大小（字节）
func (c *Config) GetMaxUploadSize() int64 {
	return c.FileLimits.MaxUploadSize * 1024 * 1024
}

// GetMaxFileSize 返回单个文件的最大大小（字节）
func (c *Config) GetMaxFileSize() int64 {
	return c.FileLimits.MaxFileSize * 1024 * 1024
}

// GetDecodeConcurrency 返回并发解码的上限
func (c *Config) GetDecodeConcurrency() int {
	if c.Decode.Concurrency <= 0 {
		return 1
	}
	return c.Decode.Concurrency
}

// GetDefaultFile 返回加载完成后默认选中的文件
func (c *Config) GetDefaultFile() string {
	return c.Viewer.DefaultFile
}

// GetRootLabel 返回根节点的显示名称
func (c *Config) GetRootLabel() string {
	if c.Viewer.RootLabel == "" {
		return "zip"
	}
	return c.Viewer.RootLabel
}

// GetPreviewStyle 返回代码高亮样式
func (c *Config) GetPreviewStyle() string {
	return c.Viewer.PreviewStyle
}

// GetSessionTTL 返回会话过期时间
func (c *Config) GetSessionTTL() time.Duration {
	if c.Session.TTLMinutes <= 0 {
		return 2 * time.Hour
	}
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// GetCleanupInterval 返回过期会话清理间隔
func (c *Config) GetCleanupInterval() time.Duration {
	if c.Session.CleanupIntervalMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Session.CleanupIntervalMinutes) * time.Minute
}

// GetGithubAPIKey 返回 GitHub 访问令牌
func (c *Config) GetGithubAPIKey() string {
	return c.GitHub.Token
}

// GetGithubAPIBaseURL 返回 GitHub API 地址
func (c *Config) GetGithubAPIBaseURL() string {
	if c.GitHub.APIBaseURL == "" {
		return "https://api.github.com"
	}
	return c.GitHub.APIBaseURL
}

// GetLogLevel 返回日志级别
func (c *Config) GetLogLevel() string {
	if c.Logging.Level == "" {
		return "info" // 默认日志级别
	}
	return c.Logging.Level
}

// GetLogOutputPath 返回日志输出路径，为空时只输出到控制台
func (c *Config) GetLogOutputPath() string {
	return c.Logging.OutputPath
}
