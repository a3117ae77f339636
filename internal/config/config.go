package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"netbridge/internal/network/bodystore"
)

// EnvPrefix 环境变量前缀，例如 NETBRIDGE_SERVER_ADDR
const EnvPrefix = "netbridge"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" envconfig:"VERSION"`

	Devtools struct {
		URL string `yaml:"url" envconfig:"URL"`
	} `yaml:"devtools"`

	Server struct {
		Addr string `yaml:"addr" envconfig:"ADDR"`
	} `yaml:"server"`

	Network struct {
		MaxResponseSize int `yaml:"maxResponseSize" envconfig:"MAX_RESPONSE_SIZE"`
		MaxTotalSize    int `yaml:"maxTotalSize" envconfig:"MAX_TOTAL_SIZE"`
	} `yaml:"network"`

	Context struct {
		Offline             bool `yaml:"offline" envconfig:"OFFLINE"`
		RequestInterception bool `yaml:"requestInterception" envconfig:"REQUEST_INTERCEPTION"`
	} `yaml:"context"`

	// Sqlite Dsn 为空时不记录事件日志
	Sqlite struct {
		Dsn    string `yaml:"dsn" envconfig:"DSN"`
		Prefix string `yaml:"prefix" envconfig:"PREFIX"`
	} `yaml:"sqlite"`

	Log struct {
		Level      string   `yaml:"level" envconfig:"LEVEL"`
		Writer     []string `yaml:"writer" envconfig:"WRITER"`
		File       string   `yaml:"file" envconfig:"FILE"`
		MaxSizeMB  int      `yaml:"maxSizeMB" envconfig:"MAX_SIZE_MB"`
		MaxBackups int      `yaml:"maxBackups" envconfig:"MAX_BACKUPS"`
		MaxAgeDays int      `yaml:"maxAgeDays" envconfig:"MAX_AGE_DAYS"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Devtools.URL = "http://127.0.0.1:9222"
	c.Server.Addr = "127.0.0.1:9333"
	c.Network.MaxTotalSize = bodystore.DefaultMaxTotalSize
	c.Network.MaxResponseSize = bodystore.DefaultMaxResponseSize
	c.Sqlite.Dsn = "netbridge.sqlite3"
	c.Sqlite.Prefix = "netbridge_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/netbridge.log"
	c.Log.MaxSizeMB = 50
	c.Log.MaxBackups = 5
	c.Log.MaxAgeDays = 14
	return c
}

// Load 依次应用默认值、配置文件与环境变量；path 为空或文件不存在时跳过文件
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if c.Devtools.URL == "" {
		return errors.New("devtools.url is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Network.MaxTotalSize <= 0 || c.Network.MaxResponseSize <= 0 {
		return errors.New("network size limits must be positive")
	}
	if c.Network.MaxResponseSize > c.Network.MaxTotalSize {
		return fmt.Errorf("network.maxResponseSize %d exceeds maxTotalSize %d",
			c.Network.MaxResponseSize, c.Network.MaxTotalSize)
	}
	return nil
}
