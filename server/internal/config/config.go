package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 全局配置。敏感信息（JWT 密钥、Mongo 连接串）优先走环境变量，
// 不要提交进配置文件。
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Auth    AuthConfig    `yaml:"auth"`
	Stream  StreamConfig  `yaml:"stream"`
}

type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr 返回监听地址。
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig 选择响应/项目存储后端。
// backend: memory | sqlite | mongo。memory 重启丢数据，只用于本地调试。
type StorageConfig struct {
	Backend       string `yaml:"backend"`
	SQLitePath    string `yaml:"sqlite_path"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// AuthConfig 选择授权模式。mode: none | jwt。none 放行一切，只用于本地调试。
type AuthConfig struct {
	Mode      string `yaml:"mode"`
	JWTSecret string `yaml:"jwt_secret"`
}

// StreamConfig 控制订阅流的保活。
type StreamConfig struct {
	PingInterval time.Duration `yaml:"ping_interval"`
}

// Default 返回本地可跑的默认配置：内存存储、不鉴权、:8080。
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"http://localhost:5173", "http://127.0.0.1:5173"},
		},
		Storage: StorageConfig{Backend: "memory", MongoDatabase: "botstudio"},
		Auth:    AuthConfig{Mode: "none"},
		Stream:  StreamConfig{PingInterval: 30 * time.Second},
	}
}

// Load 从文件加载配置，环境变量覆盖敏感项。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// 从环境变量覆盖敏感信息
	if secret := os.Getenv("BOTSTUDIO_JWT_SECRET"); secret != "" {
		cfg.Auth.JWTSecret = secret
	}
	if uri := os.Getenv("BOTSTUDIO_MONGO_URI"); uri != "" {
		cfg.Storage.MongoURI = uri
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate 验证配置组合是否可用。
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory":
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongo backend (or set BOTSTUDIO_MONGO_URI)")
		}
		if c.Storage.MongoDatabase == "" {
			return fmt.Errorf("storage.mongo_database is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Auth.Mode {
	case "none":
	case "jwt":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required for jwt mode (or set BOTSTUDIO_JWT_SECRET)")
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	return nil
}
