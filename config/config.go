// Package config 读取服务和工作流配置
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Backend BackendConfig `mapstructure:"backend"`
	Session SessionConfig `mapstructure:"session"`
	View    ViewConfig    `mapstructure:"view"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           string        `mapstructure:"port"`
	Mode           string        `mapstructure:"mode"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
	Timeout        time.Duration `mapstructure:"timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
}

// RemoteConfig 工作流调用的远程抠图接口
type RemoteConfig struct {
	// Endpoint 为空时使用本服务的 /remove-background
	Endpoint string `mapstructure:"endpoint"`
	// Timeout 为 0 表示不设超时
	Timeout time.Duration `mapstructure:"timeout"`
}

// BackendConfig /remove-background 背后真正干活的服务
type BackendConfig struct {
	Kind     string `mapstructure:"kind"`
	Endpoint string `mapstructure:"endpoint"`
	// Timeout 后端单次 HTTP 请求的超时，0 表示不限制
	Timeout time.Duration `mapstructure:"timeout"`
	ComfyUI ComfyUIConfig `mapstructure:"comfyui"`
}

type ComfyUIConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Workflow     string        `mapstructure:"workflow"`
}

type SessionConfig struct {
	IdleTTL   time.Duration `mapstructure:"idle_ttl"`
	SweepSpec string        `mapstructure:"sweep_spec"`
}

type ViewConfig struct {
	MaxWidth      int     `mapstructure:"max_width"`
	MaxHeight     int     `mapstructure:"max_height"`
	StaticOpacity float64 `mapstructure:"static_opacity"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	BackendPassthrough = "passthrough"
	BackendHTTP        = "http"
	BackendComfyUI     = "comfyui"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("server.timeout", 5*time.Minute)
	v.SetDefault("server.idle_timeout", 2*time.Minute)

	v.SetDefault("remote.endpoint", "")
	v.SetDefault("remote.timeout", 0)

	v.SetDefault("backend.kind", BackendPassthrough)
	v.SetDefault("backend.endpoint", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.comfyui.base_url", "http://127.0.0.1:8188/")
	v.SetDefault("backend.comfyui.poll_interval", 500*time.Millisecond)
	v.SetDefault("backend.comfyui.workflow", "")

	v.SetDefault("session.idle_ttl", 30*time.Minute)
	v.SetDefault("session.sweep_spec", "@every 1m")

	v.SetDefault("view.max_width", 0)
	v.SetDefault("view.max_height", 400)
	v.SetDefault("view.static_opacity", 0.3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig 读取 path 指定的配置文件；path 为空时在 ./config 下找 config.yaml，
// 找不到文件就只用默认值和环境变量（CUTOUT_SERVER_PORT 之类）
func LoadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("cutout")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendPassthrough, BackendComfyUI:
	case BackendHTTP:
		if c.Backend.Endpoint == "" {
			return errors.New("backend.endpoint is required for http backend")
		}
	default:
		return fmt.Errorf("unknown backend.kind %q", c.Backend.Kind)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.View.StaticOpacity < 0 || c.View.StaticOpacity > 1 {
		return fmt.Errorf("view.static_opacity %v out of [0,1]", c.View.StaticOpacity)
	}
	return nil
}

// RemoteEndpoint 工作流使用的远程地址；未配置时指向本服务监听的地址，
// 监听通配地址时走回环
func (c *Config) RemoteEndpoint() string {
	if c.Remote.Endpoint != "" {
		return c.Remote.Endpoint
	}
	host := c.Server.Host
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, c.Server.Port) + "/remove-background"
}
