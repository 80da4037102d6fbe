package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// PortConfig 一个端口的配置，输入输出为pcap文件
type PortConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Driver      string `yaml:"driver" toml:"driver"`
	MAC         string `yaml:"mac" toml:"mac"`
	Promiscuous bool   `yaml:"promiscuous" toml:"promiscuous"`
	Input       string `yaml:"input" toml:"input"`
	Output      string `yaml:"output" toml:"output"`
	MaxFileSize int64  `yaml:"max_file_size" toml:"max_file_size"`
	L2Swap      bool   `yaml:"l2_swap" toml:"l2_swap"`
}

type Config struct {
	Log struct {
		Level      string `yaml:"level" toml:"level"`
		Dir        string `yaml:"dir" toml:"dir"`
		Filename   string `yaml:"filename" toml:"filename"`
		MaxAge     int    `yaml:"max_age" toml:"max_age"`
		RotateTime int    `yaml:"rotate_time" toml:"rotate_time"`
	} `yaml:"log" toml:"log"`

	Control struct {
		Prompt    string `yaml:"prompt" toml:"prompt"`
		ScriptDir string `yaml:"script_dir" toml:"script_dir"`
		QueueSize int    `yaml:"queue_size" toml:"queue_size"`
	} `yaml:"control" toml:"control"`

	API struct {
		Enable bool   `yaml:"enable" toml:"enable"`
		Host   string `yaml:"host" toml:"host"`
		Port   int    `yaml:"port" toml:"port"`
	} `yaml:"api" toml:"api"`

	Pipeline struct {
		BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
	} `yaml:"pipeline" toml:"pipeline"`

	Ports []PortConfig `yaml:"ports" toml:"ports"`
}

// Default 默认配置，只有一个没有输入输出的端口
func Default() *Config {
	cfg := &Config{}
	cfg.Log.Level = "WARN"
	cfg.Log.Dir = "logs"
	cfg.Log.Filename = "runpmd.log"
	cfg.Log.MaxAge = 7
	cfg.Log.RotateTime = 24
	cfg.Control.Prompt = ">>> "
	cfg.Control.QueueSize = 16
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 8080
	cfg.Pipeline.BufferSize = 1024
	cfg.Ports = []PortConfig{{Name: "port0", Driver: "raw"}}
	return cfg
}

// applyDefaults 补齐配置文件中没有给出的字段
func (c *Config) applyDefaults() {
	def := Default()
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Dir == "" {
		c.Log.Dir = def.Log.Dir
	}
	if c.Log.Filename == "" {
		c.Log.Filename = def.Log.Filename
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = def.Log.MaxAge
	}
	if c.Log.RotateTime == 0 {
		c.Log.RotateTime = def.Log.RotateTime
	}
	if c.Control.Prompt == "" {
		c.Control.Prompt = def.Control.Prompt
	}
	if c.Control.QueueSize == 0 {
		c.Control.QueueSize = def.Control.QueueSize
	}
	if c.API.Host == "" {
		c.API.Host = def.API.Host
	}
	if c.API.Port == 0 {
		c.API.Port = def.API.Port
	}
	if c.Pipeline.BufferSize == 0 {
		c.Pipeline.BufferSize = def.Pipeline.BufferSize
	}
	for i := range c.Ports {
		if c.Ports[i].Name == "" {
			c.Ports[i].Name = fmt.Sprintf("port%d", i)
		}
		if c.Ports[i].Driver == "" {
			c.Ports[i].Driver = "raw"
		}
	}
}

func (c *Config) Validate() error {
	if c.Pipeline.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.Control.QueueSize <= 0 {
		return fmt.Errorf("control queue size must be positive")
	}
	if c.API.Enable && (c.API.Port <= 0 || c.API.Port > 65535) {
		return fmt.Errorf("invalid api port: %d", c.API.Port)
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("at least one port is required")
	}
	if len(c.Ports) > 1<<16 {
		return fmt.Errorf("too many ports: %d", len(c.Ports))
	}
	for i, p := range c.Ports {
		if p.MAC != "" {
			if _, err := net.ParseMAC(p.MAC); err != nil {
				return fmt.Errorf("port %d: invalid mac %q: %w", i, p.MAC, err)
			}
		}
		if p.MaxFileSize < 0 {
			return fmt.Errorf("port %d: max file size must not be negative", i)
		}
	}
	return nil
}

// LoadConfig 读取配置文件，.toml 后缀按TOML解析，其余按YAML解析
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
