package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// FileEnv names the optional config file overlay.
const FileEnv = "CHROMELINK_CONFIG"

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Session    SessionConfig    `yaml:"session"`
	Request    RequestConfig    `yaml:"request"`
	Extension  ExtensionConfig  `yaml:"extension"`
	Controller ControllerConfig `yaml:"controller"`
	Injection  InjectionConfig  `yaml:"injection"`
	Logging    LogConfig        `yaml:"logging"`
	RateLimit  RateLimitConfig  `yaml:"rateLimit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"9000" yaml:"port"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0" yaml:"host"`
	MaxConnections  int           `envconfig:"MAX_CONNECTIONS" default:"1024" yaml:"maxConnections"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" yaml:"shutdownTimeout"`
	AllowedOrigins  []string      `envconfig:"ALLOWED_ORIGINS" yaml:"allowedOrigins"`
}

// SessionConfig holds session lifecycle policy.
type SessionConfig struct {
	GracePeriod    time.Duration `envconfig:"SESSION_GRACE_PERIOD" default:"60s" yaml:"gracePeriod"`
	MinGracePeriod time.Duration `envconfig:"SESSION_MIN_GRACE" default:"1s" yaml:"minGracePeriod"`
	MaxGracePeriod time.Duration `envconfig:"SESSION_MAX_GRACE" default:"1h" yaml:"maxGracePeriod"`
}

// RequestConfig holds command deadline policy.
type RequestConfig struct {
	Timeout       time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s" yaml:"timeout"`
	TimeoutSlack  time.Duration `envconfig:"REQUEST_TIMEOUT_SLACK" default:"5s" yaml:"timeoutSlack"`
	SweepInterval time.Duration `envconfig:"REQUEST_SWEEP_INTERVAL" default:"5s" yaml:"sweepInterval"`
}

// ExtensionConfig holds extension link settings.
type ExtensionConfig struct {
	PingInterval    time.Duration `envconfig:"EXTENSION_PING_INTERVAL" default:"20s" yaml:"pingInterval"`
	PongWait        time.Duration `envconfig:"EXTENSION_PONG_WAIT" default:"60s" yaml:"pongWait"`
	WriteTimeout    time.Duration `envconfig:"EXTENSION_WRITE_TIMEOUT" default:"5s" yaml:"writeTimeout"`
	SendBuffer      int           `envconfig:"EXTENSION_SEND_BUFFER" default:"256" yaml:"sendBuffer"`
	MaxMessageBytes int64         `envconfig:"EXTENSION_MAX_MESSAGE_BYTES" default:"33554432" yaml:"maxMessageBytes"`
	BreakerFailures uint32        `envconfig:"EXTENSION_BREAKER_FAILURES" default:"3" yaml:"breakerFailures"`
	BreakerCooldown time.Duration `envconfig:"EXTENSION_BREAKER_COOLDOWN" default:"5s" yaml:"breakerCooldown"`
}

// ControllerConfig holds controller socket settings.
type ControllerConfig struct {
	MaxMessageBytes int64   `envconfig:"CONTROLLER_MAX_MESSAGE_BYTES" default:"1048576" yaml:"maxMessageBytes"`
	MaxJSONDepth    int     `envconfig:"CONTROLLER_MAX_JSON_DEPTH" default:"32" yaml:"maxJSONDepth"`
	SendBuffer      int     `envconfig:"CONTROLLER_SEND_BUFFER" default:"64" yaml:"sendBuffer"`
	CommandRate     float64 `envconfig:"CONTROLLER_COMMAND_RATE" default:"50" yaml:"commandRate"`
	CommandBurst    int     `envconfig:"CONTROLLER_COMMAND_BURST" default:"100" yaml:"commandBurst"`
}

// InjectionConfig holds injection registry settings.
type InjectionConfig struct {
	ValidateScripts bool `envconfig:"INJECTION_VALIDATE_SCRIPTS" default:"true" yaml:"validateScripts"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development"`
}

// RateLimitConfig holds per-IP HTTP rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requestsPerSecond"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled"`
}

// Load reads the optional file overlay, then environment variables.
// Environment wins for every variable that is set.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "9000",
			Host:            "0.0.0.0",
			MaxConnections:  1024,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			GracePeriod:    60 * time.Second,
			MinGracePeriod: time.Second,
			MaxGracePeriod: time.Hour,
		},
		Request: RequestConfig{
			Timeout:       30 * time.Second,
			TimeoutSlack:  5 * time.Second,
			SweepInterval: 5 * time.Second,
		},
		Extension: ExtensionConfig{
			PingInterval:    20 * time.Second,
			PongWait:        60 * time.Second,
			WriteTimeout:    5 * time.Second,
			SendBuffer:      256,
			MaxMessageBytes: 32 << 20,
			BreakerFailures: 3,
			BreakerCooldown: 5 * time.Second,
		},
		Controller: ControllerConfig{
			MaxMessageBytes: 1 << 20,
			MaxJSONDepth:    32,
			SendBuffer:      64,
			CommandRate:     50,
			CommandBurst:    100,
		},
		Injection: InjectionConfig{
			ValidateScripts: true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects combinations the broker cannot run with.
func (c *Config) Validate() error {
	if c.Session.MinGracePeriod > c.Session.MaxGracePeriod {
		return fmt.Errorf("session min grace %s exceeds max %s", c.Session.MinGracePeriod, c.Session.MaxGracePeriod)
	}
	if c.Request.Timeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.Request.Timeout)
	}
	if c.Extension.PingInterval >= c.Extension.PongWait {
		return fmt.Errorf("extension ping interval %s must be below pong wait %s", c.Extension.PingInterval, c.Extension.PongWait)
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = decodeTOML(data, cfg)
	default:
		return fmt.Errorf("unsupported config file type %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}
	return nil
}

// decodeTOML routes TOML through the YAML decoder so both formats share
// field names and accept duration strings such as "90s".
func decodeTOML(data []byte, cfg *Config) error {
	var tree map[string]interface{}
	if err := toml.Unmarshal(data, &tree); err != nil {
		return err
	}
	normalized, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(normalized, cfg)
}

// applyEnv overlays only the variables present in the environment.
// envconfig.Process alone would reset unset fields to their tag defaults
// and clobber file values, so each section is processed into a scratch
// copy and only the set fields are carried over.
func applyEnv(cfg *Config) error {
	sections := []interface{}{
		&cfg.Server, &cfg.Session, &cfg.Request, &cfg.Extension,
		&cfg.Controller, &cfg.Injection, &cfg.Logging, &cfg.RateLimit,
	}
	for _, section := range sections {
		scratch := reflect.New(reflect.TypeOf(section).Elem()).Interface()
		if err := envconfig.Process("", scratch); err != nil {
			return err
		}

		from, err := envconfig.Gather("", scratch)
		if err != nil {
			return err
		}
		to, err := envconfig.Gather("", section)
		if err != nil {
			return err
		}
		for i, info := range to {
			if _, ok := os.LookupEnv(info.Key); ok {
				info.Field.Set(from[i].Field)
			}
		}
	}
	return nil
}
