package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TRANSFERVAL_HUB_URL.
const EnvPrefix = "TRANSFERVAL"

// DefaultAccounts are the destination accounts accepted when none are configured.
var DefaultAccounts = []string{"SANTANDER", "BANCO ESTADO", "BCI"}

type Config struct {
	DBSource string        `mapstructure:"db_source"`
	Port     string        `mapstructure:"port"`
	Env      string        `mapstructure:"env"`
	HubURL   string        `mapstructure:"hub_url"`
	Redis    RedisConfig   `mapstructure:"redis"`
	Hub      HubConfig     `mapstructure:"hub"`
	Logging  LoggingConfig `mapstructure:"logging"`
	Accounts []string      `mapstructure:"accounts"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

type HubConfig struct {
	// ValidationTimeout is how long a request waits for an admin before the
	// hub times it out.
	ValidationTimeout time.Duration `mapstructure:"validation_timeout"`
	AuditTimeout      time.Duration `mapstructure:"audit_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("hub_url", "ws://localhost:8080/ws")
	v.SetDefault("redis.key_prefix", "transferval:decision:")
	v.SetDefault("redis.ttl", 24*time.Hour)
	v.SetDefault("hub.validation_timeout", 3*time.Minute)
	v.SetDefault("hub.audit_timeout", 2*time.Second)
	v.SetDefault("hub.read_timeout", 60*time.Second)
	v.SetDefault("hub.write_timeout", 10*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("accounts", DefaultAccounts)
}

// Load reads defaults, the optional config file at path and the environment.
// The unprefixed DB_SOURCE, SERVER_PORT and ENVIRONMENT variables are still
// honored.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("db_source", EnvPrefix+"_DB_SOURCE", "DB_SOURCE")
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "SERVER_PORT")
	_ = v.BindEnv("env", EnvPrefix+"_ENV", "ENVIRONMENT")
	_ = v.BindEnv("accounts", EnvPrefix+"_ACCOUNTS")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	// Env values arrive as one comma separated string.
	if raw, ok := v.Get("accounts").(string); ok {
		cfg.Accounts = splitList(raw)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the hub cannot run with.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.Hub.ValidationTimeout <= 0 {
		return fmt.Errorf("hub.validation_timeout must be positive, got %s", c.Hub.ValidationTimeout)
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= c.Hub.ValidationTimeout {
		return fmt.Errorf("redis.ttl (%s) must outlive hub.validation_timeout (%s)", c.Redis.TTL, c.Hub.ValidationTimeout)
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
