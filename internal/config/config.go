// Package config provides configuration loading for the ZIA gateway.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Endpoint kinds.
const (
	KindHTTP      = "http"
	KindAnthropic = "anthropic"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMongo  = "mongo"
)

// DefaultPersona is the persona every deployment must define.
const DefaultPersona = "default"

// Config holds all configuration for the gateway and its front-ends.
type Config struct {
	Route      RouteConfig            `mapstructure:"route"`
	Memory     MemoryConfig           `mapstructure:"memory"`
	Personas   map[string]PersonaSpec `mapstructure:"personas"`
	PersonaDir string                 `mapstructure:"persona_dir"`
	Overrides  []Override             `mapstructure:"overrides"`
	Storage    StorageConfig          `mapstructure:"storage"`
	Slack      SlackConfig            `mapstructure:"slack"`
	Discord    DiscordConfig          `mapstructure:"discord"`
	Web        WebConfig              `mapstructure:"web"`
	Log        LogConfig              `mapstructure:"log"`
}

// RouteConfig describes the AI endpoints and request shape.
type RouteConfig struct {
	Endpoints []Endpoint    `mapstructure:"endpoints"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Endpoint is one AI backend. In a config file it may be written as a bare
// URL string, which yields an http endpoint.
type Endpoint struct {
	URL          string `mapstructure:"url"`
	Kind         string `mapstructure:"kind"`
	APIKey       string `mapstructure:"api_key"`
	DefaultModel string `mapstructure:"default_model"`
}

// MemoryConfig bounds conversation retention and prompt context.
type MemoryConfig struct {
	// LogLimit is the number of entries retained per conversation.
	LogLimit int `mapstructure:"log_limit"`
	// LoadLimit is the number of entries sent with each prompt.
	LoadLimit int `mapstructure:"load_limit"`
}

// PersonaSpec is a system prompt. In a config file it may be a bare string
// or an object with role and content.
type PersonaSpec struct {
	Role    string `mapstructure:"role"`
	Content string `mapstructure:"content"`
}

// Override maps conversations on one platform to a persona. Match is either
// an exact conversation scope or a glob pattern.
type Override struct {
	Platform string `mapstructure:"platform"`
	Match    string `mapstructure:"match"`
	Persona  string `mapstructure:"persona"`
}

// StorageConfig selects and configures the conversation store.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	Redis   RedisConfig `mapstructure:"redis"`
	Mongo   MongoConfig `mapstructure:"mongo"`
}

// RedisConfig configures the redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MongoConfig configures the mongo backend.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// SlackConfig configures the Slack Socket Mode front-end.
type SlackConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	BotToken string   `mapstructure:"bot_token"`
	AppToken string   `mapstructure:"app_token"`
	Channels []string `mapstructure:"channels"`
	Command  string   `mapstructure:"command"`
}

// DiscordConfig configures the Discord front-end.
type DiscordConfig struct {
	Enabled  bool             `mapstructure:"enabled"`
	Token    string           `mapstructure:"token"`
	Channels []DiscordChannel `mapstructure:"channels"`
}

// DiscordChannel is a channel the Discord bot answers in, with an optional persona.
type DiscordChannel struct {
	ID      string `mapstructure:"id"`
	Persona string `mapstructure:"persona"`
}

// WebConfig configures the browser chat API.
type WebConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Mode         string        `mapstructure:"mode"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	TokenTTL     time.Duration `mapstructure:"token_ttl"`
	UsersFile    string        `mapstructure:"users_file"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigError reports configuration that prevents the process from starting.
type ConfigError struct {
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return "configuration error: " + e.Err.Error()
	}
	return "configuration errors:\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Option adjusts the viper instance before the config is read, for example
// to bind command line flags.
type Option func(v *viper.Viper) error

// Load reads configuration from the given file (or the default search path
// when empty) and from ZIA_* environment variables, then validates it.
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("zia")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	// Set prefix for environment variables
	v.SetEnvPrefix("ZIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindSecrets(v)
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, &ConfigError{Err: err}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, &ConfigError{Err: fmt.Errorf("read config: %w", err)}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("decode config: %w", err)}
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("route.model", "qwen3-v1-4b")
	v.SetDefault("route.max_tokens", 100)
	v.SetDefault("route.timeout", "10s")

	v.SetDefault("memory.log_limit", 100)
	v.SetDefault("memory.load_limit", 10)

	v.SetDefault("storage.backend", BackendFile)
	v.SetDefault("storage.path", "runtime/db")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.prefix", "zia:conv:")
	v.SetDefault("storage.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("storage.mongo.database", "zia")
	v.SetDefault("storage.mongo.collection", "conversations")

	v.SetDefault("slack.command", "/zia")

	v.SetDefault("web.addr", "127.0.0.1:5000")
	v.SetDefault("web.mode", "release")
	v.SetDefault("web.token_ttl", "60m")
	v.SetDefault("web.users_file", "runtime/users.json")
	v.SetDefault("web.history_limit", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// bindSecrets makes secrets settable from the environment alone.
func bindSecrets(v *viper.Viper) {
	for _, key := range []string{
		"slack.enabled",
		"slack.bot_token",
		"slack.app_token",
		"discord.enabled",
		"discord.token",
		"web.enabled",
		"web.jwt_secret",
		"storage.redis.password",
	} {
		_ = v.BindEnv(key)
	}
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToStructHook,
	)
}

// stringToStructHook lets endpoints and personas be written as bare strings.
func stringToStructHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s, _ := data.(string)
	switch to {
	case reflect.TypeOf(Endpoint{}):
		return Endpoint{URL: s}, nil
	case reflect.TypeOf(PersonaSpec{}):
		return PersonaSpec{Content: s}, nil
	}
	return data, nil
}

func (c *Config) normalize() {
	for i := range c.Route.Endpoints {
		ep := &c.Route.Endpoints[i]
		ep.Kind = strings.ToLower(strings.TrimSpace(ep.Kind))
		if ep.Kind == "" {
			ep.Kind = KindHTTP
		}
		ep.URL = strings.TrimSpace(ep.URL)
	}
	for name, p := range c.Personas {
		if p.Role == "" {
			p.Role = "system"
			c.Personas[name] = p
		}
	}
	// Persona map keys are lowercased by viper; references must match them.
	for i := range c.Overrides {
		c.Overrides[i].Persona = strings.ToLower(strings.TrimSpace(c.Overrides[i].Persona))
	}
	for i := range c.Discord.Channels {
		c.Discord.Channels[i].Persona = strings.ToLower(strings.TrimSpace(c.Discord.Channels[i].Persona))
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
}

// Validate checks that all required configuration is present.
func (c *Config) Validate() error {
	var errs []string

	// Route
	if len(c.Route.Endpoints) == 0 {
		errs = append(errs, "route.endpoints must list at least one endpoint")
	}
	for i, ep := range c.Route.Endpoints {
		switch ep.Kind {
		case KindHTTP:
			if ep.URL == "" {
				errs = append(errs, fmt.Sprintf("route.endpoints[%d]: url is required", i))
			}
		case KindAnthropic:
			if ep.APIKey == "" {
				errs = append(errs, fmt.Sprintf("route.endpoints[%d]: api_key is required for anthropic endpoints", i))
			}
		default:
			errs = append(errs, fmt.Sprintf("route.endpoints[%d]: unknown kind %q, must be 'http' or 'anthropic'", i, ep.Kind))
		}
	}
	if c.Route.MaxTokens <= 0 {
		errs = append(errs, "route.max_tokens must be positive")
	}
	if c.Route.Timeout <= 0 {
		errs = append(errs, "route.timeout must be positive")
	}

	// Memory
	if c.Memory.LogLimit <= 0 {
		errs = append(errs, "memory.log_limit must be positive")
	}
	if c.Memory.LoadLimit <= 0 {
		errs = append(errs, "memory.load_limit must be positive")
	}
	if c.Memory.LoadLimit > c.Memory.LogLimit && c.Memory.LogLimit > 0 {
		errs = append(errs, fmt.Sprintf("memory.load_limit (%d) must not exceed memory.log_limit (%d)", c.Memory.LoadLimit, c.Memory.LogLimit))
	}

	// Personas are completed from persona_dir later, so only check when it is unset.
	if c.PersonaDir == "" {
		if _, ok := c.Personas[DefaultPersona]; !ok {
			errs = append(errs, "personas.default is required")
		}
	}
	for i, o := range c.PersonaOverrides() {
		if o.Platform == "" || o.Match == "" || o.Persona == "" {
			errs = append(errs, fmt.Sprintf("overrides[%d]: platform, match and persona are required", i))
		}
	}

	// Storage
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendBolt, BackendSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Sprintf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	case BackendRedis:
		if c.Storage.Redis.Addr == "" {
			errs = append(errs, "storage.redis.addr is required for the redis backend")
		}
	case BackendMongo:
		if c.Storage.Mongo.URI == "" || c.Storage.Mongo.Database == "" {
			errs = append(errs, "storage.mongo.uri and storage.mongo.database are required for the mongo backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid storage.backend %q", c.Storage.Backend))
	}

	// Front-ends
	if c.Slack.Enabled {
		if c.Slack.BotToken == "" {
			errs = append(errs, "ZIA_SLACK_BOT_TOKEN is required when slack is enabled")
		}
		if c.Slack.AppToken == "" {
			errs = append(errs, "ZIA_SLACK_APP_TOKEN is required when slack is enabled")
		}
	}
	if c.Discord.Enabled {
		if c.Discord.Token == "" {
			errs = append(errs, "ZIA_DISCORD_TOKEN is required when discord is enabled")
		}
		if len(c.Discord.Channels) == 0 {
			errs = append(errs, "discord.channels must list at least one channel")
		}
		for i, ch := range c.Discord.Channels {
			if ch.ID == "" {
				errs = append(errs, fmt.Sprintf("discord.channels[%d]: id is required", i))
			}
		}
	}
	if c.Web.Enabled {
		if c.Web.JWTSecret == "" {
			errs = append(errs, "ZIA_WEB_JWT_SECRET is required when web is enabled")
		}
		if c.Web.TokenTTL <= 0 {
			errs = append(errs, "web.token_ttl must be positive")
		}
		if c.Web.UsersFile == "" {
			errs = append(errs, "web.users_file is required when web is enabled")
		}
	}

	if len(errs) > 0 {
		return &ConfigError{Problems: errs}
	}

	return nil
}

// PersonaOverrides returns the configured overrides followed by the
// personas attached to Discord channels.
func (c *Config) PersonaOverrides() []Override {
	out := make([]Override, 0, len(c.Overrides)+len(c.Discord.Channels))
	out = append(out, c.Overrides...)
	for _, ch := range c.Discord.Channels {
		if ch.Persona == "" {
			continue
		}
		out = append(out, Override{Platform: "discord", Match: ch.ID, Persona: ch.Persona})
	}
	return out
}

// PersonaContents returns persona name to system prompt.
func (c *Config) PersonaContents() map[string]string {
	out := make(map[string]string, len(c.Personas))
	for name, p := range c.Personas {
		out[name] = p.Content
	}
	return out
}
