package config

import (
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the process-wide configuration
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	Mail      MailConfig      `koanf:"mail"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Cache     CacheConfig     `koanf:"cache"`
	Log       LogConfig       `koanf:"log"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type ServerConfig struct {
	HTTPPort        int           `koanf:"http_port"        validate:"min=1,max=65535" env:"HTTP_PORT"`
	GRPCPort        int           `koanf:"grpc_port"        validate:"min=1,max=65535" env:"GRPC_PORT"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"            env:"SHUTDOWN_TIMEOUT"`
	CookieSecure    bool          `koanf:"cookie_secure"                               env:"COOKIE_SECURE"`
	GinMode         string        `koanf:"gin_mode"         validate:"oneof=debug release test" env:"GIN_MODE"`
}

type DatabaseConfig struct {
	URL            string `koanf:"url"              validate:"required" env:"DATABASE_URL"`
	MaxConns       int32  `koanf:"max_conns"        validate:"min=1"    env:"DB_MAX_CONNS"`
	MigrateOnStart bool   `koanf:"migrate_on_start"                     env:"DB_MIGRATE_ON_START"`
}

type AuthConfig struct {
	JWTSecret            string        `koanf:"jwt_secret"             validate:"required,min=16" env:"JWT_SECRET_KEY"`
	TokenTTL             time.Duration `koanf:"token_ttl"              validate:"gt=0"            env:"TOKEN_TTL"`
	LockoutThreshold     int           `koanf:"lockout_threshold"      validate:"min=1"           env:"LOCKOUT_THRESHOLD"`
	LockoutWindow        time.Duration `koanf:"lockout_window"         validate:"gt=0"            env:"LOCKOUT_WINDOW"`
	ResetTokenTTL        time.Duration `koanf:"reset_token_ttl"        validate:"gt=0"            env:"RESET_TOKEN_TTL"`
	PasswordHistoryDepth int           `koanf:"password_history_depth" validate:"min=1"           env:"PASSWORD_HISTORY_DEPTH"`
	UnifyPendingError    bool          `koanf:"unify_pending_error"                               env:"UNIFY_PENDING_ERROR"`
	Argon2Memory         uint32        `koanf:"argon2_memory_kib"      validate:"min=8"           env:"ARGON2_MEMORY_KIB"`
	Argon2Iterations     uint32        `koanf:"argon2_iterations"      validate:"min=1"           env:"ARGON2_ITERATIONS"`
	Argon2Parallelism    uint8         `koanf:"argon2_parallelism"     validate:"min=1"           env:"ARGON2_PARALLELISM"`
}

type MailConfig struct {
	Provider     string `koanf:"provider"       validate:"oneof=log resend"       env:"MAIL_PROVIDER"`
	ResendAPIKey string `koanf:"resend_api_key" validate:"required_if=Provider resend" env:"RESEND_API_KEY"`
	From         string `koanf:"from"           validate:"required_if=Provider resend" env:"MAIL_FROM"`
	ResetURLBase string `koanf:"reset_url_base" validate:"required,url"          env:"RESET_URL_BASE"`
}

type RateLimitConfig struct {
	Enabled       bool          `koanf:"enabled"        env:"RATE_LIMIT_ENABLED"`
	GlobalLimit   int64         `koanf:"global_limit"   validate:"min=1" env:"RATE_LIMIT_GLOBAL"`
	AuthLimit     int64         `koanf:"auth_limit"     validate:"min=1" env:"RATE_LIMIT_AUTH"`
	Period        time.Duration `koanf:"period"         validate:"gt=0"  env:"RATE_LIMIT_PERIOD"`
	RedisAddr     string        `koanf:"redis_addr"     env:"REDIS_ADDR"`
	RedisPassword string        `koanf:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `koanf:"redis_db"       env:"REDIS_DB"`
	Prefix        string        `koanf:"prefix"         env:"RATE_LIMIT_PREFIX"`
}

type CacheConfig struct {
	PermissionSize int           `koanf:"permission_size" validate:"min=1" env:"PERMISSION_CACHE_SIZE"`
	PermissionTTL  time.Duration `koanf:"permission_ttl"  validate:"gt=0"  env:"PERMISSION_CACHE_TTL"`
}

type LogConfig struct {
	Level  string `koanf:"level"  env:"LOG_LEVEL"`
	Format string `koanf:"format" validate:"oneof=json console" env:"LOG_FORMAT"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled" env:"METRICS_ENABLED"`
	Path    string `koanf:"path"    validate:"startswith=/" env:"METRICS_PATH"`
}

// Default returns the configuration defaults. Required secrets are left empty.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			GRPCPort:        9090,
			ShutdownTimeout: 15 * time.Second,
			CookieSecure:    true,
			GinMode:         "release",
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Auth: AuthConfig{
			TokenTTL:             24 * time.Hour,
			LockoutThreshold:     5,
			LockoutWindow:        15 * time.Minute,
			ResetTokenTTL:        30 * time.Minute,
			PasswordHistoryDepth: 5,
			Argon2Memory:         64 * 1024,
			Argon2Iterations:     3,
			Argon2Parallelism:    2,
		},
		Mail: MailConfig{
			Provider:     "log",
			ResetURLBase: "http://localhost:3000/reset-password",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			GlobalLimit: 300,
			AuthLimit:   20,
			Period:      time.Minute,
			Prefix:      "access:ratelimit:",
		},
		Cache: CacheConfig{
			PermissionSize: 1024,
			PermissionTTL:  time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration from defaults, the optional dotenv files and
// the process environment, in that order of precedence
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	envToPath := EnvMappings()
	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: "",
		TransformFunc: func(key, value string) (string, any) {
			path, ok := envToPath[key]
			if !ok {
				return "", nil
			}
			return path, value
		},
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
			TagName:          "koanf",
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the struct tags of the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	return nil
}

// EnvMappings maps environment variable names to koanf paths using the env
// struct tags
func EnvMappings() map[string]string {
	out := make(map[string]string)
	collectEnv(reflect.TypeOf(Config{}), "", out)
	return out
}

func collectEnv(t reflect.Type, prefix string, out map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("koanf")
		if tag == "" || tag == "-" {
			continue
		}

		path := tag
		if prefix != "" {
			path = prefix + "." + tag
		}

		if envName := field.Tag.Get("env"); envName != "" {
			out[envName] = path
		}

		if field.Type.Kind() == reflect.Struct && field.Type.PkgPath() != "time" {
			collectEnv(field.Type, path, out)
		}
	}
}
