package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Redis     RedisConfig
	NATS      NATSConfig
	JWT       JWTConfig
	Providers ProvidersConfig
	Limits    LimitsConfig
	Credit    CreditConfig
	Relay     RelayConfig
	Secrets   SecretsConfig
	CORS      CORSConfig
	Log       LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	URL     string
	Enabled bool
}

type JWTConfig struct {
	AccessSecret  string
	RefreshSecret string
	AccessExpiry  time.Duration
	RefreshExpiry time.Duration
}

// ProviderConfig holds per-provider tuning. Timeouts are deliberately tight:
// the fallback chain's worst case is the sum of attempted timeouts, so each
// one stays just above the provider's realistic success latency.
type ProviderConfig struct {
	BaseURL   string
	KeySecret string // secret name resolved through the secret store
	Timeout   time.Duration
}

type ProvidersConfig struct {
	Gemini      ProviderConfig
	GCloudTTS   ProviderConfig
	GCloudSTT   ProviderConfig
	GTTS        ProviderConfig
	GTTSEnabled bool
}

// RateLimitRule is a fixed-window limit: Max requests per Window.
type RateLimitRule struct {
	Max    int
	Window time.Duration
}

type LimitsConfig struct {
	Translation RateLimitRule
	Auth        RateLimitRule
	Default     RateLimitRule
}

type CreditConfig struct {
	// WeeklyAllowanceSeconds is granted on each weekly reset.
	WeeklyAllowanceSeconds int64
	// MaxSessionSeconds is the conservative pre-debit ceiling; the actual
	// cost is reconciled once the audio duration is known.
	MaxSessionSeconds int64
	// Products maps in-app purchase product IDs to granted seconds.
	Products map[string]int64
	// PurchaseRootKey is the PEM-encoded public key that signed purchase
	// transactions must verify against.
	PurchaseRootKey string
	// DeviceSalt is mixed into anonymous device identifiers before they are
	// used as ledger keys, so raw device IDs never reach storage.
	DeviceSalt string
}

type RelayConfig struct {
	ResponseTimeout time.Duration
	ChunkSize       int
}

type SecretsConfig struct {
	// File is an optional JSON secrets file checked before the environment.
	File string
	// RotationInterval is how long a resolved key is cached before being
	// re-read; rotation takes effect without a restart.
	RotationInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		NATS: NATSConfig{
			URL:     k.String("nats.url"),
			Enabled: k.Bool("nats.enabled"),
		},
		JWT: JWTConfig{
			AccessSecret:  k.String("jwt.access.secret"),
			RefreshSecret: k.String("jwt.refresh.secret"),
		},
		Providers: ProvidersConfig{
			Gemini: ProviderConfig{
				BaseURL:   k.String("providers.gemini.url"),
				KeySecret: k.String("providers.gemini.key.secret"),
			},
			GCloudTTS: ProviderConfig{
				BaseURL:   k.String("providers.gcloud.tts.url"),
				KeySecret: k.String("providers.gcloud.key.secret"),
			},
			GCloudSTT: ProviderConfig{
				BaseURL:   k.String("providers.gcloud.stt.url"),
				KeySecret: k.String("providers.gcloud.key.secret"),
			},
			GTTS: ProviderConfig{
				BaseURL: k.String("providers.gtts.url"),
			},
			GTTSEnabled: k.Bool("providers.gtts.enabled"),
		},
		Credit: CreditConfig{
			WeeklyAllowanceSeconds: k.Int64("credit.weekly.allowance.seconds"),
			MaxSessionSeconds:      k.Int64("credit.max.session.seconds"),
			PurchaseRootKey:        k.String("credit.purchase.root.key"),
			DeviceSalt:             k.String("credit.device.salt"),
		},
		Secrets: SecretsConfig{
			File: k.String("secrets.file"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.User == "" {
		cfg.DB.User = "voxlate"
	}
	if cfg.DB.Name == "" {
		cfg.DB.Name = "voxlate"
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 25
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = "nats://localhost:4222"
	}
	if cfg.Providers.Gemini.BaseURL == "" {
		cfg.Providers.Gemini.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Providers.Gemini.KeySecret == "" {
		cfg.Providers.Gemini.KeySecret = "gemini-api-key"
	}
	if cfg.Providers.GCloudTTS.BaseURL == "" {
		cfg.Providers.GCloudTTS.BaseURL = "https://texttospeech.googleapis.com/v1"
	}
	if cfg.Providers.GCloudSTT.BaseURL == "" {
		cfg.Providers.GCloudSTT.BaseURL = "https://speech.googleapis.com/v1"
	}
	if cfg.Providers.GCloudTTS.KeySecret == "" {
		cfg.Providers.GCloudTTS.KeySecret = "gcloud-api-key"
	}
	if cfg.Providers.GCloudSTT.KeySecret == "" {
		cfg.Providers.GCloudSTT.KeySecret = "gcloud-api-key"
	}
	if cfg.Providers.GTTS.BaseURL == "" {
		cfg.Providers.GTTS.BaseURL = "https://translate.google.com"
	}
	if cfg.Credit.WeeklyAllowanceSeconds == 0 {
		cfg.Credit.WeeklyAllowanceSeconds = 1800 // 30 minutes per week
	}
	if cfg.Credit.MaxSessionSeconds == 0 {
		cfg.Credit.MaxSessionSeconds = 60
	}
	if len(cfg.Credit.Products) == 0 {
		cfg.Credit.Products = map[string]int64{
			"credits.minutes.30":  30 * 60,
			"credits.minutes.120": 120 * 60,
			"credits.minutes.300": 300 * 60,
		}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	// Provider timeouts: primary shorter than fallback, so a slow primary is
	// abandoned early enough to still fit a fallback attempt in the budget.
	cfg.Providers.Gemini.Timeout, err = durationKey(k, "providers.gemini.timeout", 3*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Providers.GCloudTTS.Timeout, err = durationKey(k, "providers.gcloud.tts.timeout", 4*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Providers.GCloudSTT.Timeout, err = durationKey(k, "providers.gcloud.stt.timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Providers.GTTS.Timeout, err = durationKey(k, "providers.gtts.timeout", 4*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.JWT.AccessExpiry, err = durationKey(k, "jwt.access.expiry", 15*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.JWT.RefreshExpiry, err = durationKey(k, "jwt.refresh.expiry", 168*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.Relay.ResponseTimeout, err = durationKey(k, "relay.response.timeout", 30*time.Second)
	if err != nil {
		return nil, err
	}
	if cfg.Relay.ChunkSize = k.Int("relay.chunk.size"); cfg.Relay.ChunkSize == 0 {
		cfg.Relay.ChunkSize = 100 * 1024
	}

	cfg.Secrets.RotationInterval, err = durationKey(k, "secrets.rotation.interval", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.Limits = LimitsConfig{
		Translation: RateLimitRule{Max: intKey(k, "limits.translation.max", 60), Window: time.Minute},
		Auth:        RateLimitRule{Max: intKey(k, "limits.auth.max", 5), Window: time.Minute},
		Default:     RateLimitRule{Max: intKey(k, "limits.default.max", 120), Window: time.Minute},
	}

	return cfg, nil
}

func durationKey(k *koanf.Koanf, key string, def time.Duration) (time.Duration, error) {
	s := k.String(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func intKey(k *koanf.Koanf, key string, def int) int {
	if v := k.Int(key); v != 0 {
		return v
	}
	return def
}
