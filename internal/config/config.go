package config

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultDataRoot          = "data"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "wabot"
	DefaultPGSSLMode         = "disable"
	DefaultNATSSubject       = "wabot.staff.outcome"
	DefaultCountryCode       = "62"
	DefaultWorkers           = 8
	DefaultQueueSize         = 256
	DefaultMaxUploadPhotos   = 10
	DefaultAliasRecency      = 30 * time.Minute
	DefaultDuplicateWindow   = 10 * time.Minute
	DefaultNotifyDelay       = time.Second
	DefaultDownloadAttempts  = 3
	DefaultDownloadTimeout   = 10 * time.Second
	DefaultDigestSpec        = "0 18 * * *"
	DefaultDigestTimezone    = "Asia/Jakarta"
	DefaultStaffCacheSize    = 256
	DefaultStaffCacheTTL     = time.Minute
	DefaultAIModel           = "gpt-4o-mini"
	DefaultAITimeout         = 30 * time.Second
	DefaultGatewayRetry      = 3
	DefaultGatewayRetryDelay = 500 * time.Millisecond
)

type Config struct {
	Log          LogConfig          `toml:"log"`
	Server       ServerConfig       `toml:"server"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	NATS         NATSConfig         `toml:"nats"`
	Gateway      GatewayConfig      `toml:"gateway"`
	AI           AIConfig           `toml:"ai"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Media        MediaConfig        `toml:"media"`
	Digest       DigestConfig       `toml:"digest"`
	Staff        StaffConfig        `toml:"staff"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// PublicURL is the externally reachable base URL, used for photo links
	// sent to customers.
	PublicURL string `toml:"public_url"`
}

type PostgresConfig struct {
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	Database    string `toml:"database"`
	SSLMode     string `toml:"sslmode"`
	AutoMigrate bool   `toml:"auto_migrate"`
}

// DSN renders the connection string accepted by pgxpool and golang-migrate.
func (c PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := u.Query()
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// RedisConfig enables the distributed conversation lock when URL is set.
type RedisConfig struct {
	URL     string   `toml:"url"`
	LockTTL Duration `toml:"lock_ttl"`
}

// NATSConfig switches outcome fan-out to NATS when URL is set.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

type GatewayConfig struct {
	BaseURL       string   `toml:"base_url"`
	Token         string   `toml:"token"`
	WebhookSecret string   `toml:"webhook_secret"`
	Retry         int      `toml:"retry"`
	RetryDelay    Duration `toml:"retry_delay"`
	Timeout       Duration `toml:"timeout"`

	// Tenants maps a business account id to its tenant. Unmapped accounts
	// are their own tenant.
	Tenants map[string]string `toml:"tenants"`
}

// TenantFor returns the tenant owning accountID.
func (c GatewayConfig) TenantFor(accountID string) string {
	if tenant, ok := c.Tenants[accountID]; ok && tenant != "" {
		return tenant
	}
	return accountID
}

// AccountFor returns the business account that speaks for tenantID. When
// several accounts map to one tenant the lexically first wins.
func (c GatewayConfig) AccountFor(tenantID string) string {
	accounts := make([]string, 0, len(c.Tenants))
	for account, tenant := range c.Tenants {
		if tenant == tenantID {
			accounts = append(accounts, account)
		}
	}
	if len(accounts) == 0 {
		return tenantID
	}
	sort.Strings(accounts)
	return accounts[0]
}

type AIConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Model   string   `toml:"model"`
	Timeout Duration `toml:"timeout"`
}

// Enabled reports whether a model endpoint is configured. Without one the
// rule-based classifier and extractor are used alone.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

type OrchestratorConfig struct {
	Workers         int      `toml:"workers"`
	QueueSize       int      `toml:"queue_size"`
	CountryCode     string   `toml:"country_code"`
	AliasRecency    Duration `toml:"alias_recency_window"`
	DuplicateWindow Duration `toml:"duplicate_window"`
	MaxUploadPhotos int      `toml:"max_upload_photos"`
	NotifyDelay     Duration `toml:"notify_delay"`
}

type MediaConfig struct {
	DataRoot         string   `toml:"data_root"`
	DownloadAttempts int      `toml:"download_attempts"`
	DownloadTimeout  Duration `toml:"download_timeout"`
}

type DigestConfig struct {
	Enabled  bool   `toml:"enabled"`
	Spec     string `toml:"spec"`
	Timezone string `toml:"timezone"`
}

type StaffConfig struct {
	CacheSize int      `toml:"cache_size"`
	CacheTTL  Duration `toml:"cache_ttl"`
}

// Duration decodes TOML strings such as "30m" or "1s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the configuration used when no file is present.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Redis: RedisConfig{
			LockTTL: Duration{30 * time.Second},
		},
		NATS: NATSConfig{
			Subject: DefaultNATSSubject,
		},
		Gateway: GatewayConfig{
			BaseURL:    "http://127.0.0.1:3000",
			Retry:      DefaultGatewayRetry,
			RetryDelay: Duration{DefaultGatewayRetryDelay},
			Timeout:    Duration{15 * time.Second},
		},
		AI: AIConfig{
			Model:   DefaultAIModel,
			Timeout: Duration{DefaultAITimeout},
		},
		Orchestrator: OrchestratorConfig{
			Workers:         DefaultWorkers,
			QueueSize:       DefaultQueueSize,
			CountryCode:     DefaultCountryCode,
			AliasRecency:    Duration{DefaultAliasRecency},
			DuplicateWindow: Duration{DefaultDuplicateWindow},
			MaxUploadPhotos: DefaultMaxUploadPhotos,
			NotifyDelay:     Duration{DefaultNotifyDelay},
		},
		Media: MediaConfig{
			DataRoot:         DefaultDataRoot,
			DownloadAttempts: DefaultDownloadAttempts,
			DownloadTimeout:  Duration{DefaultDownloadTimeout},
		},
		Digest: DigestConfig{
			Enabled:  true,
			Spec:     DefaultDigestSpec,
			Timezone: DefaultDigestTimezone,
		},
		Staff: StaffConfig{
			CacheSize: DefaultStaffCacheSize,
			CacheTTL:  Duration{DefaultStaffCacheTTL},
		},
	}
}

// Load reads the TOML file at path over the defaults. A missing file is not an error.
// An empty path falls back to CONFIG_PATH, then DefaultConfigPath.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors restores defaults for values a config file zeroed out.
func (c *Config) applyFloors() {
	def := Defaults()
	if c.Orchestrator.Workers <= 0 {
		c.Orchestrator.Workers = def.Orchestrator.Workers
	}
	if c.Orchestrator.QueueSize <= 0 {
		c.Orchestrator.QueueSize = def.Orchestrator.QueueSize
	}
	if c.Orchestrator.CountryCode == "" {
		c.Orchestrator.CountryCode = def.Orchestrator.CountryCode
	}
	if c.Orchestrator.MaxUploadPhotos <= 0 {
		c.Orchestrator.MaxUploadPhotos = def.Orchestrator.MaxUploadPhotos
	}
	if c.Media.DownloadAttempts <= 0 {
		c.Media.DownloadAttempts = def.Media.DownloadAttempts
	}
	if c.Media.DownloadTimeout.Duration <= 0 {
		c.Media.DownloadTimeout = def.Media.DownloadTimeout
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = def.NATS.Subject
	}
	if c.Digest.Spec == "" {
		c.Digest.Spec = def.Digest.Spec
	}
	if c.Digest.Timezone == "" {
		c.Digest.Timezone = def.Digest.Timezone
	}
}
