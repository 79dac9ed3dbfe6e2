package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every configuration problem detected at startup.
var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Server struct {
		Port            string        `yaml:"port" validate:"required"`
		Host            string        `yaml:"host"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	App struct {
		Env      string `yaml:"env" validate:"oneof=development production test"`
		BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
		Timezone string `yaml:"timezone" validate:"required"`
	} `yaml:"app"`

	Store    StoreConfig    `yaml:"store"`
	SMTP     SMTPDefaults   `yaml:"smtp"`
	Batches  []BatchConfig  `yaml:"batches" validate:"dive"`
	Tracking TrackingConfig `yaml:"tracking"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Redis    RedisConfig    `yaml:"redis"`
	Events   EventsConfig   `yaml:"events"`
	Notify   NotifyConfig   `yaml:"notify"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type StoreConfig struct {
	Backend         string        `yaml:"backend" validate:"oneof=sheets xlsx postgres"`
	SpreadsheetID   string        `yaml:"spreadsheet_id" validate:"required_if=Backend sheets"`
	CredentialsFile string        `yaml:"credentials_file"`
	CredentialsJSON string        `yaml:"-"`
	XLSXPath        string        `yaml:"xlsx_path" validate:"required_if=Backend xlsx"`
	PostgresDSN     string        `yaml:"postgres_dsn" validate:"required_if=Backend postgres"`
	MaxOpenConns    int           `yaml:"max_open_conns" validate:"gte=0"`
	Timeout         time.Duration `yaml:"timeout"`
}

// Credentials returns the service-account key, preferring inline JSON over the file.
func (s StoreConfig) Credentials() ([]byte, error) {
	if strings.TrimSpace(s.CredentialsJSON) != "" {
		return []byte(s.CredentialsJSON), nil
	}
	if s.CredentialsFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}
	return data, nil
}

// SMTPDefaults fill in sender settings a batch leaves blank.
type SMTPDefaults struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Security string `yaml:"security" validate:"omitempty,oneof=ssl starttls plain"`
	IMAPHost string `yaml:"imap_host"`
	IMAPPort int    `yaml:"imap_port"`
	FromName string `yaml:"from_name"`
}

// BatchConfig is one sender identity and the worksheet it dispatches.
type BatchConfig struct {
	Sheet        string `yaml:"sheet" validate:"required"`
	SenderEmail  string `yaml:"sender_email" validate:"omitempty,email"`
	SenderName   string `yaml:"sender_name"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port" validate:"gte=0,lte=65535"`
	SMTPSecurity string `yaml:"smtp_security" validate:"omitempty,oneof=ssl starttls plain"`
	IMAPHost     string `yaml:"imap_host"`
	IMAPPort     int    `yaml:"imap_port" validate:"gte=0,lte=65535"`
	PasswordEnv  string `yaml:"password_env"`
	Password     string `yaml:"password"`
}

// ResolvePassword reads the password from PasswordEnv, falling back to Password.
func (b BatchConfig) ResolvePassword() string {
	if b.PasswordEnv != "" {
		if v := os.Getenv(b.PasswordEnv); v != "" {
			return v
		}
	}
	return b.Password
}

type TrackingConfig struct {
	// MinOpenDelay is the minimum time between send and a countable open.
	// Defaults to 15s; a negative value disables the guard.
	MinOpenDelay    time.Duration `yaml:"min_open_delay"`
	CountProxyOpens bool          `yaml:"count_proxy_opens"`
	BotSignatures   []string      `yaml:"bot_signatures"`
	ProxySignatures []string      `yaml:"proxy_signatures"`
	LockTTL         time.Duration `yaml:"lock_ttl" validate:"gte=0"`
}

type DispatchConfig struct {
	// LateWindow is how far past its schedule a row may still be sent.
	// Defaults to 5m; a negative value disables the bound.
	LateWindow      time.Duration `yaml:"late_window"`
	Manual          bool          `yaml:"manual"`
	SendTimeout     time.Duration `yaml:"send_timeout" validate:"gte=0"`
	ArchiveTimeout  time.Duration `yaml:"archive_timeout" validate:"gte=0"`
	ArchiveMailbox  string        `yaml:"archive_mailbox"`
	WriteBatchSize  int           `yaml:"write_batch_size" validate:"gte=0"`
	ParallelBatches int           `yaml:"parallel_batches" validate:"gte=0"`
	LockTTL         time.Duration `yaml:"lock_ttl" validate:"gte=0"`
	ScheduleLayouts []string      `yaml:"schedule_layouts"`
	// DomainSheet names a worksheet listing additional batches. Empty disables it.
	DomainSheet string `yaml:"domain_sheet"`
	// PasswordEnv maps a batch sheet name to the env var holding its password.
	PasswordEnv map[string]string `yaml:"password_env"`
}

type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url" validate:"required_if=Enabled true"`
	DB      int    `yaml:"db" validate:"gte=0"`
	Prefix  string `yaml:"prefix"`
}

type EventsConfig struct {
	AMQPURL string `yaml:"amqp_url"`
	Queue   string `yaml:"queue"`
}

type NotifyConfig struct {
	To []string `yaml:"to" validate:"dive,email"`
	// Sheet selects the batch whose sender identity delivers notifications.
	Sheet   string        `yaml:"sheet"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	PushGateway string `yaml:"push_gateway" validate:"omitempty,url"`
}

type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	config.Tracking.CountProxyOpens = true

	// Load YAML config first; a missing file leaves env and defaults in charge
	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, configPath, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Printf("Config file %s not found, using environment only", configPath)
	default:
		return nil, err
	}

	// Override with environment variables
	config.overrideWithEnvVars()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) overrideWithEnvVars() {
	// Server settings
	if port := GetEnv("PORT", ""); port != "" {
		c.Server.Port = port
	}
	if host := GetEnv("HOST", ""); host != "" {
		c.Server.Host = host
	}

	// App settings
	if env := GetEnv("APP_ENV", ""); env != "" {
		c.App.Env = env
	} else if c.App.Env == "" {
		c.App.Env = "development"
	}
	if baseURL := GetEnv("BASE_URL", GetEnv("TRACKING_BACKEND_URL", "")); baseURL != "" {
		c.App.BaseURL = baseURL
	} else if c.App.BaseURL == "" && c.App.Env == "production" {
		log.Printf("WARNING: BASE_URL not set in production environment")
	}
	if tz := GetEnv("APP_TIMEZONE", ""); tz != "" {
		c.App.Timezone = tz
	}

	// Store
	if backend := GetEnv("STORE_BACKEND", ""); backend != "" {
		c.Store.Backend = backend
	}
	if id := GetEnv("SPREADSHEET_ID", ""); id != "" {
		c.Store.SpreadsheetID = id
	}
	if creds := GetEnv("GOOGLE_JSON", ""); creds != "" {
		c.Store.CredentialsJSON = creds
	}
	if file := GetEnv("GOOGLE_CREDENTIALS_FILE", ""); file != "" {
		c.Store.CredentialsFile = file
	}
	if path := GetEnv("XLSX_PATH", ""); path != "" {
		c.Store.XLSXPath = path
	}
	if dsn := GetEnv("DATABASE_URL", ""); dsn != "" {
		c.Store.PostgresDSN = dsn
	}

	if smtpHost := GetEnv("SMTP_HOST", ""); smtpHost != "" {
		c.SMTP.Host = smtpHost
	}

	if url := GetEnv("REDIS_URL", ""); url != "" {
		c.Redis.URL = url
		c.Redis.Enabled = true
	}
	if url := GetEnv("AMQP_URL", ""); url != "" {
		c.Events.AMQPURL = url
	}

	if manual, ok := envBool("IS_MANUAL"); ok {
		c.Dispatch.Manual = manual
	}
	if proxies, ok := envBool("COUNT_PROXY_OPENS"); ok {
		c.Tracking.CountProxyOpens = proxies
	}
	if delay := GetEnv("MIN_OPEN_DELAY", ""); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			c.Tracking.MinOpenDelay = d
		} else {
			log.Printf("WARNING: ignoring MIN_OPEN_DELAY=%q: %v", delay, err)
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 5 * time.Second
	}
	if c.App.Timezone == "" {
		c.App.Timezone = "Asia/Kolkata"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "sheets"
	}
	if c.Store.Timeout == 0 {
		c.Store.Timeout = 15 * time.Second
	}
	if c.SMTP.Security == "" {
		c.SMTP.Security = "ssl"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 465
	}
	if c.SMTP.IMAPPort == 0 {
		c.SMTP.IMAPPort = 993
	}
	if c.Tracking.MinOpenDelay == 0 {
		c.Tracking.MinOpenDelay = 15 * time.Second
	}
	if c.Tracking.LockTTL == 0 {
		c.Tracking.LockTTL = 30 * time.Second
	}
	if c.Dispatch.LateWindow == 0 {
		c.Dispatch.LateWindow = 5 * time.Minute
	}
	if c.Dispatch.SendTimeout == 0 {
		c.Dispatch.SendTimeout = 30 * time.Second
	}
	if c.Dispatch.ArchiveTimeout == 0 {
		c.Dispatch.ArchiveTimeout = 20 * time.Second
	}
	if c.Dispatch.ArchiveMailbox == "" {
		c.Dispatch.ArchiveMailbox = "Sent"
	}
	if c.Dispatch.WriteBatchSize == 0 {
		c.Dispatch.WriteBatchSize = 20
	}
	if c.Dispatch.ParallelBatches == 0 {
		c.Dispatch.ParallelBatches = 1
	}
	if c.Dispatch.LockTTL == 0 {
		c.Dispatch.LockTTL = 30 * time.Minute
	}
	if c.Events.Queue == "" {
		c.Events.Queue = "email_opens"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "campaign-tracker:"
	}
}

// Validate checks struct constraints and values that need parsing.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %v", ErrInvalidConfig, c.App.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return false, false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		log.Printf("WARNING: ignoring %s=%q: %v", key, raw, err)
		return false, false
	}
	return v, true
}

func (c *Config) GetBaseURL(requestHost string) string {
	if c.App.BaseURL != "" {
		return strings.TrimRight(c.App.BaseURL, "/")
	}

	if c.App.Env == "production" && c.Server.Host != "" {
		// In production, assume HTTPS
		if !strings.HasPrefix(c.Server.Host, "http") {
			return "https://" + c.Server.Host
		}
		return c.Server.Host
	}

	if requestHost != "" {
		return "http://" + requestHost
	}
	return "http://localhost:" + c.Server.Port
}
