package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime setting of the service.
type Config struct {
	AppEnv   string `yaml:"app_env"`
	LogLevel string `yaml:"log_level"`
	HTTPAddr string `yaml:"http_addr"`
	AppURL   string `yaml:"app_url"`

	DB DBConfig `yaml:"db"`

	JWTSecret string        `yaml:"-"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	CORSOrigins []string `yaml:"cors_origins"`

	Mail MailConfig `yaml:"mail"`

	ReportCheckInterval time.Duration `yaml:"report_check_interval"`
	PresenceTimeout     time.Duration `yaml:"presence_timeout"`
	InviteTTL           time.Duration `yaml:"invite_ttl"`
}

type DBConfig struct {
	User     string `yaml:"user"`
	Password string `yaml:"-"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Name     string `yaml:"name"`
}

type MailConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"-"`
	From   string `yaml:"from"`
}

// Default returns a config with every optional setting filled in.
func Default() *Config {
	return &Config{
		AppEnv:   "development",
		LogLevel: "",
		HTTPAddr: ":8080",
		AppURL:   "http://localhost:5173",
		DB: DBConfig{
			Host: "127.0.0.1",
			Port: "3306",
		},
		TokenTTL:    24 * time.Hour,
		CORSOrigins: []string{"http://localhost:5173"},
		Mail: MailConfig{
			APIURL: "https://api.resend.com",
			From:   "ProjectDesk <no-reply@projectdesk.local>",
		},
		ReportCheckInterval: time.Minute,
		PresenceTimeout:     2 * time.Minute,
		InviteTTL:           7 * 24 * time.Hour,
	}
}

// Load reads .env (if present), the optional YAML file named by CONFIG_FILE,
// and finally the process environment. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}

	str("APP_ENV", &c.AppEnv)
	str("LOG_LEVEL", &c.LogLevel)
	str("HTTP_ADDR", &c.HTTPAddr)
	str("APP_URL", &c.AppURL)
	str("DB_USER", &c.DB.User)
	str("DB_PASSWORD", &c.DB.Password)
	str("DB_HOST", &c.DB.Host)
	str("DB_PORT", &c.DB.Port)
	str("DB_NAME", &c.DB.Name)
	str("JWT_SECRET", &c.JWTSecret)
	str("MAIL_API_URL", &c.Mail.APIURL)
	str("MAIL_API_KEY", &c.Mail.APIKey)
	str("MAIL_FROM", &c.Mail.From)

	if v, ok := lookup("CORS_ORIGINS"); ok && v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.CORSOrigins = origins
	}

	for key, dst := range map[string]*time.Duration{
		"TOKEN_TTL":             &c.TokenTTL,
		"REPORT_CHECK_INTERVAL": &c.ReportCheckInterval,
		"PRESENCE_TIMEOUT":      &c.PresenceTimeout,
		"INVITE_TTL":            &c.InviteTTL,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate reports settings the service cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.DB.Name == "" {
		return errors.New("DB_NAME is required")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}
	if c.ReportCheckInterval <= 0 {
		return errors.New("REPORT_CHECK_INTERVAL must be positive")
	}
	if c.PresenceTimeout < 2*time.Second {
		return errors.New("PRESENCE_TIMEOUT must be at least 2s")
	}
	return nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// DSN is the go-sql-driver/mysql data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name)
}

// MigrateURL is the golang-migrate database URL.
func (c *Config) MigrateURL() string {
	return "mysql://" + c.DSN() + "&multiStatements=true"
}
