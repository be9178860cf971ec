package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment         string
	EncryptionKeyBase64 string
	DBHost              string
	DBPort              string
	DBUsername          string
	DBPassword          string
	DBName              string
	DBSSLMode           string
	Port                string
	LogLevel            string
	LogFile             string

	// MailDomain is the domain whose addresses are local mailboxes.
	// Senders from this domain are trusted by the classifier.
	MailDomain string
	// CatchAll makes the listener read forwarding headers as recipients.
	CatchAll bool

	IMAPHost     string
	IMAPUsername string
	IMAPPassword string
	IMAPUseTLS   bool

	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
	SMTPFromName      string
	SMTPSecurity      string
	SMTPRatePerSecond float64

	ClassifierURL           string
	ClassifierTimeout       time.Duration
	ClassifierHealthTTL     time.Duration
	ClassifierHealthTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ReconnectBase        time.Duration
	ReconnectMultiplier  float64
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int
	IdleRenewal          time.Duration
	ProcessedCacheSize   int

	SnippetLength  int
	SearchFetchCap int

	AttachmentDir     string
	AttachmentBaseURL string
	TrashRetention    time.Duration
}

func NewConfig() (*Config, error) {
	env := os.Getenv("VGM_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	v := viper.New()
	v.SetEnvPrefix("vgm")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	config := &Config{
		Environment:         env,
		EncryptionKeyBase64: v.GetString("encryption_key_base64"),
		DBHost:              v.GetString("db_host"),
		DBPort:              v.GetString("db_port"),
		DBUsername:          v.GetString("db_user"),
		DBPassword:          v.GetString("db_password"),
		DBName:              v.GetString("db_name"),
		DBSSLMode:           v.GetString("db_sslmode"),
		Port:                v.GetString("port"),
		LogLevel:            v.GetString("log_level"),
		LogFile:             v.GetString("log_file"),

		MailDomain: strings.ToLower(v.GetString("mail_domain")),
		CatchAll:   v.GetBool("catch_all"),

		IMAPHost:     v.GetString("imap_host"),
		IMAPUsername: v.GetString("imap_user"),
		IMAPPassword: v.GetString("imap_password"),
		IMAPUseTLS:   v.GetBool("imap_tls"),

		SMTPHost:          v.GetString("smtp_host"),
		SMTPPort:          v.GetInt("smtp_port"),
		SMTPUsername:      v.GetString("smtp_user"),
		SMTPPassword:      v.GetString("smtp_password"),
		SMTPFromName:      v.GetString("smtp_from_name"),
		SMTPSecurity:      strings.ToLower(v.GetString("smtp_security")),
		SMTPRatePerSecond: v.GetFloat64("smtp_rate_per_second"),

		ClassifierURL:           strings.TrimRight(v.GetString("classifier_url"), "/"),
		ClassifierTimeout:       v.GetDuration("classifier_timeout"),
		ClassifierHealthTTL:     v.GetDuration("classifier_health_ttl"),
		ClassifierHealthTimeout: v.GetDuration("classifier_health_timeout"),

		RedisAddr:     v.GetString("redis_addr"),
		RedisPassword: v.GetString("redis_password"),
		RedisDB:       v.GetInt("redis_db"),

		ReconnectBase:        v.GetDuration("reconnect_base"),
		ReconnectMultiplier:  v.GetFloat64("reconnect_multiplier"),
		ReconnectMax:         v.GetDuration("reconnect_max"),
		ReconnectMaxAttempts: v.GetInt("reconnect_max_attempts"),
		IdleRenewal:          v.GetDuration("idle_renewal"),
		ProcessedCacheSize:   v.GetInt("processed_cache_size"),

		SnippetLength:  v.GetInt("snippet_length"),
		SearchFetchCap: v.GetInt("search_fetch_cap"),

		AttachmentDir:     v.GetString("attachment_dir"),
		AttachmentBaseURL: strings.TrimRight(v.GetString("attachment_base_url"), "/"),
		TrashRetention:    v.GetDuration("trash_retention"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db_host", "localhost")
	v.SetDefault("db_port", "5432")
	v.SetDefault("db_user", "verygoodmail")
	v.SetDefault("db_name", "verygoodmail")
	v.SetDefault("db_sslmode", "disable")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")

	v.SetDefault("imap_tls", true)

	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_from_name", "VeryGoodMail")
	v.SetDefault("smtp_security", "starttls")
	v.SetDefault("smtp_rate_per_second", 5.0)

	v.SetDefault("classifier_timeout", "5s")
	v.SetDefault("classifier_health_ttl", "60s")
	v.SetDefault("classifier_health_timeout", "2s")

	v.SetDefault("redis_db", 0)

	v.SetDefault("reconnect_base", "5s")
	v.SetDefault("reconnect_multiplier", 2.0)
	v.SetDefault("reconnect_max", "5m")
	v.SetDefault("reconnect_max_attempts", 10)
	v.SetDefault("idle_renewal", "25m")
	v.SetDefault("processed_cache_size", 1000)

	v.SetDefault("snippet_length", 200)
	v.SetDefault("search_fetch_cap", 500)

	v.SetDefault("attachment_dir", "data/attachments")
	v.SetDefault("attachment_base_url", "/attachments")
	v.SetDefault("trash_retention", "720h")
}

func (c *Config) Validate() error {
	if c.EncryptionKeyBase64 == "" {
		return fmt.Errorf("VGM_ENCRYPTION_KEY_BASE64 is required")
	}

	key, err := base64.StdEncoding.DecodeString(c.EncryptionKeyBase64)
	if err != nil {
		return fmt.Errorf("VGM_ENCRYPTION_KEY_BASE64 is not valid base64: %w", err)
	}
	if len(key) != 32 {
		return fmt.Errorf("VGM_ENCRYPTION_KEY_BASE64 must decode to 32 bytes, got %d", len(key))
	}

	if c.DBPassword == "" {
		return fmt.Errorf("VGM_DB_PASSWORD is required")
	}

	if c.MailDomain == "" {
		return fmt.Errorf("VGM_MAIL_DOMAIN is required")
	}

	switch c.SMTPSecurity {
	case "tls", "starttls", "none":
	default:
		return fmt.Errorf("VGM_SMTP_SECURITY must be one of tls, starttls, none; got %q", c.SMTPSecurity)
	}

	if c.ReconnectMultiplier < 1 {
		return fmt.Errorf("VGM_RECONNECT_MULTIPLIER must be at least 1, got %v", c.ReconnectMultiplier)
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DBUsername, c.DBPassword),
		Host:     c.DBHost + ":" + c.DBPort,
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + url.QueryEscape(c.DBSSLMode),
	}
	return u.String()
}

// IMAPConfigured reports whether the inbound listener has a mailbox to watch.
func (c *Config) IMAPConfigured() bool {
	return c.IMAPHost != "" && c.IMAPUsername != "" && c.IMAPPassword != ""
}

// SMTPConfigured reports whether outbound mail can leave the system.
func (c *Config) SMTPConfigured() bool {
	return c.SMTPHost != "" && c.SMTPUsername != "" && c.SMTPPassword != ""
}

// SMTPAddress returns the transport identity used as the header sender.
func (c *Config) SMTPAddress() string {
	return c.SMTPUsername
}
