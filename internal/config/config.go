package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Mail     MailConfig     `mapstructure:"mail"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Service  ServiceConfig  `mapstructure:"service"`
	Worker   WorkerConfig   `mapstructure:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// RedisConfig holds the key-value store connection configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MailConfig holds outgoing email transport configuration
type MailConfig struct {
	APIURL        string `mapstructure:"api_url"`
	APIUser       string `mapstructure:"api_user"`
	APIKey        string `mapstructure:"api_key"`
	DefaultSender string `mapstructure:"default_sender"`
	ContactEmail  string `mapstructure:"contact_email"`
}

// CaptchaConfig holds challenge verification configuration
type CaptchaConfig struct {
	VerifyURL string        `mapstructure:"verify_url"`
	Secret    string        `mapstructure:"secret"`
	SiteKey   string        `mapstructure:"site_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ServiceConfig holds service-wide policy knobs
type ServiceConfig struct {
	Name        string `mapstructure:"name"`
	URL         string `mapstructure:"url"`
	TestURL     string `mapstructure:"test_url"`
	NonceSecret string `mapstructure:"nonce_secret"`
	HashidsSalt string `mapstructure:"hashids_salt"`

	MonthlyLimit            int64   `mapstructure:"monthly_limit"`
	GrandfatherMonthlyLimit int64   `mapstructure:"grandfather_monthly_limit"`
	LimitDecreaseSequence   uint    `mapstructure:"limit_decrease_sequence"`
	AjaxDisableSequence     uint    `mapstructure:"ajax_disable_sequence"`
	OverlimitNotifications  int64   `mapstructure:"overlimit_notifications"`
	ArchivedSubmissionsCap  int     `mapstructure:"archived_submissions_cap"`
	WipeFrequency           float64 `mapstructure:"wipe_frequency"`
	PluginMaxFailures       int64   `mapstructure:"plugin_max_failures"`
	TrelloAPIKey            string  `mapstructure:"trello_api_key"`
}

// WorkerConfig holds the submission worker pool configuration
type WorkerConfig struct {
	Concurrency  int    `mapstructure:"concurrency"`
	QueueSize    int    `mapstructure:"queue_size"`
	SweepSpec    string `mapstructure:"sweep_spec"`
	SweepMaxAgeM int    `mapstructure:"sweep_max_age_minutes"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	viper.AutomaticEnv()
	bindEnvVars()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("mail.api_url", "https://api.sendgrid.com/api/mail.send.json")
	viper.SetDefault("mail.default_sender", "Formbridge Team <team@formbridge.io>")
	viper.SetDefault("mail.contact_email", "support@formbridge.io")

	viper.SetDefault("captcha.verify_url", "https://www.google.com/recaptcha/api/siteverify")
	viper.SetDefault("captcha.timeout", "2s")

	viper.SetDefault("service.name", "Formbridge")
	viper.SetDefault("service.url", "https://formbridge.io")
	viper.SetDefault("service.test_url", "http://test.formbridge.io")
	viper.SetDefault("service.monthly_limit", 100)
	viper.SetDefault("service.grandfather_monthly_limit", 1000)
	viper.SetDefault("service.limit_decrease_sequence", 0)
	viper.SetDefault("service.ajax_disable_sequence", 0)
	viper.SetDefault("service.overlimit_notifications", 25)
	viper.SetDefault("service.archived_submissions_cap", 1000)
	viper.SetDefault("service.wipe_frequency", 0.2)
	viper.SetDefault("service.plugin_max_failures", 10)

	viper.SetDefault("worker.concurrency", 4)
	viper.SetDefault("worker.queue_size", 1024)
	viper.SetDefault("worker.sweep_spec", "0 */10 * * * *")
	viper.SetDefault("worker.sweep_max_age_minutes", 30)
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars() {
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")

	viper.BindEnv("database.host", "DB_HOST")
	viper.BindEnv("database.port", "DB_PORT")
	viper.BindEnv("database.user", "DB_USER")
	viper.BindEnv("database.password", "DB_PASSWORD")
	viper.BindEnv("database.dbname", "DB_NAME")

	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("mail.api_url", "MAIL_API_URL")
	viper.BindEnv("mail.api_user", "MAIL_API_USER")
	viper.BindEnv("mail.api_key", "MAIL_API_KEY")
	viper.BindEnv("mail.default_sender", "MAIL_DEFAULT_SENDER")
	viper.BindEnv("mail.contact_email", "MAIL_CONTACT_EMAIL")

	viper.BindEnv("captcha.secret", "RECAPTCHA_SECRET")
	viper.BindEnv("captcha.site_key", "RECAPTCHA_KEY")

	viper.BindEnv("service.url", "SERVICE_URL")
	viper.BindEnv("service.test_url", "TEST_URL")
	viper.BindEnv("service.nonce_secret", "NONCE_SECRET")
	viper.BindEnv("service.hashids_salt", "HASHIDS_SALT")
	viper.BindEnv("service.monthly_limit", "MONTHLY_SUBMISSIONS_LIMIT")
	viper.BindEnv("service.limit_decrease_sequence", "LIMIT_DECREASE_SEQUENCE")
	viper.BindEnv("service.ajax_disable_sequence", "AJAX_DISABLE_SEQUENCE")
	viper.BindEnv("service.archived_submissions_cap", "ARCHIVED_SUBMISSIONS_CAP")
	viper.BindEnv("service.wipe_frequency", "WIPE_FREQUENCY")
	viper.BindEnv("service.plugin_max_failures", "PLUGIN_MAX_FAILURES")
	viper.BindEnv("service.trello_api_key", "TRELLO_API_KEY")

	viper.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	viper.BindEnv("worker.queue_size", "WORKER_QUEUE_SIZE")
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
		return fmt.Errorf("database host, user, and dbname are required")
	}

	if c.Service.NonceSecret == "" {
		return fmt.Errorf("nonce secret is required")
	}

	if c.Service.MonthlyLimit <= 0 {
		return fmt.Errorf("monthly submission limit must be greater than 0")
	}

	if c.Service.WipeFrequency < 0 || c.Service.WipeFrequency > 1 {
		return fmt.Errorf("wipe frequency must be between 0 and 1")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	return nil
}
