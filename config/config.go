package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var gitSHA string
var buildDate string

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Pipeline PipelineConfig
	Cookies  CookieConfig
	Proxy    ProxyConfig
	SMTP     SMTPConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Address string `envconfig:"VRSCHOOL_ADDRESS" default:":8080"`
	BaseURL string `envconfig:"VRSCHOOL_BASE_URL" default:"http://localhost:8080"`
}

type DatabaseConfig struct {
	Backend  string `envconfig:"VRSCHOOL_DB_BACKEND" default:"sqlite"` // "sqlite" or "mongo"
	MongoURI string `envconfig:"VRSCHOOL_MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDB  string `envconfig:"VRSCHOOL_MONGO_DB" default:"vrschool"`
}

type StorageConfig struct {
	Endpoint      string        `envconfig:"VRSCHOOL_S3_ENDPOINT" default:"localhost:9000"`
	Region        string        `envconfig:"VRSCHOOL_S3_REGION" default:"us-east-1"`
	Bucket        string        `envconfig:"VRSCHOOL_S3_BUCKET" default:"vrschool-media"`
	AccessKey     string        `envconfig:"VRSCHOOL_S3_ACCESS_KEY"`
	SecretKey     string        `envconfig:"VRSCHOOL_S3_SECRET_KEY"`
	UseSSL        bool          `envconfig:"VRSCHOOL_S3_USE_SSL" default:"false"`
	PublicBaseURL string        `envconfig:"VRSCHOOL_S3_PUBLIC_BASE_URL"`
	SignedURLTTL  time.Duration `envconfig:"VRSCHOOL_SIGNED_URL_TTL" default:"6h"`
}

type PipelineConfig struct {
	MaxConcurrentJobs  int           `envconfig:"VRSCHOOL_MAX_CONCURRENT_JOBS" default:"2"`
	DispatchInterval   time.Duration `envconfig:"VRSCHOOL_DISPATCH_INTERVAL" default:"10s"`
	StrategiesFile     string        `envconfig:"VRSCHOOL_STRATEGIES_FILE"`
	AttemptTimeout     time.Duration `envconfig:"VRSCHOOL_ATTEMPT_TIMEOUT" default:"30m"`
	InFlightWait       time.Duration `envconfig:"VRSCHOOL_IN_FLIGHT_WAIT" default:"30m"`
	InFlightStaleAfter time.Duration `envconfig:"VRSCHOOL_IN_FLIGHT_STALE_AFTER" default:"3h"`
	AuthAlertThreshold int           `envconfig:"VRSCHOOL_AUTH_ALERT_THRESHOLD" default:"3"`
	ScratchMaxAge      time.Duration `envconfig:"VRSCHOOL_SCRATCH_MAX_AGE" default:"24h"`
}

type CookieConfig struct {
	Path          string        `envconfig:"VRSCHOOL_COOKIE_FILE"`
	RefreshAfter  time.Duration `envconfig:"VRSCHOOL_COOKIE_REFRESH_AFTER" default:"36h"`
	MaxAge        time.Duration `envconfig:"VRSCHOOL_COOKIE_MAX_AGE" default:"48h"`
	LockTimeout   time.Duration `envconfig:"VRSCHOOL_COOKIE_LOCK_TIMEOUT" default:"60s"`
	StaleLockAge  time.Duration `envconfig:"VRSCHOOL_COOKIE_STALE_LOCK_AGE" default:"10m"`
	ProbeVideoID  string        `envconfig:"VRSCHOOL_COOKIE_PROBE_VIDEO" default:"jNQXAC9IVRw"`
	CheckInterval time.Duration `envconfig:"VRSCHOOL_COOKIE_CHECK_INTERVAL" default:"1h"`
	LoginEmail    string        `envconfig:"VRSCHOOL_LOGIN_EMAIL"`
	LoginPassword string        `envconfig:"VRSCHOOL_LOGIN_PASSWORD"`
	ChromePath    string        `envconfig:"VRSCHOOL_CHROME_PATH"`
}

type ProxyConfig struct {
	MaxConnections  int           `envconfig:"VRSCHOOL_MAX_PROXY_CONNECTIONS" default:"10"`
	UpstreamTimeout time.Duration `envconfig:"VRSCHOOL_PROXY_UPSTREAM_TIMEOUT" default:"30s"`
	AllowedHosts    []string      `envconfig:"VRSCHOOL_PROXY_ALLOWED_HOSTS" default:"googlevideo.com,youtube.com"`
}

type SMTPConfig struct {
	Host     string        `envconfig:"VRSCHOOL_SMTP_HOST"`
	Port     int           `envconfig:"VRSCHOOL_SMTP_PORT" default:"587"`
	Username string        `envconfig:"VRSCHOOL_SMTP_USERNAME"`
	Password string        `envconfig:"VRSCHOOL_SMTP_PASSWORD"`
	From     string        `envconfig:"VRSCHOOL_ALERT_FROM" default:"vrschool-media@localhost"`
	To       []string      `envconfig:"VRSCHOOL_ALERT_TO"`
	Cooldown time.Duration `envconfig:"VRSCHOOL_ALERT_COOLDOWN" default:"6h"`
}

type AdminConfig struct {
	Secret     string `envconfig:"VRSCHOOL_ADMIN_SECRET"`
	SecretHash string `envconfig:"VRSCHOOL_ADMIN_SECRET_HASH"` // bcrypt
}

// LoadDotEnv reads a .env file from the working directory if there is one.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

// Load reads every VRSCHOOL_* variable into a Config.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Cookies.Path == "" {
		cfg.Cookies.Path = filepath.Join(GetConfigDir(), "cookies.txt")
	}
	if cfg.Pipeline.MaxConcurrentJobs < 1 {
		cfg.Pipeline.MaxConcurrentJobs = 1
	}
	if cfg.Proxy.MaxConnections < 1 {
		cfg.Proxy.MaxConnections = 1
	}
	return &cfg, nil
}

func GetDataDir() string {
	value, exists := os.LookupEnv("VRSCHOOL_DATA_DIR")
	if exists {
		return value
	}
	return "data"
}

// defaults to GetDataDir() / config
func GetConfigDir() string {
	value, exists := os.LookupEnv("VRSCHOOL_CONFIG_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "config")
}

// defaults to GetDataDir() / scratch
func GetScratchDir() string {
	value, exists := os.LookupEnv("VRSCHOOL_SCRATCH_DIR")
	if exists {
		return value
	}
	return filepath.Join(GetDataDir(), "scratch")
}

func GetLogFile() string {
	value, _ := os.LookupEnv("VRSCHOOL_LOG_FILE")
	return value
}

func GetSessionAuthKey() ([]byte, error) {
	key := "VRSCHOOL_SESSION_AUTH_KEY"
	value, exists := os.LookupEnv(key)
	if exists {
		return []byte(value), nil
	}
	return []byte{}, fmt.Errorf("please set %s", key)
}

func GetSecure() bool {
	return getBool("VRSCHOOL_SECURE")
}

func GetDebug() bool {
	return getBool("VRSCHOOL_DEBUG")
}

func getBool(key string) bool {
	if value, exists := os.LookupEnv(key); exists {
		lower := strings.ToLower(value)
		if lower == "on" || lower == "1" || lower == "true" || lower == "yes" {
			return true
		}
	}
	return false
}

func GetGitSHA() string {
	if gitSHA == "" {
		return "<not provided>"
	} else {
		return gitSHA
	}
}

func GetBuildDate() string {
	if buildDate == "" {
		return "<not provided>"
	} else {
		return buildDate
	}
}
