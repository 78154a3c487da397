package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIBaseURL            = "http://localhost:8000"
	DefaultRequestTimeoutSeconds = 300
)

type RateLimitBucketConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Submit  RateLimitBucketConfig `yaml:"submit"`
	// Backend paces outgoing analysis calls process-wide. Zero leaves them unpaced.
	Backend RateLimitBucketConfig `yaml:"backend"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

type Config struct {
	Port                  int             `yaml:"port"`
	RedisAddr             string          `yaml:"redisAddr"`
	RedisPassword         string          `yaml:"redisPassword"`
	APIBaseURL            string          `yaml:"apiBaseUrl"`
	RequestTimeoutSeconds int             `yaml:"requestTimeoutSeconds"`
	LocalArtifactsDir     string          `yaml:"localArtifactsDir"`
	SessionTTLSeconds     int             `yaml:"sessionTtlSeconds"`
	MaxUploadBytes        int64           `yaml:"maxUploadBytes"`
	Timezone              string          `yaml:"timezone"`
	LogLevel              string          `yaml:"logLevel"`
	LogFormat             string          `yaml:"logFormat"`
	Env                   string          `yaml:"env"`
	CookieSecure          bool            `yaml:"cookieSecure"`
	RateLimit             RateLimitConfig `yaml:"rateLimit"`
	Tracing               TracingConfig   `yaml:"tracing"`
}

// LoadConfig reads filePath, applies environment overrides and fills defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional is LoadConfig for deployments configured purely through
// the environment: an empty path or a missing file yields defaults.
func LoadConfigOptional(filePath string) (*Config, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath != "" {
		c, err := LoadConfig(filePath)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		log.Printf("Warning: config file %s not found, using environment and defaults\n", filePath)
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RequestTimeoutSeconds = n
		}
	}
	if v := os.Getenv("LOCAL_ARTIFACTS_DIR"); v != "" {
		c.LocalArtifactsDir = v
	}
	if v := os.Getenv("SESSION_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.SessionTTLSeconds = n
		}
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.LogFormat = v
	}
	if v := os.Getenv("ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("BACKEND_REQUESTS_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RateLimit.Backend.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.APIBaseURL == "" {
		log.Println("Warning: apiBaseUrl not set, using default")
		c.APIBaseURL = DefaultAPIBaseURL
	}
	c.APIBaseURL = strings.TrimRight(c.APIBaseURL, "/")
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
	}
	if c.LocalArtifactsDir == "" {
		c.LocalArtifactsDir = "/tmp/pfmea-artifacts"
	}
	if c.SessionTTLSeconds <= 0 {
		c.SessionTTLSeconds = 24 * 60 * 60
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = 50 << 20
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.RateLimit.Submit.RequestsPerMinute == 0 && c.RateLimit.Submit.BurstSize == 0 {
		c.RateLimit.Submit = RateLimitBucketConfig{RequestsPerMinute: 10, BurstSize: 3}
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "pfmea"
	}

	log.Printf("PFMEA Config: {Port:%d Redis:%s API:%s Timeout:%ds Artifacts:%s}\n",
		c.Port, c.RedisAddr, c.APIBaseURL, c.RequestTimeoutSeconds, c.LocalArtifactsDir)
}

func (c *Config) Validate() error {
	var errs []string

	u, err := url.Parse(c.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "apiBaseUrl must be a valid http(s) URL")
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 0 and 65535")
	}
	if c.RequestTimeoutSeconds <= 0 {
		errs = append(errs, "requestTimeoutSeconds must be > 0")
	}
	if strings.TrimSpace(c.LocalArtifactsDir) == "" {
		errs = append(errs, "localArtifactsDir is required")
	}
	if c.RateLimit.Submit.RequestsPerMinute < 0 || c.RateLimit.Submit.BurstSize < 0 {
		errs = append(errs, "rateLimit.submit values must be >= 0")
	}
	if c.RateLimit.Backend.RequestsPerMinute < 0 || c.RateLimit.Backend.BurstSize < 0 {
		errs = append(errs, "rateLimit.backend values must be >= 0")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func parseBool(v string) bool {
	v = strings.TrimSpace(strings.ToLower(v))
	return v == "true" || v == "1" || v == "yes" || v == "y" || v == "on"
}
