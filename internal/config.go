package internal

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const envPrefix = "LINKFETCH_"

// Cloud-share resolution modes
const (
	CloudShareModeShareID = "share-id"
	CloudShareModeProxy   = "proxy"
)

// Config holds application configuration
type Config struct {
	// Transport
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	ProxyURL       string        `yaml:"proxy" json:"proxy"`
	InsecureTLS    bool          `yaml:"insecure_tls" json:"insecure_tls"`
	TLSFingerprint string        `yaml:"tls_fingerprint" json:"tls_fingerprint"`

	// Provider base URL overrides, keyed by provider tag
	ProviderBaseURLs map[string]string `yaml:"providers" json:"providers"`

	CloudShare CloudShareConfig `yaml:"cloudshare" json:"cloudshare"`
	Download   DownloadSettings `yaml:"download" json:"download"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	// Logging configuration
	LogLevel    string `yaml:"log_level" json:"log_level"`
	EnableDebug bool   `yaml:"debug" json:"debug"`
	QuietMode   bool   `yaml:"quiet" json:"quiet"`
	LogFile     string `yaml:"log_file" json:"log_file"`
	LogFormat   string `yaml:"log_format" json:"log_format"`
}

// CloudShareConfig selects and configures the cloud-share resolution variant
type CloudShareConfig struct {
	Mode             string `yaml:"mode" json:"mode"`
	InfoEndpoint     string `yaml:"info_endpoint" json:"info_endpoint"`
	DownloadEndpoint string `yaml:"download_endpoint" json:"download_endpoint"`
	ProxyBaseURL     string `yaml:"proxy_base_url" json:"proxy_base_url"`
}

// DownloadSettings holds defaults for the download command
type DownloadSettings struct {
	Threads    int    `yaml:"threads" json:"threads"`
	RateLimit  string `yaml:"rate_limit" json:"rate_limit"`
	MaxRetries int    `yaml:"max_retries" json:"max_retries"`
}

// ServerConfig holds the JSON API settings
type ServerConfig struct {
	Addr    string   `yaml:"addr" json:"addr"`
	Mode    string   `yaml:"mode" json:"mode"`
	APIKeys []string `yaml:"api_keys" json:"api_keys"`
	// RequestsPerSecond limits each API key or client IP; 0 disables it
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Timeout:          30 * time.Second,
		InsecureTLS:      true,
		ProviderBaseURLs: map[string]string{},
		CloudShare: CloudShareConfig{
			Mode:             CloudShareModeShareID,
			InfoEndpoint:     "https://terabox.hnn.workers.dev/api/get-info-new",
			DownloadEndpoint: "https://terabox.hnn.workers.dev/api/get-downloadp",
			ProxyBaseURL:     "https://www.playertera.com",
		},
		Download: DownloadSettings{
			Threads:    8,
			MaxRetries: 3,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			Mode:              "release",
			RequestsPerSecond: 5,
			Burst:             10,
		},

		// Logging defaults
		LogLevel:  "info",
		LogFile:   "", // Empty means stderr
		LogFormat: "console",
	}
}

// LoadConfigFile merges a YAML or JSON file into the configuration. The
// format is chosen by extension; anything other than .json is read as YAML.
func (c *Config) LoadConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewValidationError("config", "failed to read config file").
			WithContext("file", path).
			WithContext("error", err.Error())
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &fc)
	default:
		err = yaml.Unmarshal(data, &fc)
	}
	if err != nil {
		return NewValidationError("config", "failed to parse config file").
			WithSuggestion("Check the file syntax").
			WithContext("file", path).
			WithContext("error", err.Error())
	}

	return fc.apply(c)
}

// fileConfig mirrors Config with a string timeout so files can say "45s"
type fileConfig struct {
	Timeout          string            `yaml:"timeout" json:"timeout"`
	ProxyURL         *string           `yaml:"proxy" json:"proxy"`
	InsecureTLS      *bool             `yaml:"insecure_tls" json:"insecure_tls"`
	TLSFingerprint   *string           `yaml:"tls_fingerprint" json:"tls_fingerprint"`
	ProviderBaseURLs map[string]string `yaml:"providers" json:"providers"`
	CloudShare       *CloudShareConfig `yaml:"cloudshare" json:"cloudshare"`
	Download         *DownloadSettings `yaml:"download" json:"download"`
	Server           *ServerConfig     `yaml:"server" json:"server"`
	LogLevel         *string           `yaml:"log_level" json:"log_level"`
	EnableDebug      *bool             `yaml:"debug" json:"debug"`
	QuietMode        *bool             `yaml:"quiet" json:"quiet"`
	LogFile          *string           `yaml:"log_file" json:"log_file"`
	LogFormat        *string           `yaml:"log_format" json:"log_format"`
}

func (fc *fileConfig) apply(c *Config) error {
	if fc.Timeout != "" {
		d, err := parseTimeout(fc.Timeout)
		if err != nil {
			return NewValidationErrorWithValue("timeout", "invalid timeout", fc.Timeout).
				WithSuggestion("Use a duration such as 30s or a number of seconds")
		}
		c.Timeout = d
	}
	setString(&c.ProxyURL, fc.ProxyURL)
	setBool(&c.InsecureTLS, fc.InsecureTLS)
	setString(&c.TLSFingerprint, fc.TLSFingerprint)
	if c.ProviderBaseURLs == nil {
		c.ProviderBaseURLs = map[string]string{}
	}
	for k, v := range fc.ProviderBaseURLs {
		c.ProviderBaseURLs[strings.ToLower(k)] = v
	}
	if cs := fc.CloudShare; cs != nil {
		mergeString(&c.CloudShare.Mode, cs.Mode)
		mergeString(&c.CloudShare.InfoEndpoint, cs.InfoEndpoint)
		mergeString(&c.CloudShare.DownloadEndpoint, cs.DownloadEndpoint)
		mergeString(&c.CloudShare.ProxyBaseURL, cs.ProxyBaseURL)
	}
	if d := fc.Download; d != nil {
		if d.Threads != 0 {
			c.Download.Threads = d.Threads
		}
		if d.MaxRetries != 0 {
			c.Download.MaxRetries = d.MaxRetries
		}
		mergeString(&c.Download.RateLimit, d.RateLimit)
	}
	if s := fc.Server; s != nil {
		mergeString(&c.Server.Addr, s.Addr)
		mergeString(&c.Server.Mode, s.Mode)
		if len(s.APIKeys) > 0 {
			c.Server.APIKeys = s.APIKeys
		}
		if s.RequestsPerSecond != 0 {
			c.Server.RequestsPerSecond = s.RequestsPerSecond
		}
		if s.Burst != 0 {
			c.Server.Burst = s.Burst
		}
	}
	setString(&c.LogLevel, fc.LogLevel)
	setBool(&c.EnableDebug, fc.EnableDebug)
	setBool(&c.QuietMode, fc.QuietMode)
	setString(&c.LogFile, fc.LogFile)
	setString(&c.LogFormat, fc.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseTimeout accepts either a Go duration or a bare number of seconds
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// LoadFromEnv loads configuration from LINKFETCH_* environment variables
func (c *Config) LoadFromEnv() {
	if timeout := os.Getenv(envPrefix + "TIMEOUT"); timeout != "" {
		if d, err := parseTimeout(timeout); err == nil && d > 0 {
			c.Timeout = d
		}
	}

	if proxy := os.Getenv(envPrefix + "PROXY"); proxy != "" {
		c.ProxyURL = proxy
	}

	if insecure := os.Getenv(envPrefix + "INSECURE_TLS"); insecure != "" {
		c.InsecureTLS = parseBool(insecure)
	}

	if fp := os.Getenv(envPrefix + "TLS_FINGERPRINT"); fp != "" {
		c.TLSFingerprint = fp
	}

	if mode := os.Getenv(envPrefix + "CLOUDSHARE_MODE"); mode != "" {
		c.CloudShare.Mode = mode
	}

	if threads := os.Getenv(envPrefix + "THREADS"); threads != "" {
		if t, err := strconv.Atoi(threads); err == nil && t > 0 && t <= 32 {
			c.Download.Threads = t
		}
	}

	if limit := os.Getenv(envPrefix + "RATE_LIMIT"); limit != "" {
		c.Download.RateLimit = limit
	}

	if addr := os.Getenv(envPrefix + "SERVER_ADDR"); addr != "" {
		c.Server.Addr = addr
	}

	if keys := os.Getenv(envPrefix + "API_KEYS"); keys != "" {
		c.Server.APIKeys = splitList(keys)
	}

	// Load logging configuration from environment
	if logLevel := os.Getenv(envPrefix + "LOG_LEVEL"); logLevel != "" {
		c.LogLevel = logLevel
	}

	if debug := os.Getenv(envPrefix + "DEBUG"); debug != "" {
		c.EnableDebug = parseBool(debug)
	}

	if quiet := os.Getenv(envPrefix + "QUIET"); quiet != "" {
		c.QuietMode = parseBool(quiet)
	}

	if logFile := os.Getenv(envPrefix + "LOG_FILE"); logFile != "" {
		c.LogFile = logFile
	}

	if logFormat := os.Getenv(envPrefix + "LOG_FORMAT"); logFormat != "" {
		c.LogFormat = logFormat
	}
}

func parseBool(v string) bool {
	return v == "true" || v == "1"
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BaseURL returns the configured base URL override for a provider tag
func (c *Config) BaseURL(provider string) (string, bool) {
	v, ok := c.ProviderBaseURLs[strings.ToLower(provider)]
	return v, ok && v != ""
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout: %s (must be > 0)", c.Timeout)
	}

	if c.Download.Threads < 1 || c.Download.Threads > 32 {
		return fmt.Errorf("invalid download threads: %d (must be 1-32)", c.Download.Threads)
	}

	if c.Download.MaxRetries < 0 {
		return fmt.Errorf("invalid max retries: %d (must be >= 0)", c.Download.MaxRetries)
	}

	if c.Server.RequestsPerSecond < 0 || (c.Server.RequestsPerSecond > 0 && c.Server.Burst < 1) {
		return fmt.Errorf("invalid server rate limit: %g/s burst %d", c.Server.RequestsPerSecond, c.Server.Burst)
	}

	switch c.TLSFingerprint {
	case "", "chrome":
	default:
		return fmt.Errorf("invalid tls fingerprint: %q (supported: chrome)", c.TLSFingerprint)
	}

	switch c.CloudShare.Mode {
	case CloudShareModeShareID, CloudShareModeProxy:
	default:
		return fmt.Errorf("invalid cloudshare mode: %q (must be %s or %s)", c.CloudShare.Mode, CloudShareModeShareID, CloudShareModeProxy)
	}

	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log format: %q (must be console or json)", c.LogFormat)
	}

	for name, raw := range c.ProviderBaseURLs {
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("invalid base URL for provider %s: %w", name, err)
		}
	}

	for _, raw := range []string{c.CloudShare.InfoEndpoint, c.CloudShare.DownloadEndpoint, c.CloudShare.ProxyBaseURL} {
		if err := validateHTTPURL(raw); err != nil {
			return fmt.Errorf("invalid cloudshare endpoint: %w", err)
		}
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", raw)
	}
	return nil
}
