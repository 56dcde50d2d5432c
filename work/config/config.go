package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Config holds all application configuration for the media source resolver.
// It covers the HTTP surface, the SQLite store, probing behavior, result
// caching and the set of dynamic-source providers.
type Config struct {
	BaseURL        string        `json:"baseURL"`        // Base URL for the application (used in API links)
	ListenPort     int           `json:"listenPort"`     // HTTP listen port
	DatabasePath   string        `json:"databasePath"`   // Path of the SQLite database file
	WorkerThreads  int           `json:"workerThreads"`  // Size of the provider fan-out worker pool
	Debug          bool          `json:"debug"`          // Enable debug logging
	LogLevel       string        `json:"logLevel"`       // Minimum log level (DEBUG/INFO/WARN/ERROR)
	ObfuscateUrls  bool          `json:"obfuscateUrls"`  // Obfuscate URLs and open tokens in logs
	CacheEnabled   bool          `json:"cacheEnabled"`   // Whether the resolved-source cache is enabled
	CacheDuration  time.Duration `json:"cacheDuration"`  // Expiry for resolved-source cache entries
	CacheMaxItems  int           `json:"cacheMaxItems"`  // Upper bound on cached resolutions
	ProbeTimeout   time.Duration `json:"probeTimeout"`   // Timeout for a single ffprobe run
	ProbesPerSec   int           `json:"probesPerSec"`   // Rate limit on ffprobe launches
	ProviderCall   time.Duration `json:"providerCall"`   // Timeout for a single provider list/open call
	AdminTokenHash string        `json:"adminTokenHash"` // bcrypt hash guarding the admin API ("" disables it)

	PathSubstitutions []PathSubstitution `json:"pathSubstitutions"` // Prefix rewrites for file-protocol paths
	Providers         []ProviderConfig   `json:"providers"`         // Configured dynamic-source providers
}

// PathSubstitution rewrites a path prefix on file-protocol static sources when
// a request asks for substitution (e.g. container mount point differences).
type PathSubstitution struct {
	From string `json:"from"` // Prefix to replace
	To   string `json:"to"`   // Replacement prefix
}

// ProviderConfig configures a single dynamic-source provider instance. Type
// selects the implementation ("hls" or "xtream"); the remaining fields feed
// the chosen implementation and may stay empty for the other type.
type ProviderConfig struct {
	Name              string `json:"name"`                        // Stable provider name; hashed for routing, must not change
	Type              string `json:"type"`                        // "hls" or "xtream"
	URL               string `json:"url"`                         // Playlist URL (hls) or API base URL (xtream)
	Username          string `json:"username,omitempty"`          // xtream account
	Password          string `json:"password,omitempty"`          // xtream account
	UserAgent         string `json:"userAgent,omitempty"`         // HTTP User-Agent for upstream requests
	ReqOrigin         string `json:"reqOrigin,omitempty"`         // HTTP Origin header for upstream requests
	ReqReferrer       string `json:"reqReferrer,omitempty"`       // HTTP Referer header for upstream requests
	RequestsPerSecond int    `json:"requestsPerSecond,omitempty"` // Upstream API rate limit
	IncludeRegex      string `json:"includeRegex,omitempty"`      // Only list streams whose name matches
	ExcludeRegex      string `json:"excludeRegex,omitempty"`      // Never list streams whose name matches
}

// ConfigFile mirrors Config for JSON marshaling; duration values are strings
// (e.g. "30m") parsed into time.Duration on load.
type ConfigFile struct {
	BaseURL        string `json:"baseURL"`
	ListenPort     int    `json:"listenPort"`
	DatabasePath   string `json:"databasePath"`
	WorkerThreads  int    `json:"workerThreads"`
	Debug          bool   `json:"debug"`
	LogLevel       string `json:"logLevel"`
	ObfuscateUrls  bool   `json:"obfuscateUrls"`
	CacheEnabled   bool   `json:"cacheEnabled"`
	CacheDuration  string `json:"cacheDuration"` // Duration string (e.g. "2m")
	CacheMaxItems  int    `json:"cacheMaxItems"`
	ProbeTimeout   string `json:"probeTimeout"` // Duration string (e.g. "20s")
	ProbesPerSec   int    `json:"probesPerSec"`
	ProviderCall   string `json:"providerCall"` // Duration string (e.g. "30s")
	AdminTokenHash string `json:"adminTokenHash"`

	PathSubstitutions []PathSubstitution `json:"pathSubstitutions"`
	Providers         []ProviderConfig   `json:"providers"`
}

var (
	configCache *Config
	configMutex sync.RWMutex
)

// DefaultPath is where LoadConfig looks unless KMEDIA_CONFIG overrides it.
const DefaultPath = "/settings/config.json"

// LoadConfig loads the configuration from file or returns the cached instance.
//
// Process:
//   - Uses double-checked locking to avoid redundant reloads.
//   - Attempts to load from KMEDIA_CONFIG, falling back to DefaultPath.
//   - Falls back to the default config if the file is missing or invalid.
//   - Runs validation to ensure safe defaults.
func LoadConfig() *Config {
	configMutex.RLock()
	if configCache != nil {
		defer configMutex.RUnlock()
		return configCache
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()

	// Double-check under write lock
	if configCache != nil {
		return configCache
	}

	configPath := os.Getenv("KMEDIA_CONFIG")
	if configPath == "" {
		configPath = DefaultPath
	}
	config, err := loadFromFile(configPath)
	if err != nil {
		log.Printf("Failed to load config from %s: %v", configPath, err)
		log.Printf("Falling back to default configuration...")
		config = getDefaultConfig()
	}

	validateAndSetDefaults(config)
	configCache = config
	return config
}

// ClearConfigCache resets the cached instance, forcing a reload on the next
// LoadConfig call. Used by graceful restart.
func ClearConfigCache() {
	configMutex.Lock()
	defer configMutex.Unlock()
	configCache = nil
}

// loadFromFile reads and parses the configuration from a JSON file.
func loadFromFile(path string) (*Config, error) {

	// read from the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// unmarshal the config file
	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// convert to our settings
	return convertFromFile(&configFile)
}

// convertFromFile converts a ConfigFile to Config, parsing duration strings.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	config := &Config{
		BaseURL:           cf.BaseURL,
		ListenPort:        cf.ListenPort,
		DatabasePath:      cf.DatabasePath,
		WorkerThreads:     cf.WorkerThreads,
		Debug:             cf.Debug,
		LogLevel:          cf.LogLevel,
		ObfuscateUrls:     cf.ObfuscateUrls,
		CacheEnabled:      cf.CacheEnabled,
		CacheMaxItems:     cf.CacheMaxItems,
		ProbesPerSec:      cf.ProbesPerSec,
		AdminTokenHash:    cf.AdminTokenHash,
		PathSubstitutions: cf.PathSubstitutions,
		Providers:         cf.Providers,
	}

	// Parse duration fields
	var err error
	if cf.CacheDuration != "" {
		if config.CacheDuration, err = time.ParseDuration(cf.CacheDuration); err != nil {
			return nil, fmt.Errorf("invalid cacheDuration: %w", err)
		}
	}
	if cf.ProbeTimeout != "" {
		if config.ProbeTimeout, err = time.ParseDuration(cf.ProbeTimeout); err != nil {
			return nil, fmt.Errorf("invalid probeTimeout: %w", err)
		}
	}
	if cf.ProviderCall != "" {
		if config.ProviderCall, err = time.ParseDuration(cf.ProviderCall); err != nil {
			return nil, fmt.Errorf("invalid providerCall: %w", err)
		}
	}

	return config, nil
}

// getDefaultConfig returns a baseline configuration with sensible defaults
// when no file is present.
func getDefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:8080",
		ListenPort:    8080,
		DatabasePath:  "/settings/kmedia.db",
		WorkerThreads: 8,
		Debug:         false,
		LogLevel:      "INFO",
		ObfuscateUrls: true,
		CacheEnabled:  true,
		CacheDuration: 2 * time.Minute,
		CacheMaxItems: 1024,
		ProbeTimeout:  20 * time.Second,
		ProbesPerSec:  4,
		ProviderCall:  30 * time.Second,
		Providers:     []ProviderConfig{},
	}
}

// validateAndSetDefaults ensures all config values are valid, filling in
// defaults for missing or invalid ones.
func validateAndSetDefaults(config *Config) {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8080"
	}
	if config.ListenPort <= 0 || config.ListenPort > 65535 {
		config.ListenPort = 8080
	}
	if config.DatabasePath == "" {
		config.DatabasePath = "/settings/kmedia.db"
	}
	if config.WorkerThreads <= 0 {
		config.WorkerThreads = 8
	}
	if config.LogLevel == "" {
		if config.Debug {
			config.LogLevel = "DEBUG"
		} else {
			config.LogLevel = "INFO"
		}
	}
	if config.CacheDuration <= 0 {
		config.CacheDuration = 2 * time.Minute
	}
	if config.CacheMaxItems <= 0 {
		config.CacheMaxItems = 1024
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 20 * time.Second
	}
	if config.ProbesPerSec <= 0 {
		config.ProbesPerSec = 4
	}
	if config.ProviderCall <= 0 {
		config.ProviderCall = 30 * time.Second
	}

	// Validate each provider
	seen := map[string]bool{}
	for i := range config.Providers {
		p := &config.Providers[i]
		if p.Name == "" {
			p.Name = fmt.Sprintf("Provider_%d", i+1)
		}
		if seen[p.Name] {
			p.Name = fmt.Sprintf("%s_%d", p.Name, i+1)
		}
		seen[p.Name] = true
		if p.Type == "" {
			p.Type = "hls"
		}
		if p.RequestsPerSecond <= 0 {
			p.RequestsPerSecond = 5
		}
		if p.UserAgent == "" {
			p.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
		}
		// ReqOrigin and ReqReferrer may remain empty
	}
}

// SubstitutePath applies the first matching path substitution to a
// file-protocol path. Paths without a matching prefix pass through unchanged.
func (c *Config) SubstitutePath(path string) string {
	for i := range c.PathSubstitutions {
		sub := &c.PathSubstitutions[i]
		if sub.From != "" && len(path) >= len(sub.From) && path[:len(sub.From)] == sub.From {
			return sub.To + path[len(sub.From):]
		}
	}
	return path
}

// CreateExampleConfig writes an example config file to disk.
func CreateExampleConfig(path string) error {
	example := ConfigFile{
		BaseURL:       "http://localhost:8080",
		ListenPort:    8080,
		DatabasePath:  "/settings/kmedia.db",
		WorkerThreads: 8,
		Debug:         false,
		LogLevel:      "INFO",
		ObfuscateUrls: true,
		CacheEnabled:  true,
		CacheDuration: "2m",
		CacheMaxItems: 1024,
		ProbeTimeout:  "20s",
		ProbesPerSec:  4,
		ProviderCall:  "30s",
		PathSubstitutions: []PathSubstitution{
			{From: "/mnt/media", To: "/media"},
		},
		Providers: []ProviderConfig{
			{
				Name:              "Primary HLS Head-End",
				Type:              "hls",
				URL:               "http://example.com/master.m3u8",
				UserAgent:         "VLC/3.0.18 LibVLC/3.0.18",
				RequestsPerSecond: 5,
			},
			{
				Name:              "Backup XC Account",
				Type:              "xtream",
				URL:               "http://example.com:8080",
				Username:          "user",
				Password:          "pass",
				RequestsPerSecond: 2,
				IncludeRegex:      "",
				ExcludeRegex:      "(?i)adult",
			},
		},
	}

	data, err := json.MarshalIndent(example, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
