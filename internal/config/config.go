package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Guard   GuardConfig   `yaml:"guard" json:"guard"`
	Geo     GeoConfig     `yaml:"geo" json:"geo"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" json:"host"`
	Port         int           `yaml:"port" json:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	MaxBodySize  int64         `yaml:"max_body_size" json:"max_body_size"`
}

type StorageConfig struct {
	Engine     string        `yaml:"engine" json:"engine"` // badger, redis, memory
	DataPath   string        `yaml:"data_path" json:"data_path"`
	InMemory   bool          `yaml:"in_memory" json:"in_memory"`
	SyncWrites bool          `yaml:"sync_writes" json:"sync_writes"`
	ValueLogGC bool          `yaml:"value_log_gc" json:"value_log_gc"`
	GCInterval time.Duration `yaml:"gc_interval" json:"gc_interval"`
	Redis      RedisConfig   `yaml:"redis" json:"redis"`
}

type RedisConfig struct {
	Address   string        `yaml:"address" json:"address"`
	Password  string        `yaml:"password" json:"password"`
	Database  int           `yaml:"database" json:"database"`
	KeyPrefix string        `yaml:"key_prefix" json:"key_prefix"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// GuardConfig holds every tunable of the admission engine: window limits,
// bot heuristics, penalty durations and whitelist promotion criteria.
type GuardConfig struct {
	BurstLimit            int                 `yaml:"burst_limit" json:"burst_limit"`
	BurstWindow           time.Duration       `yaml:"burst_window" json:"burst_window"`
	SustainedLimit        int                 `yaml:"sustained_limit" json:"sustained_limit"`
	SustainedWindow       time.Duration       `yaml:"sustained_window" json:"sustained_window"`
	PriorityMultipliers   PriorityMultipliers `yaml:"priority_multipliers" json:"priority_multipliers"`
	BaseBlockDuration     time.Duration       `yaml:"base_block_duration" json:"base_block_duration"`
	SeverityMultipliers   SeverityMultipliers `yaml:"severity_multipliers" json:"severity_multipliers"`
	AutomatedToolTokens   []string            `yaml:"automated_tool_tokens" json:"automated_tool_tokens"`
	SuspiciousExtensions  []string            `yaml:"suspicious_extensions" json:"suspicious_extensions"`
	RapidRequestThreshold int                 `yaml:"rapid_request_threshold" json:"rapid_request_threshold"`
	IdenticalUAThreshold  int                 `yaml:"identical_ua_threshold" json:"identical_ua_threshold"`
	Whitelist             WhitelistCriteria   `yaml:"whitelist" json:"whitelist"`
	StaticWhitelist       StaticWhitelist     `yaml:"static_whitelist" json:"static_whitelist"`
	MaxTrackedClients     int                 `yaml:"max_tracked_clients" json:"max_tracked_clients"`
	CleanupInterval       time.Duration       `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// PriorityMultipliers scale window limits for geo-prioritized clients.
type PriorityMultipliers struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
	Low    float64 `yaml:"low" json:"low"`
}

// SeverityMultipliers scale the base block duration per violation severity.
type SeverityMultipliers struct {
	Warning      float64 `yaml:"warning" json:"warning"`
	Suspicious   float64 `yaml:"suspicious" json:"suspicious"`
	ConfirmedBot float64 `yaml:"confirmed_bot" json:"confirmed_bot"`
	Attack       float64 `yaml:"attack" json:"attack"`
	GeoViolation float64 `yaml:"geo_violation" json:"geo_violation"`
}

// WhitelistCriteria are the thresholds a client must clear before the
// promoter grants a permanent bypass.
type WhitelistCriteria struct {
	MinSessions      int           `yaml:"min_sessions" json:"min_sessions"`
	MinDistinctPages int           `yaml:"min_distinct_pages" json:"min_distinct_pages"`
	MinHumanScore    float64       `yaml:"min_human_score" json:"min_human_score"`
	MinTimeSpan      time.Duration `yaml:"min_time_span" json:"min_time_span"`
	GeoVerification  bool          `yaml:"geo_verification" json:"geo_verification"`
}

// StaticWhitelist is operator-configured trust, checked before everything
// else: CIDR ranges and exact user-agent strings that always pass.
type StaticWhitelist struct {
	IPRanges   []string `yaml:"ip_ranges" json:"ip_ranges"`
	UserAgents []string `yaml:"user_agents" json:"user_agents"`
}

type GeoConfig struct {
	Enabled           bool              `yaml:"enabled" json:"enabled"`
	Timeout           time.Duration     `yaml:"timeout" json:"timeout"`
	BlockedCountries  []string          `yaml:"blocked_countries" json:"blocked_countries"`
	CountryPriorities map[string]string `yaml:"country_priorities" json:"country_priorities"`
	DefaultCountry    string            `yaml:"default_country" json:"default_country"`
}

type LoggingConfig struct {
	Level                string `yaml:"level" json:"level"`
	Format               string `yaml:"format" json:"format"`
	Output               string `yaml:"output" json:"output"`
	EnableRequestTracing bool   `yaml:"enable_request_tracing" json:"enable_request_tracing"`
	EnableCorrelationIDs bool   `yaml:"enable_correlation_ids" json:"enable_correlation_ids"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

type TracingConfig struct {
	Enabled        bool              `yaml:"enabled" json:"enabled"`
	ServiceName    string            `yaml:"service_name" json:"service_name"`
	ServiceVersion string            `yaml:"service_version" json:"service_version"`
	Environment    string            `yaml:"environment" json:"environment"`
	ExporterType   string            `yaml:"exporter_type" json:"exporter_type"`
	JaegerEndpoint string            `yaml:"jaeger_endpoint" json:"jaeger_endpoint"`
	OTLPEndpoint   string            `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPHeaders    map[string]string `yaml:"otlp_headers" json:"otlp_headers"`
	SamplingRatio  float64           `yaml:"sampling_ratio" json:"sampling_ratio"`
}

func Load(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	loadFromEnvironment(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "localhost",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
			MaxBodySize:  1024 * 1024, // 1MB
		},
		Storage: StorageConfig{
			Engine:     "badger",
			DataPath:   "./data/guard",
			InMemory:   false,
			SyncWrites: false,
			ValueLogGC: true,
			GCInterval: 5 * time.Minute,
			Redis: RedisConfig{
				Address:   "localhost:6379",
				Database:  0,
				KeyPrefix: "guard",
				Timeout:   2 * time.Second,
			},
		},
		Guard: GuardConfig{
			BurstLimit:      20,
			BurstWindow:     10 * time.Second,
			SustainedLimit:  300,
			SustainedWindow: 5 * time.Minute,
			PriorityMultipliers: PriorityMultipliers{
				High:   2.0,
				Medium: 1.5,
				Low:    1.0,
			},
			BaseBlockDuration: 5 * time.Minute,
			SeverityMultipliers: SeverityMultipliers{
				Warning:      1.0,
				Suspicious:   2.0,
				ConfirmedBot: 6.0,
				Attack:       12.0,
				GeoViolation: 24.0,
			},
			AutomatedToolTokens: []string{
				"python-requests", "curl", "wget", "scrapy", "httpclient",
				"go-http-client", "libwww-perl", "mechanize", "phantomjs",
				"headless", "selenium", "bot", "crawler", "spider",
			},
			SuspiciousExtensions: []string{
				".xml", ".bak", ".sql", ".env", ".old", ".config",
			},
			RapidRequestThreshold: 15,
			IdenticalUAThreshold:  500,
			Whitelist: WhitelistCriteria{
				MinSessions:      5,
				MinDistinctPages: 10,
				MinHumanScore:    8.0,
				MinTimeSpan:      time.Hour,
				GeoVerification:  true,
			},
			StaticWhitelist: StaticWhitelist{
				IPRanges:   []string{},
				UserAgents: []string{},
			},
			MaxTrackedClients: 10000,
			CleanupInterval:   10 * time.Minute,
		},
		Geo: GeoConfig{
			Enabled:           false,
			Timeout:           500 * time.Millisecond,
			BlockedCountries:  []string{},
			CountryPriorities: map[string]string{},
			DefaultCountry:    "",
		},
		Logging: LoggingConfig{
			Level:                "info",
			Format:               "json",
			Output:               "stdout",
			EnableRequestTracing: true,
			EnableCorrelationIDs: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "admission-guard",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			ExporterType:   "console",
			JaegerEndpoint: "http://localhost:14268/api/traces",
			OTLPEndpoint:   "http://localhost:4318",
			OTLPHeaders:    make(map[string]string),
			SamplingRatio:  1.0,
		},
	}
}

func loadFromFile(config *Config, configPath string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(configPath))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to unmarshal YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

func loadFromEnvironment(config *Config) {
	// Server configuration
	if host := os.Getenv("GUARD_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("GUARD_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Storage configuration
	if engine := os.Getenv("GUARD_STORAGE_ENGINE"); engine != "" {
		config.Storage.Engine = engine
	}
	if dataPath := os.Getenv("GUARD_STORAGE_DATA_PATH"); dataPath != "" {
		config.Storage.DataPath = dataPath
	}
	if inMemory := os.Getenv("GUARD_STORAGE_IN_MEMORY"); inMemory != "" {
		if b, err := strconv.ParseBool(inMemory); err == nil {
			config.Storage.InMemory = b
		}
	}
	if addr := os.Getenv("GUARD_REDIS_ADDRESS"); addr != "" {
		config.Storage.Redis.Address = addr
	}
	if password := os.Getenv("GUARD_REDIS_PASSWORD"); password != "" {
		config.Storage.Redis.Password = password
	}

	// Guard configuration
	if limit := os.Getenv("GUARD_BURST_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Guard.BurstLimit = n
		}
	}
	if limit := os.Getenv("GUARD_SUSTAINED_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Guard.SustainedLimit = n
		}
	}
	if maxClients := os.Getenv("GUARD_MAX_TRACKED_CLIENTS"); maxClients != "" {
		if n, err := strconv.Atoi(maxClients); err == nil {
			config.Guard.MaxTrackedClients = n
		}
	}

	// Geo configuration
	if enabled := os.Getenv("GUARD_GEO_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Geo.Enabled = b
		}
	}

	// Logging configuration
	if level := os.Getenv("GUARD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("GUARD_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}

	// Tracing configuration
	if enabled := os.Getenv("GUARD_TRACING_ENABLED"); enabled != "" {
		if b, err := strconv.ParseBool(enabled); err == nil {
			config.Tracing.Enabled = b
		}
	}
}

func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	if c.Server.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive")
	}

	// Storage validation
	switch c.Storage.Engine {
	case "badger":
		if !c.Storage.InMemory && c.Storage.DataPath == "" {
			return fmt.Errorf("data path cannot be empty when not using in-memory storage")
		}
		if c.Storage.GCInterval <= 0 {
			return fmt.Errorf("GC interval must be positive")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		if c.Storage.Redis.Timeout <= 0 {
			return fmt.Errorf("redis timeout must be positive")
		}
	case "memory":
		// No extra requirements.
	case "":
		return fmt.Errorf("storage engine cannot be empty")
	default:
		return fmt.Errorf("unknown storage engine: %s", c.Storage.Engine)
	}

	// Guard validation
	if c.Guard.BurstLimit <= 0 {
		return fmt.Errorf("burst limit must be positive")
	}
	if c.Guard.BurstWindow <= 0 {
		return fmt.Errorf("burst window must be positive")
	}
	if c.Guard.SustainedLimit <= 0 {
		return fmt.Errorf("sustained limit must be positive")
	}
	if c.Guard.SustainedWindow <= c.Guard.BurstWindow {
		return fmt.Errorf("sustained window must be greater than burst window")
	}
	if c.Guard.BaseBlockDuration <= 0 {
		return fmt.Errorf("base block duration must be positive")
	}
	for name, m := range map[string]float64{
		"high":   c.Guard.PriorityMultipliers.High,
		"medium": c.Guard.PriorityMultipliers.Medium,
		"low":    c.Guard.PriorityMultipliers.Low,
	} {
		if m < 1.0 {
			return fmt.Errorf("priority multiplier %q must be >= 1.0, got %g", name, m)
		}
	}
	for name, m := range map[string]float64{
		"warning":       c.Guard.SeverityMultipliers.Warning,
		"suspicious":    c.Guard.SeverityMultipliers.Suspicious,
		"confirmed_bot": c.Guard.SeverityMultipliers.ConfirmedBot,
		"attack":        c.Guard.SeverityMultipliers.Attack,
		"geo_violation": c.Guard.SeverityMultipliers.GeoViolation,
	} {
		if m <= 0 {
			return fmt.Errorf("severity multiplier %q must be positive, got %g", name, m)
		}
	}
	if c.Guard.RapidRequestThreshold <= 0 {
		return fmt.Errorf("rapid request threshold must be positive")
	}
	if c.Guard.IdenticalUAThreshold <= 0 {
		return fmt.Errorf("identical UA threshold must be positive")
	}
	if c.Guard.MaxTrackedClients <= 0 {
		return fmt.Errorf("max tracked clients must be positive")
	}
	if c.Guard.Whitelist.MinSessions <= 0 {
		return fmt.Errorf("whitelist min sessions must be positive")
	}
	if c.Guard.Whitelist.MinDistinctPages <= 0 {
		return fmt.Errorf("whitelist min distinct pages must be positive")
	}
	if c.Guard.Whitelist.MinHumanScore < 0 || c.Guard.Whitelist.MinHumanScore > 10 {
		return fmt.Errorf("whitelist min human score must be in [0,10], got %g", c.Guard.Whitelist.MinHumanScore)
	}
	if c.Guard.Whitelist.MinTimeSpan <= 0 {
		return fmt.Errorf("whitelist min time span must be positive")
	}
	for _, cidr := range c.Guard.StaticWhitelist.IPRanges {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("invalid static whitelist CIDR %q: %w", cidr, err)
		}
	}

	// Geo validation
	if c.Geo.Enabled && c.Geo.Timeout <= 0 {
		return fmt.Errorf("geo timeout must be positive when geo is enabled")
	}
	for country, priority := range c.Geo.CountryPriorities {
		switch priority {
		case "high", "medium", "low":
		default:
			return fmt.Errorf("invalid priority %q for country %q", priority, country)
		}
	}

	// Logging validation
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{
		"json": true, "text": true, "console": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	// Metrics validation
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics path cannot be empty when metrics are enabled")
	}

	return nil
}

func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
