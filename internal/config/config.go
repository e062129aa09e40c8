package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/homiodev/addon-ipscanner/internal/errors"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/ports"
)

const (
	configDirPerm  = 0755
	configFilePerm = 0644
)

// Pinger identifiers accepted by ScannerConfig.SelectedPinger.
const (
	PingerICMP     = "pinger.icmp"
	PingerDatagram = "pinger.dgram"
	PingerUDP      = "pinger.udp"
	PingerTCP      = "pinger.tcp"
	PingerCombined = "pinger.combined"
)

// Config represents the complete ipscanner configuration
type Config struct {
	// Scanning engine configuration
	Scanner ScannerConfig `yaml:"scanner" json:"scanner" validate:"required"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`

	// Scheduled rescans
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
}

// ScannerConfig holds the settings read by the scanning engine. The engine
// reads it while a scan runs; callers change it only while idle.
type ScannerConfig struct {
	// Ports probed on every host
	PortString string `yaml:"port_string" json:"port_string"`

	// Upper bound of concurrently scanned hosts
	MaxThreads int `yaml:"max_threads" json:"max_threads" validate:"min=1,max=2000"`

	// Pause between two dispatched hosts
	ThreadDelay time.Duration `yaml:"thread_delay" json:"thread_delay" validate:"min=0"`

	// Keep probing hosts that did not answer a ping
	ScanDeadHosts bool `yaml:"scan_dead_hosts" json:"scan_dead_hosts"`

	SelectedPinger string        `yaml:"selected_pinger" json:"selected_pinger" validate:"required,oneof=pinger.icmp pinger.dgram pinger.udp pinger.tcp pinger.combined"` //nolint:lll
	PingTimeout    time.Duration `yaml:"ping_timeout" json:"ping_timeout" validate:"min=1ms"`
	PingCount      int           `yaml:"ping_count" json:"ping_count" validate:"min=1,max=50"`

	// Skip addresses ending in .0 and .255
	SkipBroadcastAddresses bool `yaml:"skip_broadcast_addresses" json:"skip_broadcast_addresses"`

	PortTimeout      time.Duration `yaml:"port_timeout" json:"port_timeout" validate:"min=1ms"`
	AdaptPortTimeout bool          `yaml:"adapt_port_timeout" json:"adapt_port_timeout"`
	MinPortTimeout   time.Duration `yaml:"min_port_timeout" json:"min_port_timeout" validate:"min=1ms"`

	// Also probe ports requested per host by the feeder
	UseRequestedPorts bool `yaml:"use_requested_ports" json:"use_requested_ports"`

	// Fetchers run for every host, in order
	SelectedFetchers []string `yaml:"selected_fetchers" json:"selected_fetchers" validate:"dive,required"`

	// Time a stopping scan gets before it is killed
	KillDelay time.Duration `yaml:"kill_delay" json:"kill_delay" validate:"min=0"`

	// SNMP v2c community for the SNMP name fetcher
	SNMPCommunity string `yaml:"snmp_community" json:"snmp_community"`

	// Addresses and prefixes never scanned
	Exclude []string `yaml:"exclude" json:"exclude" validate:"dive,ip|cidr"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`

	// Listen port
	Port int `yaml:"port" json:"port" validate:"min=0,max=65535"`

	// CORS settings
	CORS CORSConfig `yaml:"cors" json:"cors"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	// Enable CORS
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Allowed origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Allowed methods
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`

	// Allowed headers
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Log file rotation
	Rotation logging.RotationConfig `yaml:"rotation" json:"rotation"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// ScheduleConfig holds cron-driven rescans.
type ScheduleConfig struct {
	Jobs []ScheduledScan `yaml:"jobs" json:"jobs" validate:"dive"`
}

// ScheduledScan is one recurring scan of a fixed range.
type ScheduledScan struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Cron  string `yaml:"cron" json:"cron" validate:"required"`
	Start string `yaml:"start" json:"start" validate:"required,ip"`
	End   string `yaml:"end" json:"end" validate:"required,ip"`
	Ports string `yaml:"ports" json:"ports"`
}

// DefaultPinger returns the pinger preferred on the running OS.
func DefaultPinger() string {
	if runtime.GOOS == "windows" {
		return PingerCombined
	}
	return PingerICMP
}

// DefaultScanner returns the engine defaults.
func DefaultScanner() ScannerConfig {
	return ScannerConfig{
		PortString:             "80,443,8080",
		MaxThreads:             30,
		ThreadDelay:            20 * time.Millisecond,
		ScanDeadHosts:          false,
		SelectedPinger:         DefaultPinger(),
		PingTimeout:            2000 * time.Millisecond,
		PingCount:              3,
		SkipBroadcastAddresses: true,
		PortTimeout:            2000 * time.Millisecond,
		AdaptPortTimeout:       true,
		MinPortTimeout:         100 * time.Millisecond,
		UseRequestedPorts:      true,
		SelectedFetchers:       []string{"Ping", "Hostname", "Ports"},
		KillDelay:              10 * time.Second,
		SNMPCommunity:          "public",
	}
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Scanner: DefaultScanner(),
		API: APIConfig{
			Enabled:    true,
			ListenAddr: "127.0.0.1",
			Port:       8090,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
			},
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    60 * time.Second,
			MaxRequestSize: 1024 * 1024, // 1MB
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stderr",
			Rotation:       logging.DefaultConfig().Rotation,
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapConfigError(errors.CodeFileNotFound, "failed to read config file", err)
	}

	// JSON is a subset of YAML, so one decoder serves both.
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml", ".json", "":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.WrapConfigError(errors.CodeConfiguration,
				fmt.Sprintf("failed to parse config %s", filepath.Base(path)), err)
		}
	default:
		return nil, errors.NewConfigError(errors.CodeConfiguration,
			fmt.Sprintf("unsupported config extension %q", ext))
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return errors.WrapConfigError(errors.CodeDirectoryCreate, "failed to create config directory", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return errors.WrapConfigError(errors.CodeFilePermission, "failed to write config file", err)
	}

	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return toConfigError(err)
	}
	if err := c.Scanner.Validate(); err != nil {
		return err
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"API listen address is required when API is enabled", "api.listen_addr", "")
	}
	return nil
}

// Validate checks the semantic rules struct tags cannot express.
func (s *ScannerConfig) Validate() error {
	if err := validate.Struct(s); err != nil {
		return toConfigError(err)
	}
	if _, err := ports.Parse(s.PortString); err != nil {
		return errors.ErrInvalidPorts(s.PortString, err)
	}
	if s.MinPortTimeout > s.PortTimeout {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"min port timeout exceeds port timeout", "scanner.min_port_timeout", s.MinPortTimeout)
	}
	return nil
}

func toConfigError(err error) error {
	verrs, ok := err.(validator.ValidationErrors) //nolint:errorlint // returned unwrapped by validator
	if ok && len(verrs) > 0 {
		fe := verrs[0]
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("failed on %q rule", fe.Tag()), fe.Namespace(), fe.Value())
	}
	return errors.WrapConfigError(errors.CodeValidation, "validation failed", err)
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}

// LoggerConfig converts the file settings into a logger configuration.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{
		Level:    logging.LogLevel(c.Logging.Level),
		Format:   logging.LogFormat(c.Logging.Format),
		Output:   c.Logging.Output,
		Rotation: c.Logging.Rotation,
	}
}
