package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/spf13/pflag"

	"i4.energy/across/cellnet/network"
)

// Config holds the application configuration
type Config struct {
	// BindAddress is the address the HTTP API listens on (e.g. "0.0.0.0:8080")
	BindAddress string `yaml:"bind_address"`
	// SerialPort is the path to the modem's serial port (e.g. "/dev/ttyUSB0")
	SerialPort string `yaml:"serial_port"`
	// BaudRate is the baud rate for serial communication with the modem (e.g. 115200)
	BaudRate int `yaml:"baud_rate"`
	// ModemURL reaches the modem through a serial-to-WebSocket bridge
	// instead of SerialPort when set.
	ModemURL string `yaml:"modem_url"`
	// ModemUsername and ModemPassword authenticate against the bridge.
	ModemUsername string `yaml:"modem_username"`
	ModemPassword string `yaml:"modem_password"`
	// Model selects the command dialect: sim7080 or sim800
	Model string `yaml:"model"`
	// AccessPoint configures the packet data network
	AccessPoint network.AccessPoint `yaml:"access_point"`
	// SimPIN is the SIM card PIN code
	SimPIN string `yaml:"sim_pin"`
	// MaxRetry is the retry budget of one connect
	MaxRetry int `yaml:"max_retry"`
	// AutoReconnect lets the modem and the watchdog restore a dropped connection
	AutoReconnect bool `yaml:"auto_reconnect"`
	// WatchdogInterval is how often a wanted connection is checked
	WatchdogInterval time.Duration `yaml:"watchdog_interval"`
	// LogLevel sets the logging level (e.g. "debug", "info", "warn", "error")
	LogLevel string `yaml:"log_level"`
	// NATSURL publishes network events to this server when set
	NATSURL string `yaml:"nats_url"`
	// NATSPort starts an embedded NATS server on this port when non-zero
	NATSPort int `yaml:"nats_port"`
	// NATSPrefix is the subject prefix of published events
	NATSPrefix string `yaml:"nats_prefix"`
	// ReportInterval is how often the network information is published
	ReportInterval time.Duration `yaml:"report_interval"`
	// PowerKeyPin is the GPIO wired to the modem's PWRKEY (e.g. "GPIO4")
	PowerKeyPin string `yaml:"power_key_pin"`
	// PowerOnStart presses the power key before the modem is opened
	PowerOnStart bool `yaml:"power_on_start"`
	// Simulate replaces the modem with an in-memory simulator
	Simulate bool `yaml:"simulate"`
}

// ConfigOption is a function that modifies a Config
type ConfigOption func(*Config) error

// LoadConfig creates a new config by applying the given options in order
// and validates the result
func LoadConfig(opts ...ConfigOption) (*Config, error) {
	config := &Config{}

	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// WithDefaults applies default configuration values
func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.Model = "sim7080"
		c.MaxRetry = network.DefaultMaxRetry
		c.AutoReconnect = true
		c.WatchdogInterval = time.Minute
		c.LogLevel = "info"
		c.ReportInterval = 5 * time.Minute
		return nil
	}
}

// WithFile loads configuration from a YAML file. An empty path is ignored.
// Keys missing from the file keep their current value.
func WithFile(path string) ConfigOption {
	return func(c *Config) error {
		if path == "" {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config file %s: %w", path, err)
		}
		return nil
	}
}

// WithEnv loads configuration from environment variables
func WithEnv() ConfigOption {
	return func(c *Config) error {
		var errs []error
		str := func(name string, dst *string) {
			if v := os.Getenv(name); v != "" {
				*dst = v
			}
		}
		num := func(name string, dst *int) {
			if v := os.Getenv(name); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
					return
				}
				*dst = n
			}
		}
		flag := func(name string, dst *bool) {
			if v := os.Getenv(name); v != "" {
				b, err := strconv.ParseBool(v)
				if err != nil {
					errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
					return
				}
				*dst = b
			}
		}
		duration := func(name string, dst *time.Duration) {
			if v := os.Getenv(name); v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					errs = append(errs, fmt.Errorf("invalid %s: %w", name, err))
					return
				}
				*dst = d
			}
		}

		str("BIND_ADDRESS", &c.BindAddress)
		str("SERIAL_PORT", &c.SerialPort)
		num("BAUD_RATE", &c.BaudRate)
		str("MODEM_URL", &c.ModemURL)
		str("MODEM_USERNAME", &c.ModemUsername)
		str("MODEM_PASSWORD", &c.ModemPassword)
		str("MODEM_MODEL", &c.Model)
		str("APN", &c.AccessPoint.Name)
		str("APN_USER", &c.AccessPoint.User)
		str("APN_PASSWORD", &c.AccessPoint.Password)
		str("SIM_PIN", &c.SimPIN)
		num("MAX_RETRY", &c.MaxRetry)
		flag("AUTO_RECONNECT", &c.AutoReconnect)
		duration("WATCHDOG_INTERVAL", &c.WatchdogInterval)
		str("LOG_LEVEL", &c.LogLevel)
		str("NATS_URL", &c.NATSURL)
		num("NATS_PORT", &c.NATSPort)
		str("NATS_PREFIX", &c.NATSPrefix)
		duration("REPORT_INTERVAL", &c.ReportInterval)
		str("PWRKEY_PIN", &c.PowerKeyPin)
		flag("SIMULATE", &c.Simulate)

		return errors.Join(errs...)
	}
}

// WithFlags loads configuration from command-line flags that were set
// explicitly
func WithFlags(fSet *pflag.FlagSet) ConfigOption {
	return func(c *Config) error {
		var errs []error
		fSet.Visit(func(f *pflag.Flag) {
			var err error
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				c.BaudRate, err = strconv.Atoi(f.Value.String())
			case "modem-url":
				c.ModemURL = f.Value.String()
			case "modem-username":
				c.ModemUsername = f.Value.String()
			case "model":
				c.Model = f.Value.String()
			case "apn":
				c.AccessPoint.Name = f.Value.String()
			case "apn-user":
				c.AccessPoint.User = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "max-retry":
				c.MaxRetry, err = strconv.Atoi(f.Value.String())
			case "auto-reconnect":
				c.AutoReconnect, err = strconv.ParseBool(f.Value.String())
			case "watchdog-interval":
				c.WatchdogInterval, err = time.ParseDuration(f.Value.String())
			case "log-level":
				c.LogLevel = f.Value.String()
			case "nats-url":
				c.NATSURL = f.Value.String()
			case "nats-port":
				c.NATSPort, err = strconv.Atoi(f.Value.String())
			case "nats-prefix":
				c.NATSPrefix = f.Value.String()
			case "report-interval":
				c.ReportInterval, err = time.ParseDuration(f.Value.String())
			case "power-key-pin":
				c.PowerKeyPin = f.Value.String()
			case "power-on-start":
				c.PowerOnStart, err = strconv.ParseBool(f.Value.String())
			case "simulate":
				c.Simulate, err = strconv.ParseBool(f.Value.String())
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid --%s: %w", f.Name, err))
			}
		})
		return errors.Join(errs...)
	}
}

// Validate reports settings the modem cannot run with
func (c *Config) Validate() error {
	var errs []error
	if _, err := network.ModelByName(c.Model); err != nil {
		errs = append(errs, err)
	}
	if c.MaxRetry < 0 {
		errs = append(errs, fmt.Errorf("max retry must not be negative, got %d", c.MaxRetry))
	}
	if !c.Simulate && c.SerialPort == "" && c.ModemURL == "" {
		errs = append(errs, errors.New("either a serial port or a modem URL is required"))
	}
	if c.WatchdogInterval <= 0 {
		errs = append(errs, fmt.Errorf("watchdog interval must be positive, got %s", c.WatchdogInterval))
	}
	if c.NATSPort < 0 {
		errs = append(errs, fmt.Errorf("invalid NATS port %d", c.NATSPort))
	}
	if (c.NATSURL != "" || c.NATSPort != 0) && c.ReportInterval <= 0 {
		errs = append(errs, fmt.Errorf("report interval must be positive, got %s", c.ReportInterval))
	}
	return errors.Join(errs...)
}
