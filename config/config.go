package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/path-proxy/internal/strategy"
)

const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const envPrefix = "PROXY"

var (
	ErrRead    = errors.New("failed to read config")
	ErrParse   = errors.New("failed to parse config")
	ErrInvalid = errors.New("invalid configuration")
)

type ServerConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	ListenPort     int    `mapstructure:"listen_port"`
	Environment    string `mapstructure:"environment"`
	MaxConnections int    `mapstructure:"max_connections"`
	ReadBufferSize int    `mapstructure:"read_buffer_size"`
	ReadTimeout    string `mapstructure:"read_timeout"`
	WriteTimeout   string `mapstructure:"write_timeout"`
	BackendTimeout string `mapstructure:"backend_timeout"`
}

type HealthCheckConfig struct {
	Interval string `mapstructure:"interval"`
}

// CircuitBreakerConfig enables per-backend fail-fast when FailureThreshold is
// positive.
type CircuitBreakerConfig struct {
	FailureThreshold int    `mapstructure:"failure_threshold"`
	ResetTimeout     string `mapstructure:"reset_timeout"`
}

type AppConfig struct {
	Name         string   `mapstructure:"-"`
	Path         string   `mapstructure:"path"`
	Backends     []string `mapstructure:"backends"`
	LoadBalancer string   `mapstructure:"lb"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	HealthCheck    HealthCheckConfig    `mapstructure:"health_check"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Apps           map[string]AppConfig `mapstructure:"apps"`
	Logging        LoggingConfig        `mapstructure:"logging"`

	// AppOrder lists app names in declaration order, which is also route
	// priority order.
	AppOrder []string `mapstructure:"-"`
}

// Load reads, parses and validates the YAML file at path. Environment
// variables prefixed with PROXY_ override file values (server.listen_port is
// PROXY_SERVER_LISTEN_PORT).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	order, err := appOrder(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	cfg.AppOrder = completeOrder(order, cfg.Apps)

	for name, app := range cfg.Apps {
		app.Name = name
		cfg.Apps[name] = app
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	slog.Debug("loaded config file", slog.String("file", path), slog.Int("apps", len(cfg.Apps)))

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.environment", EnvDev)
	v.SetDefault("server.max_connections", 1024)
	v.SetDefault("server.read_buffer_size", 1024)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.backend_timeout", "30s")
	v.SetDefault("health_check.interval", "10s")
	v.SetDefault("circuit_breaker.failure_threshold", 0)
	v.SetDefault("circuit_breaker.reset_timeout", "30s")
	v.SetDefault("logging.level", LogLevelInfo)
}

// appOrder returns the keys of the top-level apps mapping in document order.
// Viper decodes mappings into Go maps, which drops that order.
func appOrder(data []byte) ([]string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}

	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, nil
	}

	for i := 0; i+1 < len(doc.Content); i += 2 {
		if !strings.EqualFold(doc.Content[i].Value, "apps") {
			continue
		}

		apps := doc.Content[i+1]
		if apps.Kind != yaml.MappingNode {
			return nil, nil
		}

		names := make([]string, 0, len(apps.Content)/2)
		for j := 0; j+1 < len(apps.Content); j += 2 {
			names = append(names, strings.ToLower(apps.Content[j].Value))
		}
		return names, nil
	}

	return nil, nil
}

// completeOrder keeps the declared order for known apps and appends any app
// that was not declared in the document, sorted by name.
func completeOrder(declared []string, apps map[string]AppConfig) []string {
	order := make([]string, 0, len(apps))
	seen := make(map[string]bool, len(apps))

	for _, name := range declared {
		if _, ok := apps[name]; ok && !seen[name] {
			order = append(order, name)
			seen[name] = true
		}
	}

	var rest []string
	for name := range apps {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)

	return append(order, rest...)
}

// OrderedApps returns the applications in route priority order.
func (c *Config) OrderedApps() []AppConfig {
	apps := make([]AppConfig, 0, len(c.AppOrder))
	for _, name := range c.AppOrder {
		apps = append(apps, c.Apps[name])
	}
	return apps
}

// Address is the host:port the proxy listens on.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.ListenAddr, strconv.Itoa(s.ListenPort))
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return mustDuration(s.ReadTimeout)
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return mustDuration(s.WriteTimeout)
}

func (s ServerConfig) BackendTimeoutDuration() time.Duration {
	return mustDuration(s.BackendTimeout)
}

func (h HealthCheckConfig) IntervalDuration() time.Duration {
	return mustDuration(h.Interval)
}

func (c CircuitBreakerConfig) ResetTimeoutDuration() time.Duration {
	return mustDuration(c.ResetTimeout)
}

// mustDuration parses an already validated duration; invalid input yields 0.
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Server,
			validation.Required,
			validation.By(func(value interface{}) error {
				sc, ok := value.(ServerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a ServerConfig")
				}
				return validation.ValidateStruct(&sc,
					validation.Field(&sc.ListenAddr,
						validation.Required,
						validation.By(validateListenAddr),
					),
					validation.Field(&sc.ListenPort,
						validation.Required,
						validation.Min(1),
						validation.Max(65535),
					),
					validation.Field(&sc.Environment,
						validation.Required,
						validation.In(EnvDev, EnvStaging, EnvProd),
					),
					validation.Field(&sc.MaxConnections,
						validation.Required,
						validation.Min(1),
					),
					validation.Field(&sc.ReadBufferSize,
						validation.Required,
						validation.Min(64),
					),
					validation.Field(&sc.ReadTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.WriteTimeout, validation.Required, validation.By(validateDuration)),
					validation.Field(&sc.BackendTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Logging,
			validation.Required,
			validation.By(func(value interface{}) error {
				lc, ok := value.(LoggingConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a LoggingConfig")
				}
				return validation.ValidateStruct(&lc,
					validation.Field(&lc.Level,
						validation.Required,
						validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError),
					),
				)
			}),
		),
		validation.Field(&c.HealthCheck,
			validation.By(func(value interface{}) error {
				hc, ok := value.(HealthCheckConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a HealthCheckConfig")
				}
				return validation.ValidateStruct(&hc,
					validation.Field(&hc.Interval,
						validation.Required,
						validation.By(validateDuration),
					),
				)
			}),
		),
		validation.Field(&c.CircuitBreaker,
			validation.By(func(value interface{}) error {
				cc, ok := value.(CircuitBreakerConfig)
				if !ok {
					return validation.NewError("validation_invalid_type", "must be a CircuitBreakerConfig")
				}
				return validation.ValidateStruct(&cc,
					validation.Field(&cc.FailureThreshold, validation.Min(0)),
					validation.Field(&cc.ResetTimeout, validation.Required, validation.By(validateDuration)),
				)
			}),
		),
		validation.Field(&c.Apps,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateAppConfig)),
		),
	)
}

// validateListenAddr accepts loopback and private IPv4 addresses only.
func validateListenAddr(value interface{}) error {
	raw, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil || !addr.Is4() {
		return validation.NewError("validation_invalid_ipv4", "must be an IPv4 address")
	}

	if !addr.IsLoopback() && !addr.IsPrivate() {
		return validation.NewError("validation_public_address", "must be a loopback or private address")
	}

	return nil
}

func validateHostPort(value interface{}) error {
	addr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return validation.NewError("validation_invalid_hostport", "must be in host:port format")
	}

	if host == "" {
		return validation.NewError("validation_invalid_host", "host cannot be empty")
	}

	if err := is.Host.Validate(host); err != nil {
		return validation.NewError("validation_invalid_host", "invalid host")
	}

	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return validation.NewError("validation_invalid_port", "port must be between 1 and 65535")
	}

	return nil
}

func validateDuration(value interface{}) error {
	durationStr, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return validation.NewError("validation_invalid_duration", "must be a valid duration (e.g., 2s, 5m, 1h)")
	}

	if d < 0 {
		return validation.NewError("validation_negative_duration", "must not be negative")
	}

	return nil
}

func validateStrategy(value interface{}) error {
	lb, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if _, err := strategy.ParseKind(lb); err != nil {
		return validation.NewError("validation_unknown_strategy", "unknown load balancing strategy")
	}

	return nil
}

func validatePathPrefix(value interface{}) error {
	path, ok := value.(string)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a string")
	}

	if !strings.HasPrefix(path, "/") {
		return validation.NewError("validation_invalid_path", "must start with /")
	}

	return nil
}

func validateAppConfig(value interface{}) error {
	app, ok := value.(AppConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be an AppConfig")
	}

	return validation.ValidateStruct(&app,
		validation.Field(&app.Path,
			validation.Required,
			validation.By(validatePathPrefix),
		),
		validation.Field(&app.Backends,
			validation.Required,
			validation.Length(1, 0),
			validation.Each(validation.By(validateHostPort)),
		),
		validation.Field(&app.LoadBalancer,
			validation.Required,
			validation.By(validateStrategy),
		),
	)
}
