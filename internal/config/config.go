package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alexdev-tb/snippet-runner/internal/budget"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

type HTTP struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Config struct {
	HTTP    HTTP    `yaml:"http"`
	Sandbox Sandbox `yaml:"sandbox"`
	Log     Log     `yaml:"log"`
}

type Sandbox struct {
	// Runner is "local" to build and run on the host, or "docker" to do both
	// inside the sandbox container.
	Runner                string        `yaml:"runner"`
	JobDir                string        `yaml:"job_dir"`
	GoBinary              string        `yaml:"go_binary"`
	GoCache               string        `yaml:"go_cache"`
	Docker                Docker        `yaml:"docker"`
	InfrastructureTimeout time.Duration `yaml:"infrastructure_timeout"`
	UserCodeTimeout       time.Duration `yaml:"user_code_timeout"`
	LaunchGrace           bool          `yaml:"launch_grace"`
	DefaultUsings         []string      `yaml:"default_usings"`
}

type Docker struct {
	Binary    string `yaml:"binary"`
	Container string `yaml:"container"`
	// Containers adds more interchangeable sandboxes next to Container. Each
	// one runs a single job at a time.
	Containers []string `yaml:"containers"`
	Network    string   `yaml:"network"`
	User       string   `yaml:"user"`
}

// Pool lists every configured sandbox container, Container first.
func (d Docker) Pool() []string {
	pool := make([]string, 0, len(d.Containers)+1)
	if d.Container != "" {
		pool = append(pool, d.Container)
	}
	return append(pool, d.Containers...)
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Defaults() Config {
	return Config{
		HTTP: HTTP{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    75 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Sandbox: Sandbox{
			Runner:                RunnerLocal,
			JobDir:                "/tmp/snippet-jobs",
			GoBinary:              "go",
			InfrastructureTimeout: 15 * time.Second,
			UserCodeTimeout:       45 * time.Second,
			Docker: Docker{
				Binary:    "docker",
				Container: "snippet-sandbox",
				Network:   "none",
			},
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// FromEnv builds the configuration from defaults and environment variables.
func FromEnv() (Config, error) {
	return Load("")
}

// Load reads the optional YAML file at path over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		// An empty file decodes to io.EOF and leaves the defaults in place.
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP = HTTP{
		Host:            getEnv("HTTP_HOST", cfg.HTTP.Host),
		Port:            getInt("HTTP_PORT", cfg.HTTP.Port),
		ReadTimeout:     getDuration("HTTP_READ_TIMEOUT", cfg.HTTP.ReadTimeout),
		WriteTimeout:    getDuration("HTTP_WRITE_TIMEOUT", cfg.HTTP.WriteTimeout),
		ShutdownTimeout: getDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTP.ShutdownTimeout),
	}

	sb := &cfg.Sandbox
	sb.Runner = strings.ToLower(getEnv("SANDBOX_RUNNER", sb.Runner))
	sb.JobDir = getEnv("SANDBOX_JOB_DIR", sb.JobDir)
	sb.GoBinary = getEnv("SANDBOX_GO_BIN", sb.GoBinary)
	sb.GoCache = getEnv("SANDBOX_GOCACHE", sb.GoCache)
	sb.InfrastructureTimeout = getDuration("SANDBOX_INFRA_TIMEOUT", sb.InfrastructureTimeout)
	sb.UserCodeTimeout = getDuration("SANDBOX_USER_CODE_TIMEOUT", sb.UserCodeTimeout)
	sb.LaunchGrace = getBool("SANDBOX_LAUNCH_GRACE", sb.LaunchGrace)
	sb.DefaultUsings = getList("SANDBOX_DEFAULT_USINGS", sb.DefaultUsings)
	sb.Docker = Docker{
		Binary:     getEnv("SANDBOX_DOCKER_BIN", sb.Docker.Binary),
		Container:  getEnv("SANDBOX_CONTAINER", sb.Docker.Container),
		Containers: getList("SANDBOX_CONTAINERS", sb.Docker.Containers),
		Network:    getEnv("SANDBOX_NETWORK", sb.Docker.Network),
		User:       getEnv("SANDBOX_DOCKER_USER", sb.Docker.User),
	}

	cfg.Log = Log{
		Level:  getEnv("LOG_LEVEL", cfg.Log.Level),
		Format: strings.ToLower(getEnv("LOG_FORMAT", cfg.Log.Format)),
	}
}

func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalid, c.HTTP.Port)
	}
	switch c.Sandbox.Runner {
	case RunnerLocal, RunnerDocker:
	default:
		return fmt.Errorf("%w: unknown sandbox runner %q", ErrInvalid, c.Sandbox.Runner)
	}
	if strings.TrimSpace(c.Sandbox.JobDir) == "" {
		return fmt.Errorf("%w: sandbox job dir is required", ErrInvalid)
	}
	if c.Sandbox.Runner == RunnerDocker && len(c.Sandbox.Docker.Pool()) == 0 {
		return fmt.Errorf("%w: docker runner needs at least one sandbox container", ErrInvalid)
	}
	if c.Sandbox.InfrastructureTimeout <= 0 || c.Sandbox.UserCodeTimeout <= 0 {
		return fmt.Errorf("%w: sandbox timeouts must be greater than zero", ErrInvalid)
	}
	if wt := c.HTTP.WriteTimeout; wt > 0 && wt <= c.Sandbox.graceAllowance() {
		return fmt.Errorf("%w: http write timeout %s leaves no room for the launch grace", ErrInvalid, wt)
	}
	if err := c.Ceiling().Check(c.Sandbox.Budgets()); err != nil {
		return fmt.Errorf("%w: sandbox budgets do not fit the http write timeout: %v", ErrInvalid, err)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalid, c.Log.Format)
	}
	return nil
}

// Budgets are the budgets a request runs under without overrides.
func (s Sandbox) Budgets() budget.Budgets {
	return budget.Budgets{Infrastructure: s.InfrastructureTimeout, UserCode: s.UserCodeTimeout}
}

func (s Sandbox) graceAllowance() time.Duration {
	if s.LaunchGrace {
		return budget.MaxLaunchGrace
	}
	return 0
}

// KillAfter bounds every process started in a docker sandbox. It outlasts
// any budget a request can be granted, so the sandbox deadlines fire first
// and a user-code timeout is never reported as a killed process.
func (c Config) KillAfter() time.Duration {
	if c.HTTP.WriteTimeout > 0 {
		return c.HTTP.WriteTimeout + budget.MaxLaunchGrace
	}
	return max(c.Sandbox.InfrastructureTimeout, c.Sandbox.UserCodeTimeout) + budget.MaxLaunchGrace
}

// Ceiling is the most a request may ask for through budget overrides. Both
// budgets and the launch grace must finish inside the http write timeout,
// and in docker mode each budget must end before KillAfter.
func (c Config) Ceiling() budget.Ceiling {
	var ceiling budget.Ceiling
	if wt := c.HTTP.WriteTimeout; wt > 0 {
		ceiling.Total = wt - c.Sandbox.graceAllowance()
	}
	if c.Sandbox.Runner == RunnerDocker {
		ceiling.Each = c.KillAfter() - budget.MaxLaunchGrace
	}
	return ceiling
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getBool(key string, fallback bool) bool {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key string, fallback []string) []string {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
