// Package config loads service configuration from built-in defaults, an
// optional YAML file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/database"
	"github.com/kumar-ayush101/prompt-scheduler/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	OverlapForbid = "forbid"
	OverlapAllow  = "allow"

	WorkerModeProcess   = "process"
	WorkerModeInProcess = "inprocess"

	GeneratorOpenAI    = "openai"
	GeneratorAnthropic = "anthropic"
)

type Config struct {
	HTTPAddr  string               `yaml:"http_addr"`
	Database  database.Config      `yaml:"database"`
	Redis     database.RedisConfig `yaml:"redis"`
	Scheduler SchedulerConfig      `yaml:"scheduler"`
	Executor  ExecutorConfig       `yaml:"executor"`
	Generator GeneratorConfig      `yaml:"generator"`
	Notify    NotifyConfig         `yaml:"notify"`
	Log       LogConfig            `yaml:"log"`

	// Jobs are inserted at startup when no job with the same name exists.
	Jobs []models.JobCreate `yaml:"jobs"`
}

type SchedulerConfig struct {
	// Timezone is an IANA name; empty or "Local" means the host zone.
	Timezone string `yaml:"timezone"`
}

type ExecutorConfig struct {
	RunTimeout     time.Duration `yaml:"run_timeout"`
	Overlap        string        `yaml:"overlap"`
	Workers        int           `yaml:"workers"`
	QueueSize      int           `yaml:"queue_size"`
	WorkerMode     string        `yaml:"worker_mode"`
	DataDir        string        `yaml:"data_dir"`
	ArtifactWindow time.Duration `yaml:"artifact_window"`
}

type GeneratorConfig struct {
	Provider         string `yaml:"provider"`
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	OpenAIModel      string `yaml:"openai_model"`
	OpenAIBaseURL    string `yaml:"openai_base_url"`
	WebSearch        bool   `yaml:"web_search"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	AnthropicModel   string `yaml:"anthropic_model"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	MaxTokens        int    `yaml:"max_tokens"`
}

type NotifyConfig struct {
	SMTPServer            string `yaml:"smtp_server"`
	SMTPPort              int    `yaml:"smtp_port"`
	EmailUser             string `yaml:"email_user"`
	EmailPassword         string `yaml:"email_password"`
	DefaultEmailRecipient string `yaml:"default_email_recipient"`
	PushoverUserKey       string `yaml:"pushover_user_key"`
	PushoverAPIToken      string `yaml:"pushover_api_token"`
	PushoverURL           string `yaml:"pushover_url"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Database: database.Config{
			Driver:     database.DriverSQLite,
			Host:       "localhost",
			Port:       "5432",
			User:       "user",
			Password:   "password",
			Name:       "scheduler",
			SQLitePath: "data/scheduler.db",
		},
		Redis: database.RedisConfig{Host: "localhost", Port: "6379"},
		Scheduler: SchedulerConfig{
			Timezone: "Local",
		},
		Executor: ExecutorConfig{
			RunTimeout:     time.Hour,
			Overlap:        OverlapForbid,
			Workers:        4,
			QueueSize:      64,
			WorkerMode:     WorkerModeProcess,
			DataDir:        "data",
			ArtifactWindow: 10 * time.Minute,
		},
		Generator: GeneratorConfig{
			Provider:       GeneratorOpenAI,
			OpenAIModel:    "gpt-5.2",
			OpenAIBaseURL:  "https://api.openai.com/v1",
			WebSearch:      true,
			AnthropicModel: "claude-sonnet-4-5",
			MaxTokens:      4096,
		},
		Notify: NotifyConfig{
			SMTPServer:  "smtp.gmail.com",
			SMTPPort:    587,
			PushoverURL: "https://api.pushover.net/1/messages.json",
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	e := envReader{lookup: lookup}

	e.str("HTTP_ADDR", &c.HTTPAddr)

	e.str("DB_DRIVER", &c.Database.Driver)
	e.str("DATABASE_URL", &c.Database.URL)
	e.str("DB_HOST", &c.Database.Host)
	e.str("DB_PORT", &c.Database.Port)
	e.str("DB_USER", &c.Database.User)
	e.str("DB_PASSWORD", &c.Database.Password)
	e.str("DB_NAME", &c.Database.Name)
	e.str("SQLITE_PATH", &c.Database.SQLitePath)

	e.boolean("REDIS_ENABLED", &c.Redis.Enabled)
	e.str("REDIS_HOST", &c.Redis.Host)
	e.str("REDIS_PORT", &c.Redis.Port)
	e.str("REDIS_PASSWORD", &c.Redis.Password)

	e.str("TIMEZONE", &c.Scheduler.Timezone)

	e.duration("RUN_TIMEOUT", &c.Executor.RunTimeout)
	e.str("RUN_OVERLAP", &c.Executor.Overlap)
	e.integer("EXECUTOR_WORKERS", &c.Executor.Workers)
	e.integer("EXECUTOR_QUEUE", &c.Executor.QueueSize)
	e.str("WORKER_MODE", &c.Executor.WorkerMode)
	e.str("DATA_DIR", &c.Executor.DataDir)
	e.duration("ARTIFACT_WINDOW", &c.Executor.ArtifactWindow)

	e.str("GENERATOR", &c.Generator.Provider)
	e.str("OPENAI_API_KEY", &c.Generator.OpenAIAPIKey)
	e.str("OPENAI_MODEL", &c.Generator.OpenAIModel)
	e.str("OPENAI_BASE_URL", &c.Generator.OpenAIBaseURL)
	e.boolean("WEB_SEARCH", &c.Generator.WebSearch)
	e.str("ANTHROPIC_API_KEY", &c.Generator.AnthropicAPIKey)
	e.str("ANTHROPIC_MODEL", &c.Generator.AnthropicModel)
	e.str("ANTHROPIC_BASE_URL", &c.Generator.AnthropicBaseURL)

	e.str("SMTP_SERVER", &c.Notify.SMTPServer)
	e.integer("SMTP_PORT", &c.Notify.SMTPPort)
	e.str("EMAIL_USER", &c.Notify.EmailUser)
	e.str("EMAIL_PASSWORD", &c.Notify.EmailPassword)
	e.str("DEFAULT_EMAIL_RECIPIENT", &c.Notify.DefaultEmailRecipient)
	e.str("PUSHOVER_USER_KEY", &c.Notify.PushoverUserKey)
	e.str("PUSHOVER_API_TOKEN", &c.Notify.PushoverAPIToken)

	e.str("LOG_LEVEL", &c.Log.Level)
	e.str("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case database.DriverPostgres, database.DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("config: unknown database driver %q", c.Database.Driver))
	}
	switch c.Executor.Overlap {
	case OverlapForbid, OverlapAllow:
	default:
		errs = append(errs, fmt.Errorf("config: run overlap must be %q or %q, got %q", OverlapForbid, OverlapAllow, c.Executor.Overlap))
	}
	switch c.Executor.WorkerMode {
	case WorkerModeProcess, WorkerModeInProcess:
	default:
		errs = append(errs, fmt.Errorf("config: unknown worker mode %q", c.Executor.WorkerMode))
	}
	switch c.Generator.Provider {
	case GeneratorOpenAI, GeneratorAnthropic:
	default:
		errs = append(errs, fmt.Errorf("config: unknown generator %q", c.Generator.Provider))
	}
	if c.Executor.RunTimeout <= 0 {
		errs = append(errs, errors.New("config: run timeout must be positive"))
	}
	if c.Executor.ArtifactWindow < 0 {
		errs = append(errs, errors.New("config: artifact window must not be negative"))
	}
	if c.Executor.Workers <= 0 {
		errs = append(errs, errors.New("config: executor workers must be positive"))
	}
	if c.Executor.QueueSize <= 0 {
		errs = append(errs, errors.New("config: executor queue size must be positive"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Location resolves the scheduler time zone.
func (c *Config) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Scheduler.Timezone)
	if tz == "" || strings.EqualFold(tz, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", tz, err)
	}
	return loc, nil
}

type envReader struct {
	lookup lookupFunc
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) integer(key string, dst *int) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = n
}

func (e *envReader) boolean(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = b
}

func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("config: %s: %w", key, err))
		return
	}
	*dst = d
}
