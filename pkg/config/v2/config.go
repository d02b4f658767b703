// Package config loads the service configuration from a YAML file, with
// environment variable overrides.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	defaultExtension = "yaml"
	defaultTagName   = "yaml"

	// EnvPrefix is prepended to the environment variable of every key, so
	// server.port can be set with BQRF_SERVER_PORT.
	EnvPrefix = "bqrf"
)

type Binder interface {
	Bind(v *viper.Viper) error
}

type Loader interface {
	Load(name, path, envPrefix string, binder Binder) (Config, error)
}

type Config struct {
	Server     Server     `yaml:"server"`
	Batch      Batch      `yaml:"batch"`
	Cache      Cache      `yaml:"cache"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Dictionary Dictionary `yaml:"dictionary"`
	GCS        GCS        `yaml:"gcs"`
	Auth       Auth       `yaml:"auth"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	GCP        GCP        `yaml:"gcp"`

	LogLevel    string `yaml:"log_level"`
	ServiceName string `yaml:"service_name"`
	Debug       bool   `yaml:"debug"`
}

func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server, validation.Required),
		validation.Field(&c.Batch, validation.Required),
		validation.Field(&c.Cache, validation.Required),
		validation.Field(&c.Postgres, validation.Skip.When(c.Cache.Backend != "postgres"), validation.Required),
		validation.Field(&c.Redis, validation.Skip.When(c.Cache.Backend != "redis"), validation.Required),
		validation.Field(&c.Dictionary),
		validation.Field(&c.GCS),
		validation.Field(&c.Auth),
		validation.Field(&c.Telemetry),
		validation.Field(&c.LogLevel, validation.Required, validation.In("trace", "debug", "info", "warn", "error")),
		validation.Field(&c.ServiceName, validation.Required),
	)
}

type Server struct {
	Hostname string `yaml:"hostname"`
	Address  string `yaml:"address"`
	Port     string `yaml:"port"`
	// MaxRequestBytes bounds the request body, BigQuery sends at most 10 MB.
	MaxRequestBytes int64 `yaml:"max_request_bytes"`
}

func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Address, validation.Required, is.IP),
		validation.Field(&s.Hostname, validation.Required, is.Host),
		validation.Field(&s.Port, validation.Required, is.Port),
		validation.Field(&s.MaxRequestBytes, validation.Required, validation.Min(int64(1))),
	)
}

type Batch struct {
	MaxBatchRows   int `yaml:"max_batch_rows"`
	Concurrency    int `yaml:"concurrency"`
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

func (b Batch) Validate() error {
	return validation.ValidateStruct(&b,
		validation.Field(&b.MaxBatchRows, validation.Required, validation.Min(1)),
		validation.Field(&b.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&b.TimeoutSeconds, validation.Required, validation.Min(1)),
	)
}

func (b Batch) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type Cache struct {
	Backend    string `yaml:"backend"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	MaxEntries int    `yaml:"max_entries"`
}

func (c Cache) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required, validation.In("none", "memory", "postgres", "redis")),
		validation.Field(&c.TTLSeconds, validation.When(c.Backend != "none", validation.Required, validation.Min(1))),
		validation.Field(&c.MaxEntries, validation.When(c.Backend == "memory", validation.Required, validation.Min(1))),
	)
}

func (c Cache) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

type Postgres struct {
	UserName      string                `yaml:"user_name"`
	Password      string                `yaml:"password"`
	Host          string                `yaml:"host"`
	Port          string                `yaml:"port"`
	DatabaseName  string                `yaml:"database_name"`
	SSLMode       string                `yaml:"ssl_mode"`
	Configuration PostgresConfiguration `yaml:"configuration"`
}

func (p Postgres) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserName, validation.Required),
		validation.Field(&p.Password, validation.Required),
		validation.Field(&p.Host, validation.Required, is.Host),
		validation.Field(&p.Port, validation.Required, is.Port),
		validation.Field(&p.DatabaseName, validation.Required),
		validation.Field(&p.SSLMode, validation.Required, validation.In("disable", "allow", "prefer", "require")),
	)
}

func (p Postgres) ConnectionString() string {
	return fmt.Sprintf("postgresql://%s:%s@%s/%s?sslmode=%s",
		p.UserName,
		p.Password,
		net.JoinHostPort(p.Host, p.Port),
		p.DatabaseName,
		p.SSLMode,
	)
}

type PostgresConfiguration struct {
	MaxIdleConnections int `yaml:"max_idle_connections"`
	MaxOpenConnections int `yaml:"max_open_connections"`
}

type Redis struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r Redis) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Address, validation.Required, is.DialString),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

const (
	DictionarySourceNone = ""
	DictionarySourceFile = "file"
	DictionarySourceGCS  = "gcs"
)

// Dictionary is the source of the lookup function's table.
type Dictionary struct {
	Source         string `yaml:"source"`
	Path           string `yaml:"path"`
	Bucket         string `yaml:"bucket"`
	Object         string `yaml:"object"`
	RefreshSeconds int    `yaml:"refresh_seconds"`
}

func (d Dictionary) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Source, validation.In(DictionarySourceFile, DictionarySourceGCS)),
		validation.Field(&d.Path, validation.When(d.Source == DictionarySourceFile, validation.Required)),
		validation.Field(&d.Bucket, validation.When(d.Source == DictionarySourceGCS, validation.Required)),
		validation.Field(&d.Object, validation.When(d.Source == DictionarySourceGCS, validation.Required)),
		validation.Field(&d.RefreshSeconds, validation.Min(0)),
	)
}

// RefreshInterval is zero when the dictionary is loaded once.
func (d Dictionary) RefreshInterval() time.Duration {
	return time.Duration(d.RefreshSeconds) * time.Second
}

type GCS struct {
	Endpoint string `yaml:"endpoint"`
}

func (g GCS) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.Endpoint, is.URL),
	)
}

type Auth struct {
	Enabled       bool     `yaml:"enabled"`
	Audience      string   `yaml:"audience"`
	AllowedEmails []string `yaml:"allowed_emails"`
}

func (a Auth) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Audience, validation.When(a.Enabled, validation.Required, is.URL)),
		validation.Field(&a.AllowedEmails, validation.Each(is.EmailFormat)),
	)
}

type Telemetry struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func (t Telemetry) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Exporter, validation.When(t.Enabled, validation.Required, validation.In("grpc", "http"))),
		validation.Field(&t.SampleRatio, validation.Min(0.0), validation.Max(1.0)),
	)
}

type GCP struct {
	Project string `yaml:"project"`
}

type FileParts struct {
	FileName string
	Path     string
}

func ProcessConfigPath(configFile string) (FileParts, error) {
	absolutePath, err := filepath.Abs(configFile)
	if err != nil {
		return FileParts{}, fmt.Errorf("convert to absolute path: %w", err)
	}

	// Extract file name and extension
	fileName := filepath.Base(absolutePath)
	path := filepath.Dir(absolutePath)
	extension := filepath.Ext(fileName)

	if strings.ReplaceAll(strings.ToLower(extension), ".", "") != defaultExtension {
		return FileParts{}, fmt.Errorf("config file must have extension %s, got: %s", defaultExtension, extension)
	}

	return FileParts{
		FileName: fileName[:len(fileName)-len(extension)],
		Path:     path,
	}, nil
}

func NewFileSystemLoader() *FileSystemLoader {
	return &FileSystemLoader{}
}

type FileSystemLoader struct{}

func (fs *FileSystemLoader) Load(name, path, envPrefix string, b Binder) (Config, error) {
	v := viper.New()

	v.AddConfigPath(path)
	v.SetConfigName(name)
	v.SetConfigType(defaultExtension)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_")) // So that env vars are translated properly
	v.AutomaticEnv()

	if b != nil {
		err := b.Bind(v)
		if err != nil {
			return Config{}, err
		}
	}

	v.SetEnvPrefix(envPrefix)

	err := v.ReadInConfig()
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var config Config

	err = v.Unmarshal(&config, func(cfg *mapstructure.DecoderConfig) {
		cfg.TagName = defaultTagName // We use yaml tags in the config structs so we can marshal to yaml
	})
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

type EnvBinder struct {
	binders map[string]string
}

func (e *EnvBinder) Bind(v *viper.Viper) error {
	for envVar, key := range e.binders {
		err := v.BindEnv(key, envVar)
		if err != nil {
			return fmt.Errorf("bind env var %s to key %s: %w", envVar, key, err)
		}
	}

	return nil
}

func NewEnvBinder(binders map[string]string) *EnvBinder {
	return &EnvBinder{
		binders: binders,
	}
}

// NewDefaultEnvBinder maps the variables set by Cloud Run and the Google
// client libraries.
func NewDefaultEnvBinder() *EnvBinder {
	return NewEnvBinder(map[string]string{
		"PORT":                 "server.port",
		"K_SERVICE":            "service_name",
		"GOOGLE_CLOUD_PROJECT": "gcp.project",
	})
}
