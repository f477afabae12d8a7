package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/openfroyo/catletctl/pkg/telemetry"
)

// EnvPrefix prefixes every environment variable read into Settings, e.g.
// CATLETCTL_ENDPOINT or CATLETCTL_LOG_LEVEL.
const EnvPrefix = "CATLETCTL"

// Settings configure the catletctl CLI: how to reach the compute service,
// where local state lives and how long to wait.
type Settings struct {
	// Endpoint is the base URL of the compute API.
	Endpoint string `mapstructure:"endpoint" validate:"required,url"`

	// TokenURL is the OAuth2 token endpoint. Empty disables authentication.
	TokenURL     string   `mapstructure:"token_url" validate:"omitempty,url"`
	ClientID     string   `mapstructure:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string   `mapstructure:"client_secret"`
	Scopes       []string `mapstructure:"scopes"`

	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	// StatePath is the SQLite database holding machine ids, keys and the
	// operation journal.
	StatePath string `mapstructure:"state_path" validate:"required"`

	// CatletsFile is the machine definitions file.
	CatletsFile string `mapstructure:"catlets_file" validate:"required"`

	OperationTimeout time.Duration `mapstructure:"operation_timeout" validate:"gt=0"`
	PollInterval     time.Duration `mapstructure:"poll_interval" validate:"gt=0"`
	BootTimeout      time.Duration `mapstructure:"boot_timeout" validate:"gt=0"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout" validate:"gt=0"`

	// Parallel bounds how many machines are reconciled at once.
	Parallel int `mapstructure:"parallel" validate:"gte=1"`

	// AutoCreateProject creates a missing project before creating a catlet.
	AutoCreateProject bool `mapstructure:"auto_create_project"`

	Log struct {
		Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error fatal"`
		Format string `mapstructure:"format" validate:"oneof=console json"`
		Output string `mapstructure:"output"`
	} `mapstructure:"log"`

	Metrics struct {
		Enabled bool   `mapstructure:"enabled"`
		Address string `mapstructure:"address" validate:"required_if=Enabled true"`
	} `mapstructure:"metrics"`

	// Policy configures the Rego admission policies checked before
	// catlets are created.
	Policy struct {
		Enabled bool     `mapstructure:"enabled"`
		Paths   []string `mapstructure:"paths"`
	} `mapstructure:"policy"`

	Tracing struct {
		Enabled  bool   `mapstructure:"enabled"`
		Exporter string `mapstructure:"exporter" validate:"oneof=otlp stdout none"`
		Endpoint string `mapstructure:"endpoint"`
	} `mapstructure:"tracing"`
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("endpoint", "http://localhost:8000/compute")
	v.SetDefault("token_url", "")
	v.SetDefault("client_id", "")
	v.SetDefault("client_secret", "")
	v.SetDefault("scopes", []string{"compute:write"})
	v.SetDefault("insecure_skip_verify", false)
	v.SetDefault("state_path", filepath.Join(".catletctl", "state.db"))
	v.SetDefault("catlets_file", DefaultFileName)
	v.SetDefault("operation_timeout", "600s")
	v.SetDefault("poll_interval", "1s")
	v.SetDefault("boot_timeout", "10m")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("parallel", 1)
	v.SetDefault("auto_create_project", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", ":9090")
	v.SetDefault("policy.enabled", true)
	v.SetDefault("policy.paths", []string{})
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "localhost:4317")
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// LoadSettings reads settings from v. When configFile is set it must exist;
// otherwise catletctl.yaml is looked up in the working directory and the
// user config directory and may be absent.
func LoadSettings(v *viper.Viper, configFile string) (*Settings, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("catletctl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "catletctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the settings.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, len(verrs))
			for i, fe := range verrs {
				msgs[i] = fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("invalid settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// Telemetry converts the settings into a telemetry configuration.
func (s *Settings) Telemetry(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Environment = s.Endpoint

	cfg.Logging.Level = s.Log.Level
	cfg.Logging.Format = s.Log.Format
	if s.Log.Output != "" {
		cfg.Logging.Output = s.Log.Output
	}

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.Address

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint

	return cfg
}
