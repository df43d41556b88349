package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
	"github.com/ino-taku/mf-importer/internal/validation"
)

// EnvPrefix namespaces the tuning variables (MFIMPORT_LOGGING_LEVEL, ...).
// Fields tagged with a bare name such as MF_EMAIL are also read unprefixed.
const EnvPrefix = "MFIMPORT"

// Config represents the complete application configuration
type Config struct {
	Credentials CredentialsConfig `yaml:"credentials" envconfig:"CREDENTIALS"`
	Session     SessionConfig     `yaml:"session" envconfig:"SESSION"`
	Run         RunConfig         `yaml:"run" envconfig:"RUN"`
	Browser     BrowserConfig     `yaml:"browser" envconfig:"BROWSER"`
	Login       LoginConfig       `yaml:"login" envconfig:"LOGIN"`
	Locator     LocatorConfig     `yaml:"locator" envconfig:"LOCATOR"`
	Download    DownloadConfig    `yaml:"download" envconfig:"DOWNLOAD"`
	Normalize   NormalizeConfig   `yaml:"normalize" envconfig:"NORMALIZE"`
	Sheets      SheetsConfig      `yaml:"sheets" envconfig:"SHEETS"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
	Telemetry   TelemetryConfig   `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// CredentialsConfig holds the account used for interactive login.
type CredentialsConfig struct {
	Email    string `yaml:"email" envconfig:"MF_EMAIL" validate:"omitempty,email"`
	Password string `yaml:"-" envconfig:"MF_PASSWORD"`
}

// SessionConfig controls the stored browser session snapshot.
type SessionConfig struct {
	StorageB64 string `yaml:"-" envconfig:"MF_STORAGE_B64"`
	SavePath   string `yaml:"save_path" envconfig:"MF_SAVE_SESSION"`
	Compress   bool   `yaml:"compress" envconfig:"COMPRESS"`
}

// RunConfig selects the period and where artifacts land.
type RunConfig struct {
	Year           int    `yaml:"year" envconfig:"MF_YEAR" validate:"omitempty,gte=2000"`
	Month          int    `yaml:"month" envconfig:"MF_MONTH" validate:"omitempty,min=1,max=12"`
	OutDir         string `yaml:"out_dir" envconfig:"OUT_DIR" validate:"required"`
	DiagnosticsDir string `yaml:"diagnostics_dir" envconfig:"DIAGNOSTICS_DIR"`
	DryRun         bool   `yaml:"dry_run" envconfig:"DRY_RUN"`
	Export         string `yaml:"export" envconfig:"EXPORT"`
}

// BrowserConfig contains Chrome launch settings
type BrowserConfig struct {
	Headless          bool          `yaml:"headless" envconfig:"HEADLESS"`
	UserAgent         string        `yaml:"user_agent" envconfig:"USER_AGENT"`
	ExecPath          string        `yaml:"exec_path" envconfig:"EXEC_PATH"`
	WindowWidth       int           `yaml:"window_width" envconfig:"WINDOW_WIDTH" validate:"gt=0"`
	WindowHeight      int           `yaml:"window_height" envconfig:"WINDOW_HEIGHT" validate:"gt=0"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout" envconfig:"NAVIGATION_TIMEOUT" validate:"gt=0"`
	StartURL          string        `yaml:"start_url" envconfig:"START_URL" validate:"required,url"`
}

// LoginConfig describes the sign-in form
type LoginConfig struct {
	SignInURL           string        `yaml:"sign_in_url" envconfig:"SIGN_IN_URL" validate:"required,url"`
	AuthenticatedPrefix string        `yaml:"authenticated_prefix" envconfig:"AUTHENTICATED_PREFIX" validate:"required,url"`
	EmailSelector       string        `yaml:"email_selector" envconfig:"EMAIL_SELECTOR" validate:"required"`
	PasswordSelector    string        `yaml:"password_selector" envconfig:"PASSWORD_SELECTOR" validate:"required"`
	SubmitSelector      string        `yaml:"submit_selector" envconfig:"SUBMIT_SELECTOR" validate:"required"`
	FormTimeout         time.Duration `yaml:"form_timeout" envconfig:"FORM_TIMEOUT" validate:"gt=0"`
	ConfirmTimeout      time.Duration `yaml:"confirm_timeout" envconfig:"CONFIRM_TIMEOUT" validate:"gt=0"`
	PollInterval        time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL" validate:"gt=0"`
}

// LocatorConfig tunes the export control search
type LocatorConfig struct {
	Strategies      []string      `yaml:"strategies" envconfig:"STRATEGIES" validate:"min=1,dive,oneof=role attribute text indirect exhaustive"`
	Labels          []string      `yaml:"labels" envconfig:"LABELS" validate:"min=1"`
	TextPattern     string        `yaml:"text_pattern" envconfig:"TEXT_PATTERN" validate:"required"`
	TriggerPattern  string        `yaml:"trigger_pattern" envconfig:"TRIGGER_PATTERN" validate:"required"`
	MaxTriggers     int           `yaml:"max_triggers" envconfig:"MAX_TRIGGERS" validate:"gte=0"`
	StrategyTimeout time.Duration `yaml:"strategy_timeout" envconfig:"STRATEGY_TIMEOUT" validate:"gt=0"`
}

// DownloadConfig controls how the export file is obtained
type DownloadConfig struct {
	Mode             string        `yaml:"mode" envconfig:"MODE" validate:"oneof=locate direct"`
	Timeout          time.Duration `yaml:"timeout" envconfig:"TIMEOUT" validate:"gt=0"`
	URLTemplate      string        `yaml:"url_template" envconfig:"URL_TEMPLATE" validate:"required"`
	UseSuggestedName bool          `yaml:"use_suggested_name" envconfig:"USE_SUGGESTED_NAME"`
}

// NormalizeConfig controls CSV decoding
type NormalizeConfig struct {
	Encoding string `yaml:"encoding" envconfig:"ENCODING" validate:"required"`
}

// SheetsConfig identifies the destination worksheet
type SheetsConfig struct {
	SpreadsheetKey string `yaml:"spreadsheet_key" envconfig:"GSHEET_KEY"`
	ServiceJSON    string `yaml:"-" envconfig:"GSHEET_SERVICE_JSON"`
	Worksheet      string `yaml:"worksheet" envconfig:"GSHEET_WORKSHEET" validate:"required"`
	Endpoint       string `yaml:"endpoint" envconfig:"ENDPOINT" validate:"omitempty,url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	Output      string `yaml:"output" envconfig:"OUTPUT"`
	FilePath    string `yaml:"file_path" envconfig:"FILE_PATH"`
	Development bool   `yaml:"development" envconfig:"DEVELOPMENT"`
}

// TelemetryConfig controls OpenTelemetry traces and pushed metrics
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED"`
	ServiceName    string `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	TraceOutput    string `yaml:"trace_output" envconfig:"TRACE_OUTPUT" validate:"oneof=stdout file none"`
	TraceFile      string `yaml:"trace_file" envconfig:"TRACE_FILE"`
	PushgatewayURL string `yaml:"pushgateway_url" envconfig:"PUSHGATEWAY_URL" validate:"omitempty,url"`
	JobName        string `yaml:"job_name" envconfig:"JOB_NAME" validate:"required"`
}

// Load loads configuration from a .env file, an optional YAML file and
// environment variables, in increasing order of precedence over Default.
// An empty configFile searches the usual locations.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NewConfigError("failed to load .env file", err)
	}

	cfg := Default()

	if configFile == "" {
		configFile = getConfigFilePath()
	}
	if configFile != "" {
		if err := loadFromFile(configFile, cfg); err != nil {
			return nil, apperrors.NewConfigError("failed to load config from file", err).
				WithContext("file", configFile)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, apperrors.NewConfigError("failed to load config from env", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile overlays YAML values onto cfg; keys absent from the file
// keep their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate checks field constraints and normalizes logging settings.
func (c *Config) Validate() error {
	if err := validation.NewStructValidator("yaml").Struct(c); err != nil {
		return apperrors.NewConfigError("config validation failed", err)
	}

	// Logs are always JSON with dual output.
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output != "both" && c.Logging.Output != "file" && c.Logging.Output != "console" {
		c.Logging.Output = "both"
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/mfimport.log"
	}

	return nil
}

// HasCredentials reports whether interactive login is possible.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Email != "" && c.Credentials.Password != ""
}

// HasPublisher reports whether a destination spreadsheet is configured.
func (c *Config) HasPublisher() bool {
	return c.Sheets.SpreadsheetKey != "" && c.Sheets.ServiceJSON != ""
}

// getConfigFilePath returns the path to the config file
func getConfigFilePath() string {
	locations := []string{
		"mfimport.yaml",
		"configs/mfimport.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// String hides secrets when the config is logged.
func (c CredentialsConfig) String() string {
	pw := ""
	if c.Password != "" {
		pw = "***"
	}
	return fmt.Sprintf("{Email:%s Password:%s}", c.Email, pw)
}
