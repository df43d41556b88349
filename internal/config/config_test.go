package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ino-taku/mf-importer/internal/errors"
)

var envVars = []string{
	"MF_EMAIL", "MF_PASSWORD", "MF_STORAGE_B64", "MF_SAVE_SESSION",
	"MF_YEAR", "MF_MONTH", "HEADLESS",
	"GSHEET_KEY", "GSHEET_SERVICE_JSON", "GSHEET_WORKSHEET",
	"MFIMPORT_RUN_MF_MONTH", "MFIMPORT_RUN_OUT_DIR",
	"MFIMPORT_BROWSER_HEADLESS", "MFIMPORT_LOGGING_LEVEL", "MFIMPORT_LOGGING_FORMAT",
	"MFIMPORT_LOCATOR_LABELS", "MFIMPORT_LOCATOR_STRATEGY_TIMEOUT",
	"MFIMPORT_DOWNLOAD_MODE", "MFIMPORT_TELEMETRY_PUSHGATEWAY_URL",
}

// isolate clears every variable the loader reads and moves into an empty
// directory so no .env or mfimport.yaml is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	for _, envVar := range envVars {
		t.Setenv(envVar, "")
		os.Unsetenv(envVar)
	}

	dir := t.TempDir()
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(originalDir) })
	return dir
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(t *testing.T)
		setupFile   func(t *testing.T, dir string)
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults with no env vars",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Browser.Headless)
				assert.Equal(t, DefaultSignInURL, cfg.Login.SignInURL)
				assert.Equal(t, 5*time.Second, cfg.Login.FormTimeout)
				assert.Equal(t, 30*time.Second, cfg.Login.ConfirmTimeout)
				assert.Equal(t, 60*time.Second, cfg.Download.Timeout)
				assert.Equal(t, "locate", cfg.Download.Mode)
				assert.Equal(t, "shift_jis", cfg.Normalize.Encoding)
				assert.Equal(t, "raw_csv", cfg.Sheets.Worksheet)
				assert.Equal(t, DefaultStrategies, cfg.Locator.Strategies)
				assert.Equal(t, 3, cfg.Locator.MaxTriggers)
				assert.Equal(t, "json", cfg.Logging.Format)
				assert.Equal(t, "both", cfg.Logging.Output)
				assert.False(t, cfg.HasCredentials())
				assert.False(t, cfg.HasPublisher())
			},
		},
		{
			name: "unprefixed variables",
			setupEnv: func(t *testing.T) {
				t.Setenv("MF_EMAIL", "user@example.com")
				t.Setenv("MF_PASSWORD", "secret")
				t.Setenv("MF_YEAR", "2025")
				t.Setenv("MF_MONTH", "5")
				t.Setenv("HEADLESS", "false")
				t.Setenv("GSHEET_KEY", "sheet-key")
				t.Setenv("GSHEET_SERVICE_JSON", `{"type":"service_account"}`)
				t.Setenv("GSHEET_WORKSHEET", "May")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "user@example.com", cfg.Credentials.Email)
				assert.Equal(t, 2025, cfg.Run.Year)
				assert.Equal(t, 5, cfg.Run.Month)
				assert.False(t, cfg.Browser.Headless)
				assert.Equal(t, "May", cfg.Sheets.Worksheet)
				assert.True(t, cfg.HasCredentials())
				assert.True(t, cfg.HasPublisher())
			},
		},
		{
			name: "prefixed variables win over bare names",
			setupEnv: func(t *testing.T) {
				t.Setenv("HEADLESS", "false")
				t.Setenv("MFIMPORT_BROWSER_HEADLESS", "true")
				t.Setenv("MFIMPORT_LOCATOR_LABELS", "CSV,エクスポート")
				t.Setenv("MFIMPORT_LOCATOR_STRATEGY_TIMEOUT", "2s")
				t.Setenv("MFIMPORT_LOGGING_FORMAT", "text")
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Browser.Headless)
				assert.Equal(t, []string{"CSV", "エクスポート"}, cfg.Locator.Labels)
				assert.Equal(t, 2*time.Second, cfg.Locator.StrategyTimeout)
				assert.Equal(t, "json", cfg.Logging.Format) // always forced to json
			},
		},
		{
			name: "month 13 rejected",
			setupEnv: func(t *testing.T) {
				t.Setenv("MF_MONTH", "13")
			},
			wantErr: true,
		},
		{
			name: "year before 2000 rejected",
			setupEnv: func(t *testing.T) {
				t.Setenv("MF_YEAR", "1999")
			},
			wantErr: true,
		},
		{
			name: "unknown download mode rejected",
			setupEnv: func(t *testing.T) {
				t.Setenv("MFIMPORT_DOWNLOAD_MODE", "scrape")
			},
			wantErr: true,
		},
		{
			name: "invalid email rejected",
			setupEnv: func(t *testing.T) {
				t.Setenv("MF_EMAIL", "not-an-email")
			},
			wantErr: true,
		},
		{
			name: "unparsable month rejected",
			setupEnv: func(t *testing.T) {
				t.Setenv("MF_MONTH", "May")
			},
			wantErr: true,
		},
		{
			name: "config file with environment override",
			setupEnv: func(t *testing.T) {
				t.Setenv("MFIMPORT_LOGGING_LEVEL", "warn")
			},
			setupFile: func(t *testing.T, dir string) {
				content := `
run:
  out_dir: /tmp/mf
logging:
  level: error
download:
  mode: direct
  timeout: 90s
`
				require.NoError(t, os.WriteFile(filepath.Join(dir, "mfimport.yaml"), []byte(content), 0644))
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "warn", cfg.Logging.Level)
				assert.Equal(t, "/tmp/mf", cfg.Run.OutDir)
				assert.Equal(t, "direct", cfg.Download.Mode)
				assert.Equal(t, 90*time.Second, cfg.Download.Timeout)
				// untouched keys keep their defaults
				assert.Equal(t, DefaultSignInURL, cfg.Login.SignInURL)
			},
		},
		{
			name: "dotenv file supplies credentials",
			setupFile: func(t *testing.T, dir string) {
				content := "MF_EMAIL=dotenv@example.com\nMF_PASSWORD=pw\n"
				require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0600))
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "dotenv@example.com", cfg.Credentials.Email)
				assert.Equal(t, "pw", cfg.Credentials.Password)
			},
		},
		{
			name: "malformed yaml",
			setupFile: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "mfimport.yaml"), []byte("run: [unterminated"), 0644))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := isolate(t)
			if tt.setupEnv != nil {
				tt.setupEnv(t)
			}
			if tt.setupFile != nil {
				tt.setupFile(t, dir)
			}
			// godotenv does not override variables that are already set, and
			// it writes with os.Setenv, so drop them after the test.
			t.Cleanup(func() {
				for _, envVar := range envVars {
					os.Unsetenv(envVar)
				}
			})

			cfg, err := Load("")

			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, apperrors.ErrConfig)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)
			if tt.validateCfg != nil {
				tt.validateCfg(t, cfg)
			}
		})
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sheets:\n  worksheet: history\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "history", cfg.Sheets.Worksheet)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default is valid", mutate: func(*Config) {}},
		{
			name:    "month out of range",
			mutate:  func(c *Config) { c.Run.Month = 13 },
			wantErr: "run.month must be at most 12",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.Locator.Strategies = []string{"role", "xpath"} },
			wantErr: "locator.strategies[1]",
		},
		{
			name:    "empty strategies",
			mutate:  func(c *Config) { c.Locator.Strategies = nil },
			wantErr: "locator.strategies",
		},
		{
			name:    "zero download timeout",
			mutate:  func(c *Config) { c.Download.Timeout = 0 },
			wantErr: "download.timeout",
		},
		{
			name:    "bad pushgateway url",
			mutate:  func(c *Config) { c.Telemetry.PushgatewayURL = "not a url" },
			wantErr: "telemetry.pushgateway_url",
		},
		{
			name: "logging output normalized",
			mutate: func(c *Config) {
				c.Logging.Output = "syslog"
				c.Logging.FilePath = ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "json", cfg.Logging.Format)
			assert.Contains(t, []string{"both", "file", "console"}, cfg.Logging.Output)
			assert.NotEmpty(t, cfg.Logging.FilePath)
		})
	}
}

func TestCredentialsConfig_String(t *testing.T) {
	c := CredentialsConfig{Email: "user@example.com", Password: "secret"}
	assert.NotContains(t, c.String(), "secret")
	assert.Contains(t, c.String(), "user@example.com")
}
