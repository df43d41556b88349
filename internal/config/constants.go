package config

import "time"

// Application constants
const (
	AppName = "mfimport"

	DefaultStartURL            = "https://moneyforward.com/cf"
	DefaultSignInURL           = "https://id.moneyforward.com/sign_in"
	DefaultAuthenticatedPrefix = "https://moneyforward.com"
	DefaultEmailSelector       = `input[name="email"], input[name="mfid_user[email]"]`
	DefaultPasswordSelector    = `input[type="password"]`
	DefaultSubmitSelector      = `button[type="submit"]`

	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	// Export endpoint used in direct mode. Placeholders are filled per period.
	DefaultExportURLTemplate = "https://moneyforward.com/cf/csv?from={{.Year}}/{{printf \"%02d\" .Month}}/01&month={{.Month}}&year={{.Year}}"

	DefaultTextPattern    = `(?i)csv|ｃｓｖ`
	DefaultTriggerPattern = `(?i)エクスポート|ダウンロード|export|download|icon-download|menu`

	DefaultWorksheet = "raw_csv"
	DefaultEncoding  = "shift_jis"

	DefaultFormTimeout     = 5 * time.Second
	DefaultConfirmTimeout  = 30 * time.Second
	DefaultPollInterval    = 250 * time.Millisecond
	DefaultStrategyTimeout = 5 * time.Second
	DefaultDownloadTimeout = 60 * time.Second
	DefaultNavTimeout      = 30 * time.Second
	DefaultMaxTriggers     = 3
)

// DefaultLabels are the accessible names of the CSV export control.
var DefaultLabels = []string{"CSVファイル", "CSV ファイル", "CSVダウンロード"}

// DefaultStrategies is the locator order.
var DefaultStrategies = []string{"role", "attribute", "text", "indirect", "exhaustive"}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			Compress: true,
		},
		Run: RunConfig{
			OutDir:         "downloads",
			DiagnosticsDir: "diagnostics",
		},
		Browser: BrowserConfig{
			Headless:          true,
			UserAgent:         DefaultUserAgent,
			WindowWidth:       1366,
			WindowHeight:      900,
			NavigationTimeout: DefaultNavTimeout,
			StartURL:          DefaultStartURL,
		},
		Login: LoginConfig{
			SignInURL:           DefaultSignInURL,
			AuthenticatedPrefix: DefaultAuthenticatedPrefix,
			EmailSelector:       DefaultEmailSelector,
			PasswordSelector:    DefaultPasswordSelector,
			SubmitSelector:      DefaultSubmitSelector,
			FormTimeout:         DefaultFormTimeout,
			ConfirmTimeout:      DefaultConfirmTimeout,
			PollInterval:        DefaultPollInterval,
		},
		Locator: LocatorConfig{
			Strategies:      append([]string(nil), DefaultStrategies...),
			Labels:          append([]string(nil), DefaultLabels...),
			TextPattern:     DefaultTextPattern,
			TriggerPattern:  DefaultTriggerPattern,
			MaxTriggers:     DefaultMaxTriggers,
			StrategyTimeout: DefaultStrategyTimeout,
		},
		Download: DownloadConfig{
			Mode:        "locate",
			Timeout:     DefaultDownloadTimeout,
			URLTemplate: DefaultExportURLTemplate,
		},
		Normalize: NormalizeConfig{
			Encoding: DefaultEncoding,
		},
		Sheets: SheetsConfig{
			Worksheet: DefaultWorksheet,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Output:      "both",
			FilePath:    "logs/mfimport.log",
			Development: false,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: AppName,
			TraceOutput: "none",
			TraceFile:   "logs/traces.json",
			JobName:     AppName,
		},
	}
}
