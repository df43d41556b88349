// Package config loads mfimport settings.
//
// # Configuration Sources
//
// Configuration is assembled in increasing order of precedence:
//
//  1. Default values (Default)
//  2. A .env file in the working directory (godotenv; never overrides
//     variables already present in the environment)
//  3. mfimport.yaml or configs/mfimport.yaml, or the file given with --config
//  4. Environment variables
//
// # Environment Variables
//
// Tuning variables follow MFIMPORT_<SECTION>_<KEY>:
//
//	MFIMPORT_LOGGING_LEVEL=debug
//	MFIMPORT_LOCATOR_STRATEGY_TIMEOUT=5s
//	MFIMPORT_DOWNLOAD_MODE=direct
//
// Fields carrying a historical name are also read without the prefix:
//
//	MF_EMAIL, MF_PASSWORD       credentials for interactive login
//	MF_STORAGE_B64              base64 (optionally gzip) session snapshot
//	MF_SAVE_SESSION             where to write a fresh snapshot
//	MF_YEAR, MF_MONTH           target period, defaults to the current month
//	HEADLESS                    true or false
//	GSHEET_KEY                  destination spreadsheet
//	GSHEET_SERVICE_JSON         service account credentials
//	GSHEET_WORKSHEET            destination worksheet, default raw_csv
//
// Secrets (password, snapshot, service account JSON) are never read from the
// YAML file.
package config
