// Package shared holds helpers used across packages. Its testutil
// subpackage provides log capture and CSV export fixtures for tests.
package shared
