package files

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// exportName matches the deterministic download name moneyforward_YYYYMM.csv
var exportName = regexp.MustCompile(`^moneyforward_(\d{4})(\d{2})\.csv$`)

// Discovery provides file discovery operations
type Discovery struct {
	basePath string
}

// NewDiscovery creates a new file discovery instance
func NewDiscovery(basePath string) *Discovery {
	return &Discovery{basePath: basePath}
}

// FindCSVFiles finds all CSV files in dir, oldest first
func (d *Discovery) FindCSVFiles(dir string) ([]FileInfo, error) {
	fullPath := dir
	if !filepath.IsAbs(dir) {
		fullPath = filepath.Join(d.basePath, dir)
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", fullPath, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".csv") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Path:    filepath.Join(fullPath, entry.Name()),
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// LatestExport returns the export for the most recent period in dir. Files
// not following the moneyforward_YYYYMM.csv naming fall back to modification
// time ordering.
func (d *Discovery) LatestExport(dir string) (FileInfo, bool, error) {
	files, err := d.FindCSVFiles(dir)
	if err != nil {
		return FileInfo{}, false, err
	}

	var periodic []FileInfo
	for _, f := range files {
		if exportName.MatchString(f.Name) {
			periodic = append(periodic, f)
		}
	}
	if len(periodic) == 0 {
		latest, ok := GetLatestFile(files)
		return latest, ok, nil
	}

	sort.Slice(periodic, func(i, j int) bool { return periodic[i].Name < periodic[j].Name })
	return periodic[len(periodic)-1], true, nil
}

// GetLatestFile returns the most recently modified file from a list
func GetLatestFile(files []FileInfo) (FileInfo, bool) {
	if len(files) == 0 {
		return FileInfo{}, false
	}

	latest := files[0]
	for _, file := range files[1:] {
		if file.ModTime.After(latest.ModTime) {
			latest = file
		}
	}
	return latest, true
}
