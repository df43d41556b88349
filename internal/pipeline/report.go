package pipeline

import (
	"time"

	"github.com/ino-taku/mf-importer/internal/download"
)

// StageStatus represents the outcome of a stage
type StageStatus string

const (
	StageStatusCompleted StageStatus = "completed"
	StageStatusFailed    StageStatus = "failed"
	StageStatusSkipped   StageStatus = "skipped"
)

// Stage names, in run order.
const (
	StageSessionDecode  = "session_decode"
	StageLaunch         = "launch"
	StageSessionRestore = "session_restore"
	StageNavigate       = "navigate"
	StageLogin          = "login"
	StageSessionSave    = "session_save"
	StageLocate         = "locate"
	StageDownload       = "download"
	StageNormalize      = "normalize"
	StageExport         = "export"
	StagePublish        = "publish"
)

// StageResult records one stage of a run.
type StageResult struct {
	Name     string        `json:"name"`
	Status   StageStatus   `json:"status"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`
}

// Report summarizes a run. It is returned alongside the error on failure so
// the stages reached so far can be inspected.
type Report struct {
	RunID       string             `json:"run_id"`
	Period      download.Period    `json:"period"`
	Interactive bool               `json:"interactive_login"`
	Strategy    string             `json:"strategy,omitempty"`
	Artifact    *download.Artifact `json:"artifact,omitempty"`
	Columns     []string           `json:"columns,omitempty"`
	Records     int                `json:"records"`
	Nulls       map[string]int     `json:"nulls,omitempty"`
	SessionPath string             `json:"session_path,omitempty"`
	ExportPath  string             `json:"export_path,omitempty"`
	Published   bool               `json:"published"`
	Stages      []StageResult      `json:"stages"`
	Duration    time.Duration      `json:"duration"`
}

// Stage returns the result for name, if the run reached it.
func (r *Report) Stage(name string) (StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageResult{}, false
}

func (r *Report) skip(name, reason string) {
	r.Stages = append(r.Stages, StageResult{Name: name, Status: StageStatusSkipped, Message: reason})
}
