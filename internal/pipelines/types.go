// Package pipelines runs the Python media tooling (PySceneDetect and
// whisper) as subprocesses and adapts their JSON output to the scene
// detector and transcriber interfaces.
package pipelines

import "time"

// Capabilities is what `doctor --json` reports about the Python environment.
type Capabilities struct {
	PackageVersion string             `json:"package_version"`
	Python         PythonInfo         `json:"python"`
	Dependencies   map[string]DepInfo `json:"dependencies"`
	Executables    map[string]DepInfo `json:"executables"`
	GPU            GPUInfo            `json:"gpu"`
	Summary        SummaryInfo        `json:"summary"`

	HasScenes bool      `json:"-"`
	HasSpeech bool      `json:"-"`
	ProbedAt  time.Time `json:"-"`
}

type PythonInfo struct {
	Version    string `json:"version"`
	Executable string `json:"executable"`
}

// DepInfo represents the availability status of a single dependency.
type DepInfo struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Path      string `json:"path,omitempty"`
	Error     string `json:"error,omitempty"`
}

type GPUInfo struct {
	CUDAAvailable bool   `json:"cuda_available"`
	DeviceCount   int    `json:"device_count,omitempty"`
	Error         string `json:"error,omitempty"`
}

type SummaryInfo struct {
	Available int  `json:"available"`
	Total     int  `json:"total"`
	AllOK     bool `json:"all_ok"`
}

// RunResult is the structured outcome of executing a pipeline subprocess.
type RunResult struct {
	ExitCode   int           `json:"exit_code"`
	OutputPath string        `json:"output_path,omitempty"` // path to the --out JSON file
	StderrTail string        `json:"stderr_tail,omitempty"` // last N bytes of stderr
	Duration   time.Duration `json:"duration"`
}

// IsSuccess returns true when the subprocess exited cleanly.
func (r RunResult) IsSuccess() bool { return r.ExitCode == 0 }

// PipelineOutput carries the metadata fields every output file must have.
type PipelineOutput struct {
	SchemaVersion   string `json:"schema_version"`
	PipelineVersion string `json:"pipeline_version"`
	ModelVersion    string `json:"model_version"`
}

// RequiredFieldsPresent checks the metadata every output must carry.
func (p PipelineOutput) RequiredFieldsPresent() bool {
	return p.SchemaVersion != "" && p.PipelineVersion != "" && p.ModelVersion != ""
}

// ScenesOutput is written by `scenes detect`. Times are seconds.
type ScenesOutput struct {
	PipelineOutput
	Detector  string       `json:"detector"`
	Threshold float64      `json:"threshold"`
	Duration  float64      `json:"duration_s"`
	Scenes    []SceneRange `json:"scenes"`
}

type SceneRange struct {
	Start float64 `json:"start_s"`
	End   float64 `json:"end_s"`
}

// SpeechOutput is written by `speech transcribe`.
type SpeechOutput struct {
	PipelineOutput
	Language string          `json:"language"`
	Segments []SpeechSegment `json:"segments"`
}

type SpeechSegment struct {
	Start float64 `json:"start_s"`
	End   float64 `json:"end_s"`
	Text  string  `json:"text"`
}
