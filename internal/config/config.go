// Package config provides configuration management for the storyboard
// service. Values come from built-in defaults, an optional TOML file and
// STORYBOARD_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/heimdex/heimdex-storyboard/internal/pipelines"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultBind     = "127.0.0.1"
	DefaultLogLevel = "info"
	DefaultDataDir  = ".heimdex-storyboard"
	DefaultDBPath   = ":memory:"

	DefaultConfigPath = "~/.config/heimdex-storyboard/config.toml"

	DefaultPipelinesModule = "heimdex_media_pipelines"

	// Environment variable names
	EnvConfigPath = "STORYBOARD_CONFIG"
	EnvPort       = "STORYBOARD_PORT"
	EnvBind       = "STORYBOARD_BIND"
	EnvLogLevel   = "STORYBOARD_LOG_LEVEL"
	EnvDataDir    = "STORYBOARD_DATA_DIR"
	EnvDBPath     = "STORYBOARD_DB_PATH"
	EnvWorkspace  = "STORYBOARD_WORKSPACE_DIR"
	EnvInboxDir   = "STORYBOARD_INBOX_DIR"
	EnvAPIToken   = "STORYBOARD_API_TOKEN"

	EnvDetectors    = "STORYBOARD_DETECTORS"
	EnvFFmpeg       = "STORYBOARD_FFMPEG"
	EnvFFprobe      = "STORYBOARD_FFPROBE"
	EnvTranscriber  = "STORYBOARD_TRANSCRIBER"
	EnvWhisperModel = "STORYBOARD_WHISPER_MODEL"
	EnvLanguage     = "STORYBOARD_LANGUAGE"
	EnvOpenAIKey    = "STORYBOARD_OPENAI_API_KEY"
	EnvOpenAIURL    = "STORYBOARD_OPENAI_BASE_URL"
	EnvGoogleCreds  = "STORYBOARD_GOOGLE_CREDENTIALS"

	EnvPipelinesPython = "STORYBOARD_PIPELINES_PYTHON"
	EnvPipelinesModule = "STORYBOARD_PIPELINES_MODULE"

	EnvKafkaBrokers = "STORYBOARD_KAFKA_BROKERS"

	EnvCloudURL     = "STORYBOARD_CLOUD_URL"
	EnvCloudToken   = "STORYBOARD_CLOUD_TOKEN"
	EnvCloudOrg     = "STORYBOARD_CLOUD_ORG"
	EnvCloudLibrary = "STORYBOARD_CLOUD_LIBRARY_ID"
)

// Detector names accepted in [detection] detectors.
const (
	DetectorPySceneDetect = "pyscenedetect"
	DetectorFFmpeg        = "ffmpeg"
	DetectorEqual         = "equal"
)

// Transcription backends.
const (
	TranscriberWhisper = "whisper"
	TranscriberOpenAI  = "openai"
	TranscriberGoogle  = "google"
	TranscriberNone    = "none"
)

// Server holds the HTTP listener settings.
type Server struct {
	Port  int    `toml:"port"`
	Bind  string `toml:"bind"`
	Token string `toml:"token"` // empty generates one per session
}

type Paths struct {
	DataDir      string `toml:"data_dir"`
	DBPath       string `toml:"db_path"`
	WorkspaceDir string `toml:"workspace_dir"`
	UploadDir    string `toml:"upload_dir"`
}

type Logging struct {
	Level string `toml:"level"`
}

// Detection tunes scene detection and canonicalization.
type Detection struct {
	// Detectors is the primary priority list; the frame-difference
	// fallback is always appended when ffmpeg exists.
	Detectors             []string `toml:"detectors"`
	LeadingGap            float64  `toml:"leading_gap"`
	ContentThreshold      float64  `toml:"content_threshold"`
	ContentRetryThreshold float64  `toml:"content_retry_threshold"`
	FFmpegThreshold       float64  `toml:"ffmpeg_threshold"`
	FFmpegRetryThreshold  float64  `toml:"ffmpeg_retry_threshold"`
	DiffThreshold         float64  `toml:"diff_threshold"`
	MinSceneLength        float64  `toml:"min_scene_length"`
	TrailingEpsilon       float64  `toml:"trailing_epsilon"`
	SampleFPS             float64  `toml:"sample_fps"`
	EqualScenes           int      `toml:"equal_scenes"`
}

type Transcription struct {
	Backend           string `toml:"backend"`
	Model             string `toml:"model"`
	Language          string `toml:"language"`
	OpenAIBaseURL     string `toml:"openai_base_url"`
	OpenAIAPIKey      string `toml:"openai_api_key"`
	OpenAIModel       string `toml:"openai_model"`
	GoogleCredentials string `toml:"google_credentials"`
	GoogleModel       string `toml:"google_model"`
}

type Media struct {
	FFmpegPath  string `toml:"ffmpeg"`
	FFprobePath string `toml:"ffprobe"`
	JPEGQuality int    `toml:"jpeg_quality"`
	// ShortScene is the length below which keyframes are taken at the
	// scene start instead of the midpoint.
	ShortScene float64 `toml:"short_scene"`
}

type Pipelines struct {
	Python string `toml:"python"`
	Module string `toml:"module"`
}

// Timeouts are in seconds; zero disables the deadline.
type Timeouts struct {
	Probe      int `toml:"probe"`
	Detect     int `toml:"detect"`
	Transcribe int `toml:"transcribe"`
	Assemble   int `toml:"assemble"`
	Doctor     int `toml:"doctor"`
}

type Kafka struct {
	Enabled        bool     `toml:"enabled"`
	Brokers        []string `toml:"brokers"`
	ProgressTopic  string   `toml:"progress_topic"`
	CompletedTopic string   `toml:"completed_topic"`
	ClientID       string   `toml:"client_id"`
}

type Cloud struct {
	Enabled     bool   `toml:"enabled"`
	BaseURL     string `toml:"base_url"`
	Token       string `toml:"token"`
	OrgSlug     string `toml:"org_slug"`
	LibraryID   string `toml:"library_id"`
	LibraryName string `toml:"library_name"`
	DeviceID    string `toml:"device_id"`
}

type Watcher struct {
	Enabled       bool   `toml:"enabled"`
	InboxDir      string `toml:"inbox_dir"`
	SettleSeconds int    `toml:"settle_seconds"`
}

type Runner struct {
	PollSeconds int `toml:"poll_seconds"`
}

// File is the TOML document layout.
type File struct {
	Server        Server        `toml:"server"`
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Detection     Detection     `toml:"detection"`
	Transcription Transcription `toml:"transcription"`
	Media         Media         `toml:"media"`
	Pipelines     Pipelines     `toml:"pipelines"`
	Timeouts      Timeouts      `toml:"timeouts"`
	Kafka         Kafka         `toml:"kafka"`
	Cloud         Cloud         `toml:"cloud"`
	Watcher       Watcher       `toml:"watcher"`
	Runner        Runner        `toml:"runner"`
}

// Config defines the application configuration interface
type Config interface {
	Port() int
	Addr() string
	APIToken() string
	LogLevel() string
	DataDir() string
	DBPath() string
	WorkspaceDir() string
	UploadDir() string
	Detection() Detection
	Transcription() Transcription
	Media() Media
	Pipelines() Pipelines
	StageTimeouts() Timeouts
	Kafka() Kafka
	Cloud() Cloud
	Watcher() Watcher
	PollInterval() time.Duration
	// Source is the config file that was read, or "" when none existed.
	Source() string
}

// EnvConfig is the merged configuration.
type EnvConfig struct {
	file   File
	source string
}

// Defaults returns the built-in configuration.
func Defaults() File {
	return File{
		Server:  Server{Port: DefaultPort, Bind: DefaultBind},
		Paths:   Paths{DataDir: defaultDataDir(), DBPath: DefaultDBPath},
		Logging: Logging{Level: DefaultLogLevel},
		Detection: Detection{
			Detectors:             []string{DetectorPySceneDetect, DetectorFFmpeg},
			LeadingGap:            1.0,
			ContentThreshold:      pipelines.DefaultContentThreshold,
			ContentRetryThreshold: 15.0,
			FFmpegThreshold:       0.3,
			FFmpegRetryThreshold:  0.15,
			DiffThreshold:         30.0,
			MinSceneLength:        0.8,
			TrailingEpsilon:       0.1,
			EqualScenes:           8,
		},
		Transcription: Transcription{
			Backend: TranscriberWhisper,
			Model:   pipelines.DefaultWhisperModel,
		},
		Media:     Media{JPEGQuality: 2, ShortScene: 1.0},
		Pipelines: Pipelines{Module: DefaultPipelinesModule},
		Timeouts: Timeouts{
			Probe:      30,
			Detect:     20 * 60,
			Transcribe: 60 * 60,
			Assemble:   10 * 60,
			Doctor:     30,
		},
		Kafka:   Kafka{ClientID: "heimdex-storyboard"},
		Cloud:   Cloud{LibraryName: "Storyboards"},
		Watcher: Watcher{SettleSeconds: 2},
		Runner:  Runner{PollSeconds: 5},
	}
}

// New loads configuration. path may be empty, in which case
// STORYBOARD_CONFIG and then the default location are consulted. A missing
// file is not an error.
func New(path string) (*EnvConfig, error) {
	f := Defaults()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path == "" {
		path = DefaultConfigPath
	}
	resolved, err := expandPath(path)
	if err != nil {
		return nil, err
	}

	source := ""
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		source = resolved
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(&f); err != nil {
		return nil, err
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &EnvConfig{file: f, source: source}, nil
}

func applyEnv(f *File) error {
	strs := map[string]*string{
		EnvBind:            &f.Server.Bind,
		EnvAPIToken:        &f.Server.Token,
		EnvLogLevel:        &f.Logging.Level,
		EnvDataDir:         &f.Paths.DataDir,
		EnvDBPath:          &f.Paths.DBPath,
		EnvWorkspace:       &f.Paths.WorkspaceDir,
		EnvInboxDir:        &f.Watcher.InboxDir,
		EnvFFmpeg:          &f.Media.FFmpegPath,
		EnvFFprobe:         &f.Media.FFprobePath,
		EnvTranscriber:     &f.Transcription.Backend,
		EnvWhisperModel:    &f.Transcription.Model,
		EnvLanguage:        &f.Transcription.Language,
		EnvOpenAIKey:       &f.Transcription.OpenAIAPIKey,
		EnvOpenAIURL:       &f.Transcription.OpenAIBaseURL,
		EnvGoogleCreds:     &f.Transcription.GoogleCredentials,
		EnvPipelinesPython: &f.Pipelines.Python,
		EnvPipelinesModule: &f.Pipelines.Module,
		EnvCloudURL:        &f.Cloud.BaseURL,
		EnvCloudToken:      &f.Cloud.Token,
		EnvCloudOrg:        &f.Cloud.OrgSlug,
		EnvCloudLibrary:    &f.Cloud.LibraryID,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		f.Server.Port = port
	}
	if v := os.Getenv(EnvDetectors); v != "" {
		f.Detection.Detectors = splitList(v)
	}
	if v := os.Getenv(EnvKafkaBrokers); v != "" {
		f.Kafka.Brokers = splitList(v)
		f.Kafka.Enabled = true
	}
	if os.Getenv(EnvCloudURL) != "" {
		f.Cloud.Enabled = true
	}
	if os.Getenv(EnvInboxDir) != "" {
		f.Watcher.Enabled = true
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (f *File) normalize() error {
	var err error
	if f.Paths.DataDir, err = expandPath(f.Paths.DataDir); err != nil {
		return err
	}
	if f.Paths.WorkspaceDir == "" {
		f.Paths.WorkspaceDir = filepath.Join(f.Paths.DataDir, "workspace")
	}
	if f.Paths.UploadDir == "" {
		f.Paths.UploadDir = filepath.Join(f.Paths.DataDir, "uploads")
	}
	if f.Watcher.InboxDir == "" {
		f.Watcher.InboxDir = filepath.Join(f.Paths.DataDir, "inbox")
	}
	for _, p := range []*string{&f.Paths.WorkspaceDir, &f.Paths.UploadDir, &f.Watcher.InboxDir, &f.Transcription.GoogleCredentials} {
		if *p, err = expandPath(*p); err != nil {
			return err
		}
	}
	if f.Paths.DBPath != DefaultDBPath && f.Paths.DBPath != "" {
		if f.Paths.DBPath, err = expandPath(f.Paths.DBPath); err != nil {
			return err
		}
	}

	f.Logging.Level = strings.ToLower(strings.TrimSpace(f.Logging.Level))
	f.Transcription.Backend = strings.ToLower(strings.TrimSpace(f.Transcription.Backend))
	for i, d := range f.Detection.Detectors {
		f.Detection.Detectors[i] = strings.ToLower(strings.TrimSpace(d))
	}
	f.Cloud.BaseURL = strings.TrimRight(f.Cloud.BaseURL, "/")
	return nil
}

// Validate rejects values the pipeline cannot run with.
func (f *File) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if f.Server.Port < 1 || f.Server.Port > 65535 {
		add("server.port must be between 1 and 65535")
	}
	switch f.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("logging.level %q is not one of debug, info, warn, error", f.Logging.Level)
	}

	d := f.Detection
	for _, name := range d.Detectors {
		switch name {
		case DetectorPySceneDetect, DetectorFFmpeg, DetectorEqual:
		default:
			add("detection.detectors: unknown detector %q", name)
		}
	}
	if d.LeadingGap < 0 {
		add("detection.leading_gap must not be negative")
	}
	for name, v := range map[string]float64{
		"content_threshold":       d.ContentThreshold,
		"content_retry_threshold": d.ContentRetryThreshold,
		"ffmpeg_threshold":        d.FFmpegThreshold,
		"diff_threshold":          d.DiffThreshold,
	} {
		if v <= 0 {
			add("detection.%s must be positive", name)
		}
	}
	if d.FFmpegThreshold > 1 || d.FFmpegRetryThreshold > 1 {
		add("detection.ffmpeg thresholds must be at most 1")
	}
	if d.MinSceneLength < 0 || d.TrailingEpsilon < 0 || d.SampleFPS < 0 {
		add("detection lengths and sample_fps must not be negative")
	}

	t := f.Transcription
	switch t.Backend {
	case TranscriberWhisper:
		if !pipelines.ValidWhisperModel(t.Model) {
			add("transcription.model %q is not one of %s", t.Model, strings.Join(pipelines.WhisperModels, ", "))
		}
	case TranscriberOpenAI:
		if t.OpenAIAPIKey == "" {
			add("transcription.openai_api_key is required for the openai backend")
		}
	case TranscriberGoogle, TranscriberNone:
	default:
		add("transcription.backend %q is not one of whisper, openai, google, none", t.Backend)
	}

	if f.Media.JPEGQuality < 1 || f.Media.JPEGQuality > 31 {
		add("media.jpeg_quality must be between 1 and 31")
	}
	if f.Media.ShortScene < 0 {
		add("media.short_scene must not be negative")
	}

	if f.Kafka.Enabled && len(f.Kafka.Brokers) == 0 {
		add("kafka.brokers is required when kafka is enabled")
	}
	if f.Cloud.Enabled && (f.Cloud.BaseURL == "" || f.Cloud.Token == "") {
		add("cloud.base_url and cloud.token are required when cloud upload is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *EnvConfig) Port() int { return c.file.Server.Port }

// Addr is the listen address for the HTTP server.
func (c *EnvConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.file.Server.Bind, c.file.Server.Port)
}

func (c *EnvConfig) APIToken() string     { return c.file.Server.Token }
func (c *EnvConfig) LogLevel() string     { return c.file.Logging.Level }
func (c *EnvConfig) DataDir() string      { return c.file.Paths.DataDir }
func (c *EnvConfig) DBPath() string       { return c.file.Paths.DBPath }
func (c *EnvConfig) WorkspaceDir() string { return c.file.Paths.WorkspaceDir }
func (c *EnvConfig) UploadDir() string    { return c.file.Paths.UploadDir }

func (c *EnvConfig) Detection() Detection {
	d := c.file.Detection
	d.Detectors = append([]string(nil), d.Detectors...)
	return d
}

func (c *EnvConfig) Transcription() Transcription { return c.file.Transcription }
func (c *EnvConfig) Media() Media                 { return c.file.Media }
func (c *EnvConfig) Pipelines() Pipelines         { return c.file.Pipelines }
func (c *EnvConfig) StageTimeouts() Timeouts      { return c.file.Timeouts }
func (c *EnvConfig) Kafka() Kafka                 { return c.file.Kafka }
func (c *EnvConfig) Cloud() Cloud                 { return c.file.Cloud }
func (c *EnvConfig) Watcher() Watcher             { return c.file.Watcher }
func (c *EnvConfig) Source() string               { return c.source }

func (c *EnvConfig) PollInterval() time.Duration {
	return time.Duration(c.file.Runner.PollSeconds) * time.Second
}

// Seconds converts a configured timeout.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

func expandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
