package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// isolate points the config search at an empty temp dir and clears
// every variable New reads.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "STORYBOARD_") {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
	return dir
}

func TestNew_Defaults(t *testing.T) {
	home := isolate(t)

	cfg, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.Source() != "" {
		t.Errorf("Source() = %q, want none", cfg.Source())
	}
	if cfg.Port() != DefaultPort || cfg.Addr() != "127.0.0.1:8788" {
		t.Errorf("Port/Addr = %d/%s", cfg.Port(), cfg.Addr())
	}
	if cfg.DBPath() != DefaultDBPath {
		t.Errorf("DBPath() = %q, want in-memory", cfg.DBPath())
	}
	if want := filepath.Join(home, DefaultDataDir, "workspace"); cfg.WorkspaceDir() != want {
		t.Errorf("WorkspaceDir() = %q, want %q", cfg.WorkspaceDir(), want)
	}

	d := cfg.Detection()
	if d.LeadingGap != 1.0 || d.ContentThreshold != 27.0 || d.ContentRetryThreshold != 15.0 {
		t.Errorf("detection = %+v", d)
	}
	if d.DiffThreshold != 30.0 || d.MinSceneLength != 0.8 || d.TrailingEpsilon != 0.1 {
		t.Errorf("diff defaults = %+v", d)
	}
	if strings.Join(d.Detectors, ",") != "pyscenedetect,ffmpeg" {
		t.Errorf("detectors = %v", d.Detectors)
	}

	tr := cfg.Transcription()
	if tr.Backend != TranscriberWhisper || tr.Model != "small" {
		t.Errorf("transcription = %+v", tr)
	}
	if cfg.Media().ShortScene != 1.0 {
		t.Errorf("short scene = %v", cfg.Media().ShortScene)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval() = %v", cfg.PollInterval())
	}
	if cfg.Kafka().Enabled || cfg.Cloud().Enabled || cfg.Watcher().Enabled {
		t.Error("optional integrations should be disabled by default")
	}
}

func TestNew_FileThenEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "storyboard.toml")
	content := `
[server]
port = 9000

[logging]
level = "DEBUG"

[detection]
detectors = ["FFmpeg", "equal"]
leading_gap = 0.5

[transcription]
model = "medium"
language = "ko"

[kafka]
enabled = true
brokers = ["k1:9092"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvPort, "9100")
	t.Setenv(EnvWhisperModel, "tiny")

	cfg, err := New(path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if cfg.Source() != path {
		t.Errorf("Source() = %q, want %q", cfg.Source(), path)
	}
	if cfg.Port() != 9100 {
		t.Errorf("env should override file port, got %d", cfg.Port())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("LogLevel() = %q", cfg.LogLevel())
	}
	d := cfg.Detection()
	if strings.Join(d.Detectors, ",") != "ffmpeg,equal" || d.LeadingGap != 0.5 {
		t.Errorf("detection = %+v", d)
	}
	// untouched keys keep their defaults
	if d.ContentThreshold != 27.0 {
		t.Errorf("content threshold = %v", d.ContentThreshold)
	}
	if tr := cfg.Transcription(); tr.Model != "tiny" || tr.Language != "ko" {
		t.Errorf("transcription = %+v", tr)
	}
	if k := cfg.Kafka(); !k.Enabled || k.Brokers[0] != "k1:9092" {
		t.Errorf("kafka = %+v", k)
	}
}

func TestNew_EnvEnablesIntegrations(t *testing.T) {
	isolate(t)
	t.Setenv(EnvKafkaBrokers, "a:9092, b:9092")
	t.Setenv(EnvCloudURL, "https://ingest.example.com/")
	t.Setenv(EnvCloudToken, "secret")
	t.Setenv(EnvInboxDir, t.TempDir())

	cfg, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if k := cfg.Kafka(); !k.Enabled || len(k.Brokers) != 2 || k.Brokers[1] != "b:9092" {
		t.Errorf("kafka = %+v", k)
	}
	if c := cfg.Cloud(); !c.Enabled || c.BaseURL != "https://ingest.example.com" {
		t.Errorf("cloud = %+v", c)
	}
	if !cfg.Watcher().Enabled {
		t.Error("inbox dir should enable the watcher")
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"port not a number", map[string]string{EnvPort: "abc"}, EnvPort},
		{"port out of range", map[string]string{EnvPort: "70000"}, "server.port"},
		{"log level", map[string]string{EnvLogLevel: "loud"}, "logging.level"},
		{"detector", map[string]string{EnvDetectors: "magic"}, "unknown detector"},
		{"whisper model", map[string]string{EnvWhisperModel: "huge"}, "transcription.model"},
		{"backend", map[string]string{EnvTranscriber: "carrier-pigeon"}, "transcription.backend"},
		{"openai key", map[string]string{EnvTranscriber: "openai"}, "openai_api_key"},
		{"cloud token", map[string]string{EnvCloudURL: "https://x"}, "cloud.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := New("")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestNew_BadTOML(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[server\nport = "), 0644)

	if _, err := New(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("New() error = %v, want parse error", err)
	}
}

func TestNew_ConfigPathFromEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "env.toml")
	os.WriteFile(path, []byte("[server]\nbind = \"0.0.0.0\"\n"), 0644)
	t.Setenv(EnvConfigPath, path)

	cfg, err := New("")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8788" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}
