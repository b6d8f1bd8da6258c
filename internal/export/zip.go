package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

// Manifest describes a ZIP bundle.
type Manifest struct {
	RunID       string          `yaml:"run_id"`
	Video       string          `yaml:"video"`
	Duration    float64         `yaml:"duration_seconds"`
	Detector    string          `yaml:"detector"`
	FellBack    bool            `yaml:"fell_back"`
	Degraded    bool            `yaml:"degraded,omitempty"`
	Transcriber string          `yaml:"transcriber"`
	Language    string          `yaml:"language,omitempty"`
	Generated   time.Time       `yaml:"generated"`
	Scenes      []ManifestScene `yaml:"scenes"`
}

type ManifestScene struct {
	Index     int      `yaml:"index"`
	Start     float64  `yaml:"start"`
	End       float64  `yaml:"end"`
	Timestamp string   `yaml:"timestamp"`
	Image     string   `yaml:"image,omitempty"`
	Text      []string `yaml:"text,flow"`
}

func NewManifest(result *storyboard.Result) Manifest {
	m := Manifest{
		RunID:       result.RunID,
		Video:       result.Video.Name,
		Duration:    result.Video.Duration,
		Detector:    result.Detector,
		FellBack:    result.FellBack,
		Degraded:    result.Degraded,
		Transcriber: result.Transcriber,
		Language:    result.Language,
		Generated:   result.CreatedAt,
		Scenes:      make([]ManifestScene, len(result.Scenes)),
	}
	for i, s := range result.Scenes {
		m.Scenes[i] = ManifestScene{
			Index:     s.Index,
			Start:     s.Start,
			End:       s.End,
			Timestamp: s.Timestamp,
			Image:     s.ImageRef,
			Text:      s.Text,
		}
	}
	return m
}

// WriteZIP bundles keyframes, the TSV and CSV exports and a YAML manifest.
// Keyframes are read from the run workspace at root; scenes without one
// are listed in the manifest with no image.
func WriteZIP(w io.Writer, result *storyboard.Result, root string) error {
	zw := zip.NewWriter(w)

	for _, s := range result.Scenes {
		if s.ImageRef == "" {
			continue
		}
		img, err := ReadFrame(root, s.ImageRef)
		if err != nil {
			return fmt.Errorf("scene %d keyframe: %w", s.Index, err)
		}
		// JPEG is already compressed
		if err := addFile(zw, s.ImageRef, img, zip.Store, result.CreatedAt); err != nil {
			return err
		}
	}

	var buf bytes.Buffer
	if err := WriteTSV(&buf, result.Scenes); err != nil {
		return err
	}
	if err := addFile(zw, "storyboard.tsv", buf.Bytes(), zip.Deflate, result.CreatedAt); err != nil {
		return err
	}

	buf.Reset()
	if err := WriteCSV(&buf, result.Scenes); err != nil {
		return err
	}
	if err := addFile(zw, "storyboard.csv", buf.Bytes(), zip.Deflate, result.CreatedAt); err != nil {
		return err
	}

	manifest, err := yaml.Marshal(NewManifest(result))
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := addFile(zw, "manifest.yaml", manifest, zip.Deflate, result.CreatedAt); err != nil {
		return err
	}

	return zw.Close()
}

func addFile(zw *zip.Writer, name string, data []byte, method uint16, modified time.Time) error {
	if modified.IsZero() {
		modified = time.Now()
	}
	f, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method, Modified: modified})
	if err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("zip %s: %w", name, err)
	}
	return nil
}
