package export

import (
	"encoding/base64"
	"html/template"
	"io"
	"log/slog"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

var galleryTemplate = template.Must(template.New("gallery").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 1rem; background: #111; color: #eee; }
h1 { font-size: 1.1rem; font-weight: 600; }
.meta { color: #999; font-size: 0.85rem; margin-bottom: 1rem; }
.strip { display: flex; gap: 12px; overflow-x: auto; padding-bottom: 12px; }
.scene { flex: 0 0 280px; background: #1c1c1c; border-radius: 6px; padding: 8px; }
.scene img { width: 100%; border-radius: 4px; display: block; }
.scene .noimg { width: 100%; aspect-ratio: 16/9; background: #333; border-radius: 4px; }
.ts { font-variant-numeric: tabular-nums; color: #8cf; margin: 6px 0 4px; }
.text { white-space: pre-wrap; font-size: 0.9rem; line-height: 1.35; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<div class="meta">{{len .Scenes}} scenes &middot; detector {{.Detector}}{{if .FellBack}} (fallback){{end}}</div>
<div class="strip">
{{- range .Scenes}}
<div class="scene" id="scene-{{.Index}}">
{{- if .Image}}
<img src="{{.Image}}" alt="scene {{.Index}}" loading="lazy">
{{- else}}
<div class="noimg"></div>
{{- end}}
<div class="ts">{{.TimeRange}}</div>
<div class="text">{{.Text}}</div>
</div>
{{- end}}
</div>
</body>
</html>
`))

type galleryScene struct {
	Index     int
	TimeRange string
	Image     template.URL
	Text      string
}

type galleryPage struct {
	Title    string
	Detector string
	FellBack bool
	Scenes   []galleryScene
}

// WriteGallery renders a self-contained, horizontally scrolling HTML page
// with keyframes inlined as base64 JPEG data URIs.
func WriteGallery(w io.Writer, result *storyboard.Result, root string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	page := galleryPage{
		Title:    result.Video.Name,
		Detector: result.Detector,
		FellBack: result.FellBack,
		Scenes:   make([]galleryScene, len(result.Scenes)),
	}
	if page.Title == "" {
		page.Title = "Storyboard " + result.RunID
	}

	for i, s := range result.Scenes {
		gs := galleryScene{Index: s.Index, TimeRange: s.TimeRange, Text: s.DisplayText}
		if s.ImageRef != "" {
			img, err := ReadFrame(root, s.ImageRef)
			if err != nil {
				logger.Warn("gallery keyframe unreadable", "run_id", result.RunID, "scene", s.Index, "error", err)
			} else {
				gs.Image = template.URL("data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(img))
			}
		}
		page.Scenes[i] = gs
	}
	return galleryTemplate.Execute(w, page)
}
