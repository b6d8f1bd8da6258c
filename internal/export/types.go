package export

import "fmt"

// Format names an export produced from a finished run.
type Format string

const (
	FormatTSV Format = "tsv"
	FormatCSV Format = "csv"
	FormatZIP Format = "zip"
	FormatEDL Format = "edl"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatTSV, FormatCSV, FormatZIP, FormatEDL:
		return f, nil
	}
	return "", fmt.Errorf("unknown export format %q", s)
}

func (f Format) ContentType() string {
	switch f {
	case FormatTSV:
		return "text/tab-separated-values; charset=utf-8"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatZIP:
		return "application/zip"
	default:
		return "text/plain; charset=utf-8"
	}
}

// EDLRequest asks for a run's scene cuts to be written as an EDL file.
type EDLRequest struct {
	RunID       string  `json:"run_id"`
	ProjectName string  `json:"project_name"`
	FrameRate   float64 `json:"frame_rate"`
	OutputDir   string  `json:"output_dir"`
}

type EDLResponse struct {
	Status     string `json:"status"`
	Format     string `json:"format"`
	OutputPath string `json:"output_path"`
	EventCount int    `json:"event_count"`
}
