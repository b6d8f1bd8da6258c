package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

var csvHeader = []string{"index", "start", "end", "timestamp", "image", "text"}

// WriteCSV writes one row per scene.
func WriteCSV(w io.Writer, scenes []storyboard.SceneResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, s := range scenes {
		end := strconv.FormatFloat(s.End, 'f', 3, 64)
		if s.OpenEnded {
			end = ""
		}
		if err := cw.Write([]string{
			strconv.Itoa(s.Index),
			strconv.FormatFloat(s.Start, 'f', 3, 64),
			end,
			s.Timestamp,
			s.ImageRef,
			Cell(s.FlatText),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
