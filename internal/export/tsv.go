package export

import (
	"bufio"
	"io"
	"strings"

	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

var cellReplacer = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", "")

// Cell makes s safe for one tab-separated cell.
func Cell(s string) string {
	return cellReplacer.Replace(s)
}

// WriteTSV writes three rows with one column per scene: timestamps, image
// references and flattened text.
func WriteTSV(w io.Writer, scenes []storyboard.SceneResult) error {
	times := make([]string, len(scenes))
	images := make([]string, len(scenes))
	texts := make([]string, len(scenes))
	for i, s := range scenes {
		times[i] = Cell(s.Timestamp)
		images[i] = Cell(s.ImageRef)
		texts[i] = Cell(s.FlatText)
	}

	bw := bufio.NewWriter(w)
	for _, row := range [][]string{times, images, texts} {
		bw.WriteString(strings.Join(row, "\t"))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
