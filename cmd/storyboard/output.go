package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/heimdex/heimdex-storyboard/internal/export"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
)

const (
	outputTable = "table"
	outputTSV   = "tsv"
	outputCSV   = "csv"
	outputJSON  = "json"
)

// resolveFormat picks the stdout format: tables for people, TSV for pipes.
func resolveFormat(requested string, w io.Writer) (string, error) {
	switch requested = strings.ToLower(strings.TrimSpace(requested)); requested {
	case "":
		if isTerminal(w) {
			return outputTable, nil
		}
		return outputTSV, nil
	case outputTable, outputTSV, outputCSV, outputJSON:
		return requested, nil
	}
	return "", fmt.Errorf("unknown format %q (want table, tsv, csv or json)", requested)
}

func writeResult(w io.Writer, result *storyboard.Result, format string) error {
	switch format {
	case outputTSV:
		return export.WriteTSV(w, result.Scenes)
	case outputCSV:
		return export.WriteCSV(w, result.Scenes)
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case outputTable:
		_, err := fmt.Fprintln(w, sceneTable(result))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, summaryLine(result))
		return err
	}
	return fmt.Errorf("unknown format %q", format)
}

func sceneTable(result *storyboard.Result) string {
	rows := make([][]string, 0, len(result.Scenes))
	for _, s := range result.Scenes {
		image := s.ImageRef
		if image == "" {
			image = "-"
		}
		rows = append(rows, []string{
			strconv.Itoa(s.Index + 1),
			s.TimeRange,
			image,
			s.DisplayText,
		})
	}
	return renderTable(
		[]string{"#", "Time", "Keyframe", "Transcript"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
	)
}

func summaryLine(result *storyboard.Result) string {
	detector := result.Detector
	if result.FellBack {
		detector += " (fallback)"
	}
	line := fmt.Sprintf("%d scenes, detector %s, transcriber %s, %d segments",
		len(result.Scenes), detector, result.Transcriber, result.SegmentCount)
	if result.Orphans > 0 {
		line += fmt.Sprintf(", %d orphaned", result.Orphans)
	}
	if result.MissingFrames > 0 {
		line += fmt.Sprintf(", %d without keyframe", result.MissingFrames)
	}
	return line
}
