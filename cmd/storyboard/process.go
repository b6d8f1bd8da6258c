package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-storyboard/internal/catalog"
	"github.com/heimdex/heimdex-storyboard/internal/events"
	"github.com/heimdex/heimdex-storyboard/internal/export"
	"github.com/heimdex/heimdex-storyboard/internal/metrics"
	"github.com/heimdex/heimdex-storyboard/internal/pipeline"
	"github.com/heimdex/heimdex-storyboard/internal/storyboard"
	"github.com/heimdex/heimdex-storyboard/internal/transcript"
	"github.com/heimdex/heimdex-storyboard/internal/workspace"
)

type processOptions struct {
	out      string
	language string
	format   string
	zip      bool
	gallery  bool
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var opts processOptions

	cmd := &cobra.Command{
		Use:   "process <video>",
		Short: "Build a storyboard for one video without starting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			video, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			if err := checkVideo(video); err != nil {
				return err
			}

			format, err := resolveFormat(opts.format, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			lang := opts.language
			if !cmd.Flags().Changed("language") {
				lang = cfg.Transcription().Language
			}
			if lang, err = transcript.ParseLanguage(lang); err != nil {
				return err
			}

			out := opts.out
			if out == "" {
				out = defaultOutDir(video)
			}
			if err := checkOutDir(out); err != nil {
				return err
			}
			ws, err := workspace.Open(out)
			if err != nil {
				return err
			}
			if ws.Contains(video) {
				return fmt.Errorf("%w: choose an --out directory that does not hold %s", workspace.ErrHoldsInput, filepath.Base(video))
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			st, err := newStack(runCtx, cfg, logger, metrics.New(), events.Nop{})
			if err != nil {
				return err
			}
			defer st.Close()

			runID := catalog.NewID()
			result, err := st.processor.Process(runCtx, ws, pipeline.Input{
				RunID:    runID,
				VideoID:  runID,
				Path:     video,
				Language: lang,
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				return fmt.Errorf("storyboard failed: %w", err)
			}

			written, err := writeArtifacts(ws, result, opts)
			if err != nil {
				return err
			}
			if err := writeResult(cmd.OutOrStdout(), result, format); err != nil {
				return err
			}
			for _, path := range written {
				fmt.Fprintln(cmd.ErrOrStderr(), "wrote", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "Output directory for keyframes and exports (default <video>_storyboard next to the video)")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Spoken language hint, e.g. en or ko; empty or auto detects")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Stdout format: table, tsv, csv or json (default table on a terminal, tsv otherwise)")
	cmd.Flags().BoolVar(&opts.zip, "zip", false, "Also write a ZIP bundle of keyframes and exports")
	cmd.Flags().BoolVar(&opts.gallery, "gallery", false, "Also write a self-contained HTML gallery")

	return cmd
}

func checkVideo(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", catalog.ErrVideoNotFound, path)
		}
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s", catalog.ErrNotAFile, path)
	}
	if !catalog.IsVideoFile(path) {
		return fmt.Errorf("%w: %s", catalog.ErrUnsupportedVideo, filepath.Ext(path))
	}
	return nil
}

func defaultOutDir(video string) string {
	base := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))
	return filepath.Join(filepath.Dir(video), base+"_storyboard")
}

// checkOutDir refuses to reuse a non-empty directory that is not a previous
// storyboard output, since processing clears it.
func checkOutDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if e.IsDir() && e.Name() == "frames" {
			return nil
		}
	}
	return fmt.Errorf("refusing to clear %s: directory is not empty and holds no previous storyboard", dir)
}

// writeArtifacts saves exports under the workspace and returns their paths.
func writeArtifacts(ws *workspace.Workspace, result *storyboard.Result, opts processOptions) ([]string, error) {
	type artifact struct {
		name  string
		write func(io.Writer) error
	}
	artifacts := []artifact{
		{"storyboard.tsv", func(w io.Writer) error { return export.WriteTSV(w, result.Scenes) }},
		{"storyboard.csv", func(w io.Writer) error { return export.WriteCSV(w, result.Scenes) }},
	}
	if opts.zip {
		artifacts = append(artifacts, artifact{"storyboard.zip", func(w io.Writer) error {
			return export.WriteZIP(w, result, ws.Root())
		}})
	}
	if opts.gallery {
		artifacts = append(artifacts, artifact{"gallery.html", func(w io.Writer) error {
			return export.WriteGallery(w, result, ws.Root(), nil)
		}})
	}

	var written []string
	for _, a := range artifacts {
		var buf bytes.Buffer
		if err := a.write(&buf); err != nil {
			return written, fmt.Errorf("write %s: %w", a.name, err)
		}
		path := filepath.Join(ws.ExportsDir(), a.name)
		if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", a.name, err)
		}
		written = append(written, path)
	}
	return written, nil
}
