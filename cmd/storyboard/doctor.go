package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heimdex/heimdex-storyboard/internal/config"
	"github.com/heimdex/heimdex-storyboard/internal/events"
	"github.com/heimdex/heimdex-storyboard/internal/metrics"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check ffmpeg, detectors and transcription backends",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			st, err := newStack(cmd.Context(), cfg, logger, metrics.New(), events.Nop{})
			if err != nil {
				return err
			}
			defer st.Close()

			checkCtx, cancel := context.WithTimeout(cmd.Context(), doctorTimeout(cfg))
			defer cancel()
			return writeDoctor(cmd.OutOrStdout(), doctorRows(checkCtx, cfg, st))
		},
	}
}

func doctorRows(ctx context.Context, cfg config.Config, st *stack) [][]string {
	rows := [][]string{
		{"Config", cfg.Source()},
		{"FFmpeg", st.ffmpeg.Version(ctx)},
		{"FFmpeg usable", yesNo(st.ffmpeg.Available(ctx) == nil)},
		{"Python pipelines", yesNo(st.pyRunner != nil)},
	}

	if st.doctor != nil {
		if caps, err := st.doctor.Get(ctx); err != nil {
			rows = append(rows, []string{"Pipeline probe", "failed: " + err.Error()})
		} else {
			rows = append(rows,
				[]string{"Python", caps.Python.Version},
				[]string{"Scene detection (python)", yesNo(caps.HasScenes)},
				[]string{"Speech (python)", yesNo(caps.HasSpeech)},
				[]string{"Dependencies", fmt.Sprintf("%d/%d", caps.Summary.Available, caps.Summary.Total)},
			)
		}
	}

	rows = append(rows, []string{"Detectors", strings.Join(st.resolver.Detectors(), " -> ")})

	transcriber := "none"
	ready := "n/a"
	if st.transcriber != nil {
		transcriber = st.transcriber.Name()
		if err := st.transcriber.Available(ctx); err != nil {
			ready = "no: " + err.Error()
		} else {
			ready = "yes"
		}
	}
	rows = append(rows,
		[]string{"Transcriber", transcriber},
		[]string{"Transcriber ready", ready},
		[]string{"Workspace", cfg.WorkspaceDir()},
	)
	return rows
}

func writeDoctor(w io.Writer, rows [][]string) error {
	_, err := fmt.Fprintln(w, renderTable([]string{"Check", "Result"}, rows, nil))
	return err
}
