package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/export"
	"github.com/star/orbitlab/internal/session"
)

func analyzeCmd(g *globals) *cobra.Command {
	var (
		hours     float64
		samples   int
		threshold float64
		out       string
		format    string
		plot      bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <body-a> <body-b>",
		Short: "find the closest approach between two bodies",
		Long: "Samples the separation of two registered bodies from the epoch and reports\n" +
			"the minimum distance, its time and the risk classification.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := g.newSession(g.logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			res, err := sess.AnalyzeSync(ctx, session.AnalysisParams{
				A:             args[0],
				B:             args[1],
				DurationHours: hours,
				SampleCount:   samples,
				ThresholdKm:   threshold,
			})
			if err != nil {
				return err
			}

			if out != "" {
				if err := export.WriteResultFile(out, res); err != nil {
					return err
				}
				g.logger.Info("result written", "path", out)
			}
			return printResult(cmd.OutOrStdout(), res, format, plot)
		},
	}

	cmd.Flags().Float64Var(&hours, "hours", 0, "analysis window in hours (default from config)")
	cmd.Flags().IntVar(&samples, "samples", 0, "number of samples (default from config)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "risk threshold in km (default from config)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the full result to a .json, .yaml or .csv file")
	cmd.Flags().StringVar(&format, "format", "text", "stdout format: text, json, yaml, csv")
	cmd.Flags().BoolVar(&plot, "plot", true, "draw the separation curve (text format only)")
	return cmd
}

func printResult(w io.Writer, res *conjunction.Result, format string, plot bool) error {
	if format != "text" {
		f, err := export.ParseFormat(format)
		if err != nil {
			return err
		}
		return export.WriteResult(w, f, res)
	}

	fmt.Fprintf(w, "%s vs %s\n\n", res.BodyA, res.BodyB)
	fmt.Fprintf(w, "  closest approach  %.3f km\n", res.MinDistanceKm)
	fmt.Fprintf(w, "  time              %s (t=%.1fs)\n", res.TimeOfClosestApproach.Format("2006-01-02 15:04:05Z07:00"), res.TCASimulatedTime)
	fmt.Fprintf(w, "  relative velocity %.3f km/s (%s)\n", res.RelativeVelocityKmS, res.VelocitySource)
	fmt.Fprintf(w, "  risk              %s (threshold %.1f km)\n", res.RiskLevel, res.ThresholdKm)

	if plot && len(res.SeparationsKm) > 1 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, asciigraph.Plot(downsample(res.SeparationsKm, 120),
			asciigraph.Height(12),
			asciigraph.Caption("separation (km)"),
		))
	}
	return nil
}

// downsample keeps the minimum of each bucket so the closest approach
// survives in the plot.
func downsample(data []float64, width int) []float64 {
	if len(data) <= width {
		return data
	}
	out := make([]float64, width)
	for i := range out {
		lo := i * len(data) / width
		hi := (i + 1) * len(data) / width
		m := data[lo]
		for _, v := range data[lo+1 : hi] {
			m = min(m, v)
		}
		out[i] = m
	}
	return out
}
