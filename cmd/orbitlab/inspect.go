package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orbitlab/internal/config"
	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/passes"
	"github.com/star/orbitlab/internal/registry"
	"github.com/star/orbitlab/internal/transform"
	"github.com/star/orbitlab/internal/tui"
)

func watchCmd(g *globals) *cobra.Command {
	var (
		paused  bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "run the simulation in an interactive terminal view",
		RunE: func(cmd *cobra.Command, args []string) error {
			// The alternate screen owns stdout, so logs go to a file or nowhere.
			var w io.Writer = io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			logger := newLogger(w, g.cfg.LogLevel)

			sess, err := g.newSession(logger)
			if err != nil {
				return err
			}
			defer sess.Close()
			if !paused {
				sess.Play()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()
			return tui.Run(ctx, sess, g.cfg.TickInterval())
		},
	}
	cmd.Flags().BoolVar(&paused, "paused", false, "start with the clock paused")
	cmd.Flags().StringVar(&logFile, "log-file", "", "append logs to this file")
	return cmd
}

func deriveCmd(g *globals) *cobra.Command {
	var altitudes []float64

	cmd := &cobra.Command{
		Use:   "derive [body-id...]",
		Short: "print derived orbital parameters",
		Long: "Prints velocity, period and radius for the configured bodies, or for\n" +
			"ad-hoc circular orbits given with --altitude.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := g.newSession(g.logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			for i, alt := range altitudes {
				id := fmt.Sprintf("alt-%d", i+1)
				if _, err := sess.Register(orbit.NewCircular(id, alt, "")); err != nil {
					return err
				}
				args = append(args, id)
			}

			var bodies []registry.Body
			if len(args) == 0 {
				bodies = sess.Bodies()
			} else {
				for _, id := range args {
					b, err := sess.Get(id)
					if err != nil {
						return err
					}
					bodies = append(bodies, b)
				}
			}
			return printDerived(cmd.OutOrStdout(), bodies, g.cfg.Model.EarthRadiusKm)
		},
	}
	cmd.Flags().Float64SliceVar(&altitudes, "altitude", nil, "derive a circular orbit at this altitude in km (repeatable)")
	return cmd
}

func printDerived(out io.Writer, bodies []registry.Body, earthRadiusKm float64) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tVELOCITY\tPERIOD\tRADIUS\tALTITUDE")
	for _, b := range bodies {
		fmt.Fprintf(w, "%s\t%s\t%.3f km/s\t%.2f min\t%.1f km\t%.1f km\n",
			b.Config.ID,
			b.Config.Kind,
			b.Derived.VelocityKmS,
			b.Derived.PeriodMin,
			b.Derived.RadiusFromCenterKm,
			b.Derived.RadiusFromCenterKm-earthRadiusKm,
		)
	}
	return w.Flush()
}

func passesCmd(g *globals) *cobra.Command {
	var (
		obs       transform.Geodetic
		start     string
		hours     float64
		minEl     float64
		maxPasses int
	)

	cmd := &cobra.Command{
		Use:   "passes [body-id...]",
		Short: "predict passes over a ground observer",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := g.newSession(g.logger)
			if err != nil {
				return err
			}
			defer sess.Close()

			req := passes.Request{
				Observer:     transform.NewObserver(obs.LatDeg, obs.LonDeg, obs.AltKm),
				Epoch:        sess.Epoch(),
				Start:        sess.Epoch(),
				HorizonHours: hours,
				MinElevation: minEl,
				MaxPasses:    maxPasses,
			}
			if start != "" {
				t, err := time.Parse(time.RFC3339, start)
				if err != nil {
					return fmt.Errorf("--start: %w", err)
				}
				req.Start = t.UTC()
			}

			var bodies []registry.Body
			if len(args) == 0 {
				bodies = sess.Bodies()
			} else {
				for _, id := range args {
					b, err := sess.Get(id)
					if err != nil {
						return err
					}
					bodies = append(bodies, b)
				}
			}
			for _, b := range bodies {
				req.Targets = append(req.Targets, passes.Target{Config: b.Config, Derived: b.Derived})
			}
			if err := req.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return printPasses(cmd.OutOrStdout(), passes.Predict(ctx, sess.Model(), req))
		},
	}

	cmd.Flags().Float64Var(&obs.LatDeg, "lat", 0, "observer latitude in degrees")
	cmd.Flags().Float64Var(&obs.LonDeg, "lon", 0, "observer longitude in degrees")
	cmd.Flags().Float64Var(&obs.AltKm, "alt", 0, "observer altitude in km")
	cmd.Flags().StringVar(&start, "start", "", "window start (RFC 3339), default the epoch")
	cmd.Flags().Float64Var(&hours, "hours", 24, "prediction horizon in hours")
	cmd.Flags().Float64Var(&minEl, "min-elevation", 10, "minimum elevation in degrees")
	cmd.Flags().IntVar(&maxPasses, "max", 10, "maximum passes per body")
	return cmd
}

func printPasses(out io.Writer, results []passes.BodyPasses) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRISE\tMAX EL\tAZ\tSET\tDURATION")
	for _, bp := range results {
		if bp.Error != "" {
			fmt.Fprintf(w, "%s\terror: %s\t\t\t\t\n", bp.ID, bp.Error)
			continue
		}
		if len(bp.Passes) == 0 {
			fmt.Fprintf(w, "%s\tno passes\t\t\t\t\n", bp.ID)
			continue
		}
		for _, p := range bp.Passes {
			fmt.Fprintf(w, "%s\t%s\t%.1f°\t%.0f°\t%s\t%s\n",
				bp.ID,
				p.StartTime.Format("2006-01-02 15:04:05"),
				p.MaxElevation,
				p.AzimuthAtMax,
				p.EndTime.Format("15:04:05"),
				time.Duration(p.DurationSeconds*float64(time.Second)).Round(time.Second),
			)
		}
	}
	return w.Flush()
}

func configCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "inspect or write configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "write the effective configuration to a yaml file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(args[0]); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to overwrite", args[0])
			}
			if err := config.Save(args[0], g.cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "wrote", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list the built-in bodies",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tKIND\tDESCRIPTION")
			for _, p := range config.Presets() {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, p.Config.Kind, p.Description)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(initCmd, presetsCmd)
	return cmd
}
