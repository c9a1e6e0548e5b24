// Command orbitlab runs the orbital simulation as an HTTP service, a
// terminal viewer, or one-shot analysis commands.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orbitlab/internal/config"
	"github.com/star/orbitlab/internal/session"
)

type globals struct {
	configPath string
	logLevel   string
	epoch      string
	track      []string

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := newRootCmd(&globals{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(g *globals) *cobra.Command {
	root := &cobra.Command{
		Use:           "orbitlab",
		Short:         "orbital simulation and conjunction analysis lab",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.load(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "config file path (yaml)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&g.epoch, "epoch", "", "simulation epoch (RFC 3339), default now")
	root.PersistentFlags().StringSliceVar(&g.track, "track", nil, "also register cached catalog entries by name or NORAD id")

	root.AddCommand(
		serveCmd(g),
		watchCmd(g),
		analyzeCmd(g),
		deriveCmd(g),
		passesCmd(g),
		tleCmd(g),
		configCmd(g),
	)
	return root
}

// load reads the config file, applies environment overrides and flags, and
// builds the logger. Logs go to w until a command swaps the logger.
func (g *globals) load(w io.Writer) error {
	cfg := config.DefaultConfig()
	if g.configPath != "" {
		c, err := config.Load(g.configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	cfg.ApplyEnv(newLogger(w, cfg.LogLevel))
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	g.logger = newLogger(w, cfg.LogLevel)

	if g.epoch != "" {
		t, err := time.Parse(time.RFC3339, g.epoch)
		if err != nil {
			return fmt.Errorf("--epoch: %w", err)
		}
		cfg.Simulation.Epoch = t.UTC()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	g.cfg = cfg
	return nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: config.ParseLevel(level),
	}))
}

// defaultBodies are registered when the config names none.
var defaultBodies = []string{"iss", "hubble", "tiangong", "gps-iif"}

// newSession creates a session and registers the configured bodies plus
// any --track entries.
func (g *globals) newSession(logger *slog.Logger) (*session.Session, error) {
	sess := session.New(session.OptionsFromConfig(g.cfg), logger)
	if err := g.registerBodies(sess); err != nil {
		sess.Close()
		return nil, err
	}
	if err := g.registerTracked(sess); err != nil {
		sess.Close()
		return nil, err
	}
	return sess, nil
}

func (g *globals) registerBodies(sess *session.Session) error {
	if len(g.cfg.Bodies) == 0 {
		for _, name := range defaultBodies {
			if _, err := sess.RegisterPreset(name, ""); err != nil {
				return err
			}
		}
		return nil
	}
	for i, spec := range g.cfg.Bodies {
		cfg, err := spec.Resolve()
		if err != nil {
			return fmt.Errorf("bodies[%d]: %w", i, err)
		}
		if _, err := sess.Register(cfg); err != nil {
			return fmt.Errorf("bodies[%d]: %w", i, err)
		}
	}
	return nil
}
