package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/orbitlab/internal/session"
	"github.com/star/orbitlab/internal/tle"
)

func tleCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tle",
		Short: "manage the cached TLE catalog",
	}
	cmd.AddCommand(tleFetchCmd(g), tleShowCmd(g))
	return cmd
}

func tleFetchCmd(g *globals) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "fetch [group...]",
		Short: "download TLE groups into the cache",
		Long: "Downloads each group into the cache directory. With --out the groups are\n" +
			"concatenated into a single file instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := args
			if len(groups) == 0 {
				groups = []string{g.cfg.TLE.Group}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			fetcher := tle.NewFetcher(g.cfg.TLE.BaseURL, g.logger)
			if out != "" {
				data, err := fetcher.FetchGroups(ctx, groups...)
				if err != nil {
					return err
				}
				entries, err := tle.Parse(bytes.NewReader(data), g.logger)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(entries), out)
				return nil
			}

			store := tle.NewStore(fetcher, tle.NewCache(g.cfg.TLE.CacheDir, g.cfg.TLE.MaxFiles), g.logger)
			for _, group := range groups {
				ds, err := store.Refresh(ctx, group)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d entries, epochs %s to %s\n",
					ds.Group, len(ds.Entries),
					ds.EpochRange.Min.Format(time.DateOnly), ds.EpochRange.Max.Format(time.DateOnly))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the combined download to this file")
	return cmd
}

func tleShowCmd(g *globals) *cobra.Command {
	var group string

	cmd := &cobra.Command{
		Use:   "show [query]",
		Short: "list cached entries, or show one by name or NORAD id",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if group == "" {
				group = g.cfg.TLE.Group
			}
			store := tle.NewStore(nil, tle.NewCache(g.cfg.TLE.CacheDir, g.cfg.TLE.MaxFiles), g.logger)
			ds, err := store.LoadCached(group)
			if err != nil {
				return fmt.Errorf("group %s: %w (run tle fetch first)", group, err)
			}

			if len(args) == 1 {
				e, err := store.Lookup(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s\n%s\n\nid %s, epoch %s\n",
					e.Name, e.Line1, e.Line2, e.BodyID(), e.Epoch.Format(time.RFC3339))
				return nil
			}
			return printEntries(cmd.OutOrStdout(), ds)
		},
	}
	cmd.Flags().StringVar(&group, "group", "", "catalog group (default from config)")
	return cmd
}

func printEntries(out io.Writer, ds *tle.Dataset) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "# %s, fetched %s\n", ds.Group, ds.FetchedAt.Format(time.RFC3339))
	fmt.Fprintln(w, "NORAD\tNAME\tBODY ID\tEPOCH")
	for _, e := range ds.Entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", e.NORADID, e.Name, e.BodyID(), e.Epoch.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

// registerTracked adds cached catalog entries named by --track to sess.
func (g *globals) registerTracked(sess *session.Session) error {
	if len(g.track) == 0 {
		return nil
	}
	store := tle.NewStore(nil, tle.NewCache(g.cfg.TLE.CacheDir, g.cfg.TLE.MaxFiles), g.logger)
	if _, err := store.LoadCached(g.cfg.TLE.Group); err != nil {
		return fmt.Errorf("--track needs a cached %s catalog: %w", g.cfg.TLE.Group, err)
	}
	for _, q := range g.track {
		e, err := store.Lookup(q)
		if err != nil {
			return err
		}
		if _, err := sess.Register(e.Config("", "")); err != nil {
			return err
		}
	}
	return nil
}
