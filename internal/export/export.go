// Package export writes session snapshots and conjunction results as JSON,
// YAML or CSV.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/star/orbitlab/internal/conjunction"
	"github.com/star/orbitlab/internal/session"
	"github.com/star/orbitlab/internal/simerr"
)

type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
	CSV  Format = "csv"
)

// ParseFormat accepts json, yaml/yml and csv, case-insensitively. An empty
// string means JSON.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "csv":
		return CSV, nil
	}
	return "", simerr.InvalidParameter("export.ParseFormat", "unknown format %q", s)
}

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
}

func (f Format) ContentType() string {
	switch f {
	case YAML:
		return "application/yaml"
	case CSV:
		return "text/csv"
	default:
		return "application/json"
	}
}

func (f Format) Extension() string {
	return "." + string(f)
}

// WriteSnapshot encodes a session snapshot. The CSV form has one row per
// body.
func WriteSnapshot(w io.Writer, f Format, snap session.Snapshot) error {
	switch f {
	case CSV:
		return snapshotCSV(w, snap)
	default:
		return encode(w, f, snap)
	}
}

// WriteResult encodes a conjunction result. The CSV form is the sampled
// separation series.
func WriteResult(w io.Writer, f Format, res *conjunction.Result) error {
	if res == nil {
		return simerr.InvalidParameter("export.WriteResult", "no result")
	}
	switch f {
	case CSV:
		return resultCSV(w, res)
	default:
		return encode(w, f, res)
	}
}

// WriteResultFile writes a result to path, choosing the format from the
// extension.
func WriteResultFile(path string, res *conjunction.Result) error {
	f, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteResult(file, f, res); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Filename suggests a download name for a snapshot.
func Filename(snap session.Snapshot, f Format) string {
	return fmt.Sprintf("orbitlab-%s-%d%s", snap.SessionID, int64(snap.Clock.SimulatedTime), f.Extension())
}

func encode(w io.Writer, f Format, v any) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return simerr.InvalidParameter("export.encode", "unknown format %q", f)
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func snapshotCSV(w io.Writer, snap session.Snapshot) error {
	cw := csv.NewWriter(w)
	header := []string{
		"id", "kind", "color", "selected",
		"x_km", "y_km", "z_km", "position_time",
		"lat_deg", "lon_deg", "alt_km",
		"velocity_km_s", "period_min", "radius_km",
		"trail_points", "last_error",
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, b := range snap.Bodies {
		row := []string{
			b.Config.ID, string(b.Config.Kind), b.Config.ColorTag, strconv.FormatBool(b.Selected),
			ftoa(b.Position.X), ftoa(b.Position.Y), ftoa(b.Position.Z), ftoa(b.PositionTime),
			ftoa(b.SubPoint.LatDeg), ftoa(b.SubPoint.LonDeg), ftoa(b.SubPoint.AltKm),
			ftoa(b.Derived.VelocityKmS), ftoa(b.Derived.PeriodMin), ftoa(b.Derived.RadiusFromCenterKm),
			strconv.Itoa(len(b.Trail)), b.LastError,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func resultCSV(w io.Writer, res *conjunction.Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"sample", "time", "separation_km", "body_a", "body_b"}); err != nil {
		return err
	}
	for i, d := range res.SeparationsKm {
		var ts string
		if i < len(res.SampledAt) {
			ts = res.SampledAt[i].UTC().Format(time.RFC3339Nano)
		}
		if err := cw.Write([]string{strconv.Itoa(i), ts, ftoa(d), res.BodyA, res.BodyB}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
