// Package tle loads NORAD two-line element sets: it parses the 3-line
// format, fetches CelesTrak groups, keeps an on-disk cache of raw
// downloads and holds the current catalog in memory.
package tle

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/star/orbitlab/internal/orbit"
	"github.com/star/orbitlab/internal/simerr"
)

// Entry is a single object's element set.
type Entry struct {
	NORADID int       `json:"norad_id"`
	Name    string    `json:"name"`
	Epoch   time.Time `json:"epoch"`
	Line1   string    `json:"line1"`
	Line2   string    `json:"line2"`
}

// EpochRange is the oldest and newest element epoch in a dataset.
type EpochRange struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Dataset is one parsed group download.
type Dataset struct {
	Group      string     `json:"group"`
	Source     string     `json:"source"`
	FetchedAt  time.Time  `json:"fetched_at"`
	EpochRange EpochRange `json:"epoch_range"`
	Entries    []Entry    `json:"entries"`
}

var groupPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidateGroup rejects group names that are not safe to put in a URL
// query or a cache filename.
func ValidateGroup(group string) error {
	if !groupPattern.MatchString(group) {
		return simerr.InvalidParameter("tle.ValidateGroup", "invalid group %q", group)
	}
	return nil
}

// NewDataset builds a dataset and computes its epoch range.
func NewDataset(group, source string, fetchedAt time.Time, entries []Entry) *Dataset {
	ds := &Dataset{Group: group, Source: source, FetchedAt: fetchedAt, Entries: entries}
	for i, e := range entries {
		if i == 0 || e.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e.Epoch
		}
		if i == 0 || e.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e.Epoch
		}
	}
	return ds
}

// Find looks an entry up by NORAD catalog number or, failing that, by
// case-insensitive name.
func (d *Dataset) Find(query string) (Entry, bool) {
	q := strings.TrimSpace(query)
	for _, e := range d.Entries {
		if fmt.Sprint(e.NORADID) == q {
			return e, true
		}
	}
	for _, e := range d.Entries {
		if strings.EqualFold(e.Name, q) {
			return e, true
		}
	}
	return Entry{}, false
}

// BodyID derives a registry id from the entry name, e.g. "ISS (ZARYA)"
// becomes "iss-zarya". Entries without a usable name fall back to
// "norad-<id>".
func (e Entry) BodyID() string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(e.Name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	id := strings.TrimSuffix(b.String(), "-")
	if id == "" {
		return fmt.Sprintf("norad-%d", e.NORADID)
	}
	return id
}

// Config converts the entry into a tle body. An empty id uses BodyID.
func (e Entry) Config(id, color string) orbit.Config {
	if id == "" {
		id = e.BodyID()
	}
	return orbit.NewTLE(id, e.Name, e.Line1, e.Line2, color)
}
