// Package manifest parses and writes the entry-manifest XML consumed by
// LOAD/ADD_BACK/ADD_FRONT/INSERT (§6) and turns parsed entries into queue
// entities, in the teacher's encoding/xml style (internal/media/feed.go).
package manifest

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// Telescope identifies which of the two supported telescopes a manifest
// (or a loaded entry) belongs to.
type Telescope string

const (
	JCMT  Telescope = "JCMT"
	UKIRT Telescope = "UKIRT"
)

// document is the on-disk XML shape: <QueueEntries telescope="..."><Entry .../>...</QueueEntries>.
type document struct {
	XMLName  xml.Name        `xml:"QueueEntries"`
	Telescope string         `xml:"telescope,attr"`
	Entries  []documentEntry `xml:"Entry"`
}

type documentEntry struct {
	TotalDuration int    `xml:"totalDuration,attr"`
	Instrument    string `xml:"instrument,attr"`
	Path          string `xml:",chardata"`
}

// Entry is one parsed manifest line: a dispatchable file reference plus
// the metadata the XML carries about it.
type Entry struct {
	TotalDuration time.Duration
	Instrument    string
	Path          string
}

// Manifest is the parsed form of an entry-manifest XML document.
type Manifest struct {
	Telescope Telescope
	Entries   []Entry
}

// Parse reads a manifest document from r. It rejects a root telescope
// attribute outside {JCMT, UKIRT}.
func Parse(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("manifest: read: %w", err)
	}

	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest: parse XML: %w", err)
	}

	telescope := Telescope(doc.Telescope)
	switch telescope {
	case JCMT, UKIRT:
	default:
		return nil, fmt.Errorf("manifest: unrecognized telescope %q (want JCMT or UKIRT)", doc.Telescope)
	}

	m := &Manifest{Telescope: telescope}
	for _, de := range doc.Entries {
		path := strings.TrimSpace(de.Path)
		if path == "" {
			return nil, fmt.Errorf("manifest: entry with instrument %q has no file path", de.Instrument)
		}
		if de.TotalDuration < 0 {
			return nil, fmt.Errorf("manifest: entry %s has negative totalDuration %d", path, de.TotalDuration)
		}
		m.Entries = append(m.Entries, Entry{
			TotalDuration: time.Duration(de.TotalDuration) * time.Second,
			Instrument:    de.Instrument,
			Path:          path,
		})
	}
	return m, nil
}

// ParseFile opens and parses a manifest file from disk.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("manifest: open %s: %w", path, err)
	}
	defer f.Close()
	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("manifest: %s: %w", path, err)
	}
	return m, nil
}

// Write serializes m to w in the §6 shape.
func Write(w io.Writer, m *Manifest) error {
	doc := document{Telescope: string(m.Telescope)}
	for _, e := range m.Entries {
		doc.Entries = append(doc.Entries, documentEntry{
			TotalDuration: int(e.TotalDuration / time.Second),
			Instrument:    e.Instrument,
			Path:          e.Path,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return fmt.Errorf("manifest: write header: %w", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	_, err := io.WriteString(w, "\n")
	return err
}

// WriteFile writes m into dir under a timestamped filename
// (qentries_<sec>_<ms>.xml per §6) and returns the path written.
func WriteFile(dir string, m *Manifest, now time.Time) (string, error) {
	name := fmt.Sprintf("qentries_%d_%d.xml", now.Unix(), now.Nanosecond()/1e6)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("manifest: create %s: %w", path, err)
	}
	defer f.Close()

	if err := Write(f, m); err != nil {
		return "", fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return path, nil
}

// EntryMeta carries the MSB-level metadata the manifest XML itself does not
// encode (LOAD's structured argument supplies it alongside the manifest
// filename per §4.4's "group them as one MSB unless iscal" wording).
type EntryMeta struct {
	ProjectID string
	MSBID     string
	MSBTitle  string
	ObsMode   string
	Waveband  string
	Cal       bool
	GenericCal bool
}

// BuildEntries turns the parsed manifest into queue.Entry values, one per
// manifest line, selecting InstrumentSequenceEntity for JCMT and
// ConfigurationEntity for UKIRT. expectTelescope must equal m.Telescope —
// the parser-level reject of a mismatched per-entry telescope (§6) is
// enforced here since the manifest format carries telescope only at the
// document root, not per entry.
func (m *Manifest) BuildEntries(expectTelescope Telescope, meta EntryMeta) ([]*queue.Entry, error) {
	if m.Telescope != expectTelescope {
		return nil, fmt.Errorf("manifest: document telescope %q disagrees with server telescope %q", m.Telescope, expectTelescope)
	}

	entries := make([]*queue.Entry, 0, len(m.Entries))
	for i, me := range m.Entries {
		label := entryLabel(me.Path, i)
		params := queue.EntityParams{
			Telescope:     string(m.Telescope),
			Instrument:    me.Instrument,
			ObsMode:       meta.ObsMode,
			ProjectID:     meta.ProjectID,
			MSBID:         meta.MSBID,
			MSBTitle:      meta.MSBTitle,
			ObsLabel:      label,
			Waveband:      meta.Waveband,
			Duration:      me.TotalDuration,
			Cal:           meta.Cal,
			GenericCal:    meta.GenericCal,
			MissingTarget: true,
		}

		var entity queue.Entity
		switch m.Telescope {
		case JCMT:
			entity = queue.NewInstrumentSequenceEntity(params, me.Path)
		case UKIRT:
			entity = queue.NewConfigurationEntity(params, me.Path)
		}

		entries = append(entries, queue.NewEntry(label, entity))
	}
	return entries, nil
}

// entryLabel derives a human-readable entry label from its manifest path,
// disambiguated by position when two entries share a basename.
func entryLabel(path string, index int) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		base = fmt.Sprintf("entry-%d", index)
	}
	return base
}
