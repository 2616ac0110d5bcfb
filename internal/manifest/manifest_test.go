package manifest

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

const sampleJCMT = `<?xml version="1.0" encoding="ISO-8859-1"?>
<QueueEntries telescope="JCMT">
  <Entry totalDuration="456" instrument="ACSIS">/path/conf.xml</Entry>
  <Entry totalDuration="120" instrument="ACSIS">/path/cal.xml</Entry>
</QueueEntries>
`

func TestParseJCMTManifest(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleJCMT))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Telescope != JCMT {
		t.Fatalf("expected JCMT, got %s", m.Telescope)
	}
	if len(m.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(m.Entries))
	}
	if m.Entries[0].TotalDuration != 456*time.Second {
		t.Fatalf("unexpected duration: %v", m.Entries[0].TotalDuration)
	}
	if m.Entries[0].Path != "/path/conf.xml" {
		t.Fatalf("unexpected path: %q", m.Entries[0].Path)
	}
}

func TestParseRejectsBadTelescope(t *testing.T) {
	doc := `<QueueEntries telescope="VLT"><Entry totalDuration="1" instrument="X">/a</Entry></QueueEntries>`
	if _, err := Parse(strings.NewReader(doc)); err == nil {
		t.Fatal("expected an error for an unrecognized telescope")
	}
}

func TestBuildEntriesRejectsTelescopeMismatch(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleJCMT))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := m.BuildEntries(UKIRT, EntryMeta{}); err == nil {
		t.Fatal("expected a telescope mismatch error")
	}
}

func TestBuildEntriesProducesInstrumentSequenceEntities(t *testing.T) {
	m, err := Parse(strings.NewReader(sampleJCMT))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	entries, err := m.BuildEntries(JCMT, EntryMeta{ProjectID: "M01", MSBID: "msb-1", MSBTitle: "title"})
	if err != nil {
		t.Fatalf("BuildEntries: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Entity.Kind() != "instrument-sequence" {
		t.Fatalf("expected an instrument-sequence entity, got %v", entries[0].Entity.Kind())
	}
	if entries[0].Entity.ProjectID() != "M01" || entries[0].Entity.MSBID() != "msb-1" {
		t.Fatalf("MSB metadata not applied: %+v", entries[0])
	}
	if !entries[0].Entity.IsMissingTarget() {
		t.Fatal("expected a freshly-loaded entry to need a target fixup")
	}
}

func TestWriteThenParseRoundTrips(t *testing.T) {
	m := &Manifest{
		Telescope: UKIRT,
		Entries: []Entry{
			{TotalDuration: 30 * time.Second, Instrument: "UFTI", Path: "/cfg/a.xml"},
		},
	}
	var buf bytes.Buffer
	if err := Write(&buf, m); err != nil {
		t.Fatalf("Write: %v", err)
	}

	parsed, err := Parse(&buf)
	if err != nil {
		t.Fatalf("Parse round-trip: %v", err)
	}
	if parsed.Telescope != UKIRT {
		t.Fatalf("telescope did not round-trip: %s", parsed.Telescope)
	}
	if len(parsed.Entries) != 1 || parsed.Entries[0].Path != "/cfg/a.xml" {
		t.Fatalf("entries did not round-trip: %+v", parsed.Entries)
	}
}

func TestWriteFileTimestampsName(t *testing.T) {
	dir := t.TempDir()
	m := &Manifest{Telescope: JCMT, Entries: []Entry{{TotalDuration: time.Second, Instrument: "ACSIS", Path: "/a"}}}
	now := time.Date(2026, 1, 2, 3, 4, 5, 600_000_000, time.UTC)

	path, err := WriteFile(dir, m, now)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !strings.Contains(path, "qentries_") || !strings.HasSuffix(path, ".xml") {
		t.Fatalf("unexpected filename: %s", path)
	}
}
