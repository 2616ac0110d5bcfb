package queue

import (
	"fmt"
	"strings"
	"time"
)

// EntityKind distinguishes the two concrete Entity variants so Contents.Replace
// can type-check a replacement without a live type switch at every call site.
type EntityKind string

const (
	KindInstrumentSequence EntityKind = "instrument-sequence"
	KindConfiguration      EntityKind = "configuration"
)

// Entity is the opaque, pre-translated observation artifact an Entry wraps.
// It is modeled as a sum type (design note §9) with two concrete
// implementations rather than a single struct, since the two telescopes'
// artifacts carry genuinely different shapes (an instrument sequence file
// vs. a TCS configuration document) behind the same queryable surface.
type Entity interface {
	Kind() EntityKind

	// Prepare resolves the entity to a dispatchable artifact identifier
	// (typically a path). A recoverable failure is returned as a
	// FailureReason with a nil error; an irrecoverable failure is a
	// non-nil error.
	Prepare() (artifact string, reason FailureReason, err error)

	Duration() time.Duration
	Telescope() string
	Instrument() string
	ObsMode() string
	ProjectID() string
	MSBID() string
	MSBTitle() string
	ObsLabel() string
	Waveband() string

	IsCal() bool
	IsGenericCal() bool
	IsScienceObs() bool
	IsMissingTarget() bool

	GetTarget() (Target, bool)
	SetTarget(Target)
	ClearTarget()

	TargetIsCurrentAz() bool
	TargetIsFollowingAz() bool

	SlewTrackTime() time.Duration
	SetSlewTrackTime(time.Duration)

	Summary() string
}

// baseEntity holds the fields shared by both concrete Entity variants.
type baseEntity struct {
	telescope  string
	instrument string
	obsMode    string
	projectID  string
	msbID      string
	msbTitle   string
	obsLabel   string
	waveband   string
	duration   time.Duration

	cal         bool
	genericCal  bool
	missingTgt  bool // entry was authored without a target and needs fixup

	target    *Target
	slewTrack time.Duration
}

func (e *baseEntity) Duration() time.Duration  { return e.duration }
func (e *baseEntity) Telescope() string        { return e.telescope }
func (e *baseEntity) Instrument() string       { return e.instrument }
func (e *baseEntity) ObsMode() string          { return e.obsMode }
func (e *baseEntity) ProjectID() string        { return e.projectID }
func (e *baseEntity) MSBID() string            { return e.msbID }
func (e *baseEntity) MSBTitle() string         { return e.msbTitle }
func (e *baseEntity) ObsLabel() string         { return e.obsLabel }
func (e *baseEntity) Waveband() string         { return e.waveband }
func (e *baseEntity) IsCal() bool              { return e.cal }
func (e *baseEntity) IsGenericCal() bool       { return e.genericCal }
func (e *baseEntity) IsScienceObs() bool       { return !e.cal && !e.genericCal }
func (e *baseEntity) IsMissingTarget() bool    { return e.missingTgt && e.target == nil }
func (e *baseEntity) SlewTrackTime() time.Duration { return e.slewTrack }
func (e *baseEntity) SetSlewTrackTime(d time.Duration) { e.slewTrack = d }

func (e *baseEntity) GetTarget() (Target, bool) {
	if e.target == nil {
		return Target{}, false
	}
	return *e.target, true
}

func (e *baseEntity) SetTarget(t Target) {
	tc := t
	e.target = &tc
}

func (e *baseEntity) ClearTarget() {
	e.target = nil
}

func (e *baseEntity) TargetIsCurrentAz() bool {
	return e.target != nil && e.target.CurrentAz
}

func (e *baseEntity) TargetIsFollowingAz() bool {
	return e.target != nil && e.target.FollowingAz
}

// EntityParams holds the fields shared by both concrete Entity variants,
// exported so callers outside this package (notably internal/manifest) can
// construct entities without reaching into unexported struct fields.
type EntityParams struct {
	Telescope  string
	Instrument string
	ObsMode    string
	ProjectID  string
	MSBID      string
	MSBTitle   string
	ObsLabel   string
	Waveband   string
	Duration   time.Duration

	Cal         bool
	GenericCal  bool
	MissingTarget bool
}

func (p EntityParams) toBase() baseEntity {
	return baseEntity{
		telescope:  p.Telescope,
		instrument: p.Instrument,
		obsMode:    p.ObsMode,
		projectID:  p.ProjectID,
		msbID:      p.MSBID,
		msbTitle:   p.MSBTitle,
		obsLabel:   p.ObsLabel,
		waveband:   p.Waveband,
		duration:   p.Duration,
		cal:        p.Cal,
		genericCal: p.GenericCal,
		missingTgt: p.MissingTarget,
	}
}

// InstrumentSequenceEntity is the JCMT-style artifact: an ACSIS/SCUBA-2
// sequence file referenced opaquely by path.
type InstrumentSequenceEntity struct {
	baseEntity
	SequenceFile string
}

// NewInstrumentSequenceEntity constructs a JCMT-style entity from a manifest
// entry: sequenceFile is the absolute path carried as the manifest Entry's
// text content.
func NewInstrumentSequenceEntity(params EntityParams, sequenceFile string) *InstrumentSequenceEntity {
	return &InstrumentSequenceEntity{baseEntity: params.toBase(), SequenceFile: sequenceFile}
}

func (e *InstrumentSequenceEntity) Kind() EntityKind { return KindInstrumentSequence }

func (e *InstrumentSequenceEntity) Prepare() (string, FailureReason, error) {
	if e.SequenceFile == "" {
		return "", nil, fmt.Errorf("instrument sequence entity %s has no sequence file", e.obsLabel)
	}
	if e.IsMissingTarget() {
		return "", MissingTargetReason{Entry: e.obsLabel}, nil
	}
	return e.SequenceFile, nil, nil
}

func (e *InstrumentSequenceEntity) Summary() string {
	return fmt.Sprintf("%s/%s %s %s", e.telescope, e.instrument, e.obsMode, strings.TrimSuffix(e.SequenceFile, "/"))
}

// ConfigurationEntity is the UKIRT-style artifact: a TCS/instrument XML
// configuration document.
type ConfigurationEntity struct {
	baseEntity
	ConfigFile string
}

// NewConfigurationEntity constructs a UKIRT-style entity from a manifest
// entry: configFile is the absolute path carried as the manifest Entry's
// text content.
func NewConfigurationEntity(params EntityParams, configFile string) *ConfigurationEntity {
	return &ConfigurationEntity{baseEntity: params.toBase(), ConfigFile: configFile}
}

func (e *ConfigurationEntity) Kind() EntityKind { return KindConfiguration }

func (e *ConfigurationEntity) Prepare() (string, FailureReason, error) {
	if e.ConfigFile == "" {
		return "", nil, fmt.Errorf("configuration entity %s has no config file", e.obsLabel)
	}
	if e.IsMissingTarget() {
		// UKIRT entities use the instrument-task "need next target" path:
		// the fixup may pull a target from arbitrarily far ahead, ignoring
		// MSB boundaries (§4.3).
		return "", NeedNextTargetReason{Entry: e.obsLabel}, nil
	}
	return e.ConfigFile, nil, nil
}

func (e *ConfigurationEntity) Summary() string {
	return fmt.Sprintf("%s/%s %s %s", e.telescope, e.instrument, e.obsMode, e.ConfigFile)
}
