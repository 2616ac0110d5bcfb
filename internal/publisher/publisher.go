// Package publisher implements the parameter publisher (C8): it owns the
// observable-parameter state of §6 (STATUS, ALERT, INDEX, TIMEONQUEUE,
// CURRENT, Queue.Contents[], FAILURE.DETAILS, MSBCOMPLETED.<key>, and the
// good/error message streams), diffs every update against the previously
// published value, and republishes only genuine changes onto the event bus
// that backs the monitor WebSocket feed and the Prometheus gauges.
package publisher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/eaobservatory/ocsqueue/internal/events"
	"github.com/eaobservatory/ocsqueue/internal/queue"
)

// Config controls the publisher's fixed-width rendering of Queue.Contents[]
// (design note §9: "fixed per-cell string width, default 110").
type Config struct {
	CellWidth    int
	MaxSlots     int
	HistoryLimit int
}

// DefaultConfig matches the defaults named in spec.md's design notes.
func DefaultConfig() Config {
	return Config{CellWidth: 110, MaxSlots: 200, HistoryLimit: 200}
}

// FailureDetails is the FAILURE.DETAILS record (§6). The AZ/EL/REFNAME/
// FOLLOWING/CAL fields are optional per the table ("AZ?" etc.) since a
// MissingTarget failure that found nothing forward or backward leaves them
// unset.
type FailureDetails struct {
	Reason     string
	Index      int
	Mode       string
	Waveband   string
	Instrument string
	Telescope  string
	Time       time.Time

	HasTarget bool
	Az        float64
	El        float64
	RefName   string
	Following bool
	Cal       bool
	Entry     string
}

// MSBCompletedRecord is one MSBCOMPLETED.<key> row (§6).
type MSBCompletedRecord struct {
	ProjectID     string
	MSBID         string
	TransactionID string
	MSBTitle      string
	QueueID       uint64
	Timestamp     int64
}

// Message is one good-stream or error-stream line, UTC-timestamped (§6).
type Message struct {
	Time time.Time
	Text string
}

// Publisher holds the server's published state and republishes diffs.
type Publisher struct {
	mu     sync.Mutex
	bus    *events.Bus
	logger *slog.Logger
	cfg    Config

	status      string
	alert       int
	index       int
	timeOnQueue int64
	current     string
	contents    []string
	failure     *FailureDetails

	msbCompleted map[string]MSBCompletedRecord

	goodStream  []Message
	errorStream []Message

	metrics *metricsSet
}

// New constructs a Publisher. bus may be nil (events are then simply
// dropped, matching events.Bus's own nil-safety).
func New(bus *events.Bus, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CellWidth <= 0 {
		cfg.CellWidth = 110
	}
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 200
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 200
	}
	return &Publisher{
		bus:          bus,
		logger:       logger,
		cfg:          cfg,
		status:       "Stopped",
		msbCompleted: make(map[string]MSBCompletedRecord),
		metrics:      newMetricsSet(),
	}
}

// SetStatus publishes STATUS ("Running"/"Stopped") if it changed.
func (p *Publisher) SetStatus(running bool) {
	status := "Stopped"
	if running {
		status = "Running"
	}

	p.mu.Lock()
	changed := p.status != status
	p.status = status
	p.mu.Unlock()

	p.metrics.running.Set(boolToFloat(running))
	if changed {
		p.publish(events.SourceServer, events.KindStatus, map[string]any{"status": status})
	}
}

// SetAlert publishes ALERT (0 none, 1 backend error, 2 empty) if it changed.
func (p *Publisher) SetAlert(code int) {
	p.mu.Lock()
	changed := p.alert != code
	p.alert = code
	p.mu.Unlock()

	p.metrics.alert.Set(float64(code))
	if changed {
		p.publish(events.SourceServer, events.KindAlert, map[string]any{"code": code})
	}
}

// SetIndex publishes INDEX (current highlight) if it changed.
func (p *Publisher) SetIndex(index int) {
	p.mu.Lock()
	changed := p.index != index
	p.index = index
	p.mu.Unlock()

	p.metrics.index.Set(float64(index))
	if changed {
		p.publish(events.SourceQueue, events.KindIndex, map[string]any{"index": index})
	}
}

// SetTimeOnQueue publishes TIMEONQUEUE (minutes remaining) if it changed.
func (p *Publisher) SetTimeOnQueue(seconds int64) {
	minutes := seconds / 60

	p.mu.Lock()
	changed := p.timeOnQueue != minutes
	p.timeOnQueue = minutes
	p.mu.Unlock()

	p.metrics.timeOnQueue.Set(float64(minutes))
	if changed {
		now := time.Now()
		p.logger.Info("time on queue changed", "minutes", minutes, "remaining", humanize.RelTime(now, now.Add(time.Duration(seconds)*time.Second), "ago", "remaining"))
		p.publish(events.SourceQueue, events.KindTimeOnQueue, map[string]any{"minutes": minutes})
	}
}

// SetCurrent publishes CURRENT (summary of the last-sent entry, or "None")
// if it changed.
func (p *Publisher) SetCurrent(summary string) {
	if summary == "" {
		summary = "None"
	}

	p.mu.Lock()
	changed := p.current != summary
	p.current = summary
	p.mu.Unlock()

	if changed {
		p.publish(events.SourceQueue, events.KindCurrent, map[string]any{"summary": summary})
	}
}

// SetContents truncates each line to the configured cell width, caps the
// slot count, and publishes Queue.Contents[] if it changed.
func (p *Publisher) SetContents(lines []string) {
	truncated := make([]string, 0, len(lines))
	for i, l := range lines {
		if i >= p.cfg.MaxSlots {
			p.logger.Warn("queue contents exceed published slot limit, truncating", "slots", p.cfg.MaxSlots, "entries", len(lines))
			break
		}
		truncated = append(truncated, queue.TruncateCell(l, p.cfg.CellWidth))
	}

	p.mu.Lock()
	changed := !stringsEqual(p.contents, truncated)
	p.contents = truncated
	p.mu.Unlock()

	p.metrics.contentsLen.Set(float64(len(truncated)))
	if changed {
		p.publish(events.SourceQueue, events.KindContents, map[string]any{"lines": truncated})
	}
}

// SetFailure publishes FAILURE.DETAILS.
func (p *Publisher) SetFailure(d FailureDetails) {
	p.mu.Lock()
	p.failure = &d
	p.mu.Unlock()

	p.metrics.failures.Inc()
	p.publish(events.SourceBackend, events.KindFailure, map[string]any{
		"reason": d.Reason, "index": d.Index, "mode": d.Mode, "waveband": d.Waveband,
		"instrument": d.Instrument, "telescope": d.Telescope, "time": d.Time,
		"az": d.Az, "el": d.El, "refname": d.RefName, "following": d.Following,
		"cal": d.Cal, "entry": d.Entry, "has_target": d.HasTarget,
	})
}

// ClearFailure clears FAILURE.DETAILS, e.g. on START (§4.4).
func (p *Publisher) ClearFailure() {
	p.mu.Lock()
	p.failure = nil
	p.mu.Unlock()
}

// SetMSBCompleted publishes a new MSBCOMPLETED.<key> record.
func (p *Publisher) SetMSBCompleted(key string, rec MSBCompletedRecord) {
	p.mu.Lock()
	p.msbCompleted[key] = rec
	p.mu.Unlock()

	p.metrics.pendingAccepts.Set(float64(p.pendingCount()))
	p.publish(events.SourceMSBComplete, events.KindMSBCompleted, map[string]any{
		"key": key, "projectid": rec.ProjectID, "msbid": rec.MSBID,
		"msbtid": rec.TransactionID, "msbtitle": rec.MSBTitle,
		"queueid": rec.QueueID, "timestamp": rec.Timestamp, "cleared": false,
	})
}

// ClearMSBCompleted removes a decided MSBCOMPLETED.<key> record.
func (p *Publisher) ClearMSBCompleted(key string) {
	p.mu.Lock()
	delete(p.msbCompleted, key)
	p.mu.Unlock()

	p.metrics.pendingAccepts.Set(float64(p.pendingCount()))
	p.publish(events.SourceMSBComplete, events.KindMSBCompleted, map[string]any{"key": key, "cleared": true})
}

func (p *Publisher) pendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msbCompleted)
}

// Good appends a line to the good-stream, UTC HH:MM:SS-prefixed (§6).
func (p *Publisher) Good(text string) {
	p.appendMessage("good", text)
}

// Error appends a line to the error-stream, UTC HH:MM:SS-prefixed (§6).
func (p *Publisher) Error(text string) {
	p.appendMessage("error", text)
}

func (p *Publisher) appendMessage(stream, text string) {
	now := time.Now().UTC()
	msg := Message{Time: now, Text: text}

	p.mu.Lock()
	if stream == "good" {
		p.goodStream = appendBounded(p.goodStream, msg, p.cfg.HistoryLimit)
	} else {
		p.errorStream = appendBounded(p.errorStream, msg, p.cfg.HistoryLimit)
		p.metrics.errors.Inc()
	}
	p.mu.Unlock()

	p.publish(events.SourceBackend, events.KindMessage, map[string]any{
		"stream": stream, "text": text, "ts": now.Format("15:04:05"),
	})
}

func (p *Publisher) publish(source, kind string, data map[string]any) {
	p.bus.Publish(events.Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

func appendBounded(stream []Message, msg Message, limit int) []Message {
	stream = append(stream, msg)
	if len(stream) > limit {
		stream = stream[len(stream)-limit:]
	}
	return stream
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
