package alert

import (
	"sync"

	"github.com/rs/zerolog"
)

// Severity grades a user-visible notice.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// Rank orders severities for filtering.
func (s Severity) Rank() int {
	switch s {
	case SeverityDanger:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Sink receives notices. Implementations must not block; the aggregator
// calls them on the hook path.
type Sink interface {
	Alert(sev Severity, text string)
	Toast(sev Severity, text string)
	LogDetection(category, detail string)
}

// Toggles gates each kind of output. Read on every emit so config reloads
// apply without rebuilding the aggregator.
type Toggles struct {
	Alerts        bool
	Toasts        bool
	LogDetections bool
}

// AllOn enables every output.
func AllOn() Toggles {
	return Toggles{Alerts: true, Toasts: true, LogDetections: true}
}

// safeCall runs fn and swallows a panic so a broken sink never reaches the host.
func safeCall(logger zerolog.Logger, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("sink_call", what).Interface("panic", r).Msg("alert sink panicked")
		}
	}()
	fn()
}

// LogSink writes every notice to a structured logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink returns a sink writing to logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Alert(sev Severity, text string) {
	s.logger.Warn().Str("kind", "alert").Str("severity", string(sev)).Msg(text)
}

func (s *LogSink) Toast(sev Severity, text string) {
	s.logger.Info().Str("kind", "toast").Str("severity", string(sev)).Msg(text)
}

func (s *LogSink) LogDetection(category, detail string) {
	s.logger.Warn().Str("kind", "detection").Str("category", category).Msg(detail)
}

// Notice is one recorded sink call.
type Notice struct {
	Kind     string // "alert", "toast" or "detection"
	Severity Severity
	Category string
	Text     string
}

// Recorder keeps every notice in memory. Used by the CLI to print a
// summary and by tests.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Alert(sev Severity, text string) {
	r.add(Notice{Kind: "alert", Severity: sev, Text: text})
}

func (r *Recorder) Toast(sev Severity, text string) {
	r.add(Notice{Kind: "toast", Severity: sev, Text: text})
}

func (r *Recorder) LogDetection(category, detail string) {
	r.add(Notice{Kind: "detection", Category: category, Text: detail})
}

func (r *Recorder) add(n Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, n)
	r.mu.Unlock()
}

// Notices returns a copy of everything recorded.
func (r *Recorder) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// Count returns how many notices of kind were recorded.
func (r *Recorder) Count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}
