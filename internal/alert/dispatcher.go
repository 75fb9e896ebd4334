package alert

import "github.com/rs/zerolog"

// Dispatcher fans every notice out to a set of sinks. A panicking sink is
// isolated from the others.
type Dispatcher struct {
	sinks  []Sink
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher. Nil sinks are skipped.
func NewDispatcher(logger zerolog.Logger, sinks ...Sink) *Dispatcher {
	d := &Dispatcher{logger: logger}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

// Add appends a sink.
func (d *Dispatcher) Add(s Sink) {
	if s != nil {
		d.sinks = append(d.sinks, s)
	}
}

func (d *Dispatcher) Alert(sev Severity, text string) {
	for _, s := range d.sinks {
		safeCall(d.logger, "alert", func() { s.Alert(sev, text) })
	}
}

func (d *Dispatcher) Toast(sev Severity, text string) {
	for _, s := range d.sinks {
		safeCall(d.logger, "toast", func() { s.Toast(sev, text) })
	}
}

func (d *Dispatcher) LogDetection(category, detail string) {
	for _, s := range d.sinks {
		safeCall(d.logger, "detection", func() { s.LogDetection(category, detail) })
	}
}
