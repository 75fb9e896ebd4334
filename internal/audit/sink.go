package audit

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ppiankov/incognito/internal/alert"
	"github.com/ppiankov/incognito/internal/metrics"
)

// DefaultQueueSize bounds the entries waiting for the journal writer.
const DefaultQueueSize = 256

// Sink journals every notice it receives. Entries are queued and written
// by a single goroutine, so a slow disk never stalls the guard that raised
// the notice. When the queue is full the entry is dropped and counted.
type Sink struct {
	log        *Log
	logger     zerolog.Logger
	configHash func() string
	metrics    *metrics.Metrics

	queue   chan Entry
	done    chan struct{}
	dropped atomic.Int64

	// mu guards closed and the close of queue against concurrent sends
	mu     sync.RWMutex
	closed bool
}

// NewSink wraps log and starts its writer. configHash, if non-nil, stamps
// each entry with the hash of the settings in force. Call Close before
// closing log.
func NewSink(log *Log, logger zerolog.Logger, configHash func() string, m *metrics.Metrics) *Sink {
	return newSink(log, logger, configHash, m, DefaultQueueSize)
}

func newSink(log *Log, logger zerolog.Logger, configHash func() string, m *metrics.Metrics, size int) *Sink {
	s := &Sink{
		log:        log,
		logger:     logger,
		configHash: configHash,
		metrics:    m,
		queue:      make(chan Entry, size),
		done:       make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Sink) Alert(sev alert.Severity, text string) {
	s.record(Entry{Kind: "alert", Severity: string(sev), Text: text})
}

func (s *Sink) Toast(sev alert.Severity, text string) {
	s.record(Entry{Kind: "toast", Severity: string(sev), Text: text})
}

func (s *Sink) LogDetection(category, detail string) {
	s.record(Entry{Kind: "detection", Category: category, Text: detail})
}

// Dropped returns how many entries were discarded because the writer fell
// behind or the sink was already closed.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Close stops accepting entries and waits until the queued ones are written.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Sink) record(e Entry) {
	e.ID = uuid.NewString()
	e.Timestamp = time.Now().UTC().Format(timeFormat)
	if s.configHash != nil {
		e.ConfigHash = s.configHash()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.drop(e)
		return
	}
	select {
	case s.queue <- e:
	default:
		s.drop(e)
	}
}

func (s *Sink) drop(e Entry) {
	s.dropped.Add(1)
	s.metrics.JournalEntryDropped()
	s.logger.Debug().Str("kind", e.Kind).Str("id", e.ID).Msg("journal entry dropped")
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.queue {
		if err := s.log.Record(e); err != nil {
			s.logger.Error().Err(err).Str("path", s.log.Path()).Msg("journal write failed")
		}
	}
}
