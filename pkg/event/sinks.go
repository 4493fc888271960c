package event

import "github.com/go-logr/logr"

// LogSink adapts a logr.Logger (typically constructed from zap via
// zapr.NewLogger) into a Sink. Each event is logged at "info" with its
// fields flattened as key/value pairs, except ErrorOccurred events,
// which are logged through Error.
type LogSink struct {
	Log logr.Logger
}

func NewLogSink(log logr.Logger) *LogSink {
	return &LogSink{Log: log}
}

func (s *LogSink) Emit(e Event) {
	log := s.Log.WithValues(
		"kind", string(e.Kind),
		"studyID", e.StudyID,
		"timestamp", e.Timestamp,
	)
	if e.TrialID != "" {
		log = log.WithValues("trialID", e.TrialID, "trialIndex", e.TrialIndex)
	}
	if e.HasScore {
		log = log.WithValues("score", e.Score)
	}
	if e.Message != "" {
		log = log.WithValues("message", e.Message)
	}
	if e.Kind == ErrorOccurred {
		log.Error(nil, e.Message)
		return
	}
	log.Info(string(e.Kind))
}

// ChanSink pushes events onto a buffered channel; useful for test
// harnesses that want to assert on the emitted sequence. Emit drops
// events rather than block once the channel is full, since a slow test
// consumer must never stall the coordinator's hot path.
type ChanSink struct {
	C chan Event
}

// NewChanSink allocates a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan Event, buffer)}
}

func (s *ChanSink) Emit(e Event) {
	select {
	case s.C <- e:
	default:
	}
}

// MultiSink fans one event out to several sinks, letting the coordinator
// be constructed with e.g. a LogSink plus a Prometheus sink plus a test
// ChanSink behind a single Sink value.
type MultiSink struct {
	Sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

func (m *MultiSink) Emit(e Event) {
	for _, s := range m.Sinks {
		s.Emit(e)
	}
}
