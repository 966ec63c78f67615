package analyzer

import "time"

// Outcome classifies how a frame left the analyzer.
type Outcome int

const (
	OutcomeDecoded Outcome = iota
	OutcomeMiss
	// OutcomeSkipped marks frames released before a scan target was known.
	OutcomeSkipped
	OutcomeMalformed
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecoded:
		return "decoded"
	case OutcomeMiss:
		return "miss"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeMalformed:
		return "malformed"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Observer receives one call per analyzed frame. decode is zero when no
// decode was attempted.
type Observer interface {
	Observe(outcome Outcome, decode time.Duration)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Outcome, time.Duration)

func (f ObserverFunc) Observe(o Outcome, d time.Duration) { f(o, d) }

type nopObserver struct{}

func (nopObserver) Observe(Outcome, time.Duration) {}
