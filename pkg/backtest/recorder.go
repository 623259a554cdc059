package backtest

import "time"

// TickOutcome classifies what happened at one tick.
type TickOutcome string

const (
	OutcomeSample      TickOutcome = "sample"
	OutcomeNoWindow    TickOutcome = "no_window"
	OutcomeNoOutcome   TickOutcome = "no_outcome"
	OutcomeOracleError TickOutcome = "oracle_error"
)

// Recorder receives run telemetry. Implementations must be safe for
// concurrent use; ticks are recorded from worker goroutines.
type Recorder interface {
	RecordTick(outcome TickOutcome)
	RecordOracleLatency(d time.Duration)
	RecordRun(d time.Duration, samples int, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordTick(TickOutcome)             {}
func (nopRecorder) RecordOracleLatency(time.Duration)  {}
func (nopRecorder) RecordRun(time.Duration, int, error) {}
