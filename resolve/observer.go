package resolve

import "time"

// LibraryObservation captures the outcome of one library group.
type LibraryObservation struct {
	RunID     string
	Library   string
	Entries   int
	Resolved  int
	Skipped   int
	Available bool
	TimedOut  bool
	Started   time.Time
	Duration  time.Duration
}

// RunObservation captures the outcome of a whole resolution run.
type RunObservation struct {
	RunID     string
	Libraries int
	Entries   int
	Resolved  int
	Skipped   int
	ByReason  map[Reason]int
	// Cancelled is set when the caller's context ended the run; no result
	// was produced and the counts are zero.
	Cancelled bool
	Started   time.Time
	Duration  time.Duration
}

// Observer receives resolution events. ObserveLibrary is called from
// concurrent workers and must be safe for concurrent use. Every
// ObserveLibrary for a run happens before that run's single ObserveRun.
type Observer interface {
	ObserveLibrary(observation LibraryObservation)
	ObserveRun(observation RunObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveLibrary(LibraryObservation) {}
func (noopObserver) ObserveRun(RunObservation)         {}
