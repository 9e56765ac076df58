package interp

// PipelineStageEntry is an executable reference plus static args, the
// atomic unit of a pipeline stage (§3.6).
type PipelineStageEntry struct {
	ExecutableName string
	StaticArgs     []any
	AsFormat       string
	Hint           string
	Retry          *RetryConfig
}

// PipelineStage is either a single PipelineStageEntry or an array of
// entries executed as a parallel group (§3.6, §6 "`||` groups siblings
// into a parallel stage").
type PipelineStage struct {
	Entries    []PipelineStageEntry
	IsParallel bool
}

// RetryConfig controls a pipeline stage's retry backoff behavior
// (supplemented feature 1, grounded on runtime/executor.go's
// computeDelay / components.go's RetryConfig).
type RetryConfig struct {
	MaxAttempts int
	DelayMillis int    // base delay in ms
	Backoff     string // "none" | "linear" | "exponential"
	MaxDelay    int    // ms; 0 = no cap
	Jitter      bool
}

// ParallelStageError reports one branch's failure within a parallel
// stage, keyed by its positional index and optional key (§4.8
// "Ordering").
type ParallelStageError struct {
	Index int
	Key   string
	Err   error
}

func (e *ParallelStageError) Error() string {
	if e.Key != "" {
		return e.Key + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

// ParallelStageErrors collects every branch failure of a parallel stage
// into a single raised error (§7 "parallel branch errors collected into
// a single raised error").
type ParallelStageErrors []*ParallelStageError

func (es ParallelStageErrors) Error() string {
	msg := "parallel stage failures:"
	for _, e := range es {
		msg += " [" + e.Error() + "]"
	}
	return msg
}
