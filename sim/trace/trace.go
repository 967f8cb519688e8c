package trace

import "sync"

// TraceLevel controls the verbosity of dispatch tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing.
	TraceLevelNone TraceLevel = "none"
	// TraceLevelJobs captures every job assignment and completion.
	TraceLevelJobs TraceLevel = "jobs"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone: true,
	TraceLevelJobs: true,
	"":             true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// DispatchTrace collects the assignment and completion records of one run.
// Completions may be recorded concurrently.
type DispatchTrace struct {
	Config TraceConfig

	mu          sync.Mutex
	Assignments []AssignmentRecord
	Completions []CompletionRecord
}

// NewDispatchTrace creates a DispatchTrace ready for recording.
func NewDispatchTrace(config TraceConfig) *DispatchTrace {
	return &DispatchTrace{
		Config:      config,
		Assignments: make([]AssignmentRecord, 0),
		Completions: make([]CompletionRecord, 0),
	}
}

// Enabled reports whether records are kept. Safe on a nil trace.
func (dt *DispatchTrace) Enabled() bool {
	return dt != nil && dt.Config.Level == TraceLevelJobs
}

// RecordAssignment appends a job placement record.
func (dt *DispatchTrace) RecordAssignment(record AssignmentRecord) {
	if !dt.Enabled() {
		return
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.Assignments = append(dt.Assignments, record)
}

// RecordCompletion appends a job completion record.
func (dt *DispatchTrace) RecordCompletion(record CompletionRecord) {
	if !dt.Enabled() {
		return
	}
	dt.mu.Lock()
	defer dt.mu.Unlock()
	dt.Completions = append(dt.Completions, record)
}
