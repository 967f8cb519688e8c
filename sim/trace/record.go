// Package trace records how a run's jobs were dispatched and how they ended.
// This package has no dependencies on sim/ and stores pure data types.
package trace

import "time"

// AssignmentRecord captures the placement of one job.
type AssignmentRecord struct {
	JobID         string
	NodeID        string
	Blocks        int
	Iterations    int
	ColocatedJobs int
}

// CompletionRecord captures the summary a job reported when it ended.
type CompletionRecord struct {
	JobID      string
	NodeID     string
	Iterations int
	Messages   int
	Duration   time.Duration
	Failed     bool
}
