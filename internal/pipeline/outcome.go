package pipeline

// Outcome accumulates the accepted records and run-level counters for one
// crawl target. Built incrementally by the orchestrator and finalized
// when the loop terminates.
type Outcome struct {
	Target   string
	Accepted []Record

	PagesVisited       int
	PagesFailed        int
	CandidatesSeen     int
	RejectedIncomplete int
	RejectedDuplicate  int
	ExtractionFailures int

	// Fatal records the condition that stopped the run early, if any.
	// Partial results streamed to the sink before the failure remain
	// valid.
	Fatal error
}

// AcceptedCount returns the number of accepted records.
func (o *Outcome) AcceptedCount() int {
	return len(o.Accepted)
}
