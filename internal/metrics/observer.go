package metrics

// RetryObserver receives coordinator events.
type RetryObserver interface {
	RecordReport(outcome string)
	RecordRegistration(nodeType string)
	RecordQueueDrop()
	RecordAllocation(found bool)
	AddDeadLetters(n int)
	AddPurged(n int)
}

// Report outcomes.
const (
	ReportCreated = "created"
	ReportNoOp    = "noop"
	ReportFailed  = "failed"
)

// Nop discards every event.
type Nop struct{}

func (Nop) RecordReport(string)       {}
func (Nop) RecordRegistration(string) {}
func (Nop) RecordQueueDrop()          {}
func (Nop) RecordAllocation(bool)     {}
func (Nop) AddDeadLetters(int)        {}
func (Nop) AddPurged(int)             {}
