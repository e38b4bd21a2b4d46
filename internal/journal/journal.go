// Package journal implements the pipeline flight recorder: a compact
// binary event log used for post-hoc latency and behavior analysis.
// Recording must never slow down or fail the pipeline.
package journal

// Journal is the interface pipeline stages use to record events.
// Pass nil or NoopJournal to disable recording.
type Journal interface {
	// Record stores a pipeline event. Implementations must be thread-safe
	// and must not block the caller.
	Record(event Event)
}

// NoopJournal discards all events. Use when the journal is disabled.
// NoopJournal is safe for concurrent use and usable as a zero value.
type NoopJournal struct{}

// Record discards the event.
func (NoopJournal) Record(Event) {}

// Compile-time interface satisfaction check.
var _ Journal = NoopJournal{}

// MultiJournal fans events out to several journals.
type MultiJournal []Journal

// Record forwards the event to every journal.
func (m MultiJournal) Record(event Event) {
	for _, j := range m {
		if j != nil {
			j.Record(event)
		}
	}
}

var _ Journal = MultiJournal{}
