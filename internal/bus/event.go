package bus

import "time"

// Event kinds published by the sync engine. Subscribers filter by namespace
// prefix, so "run." matches every run-scoped kind.
const (
	// KindRunCompleted carries a *sync.RunSummary after each cycle.
	KindRunCompleted = "run.completed"
	// KindIndexBatch carries a []store.IndexEntry of freshly mirrored text.
	KindIndexBatch = "index.batch"

	NamespaceRun   = "run."
	NamespaceIndex = "index."
)

// Event is one message on the bus. Payload holds the kind-specific value.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
