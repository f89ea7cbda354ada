package models

// QueueEvent types emitted by the Coordinator's worker loop (spec §3
// "QueueEvent", the full enumeration). These trace a single queue entry's
// state-machine path and are authoritative by insertion rowid (spec §4.4
// "Event ordering").
const (
	EventAdded            QueueEventType = "Added"
	EventClaimed          QueueEventType = "Claimed"
	EventRebaseStarted    QueueEventType = "RebaseStarted"
	EventRebaseCompleted  QueueEventType = "RebaseCompleted"
	EventFreshnessChecked QueueEventType = "FreshnessChecked"
	EventFreshnessFailed  QueueEventType = "FreshnessFailed"
	EventMergeStarted     QueueEventType = "MergeStarted"
	EventMergeCompleted   QueueEventType = "MergeCompleted"
	EventMergeFailed      QueueEventType = "MergeFailed"
	EventCancelled        QueueEventType = "Cancelled"
	EventRetried          QueueEventType = "Retried"
	EventReleased         QueueEventType = "Released"
)
