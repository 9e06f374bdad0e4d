package events

// Topic constants for the engine's Kafka streams
const (
	// TopicInvocations carries the totally-ordered invocation stream into
	// stratad. The topic must have a single partition; partition order is
	// the engine's total order.
	TopicInvocations = "strata.invocations"

	// TopicEvents carries one record per engine state transition,
	// stratad -> archiverd and any external monitoring.
	TopicEvents = "strata.events"
)
