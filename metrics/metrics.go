// Package metrics is the observability hook the listener and orchestrator report into.
package metrics

import "time"

// Event names.
const (
	EventPaymentObserved        = "payment_observed"
	EventPaymentDiscarded       = "payment_discarded"
	EventRecordCreated          = "record_created"
	EventOrchestrationCompleted = "orchestration_completed"
	EventOrchestrationPartial   = "orchestration_partial"
	EventOrchestrationFailed    = "orchestration_failed"
	EventTaskPanicked           = "task_panicked"
	EventListenerReconnect      = "listener_reconnect"
	EventQueueFull              = "queue_full"
)

// Operation names for latency observations.
const (
	OpAttestation   = "attestation"
	OpExecution     = "execution"
	OpOrchestration = "orchestration"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
}
