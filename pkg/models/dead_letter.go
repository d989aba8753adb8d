package models

// DeadLetterReason represents why a change event was dead-lettered
type DeadLetterReason string

const (
	// DeadLetterReasonMaxRetriesExceeded indicates the handler failed on every redelivery
	DeadLetterReasonMaxRetriesExceeded DeadLetterReason = "max_retries_exceeded"
	// DeadLetterReasonInvalidEvent indicates the event could not be decoded
	DeadLetterReasonInvalidEvent DeadLetterReason = "invalid_event"
	// DeadLetterReasonTimeout indicates the handler ran past its deadline
	DeadLetterReasonTimeout DeadLetterReason = "timeout"
	// DeadLetterReasonPanic indicates the handler panicked
	DeadLetterReasonPanic DeadLetterReason = "panic"
	// DeadLetterReasonUnknown indicates an unknown error
	DeadLetterReasonUnknown DeadLetterReason = "unknown"
)
