package config

const (
	// TopicReceiptJob is the NSQ topic for receipt-job wake-up events.
	// The job table is the source of truth; these events only prompt an
	// immediate poll instead of waiting for the next tick.
	TopicReceiptJob = "receipts.job"
)
