package worker

type JobWakePayload struct {
	JobID         string `json:"job_id"`
	ReceiptID     string `json:"receipt_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
