package pipeline

// Stage represents a step in the receipt-processing pipeline.
type Stage string

const (
	StageVerifyingUpload Stage = "verifying_upload"
	StageExtractingText  Stage = "extracting_text"
	StageParsingAI       Stage = "parsing_ai"
	StageUpdatingRecords Stage = "updating_records"
	StageCompleted       Stage = "completed"
	StageFailed          Stage = "failed"
)

// Status represents the scheduling state of a job, orthogonal to its stage.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var successPath = map[Stage]Stage{
	StageVerifyingUpload: StageExtractingText,
	StageExtractingText:  StageParsingAI,
	StageParsingAI:       StageUpdatingRecords,
	StageUpdatingRecords: StageCompleted,
}

// Next returns the stage a job moves to after executing current.
// Terminal stages absorb: Next on completed or failed returns the same
// stage. An unrecognized stage maps to verifying_upload so a job with a
// corrupted stage column restarts from the beginning instead of being
// buried. When failed is true the result is StageFailed regardless of
// the current stage.
func Next(current Stage, failed bool) Stage {
	if current == StageCompleted || current == StageFailed {
		return current
	}
	if failed {
		return StageFailed
	}
	next, ok := successPath[current]
	if !ok {
		return StageVerifyingUpload
	}
	return next
}

// IsTerminal reports whether no further lease may be taken on a job in
// the given stage.
func IsTerminal(s Stage) bool {
	return s == StageCompleted || s == StageFailed
}
