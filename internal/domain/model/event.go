package model

import "time"

type EventKind string

const (
	EventStageStart    EventKind = "stage_start"
	EventProgress      EventKind = "progress"
	EventStreamingText EventKind = "streaming_text"
	EventStageComplete EventKind = "stage_complete"
	EventComplete      EventKind = "complete"
	EventError         EventKind = "error"
)

// Event is a stage/progress notification for a single job. Delivery is
// best-effort and at-most-once per subscriber; anyone needing guaranteed
// state must poll the ledger instead.
type Event struct {
	JobID   string            `json:"job_id"`
	Kind    EventKind         `json:"kind"`
	Stage   Stage             `json:"stage,omitempty"`
	Percent int               `json:"percent,omitempty"`
	Message string            `json:"message,omitempty"`
	Text    string            `json:"text,omitempty"`
	Result  *ExtractionResult `json:"result,omitempty"`
	At      time.Time         `json:"at"`
}

// Terminal reports whether this event ends the stream for its job.
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

func StageStartEvent(jobID string, stage Stage) Event {
	return Event{JobID: jobID, Kind: EventStageStart, Stage: stage, At: time.Now()}
}

func ProgressEvent(jobID string, stage Stage, percent int, message string) Event {
	return Event{JobID: jobID, Kind: EventProgress, Stage: stage, Percent: percent, Message: message, At: time.Now()}
}

func StreamingTextEvent(jobID, text string) Event {
	return Event{JobID: jobID, Kind: EventStreamingText, Stage: StageExtraction, Text: text, At: time.Now()}
}

func StageCompleteEvent(jobID string, stage Stage) Event {
	return Event{JobID: jobID, Kind: EventStageComplete, Stage: stage, At: time.Now()}
}

func CompleteEvent(jobID string, result *ExtractionResult) Event {
	return Event{JobID: jobID, Kind: EventComplete, Stage: StageComplete, Percent: 100, Result: result, At: time.Now()}
}

func ErrorEvent(jobID string, stage Stage, message string) Event {
	return Event{JobID: jobID, Kind: EventError, Stage: stage, Message: message, At: time.Now()}
}
