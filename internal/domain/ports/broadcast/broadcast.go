package broadcast

import (
	"context"

	"invoice-extraction-pipeline/internal/domain/model"
)

// Broadcaster fans stage events out to live subscribers of a per-job channel.
// Delivery is ordered per job, at-most-once per subscriber, best-effort: a
// slow or disconnected subscriber never blocks or fails the publisher. There
// is no replay; late subscribers fall back to the ledger for current state.
type Broadcaster interface {
	// Publish delivers the event to current subscribers of event.JobID. A
	// terminal event (complete/error) ends the stream for that job.
	Publish(ctx context.Context, event model.Event)

	// Subscribe attaches to a job's event stream. The returned channel is
	// closed after a terminal event or when cancel is called. Events emitted
	// before the subscription attached are not replayed.
	Subscribe(ctx context.Context, jobID string) (<-chan model.Event, func())
}
