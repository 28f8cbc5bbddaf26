package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/broadcast"
	"invoice-extraction-pipeline/internal/infra/metrics"
)

var _ broadcast.Broadcaster = (*EventTransport)(nil)

// EventTransport carries job events over redis pub/sub so subscribers in
// other processes can attach. Same contract as the in-process hub:
// best-effort, at-most-once, no replay.
type EventTransport struct {
	client *Client
	log    *zerolog.Logger
}

func NewEventTransport(client *Client, logger *zerolog.Logger) *EventTransport {
	l := logger.With().Str("component", "EventTransport").Logger()
	return &EventTransport{client: client, log: &l}
}

func eventChannel(jobID string) string {
	return fmt.Sprintf("job:events:%s", jobID)
}

func (t *EventTransport) Publish(ctx context.Context, event model.Event) {
	b, err := json.Marshal(event)
	if err != nil {
		t.log.Error().Err(err).Str("job_id", event.JobID).Msg("encode event")
		return
	}
	// Subscriber absence or broker hiccups never fail the publish call.
	if err := t.client.Publish(ctx, eventChannel(event.JobID), b); err != nil {
		t.log.Warn().Err(err).Str("job_id", event.JobID).Msg("publish event")
		return
	}
	metrics.IncEventPublished(string(event.Kind))
}

func (t *EventTransport) Subscribe(ctx context.Context, jobID string) (<-chan model.Event, func()) {
	sub := t.client.Subscribe(ctx, eventChannel(jobID))
	out := make(chan model.Event, 64)
	done := make(chan struct{})

	metrics.AddSubscribers(1)
	go func() {
		defer close(out)
		defer metrics.AddSubscribers(-1)
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev model.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					t.log.Warn().Err(err).Str("job_id", jobID).Msg("decode event")
					continue
				}
				select {
				case out <- ev:
				default:
					metrics.IncEventDropped()
				}
				if ev.Terminal() {
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return out, cancel
}
