package broadcast

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"invoice-extraction-pipeline/internal/domain/model"
	"invoice-extraction-pipeline/internal/domain/ports/broadcast"
	"invoice-extraction-pipeline/internal/infra/metrics"
)

var _ broadcast.Broadcaster = (*Hub)(nil)

const subscriberBuffer = 64

type subscriber struct {
	id string
	ch chan model.Event
}

// Hub is the in-process broadcaster: subscribers grouped by job id, sends
// are non-blocking (a full buffer drops the event for that subscriber only),
// and a terminal event closes every channel for the job. No history is kept;
// late subscribers must read the ledger for current state.
type Hub struct {
	mu   sync.RWMutex
	jobs map[string]map[string]*subscriber
	log  *zerolog.Logger
}

func NewHub(logger *zerolog.Logger) *Hub {
	l := logger.With().Str("component", "Hub").Logger()
	return &Hub{jobs: make(map[string]map[string]*subscriber), log: &l}
}

func (h *Hub) Publish(_ context.Context, event model.Event) {
	h.mu.Lock()
	subs := h.jobs[event.JobID]
	var closing []*subscriber
	for _, s := range subs {
		select {
		case s.ch <- event:
		default:
			// Slow consumer: drop, never block the worker.
			metrics.IncEventDropped()
		}
	}
	if event.Terminal() && subs != nil {
		for _, s := range subs {
			closing = append(closing, s)
		}
		delete(h.jobs, event.JobID)
	}
	h.mu.Unlock()

	metrics.IncEventPublished(string(event.Kind))
	for _, s := range closing {
		close(s.ch)
	}
}

func (h *Hub) Subscribe(_ context.Context, jobID string) (<-chan model.Event, func()) {
	s := &subscriber{id: uuid.NewString(), ch: make(chan model.Event, subscriberBuffer)}

	h.mu.Lock()
	if h.jobs[jobID] == nil {
		h.jobs[jobID] = make(map[string]*subscriber)
	}
	h.jobs[jobID][s.id] = s
	h.mu.Unlock()

	metrics.AddSubscribers(1)
	h.log.Debug().Str("job_id", jobID).Str("subscriber", s.id).Msg("subscriber attached")

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.jobs[jobID]; ok {
				if _, live := subs[s.id]; live {
					delete(subs, s.id)
					close(s.ch)
					if len(subs) == 0 {
						delete(h.jobs, jobID)
					}
				}
			}
			h.mu.Unlock()
			metrics.AddSubscribers(-1)
		})
	}
	return s.ch, cancel
}
