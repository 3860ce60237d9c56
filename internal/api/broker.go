package api

import (
	"sync"

	"fieldroute/internal/model"
)

// EventBroker fans plan progress out to stream subscribers, keyed by plan id.
type EventBroker interface {
	Subscribe(planID string) chan model.ProgressEvent
	Unsubscribe(planID string, ch chan model.ProgressEvent)
	Publish(planID string, evt model.ProgressEvent)
}

// Broker is the in-process EventBroker. Slow subscribers miss events rather
// than block the solver.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan model.ProgressEvent]struct{} // plan id -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan model.ProgressEvent]struct{}{}}
}

func (b *Broker) Subscribe(planID string) chan model.ProgressEvent {
	ch := make(chan model.ProgressEvent, 16)
	b.mu.Lock()
	if b.subs[planID] == nil {
		b.subs[planID] = map[chan model.ProgressEvent]struct{}{}
	}
	b.subs[planID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(planID string, ch chan model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.subs[planID]
	if _, ok := m[ch]; !ok {
		return
	}
	delete(m, ch)
	if len(m) == 0 {
		delete(b.subs, planID)
	}
	close(ch)
}

func (b *Broker) Publish(planID string, evt model.ProgressEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[planID] {
		select {
		case ch <- evt:
		default:
		}
	}
}
