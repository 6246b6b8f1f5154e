package events

import (
	"context"
	"sync"
)

// Publisher hands an envelope to the event bus. Delivery is asynchronous;
// an error means the event was not accepted at all.
type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }

type Published struct {
	Topic    string
	Envelope Envelope
}

// Recorder keeps published envelopes in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

func (r *Recorder) Publish(_ context.Context, topic string, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Topic: topic, Envelope: env})
	return nil
}

func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many envelopes of eventType were published.
func (r *Recorder) Count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Envelope.EventType == eventType {
			n++
		}
	}
	return n
}
