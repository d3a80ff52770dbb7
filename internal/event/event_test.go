package event_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	joined := domain.EventPlayerJoined{SessionID: "s1", Player: domain.Player{PlayerID: "p1", Name: "Anna"}}
	scored := domain.EventScoreUpdated{SessionID: "s1", PlayerID: "p1", Delta: 1, NewScore: 1}
	ended := domain.EventSessionEnded{SessionID: "s1"}

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{joined, scored},
					subscribers: []subscriber{
						{name: "metrics", subscribeTo: []string{domain.EventNamePlayerJoined}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{joined}, out.received["metrics"])
			},
		},

		"a subscriber should receive every published event": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{scored, scored, scored},
					subscribers: []subscriber{
						{name: "metrics", subscribeTo: []string{domain.EventNameScoreUpdated}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{scored, scored, scored}, out.received["metrics"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{ended},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{domain.EventNameSessionEnded}},
						{name: "s2", subscribeTo: []string{domain.EventNameSessionEnded}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{ended}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{ended}, out.received["s2"])
			},
		},

		"multiple events should be dispatched correctly to multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{joined, scored, joined, ended},
					subscribers: []subscriber{
						{name: "s1", subscribeTo: []string{domain.EventNamePlayerJoined}},
						{name: "s2", subscribeTo: []string{domain.EventNamePlayerJoined, domain.EventNameScoreUpdated}},
						{name: "s3", subscribeTo: []string{domain.EventNameSessionEnded, domain.EventNameScoreUpdated}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{joined, joined}, out.received["s1"])
				assert.ElementsMatch(t, []event.Event{joined, joined, scored}, out.received["s2"])
				assert.ElementsMatch(t, []event.Event{scored, ended}, out.received["s3"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus(event.WithPoolSize(4))
			for _, s := range in.subscribers {
				s := s
				for _, e := range s.subscribeTo {
					b.Subscribe(e, s.name, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_FailingHandlersDoNotAffectOthers(t *testing.T) {
	var calls atomic.Int32

	b := event.NewBus(event.WithTimeout(time.Second))
	b.Subscribe(domain.EventNameSessionCreated, "panics", func(context.Context, event.Event) error {
		panic("boom")
	})
	b.Subscribe(domain.EventNameSessionCreated, "fails", func(context.Context, event.Event) error {
		return errors.New("boom")
	})
	b.Subscribe(domain.EventNameSessionCreated, "counts", func(context.Context, event.Event) error {
		calls.Add(1)
		return nil
	})

	b.Publish(context.Background(), domain.EventSessionCreated{SessionID: "s1", Code: "ABCDEF"})
	b.Stop()

	assert.EqualValues(t, 1, calls.Load())
}

type subscriber struct {
	name        string
	subscribeTo []string
}
