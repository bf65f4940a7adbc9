// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
)

// Bus fans published events out to subscriptions. Publish never
// blocks: a subscription whose buffer is full loses the event and
// counts the drop.
type Bus struct {
	clock clock.Clock

	mu            sync.Mutex
	subscriptions map[*Subscription]struct{}
}

// NewBus returns a Bus stamping events with clk.
func NewBus(clk clock.Clock) *Bus {
	return &Bus{
		clock:         clk,
		subscriptions: make(map[*Subscription]struct{}),
	}
}

// Publish assigns ID and Time when unset and delivers event to every
// matching subscription.
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Time.IsZero() {
		event.Time = b.clock.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for subscription := range b.subscriptions {
		if !subscription.wants(event.Kind) {
			continue
		}
		select {
		case subscription.channel <- event:
		default:
			subscription.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscription with the given buffer. With no
// kinds every event is delivered.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) *Subscription {
	channel := make(chan Event, buffer)
	subscription := &Subscription{C: channel, channel: channel, bus: b}
	if len(kinds) > 0 {
		subscription.kinds = make(map[Kind]struct{}, len(kinds))
		for _, kind := range kinds {
			subscription.kinds[kind] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subscriptions[subscription] = struct{}{}
	b.mu.Unlock()
	return subscription
}

// Subscription receives events on C until Close.
type Subscription struct {
	// C delivers events. It is closed by Close.
	C <-chan Event

	channel chan Event
	kinds   map[Kind]struct{}
	bus     *Bus
	dropped atomic.Uint64
}

// Close unregisters the subscription and closes C. Safe to call more
// than once.
func (s *Subscription) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, registered := s.bus.subscriptions[s]; !registered {
		return
	}
	delete(s.bus.subscriptions, s)
	close(s.channel)
}

// Dropped returns how many events were lost to a full buffer.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(kind Kind) bool {
	if s.kinds == nil {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}
