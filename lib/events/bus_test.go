// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"
	"time"

	"github.com/KoreanThinker/openstaff-sub000/lib/clock"
	"github.com/KoreanThinker/openstaff-sub000/lib/staff"
)

func TestBusDeliversAndStamps(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	bus := NewBus(clock.Fake(now))
	subscription := bus.Subscribe(4)
	defer subscription.Close()

	bus.Publish(Event{
		Kind:    KindStatusChange,
		StaffID: "w1",
		Status:  &StatusChange{Status: staff.StatusRunning},
	})

	event := <-subscription.C
	if event.ID == "" {
		t.Error("event ID not assigned")
	}
	if !event.Time.Equal(now) {
		t.Errorf("Time = %v, want %v", event.Time, now)
	}
	if event.Status == nil || event.Status.Status != staff.StatusRunning {
		t.Errorf("Status = %+v, want running", event.Status)
	}
}

func TestBusKindFilter(t *testing.T) {
	t.Parallel()

	bus := NewBus(clock.Fake(time.Unix(0, 0)))
	giveups := bus.Subscribe(4, KindGiveup)
	defer giveups.Close()

	bus.Publish(Event{Kind: KindLogData, StaffID: "w1", Log: &LogData{Data: "hello"}})
	bus.Publish(Event{Kind: KindGiveup, StaffID: "w1", Giveup: &Giveup{}})

	event := <-giveups.C
	if event.Kind != KindGiveup {
		t.Errorf("Kind = %q, want giveup", event.Kind)
	}
	select {
	case extra := <-giveups.C:
		t.Errorf("unexpected event %q", extra.Kind)
	default:
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	t.Parallel()

	bus := NewBus(clock.Fake(time.Unix(0, 0)))
	subscription := bus.Subscribe(1)
	defer subscription.Close()

	for range 3 {
		bus.Publish(Event{Kind: KindLogData, StaffID: "w1"})
	}
	if got := subscription.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

func TestSubscriptionClose(t *testing.T) {
	t.Parallel()

	bus := NewBus(clock.Fake(time.Unix(0, 0)))
	subscription := bus.Subscribe(1)
	subscription.Close()
	subscription.Close()

	if _, ok := <-subscription.C; ok {
		t.Error("channel delivered after Close")
	}
	// Publishing after Close must not panic on the closed channel.
	bus.Publish(Event{Kind: KindLogData})
}
